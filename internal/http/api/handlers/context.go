package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PromptLedger/internal/models"
)

// Context keys set by the bearer auth middleware.
const (
	ContextKeyUserID = "userID"
	ContextKeyUser   = "user"
)

// SetCurrentUser stores the authenticated user on the request context.
func SetCurrentUser(c *gin.Context, user *models.User) {
	c.Set(ContextKeyUserID, user.ID)
	c.Set(ContextKeyUser, user)
}

// CurrentUser returns the authenticated user, if any.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}

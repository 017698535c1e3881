package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PromptLedger/internal/cache"
	dbutil "github.com/router-for-me/PromptLedger/internal/db"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler serves liveness endpoints.
type HealthHandler struct {
	db    *gorm.DB
	cache *cache.Probe
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB, probe *cache.Probe) *HealthHandler {
	return &HealthHandler{db: db, cache: probe}
}

// Root returns the welcome message.
func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Welcome to the OpenAI Request Wrapper Service!"})
}

// Health reports process liveness plus database and cache reachability.
func (h *HealthHandler) Health(c *gin.Context) {
	database := "OK"
	if errPing := dbutil.Ping(h.db); errPing != nil {
		log.WithError(errPing).Warn("health: database ping failed")
		database = "unavailable"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "OK",
		"database": database,
		"cache":    h.cache.Check(c.Request.Context()),
	})
}

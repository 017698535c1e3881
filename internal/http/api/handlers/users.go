package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PromptLedger/internal/security"
	"github.com/router-for-me/PromptLedger/internal/users"
	log "github.com/sirupsen/logrus"
)

// UserHandler serves registration, login and profile endpoints.
type UserHandler struct {
	directory *users.Directory
	tokens    *security.TokenService
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(directory *users.Directory, tokens *security.TokenService) *UserHandler {
	return &UserHandler{directory: directory, tokens: tokens}
}

// registerRequest defines the request body for registration.
type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=20"`
	Email    string `json:"email" binding:"required,contains=@,contains=."`
	Password string `json:"password" binding:"required,min=8,maxbytes=72"`
}

func (r *registerRequest) normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
}

// loginRequest defines the request body for login.
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (r *loginRequest) normalize() {
	r.Username = strings.TrimSpace(r.Username)
}

// Register creates a new user account.
func (h *UserHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := bindJSON(c, &body); errBind != nil {
		abortValidation(c, errBind)
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errors.Is(errHash, security.ErrPasswordTooLong) {
		abortFieldErrors(c, []fieldError{{Field: "password", Message: "must be at most 72 bytes"}})
		return
	}
	if errHash != nil {
		log.WithError(errHash).Error("hash password failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	user, errRegister := h.directory.Register(c.Request.Context(), body.Username, body.Email, hash)
	if errRegister != nil {
		if errors.Is(errRegister, users.ErrConflict) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Username or email already exists."})
			return
		}
		log.WithError(errRegister).WithField("username", body.Username).Error("register user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "User registered successfully!",
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

// Login verifies credentials and issues a bearer token.
func (h *UserHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := bindJSON(c, &body); errBind != nil {
		abortValidation(c, errBind)
		return
	}

	user, errFind := h.directory.FindByUsername(c.Request.Context(), body.Username)
	if errFind != nil {
		log.WithError(errFind).Error("load user for login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if user == nil || !security.CheckPassword(user.HashedPassword, body.Password) {
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect username or password."})
		return
	}

	token, errIssue := h.tokens.Issue(user.ID, 0)
	if errIssue != nil {
		log.WithError(errIssue).WithField("user_id", user.ID).Error("issue token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int64(h.tokens.TTL().Seconds()),
	})
}

// Me returns the authenticated user's profile.
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"username": user.Username,
		"email":    user.Email,
	})
}

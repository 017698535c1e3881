package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PromptLedger/internal/cache"
	"github.com/router-for-me/PromptLedger/internal/http/api/handlers"
	"github.com/router-for-me/PromptLedger/internal/ledger"
	"github.com/router-for-me/PromptLedger/internal/metrics"
	"github.com/router-for-me/PromptLedger/internal/security"
	"github.com/router-for-me/PromptLedger/internal/users"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dependencies holds the collaborators the routes are wired to.
type Dependencies struct {
	DB           *gorm.DB
	Tokens       *security.TokenService
	Directory    *users.Directory
	Ledger       *ledger.Ledger
	Completer    handlers.Completer
	Cache        *cache.Probe
	Metrics      *metrics.Metrics
	AllowOrigins []string
}

// NewEngine builds a gin engine with the middleware stack and every route registered.
func NewEngine(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(requestIDMiddleware())
	r.Use(processTimeMiddleware())
	r.Use(accessLogMiddleware())
	r.Use(recoveryMiddleware())

	allowOrigins := deps.AllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:  []string{"*"},
		ExposeHeaders: []string{requestIDHeader, processTimeHeader},
	}))

	if deps.Metrics != nil {
		r.Use(deps.Metrics.TrackMetrics())
	}

	RegisterRoutes(r, deps)
	return r
}

// RegisterRoutes registers public and bearer-protected routes.
func RegisterRoutes(r *gin.Engine, deps Dependencies) {
	if r == nil {
		return
	}
	handlers.RegisterValidators()

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Cache)
	r.GET("/", healthHandler.Root)
	r.GET("/health", healthHandler.Health)

	authed := userAuthMiddleware(deps.Tokens, deps.Directory)

	userHandler := handlers.NewUserHandler(deps.Directory, deps.Tokens)
	usersGroup := r.Group("/users")
	usersGroup.POST("/register", userHandler.Register)
	usersGroup.POST("/login", userHandler.Login)
	usersGroup.GET("/me", authed, userHandler.Me)

	requestHandler := handlers.NewRequestHandler(deps.Ledger, deps.Completer)
	requestsGroup := r.Group("/requests")
	requestsGroup.Use(authed)
	requestsGroup.POST("/create", requestHandler.Create)
	requestsGroup.GET("", requestHandler.List)
	requestsGroup.GET("/:id", requestHandler.Get)
}

// userAuthMiddleware validates bearer tokens and loads the user into the context.
func userAuthMiddleware(tokens *security.TokenService, directory *users.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			abortUnauthorized(c, "invalid authorization format")
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			abortUnauthorized(c, "empty token")
			return
		}

		userID, errVerify := tokens.Verify(token)
		if errVerify != nil {
			if errors.Is(errVerify, security.ErrTokenExpired) {
				log.WithField("path", c.Request.URL.Path).Info("rejected expired bearer token")
			} else {
				log.WithError(errVerify).WithField("path", c.Request.URL.Path).Debug("rejected bearer token")
			}
			abortUnauthorized(c, "invalid token")
			return
		}

		user, errFind := directory.FindByID(c.Request.Context(), userID)
		if errFind != nil {
			log.WithError(errFind).WithField("user_id", userID).Error("load user for token failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if user == nil {
			abortUnauthorized(c, "user not found")
			return
		}

		handlers.SetCurrentUser(c, user)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

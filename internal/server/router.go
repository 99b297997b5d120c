package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/credentials"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/providers"
	"github.com/alexedwards/scs/v2"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "identity_user_id"

var (
	errMissingOrchestrator  = errors.New("orchestrator dependency required")
	errMissingRegistry      = errors.New("provider registry dependency required")
	errMissingValidator     = errors.New("validator dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUserDirectory = errors.New("user directory dependency required")
	errMissingSessions      = errors.New("session manager dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens for signed-in users.
type TokenManager interface {
	IssueAccessToken(ctx context.Context, user credentials.User) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// UserDirectory resolves users by id.
type UserDirectory interface {
	FindUserByID(ctx context.Context, userID string) (*credentials.User, error)
}

// Dependencies describes the collaborators of the HTTP surface.
type Dependencies struct {
	Orchestrator   *auth.Orchestrator
	Registry       *providers.Registry
	Validator      *auth.Validator
	TokenManager   TokenManager
	Users          UserDirectory
	Sessions       *scs.SessionManager
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler wires the authentication routes. The returned handler loads and saves the
// session around every request.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Orchestrator == nil {
		return nil, errMissingOrchestrator
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))
	router.SetHTMLTemplate(pageTemplate)

	handler := &httpHandler{
		orchestrator: deps.Orchestrator,
		registry:     deps.Registry,
		validator:    deps.Validator,
		tokens:       deps.TokenManager,
		users:        deps.Users,
		sessions:     deps.Sessions,
		logger:       logger,
	}

	authGroup := router.Group("/auth")

	delegated := authGroup.Group("/:type")
	delegated.Use(handler.requireKnownProvider)
	delegated.GET("/login", handler.handleDelegatedLogin)
	delegated.POST("/login", handler.handleDelegatedLogin)
	delegated.GET("/callback", handler.handleDelegatedCallback)
	delegated.GET("/failure", handler.handleDelegatedFailure)

	authGroup.GET("/email", handler.requireProfileInFlight, handler.handleEmailForm)
	authGroup.POST("/email", handler.requireProfileInFlight, handler.handleEmailSubmit)

	authGroup.GET("/register", handler.handleRegisterForm)
	authGroup.POST("/register", handler.requireRegistrationShape, handler.handleRegister)
	authGroup.GET("/login", handler.handleLoginForm)
	authGroup.POST("/login", handler.requireCredentialShape, handler.handleLogin)
	authGroup.POST("/logout", handler.handleLogout)

	authGroup.GET("/finish", handler.handleFinish)
	authGroup.GET("/error", handler.handleError)

	authGroup.GET("/me", handler.authorizeRequest, handler.handleMe)

	return deps.Sessions.LoadAndSave(router), nil
}

type httpHandler struct {
	orchestrator *auth.Orchestrator
	registry     *providers.Registry
	validator    *auth.Validator
	tokens       TokenManager
	users        UserDirectory
	sessions     *scs.SessionManager
	logger       *zap.Logger
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if allowsAnyOrigin(allowedOrigins) {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func allowsAnyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) handleMe(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	user, err := h.users.FindUserByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load user", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user_lookup_failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"assistberry/internal/auth"
	"assistberry/internal/models"
	"assistberry/internal/redis"
	"assistberry/internal/service/assistant"
	"assistberry/internal/service/chat"
)

// Handler wires HTTP routes to the store, the chat orchestrator and the
// auth service.
type Handler struct {
	store          *assistant.Service
	chat           *chat.Service
	auth           *auth.Service
	cache          *redis.Client
	logger         *zap.Logger
	retention      time.Duration
	bootstrapAdmin string
}

// NewHandler constructs a Handler instance.
func NewHandler(store *assistant.Service, chatSvc *chat.Service, authSvc *auth.Service, cache *redis.Client, logger *zap.Logger, retention time.Duration, bootstrapAdmin string) *Handler {
	return &Handler{
		store:          store,
		chat:           chatSvc,
		auth:           authSvc,
		cache:          cache,
		logger:         logger,
		retention:      retention,
		bootstrapAdmin: bootstrapAdmin,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/auth/register", h.registerUser)
	api.POST("/auth/login", h.loginUser)

	authMW := h.auth.Middleware(h.store)
	user := api.Group("")
	user.Use(authMW, h.auth.CSRFMiddleware())
	user.POST("/auth/logout", h.logoutUser)
	user.GET("/auth/me", h.currentUser)

	user.GET("/sessions", h.listSessions)
	user.POST("/sessions", h.createSession)
	user.DELETE("/sessions", h.clearSessions)
	user.DELETE("/sessions/:session_id", h.deleteSession)
	user.GET("/sessions/:session_id/messages", h.listMessages)

	user.POST("/chat", h.respond)
	user.POST("/image", h.generateImage)
	user.GET("/knowledge/search", h.searchKnowledge)

	user.GET("/retention/expired", h.listExpiredSessions)
	user.POST("/retention/confirm", h.confirmRetention)

	admin := api.Group("/admin")
	admin.Use(authMW, h.auth.CSRFMiddleware(), auth.RequireAdmin())
	admin.GET("/users", h.listUsers)
	admin.PUT("/users/:id", h.updateUserAccess)
	admin.DELETE("/users/:id", h.deleteUser)
	admin.POST("/knowledge", h.ingestKnowledge)
	admin.GET("/knowledge", h.listKnowledge)
	admin.DELETE("/knowledge/:id", h.deleteKnowledgeEntry)
}

// writeError maps the store's error taxonomy to HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrCollaborator):
		c.JSON(http.StatusBadGateway, gin.H{"error": "model provider unavailable"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) caller(c *gin.Context) (models.Caller, bool) {
	caller, ok := auth.CallerFromContext(c)
	if !ok || caller.UserID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return models.Caller{}, false
	}
	return caller, true
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.store.RegisterUser(c.Request.Context(), req.Username, req.Password, h.bootstrapAdmin)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":          user.ID,
		"username":    user.Username,
		"is_approved": user.IsApproved,
		"created_at":  user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.store.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !user.IsApproved {
		c.JSON(http.StatusForbidden, gin.H{"error": "account pending approval"})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"role":       user.Role,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if token, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
			h.writeError(c, err)
			return
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentUser(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	user, err := h.store.GetUser(c.Request.Context(), caller.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	pending := ""
	if h.cache != nil {
		pending, _ = h.store.PendingRetention(c.Request.Context(), caller.UserID, h.cache)
	}
	c.JSON(http.StatusOK, gin.H{
		"user":              user,
		"retention_pending": pending,
	})
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}

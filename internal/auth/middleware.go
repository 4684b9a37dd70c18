package auth

import (
	"net/http"
	"strings"

	"assistberry/internal/models"
	"assistberry/internal/service/assistant"

	"github.com/gin-gonic/gin"
)

const (
	callerContextKey    = "auth_caller"
	authTokenContextKey = "auth_token"
)

// Middleware validates bearer or cookie tokens, loads the account and stores
// the caller identity in the context. Unapproved accounts are rejected here
// so no handler has to re-check.
func (s *Service) Middleware(store *assistant.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.extractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), authToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		user, err := store.GetUser(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown account"})
			return
		}
		if !user.IsApproved {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account pending approval"})
			return
		}
		c.Set(callerContextKey, models.Caller{
			UserID:     user.ID,
			Role:       user.Role,
			AllowPro:   user.AllowPro,
			AllowImage: user.AllowImage,
		})
		c.Set(authTokenContextKey, authToken)
		c.Next()
	}
}

// RequireAdmin aborts requests whose caller is not an administrator. Must
// run after Middleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFromContext(c)
		if !ok || !caller.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// CallerFromContext retrieves the authenticated caller from the gin context.
func CallerFromContext(c *gin.Context) (models.Caller, bool) {
	val, ok := c.Get(callerContextKey)
	if !ok {
		return models.Caller{}, false
	}
	caller, ok := val.(models.Caller)
	return caller, ok
}

// AuthTokenFromContext retrieves the bearer token captured by the middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(authTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}

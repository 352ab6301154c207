// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, metrics, and audit logging.
//
// Middleware ordering is set in router.go:
//
//	RequestID → Metrics → Logger → Security → CORS → RateLimit → Auth → RBAC → Audit → Handler
//
// Rate limiting runs before auth so brute-force login attempts are rejected before any DB
// work. Auth populates the user, session, and scopes; RBAC reads them from the context.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sales-dashboard/sales-dashboard/internal/auth"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
)

// Context keys set by AuthMiddleware
const (
	ContextUser      = "user"
	ContextUserID    = "user_id"
	ContextRole      = "role"
	ContextSessionID = "session_id"
	ContextScopes    = "scopes"
)

// UserLoader loads the account behind a token
type UserLoader interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// AuthMiddleware validates the bearer JWT, reloads the user, and requires the account to be
// active. Scopes are derived from the stored role on every request, so a role change or
// deactivation takes effect without reissuing tokens.
func AuthMiddleware(users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg := bearerToken(c.GetHeader("Authorization"))
		if msg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "User not found",
			})
			return
		}

		switch user.Status {
		case models.UserStatusActive:
		case models.UserStatusPendingApproval:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Account is awaiting approval",
			})
			return
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Account is not active",
			})
			return
		}

		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID)
		c.Set(ContextRole, string(user.Role))
		c.Set(ContextSessionID, claims.SessionID)
		c.Set(ContextScopes, auth.ScopesForRole(user.Role))

		c.Next()
	}
}

// bearerToken extracts the token, returning an error message when the header is unusable
func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "Missing authorization header"
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "Authorization header must start with 'Bearer '"
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", "Authorization token is empty"
	}
	return token, ""
}

// CurrentUser returns the user set by AuthMiddleware
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

// SessionID returns the login session of the request, or ""
func SessionID(c *gin.Context) string {
	return c.GetString(ContextSessionID)
}

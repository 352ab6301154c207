// rbac.go implements scope-based authorization. Scopes are derived from the user's role at
// request time by AuthMiddleware, never read from the token.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sales-dashboard/sales-dashboard/internal/auth"
)

func requestScopes(c *gin.Context) ([]string, bool) {
	scopesVal, exists := c.Get(ContextScopes)
	if !exists {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Insufficient permissions",
		})
		return nil, false
	}

	userScopes, ok := scopesVal.([]string)
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Invalid scopes format",
		})
		return nil, false
	}
	return userScopes, true
}

// RequireScope checks if the authenticated user has the required scope
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		userScopes, ok := requestScopes(c)
		if !ok {
			return
		}

		if !auth.HasScope(userScopes, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Missing required scope",
				"details": "Required scope: " + string(scope),
			})
			return
		}

		c.Next()
	}
}

// RequireAnyScope checks if the authenticated user has at least one of the scopes
func RequireAnyScope(scopes ...auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		userScopes, ok := requestScopes(c)
		if !ok {
			return
		}

		if !auth.HasAnyScope(userScopes, scopes) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Missing required scope",
			})
			return
		}

		c.Next()
	}
}

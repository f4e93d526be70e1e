package identity

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyPrincipal is the key for the resolved principal in gin context.
	ContextKeyPrincipal = "principal"
)

// Middleware resolves the bearer credential and stores the principal in the
// request context. Requests without a valid credential pass through
// unauthenticated; route guards decide whether that is acceptable.
func Middleware(r *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := c.GetHeader("Authorization")
		if credential != "" {
			principal, err := r.Resolve(c.Request.Context(), credential)
			if err == nil {
				c.Set(ContextKeyPrincipal, principal)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests that did not resolve to a principal.
func RequireAuth(r *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := c.GetHeader("Authorization")
		if credential == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Bearer token required.",
			})
			return
		}
		if _, exists := c.Get(ContextKeyPrincipal); exists {
			c.Next()
			return
		}

		// Re-resolve to report the precise failure class.
		_, err := r.Resolve(c.Request.Context(), credential)
		code := "invalid_credential"
		switch {
		case errors.Is(err, ErrExpiredCredential):
			code = "expired_credential"
		case errors.Is(err, ErrPrincipalNotFound):
			code = "principal_not_found"
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   code,
			"message": "Credential rejected.",
		})
	}
}

// RequireRole rejects authenticated requests whose principal lacks every
// allowed role. Must run after RequireAuth.
func RequireRole(allowed ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := FromContext(c)
		if !ok || !HasRole(principal, allowed...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "insufficient_role",
				"message": "Your account role cannot perform this operation.",
			})
			return
		}
		c.Next()
	}
}

// FromContext returns the resolved principal, if any.
func FromContext(c *gin.Context) (*Principal, bool) {
	v, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}

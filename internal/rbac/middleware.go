package rbac

import (
	"errors"
	"net/http"

	"callbridge/internal/auth"

	"github.com/gin-gonic/gin"
)

var ErrForbidden = errors.New("rbac: role not allowed")

// RequireAnyRole allows access if the caller has any of the provided roles.
// It must run after auth.RequireAccessToken.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !HasAnyRole(role, allowed...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Authorizer returns a check for handlers that authorize before taking over
// the connection, such as WebSocket upgrades, where middleware cannot run
// after the handler.
func Authorizer(m *auth.Manager, allowed ...string) func(c *gin.Context) error {
	return func(c *gin.Context) error {
		claims, err := auth.Authenticate(m, c)
		if err != nil {
			return err
		}
		if !HasAnyRole(claims.Role, allowed...) {
			return ErrForbidden
		}
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), claims.Subject, claims.Role))
		return nil
	}
}

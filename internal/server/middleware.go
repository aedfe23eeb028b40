package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/partnerly/partnerly/internal/principal"
)

type roleCheck func(p principal.Principal) bool

func roleAdminOnly(p principal.Principal) bool     { return p.IsAdmin() }
func roleSystemOrAdmin(p principal.Principal) bool { return p.IsAdmin() || p.IsSystem() }

// PrincipalMiddleware trusts the identity headers injected by the upstream
// gateway. No credential verification happens here.
func PrincipalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Principal-ID"))
		role := strings.TrimSpace(c.GetHeader("X-Principal-Role"))
		if id != "" {
			ctx := principal.WithPrincipal(c.Request.Context(), principal.Principal{ID: id, Role: role})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := principal.FromContext(c.Request.Context()); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func RequireRole(check roleCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !check(p) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

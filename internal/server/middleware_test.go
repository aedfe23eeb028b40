package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/partnerly/partnerly/internal/principal"
	"github.com/stretchr/testify/require"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrincipalMiddleware(), ErrorHandlingMiddleware())
	return r
}

func TestPrincipalMiddlewareReadsHeaders(t *testing.T) {
	r := newTestRouter()
	r.GET("/whoami", func(c *gin.Context) {
		p, ok := principal.FromContext(c.Request.Context())
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": p.ID, "role": p.Role})
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Principal-ID", "42")
	req.Header.Set("X-Principal-Role", principal.RoleAdmin)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"id":"42"`)
}

func TestRequirePrincipalRejectsAnonymous(t *testing.T) {
	r := newTestRouter()
	r.GET("/me", RequirePrincipal(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	r := newTestRouter()
	r.GET("/admin", RequireRole(roleAdminOnly), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Principal-ID", "7")
	req.Header.Set("X-Principal-Role", principal.RolePartner)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Principal-ID", "7")
	req.Header.Set("X-Principal-Role", principal.RoleAdmin)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Principal-ID", "scheduler")
	req.Header.Set("X-Principal-Role", principal.RoleSystem)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

package authz

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/middleware"
	"smallbiznis-licensing/pkg/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	e, err := NewEnforcer(&config.Config{})
	require.NoError(t, err)

	cases := []struct {
		sub, obj, act string
		want          bool
	}{
		{"admin", "/api/admin/tenants", http.MethodGet, true},
		{"admin", "/api/admin/tenants/42/suspend", http.MethodPost, true},
		{"admin", "/api/license/activate", http.MethodPost, false},
		{"customer", "/api/admin/tenants", http.MethodGet, false},
	}
	for _, tc := range cases {
		got, err := e.Enforce(tc.sub, tc.obj, tc.act)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "%s %s %s", tc.sub, tc.act, tc.obj)
	}
}

func TestPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	policy := "p, support, /api/admin/tenants, GET\ng, ops, support\n"
	require.NoError(t, os.WriteFile(path, []byte(policy), 0o600))

	cfg := &config.Config{}
	cfg.AccessControl.Policy = path
	e, err := NewEnforcer(cfg)
	require.NoError(t, err)

	ok, err := e.Enforce("ops", "/api/admin/tenants", http.MethodGet)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Enforce("ops", "/api/admin/tenants", http.MethodPost)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{AppName: "licensing"}
	cfg.Session.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Session.TTL = time.Hour
	issuer, err := session.NewIssuer(cfg)
	require.NoError(t, err)

	e, err := NewEnforcer(cfg)
	require.NoError(t, err)

	r := gin.New()
	r.Use(middleware.Error())
	r.Group("/api/admin", issuer.Middleware(), Middleware(e)).GET("/tenants", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	admin, _, err := issuer.Issue("ops", session.RoleAdmin, "")
	require.NoError(t, err)
	customer, _, err := issuer.Issue("owner", session.RoleCustomer, "t1")
	require.NoError(t, err)

	for token, status := range map[string]int{admin: http.StatusNoContent, customer: http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/tenants", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, status, w.Code)
	}
}

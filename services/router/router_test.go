package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smallbiznis-licensing/pkg/authz"
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/featureflags"
	"smallbiznis-licensing/pkg/health"
	"smallbiznis-licensing/pkg/httpapi"
	"smallbiznis-licensing/pkg/session"
	"smallbiznis-licensing/services/bootstrap"
	"smallbiznis-licensing/services/gate"
	"smallbiznis-licensing/services/license"
	"smallbiznis-licensing/services/notification"
	"smallbiznis-licensing/services/reminder"
	"smallbiznis-licensing/services/task"
	"smallbiznis-licensing/services/tenant"
	"smallbiznis-licensing/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
	zap.ReplaceGlobals(zap.NewNop())
}

type app struct {
	engine *gin.Engine
	issuer *session.Issuer
}

func newApp(t *testing.T) *app {
	t.Helper()

	db := testutil.NewTestDB(t, bootstrap.Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{AppName: "licensing"}
	cfg.Session.Name = "sb_session"
	cfg.Session.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Session.TTL = time.Hour
	cfg.License.TrialDays = 14
	cfg.License.DefaultTermDays = 365
	cfg.License.DefaultGracePeriodDays = 7
	cfg.Gate.TenantPathPrefix = "/t"
	cfg.Reminder.CronSecret = "cron-secret"

	var a app
	fxtest.New(t,
		fx.Supply(cfg, db, node),
		health.Module,
		httpapi.Module,
		session.Module,
		authz.Module,
		featureflags.Module,
		notification.Module,
		tenant.Module,
		license.Module,
		gate.Module,
		task.Module,
		reminder.Module,
		Module,
		fx.Populate(&a.engine, &a.issuer),
	).RequireStart().RequireStop()

	return &a
}

func (a *app) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func TestAdminRoutesRequireAdminSession(t *testing.T) {
	a := newApp(t)

	require.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/api/admin/tenants", "", nil).Code)

	customer, _, err := a.issuer.Issue("owner@warung", session.RoleCustomer, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/api/admin/tenants", customer, nil).Code)

	admin, _, err := a.issuer.Issue("ops@smallbiznis", session.RoleAdmin, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/admin/tenants", admin, nil).Code)
}

func TestLicenseLifecycleThroughHTTP(t *testing.T) {
	a := newApp(t)
	admin, _, err := a.issuer.Issue("ops@smallbiznis", session.RoleAdmin, "")
	require.NoError(t, err)

	w := a.do(t, http.MethodPost, "/api/admin/tenants", admin, map[string]any{"name": "Warung Sederhana", "trialDays": 0})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tn tenant.Tenant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tn))

	// trial of zero days is already over
	w = a.do(t, http.MethodGet, "/t/"+tn.Slug+"/orders", "", nil)
	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, w.Header().Get("Location"), "/t/"+tn.Slug+"/license")

	w = a.do(t, http.MethodPost, "/api/admin/license-keys", admin, map[string]any{"count": 1, "plan": "pro", "termDays": 30})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var issued struct {
		Data []license.IssuedKey `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	require.Len(t, issued.Data, 1)

	w = a.do(t, http.MethodPost, "/api/license/activate", "", map[string]any{"tenantSlug": tn.Slug, "licenseKey": issued.Data[0].Key})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/t/"+tn.Slug+"/orders", "", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, string(license.AccessActive), w.Header().Get(gate.HeaderTenantStatus))

	w = a.do(t, http.MethodGet, "/api/license/status/"+tn.Slug, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var decision license.AccessDecision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	require.True(t, decision.Allowed)
	require.NotNil(t, decision.DaysRemaining)
	require.Equal(t, 30, *decision.DaysRemaining)
}

func TestCronAndHealthRoutes(t *testing.T) {
	a := newApp(t)

	require.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodPost, "/api/cron/license-reminders", "wrong", nil).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/cron/license-reminders", "cron-secret", nil).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/readyz", "", nil).Code)
}

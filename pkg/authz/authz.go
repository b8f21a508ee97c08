package authz

import (
	"strings"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/session"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// role based, request paths matched with keyMatch2 patterns
const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (p.act == "*" || r.act == p.act)
`

// DefaultPolicy lets admins reach every admin route.
const DefaultPolicy = `p, admin, /api/admin/*, *`

var Module = fx.Module("authz",
	fx.Provide(NewEnforcer),
)

// NewEnforcer builds the enforcer from ACCESS_CONTROL.POLICY, a CSV policy
// file path, or the default policy when unset.
func NewEnforcer(cfg *config.Config) (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	if path := strings.TrimSpace(cfg.AccessControl.Policy); path != "" {
		return casbin.NewEnforcer(m, fileadapter.NewAdapter(path))
	}
	return casbin.NewEnforcer(m, stringadapter.NewAdapter(DefaultPolicy))
}

// Middleware authorizes the session subject's role against the request path
// and method. It must run after session.Middleware.
func Middleware(e *casbin.Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := session.FromContext(c)
		if !ok {
			_ = c.Error(errutil.Unauthorized("authentication required", nil))
			c.Abort()
			return
		}

		allowed, err := e.Enforce(claims.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			logger.FromContext(c.Request.Context()).Error("authorization check failed", zap.Error(err))
			_ = c.Error(errutil.Internal("authorization check failed", err))
			c.Abort()
			return
		}
		if !allowed {
			_ = c.Error(errutil.Forbidden("access denied", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

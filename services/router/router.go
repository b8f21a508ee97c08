package router

import (
	"smallbiznis-licensing/pkg/authz"
	"smallbiznis-licensing/pkg/session"
	"smallbiznis-licensing/services/gate"
	"smallbiznis-licensing/services/license"
	"smallbiznis-licensing/services/reminder"
	"smallbiznis-licensing/services/tenant"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("router",
	fx.Invoke(Register),
)

type Params struct {
	fx.In
	Engine    *gin.Engine
	Issuer    *session.Issuer
	Enforcer  *casbin.Enforcer
	Gate      *gate.Gate
	Tenants   *tenant.Handler
	Licenses  *license.Handler
	Reminders *reminder.Handler
}

// Register mounts every route group:
//
//	/api/license/*        public activation and status
//	/api/cron/*           cron secret
//	/api/admin/*          admin session + casbin policy
//	/t/:tenant/*          access gate
func Register(p Params) {
	api := p.Engine.Group("/api")
	p.Licenses.RegisterPublicRoutes(api)
	p.Reminders.RegisterCronRoutes(api)

	admin := api.Group("/admin", p.Issuer.Middleware(), authz.Middleware(p.Enforcer))
	p.Tenants.RegisterAdminRoutes(admin)
	p.Licenses.RegisterAdminRoutes(admin)
	p.Reminders.RegisterAdminRoutes(admin)

	p.Gate.Register(p.Engine)
}

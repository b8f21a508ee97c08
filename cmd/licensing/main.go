package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	pkgasynq "smallbiznis-licensing/pkg/asynq"
	"smallbiznis-licensing/pkg/authz"
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db"
	"smallbiznis-licensing/pkg/featureflags"
	"smallbiznis-licensing/pkg/gen"
	"smallbiznis-licensing/pkg/hashistack/secretmanager"
	"smallbiznis-licensing/pkg/hashistack/servicediscover"
	"smallbiznis-licensing/pkg/health"
	"smallbiznis-licensing/pkg/httpapi"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/otelcol"
	"smallbiznis-licensing/pkg/profiling"
	"smallbiznis-licensing/pkg/redis"
	"smallbiznis-licensing/pkg/server"
	"smallbiznis-licensing/pkg/session"
	"smallbiznis-licensing/services/bootstrap"
	"smallbiznis-licensing/services/gate"
	"smallbiznis-licensing/services/license"
	"smallbiznis-licensing/services/notification"
	"smallbiznis-licensing/services/reminder"
	"smallbiznis-licensing/services/router"
	"smallbiznis-licensing/services/task"
	"smallbiznis-licensing/services/tenant"
)

// licensing serves the admin and license APIs, the cron trigger and the
// access gate for tenant routes.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		pkgasynq.Client,
		health.Module,
		httpapi.Module,
		session.Module,
		authz.Module,
		featureflags.Module,
		notification.Module,
		bootstrap.Module,
		tenant.Module,
		license.Module,
		gate.Module,
		task.Module,
		reminder.Module,
		router.Module,
		server.ProvideHTTPServer,
		servicediscover.Module,
		fxLogger,
	}
	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

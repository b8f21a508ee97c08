package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	pkgasynq "smallbiznis-licensing/pkg/asynq"
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db"
	"smallbiznis-licensing/pkg/featureflags"
	"smallbiznis-licensing/pkg/gen"
	"smallbiznis-licensing/pkg/hashistack/secretmanager"
	"smallbiznis-licensing/pkg/health"
	"smallbiznis-licensing/pkg/httpapi"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/otelcol"
	"smallbiznis-licensing/pkg/profiling"
	"smallbiznis-licensing/pkg/redis"
	"smallbiznis-licensing/pkg/server"
	"smallbiznis-licensing/services/license"
	"smallbiznis-licensing/services/notification"
	"smallbiznis-licensing/services/reminder"
	"smallbiznis-licensing/services/task"
	"smallbiznis-licensing/services/tenant"
)

// worker runs the asynq server with the reminder task handlers and the
// periodic scheduler that enqueues them. It serves only health and metrics
// over HTTP.
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
		pkgasynq.Server,
		pkgasynq.Scheduler,
		health.Module,
		httpapi.Module,
		featureflags.Module,
		notification.Module,
		tenant.Module,
		license.Module,
		task.Module,
		task.Periodic,
		reminder.Module,
		reminder.Worker,
		server.ProvideHTTPServer,
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

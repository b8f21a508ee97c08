package httpapi

import (
	"net/http"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/health"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
	fx.Invoke(registerHealthEndpoints),
)

// NewEngine builds the gin engine shared by every route group. Error
// rendering runs innermost so the request log sees the final status.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		gin.CustomRecovery(func(c *gin.Context, recovered any) {
			logger.FromContext(c.Request.Context()).Error("panic recovered",
				zap.Any("error", recovered),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "internal",
				"message": "internal error",
			})
		}),
		otelgin.Middleware(orDefault(cfg.AppName, "licensing")),
		Metrics(),
		RequestLog(),
		middleware.Error(),
	)
	return r
}

func registerHealthEndpoints(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

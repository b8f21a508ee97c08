package gate

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/services/license"
	"smallbiznis-licensing/services/tenant"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("smallbiznis-licensing/services/gate")

const (
	HeaderTenantStatus = "X-Tenant-Status"
	HeaderTenantValid  = "X-Tenant-Valid"

	ContextKeyTenant   = "gate.tenant"
	ContextKeyDecision = "gate.decision"

	tenantParam = "tenant"
)

// DefaultExemptPaths are matched against the path below the tenant segment.
var DefaultExemptPaths = []string{
	"/license",
	"/license/**",
	"/suspended",
	"/unavailable",
	"/auth/**",
	"/static/**",
	"/assets/**",
	"/healthz",
	"/api/license/**",
}

type Gate struct {
	tenants  *tenant.Service
	licenses *license.Service

	exempt          []string
	prefix          string
	notFoundPath    string
	errorPath       string
	suspendOnExpiry bool
}

type Params struct {
	fx.In
	Config   *config.Config
	Tenants  *tenant.Service
	Licenses *license.Service
}

func New(p Params) (*Gate, error) {
	cfg := p.Config.Gate

	exempt := cfg.ExemptPaths
	if len(exempt) == 0 {
		exempt = DefaultExemptPaths
	}
	for _, pattern := range exempt {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errutil.ValidationFailed("invalid gate exempt pattern", nil, errutil.WithDetails(errutil.Detail{
				Field:   "gate.exempt_paths",
				Message: pattern,
			}))
		}
	}

	g := &Gate{
		tenants:         p.Tenants,
		licenses:        p.Licenses,
		exempt:          exempt,
		prefix:          strings.TrimRight(cfg.TenantPathPrefix, "/"),
		notFoundPath:    cfg.NotFoundPath,
		errorPath:       cfg.ErrorPath,
		suspendOnExpiry: cfg.SuspendOnExpiry,
	}
	if g.notFoundPath == "" {
		g.notFoundPath = "/tenant-not-found"
	}
	if g.errorPath == "" {
		g.errorPath = "/unavailable"
	}

	return g, nil
}

// CheckTenantAccess resolves the tenant by slug or id and evaluates it
// against its current license. It never writes.
func (g *Gate) CheckTenantAccess(ctx context.Context, slugOrID string) (license.AccessDecision, *tenant.Tenant, error) {
	ctx, span := tracer.Start(ctx, "gate.CheckTenantAccess")
	defer span.End()

	t, err := g.tenants.Resolve(ctx, slugOrID)
	if err != nil {
		return license.AccessDecision{}, nil, err
	}

	decision, _, err := g.licenses.Decide(ctx, t)
	if err != nil {
		return license.AccessDecision{}, nil, err
	}

	span.SetAttributes(
		attribute.String("tenant_id", t.ID),
		attribute.String("access_status", string(decision.Status)),
		attribute.Bool("access_allowed", decision.Allowed),
	)

	return decision, t, nil
}

// Exempt reports whether a tenant-relative path skips evaluation.
func (g *Gate) Exempt(rel string) bool {
	rel = path.Clean("/" + rel)
	for _, pattern := range g.exempt {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Middleware guards a router group mounted at <prefix>/:tenant.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := c.Param(tenantParam)
		if g.Exempt(g.relativePath(c.Request.URL.Path, ref)) {
			decisionsTotal.WithLabelValues("exempt").Inc()
			c.Next()
			return
		}

		ctx := c.Request.Context()
		zapLog := logger.FromContext(ctx)

		decision, t, err := g.CheckTenantAccess(ctx, ref)
		if err != nil {
			if errutil.CodeOf(err) == errutil.StatusNotFound {
				decisionsTotal.WithLabelValues("not_found").Inc()
				c.Redirect(http.StatusFound, g.notFoundPath)
				c.Abort()
				return
			}

			decisionsTotal.WithLabelValues("error").Inc()
			zapLog.Error("tenant access check failed",
				zap.String("tenant", ref),
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			c.Redirect(http.StatusFound, g.tenantPath(ref, g.errorPath))
			c.Abort()
			return
		}

		decisionsTotal.WithLabelValues(string(decision.Status)).Inc()

		if !decision.Allowed {
			if g.suspendOnExpiry && (decision.Status == license.AccessExpired || decision.Status == license.AccessNoLicense) {
				if _, err := g.tenants.MarkSuspendedByLicense(ctx, t.ID); err != nil {
					zapLog.Error("failed to suspend expired tenant", zap.String("tenant_id", t.ID), zap.Error(err))
				}
			}

			values := url.Values{}
			values.Set("status", string(decision.Status))
			values.Set("message", decision.Message)

			c.Redirect(http.StatusFound, g.tenantPath(t.Slug, decision.RedirectPath)+"?"+values.Encode())
			c.Abort()
			return
		}

		c.Header(HeaderTenantStatus, string(decision.Status))
		c.Header(HeaderTenantValid, strconv.FormatBool(decision.Allowed))
		c.Set(ContextKeyTenant, t)
		c.Set(ContextKeyDecision, decision)

		c.Next()
	}
}

// Register mounts the gated tenant area. The terminal handler answers
// forward-auth subrequests from the edge proxy; other modules attach their own
// routes to the returned group.
func (g *Gate) Register(r gin.IRouter) *gin.RouterGroup {
	group := r.Group(g.prefix + "/:" + tenantParam)
	group.Use(g.Middleware())
	group.Any("/*path", g.Authorize)
	return group
}

func (g *Gate) Authorize(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// TenantFromContext returns the tenant set by the middleware on allowed
// requests.
func TenantFromContext(c *gin.Context) (*tenant.Tenant, bool) {
	v, ok := c.Get(ContextKeyTenant)
	if !ok {
		return nil, false
	}
	t, ok := v.(*tenant.Tenant)
	return t, ok
}

func DecisionFromContext(c *gin.Context) (license.AccessDecision, bool) {
	v, ok := c.Get(ContextKeyDecision)
	if !ok {
		return license.AccessDecision{}, false
	}
	d, ok := v.(license.AccessDecision)
	return d, ok
}

func (g *Gate) relativePath(full, ref string) string {
	base := g.prefix + "/" + ref
	rel := strings.TrimPrefix(full, base)
	if rel == "" {
		return "/"
	}
	return rel
}

func (g *Gate) tenantPath(ref, p string) string {
	return g.prefix + "/" + url.PathEscape(ref) + p
}

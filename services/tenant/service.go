package tenant

import (
	"context"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db/option"
	"smallbiznis-licensing/pkg/db/pagination"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("smallbiznis-licensing/services/tenant")

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	config *config.Config
	repo   repository.Repository[Tenant]
	now    func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		config: p.Config,
		repo:   repository.ProvideStore[Tenant](p.DB),
		now:    time.Now,
	}
}

// WithClock overrides the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) ListTenants(ctx context.Context, page pagination.Pagination) ([]*Tenant, pagination.PageInfo, error) {
	ctx, span := tracer.Start(ctx, "tenant.ListTenants")
	defer span.End()

	zapLog := logger.FromContext(ctx)

	after, err := page.After()
	if err != nil {
		return nil, pagination.PageInfo{}, errutil.ValidationFailed("invalid cursor", err)
	}

	size := page.Size()
	tenants, err := s.repo.Find(ctx, &Tenant{}, option.AfterID(after), option.WithLimit(size+1))
	if err != nil {
		zapLog.Error("failed to list tenants", zap.Error(err))
		return nil, pagination.PageInfo{}, errutil.Internal("failed to list tenants", err)
	}

	tenants, info := pagination.Trim(tenants, size, func(t *Tenant) string { return t.ID })
	return tenants, info, nil
}

func (s *Service) CreateTenant(ctx context.Context, req CreateTenantRequest) (*Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenant.CreateTenant")
	defer span.End()

	zapLog := logger.FromContext(ctx)

	if strings.TrimSpace(req.Name) == "" {
		return nil, errutil.ValidationFailed("name is required", nil)
	}

	slugName := slug.Make(req.Slug)
	if slugName == "" {
		slugName = slug.Make(req.Name)
	}
	if slugName == "" {
		return nil, errutil.ValidationFailed("slug could not be derived from name", nil)
	}

	exist, err := s.repo.FindOne(ctx, &Tenant{Slug: slugName})
	if err != nil {
		zapLog.Error("failed query get tenant by slug", zap.Error(err))
		return nil, errutil.Internal("failed to check existing tenant", err)
	}

	if exist != nil {
		zapLog.Warn("tenant already exists", zap.String("slug", slugName))
		return nil, errutil.Conflict("tenant already exists", nil)
	}

	trialDays := s.config.License.TrialDays
	if req.TrialDays != nil {
		trialDays = *req.TrialDays
	}
	if trialDays < 0 {
		return nil, errutil.ValidationFailed("trialDays must not be negative", nil)
	}

	now := s.now().UTC()
	trialEndsAt := now.AddDate(0, 0, trialDays)

	tenant := &Tenant{
		ID:           s.node.Generate().String(),
		CreatedAt:    now,
		UpdatedAt:    now,
		Name:         strings.TrimSpace(req.Name),
		Slug:         slugName,
		ContactName:  req.ContactName,
		ContactEmail: req.ContactEmail,
		Timezone:     req.Timezone,
		Status:       Trial,
		TrialEndsAt:  &trialEndsAt,
	}

	if err := s.repo.Create(ctx, tenant); err != nil {
		zapLog.Error("failed to create tenant", zap.Error(err))
		return nil, errutil.Internal("failed to create tenant", err)
	}

	zapLog.Info("tenant created",
		zap.String("tenant_id", tenant.ID),
		zap.String("slug", tenant.Slug),
		zap.Time("trial_ends_at", trialEndsAt),
	)

	return tenant, nil
}

func (s *Service) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenant.GetTenant")
	defer span.End()

	if strings.TrimSpace(tenantID) == "" {
		return nil, errutil.ValidationFailed("tenant_id is required", nil)
	}

	tenant, err := s.repo.FindOne(ctx, &Tenant{ID: tenantID})
	if err != nil {
		logger.FromContext(ctx).Error("failed query get tenant by id", zap.Error(err))
		return nil, errutil.Internal("failed to get tenant", err)
	}

	if tenant == nil {
		return nil, errutil.NotFound("tenant not found", nil)
	}

	return tenant, nil
}

// Resolve looks a tenant up by slug first and by id second, the way request
// routing identifies tenants from the URL.
func (s *Service) Resolve(ctx context.Context, slugOrID string) (*Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenant.Resolve")
	defer span.End()

	key := strings.TrimSpace(slugOrID)
	if key == "" {
		return nil, errutil.ValidationFailed("tenant is required", nil)
	}

	tenant, err := s.repo.FindOne(ctx, &Tenant{Slug: strings.ToLower(key)})
	if err != nil {
		logger.FromContext(ctx).Error("failed query get tenant by slug", zap.String("tenant", key), zap.Error(err))
		return nil, errutil.Internal("failed to get tenant", err)
	}
	if tenant != nil {
		return tenant, nil
	}

	return s.GetTenant(ctx, key)
}

// Suspend is the explicit operator action. It outranks any license state.
func (s *Service) Suspend(ctx context.Context, tenantID string) (*Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenant.Suspend")
	defer span.End()

	tenant, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.repo.Update(ctx, tenant.ID, map[string]any{
		"status":          Suspended,
		"admin_suspended": true,
		"suspended_at":    now,
		"updated_at":      now,
	}); err != nil {
		logger.FromContext(ctx).Error("failed to suspend tenant", zap.String("tenant_id", tenant.ID), zap.Error(err))
		return nil, errutil.Internal("failed to suspend tenant", err)
	}

	logger.FromContext(ctx).Info("tenant suspended by admin", zap.String("tenant_id", tenant.ID))
	return s.GetTenant(ctx, tenant.ID)
}

// Unsuspend lifts an operator suspension. Cancelled tenants stay cancelled.
func (s *Service) Unsuspend(ctx context.Context, tenantID string) (*Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenant.Unsuspend")
	defer span.End()

	tenant, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if tenant.Status == Cancelled {
		return nil, errutil.UnprocessableEntity("cancelled tenant cannot be unsuspended", nil)
	}

	now := s.now().UTC()
	status := Active
	if tenant.TrialEndsAt != nil && now.Before(*tenant.TrialEndsAt) {
		status = Trial
	}

	if err := s.repo.Update(ctx, tenant.ID, map[string]any{
		"status":          status,
		"admin_suspended": false,
		"suspended_at":    nil,
		"updated_at":      now,
	}); err != nil {
		logger.FromContext(ctx).Error("failed to unsuspend tenant", zap.String("tenant_id", tenant.ID), zap.Error(err))
		return nil, errutil.Internal("failed to unsuspend tenant", err)
	}

	return s.GetTenant(ctx, tenant.ID)
}

// MarkSuspendedByLicense records that the tenant lost access because of its
// license. It never touches the admin flag and is a no-op for tenants that
// are already suspended or cancelled.
func (s *Service) MarkSuspendedByLicense(ctx context.Context, tenantID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "tenant.MarkSuspendedByLicense")
	defer span.End()

	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&Tenant{}).
		Where("id = ? AND status IN ? AND admin_suspended = ?", tenantID, []TenantStatus{Active, Trial}, false).
		Updates(map[string]any{
			"status":       Suspended,
			"suspended_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, errutil.Internal("failed to suspend tenant", res.Error)
	}

	return res.RowsAffected > 0, nil
}

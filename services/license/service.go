package license

import (
	"context"
	"errors"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db"
	"smallbiznis-licensing/pkg/db/option"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/repository"
	"smallbiznis-licensing/services/tenant"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("smallbiznis-licensing/services/license")

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	config    *config.Config
	tenants   *tenant.Service
	evaluator Evaluator

	licenseRepo repository.Repository[License]
	keyRepo     repository.Repository[LicenseKey]

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Tenants *tenant.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		config:      p.Config,
		tenants:     p.Tenants,
		evaluator:   NewEvaluator(p.Config.License.WarnWindow),
		licenseRepo: repository.ProvideStore[License](p.DB),
		keyRepo:     repository.ProvideStore[LicenseKey](p.DB),
		now:         time.Now,
	}
}

// WithClock overrides the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Evaluator() Evaluator {
	return s.evaluator
}

// Now is the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// Activate redeems a license key for a tenant. Key redemption, superseding the
// previous license, inserting the new one and reactivating the tenant commit
// together or not at all.
func (s *Service) Activate(ctx context.Context, req ActivateRequest) (*LicenseInfo, error) {
	ctx, span := tracer.Start(ctx, "license.Activate")
	defer span.End()

	zapLog := logger.FromContext(ctx)

	key := NormalizeKey(req.LicenseKey)
	if !ValidKeyFormat(key) {
		activationsTotal.WithLabelValues(ReasonInvalidFormat).Inc()
		return nil, errInvalidFormat()
	}

	ref := strings.TrimSpace(req.TenantID)
	if ref == "" {
		ref = strings.TrimSpace(req.TenantSlug)
	}
	if ref == "" {
		return nil, errutil.ValidationFailed("tenantId or tenantSlug is required", nil)
	}

	t, err := s.tenants.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("tenant_id", t.ID))

	now := s.Now()
	keyHash := HashKey(key)

	var (
		result   *License
		replayed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lk LicenseKey
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("key_hash = ?", keyHash).
			First(&lk).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errKeyNotFound()
			}
			return errActivationInternal(err)
		}

		if lk.Redeemed() {
			if *lk.RedeemedByTenantID != t.ID {
				return errKeyAlreadyUsed()
			}

			var existing License
			if err := tx.Where("tenant_id = ? AND license_key_id = ?", t.ID, lk.ID).
				Order("issued_at DESC").
				First(&existing).Error; err != nil {
				return errActivationInternal(err)
			}
			result = &existing
			replayed = true
			return nil
		}

		res := tx.Model(&LicenseKey{}).
			Where("id = ? AND redeemed_by_tenant_id IS NULL", lk.ID).
			Updates(map[string]any{
				"redeemed_by_tenant_id": t.ID,
				"redeemed_at":           now,
			})
		if res.Error != nil {
			return errActivationInternal(res.Error)
		}
		if res.RowsAffected == 0 {
			return errKeyAlreadyUsed()
		}

		if err := supersedeActive(tx, t.ID, now); err != nil {
			return errActivationInternal(err)
		}

		termDays := lk.TermDays
		if termDays <= 0 {
			termDays = s.config.License.DefaultTermDays
		}
		graceDays := s.config.License.DefaultGracePeriodDays
		if lk.GracePeriodDays != nil {
			graceDays = *lk.GracePeriodDays
		}

		lic := &License{
			ID:              s.node.Generate().String(),
			CreatedAt:       now,
			UpdatedAt:       now,
			TenantID:        t.ID,
			LicenseKeyID:    lk.ID,
			LicenseKeyHash:  lk.KeyHash,
			Plan:            lk.Plan,
			IssuedAt:        now,
			ExpiresAt:       now.AddDate(0, 0, termDays),
			GracePeriodDays: graceDays,
			Status:          StatusActive,
		}
		if err := tx.Create(lic).Error; err != nil {
			return errActivationInternal(err)
		}

		if err := tx.Model(&tenant.Tenant{}).
			Where("id = ? AND admin_suspended = ? AND status IN ?", t.ID, false, []tenant.TenantStatus{tenant.Trial, tenant.Suspended}).
			Updates(map[string]any{
				"status":       tenant.Active,
				"suspended_at": nil,
				"updated_at":   now,
			}).Error; err != nil {
			return errActivationInternal(err)
		}

		result = lic
		return nil
	})
	if err != nil {
		r := ReasonOf(err)
		activationsTotal.WithLabelValues(r).Inc()
		if r == ReasonInternal {
			zapLog.Error("license activation failed", zap.String("tenant_id", t.ID), zap.Error(err))
		} else {
			zapLog.Info("license activation rejected", zap.String("tenant_id", t.ID), zap.String("reason", r))
		}
		return nil, err
	}

	if replayed {
		activationsTotal.WithLabelValues("replayed").Inc()
		zapLog.Info("license activation replayed", zap.String("tenant_id", t.ID), zap.String("license_id", result.ID))
	} else {
		activationsTotal.WithLabelValues("success").Inc()
		zapLog.Info("license activated",
			zap.String("tenant_id", t.ID),
			zap.String("license_id", result.ID),
			zap.Time("expires_at", result.ExpiresAt),
		)
	}

	return result.Info(), nil
}

// supersedeActive retires the tenant's active license: revoked while still in
// term, expired otherwise.
func supersedeActive(tx *gorm.DB, tenantID string, now time.Time) error {
	var current License
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND status = ?", tenantID, StatusActive).
		First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	values := map[string]any{
		"status":     StatusExpired,
		"updated_at": now,
	}
	if current.ExpiresAt.After(now) {
		values["status"] = StatusRevoked
		values["revoked_at"] = now
	}

	return tx.Model(&License{}).Where("id = ?", current.ID).Updates(values).Error
}

// IssueKeys generates new license keys. The raw keys are returned once and
// never stored.
func (s *Service) IssueKeys(ctx context.Context, req IssueKeysRequest) ([]*IssuedKey, error) {
	ctx, span := tracer.Start(ctx, "license.IssueKeys")
	defer span.End()

	zapLog := logger.FromContext(ctx)

	if req.Count <= 0 || req.Count > 500 {
		return nil, errutil.ValidationFailed("count must be between 1 and 500", nil)
	}
	plan := strings.TrimSpace(req.Plan)
	if plan == "" {
		return nil, errutil.ValidationFailed("plan is required", nil)
	}
	if req.GracePeriodDays != nil && *req.GracePeriodDays < 0 {
		return nil, errutil.ValidationFailed("gracePeriodDays must not be negative", nil)
	}

	termDays := req.TermDays
	if termDays <= 0 {
		termDays = s.config.License.DefaultTermDays
	}

	now := s.Now()
	keys := make([]*LicenseKey, 0, req.Count)
	issued := make([]*IssuedKey, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		raw, err := GenerateKey()
		if err != nil {
			return nil, errutil.Internal("failed to generate license key", err)
		}

		lk := &LicenseKey{
			ID:              s.node.Generate().String(),
			CreatedAt:       now,
			KeyHash:         HashKey(raw),
			KeyHint:         KeyHint(raw),
			Plan:            plan,
			TermDays:        termDays,
			GracePeriodDays: req.GracePeriodDays,
		}
		keys = append(keys, lk)
		issued = append(issued, &IssuedKey{ID: lk.ID, Key: raw, Plan: plan, TermDays: termDays})
	}

	if err := s.keyRepo.BatchCreate(ctx, keys); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errutil.Internal("license key collision, retry the request", err)
		}
		zapLog.Error("failed to store license keys", zap.Error(err))
		return nil, errutil.Internal("failed to issue license keys", err)
	}

	keysIssuedTotal.WithLabelValues(plan).Add(float64(len(keys)))
	zapLog.Info("license keys issued", zap.Int("count", len(keys)), zap.String("plan", plan))

	return issued, nil
}

// RevokeLicense ends a license immediately, grace period included.
func (s *Service) RevokeLicense(ctx context.Context, licenseID string) (*License, error) {
	ctx, span := tracer.Start(ctx, "license.RevokeLicense")
	defer span.End()

	lic, err := s.licenseRepo.FindOne(ctx, &License{ID: licenseID})
	if err != nil {
		return nil, errutil.Internal("failed to get license", err)
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found", nil)
	}
	if lic.Status == StatusRevoked {
		return lic, nil
	}

	now := s.Now()
	if err := s.licenseRepo.Update(ctx, lic.ID, map[string]any{
		"status":     StatusRevoked,
		"revoked_at": now,
		"updated_at": now,
	}); err != nil {
		logger.FromContext(ctx).Error("failed to revoke license", zap.String("license_id", lic.ID), zap.Error(err))
		return nil, errutil.Internal("failed to revoke license", err)
	}

	logger.FromContext(ctx).Info("license revoked", zap.String("license_id", lic.ID), zap.String("tenant_id", lic.TenantID))

	return s.licenseRepo.FindOne(ctx, &License{ID: lic.ID})
}

// ListLicenses returns the tenant's license history, newest first.
func (s *Service) ListLicenses(ctx context.Context, tenantRef string) ([]*License, error) {
	ctx, span := tracer.Start(ctx, "license.ListLicenses")
	defer span.End()

	t, err := s.tenants.Resolve(ctx, tenantRef)
	if err != nil {
		return nil, err
	}

	licenses, err := s.licenseRepo.Find(ctx, &License{TenantID: t.ID}, latestFirst)
	if err != nil {
		return nil, errutil.Internal("failed to list licenses", err)
	}
	return licenses, nil
}

// CurrentLicense is the most recently issued license of the tenant, or nil
// when none was ever issued.
func (s *Service) CurrentLicense(ctx context.Context, tenantID string) (*License, error) {
	lic, err := s.licenseRepo.FindOne(ctx, &License{TenantID: tenantID}, latestFirst)
	if err != nil {
		return nil, errutil.Internal("failed to get current license", err)
	}
	return lic, nil
}

// Decide evaluates the tenant against its current license at the service
// clock.
func (s *Service) Decide(ctx context.Context, t *tenant.Tenant) (AccessDecision, *License, error) {
	lic, err := s.CurrentLicense(ctx, t.ID)
	if err != nil {
		return AccessDecision{}, nil, err
	}
	return s.evaluator.Evaluate(t, lic, s.Now()), lic, nil
}

// Status resolves a tenant by slug or id and returns its access decision.
func (s *Service) Status(ctx context.Context, tenantRef string) (AccessDecision, *tenant.Tenant, error) {
	ctx, span := tracer.Start(ctx, "license.Status")
	defer span.End()

	t, err := s.tenants.Resolve(ctx, tenantRef)
	if err != nil {
		return AccessDecision{}, nil, err
	}

	decision, _, err := s.Decide(ctx, t)
	if err != nil {
		return AccessDecision{}, nil, err
	}
	return decision, t, nil
}

func latestFirst(tx *gorm.DB) *gorm.DB {
	return option.WithSortBy(option.QuerySortBy{Field: "issued_at", OrderBy: "DESC"})(tx).Order("id DESC")
}

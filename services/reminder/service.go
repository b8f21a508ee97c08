package reminder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"smallbiznis-licensing/pkg/celengine"
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/featureflags"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/services/license"
	"smallbiznis-licensing/services/notification"
	"smallbiznis-licensing/services/tenant"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("smallbiznis-licensing/services/reminder")

const (
	defaultBatchSize     = 250
	defaultConcurrency   = 8
	defaultHorizonDays   = 30
	defaultMaxGraceDays  = 30
	defaultRetentionDays = 90
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	config   *config.Config
	tenants  *tenant.Service
	licenses *license.Service
	sender   notification.Sender
	flags    featureflags.FeatureFlag
	filter   *celengine.Program

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Tenants  *tenant.Service
	Licenses *license.Service
	Sender   notification.Sender
	Flags    featureflags.FeatureFlag `optional:"true"`
}

// NewService fails when REMINDER.FILTER does not compile, so a bad expression
// stops startup instead of silencing reminders.
func NewService(p ServiceParams) (*Service, error) {
	var filter *celengine.Program
	if expr := strings.TrimSpace(p.Config.Reminder.Filter); expr != "" {
		prg, err := celengine.Compile(expr, filterVariables...)
		if err != nil {
			zap.L().Error("invalid reminder filter", zap.String("filter", expr), zap.Error(err))
			return nil, fmt.Errorf("reminder filter: %w", err)
		}
		filter = prg
	}

	return &Service{
		db:       p.DB,
		node:     p.Node,
		config:   p.Config,
		tenants:  p.Tenants,
		licenses: p.Licenses,
		sender:   p.Sender,
		flags:    p.Flags,
		filter:   filter,
		now:      time.Now,
	}, nil
}

var filterVariables = []string{"tenant", "license", "threshold", "days"}

// WithClock overrides the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
)

// CheckAndSendReminders scans active licenses near or past expiry and sends
// at most one reminder per license and threshold. A failure for one license is
// counted and the pass moves on; only a failed scan aborts it. Running it
// twice, or concurrently, does not send duplicates.
func (s *Service) CheckAndSendReminders(ctx context.Context) (RunSummary, error) {
	ctx, span := tracer.Start(ctx, "reminder.CheckAndSendReminders")
	defer span.End()

	zapLog := logger.FromContext(ctx)

	now := s.now().UTC()
	upper := now.AddDate(0, 0, orDefault(s.config.Reminder.HorizonDays, defaultHorizonDays))
	lower := now.AddDate(0, 0, -orDefault(s.config.Reminder.MaxGracePeriodDays, defaultMaxGraceDays))
	batchSize := orDefault(s.config.Reminder.BatchSize, defaultBatchSize)

	var (
		checked, sent, skipped, failed atomic.Int64
		mu                             sync.Mutex
		errs                           []string
	)
	summary := func() RunSummary {
		return RunSummary{
			Checked: int(checked.Load()),
			Sent:    int(sent.Load()),
			Skipped: int(skipped.Load()),
			Failed:  int(failed.Load()),
			Errors:  errs,
		}
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			zapLog.Warn("reminder run interrupted", zap.String("cursor", cursor), zap.Error(err))
			return summary(), err
		}

		var batch []license.License
		q := s.db.WithContext(ctx).
			Where("status = ?", license.StatusActive).
			Where("expires_at <= ? AND expires_at >= ?", upper, lower)
		if cursor != "" {
			q = q.Where("id > ?", cursor)
		}
		if err := q.Order("id ASC").Limit(batchSize).Find(&batch).Error; err != nil {
			zapLog.Error("failed to scan licenses", zap.String("cursor", cursor), zap.Error(err))
			return summary(), errutil.Internal("failed to scan licenses", err)
		}
		if len(batch) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(orDefault(s.config.Reminder.Concurrency, defaultConcurrency))
		for i := range batch {
			lic := batch[i]
			g.Go(func() error {
				checked.Add(1)
				result, err := s.processLicense(gctx, &lic, now)
				switch result {
				case outcomeSent:
					sent.Add(1)
				case outcomeFailed:
					failed.Add(1)
					mu.Lock()
					errs = append(errs, fmt.Sprintf("license %s: %v", lic.ID, err))
					mu.Unlock()
				default:
					skipped.Add(1)
				}
				remindersTotal.WithLabelValues(result.String()).Inc()
				return nil
			})
		}
		_ = g.Wait()

		cursor = batch[len(batch)-1].ID
		if len(batch) < batchSize {
			break
		}
	}

	out := summary()
	span.SetAttributes(
		attribute.Int("reminder.checked", out.Checked),
		attribute.Int("reminder.sent", out.Sent),
		attribute.Int("reminder.failed", out.Failed),
	)
	zapLog.Info("reminder run finished",
		zap.Int("checked", out.Checked),
		zap.Int("sent", out.Sent),
		zap.Int("skipped", out.Skipped),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}

func (s *Service) processLicense(ctx context.Context, lic *license.License, now time.Time) (outcome, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("license_id", lic.ID), zap.String("tenant_id", lic.TenantID))

	t, err := s.tenants.GetTenant(ctx, lic.TenantID)
	if err != nil {
		if errutil.CodeOf(err) == errutil.StatusNotFound {
			zapLog.Debug("skipping license of missing tenant")
			return outcomeSkipped, nil
		}
		return outcomeFailed, err
	}

	if s.flags != nil && !s.flags.Enabled(ctx, t.ID, featureflags.LicenseReminders, true) {
		return outcomeSkipped, nil
	}

	decision := s.licenses.Evaluator().Evaluate(t, lic, now)
	if !decision.Allowed {
		return outcomeSkipped, nil
	}

	if len(Qualifying(decision)) == 0 {
		return outcomeSkipped, nil
	}

	var kinds []ThresholdKind
	if err := s.db.WithContext(ctx).Model(&Record{}).
		Where("license_id = ?", lic.ID).
		Pluck("threshold_kind", &kinds).Error; err != nil {
		return outcomeFailed, err
	}
	sent := make(map[ThresholdKind]bool, len(kinds))
	for _, k := range kinds {
		sent[k] = true
	}

	threshold, ok := SelectThreshold(decision, sent)
	if !ok {
		return outcomeSkipped, nil
	}

	if s.filter != nil {
		days := decision.DaysRemaining
		if threshold.Template == notification.TemplateLicenseGrace {
			days = decision.GraceDaysRemaining
		}
		ok, err := s.filter.Eval(ctx, map[string]any{
			"tenant":    celengine.StructToMap(t),
			"license":   celengine.StructToMap(lic),
			"threshold": string(threshold.Kind),
			"days":      int64(*days),
		})
		if err != nil {
			return outcomeFailed, fmt.Errorf("reminder filter: %w", err)
		}
		if !ok {
			return outcomeSkipped, nil
		}
	}

	sendCtx := ctx
	if timeout := s.config.Reminder.SendTimeout; timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := s.sender.Send(sendCtx, threshold.Template, contactOf(t), s.templateVars(t, lic, decision, threshold)); err != nil {
		zapLog.Warn("failed to send reminder", zap.String("threshold", string(threshold.Kind)), zap.Error(err))
		return outcomeFailed, err
	}

	record := &Record{
		ID:            s.node.Generate().String(),
		LicenseID:     lic.ID,
		ThresholdKind: threshold.Kind,
		TenantID:      t.ID,
		SentAt:        now,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if db.IsUniqueViolation(err) {
			// a concurrent run sent the same reminder first
			zapLog.Warn("reminder already recorded", zap.String("threshold", string(threshold.Kind)))
			return outcomeSkipped, nil
		}
		zapLog.Error("reminder sent but not recorded", zap.String("threshold", string(threshold.Kind)), zap.Error(err))
		return outcomeFailed, err
	}

	zapLog.Info("reminder sent", zap.String("threshold", string(threshold.Kind)))
	return outcomeSent, nil
}

// CleanupOldReminders deletes records past the retention window once they can
// no longer suppress a send: their license was superseded by a newer one for
// the same tenant, or the license or tenant is gone.
func (s *Service) CleanupOldReminders(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "reminder.CleanupOldReminders")
	defer span.End()

	cutoff := s.now().UTC().AddDate(0, 0, -orDefault(s.config.Reminder.RetentionDays, defaultRetentionDays))

	res := s.db.WithContext(ctx).
		Where("sent_at < ?", cutoff).
		Where(`(NOT EXISTS (SELECT 1 FROM licenses l WHERE l.id = license_reminders.license_id)
			OR NOT EXISTS (SELECT 1 FROM tenants t WHERE t.id = license_reminders.tenant_id)
			OR EXISTS (SELECT 1 FROM licenses cur JOIN licenses newer ON newer.tenant_id = cur.tenant_id AND newer.issued_at > cur.issued_at
				WHERE cur.id = license_reminders.license_id))`).
		Delete(&Record{})
	if res.Error != nil {
		logger.FromContext(ctx).Error("failed to clean up reminders", zap.Error(res.Error))
		return 0, errutil.Internal("failed to clean up reminders", res.Error)
	}

	cleanedTotal.Add(float64(res.RowsAffected))
	span.SetAttributes(attribute.Int64("reminder.deleted", res.RowsAffected))
	logger.FromContext(ctx).Info("reminder cleanup finished", zap.Int64("deleted", res.RowsAffected), zap.Time("cutoff", cutoff))
	return res.RowsAffected, nil
}

func (s *Service) templateVars(t *tenant.Tenant, lic *license.License, d license.AccessDecision, th Threshold) map[string]string {
	prefix := s.config.Gate.TenantPathPrefix
	if prefix == "" {
		prefix = "/t"
	}

	vars := map[string]string{
		"tenant_name":  t.Name,
		"tenant_slug":  t.Slug,
		"plan":         lic.Plan,
		"expires_at":   lic.ExpiresAt.UTC().Format(time.DateOnly),
		"threshold":    string(th.Kind),
		"status":       string(d.Status),
		"message":      d.Message,
		"license_path": prefix + "/" + t.Slug + license.RedirectLicense,
	}
	if d.DaysRemaining != nil {
		vars["days_remaining"] = strconv.Itoa(*d.DaysRemaining)
	}
	if d.GraceDaysRemaining != nil {
		vars["grace_days_remaining"] = strconv.Itoa(*d.GraceDaysRemaining)
	}
	return vars
}

func contactOf(t *tenant.Tenant) notification.Contact {
	return notification.Contact{
		TenantID:   t.ID,
		TenantSlug: t.Slug,
		TenantName: t.Name,
		Name:       t.ContactName,
		Email:      t.ContactEmail,
	}
}

func (o outcome) String() string {
	switch o {
	case outcomeSent:
		return "sent"
	case outcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

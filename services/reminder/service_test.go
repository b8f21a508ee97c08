package reminder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/featureflags"
	"smallbiznis-licensing/services/license"
	"smallbiznis-licensing/services/notification"
	"smallbiznis-licensing/services/task"
	"smallbiznis-licensing/services/tenant"
	"smallbiznis-licensing/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var now = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *testutil.Clock
	config  *config.Config
	tenants *tenant.Service
	sender  *notification.MockSender
	flags   featureflags.Static
	service *Service
	jobs    *task.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &tenant.Tenant{}, &license.License{}, &license.LicenseKey{}, &Record{}, &task.Task{}, &task.Job{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.License.TrialDays = 14
	cfg.License.WarnWindow = 7 * day
	cfg.Gate.TenantPathPrefix = "/t"
	cfg.Reminder.HorizonDays = 30
	cfg.Reminder.MaxGracePeriodDays = 30
	cfg.Reminder.RetentionDays = 90
	cfg.Reminder.BatchSize = 250
	cfg.Reminder.Concurrency = 4
	cfg.Reminder.SendTimeout = time.Second
	cfg.Reminder.CronSecret = "cron-secret"

	clock := testutil.NewClock(now)
	ctrl := gomock.NewController(t)
	sender := notification.NewMockSender(ctrl)
	flags := featureflags.Static{}

	tenants := tenant.NewService(tenant.ServiceParams{DB: db, Node: node, Config: cfg}).WithClock(clock.Now)
	licenses := license.NewService(license.ServiceParams{DB: db, Node: node, Config: cfg, Tenants: tenants}).WithClock(clock.Now)
	svc, err := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Config:   cfg,
		Tenants:  tenants,
		Licenses: licenses,
		Sender:   sender,
		Flags:    flags,
	})
	require.NoError(t, err)
	svc.WithClock(clock.Now)
	jobs := task.NewService(task.Params{DB: db, Node: node}).WithClock(clock.Now)

	return &fixture{
		db:      db,
		node:    node,
		clock:   clock,
		config:  cfg,
		tenants: tenants,
		sender:  sender,
		flags:   flags,
		service: svc,
		jobs:    jobs,
	}
}

// withFilter rebuilds the service with a REMINDER.FILTER expression.
func (f *fixture) withFilter(t *testing.T, expr string) {
	t.Helper()
	f.config.Reminder.Filter = expr
	svc, err := NewService(ServiceParams{
		DB:       f.db,
		Node:     f.node,
		Config:   f.config,
		Tenants:  f.tenants,
		Licenses: f.service.licenses,
		Sender:   f.sender,
		Flags:    f.flags,
	})
	require.NoError(t, err)
	f.service = svc.WithClock(f.clock.Now)
}

func (f *fixture) tenant(t *testing.T, name string) *tenant.Tenant {
	t.Helper()
	tn, err := f.tenants.CreateTenant(context.Background(), tenant.CreateTenantRequest{
		Name:         name,
		ContactName:  "Owner " + name,
		ContactEmail: "owner@example.com",
	})
	require.NoError(t, err)
	return tn
}

// license inserts an active license issued a year before it expires.
func (f *fixture) license(t *testing.T, tenantID string, expiresAt time.Time, graceDays int) *license.License {
	t.Helper()
	lic := &license.License{
		ID:              f.node.Generate().String(),
		TenantID:        tenantID,
		LicenseKeyID:    f.node.Generate().String(),
		Plan:            "pro",
		IssuedAt:        expiresAt.AddDate(-1, 0, 0),
		ExpiresAt:       expiresAt,
		GracePeriodDays: graceDays,
		Status:          license.StatusActive,
	}
	require.NoError(t, f.db.Create(lic).Error)
	return lic
}

func (f *fixture) records(t *testing.T, licenseID string) []ThresholdKind {
	t.Helper()
	var rows []Record
	require.NoError(t, f.db.Where("license_id = ?", licenseID).Order("sent_at ASC, threshold_kind ASC").Find(&rows).Error)
	kinds := make([]ThresholdKind, 0, len(rows))
	for _, r := range rows {
		kinds = append(kinds, r.ThresholdKind)
	}
	return kinds
}

func TestSendsReminderOncePerThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tenant(t, "Warung Bu Tini")
	lic := f.license(t, tn.ID, now.Add(20*day), 7)

	f.sender.EXPECT().
		Send(gomock.Any(), notification.TemplateLicenseExpiring, gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, kind notification.TemplateKind, contact notification.Contact, vars map[string]string) error {
			assert.Equal(t, "owner@example.com", contact.Email)
			assert.Equal(t, tn.Slug, contact.TenantSlug)
			assert.Equal(t, string(Expiry30d), vars["threshold"])
			assert.Equal(t, "20", vars["days_remaining"])
			assert.Equal(t, "/t/"+tn.Slug+"/license", vars["license_path"])
			return nil
		}).
		Times(1)

	summary, err := f.service.CheckAndSendReminders(ctx)
	require.NoError(t, err)
	require.Equal(t, RunSummary{Checked: 1, Sent: 1}, summary)

	summary, err = f.service.CheckAndSendReminders(ctx)
	require.NoError(t, err)
	require.Equal(t, RunSummary{Checked: 1, Skipped: 1}, summary)

	require.Equal(t, []ThresholdKind{Expiry30d}, f.records(t, lic.ID))
}

func TestMissedBucketIsSentWidestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tenant(t, "Kopi Kenangan Senja")
	lic := f.license(t, tn.ID, now.Add(20*day), 7)

	f.sender.EXPECT().Send(gomock.Any(), notification.TemplateLicenseExpiring, gomock.Any(), gomock.Any()).Return(nil).Times(2)

	_, err := f.service.CheckAndSendReminders(ctx)
	require.NoError(t, err)

	// no run happened while the license crossed the 14 day mark
	f.clock.Advance(15 * day)
	summary, err := f.service.CheckAndSendReminders(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Sent)

	require.Equal(t, []ThresholdKind{Expiry30d, Expiry14d}, f.records(t, lic.ID))
}

func TestMissedBucketsCatchUpOnePerRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tenant(t, "Sate Khas Senayan")
	lic := f.license(t, tn.ID, now.Add(2*day), 7)

	var sent []string
	f.sender.EXPECT().
		Send(gomock.Any(), notification.TemplateLicenseExpiring, gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, kind notification.TemplateKind, contact notification.Contact, vars map[string]string) error {
			sent = append(sent, vars["threshold"])
			return nil
		}).
		Times(4)

	for range 5 {
		_, err := f.service.CheckAndSendReminders(ctx)
		require.NoError(t, err)
	}

	require.Equal(t, []string{"expiry_30d", "expiry_14d", "expiry_7d", "expiry_3d"}, sent)
	require.ElementsMatch(t, []ThresholdKind{Expiry30d, Expiry14d, Expiry7d, Expiry3d}, f.records(t, lic.ID))
}

func TestRenewalStartsFreshReminderHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tenant(t, "Roti Bakar Eddy")
	old := f.license(t, tn.ID, now.Add(20*day), 7)

	var thresholds []string
	f.sender.EXPECT().
		Send(gomock.Any(), notification.TemplateLicenseExpiring, gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, kind notification.TemplateKind, contact notification.Contact, vars map[string]string) error {
			thresholds = append(thresholds, vars["threshold"])
			return nil
		}).
		Times(2)

	_, err := f.service.CheckAndSendReminders(ctx)
	require.NoError(t, err)
	require.Equal(t, []ThresholdKind{Expiry30d}, f.records(t, old.ID))

	keys, err := f.service.licenses.IssueKeys(ctx, license.IssueKeysRequest{Count: 1, Plan: "pro", TermDays: 25})
	require.NoError(t, err)
	info, err := f.service.licenses.Activate(ctx, license.ActivateRequest{TenantID: tn.ID, LicenseKey: keys[0].Key})
	require.NoError(t, err)
	require.NotEqual(t, old.ID, info.ID)

	summary, err := f.service.CheckAndSendReminders(ctx)
	require.NoError(t, err)
	require.Equal(t, RunSummary{Checked: 1, Sent: 1}, summary)

	require.Equal(t, []string{"expiry_30d", "expiry_30d"}, thresholds)
	require.Equal(t, []ThresholdKind{Expiry30d}, f.records(t, old.ID))
	require.Equal(t, []ThresholdKind{Expiry30d}, f.records(t, info.ID))
}

func TestGracePeriodReminder(t *testing.T) {
	f := newFixture(t)
	tn := f.tenant(t, "Bakso Pak Kumis")
	lic := f.license(t, tn.ID, now.Add(-6*day), 7)

	f.sender.EXPECT().
		Send(gomock.Any(), notification.TemplateLicenseGrace, gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, kind notification.TemplateKind, contact notification.Contact, vars map[string]string) error {
			assert.Equal(t, "1", vars["grace_days_remaining"])
			return nil
		})

	summary, err := f.service.CheckAndSendReminders(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Sent)
	require.Equal(t, []ThresholdKind{Grace3d}, f.records(t, lic.ID))
}

func TestSendFailureIsRetriedNextRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tenant(t, "Martabak Manis 88")
	lic := f.license(t, tn.ID, now.Add(3*day), 7)

	gomock.InOrder(
		f.sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("smtp relay down")),
		f.sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),
	)

	summary, err := f.service.CheckAndSendReminders(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	require.Contains(t, summary.Errors[0], "smtp relay down")
	require.Empty(t, f.records(t, lic.ID))

	summary, err = f.service.CheckAndSendReminders(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Sent)
	require.Equal(t, []ThresholdKind{Expiry30d}, f.records(t, lic.ID))
}

func TestFailureDoesNotStopOtherLicenses(t *testing.T) {
	f := newFixture(t)
	bad := f.tenant(t, "Nasi Uduk Bad")
	good := f.tenant(t, "Nasi Uduk Good")
	f.license(t, bad.ID, now.Add(5*day), 7)
	goodLic := f.license(t, good.ID, now.Add(5*day), 7)

	f.sender.EXPECT().
		Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, kind notification.TemplateKind, contact notification.Contact, vars map[string]string) error {
			if contact.TenantID == bad.ID {
				return errors.New("mailbox unavailable")
			}
			return nil
		}).
		Times(2)

	summary, err := f.service.CheckAndSendReminders(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Checked)
	require.Equal(t, 1, summary.Sent)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, []ThresholdKind{Expiry30d}, f.records(t, goodLic.ID))
}

func TestSkipsIneligibleTenants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	banned := f.tenant(t, "Banned Bistro")
	_, err := f.tenants.Suspend(ctx, banned.ID)
	require.NoError(t, err)
	f.license(t, banned.ID, now.Add(5*day), 7)

	optedOut := f.tenant(t, "Quiet Cafe")
	f.flags[optedOut.ID+"/"+featureflags.LicenseReminders] = false
	f.license(t, optedOut.ID, now.Add(5*day), 7)

	f.license(t, "ghost-tenant", now.Add(5*day), 7)

	farOut := f.tenant(t, "Far Out Diner")
	f.license(t, farOut.ID, now.Add(60*day), 7)

	revoked := f.tenant(t, "Revoked Resto")
	lic := f.license(t, revoked.ID, now.Add(5*day), 7)
	require.NoError(t, f.db.Model(lic).Update("status", license.StatusRevoked).Error)

	summary, err := f.service.CheckAndSendReminders(ctx)
	require.NoError(t, err)
	require.Equal(t, RunSummary{Checked: 3, Skipped: 3}, summary)
}

func TestConcurrentSendIsRecordedOnce(t *testing.T) {
	f := newFixture(t)
	tn := f.tenant(t, "Soto Betawi")
	lic := f.license(t, tn.ID, now.Add(2*day), 7)

	f.sender.EXPECT().
		Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, kind notification.TemplateKind, contact notification.Contact, vars map[string]string) error {
			// another run records the same reminder while this one is sending
			return f.db.Create(&Record{
				ID:            "other-run",
				LicenseID:     lic.ID,
				ThresholdKind: Expiry30d,
				TenantID:      tn.ID,
				SentAt:        now,
			}).Error
		})

	summary, err := f.service.CheckAndSendReminders(context.Background())
	require.NoError(t, err)
	require.Equal(t, RunSummary{Checked: 1, Skipped: 1}, summary)
	require.Equal(t, []ThresholdKind{Expiry30d}, f.records(t, lic.ID))
}

func TestScanPagesThroughBatches(t *testing.T) {
	f := newFixture(t)
	f.config.Reminder.BatchSize = 2

	for i := range 5 {
		tn := f.tenant(t, fmt.Sprintf("Kedai %d", i))
		f.license(t, tn.ID, now.Add(time.Duration(i+1)*day), 7)
	}

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(5)

	summary, err := f.service.CheckAndSendReminders(context.Background())
	require.NoError(t, err)
	require.Equal(t, RunSummary{Checked: 5, Sent: 5}, summary)
}

func TestCancelledRunStops(t *testing.T) {
	f := newFixture(t)
	tn := f.tenant(t, "Gado Gado Boplo")
	f.license(t, tn.ID, now.Add(2*day), 7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.CheckAndSendReminders(ctx)
	require.ErrorIs(t, err, context.Canceled)

	var count int64
	require.NoError(t, f.db.Model(&Record{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCleanupOldReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := now.AddDate(0, 0, -100)
	recent := now.AddDate(0, 0, -10)

	renewed := f.tenant(t, "Renewed Resto")
	superseded := f.license(t, renewed.ID, now.AddDate(0, 0, -95), 7)
	require.NoError(t, f.db.Model(superseded).Update("status", license.StatusExpired).Error)
	f.license(t, renewed.ID, now.AddDate(0, 11, 0), 7)

	current := f.tenant(t, "Current Cafe")
	currentLic := f.license(t, current.ID, now.AddDate(0, 0, -80), 7)
	require.NoError(t, f.db.Model(currentLic).Update("status", license.StatusExpired).Error)

	orphan := f.license(t, "deleted-tenant", now.AddDate(0, 0, -95), 7)

	records := []Record{
		{ID: "superseded-old", LicenseID: superseded.ID, TenantID: renewed.ID, ThresholdKind: Expiry7d, SentAt: old},
		{ID: "superseded-recent", LicenseID: superseded.ID, TenantID: renewed.ID, ThresholdKind: Grace1d, SentAt: recent},
		{ID: "current-old", LicenseID: currentLic.ID, TenantID: current.ID, ThresholdKind: Expiry7d, SentAt: old},
		{ID: "missing-license", LicenseID: "gone", TenantID: current.ID, ThresholdKind: Expiry7d, SentAt: old},
		{ID: "missing-tenant", LicenseID: orphan.ID, TenantID: "deleted-tenant", ThresholdKind: Expiry7d, SentAt: old},
	}
	require.NoError(t, f.db.Create(&records).Error)

	deleted, err := f.service.CleanupOldReminders(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, deleted)

	var left []string
	require.NoError(t, f.db.Model(&Record{}).Order("id ASC").Pluck("id", &left).Error)
	require.Equal(t, []string{"current-old", "superseded-recent"}, left)
}

func TestFilterExpression(t *testing.T) {
	f := newFixture(t)
	f.withFilter(t, `license.plan != "internal" && days <= 7`)

	staff := f.tenant(t, "Staff Canteen")
	internal := f.license(t, staff.ID, now.Add(5*day), 7)
	require.NoError(t, f.db.Model(internal).Update("plan", "internal").Error)

	customer := f.tenant(t, "Rumah Makan Padang")
	paying := f.license(t, customer.ID, now.Add(5*day), 7)

	early := f.tenant(t, "Early Bird")
	f.license(t, early.ID, now.Add(20*day), 7)

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	summary, err := f.service.CheckAndSendReminders(context.Background())
	require.NoError(t, err)
	require.Equal(t, RunSummary{Checked: 3, Sent: 1, Skipped: 2}, summary)
	require.Equal(t, []ThresholdKind{Expiry30d}, f.records(t, paying.ID))
}

func TestInvalidFilterFailsStartup(t *testing.T) {
	f := newFixture(t)
	f.config.Reminder.Filter = "license.plan =="

	_, err := NewService(ServiceParams{DB: f.db, Node: f.node, Config: f.config, Sender: f.sender})
	require.Error(t, err)
}

package bootstrap

import (
	"context"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/services/license"
	"smallbiznis-licensing/services/reminder"
	"smallbiznis-licensing/services/task"
	"smallbiznis-licensing/services/tenant"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	config *config.Config
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		config: p.Config,
	}
}

// Models lists every table owned by the service.
func Models() []any {
	return []any{
		&tenant.Tenant{},
		&license.License{},
		&license.LicenseKey{},
		&reminder.Record{},
		&task.Task{},
		&task.Job{},
	}
}

// Migrate creates or updates the schema, including the partial unique index
// that keeps a single active license per tenant.
//
// Tenants tables created before admin_suspended existed only knew
// status=suspended, which always meant an operator action. When the column is
// added those rows are backfilled with admin_suspended=true, otherwise they
// would be reopened by the next activation.
func (s *Service) Migrate(ctx context.Context) error {
	zap.L().Info("[bootstrap] Migrating schema", zap.String("dialect", s.db.Dialector.Name()))

	db := s.db.WithContext(ctx)
	migrator := db.Migrator()
	backfill := migrator.HasTable(&tenant.Tenant{}) && !migrator.HasColumn(&tenant.Tenant{}, "admin_suspended")

	if err := db.AutoMigrate(Models()...); err != nil {
		zap.L().Error("[bootstrap] Failed to migrate schema", zap.Error(err))
		return err
	}

	if backfill {
		res := db.Model(&tenant.Tenant{}).
			Where("status = ?", tenant.Suspended).
			Update("admin_suspended", true)
		if res.Error != nil {
			zap.L().Error("[bootstrap] Failed to backfill admin_suspended", zap.Error(res.Error))
			return res.Error
		}
		zap.L().Info("[bootstrap] Backfilled admin_suspended for legacy suspended tenants", zap.Int64("rows", res.RowsAffected))
	}

	zap.L().Info("[bootstrap] Schema up to date")
	return nil
}

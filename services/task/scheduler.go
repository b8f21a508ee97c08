package task

import (
	"context"
	"encoding/json"
	"time"

	pkgasynq "smallbiznis-licensing/pkg/asynq"
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// TriggerSchedule marks runs started by the periodic scheduler.
const TriggerSchedule = "schedule"

// PeriodicTasks lists the license tasks with their configured schedules.
// Tasks with an empty schedule are registered inactive.
func PeriodicTasks(cfg *config.Config) []Task {
	return []Task{
		{
			Name:        taskname.LicenseReminderSend,
			Description: taskname.Descriptions[taskname.LicenseReminderSend],
			Schedule:    cfg.Reminder.SendSchedule,
			IsActive:    cfg.Reminder.SendSchedule != "",
		},
		{
			Name:        taskname.LicenseReminderCleanup,
			Description: taskname.Descriptions[taskname.LicenseReminderCleanup],
			Schedule:    cfg.Reminder.CleanupSchedule,
			IsActive:    cfg.Reminder.CleanupSchedule != "",
		},
	}
}

type SchedulerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Scheduler *asynq.Scheduler
	Service   *Service
}

// RegisterPeriodic registers the active periodic tasks on the asynq scheduler
// and records them in the task registry on start.
func RegisterPeriodic(p SchedulerParams) error {
	tasks := PeriodicTasks(p.Config)

	for _, t := range tasks {
		if !t.IsActive {
			zap.L().Info("[Scheduler] periodic task disabled", zap.String("task", t.Name))
			continue
		}

		payload, err := json.Marshal(pkgasynq.ReminderRunPayload{Trigger: TriggerSchedule})
		if err != nil {
			return err
		}

		entryID, err := p.Scheduler.Register(t.Schedule, asynq.NewTask(t.Name, payload),
			asynq.Queue(pkgasynq.QueueDefault),
			asynq.Unique(time.Minute),
			asynq.MaxRetry(3),
		)
		if err != nil {
			zap.L().Error("[Scheduler] failed to register periodic task", zap.String("task", t.Name), zap.String("schedule", t.Schedule), zap.Error(err))
			return err
		}

		zap.L().Info("[Scheduler] periodic task registered",
			zap.String("task", t.Name),
			zap.String("schedule", t.Schedule),
			zap.String("entry_id", entryID),
		)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Service.RegisterTasks(ctx, tasks...); err != nil {
				zap.L().Error("[Scheduler] failed to record task registry", zap.Error(err))
			}
			return nil
		},
	})

	return nil
}

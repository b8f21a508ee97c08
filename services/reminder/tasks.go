package reminder

import (
	"context"
	"encoding/json"
	"fmt"

	pkgasynq "smallbiznis-licensing/pkg/asynq"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/taskname"
	"smallbiznis-licensing/services/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TriggerCron  = "cron"
	TriggerAdmin = "admin"
)

// Runner executes reminder passes as recorded jobs.
type Runner struct {
	service *Service
	jobs    *task.Service
}

type RunnerParams struct {
	fx.In
	Service *Service
	Jobs    *task.Service
}

func NewRunner(p RunnerParams) *Runner {
	return &Runner{service: p.Service, jobs: p.Jobs}
}

// Send runs a send pass. jobID may name a pending job created by an enqueue.
func (r *Runner) Send(ctx context.Context, trigger, jobID string) (RunSummary, *task.Job, error) {
	var summary RunSummary
	job, err := r.jobs.Run(ctx, taskname.LicenseReminderSend, trigger, jobID, func(ctx context.Context) (any, error) {
		var err error
		summary, err = r.service.CheckAndSendReminders(ctx)
		return summary, err
	})
	return summary, job, err
}

func (r *Runner) Cleanup(ctx context.Context, trigger, jobID string) (CleanupSummary, *task.Job, error) {
	var summary CleanupSummary
	job, err := r.jobs.Run(ctx, taskname.LicenseReminderCleanup, trigger, jobID, func(ctx context.Context) (any, error) {
		deleted, err := r.service.CleanupOldReminders(ctx)
		summary.Deleted = deleted
		return summary, err
	})
	return summary, job, err
}

func (r *Runner) HandleSendTask(ctx context.Context, t *asynq.Task) error {
	payload, err := decodePayload(t)
	if err != nil {
		return err
	}
	_, _, err = r.Send(ctx, payload.Trigger, payload.JobID)
	return err
}

func (r *Runner) HandleCleanupTask(ctx context.Context, t *asynq.Task) error {
	payload, err := decodePayload(t)
	if err != nil {
		return err
	}
	_, _, err = r.Cleanup(ctx, payload.Trigger, payload.JobID)
	return err
}

func decodePayload(t *asynq.Task) (pkgasynq.ReminderRunPayload, error) {
	var payload pkgasynq.ReminderRunPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid reminder task payload", zap.String("task", t.Type()), zap.Error(err))
		return payload, fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return payload, nil
}

// RegisterTaskHandlers mounts the reminder tasks on the worker mux.
func RegisterTaskHandlers(mux *asynq.ServeMux, r *Runner) {
	mux.HandleFunc(taskname.LicenseReminderSend, r.HandleSendTask)
	mux.HandleFunc(taskname.LicenseReminderCleanup, r.HandleCleanupTask)
	logger.FromContext(context.Background()).Info("reminder task handlers registered",
		zap.Strings("tasks", []string{taskname.LicenseReminderSend, taskname.LicenseReminderCleanup}))
}

package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pkgasynq "smallbiznis-licensing/pkg/asynq"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/logger"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer pkgasynq.Enqueuer
	now      func() time.Time
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer pkgasynq.Enqueuer `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enqueuer: p.Enqueuer,
		now:      time.Now,
	}
}

// WithClock overrides the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RegisterTasks upserts the task registry.
func (s *Service) RegisterTasks(ctx context.Context, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "schedule", "is_active", "updated_at"}),
	}).Create(&tasks).Error
}

// Run records a job around fn. When jobID names a pending job created by
// Enqueue that row is reused, otherwise a new one is created. The result of
// fn is stored as the job metadata, and fn's error is returned unchanged.
func (s *Service) Run(ctx context.Context, taskName, trigger, jobID string, fn func(ctx context.Context) (any, error)) (*Job, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("task", taskName), zap.String("trigger", trigger))

	job, err := s.start(ctx, taskName, trigger, jobID)
	if err != nil {
		zapLog.Error("failed to record job start", zap.Error(err))
		return nil, err
	}

	result, runErr := fn(ctx)

	now := s.now().UTC()
	values := map[string]any{
		"completed_at": now,
		"updated_at":   now,
		"status":       JobSuccess,
	}
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			values["metadata"] = datatypes.JSON(b)
			job.Metadata = b
		}
	}
	if runErr != nil {
		values["status"] = JobFailed
		values["error_msg"] = runErr.Error()
		job.ErrorMsg = runErr.Error()
	}

	// the run already happened, a cancelled request must not lose its record
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&Job{}).Where("id = ?", job.ID).Updates(values).Error; err != nil {
		zapLog.Error("failed to record job completion", zap.String("job_id", job.ID), zap.Error(err))
	}

	job.Status = values["status"].(JobStatus)
	job.CompletedAt = &now

	if runErr != nil {
		zapLog.Error("job failed", zap.String("job_id", job.ID), zap.Error(runErr))
	} else {
		zapLog.Info("job finished", zap.String("job_id", job.ID), zap.Duration("duration", now.Sub(*job.StartedAt)))
	}

	return job, runErr
}

func (s *Service) start(ctx context.Context, taskName, trigger, jobID string) (*Job, error) {
	now := s.now().UTC()

	if jobID != "" {
		var job Job
		err := s.db.WithContext(ctx).Where("id = ? AND task_name = ?", jobID, taskName).First(&job).Error
		if err == nil {
			if err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
				"status":     JobRunning,
				"started_at": now,
				"updated_at": now,
			}).Error; err != nil {
				return nil, err
			}
			job.Status = JobRunning
			job.StartedAt = &now
			return &job, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	job := &Job{
		ID:        s.node.Generate().String(),
		TaskName:  taskName,
		Trigger:   trigger,
		Status:    JobRunning,
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// Enqueue creates a pending job and hands the task to asynq. The job id
// travels in the payload so the worker updates the same row.
func (s *Service) Enqueue(ctx context.Context, taskName string, payload pkgasynq.ReminderRunPayload, opts ...asynq.Option) (*Job, error) {
	if s.enqueuer == nil {
		return nil, errutil.New(errutil.StatusServiceUnavailable, "task queue is not configured")
	}

	zapLog := logger.FromContext(ctx)

	now := s.now().UTC()
	job := &Job{
		ID:        s.node.Generate().String(),
		TaskName:  taskName,
		Trigger:   payload.Trigger,
		Status:    JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, errutil.Internal("failed to create job", err)
	}

	payload.JobID = job.ID
	if payload.RequestedAt.IsZero() {
		payload.RequestedAt = now
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errutil.Internal("failed to encode task payload", err)
	}

	info, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskName, body), opts...)
	if err != nil {
		if uerr := s.db.WithContext(context.WithoutCancel(ctx)).Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
			"status":     JobFailed,
			"error_msg":  err.Error(),
			"updated_at": now,
		}).Error; uerr != nil {
			zapLog.Error("failed to record enqueue failure", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		job.Status = JobFailed
		job.ErrorMsg = err.Error()

		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return job, errutil.Conflict("a run is already queued", err)
		}
		zapLog.Error("failed to enqueue task", zap.String("task", taskName), zap.Error(err))
		return job, errutil.Internal("failed to enqueue task", err)
	}

	zapLog.Info("task enqueued",
		zap.String("task", taskName),
		zap.String("job_id", job.ID),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
	return job, nil
}

// ListJobs returns the most recent jobs, optionally for one task.
func (s *Service) ListJobs(ctx context.Context, taskName string, limit int) ([]*Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	q := s.db.WithContext(ctx).Model(&Job{})
	if taskName != "" {
		q = q.Where("task_name = ?", taskName)
	}

	var jobs []*Job
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, errutil.Internal("failed to list jobs", err)
	}
	return jobs, nil
}

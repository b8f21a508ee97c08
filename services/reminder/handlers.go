package reminder

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	pkgasynq "smallbiznis-licensing/pkg/asynq"
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/rediskey"
	"smallbiznis-licensing/pkg/session"
	"smallbiznis-licensing/pkg/taskname"
	"smallbiznis-licensing/services/task"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Handler struct {
	config *config.Config
	runner *Runner
	jobs   *task.Service
}

type HandlerParams struct {
	fx.In
	Config *config.Config
	Runner *Runner
	Jobs   *task.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{config: p.Config, runner: p.Runner, jobs: p.Jobs}
}

// RegisterCronRoutes mounts the external scheduler trigger. It is protected by
// the cron secret only.
func (h *Handler) RegisterCronRoutes(r *gin.RouterGroup) {
	r.POST("/cron/license-reminders", h.Cron)
}

func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/reminders/run", h.Run)
	r.GET("/reminders/jobs", h.ListJobs)
}

type cronResponse struct {
	Send    RunSummary     `json:"send"`
	Cleanup CleanupSummary `json:"cleanup"`
	JobID   string         `json:"jobId,omitempty"`
}

// Cron runs a send pass followed by a cleanup pass.
func (h *Handler) Cron(c *gin.Context) {
	if !h.authorizedCron(c) {
		_ = c.Error(errutil.Unauthorized("invalid cron credentials", nil))
		return
	}

	ctx := c.Request.Context()
	send, job, err := h.runner.Send(ctx, TriggerCron, "")
	if err != nil {
		_ = c.Error(err)
		return
	}

	cleanup, _, err := h.runner.Cleanup(ctx, TriggerCron, "")
	if err != nil {
		// reminders already went out, report them
		logger.FromContext(ctx).Error("reminder cleanup failed after send", zap.Error(err))
	}

	c.JSON(http.StatusOK, cronResponse{Send: send, Cleanup: cleanup, JobID: job.ID})
}

// authorizedCron compares the bearer token with the configured secret in
// constant time. An unset secret rejects every call.
func (h *Handler) authorizedCron(c *gin.Context) bool {
	secret := h.config.Reminder.CronSecret
	if secret == "" {
		logger.FromContext(c.Request.Context()).Warn("cron trigger rejected, no cron secret configured")
		return false
	}

	token := session.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// Run starts a send pass for an administrator. With ?async=true the pass is
// queued on the worker, otherwise it runs in the request.
func (h *Handler) Run(c *gin.Context) {
	ctx := c.Request.Context()
	requestedBy := session.Subject(c)

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		job, err := h.jobs.Enqueue(ctx, taskname.LicenseReminderSend, pkgasynq.ReminderRunPayload{
			Trigger:     TriggerAdmin,
			RequestedBy: requestedBy,
		},
			asynq.Queue(pkgasynq.QueueCritical),
			asynq.TaskID(rediskey.BuildReminderRunKey(h.runner.service.now())),
			asynq.MaxRetry(3),
		)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"data": job})
		return
	}

	logger.FromContext(ctx).Info("manual reminder run", zap.String("requested_by", requestedBy))
	summary, job, err := h.runner.Send(ctx, TriggerAdmin, "")
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary, "jobId": job.ID})
}

func (h *Handler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	jobs, err := h.jobs.ListJobs(c.Request.Context(), c.Query("task"), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgasynq "smallbiznis-licensing/pkg/asynq"
	"smallbiznis-licensing/pkg/middleware"
	"smallbiznis-licensing/pkg/taskname"
	"smallbiznis-licensing/services/task"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func (f *fixture) router() *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewHandler(HandlerParams{
		Config: f.config,
		Runner: NewRunner(RunnerParams{Service: f.service, Jobs: f.jobs}),
		Jobs:   f.jobs,
	})

	r := gin.New()
	r.Use(middleware.Error())
	api := r.Group("/api")
	h.RegisterCronRoutes(api)
	h.RegisterAdminRoutes(api.Group("/admin"))
	return r
}

func TestCronRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	r := f.router()

	for name, header := range map[string]string{
		"missing":     "",
		"wrong":       "Bearer not-the-secret",
		"wrong style": "cron-secret",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/cron/license-reminders", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestCronRejectsWhenSecretUnset(t *testing.T) {
	f := newFixture(t)
	f.config.Reminder.CronSecret = ""
	r := f.router()

	req := httptest.NewRequest(http.MethodPost, "/api/cron/license-reminders", nil)
	req.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCronRunsSendAndCleanup(t *testing.T) {
	f := newFixture(t)
	tn := f.tenant(t, "Ayam Geprek Juara")
	f.license(t, tn.ID, now.Add(day), 7)
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/cron/license-reminders", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	w := httptest.NewRecorder()
	f.router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body cronResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Send.Sent)
	require.NotEmpty(t, body.JobID)

	jobs, err := f.jobs.ListJobs(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		require.Equal(t, TriggerCron, job.Trigger)
		require.Equal(t, task.JobSuccess, job.Status)
	}
}

func TestAdminRunInline(t *testing.T) {
	f := newFixture(t)
	tn := f.tenant(t, "Pempek Palembang")
	f.license(t, tn.ID, now.Add(4*day), 7)
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	w := httptest.NewRecorder()
	f.router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/reminders/run", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data  RunSummary `json:"data"`
		JobID string     `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, RunSummary{Checked: 1, Sent: 1}, body.Data)

	w = httptest.NewRecorder()
	f.router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/reminders/jobs?task="+taskname.LicenseReminderSend, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), body.JobID)
}

func TestAdminRunAsyncWithoutQueue(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/reminders/run?async=true", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTaskHandlers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	runner := NewRunner(RunnerParams{Service: f.service, Jobs: f.jobs})

	payload, err := json.Marshal(pkgasynq.ReminderRunPayload{Trigger: task.TriggerSchedule})
	require.NoError(t, err)

	require.NoError(t, runner.HandleSendTask(ctx, asynq.NewTask(taskname.LicenseReminderSend, payload)))
	require.NoError(t, runner.HandleCleanupTask(ctx, asynq.NewTask(taskname.LicenseReminderCleanup, payload)))

	jobs, err := f.jobs.ListJobs(ctx, taskname.LicenseReminderSend, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, task.TriggerSchedule, jobs[0].Trigger)
	require.Equal(t, task.JobSuccess, jobs[0].Status)
	require.JSONEq(t, `{"checked":0,"sent":0,"skipped":0,"failed":0}`, string(jobs[0].Metadata))

	err = runner.HandleSendTask(ctx, asynq.NewTask(taskname.LicenseReminderSend, []byte("{")))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"smallbiznis-licensing/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func webhookConfig(url string) *config.Config {
	cfg := &config.Config{}
	cfg.Notification.Driver = DriverWebhook
	cfg.Notification.WebhookURL = url
	cfg.Notification.Token = "relay-token"
	cfg.Notification.Timeout = 2 * time.Second
	cfg.Notification.RetryCount = 1
	return cfg
}

func TestWebhookSenderPostsPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer relay-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewSender(webhookConfig(srv.URL))
	require.IsType(t, &WebhookSender{}, sender)

	err := sender.Send(context.Background(), TemplateLicenseExpiring, Contact{TenantID: "t1", Email: "owner@example.com"}, map[string]string{"days_remaining": "7"})
	require.NoError(t, err)
	require.Equal(t, TemplateLicenseExpiring, got.Template)
	require.Equal(t, "owner@example.com", got.Contact.Email)
	require.Equal(t, "7", got.Variables["days_remaining"])
}

func TestWebhookSenderRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(webhookConfig(srv.URL))
	err := sender.Send(context.Background(), TemplateLicenseGrace, Contact{TenantID: "t1", Email: "owner@example.com"}, nil)
	require.Error(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWebhookSenderRequiresEmail(t *testing.T) {
	sender := NewWebhookSender(webhookConfig("http://127.0.0.1:1"))
	require.Error(t, sender.Send(context.Background(), TemplateLicenseGrace, Contact{TenantID: "t1"}, nil))
}

func TestNewSenderFallsBackToLog(t *testing.T) {
	cfg := &config.Config{}
	require.IsType(t, &LogSender{}, NewSender(cfg))

	cfg.Notification.Driver = DriverWebhook
	require.IsType(t, &LogSender{}, NewSender(cfg))

	require.NoError(t, NewLogSender().Send(context.Background(), TemplateLicenseExpiring, Contact{TenantID: "t1"}, map[string]string{"a": "b"}))
}

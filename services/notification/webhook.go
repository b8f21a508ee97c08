package notification

import (
	"context"
	"fmt"
	"time"

	"smallbiznis-licensing/pkg/config"

	"github.com/go-resty/resty/v2"
)

type webhookPayload struct {
	Template  TemplateKind      `json:"template"`
	Contact   Contact           `json:"contact"`
	Variables map[string]string `json:"variables"`
	SentAt    time.Time         `json:"sentAt"`
}

// WebhookSender posts notifications to an email relay.
type WebhookSender struct {
	client *resty.Client
	url    string
}

func NewWebhookSender(cfg *config.Config) *WebhookSender {
	timeout := cfg.Notification.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.Notification.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	if cfg.Notification.Token != "" {
		client.SetAuthToken(cfg.Notification.Token)
	}

	return &WebhookSender{client: client, url: cfg.Notification.WebhookURL}
}

func (s *WebhookSender) Send(ctx context.Context, kind TemplateKind, contact Contact, vars map[string]string) error {
	if contact.Email == "" {
		return fmt.Errorf("notification: tenant %s has no contact email", contact.TenantID)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{
			Template:  kind,
			Contact:   contact,
			Variables: vars,
			SentAt:    time.Now().UTC(),
		}).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("notification: post %s: %w", kind, err)
	}

	if resp.IsError() {
		return fmt.Errorf("notification: relay responded %d", resp.StatusCode())
	}

	return nil
}

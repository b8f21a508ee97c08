package notification

import (
	"context"
	"strings"

	"smallbiznis-licensing/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:generate mockgen -source=sender.go -destination=mock_sender.go -package=notification

type TemplateKind string

const (
	TemplateLicenseExpiring TemplateKind = "license_expiring"
	TemplateLicenseGrace    TemplateKind = "license_grace_period"
)

// Contact is where a tenant receives license notices.
type Contact struct {
	TenantID   string `json:"tenantId"`
	TenantSlug string `json:"tenantSlug"`
	TenantName string `json:"tenantName"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}

// Sender delivers a rendered notification. Callers only care whether it
// succeeded.
type Sender interface {
	Send(ctx context.Context, kind TemplateKind, contact Contact, vars map[string]string) error
}

var Module = fx.Module("notification",
	fx.Provide(NewSender),
)

const (
	DriverLog     = "log"
	DriverWebhook = "webhook"
)

func NewSender(cfg *config.Config) Sender {
	switch strings.ToLower(cfg.Notification.Driver) {
	case DriverWebhook:
		if cfg.Notification.WebhookURL == "" {
			zap.L().Warn("notification webhook url is empty, falling back to log driver")
			return NewLogSender()
		}
		return NewWebhookSender(cfg)
	default:
		return NewLogSender()
	}
}

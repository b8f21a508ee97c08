package notification

import (
	"context"

	"smallbiznis-licensing/pkg/logger"

	"go.uber.org/zap"
)

// LogSender writes notifications to the structured log. Used in development
// and wherever no relay is configured.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(ctx context.Context, kind TemplateKind, contact Contact, vars map[string]string) error {
	fields := []zap.Field{
		zap.String("template", string(kind)),
		zap.String("tenant_id", contact.TenantID),
		zap.String("email", contact.Email),
	}
	for k, v := range vars {
		fields = append(fields, zap.String("var."+k, v))
	}

	logger.FromContext(ctx).Info("notification sent", fields...)
	return nil
}

package sink

import (
	"context"

	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	"go.uber.org/zap"
)

// LogSink writes every notification to the structured log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("notification.log")}
}

func (s *LogSink) Notify(_ context.Context, admins []notificationdomain.TenantAdmin, kind notificationdomain.Kind, payload map[string]any) error {
	recipients := make([]string, 0, len(admins))
	for _, admin := range admins {
		recipients = append(recipients, admin.UserID)
	}
	s.log.Info("notification.sent",
		zap.String("kind", string(kind)),
		zap.Strings("recipients", recipients),
		zap.Any("payload", payload),
	)
	return nil
}

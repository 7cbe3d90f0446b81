package notification

import (
	"github.com/Ajamix/saas-platform-api/internal/config"
	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	"github.com/Ajamix/saas-platform-api/internal/notification/repository"
	"github.com/Ajamix/saas-platform-api/internal/notification/service"
	"github.com/Ajamix/saas-platform-api/internal/notification/sink"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(repository.NewDirectory),
	fx.Provide(
		fx.Annotate(
			func(log *zap.Logger) notificationdomain.Sink { return sink.NewLogSink(log) },
			fx.ResultTags(`group:"notification.sinks"`),
		),
		fx.Annotate(
			newEmailSink,
			fx.ResultTags(`group:"notification.sinks"`),
		),
	),
	fx.Provide(service.NewDispatcher),
)

// newEmailSink returns nil when SMTP is not configured; the dispatcher
// skips nil sinks.
func newEmailSink(cfg config.Config) notificationdomain.Sink {
	if cfg.Email.SMTPHost == "" {
		return nil
	}
	return sink.NewEmailSink(sink.EmailConfig{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	})
}

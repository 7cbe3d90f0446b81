package cancellation

import (
	cancellationdomain "github.com/Ajamix/saas-platform-api/internal/cancellation/domain"
	"github.com/Ajamix/saas-platform-api/internal/cancellation/service"
	notificationservice "github.com/Ajamix/saas-platform-api/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cancellation.service",
	fx.Provide(
		service.NewService,
		func(d *notificationservice.Dispatcher) cancellationdomain.Notifier { return d },
	),
)

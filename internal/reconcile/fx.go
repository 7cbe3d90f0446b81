package reconcile

import (
	"github.com/Ajamix/saas-platform-api/internal/reconcile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile.service",
	fx.Provide(service.NewService),
)

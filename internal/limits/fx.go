package limits

import (
	"github.com/Ajamix/saas-platform-api/internal/limits/service"
	"go.uber.org/fx"
)

var Module = fx.Module("limits.service",
	fx.Provide(service.NewService),
)

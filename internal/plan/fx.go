package plan

import (
	"github.com/Ajamix/saas-platform-api/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(service.NewService),
)

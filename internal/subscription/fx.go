package subscription

import (
	"github.com/Ajamix/saas-platform-api/internal/subscription/repository"
	"github.com/Ajamix/saas-platform-api/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

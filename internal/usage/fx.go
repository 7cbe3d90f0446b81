package usage

import (
	"github.com/Ajamix/saas-platform-api/internal/usage/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.counter",
	fx.Provide(repository.Provide),
)

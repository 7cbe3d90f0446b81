package metrics

import (
	"github.com/Ajamix/saas-platform-api/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(
		provideConfig,
		LifecycleWithConfig,
		SchedulerWithConfig,
	),
)

func provideConfig(cfg config.Config) Config {
	return Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	}
}

package lock

import (
	"context"
	"strings"

	"github.com/Ajamix/saas-platform-api/internal/clock"
	"github.com/Ajamix/saas-platform-api/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns a redis-backed Claimer when REDIS_ADDR is set, so
// replicas share claims, and an in-process one otherwise.
func NewFromConfig(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, log *zap.Logger) Claimer {
	log = log.Named("lock")
	if !cfg.Redis.Enabled() {
		log.Info("lock.backend", zap.String("backend", "memory"))
		return NewMemoryLocker(clk)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Redis.Addr),
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("lock.redis.unreachable", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("lock.backend", zap.String("backend", "redis"), zap.String("addr", cfg.Redis.Addr))
	return NewRedisLocker(client)
}

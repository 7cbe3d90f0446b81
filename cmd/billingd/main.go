package main

import (
	"github.com/Ajamix/saas-platform-api/internal/cancellation"
	"github.com/Ajamix/saas-platform-api/internal/clock"
	"github.com/Ajamix/saas-platform-api/internal/config"
	"github.com/Ajamix/saas-platform-api/internal/gateway"
	"github.com/Ajamix/saas-platform-api/internal/limits"
	"github.com/Ajamix/saas-platform-api/internal/lock"
	"github.com/Ajamix/saas-platform-api/internal/logger"
	"github.com/Ajamix/saas-platform-api/internal/migration"
	"github.com/Ajamix/saas-platform-api/internal/notification"
	"github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	"github.com/Ajamix/saas-platform-api/internal/observability/tracing"
	"github.com/Ajamix/saas-platform-api/internal/plan"
	"github.com/Ajamix/saas-platform-api/internal/reconcile"
	"github.com/Ajamix/saas-platform-api/internal/scheduler"
	"github.com/Ajamix/saas-platform-api/internal/server"
	"github.com/Ajamix/saas-platform-api/internal/subscription"
	"github.com/Ajamix/saas-platform-api/internal/usage"
	"github.com/Ajamix/saas-platform-api/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		clock.Module,
		tracing.Module,
		metrics.Module,
		db.Module,
		migration.Module,
		lock.Module,
		gateway.Module,
		notification.Module,

		// Billing domains
		plan.Module,
		subscription.Module,
		usage.Module,
		limits.Module,
		reconcile.Module,
		cancellation.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

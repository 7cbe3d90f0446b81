package scheduler

import (
	"context"
	"time"

	notificationservice "github.com/Ajamix/saas-platform-api/internal/notification/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(func(d *notificationservice.Dispatcher) Notifier { return d }),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

// NewScheduler registers both sweeps on a UTC cron and ties it to the app
// lifecycle. Running jobs are cancelled on stop.
func NewScheduler(lc fx.Lifecycle, cfg Config, sched *Scheduler) error {
	if !cfg.Enabled {
		sched.log.Info("scheduler.disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	runner := cron.New(cron.WithLocation(time.UTC))
	if _, err := runner.AddFunc(sched.cfg.DailySpec, func() {
		if err := sched.RunDailySweep(ctx); err != nil {
			sched.log.Warn("scheduler.run.failed", zap.String("job", JobDailySweep), zap.Error(err))
		}
	}); err != nil {
		cancel()
		return err
	}
	if _, err := runner.AddFunc(sched.cfg.MonthlySpec, func() {
		if err := sched.RunMonthlySweep(ctx); err != nil {
			sched.log.Warn("scheduler.run.failed", zap.String("job", JobMonthlySweep), zap.Error(err))
		}
	}); err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runner.Start()
			sched.log.Info("scheduler.started",
				zap.String("daily_spec", sched.cfg.DailySpec),
				zap.String("monthly_spec", sched.cfg.MonthlySpec),
			)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-runner.Stop().Done():
			case <-stopCtx.Done():
			}
			return nil
		},
	})
	return nil
}

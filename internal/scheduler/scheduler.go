package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ajamix/saas-platform-api/internal/clock"
	"github.com/Ajamix/saas-platform-api/internal/lock"
	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	obsmetrics "github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	reconciledomain "github.com/Ajamix/saas-platform-api/internal/reconcile/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobDailySweep   = "check-expired-subscriptions"
	JobMonthlySweep = "send-payment-reminders"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Notifier drains events produced by sweep tasks.
type Notifier interface {
	Drain(ctx context.Context, events []notificationdomain.Event)
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       subscriptiondomain.Repository
	Reconciler reconciledomain.Service
	Notifier   Notifier
	Claimer    lock.Claimer
	Metrics    *obsmetrics.SchedulerMetrics `optional:"true"`
	Config     Config                       `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	repo       subscriptiondomain.Repository
	reconciler reconciledomain.Service
	notifier   Notifier
	claimer    lock.Claimer
	metrics    *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil || p.Repo == nil || p.Reconciler == nil || p.Notifier == nil || p.Claimer == nil {
		return nil, ErrInvalidConfig
	}
	schedMetrics := p.Metrics
	if schedMetrics == nil {
		schedMetrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		reconciler: p.Reconciler,
		notifier:   p.Notifier,
		claimer:    p.Claimer,
		metrics:    schedMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; unfinished rows are picked up next tick
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("scheduler.job.timeout",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

type tickClaim struct {
	key   string
	token string
}

// claimTick reports whether this process owns the tick for job. A claim
// backend failure lets the run proceed; reminders tolerate a duplicate.
func (s *Scheduler) claimTick(ctx context.Context, job string, tick time.Time) (tickClaim, bool) {
	key := "scheduler:" + job + ":" + tick.UTC().Truncate(time.Minute).Format(time.RFC3339)
	token, ok, err := s.claimer.TryLock(ctx, key, s.cfg.ClaimTTL)
	if err != nil {
		s.log.Warn("scheduler.claim.failed", zap.String("job", job), zap.String("key", key), zap.Error(err))
		return tickClaim{}, true
	}
	if !ok {
		s.metrics.IncJobDeduplicated(job)
		s.log.Info("scheduler.job.deduplicated", zap.String("job", job), zap.String("key", key))
	}
	return tickClaim{key: key, token: token}, ok
}

// releaseTick gives the tick back after a failed run so a retry within the
// same minute is not deduplicated away.
func (s *Scheduler) releaseTick(ctx context.Context, job string, claim tickClaim) {
	if claim.token == "" {
		return
	}
	if err := s.claimer.Release(context.WithoutCancel(ctx), claim.key, claim.token); err != nil {
		s.log.Warn("scheduler.claim.release_failed", zap.String("job", job), zap.String("key", claim.key), zap.Error(err))
	}
}

func (s *Scheduler) runClaimed(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	claim, ok := s.claimTick(ctx, name, s.clock.Now())
	if !ok {
		return nil
	}
	err := s.runJob(ctx, name, s.cfg.BatchSize, s.cfg.JobTimeout, fn)
	if err != nil {
		s.releaseTick(ctx, name, claim)
	}
	return err
}

// RunDailySweep reconciles every subscription whose period has ended.
func (s *Scheduler) RunDailySweep(ctx context.Context) error {
	return s.runClaimed(ctx, JobDailySweep, s.dailySweep)
}

// RunMonthlySweep emits payment reminders for periods ending in exactly
// ReminderLeadDays days.
func (s *Scheduler) RunMonthlySweep(ctx context.Context) error {
	return s.runClaimed(ctx, JobMonthlySweep, s.monthlySweep)
}

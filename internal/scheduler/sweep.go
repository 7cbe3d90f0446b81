package scheduler

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	obsmetrics "github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	reconciledomain "github.com/Ajamix/saas-platform-api/internal/reconcile/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (s *Scheduler) dailySweep(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobDailySweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now().UTC()
	var (
		afterID snowflake.ID
		jobErr  error
	)

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		batch, err := s.repo.ListDueForSweep(ctx, s.db, now, afterID, s.cfg.BatchSize)
		if err != nil {
			s.logger(ctx).Error("scheduler.sweep.list_failed", zap.Error(err))
			return errors.Join(jobErr, err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID

		jobErr = errors.Join(jobErr, s.reconcileBatch(ctx, run, batch))
		if len(batch) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

// reconcileBatch runs one task per subscription on a bounded pool. A failed
// task never stops its siblings; failures are joined.
func (s *Scheduler) reconcileBatch(ctx context.Context, run *jobRun, batch []subscriptiondomain.Subscription) error {
	var (
		mu       sync.Mutex
		batchErr error
		g        errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	for _, subscription := range batch {
		g.Go(func() error {
			result, attempts, err := s.reconcileWithRetry(ctx, subscription.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.metrics.IncTask(JobDailySweep, obsmetrics.TaskOutcomeAbandoned)
				s.logTaskError(ctx, run, "scheduler.task.abandoned", subscription.ID, attempts, err)
				batchErr = errors.Join(batchErr, err)
				return nil
			}
			s.metrics.IncTask(JobDailySweep, obsmetrics.TaskOutcomeSucceeded)
			run.AddProcessed(1)
			if len(result.Events) > 0 {
				s.notifier.Drain(ctx, result.Events)
			}
			return nil
		})
	}
	_ = g.Wait()
	return batchErr
}

// reconcileWithRetry gives one subscription up to MaxAttempts tries with
// exponential backoff. Each attempt has its own deadline and re-reads the row.
func (s *Scheduler) reconcileWithRetry(ctx context.Context, id snowflake.ID) (reconciledomain.Result, int, error) {
	attempts := 0
	operation := func() (reconciledomain.Result, error) {
		attempts++
		if attempts > 1 {
			s.metrics.IncTaskRetry(JobDailySweep)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		defer cancel()

		result, err := s.reconciler.ReconcileByID(attemptCtx, id)
		if err == nil {
			return result, nil
		}
		if !obsmetrics.IsSchedulerErrorRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger(ctx).Warn("scheduler.task.retry",
				zap.String("subscription_id", id.String()),
				zap.Int("attempt", attempts),
				zap.Duration("next_attempt_in", next),
				zap.Error(err),
			)
		}),
	)
	return result, attempts, err
}

func (s *Scheduler) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxInterval = 16 * s.cfg.InitialBackoff
	return b
}

func (s *Scheduler) monthlySweep(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobMonthlySweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now().UTC()
	lead := s.cfg.ReminderLeadDays
	// ceil(remaining / 24h) == lead
	from := now.Add(time.Duration(lead-1) * 24 * time.Hour)
	to := now.Add(time.Duration(lead) * 24 * time.Hour)

	var afterID snowflake.ID
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		batch, err := s.repo.ListActiveEndingBetween(ctx, s.db, from, to, afterID, s.cfg.BatchSize)
		if err != nil {
			s.logger(ctx).Error("scheduler.reminders.list_failed", zap.Error(err))
			return err
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID

		events := make([]notificationdomain.Event, 0, len(batch))
		for _, subscription := range batch {
			days := daysRemaining(now, subscription.CurrentPeriodEnd)
			if days != lead {
				s.metrics.IncTask(JobMonthlySweep, obsmetrics.TaskOutcomeSkipped)
				continue
			}
			events = append(events, subscription.ReminderEvent(now, days, s.cfg.BillingURL))
		}
		s.notifier.Drain(ctx, events)
		for range events {
			s.metrics.IncTask(JobMonthlySweep, obsmetrics.TaskOutcomeSucceeded)
		}
		run.AddProcessed(len(events))

		if len(batch) < s.cfg.BatchSize {
			break
		}
	}
	return nil
}

func daysRemaining(now, end time.Time) int {
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ajamix/saas-platform-api/internal/clock"
	"github.com/Ajamix/saas-platform-api/internal/gateway"
	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	"github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	reconciledomain "github.com/Ajamix/saas-platform-api/internal/reconcile/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock    clock.Clock
	repo     subscriptiondomain.Repository
	gateways *gateway.Registry
	metrics  *metrics.LifecycleMetrics
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     subscriptiondomain.Repository
	Gateways *gateway.Registry
	Metrics  *metrics.LifecycleMetrics `optional:"true"`
}

func NewService(p ServiceParam) reconciledomain.Service {
	lifecycleMetrics := p.Metrics
	if lifecycleMetrics == nil {
		lifecycleMetrics = metrics.Lifecycle()
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("reconcile.service"),

		clock:    p.Clock,
		repo:     p.Repo,
		gateways: p.Gateways,
		metrics:  lifecycleMetrics,
	}
}

func (s *Service) ReconcileByID(ctx context.Context, id snowflake.ID) (reconciledomain.Result, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return reconciledomain.Result{}, err
	}
	if subscription == nil {
		return reconciledomain.Result{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return s.reconcile(ctx, *subscription)
}

func (s *Service) ReconcileByExternalID(ctx context.Context, externalID string) (reconciledomain.Result, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return reconciledomain.Result{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	subscription, err := s.repo.FindByExternalID(ctx, s.db, externalID)
	if err != nil {
		return reconciledomain.Result{}, err
	}
	if subscription == nil {
		return reconciledomain.Result{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return s.reconcile(ctx, *subscription)
}

// reconcile runs state-check, then the gateway query, then the guarded write.
// The write fails with ErrStaleSubscription if the row moved in between.
func (s *Service) reconcile(ctx context.Context, subscription subscriptiondomain.Subscription) (reconciledomain.Result, error) {
	now := s.clock.Now().UTC()
	logFields := []zap.Field{
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("tenant_id", subscription.TenantID),
		zap.String("status", string(subscription.Status)),
	}

	if subscription.Status == subscriptiondomain.SubscriptionStatusExpired {
		return s.noop(subscription), nil
	}
	due := subscription.PeriodEndedAt(now)

	externalID := subscription.ExternalID()
	if externalID == "" {
		if !due {
			return s.noop(subscription), nil
		}
		// nothing upstream can renew a row the gateway never knew about
		return s.apply(ctx, subscription, reconciledomain.ActionExpired, now, logFields)
	}

	gw, err := s.gateways.For(subscription.Provider())
	if err != nil {
		return reconciledomain.Result{}, gatewaydomain.Permanent("resolve_provider", err)
	}
	status, err := gw.GetSubscriptionStatus(ctx, externalID)
	if err != nil {
		s.log.Warn("reconcile.gateway.failed", append(logFields, zap.Error(err))...)
		return reconciledomain.Result{}, fmt.Errorf("reconcile %s: %w", subscription.ID, err)
	}
	logFields = append(logFields, zap.String("gateway_status", string(status)))

	switch status {
	case gatewaydomain.StatusActive:
		if !due {
			return s.noop(subscription), nil
		}
		if subscription.Status == subscriptiondomain.SubscriptionStatusCanceled {
			return s.resolveCanceledButActive(ctx, gw, subscription, now, logFields)
		}
		return s.apply(ctx, subscription, reconciledomain.ActionExtended, now, logFields)

	case gatewaydomain.StatusCanceled, gatewaydomain.StatusLapsed:
		if due {
			return s.apply(ctx, subscription, reconciledomain.ActionExpired, now, logFields)
		}
		if status == gatewaydomain.StatusCanceled && subscription.Status == subscriptiondomain.SubscriptionStatusActive {
			// canceled upstream mid-period; the paid window is still honored
			return s.apply(ctx, subscription, reconciledomain.ActionCanceled, now, logFields)
		}
		return s.noop(subscription), nil

	default:
		s.log.Warn("reconcile.gateway.unknown_status", logFields...)
		return reconciledomain.Result{}, fmt.Errorf("reconcile %s: %w", subscription.ID, gatewaydomain.ErrUnknownStatus)
	}
}

// resolveCanceledButActive handles a row canceled locally whose gateway
// subscription is still active at period end. The cancel is re-issued; if
// the gateway accepts it the row expires, otherwise the gateway keeps the
// tenant entitled for another period and the cancellation intent is kept.
func (s *Service) resolveCanceledButActive(ctx context.Context, gw gatewaydomain.Gateway, subscription subscriptiondomain.Subscription, now time.Time, logFields []zap.Field) (reconciledomain.Result, error) {
	if err := gw.CancelSubscription(ctx, subscription.ExternalID()); err != nil {
		s.log.Warn("reconcile.gateway_cancel.retry_failed", append(logFields, zap.Error(err))...)
		return s.apply(ctx, subscription, reconciledomain.ActionExtended, now, logFields)
	}
	s.log.Info("reconcile.gateway_cancel.retried", logFields...)
	return s.apply(ctx, subscription, reconciledomain.ActionExpired, now, logFields)
}

func (s *Service) apply(ctx context.Context, subscription subscriptiondomain.Subscription, action reconciledomain.Action, now time.Time, logFields []zap.Field) (reconciledomain.Result, error) {
	expectedVersion := subscription.Version
	previousStatus := subscription.Status

	var err error
	switch action {
	case reconciledomain.ActionExtended:
		err = subscription.ExtendPeriod(now)
	case reconciledomain.ActionExpired:
		err = subscription.MarkExpired(now)
	case reconciledomain.ActionCanceled:
		err = subscription.MarkCanceled(now)
	}
	if err != nil {
		return reconciledomain.Result{}, err
	}

	if err := s.repo.UpdateLifecycle(ctx, s.db, &subscription, expectedVersion); err != nil {
		s.log.Warn("reconcile.write.failed", append(logFields, zap.String("action", string(action)), zap.Error(err))...)
		return reconciledomain.Result{}, err
	}

	s.metrics.IncReconcileAction(string(action))
	s.log.Info("reconcile."+string(action), append(logFields,
		zap.String("new_status", string(subscription.Status)),
		zap.Time("current_period_end", subscription.CurrentPeriodEnd),
	)...)

	result := reconciledomain.Result{Action: action, Subscription: subscription}
	if subscription.Status != previousStatus {
		result.Events = []notificationdomain.Event{subscription.ChangeEvent(now)}
	}
	return result, nil
}

func (s *Service) noop(subscription subscriptiondomain.Subscription) reconciledomain.Result {
	s.metrics.IncReconcileAction(string(reconciledomain.ActionNoop))
	return reconciledomain.Result{Action: reconciledomain.ActionNoop, Subscription: subscription}
}

package service

import (
	"context"
	"errors"
	"time"

	cancellationdomain "github.com/Ajamix/saas-platform-api/internal/cancellation/domain"
	"github.com/Ajamix/saas-platform-api/internal/clock"
	"github.com/Ajamix/saas-platform-api/internal/config"
	"github.com/Ajamix/saas-platform-api/internal/gateway"
	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock       clock.Clock
	repo        subscriptiondomain.Repository
	gateways    *gateway.Registry
	notifier    cancellationdomain.Notifier
	callTimeout time.Duration
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.Config
	Repo     subscriptiondomain.Repository
	Gateways *gateway.Registry
	Notifier cancellationdomain.Notifier `optional:"true"`
}

func NewService(p ServiceParam) cancellationdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("cancellation.service"),

		clock:       p.Clock,
		repo:        p.Repo,
		gateways:    p.Gateways,
		notifier:    p.Notifier,
		callTimeout: p.Cfg.Gateway.CallTimeout,
	}
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (cancellationdomain.Result, error) {
	now := s.clock.Now().UTC()

	subscription, err := s.markCanceled(ctx, id, now)
	if errors.Is(err, subscriptiondomain.ErrStaleSubscription) {
		// a sweep moved the row between read and write; decide again on fresh state
		subscription, err = s.markCanceled(ctx, id, now)
	}
	if err != nil {
		return cancellationdomain.Result{}, err
	}

	logFields := []zap.Field{
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("tenant_id", subscription.TenantID),
		zap.Time("cancel_at", *subscription.CancelAt),
	}
	s.log.Info("cancellation.marked", logFields...)

	result := cancellationdomain.Result{
		Subscription: subscription,
		Events:       []notificationdomain.Event{subscription.ChangeEvent(now)},
	}

	if externalID := subscription.ExternalID(); externalID != "" {
		if err := s.cancelAtGateway(ctx, subscription); err != nil {
			// the next sweep retries through reconciliation
			s.log.Warn("cancellation.gateway.failed", append(logFields, zap.Error(err))...)
			result.GatewayErr = err
		} else {
			s.log.Info("cancellation.gateway.canceled", logFields...)
		}
	}

	if s.notifier != nil {
		s.notifier.Drain(ctx, result.Events)
	}
	return result, nil
}

func (s *Service) markCanceled(ctx context.Context, id snowflake.ID, now time.Time) (subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription == nil || subscription.Status != subscriptiondomain.SubscriptionStatusActive {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}

	expectedVersion := subscription.Version
	if err := subscription.MarkCanceled(now); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if err := s.repo.UpdateLifecycle(ctx, s.db, subscription, expectedVersion); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return *subscription, nil
}

func (s *Service) cancelAtGateway(ctx context.Context, subscription subscriptiondomain.Subscription) error {
	gw, err := s.gateways.For(subscription.Provider())
	if err != nil {
		return err
	}
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}
	return gw.CancelSubscription(ctx, subscription.ExternalID())
}

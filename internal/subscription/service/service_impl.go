package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Ajamix/saas-platform-api/internal/clock"
	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/Ajamix/saas-platform-api/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    subscriptiondomain.Repository
	planSvc plandomain.Service
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	PlanSvc plandomain.Service
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		planSvc: p.PlanSvc,
	}
}

// Create records a new active subscription: (none) → active. A replayed
// checkout for an external subscription already on record returns that row.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}
	planID, err := parseID(req.PlanID, subscriptiondomain.ErrInvalidPlan)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	plan, err := s.planSvc.GetPlan(ctx, planID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	now := s.clock.Now().UTC()
	periodEnd, err := plan.Interval.AddTo(now)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	subscription := subscriptiondomain.Subscription{
		ID:                     s.genID.Generate(),
		TenantID:               tenantID,
		PlanID:                 plan.ID,
		Status:                 subscriptiondomain.SubscriptionStatusActive,
		BillingInterval:        plan.Interval,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       periodEnd,
		GatewayProvider:        optionalString(req.GatewayProvider),
		ExternalCustomerID:     optionalString(req.ExternalCustomerID),
		ExternalSubscriptionID: optionalString(req.ExternalSubscriptionID),
		PriceAtCreation:        plan.Price,
		Metadata:               datatypes.JSONMap(req.Metadata),
		Version:                1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	var replayed *subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if externalID := subscription.ExternalID(); externalID != "" {
			existing, err := s.repo.FindByExternalID(ctx, tx, externalID)
			if err != nil {
				return err
			}
			if existing != nil {
				replayed = existing
				return nil
			}
		}

		live, err := s.repo.FindLiveByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if live != nil {
			return subscriptiondomain.ErrSubscriptionConflict
		}

		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return subscriptiondomain.ErrSubscriptionConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionConflict) {
			s.log.Info("subscription.create.conflict", zap.String("tenant_id", tenantID))
		}
		return subscriptiondomain.Subscription{}, err
	}
	if replayed != nil {
		s.log.Info("subscription.create.replayed",
			zap.String("subscription_id", replayed.ID.String()),
			zap.String("external_subscription_id", replayed.ExternalID()),
		)
		return *replayed, nil
	}

	s.log.Info("subscription.created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("tenant_id", tenantID),
		zap.String("plan_id", plan.ID.String()),
		zap.Time("current_period_end", subscription.CurrentPeriodEnd),
	)
	return subscription, nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	subscriptionID, err := parseID(id, subscriptiondomain.ErrSubscriptionNotFound)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	subscription, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *subscription, nil
}

// ListByTenant returns every row for the tenant, newest first, history included.
func (s *Service) ListByTenant(ctx context.Context, tenantID string) ([]subscriptiondomain.Subscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, subscriptiondomain.ErrInvalidTenant
	}
	subscriptions, err := s.repo.ListByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if subscriptions == nil {
		subscriptions = []subscriptiondomain.Subscription{}
	}
	return subscriptions, nil
}

// GetEntitling returns the subscription that entitles the tenant at the
// given instant, or nil for the implicit free tier.
func (s *Service) GetEntitling(ctx context.Context, tenantID string, at time.Time) (*subscriptiondomain.Subscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, subscriptiondomain.ErrInvalidTenant
	}
	return s.repo.FindEntitlingByTenant(ctx, s.db, tenantID, at.UTC())
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

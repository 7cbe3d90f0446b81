package service

import (
	"context"
	"strings"
	"time"

	"github.com/Ajamix/saas-platform-api/internal/cache"
	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	"github.com/Ajamix/saas-platform-api/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	planCacheSize = 256
	planCacheTTL  = 5 * time.Minute
)

type Service struct {
	log      *zap.Logger
	planRepo repository.Repository[plandomain.Plan]
	byID     cache.Cache[snowflake.ID, plandomain.Plan]
	byExtID  cache.Cache[string, snowflake.ID]
}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewService(p ServiceParam) plandomain.Service {
	return New(p.DB, p.Log, cache.NewLRU[snowflake.ID, plandomain.Plan](planCacheSize, planCacheTTL))
}

// New builds the catalog with an explicit cache; pass cache.Noop to read
// through on every call.
func New(db *gorm.DB, log *zap.Logger, plans cache.Cache[snowflake.ID, plandomain.Plan]) *Service {
	return &Service{
		log:      log.Named("plan.service"),
		planRepo: repository.ProvideStore[plandomain.Plan](db),
		byID:     plans,
		byExtID:  cache.NewLRU[string, snowflake.ID](planCacheSize, planCacheTTL),
	}
}

// GetPlan implements domain.Service.
func (s *Service) GetPlan(ctx context.Context, id snowflake.ID) (plandomain.Plan, error) {
	if id == 0 {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}
	if plan, ok := s.byID.Get(id); ok {
		return plan, nil
	}

	plan, err := s.planRepo.FindOne(ctx, &plandomain.Plan{ID: id})
	if err != nil {
		return plandomain.Plan{}, err
	}
	if plan == nil {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}

	s.byID.Set(plan.ID, *plan)
	return *plan, nil
}

// GetByExternalProductID resolves the plan a gateway product belongs to.
func (s *Service) GetByExternalProductID(ctx context.Context, productID string) (plandomain.Plan, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}
	if id, ok := s.byExtID.Get(productID); ok {
		return s.GetPlan(ctx, id)
	}

	plan, err := s.planRepo.FindOne(ctx, &plandomain.Plan{ExternalProductID: &productID})
	if err != nil {
		return plandomain.Plan{}, err
	}
	if plan == nil {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}

	s.byID.Set(plan.ID, *plan)
	s.byExtID.Set(productID, plan.ID)
	return *plan, nil
}

// Invalidate drops a plan from the cache after an administrative edit.
func (s *Service) Invalidate(id snowflake.ID) {
	s.byID.Invalidate(id)
	s.byExtID.Purge()
	s.log.Debug("plan.cache.invalidated", zap.String("plan_id", id.String()))
}

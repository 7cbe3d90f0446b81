package service

import (
	"context"
	"strings"
	"time"

	"github.com/Ajamix/saas-platform-api/internal/clock"
	"github.com/Ajamix/saas-platform-api/internal/config"
	limitsdomain "github.com/Ajamix/saas-platform-api/internal/limits/domain"
	"github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	usagedomain "github.com/Ajamix/saas-platform-api/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock           clock.Clock
	quota           *config.QuotaPolicyHolder
	subscriptionSvc subscriptiondomain.Service
	planSvc         plandomain.Service
	counter         usagedomain.Counter
	metrics         *metrics.LifecycleMetrics
}

type ServiceParam struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	Quota           *config.QuotaPolicyHolder
	SubscriptionSvc subscriptiondomain.Service
	PlanSvc         plandomain.Service
	Counter         usagedomain.Counter
	Metrics         *metrics.LifecycleMetrics `optional:"true"`
}

func NewService(p ServiceParam) limitsdomain.Service {
	lifecycleMetrics := p.Metrics
	if lifecycleMetrics == nil {
		lifecycleMetrics = metrics.Lifecycle()
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("limits.service"),

		clock:           p.Clock,
		quota:           p.Quota,
		subscriptionSvc: p.SubscriptionSvc,
		planSvc:         p.PlanSvc,
		counter:         p.Counter,
		metrics:         lifecycleMetrics,
	}
}

// entitlement is the resolved tier for one evaluation.
type entitlement struct {
	tier         limitsdomain.Tier
	subscription *subscriptiondomain.Subscription
	plan         plandomain.Plan
}

func (e entitlement) stamp(d *limitsdomain.Decision) {
	d.Tier = e.tier
	d.Entitled = e.tier == limitsdomain.TierPaid
	if e.subscription != nil {
		d.SubscriptionID = e.subscription.ID.String()
		d.PlanID = e.plan.ID.String()
	}
}

// CanCreate implements domain.Service. Usage is counted fresh on every call.
func (s *Service) CanCreate(ctx context.Context, tenantID string, class usagedomain.ResourceClass, parentID snowflake.ID) (limitsdomain.Decision, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return limitsdomain.Decision{}, limitsdomain.ErrInvalidTenant
	}
	if _, err := usagedomain.ParseResourceClass(string(class)); err != nil {
		return limitsdomain.Decision{}, err
	}

	now := s.clock.Now().UTC()
	ent, err := s.resolve(ctx, tenantID, now)
	if err != nil {
		return limitsdomain.Decision{}, err
	}

	decision := limitsdomain.Decision{Resource: class}
	ent.stamp(&decision)

	switch ent.tier {
	case limitsdomain.TierFree:
		err = s.checkFree(ctx, tenantID, class, now, &decision)
	default:
		err = s.checkPaid(ctx, tenantID, class, parentID, ent.plan.Limits(), &decision)
	}
	if err != nil {
		return limitsdomain.Decision{}, err
	}

	s.metrics.IncLimitDecision(string(class), string(ent.tier), decision.Allowed)
	s.log.Debug("limits.decision",
		zap.String("tenant_id", tenantID),
		zap.String("resource", string(class)),
		zap.String("tier", string(ent.tier)),
		zap.Bool("allowed", decision.Allowed),
		zap.Int64("used", decision.Used),
	)
	return decision, nil
}

// checkFree applies the calendar-month free allowance.
func (s *Service) checkFree(ctx context.Context, tenantID string, class usagedomain.ResourceClass, now time.Time, d *limitsdomain.Decision) error {
	policy := s.quota.Get().FreeTier
	window := usagedomain.MonthWindow(now)

	var (
		used  int64
		limit int64
		err   error
	)
	switch class {
	case usagedomain.ResourceClassType:
		limit = int64(policy.MaxResourceTypesPerMonth)
		used, err = s.counter.CountResourceTypes(ctx, s.db, tenantID, window)
	case usagedomain.ResourceClassSubmission:
		limit = int64(policy.MaxSubmissionsPerMonth)
		used, err = s.counter.CountSubmissions(ctx, s.db, tenantID, window)
	}
	if err != nil {
		return err
	}

	d.Used = used
	d.Limit = &limit
	d.Allowed = used < limit
	return nil
}

// checkPaid applies the plan bundle. Resource types count over the tenant's
// lifetime; submissions count per parent resource type. Zero is unlimited.
func (s *Service) checkPaid(ctx context.Context, tenantID string, class usagedomain.ResourceClass, parentID snowflake.ID, features plandomain.Features, d *limitsdomain.Decision) error {
	var (
		used  int64
		limit int64
		err   error
	)
	switch class {
	case usagedomain.ResourceClassType:
		limit = int64(features.MaxResourceTypes)
		if limit == 0 {
			d.Allowed = true
			return nil
		}
		used, err = s.counter.CountResourceTypes(ctx, s.db, tenantID, usagedomain.Window{})
	case usagedomain.ResourceClassSubmission:
		if parentID == 0 {
			return limitsdomain.ErrMissingParent
		}
		limit = int64(features.MaxSubmissionsPerResourceType)
		if limit == 0 {
			d.Allowed = true
			return nil
		}
		used, err = s.counter.CountSubmissionsForResource(ctx, s.db, tenantID, parentID)
	}
	if err != nil {
		return err
	}

	d.Used = used
	d.Limit = &limit
	d.Allowed = used < limit
	return nil
}

// Report implements domain.Service.
func (s *Service) Report(ctx context.Context, tenantID string) (limitsdomain.Report, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return limitsdomain.Report{}, limitsdomain.ErrInvalidTenant
	}

	now := s.clock.Now().UTC()
	ent, err := s.resolve(ctx, tenantID, now)
	if err != nil {
		return limitsdomain.Report{}, err
	}

	policy := s.quota.Get().FreeTier
	maxTypes := int64(policy.MaxResourceTypesPerMonth)
	maxSubmissionsPerType := int64(policy.MaxSubmissionsPerMonth)
	if ent.tier == limitsdomain.TierPaid {
		features := ent.plan.Limits()
		maxTypes = int64(features.MaxResourceTypes)
		maxSubmissionsPerType = int64(features.MaxSubmissionsPerResourceType)
	}

	window := usagedomain.MonthWindow(now)
	var monthTypes, monthSubmissions, totalTypes, totalSubmissions int64
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		monthTypes, err = s.counter.CountResourceTypes(gctx, s.db, tenantID, window)
		return err
	})
	group.Go(func() (err error) {
		monthSubmissions, err = s.counter.CountSubmissions(gctx, s.db, tenantID, window)
		return err
	})
	group.Go(func() (err error) {
		totalTypes, err = s.counter.CountResourceTypes(gctx, s.db, tenantID, usagedomain.Window{})
		return err
	})
	group.Go(func() (err error) {
		totalSubmissions, err = s.counter.CountSubmissions(gctx, s.db, tenantID, usagedomain.Window{})
		return err
	})
	if err := group.Wait(); err != nil {
		return limitsdomain.Report{}, err
	}

	report := limitsdomain.Report{
		TenantID:               tenantID,
		Tier:                   ent.tier,
		MaxReviewsPerMonth:     maxTypes,
		MaxSubmissionsPerMonth: maxSubmissionsPerType * maxTypes,
		CurrentReviewCount:     monthTypes,
		CurrentSubmissionCount: monthSubmissions,
		TotalReviews:           totalTypes,
		TotalSubmissions:       totalSubmissions,
		IsTrial:                maxTypes == int64(policy.MaxResourceTypesPerMonth),
	}
	if ent.subscription != nil {
		report.SubscriptionID = ent.subscription.ID.String()
		report.PlanID = ent.plan.ID.String()
	}
	if maxTypes > 0 || ent.tier == limitsdomain.TierFree {
		report.AvailableReviewsPerMonthLeft = remaining(maxTypes, monthTypes)
	}
	if report.MaxSubmissionsPerMonth > 0 || ent.tier == limitsdomain.TierFree {
		report.AvailableSubmissionsPerMonthLeft = remaining(report.MaxSubmissionsPerMonth, monthSubmissions)
	}
	if totalTypes > 0 {
		report.AvgSubmissionsPerReview = float64(totalSubmissions) / float64(totalTypes)
	}
	monthsCompleted := int(now.Month()) - 1
	if monthsCompleted < 1 {
		monthsCompleted = 1
	}
	report.AvgSubmissionsPerMonth = float64(totalSubmissions) / float64(monthsCompleted)

	return report, nil
}

func (s *Service) resolve(ctx context.Context, tenantID string, now time.Time) (entitlement, error) {
	subscription, err := s.subscriptionSvc.GetEntitling(ctx, tenantID, now)
	if err != nil {
		return entitlement{}, err
	}
	if subscription == nil {
		return entitlement{tier: limitsdomain.TierFree}, nil
	}

	plan, err := s.planSvc.GetPlan(ctx, subscription.PlanID)
	if err != nil {
		return entitlement{}, err
	}
	return entitlement{tier: limitsdomain.TierPaid, subscription: subscription, plan: plan}, nil
}

func remaining(limit, used int64) *int64 {
	left := limit - used
	if left < 0 {
		left = 0
	}
	return &left
}

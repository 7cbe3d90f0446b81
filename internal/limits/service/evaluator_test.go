package service

import (
	"context"
	"testing"
	"time"

	"github.com/Ajamix/saas-platform-api/internal/cache"
	"github.com/Ajamix/saas-platform-api/internal/clock"
	"github.com/Ajamix/saas-platform-api/internal/config"
	limitsdomain "github.com/Ajamix/saas-platform-api/internal/limits/domain"
	"github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	planservice "github.com/Ajamix/saas-platform-api/internal/plan/service"
	subscriptionrepository "github.com/Ajamix/saas-platform-api/internal/subscription/repository"
	subscriptionservice "github.com/Ajamix/saas-platform-api/internal/subscription/service"
	"github.com/Ajamix/saas-platform-api/internal/testsupport"
	usagedomain "github.com/Ajamix/saas-platform-api/internal/usage/domain"
	usagerepository "github.com/Ajamix/saas-platform-api/internal/usage/repository"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	registry *prometheus.Registry
	svc      limitsdomain.Service
}

func newFixture(t *testing.T, now time.Time) fixture {
	conn := testsupport.NewDB(t)
	node := testsupport.NewNode(t)
	clk := clock.NewFakeClock(now)
	registry := prometheus.NewRegistry()
	planSvc := planservice.New(conn, zap.NewNop(), cache.Noop[snowflake.ID, plandomain.Plan]{})
	subscriptionSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Repo:    subscriptionrepository.Provide(),
		PlanSvc: planSvc,
	})
	svc := NewService(ServiceParam{
		DB:              conn,
		Log:             zap.NewNop(),
		Clock:           clk,
		Quota:           config.NewStaticQuotaPolicy(config.DefaultQuotaPolicy()),
		SubscriptionSvc: subscriptionSvc,
		PlanSvc:         planSvc,
		Counter:         usagerepository.Provide(),
		Metrics:         metrics.NewLifecycleMetricsForTest(registry),
	})
	return fixture{db: conn, node: node, clock: clk, registry: registry, svc: svc}
}

func TestNoSubscriptionIsTrialWithOneTypeLeft(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC))

	report, err := f.svc.Report(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.True(t, report.IsTrial)
	require.Equal(t, limitsdomain.TierFree, report.Tier)
	require.NotNil(t, report.AvailableReviewsPerMonthLeft)
	require.Equal(t, int64(1), *report.AvailableReviewsPerMonthLeft)
	require.NotNil(t, report.AvailableSubmissionsPerMonthLeft)
	require.Equal(t, int64(2), *report.AvailableSubmissionsPerMonthLeft)
	require.Equal(t, int64(0), report.CurrentReviewCount)
}

func TestFreeTierTypeResetsOnFirstOfMonth(t *testing.T) {
	ctx := context.Background()
	day5 := time.Date(2025, time.March, 5, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, day5)

	decision, err := f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassType, 0)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.False(t, decision.Entitled)
	testsupport.SeedResourceType(t, f.db, f.node, "tenant-a", day5)

	f.clock.Set(time.Date(2025, time.March, 6, 10, 0, 0, 0, time.UTC))
	decision, err = f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassType, 0)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, int64(1), decision.Used)

	f.clock.Set(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC))
	decision, err = f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassType, 0)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, int64(0), decision.Used)

	count, err := testutil.GatherAndCount(f.registry, "billing_limit_decisions_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestFreeTierSubmissionsCountAcrossParents(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	first := testsupport.SeedResourceType(t, f.db, f.node, "tenant-a", now.Add(-time.Hour))
	testsupport.SeedSubmissions(t, f.db, f.node, "tenant-a", first.ID, 2, now.Add(-time.Minute))

	decision, err := f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassSubmission, f.node.Generate())
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestCanceledSubscriptionStillEntitlesUntilCancelAt(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, start.AddDate(0, 0, 4))
	plan := testsupport.SeedPlan(t, f.db, f.node, "19.00", plandomain.Features{MaxResourceTypes: 3, MaxSubmissionsPerResourceType: 5})
	testsupport.SeedSubscription(t, f.db, f.node, "tenant-a", plan,
		testsupport.WithPeriod(start, start.AddDate(0, 0, 15)),
		testsupport.WithCanceled(start.AddDate(0, 0, 2)),
	)
	parent := testsupport.SeedResourceType(t, f.db, f.node, "tenant-a", start)

	decision, err := f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassSubmission, parent.ID)
	require.NoError(t, err)
	require.True(t, decision.Entitled)
	require.True(t, decision.Allowed)
	require.Equal(t, limitsdomain.TierPaid, decision.Tier)

	f.clock.Set(start.AddDate(0, 0, 15))
	decision, err = f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassSubmission, parent.ID)
	require.NoError(t, err)
	require.False(t, decision.Entitled)
	require.Equal(t, limitsdomain.TierFree, decision.Tier)
}

func TestPaidLimits(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	plan := testsupport.SeedPlan(t, f.db, f.node, "49.00", plandomain.Features{MaxResourceTypes: 2, MaxSubmissionsPerResourceType: 3})
	testsupport.SeedSubscription(t, f.db, f.node, "tenant-a", plan, testsupport.WithPeriod(now.AddDate(0, 0, -5), now.AddDate(0, 0, 25)))

	old := testsupport.SeedResourceType(t, f.db, f.node, "tenant-a", now.AddDate(0, -3, 0))
	decision, err := f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassType, 0)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	testsupport.SeedResourceType(t, f.db, f.node, "tenant-a", now.AddDate(0, -2, 0))
	decision, err = f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassType, 0)
	require.NoError(t, err)
	require.False(t, decision.Allowed, "paid type limit counts lifetime rows")
	require.Equal(t, int64(2), *decision.Limit)

	testsupport.SeedSubmissions(t, f.db, f.node, "tenant-a", old.ID, 3, now.AddDate(0, -1, 0))
	decision, err = f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassSubmission, old.ID)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	decision, err = f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassSubmission, f.node.Generate())
	require.NoError(t, err)
	require.True(t, decision.Allowed, "submission limit is per parent resource")

	_, err = f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassSubmission, 0)
	require.ErrorIs(t, err, limitsdomain.ErrMissingParent)
}

func TestPaidZeroLimitIsUnlimited(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	plan := testsupport.SeedPlan(t, f.db, f.node, "99.00", plandomain.Features{})
	testsupport.SeedSubscription(t, f.db, f.node, "tenant-a", plan, testsupport.WithPeriod(now.AddDate(0, 0, -5), now.AddDate(0, 0, 25)))
	for i := 0; i < 5; i++ {
		testsupport.SeedResourceType(t, f.db, f.node, "tenant-a", now.Add(-time.Hour))
	}

	decision, err := f.svc.CanCreate(ctx, "tenant-a", usagedomain.ResourceClassType, 0)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Nil(t, decision.Limit)

	report, err := f.svc.Report(ctx, "tenant-a")
	require.NoError(t, err)
	require.Nil(t, report.AvailableReviewsPerMonthLeft)
	require.False(t, report.IsTrial)
}

func TestReportAggregates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.May, 20, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	plan := testsupport.SeedPlan(t, f.db, f.node, "29.00", plandomain.Features{MaxResourceTypes: 4, MaxSubmissionsPerResourceType: 10})
	sub := testsupport.SeedSubscription(t, f.db, f.node, "tenant-a", plan, testsupport.WithPeriod(now.AddDate(0, 0, -5), now.AddDate(0, 0, 25)))

	january := testsupport.SeedResourceType(t, f.db, f.node, "tenant-a", time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC))
	may := testsupport.SeedResourceType(t, f.db, f.node, "tenant-a", time.Date(2025, time.May, 2, 0, 0, 0, 0, time.UTC))
	testsupport.SeedSubmissions(t, f.db, f.node, "tenant-a", january.ID, 6, time.Date(2025, time.January, 11, 0, 0, 0, 0, time.UTC))
	testsupport.SeedSubmissions(t, f.db, f.node, "tenant-a", may.ID, 2, time.Date(2025, time.May, 3, 0, 0, 0, 0, time.UTC))

	report, err := f.svc.Report(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, sub.ID.String(), report.SubscriptionID)
	require.Equal(t, int64(4), report.MaxReviewsPerMonth)
	require.Equal(t, int64(40), report.MaxSubmissionsPerMonth)
	require.Equal(t, int64(1), report.CurrentReviewCount)
	require.Equal(t, int64(3), *report.AvailableReviewsPerMonthLeft)
	require.Equal(t, int64(2), report.CurrentSubmissionCount)
	require.Equal(t, int64(38), *report.AvailableSubmissionsPerMonthLeft)
	require.Equal(t, int64(2), report.TotalReviews)
	require.Equal(t, int64(8), report.TotalSubmissions)
	require.InDelta(t, 4.0, report.AvgSubmissionsPerReview, 0.0001)
	require.InDelta(t, 2.0, report.AvgSubmissionsPerMonth, 0.0001)
	require.False(t, report.IsTrial)
}

func TestPlanWithSingleTypeReportsTrial(t *testing.T) {
	now := time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	plan := testsupport.SeedPlan(t, f.db, f.node, "0.00", plandomain.Features{MaxResourceTypes: 1, MaxSubmissionsPerResourceType: 2})
	testsupport.SeedSubscription(t, f.db, f.node, "tenant-a", plan, testsupport.WithPeriod(now.AddDate(0, 0, -1), now.AddDate(0, 1, -1)))

	report, err := f.svc.Report(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.True(t, report.IsTrial)
	require.Equal(t, limitsdomain.TierPaid, report.Tier)
}

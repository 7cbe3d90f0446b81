package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ajamix/saas-platform-api/internal/cache"
	"github.com/Ajamix/saas-platform-api/internal/clock"
	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	planservice "github.com/Ajamix/saas-platform-api/internal/plan/service"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/Ajamix/saas-platform-api/internal/subscription/repository"
	"github.com/Ajamix/saas-platform-api/internal/testsupport"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   subscriptiondomain.Service
}

func newFixture(t *testing.T) fixture {
	conn := testsupport.NewDB(t)
	node := testsupport.NewNode(t)
	clk := clock.NewFakeClock(testsupport.Epoch)
	svc := NewService(ServiceParam{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Repo:    repository.Provide(),
		PlanSvc: planservice.New(conn, zap.NewNop(), cache.Noop[snowflake.ID, plandomain.Plan]{}),
	})
	return fixture{db: conn, node: node, clock: clk, svc: svc}
}

func TestCreateStartsActivePeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plan := testsupport.SeedPlan(t, f.db, f.node, "29.00", plandomain.Features{MaxResourceTypes: 3})

	created, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		TenantID: "tenant-a",
		PlanID:   plan.ID.String(),
		Metadata: map[string]any{"source": "test"},
	})
	require.NoError(t, err)
	require.Equal(t, subscriptiondomain.SubscriptionStatusActive, created.Status)
	require.True(t, created.CurrentPeriodStart.Equal(testsupport.Epoch))
	require.True(t, created.CurrentPeriodEnd.Equal(testsupport.Epoch.AddDate(0, 1, 0)))
	require.True(t, created.PriceAtCreation.Equal(decimal.RequireFromString("29.00")))
	require.Nil(t, created.CancelAt)

	got, err := f.svc.GetByID(ctx, created.ID.String())
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, created.TenantID, got.TenantID)
	require.Equal(t, created.PlanID, got.PlanID)
	require.True(t, got.CurrentPeriodEnd.Equal(created.CurrentPeriodEnd))
	require.Equal(t, "test", got.Metadata["source"])
}

func TestCreateRejectsSecondLiveSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plan := testsupport.SeedPlan(t, f.db, f.node, "29.00", plandomain.Features{})

	_, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "tenant-a", PlanID: plan.ID.String()})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "tenant-a", PlanID: plan.ID.String()})
	require.True(t, errors.Is(err, subscriptiondomain.ErrSubscriptionConflict), "got %v", err)

	rows, err := f.svc.ListByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestCreateAllowedWhileCanceledRowStillEntitles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plan := testsupport.SeedPlan(t, f.db, f.node, "29.00", plandomain.Features{})
	canceled := testsupport.SeedSubscription(t, f.db, f.node, "tenant-a", plan,
		testsupport.WithCanceled(testsupport.Epoch),
	)

	created, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "tenant-a", PlanID: plan.ID.String()})
	require.NoError(t, err)
	require.NotEqual(t, canceled.ID, created.ID)

	entitling, err := f.svc.GetEntitling(ctx, "tenant-a", f.clock.Now())
	require.NoError(t, err)
	require.NotNil(t, entitling)
	require.Equal(t, created.ID, entitling.ID)
}

func TestCreateReplayReturnsExistingRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plan := testsupport.SeedPlan(t, f.db, f.node, "29.00", plandomain.Features{})
	req := subscriptiondomain.CreateSubscriptionRequest{
		TenantID:               "tenant-a",
		PlanID:                 plan.ID.String(),
		GatewayProvider:        "stripe",
		ExternalSubscriptionID: "sub_123",
	}

	first, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestCreateConcurrentOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plan := testsupport.SeedPlan(t, f.db, f.node, "29.00", plandomain.Features{})

	const attempts = 5
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "tenant-a", PlanID: plan.ID.String()})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, subscriptiondomain.ErrSubscriptionConflict), "got %v", err)
	}
	require.Equal(t, 1, succeeded)
}

func TestCreateValidatesInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{PlanID: "1"})
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidTenant)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "tenant-a", PlanID: "abc"})
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidPlan)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{TenantID: "tenant-a", PlanID: "999"})
	require.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}

func TestGetByIDNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.GetByID(ctx, "12345")
	require.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	_, err = f.svc.GetByID(ctx, "not-an-id")
	require.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

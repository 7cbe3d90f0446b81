package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/Ajamix/saas-platform-api/internal/testsupport"
	"github.com/Ajamix/saas-platform-api/pkg/db"
	"github.com/stretchr/testify/require"
)

func TestUpdateLifecycleRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	conn := testsupport.NewDB(t)
	node := testsupport.NewNode(t)
	plan := testsupport.SeedPlan(t, conn, node, "10.00", plandomain.Features{MaxResourceTypes: 3})
	seeded := testsupport.SeedSubscription(t, conn, node, "tenant-a", plan)
	repo := Provide()

	first, err := repo.FindByID(ctx, conn, seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, first)
	second := *first

	now := testsupport.Epoch.Add(time.Hour)
	require.NoError(t, first.MarkCanceled(now))
	require.NoError(t, repo.UpdateLifecycle(ctx, conn, first, first.Version))
	require.Equal(t, int64(2), first.Version)

	require.NoError(t, second.MarkExpired(now))
	err = repo.UpdateLifecycle(ctx, conn, &second, second.Version)
	require.True(t, errors.Is(err, subscriptiondomain.ErrStaleSubscription), "got %v", err)

	stored, err := repo.FindByID(ctx, conn, seeded.ID)
	require.NoError(t, err)
	require.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, stored.Status)
	require.Equal(t, int64(2), stored.Version)
	require.NotNil(t, stored.CancelAt)
	require.True(t, stored.CancelAt.Equal(seeded.CurrentPeriodEnd))
}

func TestLiveIndexRejectsSecondLiveRow(t *testing.T) {
	ctx := context.Background()
	conn := testsupport.NewDB(t)
	node := testsupport.NewNode(t)
	plan := testsupport.SeedPlan(t, conn, node, "10.00", plandomain.Features{})
	first := testsupport.SeedSubscription(t, conn, node, "tenant-a", plan)

	duplicate := first
	duplicate.ID = node.Generate()
	err := Provide().Insert(ctx, conn, &duplicate)
	require.Error(t, err)
	require.True(t, db.IsDuplicateKeyErr(err), "got %v", err)
}

func TestFindEntitlingByTenant(t *testing.T) {
	ctx := context.Background()
	conn := testsupport.NewDB(t)
	node := testsupport.NewNode(t)
	plan := testsupport.SeedPlan(t, conn, node, "10.00", plandomain.Features{})
	repo := Provide()

	got, err := repo.FindEntitlingByTenant(ctx, conn, "tenant-a", testsupport.Epoch)
	require.NoError(t, err)
	require.Nil(t, got)

	canceled := testsupport.SeedSubscription(t, conn, node, "tenant-a", plan,
		testsupport.WithCanceled(testsupport.Epoch.Add(time.Hour)),
	)

	got, err = repo.FindEntitlingByTenant(ctx, conn, "tenant-a", testsupport.Epoch.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, canceled.ID, got.ID)

	got, err = repo.FindEntitlingByTenant(ctx, conn, "tenant-a", canceled.CurrentPeriodEnd)
	require.NoError(t, err)
	require.Nil(t, got)

	live := testsupport.SeedSubscription(t, conn, node, "tenant-a", plan)
	got, err = repo.FindEntitlingByTenant(ctx, conn, "tenant-a", testsupport.Epoch.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, live.ID, got.ID)
}

func TestListDueForSweepPagesByID(t *testing.T) {
	ctx := context.Background()
	conn := testsupport.NewDB(t)
	node := testsupport.NewNode(t)
	plan := testsupport.SeedPlan(t, conn, node, "10.00", plandomain.Features{})
	repo := Provide()

	ended := testsupport.Epoch.AddDate(0, -1, 0)
	a := testsupport.SeedSubscription(t, conn, node, "tenant-a", plan, testsupport.WithPeriod(ended.AddDate(0, -1, 0), ended))
	b := testsupport.SeedSubscription(t, conn, node, "tenant-b", plan,
		testsupport.WithPeriod(ended.AddDate(0, -1, 0), ended),
		testsupport.WithCanceled(ended.AddDate(0, 0, -3)),
	)
	testsupport.SeedSubscription(t, conn, node, "tenant-c", plan)
	testsupport.SeedSubscription(t, conn, node, "tenant-d", plan,
		testsupport.WithPeriod(ended.AddDate(0, -1, 0), ended),
		testsupport.WithStatus(subscriptiondomain.SubscriptionStatusExpired),
	)

	page, err := repo.ListDueForSweep(ctx, conn, testsupport.Epoch, 0, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, a.ID, page[0].ID)

	page, err = repo.ListDueForSweep(ctx, conn, testsupport.Epoch, page[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, b.ID, page[0].ID)

	page, err = repo.ListDueForSweep(ctx, conn, testsupport.Epoch, page[0].ID, 1)
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestListActiveEndingBetween(t *testing.T) {
	ctx := context.Background()
	conn := testsupport.NewDB(t)
	node := testsupport.NewNode(t)
	plan := testsupport.SeedPlan(t, conn, node, "10.00", plandomain.Features{})
	repo := Provide()

	now := testsupport.Epoch
	soon := testsupport.SeedSubscription(t, conn, node, "tenant-a", plan, testsupport.WithPeriod(now.AddDate(0, -1, 0), now.AddDate(0, 0, 6)))
	testsupport.SeedSubscription(t, conn, node, "tenant-b", plan, testsupport.WithPeriod(now, now.AddDate(0, 1, 0)))
	testsupport.SeedSubscription(t, conn, node, "tenant-c", plan,
		testsupport.WithPeriod(now.AddDate(0, -1, 0), now.AddDate(0, 0, 6)),
		testsupport.WithCanceled(now),
	)

	got, err := repo.ListActiveEndingBetween(ctx, conn, now, now.AddDate(0, 0, 7), 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, soon.ID, got[0].ID)
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ajamix/saas-platform-api/internal/clock"
	"github.com/Ajamix/saas-platform-api/internal/lock"
	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	"github.com/Ajamix/saas-platform-api/internal/notification/repository"
	"github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	"github.com/Ajamix/saas-platform-api/internal/testsupport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu    sync.Mutex
	err   error
	calls []notificationdomain.Kind
	to    [][]notificationdomain.TenantAdmin
}

func (s *recordingSink) Notify(_ context.Context, admins []notificationdomain.TenantAdmin, kind notificationdomain.Kind, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, kind)
	s.to = append(s.to, admins)
	return s.err
}

type failingDirectory struct{}

// flakyDirectory fails the first failures lookups, then answers from next.
type flakyDirectory struct {
	failures int
	next     notificationdomain.Directory
}

func (d *flakyDirectory) ListAdmins(ctx context.Context, tenantID string) ([]notificationdomain.TenantAdmin, error) {
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("directory unavailable")
	}
	return d.next.ListAdmins(ctx, tenantID)
}

func (failingDirectory) ListAdmins(context.Context, string) ([]notificationdomain.TenantAdmin, error) {
	return nil, errors.New("directory unavailable")
}

func seedAdmins(t *testing.T) notificationdomain.Directory {
	db := testsupport.NewDB(t)
	require.NoError(t, db.Create(&[]notificationdomain.TenantAdmin{
		{TenantID: "tenant-a", UserID: "u1", Email: "one@example.com"},
		{TenantID: "tenant-a", UserID: "u2", Email: "two@example.com"},
		{TenantID: "tenant-b", UserID: "u3", Email: "three@example.com"},
	}).Error)
	return repository.NewDirectory(db)
}

func TestDrainFansOutToEveryAdminAndSink(t *testing.T) {
	first, second := &recordingSink{}, &recordingSink{}
	d := NewDispatcher(DispatcherParam{
		Log:       zap.NewNop(),
		Directory: seedAdmins(t),
		Sinks:     []notificationdomain.Sink{first, nil, second},
	})

	d.Drain(context.Background(), []notificationdomain.Event{
		{Kind: notificationdomain.KindSubscriptionChange, TenantID: "tenant-a", SubscriptionID: "1"},
	})

	require.Equal(t, []notificationdomain.Kind{notificationdomain.KindSubscriptionChange}, first.calls)
	require.Len(t, first.to[0], 2)
	require.Len(t, second.calls, 1)
}

func TestDrainSwallowsFailures(t *testing.T) {
	registry := prometheus.NewRegistry()
	failing := &recordingSink{err: errors.New("smtp down")}
	healthy := &recordingSink{}
	d := NewDispatcher(DispatcherParam{
		Log:       zap.NewNop(),
		Directory: seedAdmins(t),
		Sinks:     []notificationdomain.Sink{failing, healthy},
		Metrics:   metrics.NewLifecycleMetricsForTest(registry),
	})

	d.Drain(context.Background(), []notificationdomain.Event{
		{Kind: notificationdomain.KindPaymentReminder, TenantID: "tenant-a"},
		{Kind: notificationdomain.KindPaymentReminder, TenantID: "tenant-b"},
	})

	require.Len(t, healthy.calls, 2, "a failing sink must not stop later sinks or events")
	count, err := testutil.GatherAndCount(registry, "billing_notifications_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	d = NewDispatcher(DispatcherParam{
		Log:       zap.NewNop(),
		Directory: failingDirectory{},
		Sinks:     []notificationdomain.Sink{healthy},
	})
	d.Drain(context.Background(), []notificationdomain.Event{{Kind: notificationdomain.KindPaymentReminder, TenantID: "tenant-a"}})
	require.Len(t, healthy.calls, 2)
}

func TestDrainDeduplicatesByKey(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(DispatcherParam{
		Log:       zap.NewNop(),
		Directory: seedAdmins(t),
		Sinks:     []notificationdomain.Sink{sink},
		Claimer:   lock.NewMemoryLocker(clock.NewFakeClock(time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC))),
	})
	event := notificationdomain.Event{
		Kind:     notificationdomain.KindPaymentReminder,
		TenantID: "tenant-a",
		DedupKey: "payment_reminder:42:2025-03-03",
	}

	d.Drain(context.Background(), []notificationdomain.Event{event, event})
	d.Drain(context.Background(), []notificationdomain.Event{event})

	require.Len(t, sink.calls, 1)
}

func newDedupDispatcher(t *testing.T, directory notificationdomain.Directory, sinks ...notificationdomain.Sink) *Dispatcher {
	t.Helper()
	return NewDispatcher(DispatcherParam{
		Log:       zap.NewNop(),
		Directory: directory,
		Sinks:     sinks,
		Claimer:   lock.NewMemoryLocker(clock.NewFakeClock(time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC))),
	})
}

func TestDrainRetriesAfterDirectoryFailure(t *testing.T) {
	sink := &recordingSink{}
	d := newDedupDispatcher(t, &flakyDirectory{failures: 1, next: seedAdmins(t)}, sink)
	event := notificationdomain.Event{
		Kind:     notificationdomain.KindPaymentReminder,
		TenantID: "tenant-a",
		DedupKey: "payment_reminder:42:2025-03-03",
	}

	d.Drain(context.Background(), []notificationdomain.Event{event})
	require.Empty(t, sink.calls)

	d.Drain(context.Background(), []notificationdomain.Event{event, event})
	require.Len(t, sink.calls, 1)
}

func TestDrainRetriesWhenNoSinkDelivered(t *testing.T) {
	sink := &recordingSink{err: errors.New("smtp down")}
	d := newDedupDispatcher(t, seedAdmins(t), sink)
	event := notificationdomain.Event{
		Kind:     notificationdomain.KindPaymentReminder,
		TenantID: "tenant-a",
		DedupKey: "payment_reminder:42:2025-03-03",
	}

	d.Drain(context.Background(), []notificationdomain.Event{event})
	sink.err = nil
	d.Drain(context.Background(), []notificationdomain.Event{event, event})

	require.Len(t, sink.calls, 2)
}

func TestDrainKeepsClaimAfterPartialDelivery(t *testing.T) {
	failing := &recordingSink{err: errors.New("smtp down")}
	healthy := &recordingSink{}
	d := newDedupDispatcher(t, seedAdmins(t), failing, healthy)
	event := notificationdomain.Event{
		Kind:     notificationdomain.KindPaymentReminder,
		TenantID: "tenant-a",
		DedupKey: "payment_reminder:42:2025-03-03",
	}

	d.Drain(context.Background(), []notificationdomain.Event{event})
	d.Drain(context.Background(), []notificationdomain.Event{event})

	require.Len(t, healthy.calls, 1)
	require.Len(t, failing.calls, 1)
}

func TestNewDispatcherDefaultsToSharedMetrics(t *testing.T) {
	d := NewDispatcher(DispatcherParam{Log: zap.NewNop(), Directory: failingDirectory{}})
	require.Same(t, metrics.Lifecycle(), d.metrics)
}

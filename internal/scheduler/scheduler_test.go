package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ajamix/saas-platform-api/internal/clock"
	"github.com/Ajamix/saas-platform-api/internal/gateway"
	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
	"github.com/Ajamix/saas-platform-api/internal/gateway/gatewaytest"
	"github.com/Ajamix/saas-platform-api/internal/lock"
	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	obsmetrics "github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	reconcileservice "github.com/Ajamix/saas-platform-api/internal/reconcile/service"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/Ajamix/saas-platform-api/internal/subscription/repository"
	"github.com/Ajamix/saas-platform-api/internal/testsupport"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2025, time.April, 10, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notificationdomain.Event
}

func (n *recordingNotifier) Drain(ctx context.Context, events []notificationdomain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

func (n *recordingNotifier) Events() []notificationdomain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notificationdomain.Event(nil), n.events...)
}

type harness struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	gateway  *gatewaytest.Fake
	repo     subscriptiondomain.Repository
	notifier *recordingNotifier
	registry *prometheus.Registry
	sched    *Scheduler
	plan     plandomain.Plan
}

func newHarness(t *testing.T) harness {
	conn := testsupport.NewDB(t)
	node := testsupport.NewNode(t)
	clk := clock.NewFakeClock(now)
	fake := gatewaytest.New("stripe")
	repo := repository.Provide()
	notifier := &recordingNotifier{}
	registry := prometheus.NewRegistry()

	reconciler := reconcileservice.NewService(reconcileservice.ServiceParam{
		DB:       conn,
		Log:      zap.NewNop(),
		Clock:    clk,
		Repo:     repo,
		Gateways: gateway.NewRegistry("stripe", fake),
	})
	sched, err := New(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		Clock:      clk,
		GenID:      node,
		Repo:       repo,
		Reconciler: reconciler,
		Notifier:   notifier,
		Claimer:    lock.NewMemoryLocker(clk),
		Metrics:    obsmetrics.NewSchedulerMetricsForTest(registry),
		Config: Config{
			BatchSize:      2,
			Concurrency:    4,
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			AttemptTimeout: time.Second,
			BillingURL:     "https://app.example.com/billing",
		},
	})
	require.NoError(t, err)

	return harness{
		db:       conn,
		node:     node,
		clock:    clk,
		gateway:  fake,
		repo:     repo,
		notifier: notifier,
		registry: registry,
		sched:    sched,
		plan:     testsupport.SeedPlan(t, conn, node, "15.00", plandomain.Features{MaxResourceTypes: 2}),
	}
}

// seed inserts an active subscription for its own tenant ending at end.
func (h harness) seed(t *testing.T, tenantID string, end time.Time, externalID string) subscriptiondomain.Subscription {
	opts := []testsupport.SubscriptionOption{testsupport.WithPeriod(end.AddDate(0, -1, 0), end)}
	if externalID != "" {
		opts = append(opts, testsupport.WithExternalSubscription("stripe", externalID))
		h.gateway.SetStatus(externalID, gatewaydomain.StatusActive)
	}
	return testsupport.SeedSubscription(t, h.db, h.node, tenantID, h.plan, opts...)
}

func (h harness) status(t *testing.T, id snowflake.ID) subscriptiondomain.Subscription {
	stored, err := h.repo.FindByID(context.Background(), h.db, id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	return *stored
}

func (h harness) counter(t *testing.T, name string, labels map[string]string) float64 {
	labels["service"] = "test"
	labels["env"] = "test"
	return getCounterValue(t, h.registry, name, labels)
}

func TestDailySweepReconcilesEveryDueSubscription(t *testing.T) {
	h := newHarness(t)
	yesterday := now.AddDate(0, 0, -1)

	renewed := h.seed(t, "tenant-a", yesterday, "sub_renewed")
	lapsed := h.seed(t, "tenant-b", yesterday, "sub_lapsed")
	h.gateway.SetStatus("sub_lapsed", gatewaydomain.StatusCanceled)
	granted := h.seed(t, "tenant-c", yesterday, "")
	notDue := h.seed(t, "tenant-d", now.AddDate(0, 0, 3), "sub_later")

	require.NoError(t, h.sched.RunDailySweep(context.Background()))

	require.Equal(t, subscriptiondomain.SubscriptionStatusActive, h.status(t, renewed.ID).Status)
	require.True(t, h.status(t, renewed.ID).CurrentPeriodEnd.Equal(yesterday.AddDate(0, 1, 0)))
	require.Equal(t, subscriptiondomain.SubscriptionStatusExpired, h.status(t, lapsed.ID).Status)
	require.Equal(t, subscriptiondomain.SubscriptionStatusExpired, h.status(t, granted.ID).Status)
	require.Equal(t, notDue.Version, h.status(t, notDue.ID).Version)

	events := h.notifier.Events()
	require.Len(t, events, 2)
	for _, event := range events {
		require.Equal(t, notificationdomain.KindSubscriptionChange, event.Kind)
	}
	require.Equal(t, float64(3), h.counter(t, "billing_scheduler_tasks_total", map[string]string{
		"job": JobDailySweep, "outcome": obsmetrics.TaskOutcomeSucceeded,
	}))
}

func TestDailySweepExpiresCanceledSubscriptions(t *testing.T) {
	h := newHarness(t)
	yesterday := now.AddDate(0, 0, -1)
	sub := testsupport.SeedSubscription(t, h.db, h.node, "tenant-a", h.plan,
		testsupport.WithPeriod(yesterday.AddDate(0, -1, 0), yesterday),
		testsupport.WithCanceled(yesterday.AddDate(0, 0, -5)),
		testsupport.WithExternalSubscription("stripe", "sub_canceled"),
	)
	h.gateway.SetStatus("sub_canceled", gatewaydomain.StatusCanceled)

	require.NoError(t, h.sched.RunDailySweep(context.Background()))
	require.Equal(t, subscriptiondomain.SubscriptionStatusExpired, h.status(t, sub.ID).Status)
}

func TestDailySweepRetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	sub := h.seed(t, "tenant-a", now.AddDate(0, 0, -1), "sub_flaky")
	h.gateway.FailStatus(gatewaydomain.Transient("get_subscription_status", errors.New("connection reset")))
	h.gateway.FailStatus(gatewaydomain.Transient("get_subscription_status", errors.New("connection reset")))

	require.NoError(t, h.sched.RunDailySweep(context.Background()))

	require.Equal(t, 3, h.gateway.StatusCallCount())
	require.Equal(t, sub.Version+1, h.status(t, sub.ID).Version)
	require.Equal(t, float64(2), h.counter(t, "billing_scheduler_task_retries_total", map[string]string{
		"job": JobDailySweep,
	}))
}

func TestDailySweepIsolatesAbandonedTasks(t *testing.T) {
	h := newHarness(t)
	yesterday := now.AddDate(0, 0, -1)
	broken := h.seed(t, "tenant-a", yesterday, "sub_broken")
	healthy := h.seed(t, "tenant-b", yesterday, "")

	for i := 0; i < 3; i++ {
		h.gateway.FailStatus(gatewaydomain.Transient("get_subscription_status", errors.New("503")))
	}

	err := h.sched.RunDailySweep(context.Background())
	require.Error(t, err)
	require.True(t, gatewaydomain.IsTransient(err))

	require.Equal(t, broken.Version, h.status(t, broken.ID).Version)
	require.Equal(t, subscriptiondomain.SubscriptionStatusExpired, h.status(t, healthy.ID).Status)
	require.Equal(t, float64(1), h.counter(t, "billing_scheduler_tasks_total", map[string]string{
		"job": JobDailySweep, "outcome": obsmetrics.TaskOutcomeAbandoned,
	}))

	// the next tick picks the row up again
	h.clock.Advance(24 * time.Hour)
	require.NoError(t, h.sched.RunDailySweep(context.Background()))
	require.Equal(t, broken.Version+1, h.status(t, broken.ID).Version)
}

func TestDailySweepDoesNotRetryUnknownStatus(t *testing.T) {
	h := newHarness(t)
	sub := h.seed(t, "tenant-a", now.AddDate(0, 0, -1), "sub_weird")
	h.gateway.SetStatus("sub_weird", gatewaydomain.StatusUnknown)

	err := h.sched.RunDailySweep(context.Background())
	require.ErrorIs(t, err, gatewaydomain.ErrUnknownStatus)
	require.Equal(t, 1, h.gateway.StatusCallCount())
	require.Equal(t, sub.Version, h.status(t, sub.ID).Version)
}

func TestDailySweepClaimsTickOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "tenant-a", now.AddDate(0, 0, -1), "sub_renewed")

	require.NoError(t, h.sched.RunDailySweep(context.Background()))
	require.NoError(t, h.sched.RunDailySweep(context.Background()))

	require.Equal(t, 1, h.gateway.StatusCallCount())
	require.Equal(t, float64(1), h.counter(t, "billing_scheduler_job_deduplicated_total", map[string]string{
		"job": JobDailySweep,
	}))
}

func TestDailySweepReleasesTickAfterFailedRun(t *testing.T) {
	h := newHarness(t)
	sub := h.seed(t, "tenant-a", now.AddDate(0, 0, -1), "sub_flaky")
	for i := 0; i < 3; i++ {
		h.gateway.FailStatus(gatewaydomain.Transient("get_subscription_status", errors.New("503")))
	}

	require.Error(t, h.sched.RunDailySweep(context.Background()))
	require.Equal(t, sub.Version, h.status(t, sub.ID).Version)

	// same tick, the failed run no longer holds the claim
	require.NoError(t, h.sched.RunDailySweep(context.Background()))
	require.Equal(t, 4, h.gateway.StatusCallCount())
	require.Equal(t, sub.Version+1, h.status(t, sub.ID).Version)

	// a successful run keeps the claim
	require.NoError(t, h.sched.RunDailySweep(context.Background()))
	require.Equal(t, 4, h.gateway.StatusCallCount())
	require.Equal(t, float64(1), h.counter(t, "billing_scheduler_job_deduplicated_total", map[string]string{
		"job": JobDailySweep,
	}))
}

func TestMonthlySweepRemindsExactlyAtLeadDays(t *testing.T) {
	h := newHarness(t)
	inside := h.seed(t, "tenant-a", now.Add(6*24*time.Hour+12*time.Hour), "")
	boundary := h.seed(t, "tenant-b", now.AddDate(0, 0, 7), "")
	h.seed(t, "tenant-c", now.AddDate(0, 0, 8), "")
	h.seed(t, "tenant-d", now.AddDate(0, 0, 5), "")
	testsupport.SeedSubscription(t, h.db, h.node, "tenant-e", h.plan,
		testsupport.WithPeriod(now.AddDate(0, -1, 7), now.AddDate(0, 0, 7)),
		testsupport.WithCanceled(now),
	)

	require.NoError(t, h.sched.RunMonthlySweep(context.Background()))

	events := h.notifier.Events()
	require.Len(t, events, 2)
	reminded := map[string]notificationdomain.Event{}
	for _, event := range events {
		require.Equal(t, notificationdomain.KindPaymentReminder, event.Kind)
		reminded[event.SubscriptionID] = event
	}
	require.Contains(t, reminded, inside.ID.String())
	require.Contains(t, reminded, boundary.ID.String())

	event := reminded[boundary.ID.String()]
	require.Equal(t, "tenant-b", event.Payload["tenantId"])
	require.Equal(t, 7, event.Payload["daysRemaining"])
	require.Equal(t, "2025-04-17", event.Payload["expirationDate"])
	require.Equal(t, "https://app.example.com/billing", event.Payload["billingUrl"])
	require.Equal(t, "payment_reminder:"+boundary.ID.String()+":2025-04-10", event.DedupKey)

	// reminders never touch the rows
	require.Equal(t, boundary.Version, h.status(t, boundary.ID).Version)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{
		log:     zap.NewNop(),
		genID:   node,
		clock:   clock.NewFakeClock(time.Time{}),
		metrics: obsmetrics.NewSchedulerMetricsForTest(registry),
	}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "test",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "billing_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "test",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "billing_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range mf.GetMetric() {
			if len(metric.GetLabel()) != len(labels) {
				continue
			}
			for _, label := range metric.GetLabel() {
				if labels[label.GetName()] != label.GetValue() {
					continue metrics
				}
			}
			if metric.GetCounter() == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics tracks subscription lifecycle decisions and collaborator calls.
type LifecycleMetrics struct {
	reconcileActions *prometheus.CounterVec
	gatewayCalls     *prometheus.CounterVec
	gatewayLatency   *prometheus.HistogramVec
	notifications    *prometheus.CounterVec
	limitDecisions   *prometheus.CounterVec
}

var (
	lifecycleMetricsOnce sync.Once
	lifecycleMetrics     *LifecycleMetrics
)

// Lifecycle returns the singleton lifecycle metrics registry.
func Lifecycle() *LifecycleMetrics {
	return LifecycleWithConfig(Config{})
}

func LifecycleWithConfig(cfg Config) *LifecycleMetrics {
	lifecycleMetricsOnce.Do(func() {
		lifecycleMetrics = newLifecycleMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return lifecycleMetrics
}

// NewLifecycleMetricsForTest builds lifecycle metrics on a private registry.
func NewLifecycleMetricsForTest(registerer prometheus.Registerer) *LifecycleMetrics {
	return newLifecycleMetrics(registerer, Config{ServiceName: "test", Environment: "test"})
}

func newLifecycleMetrics(registerer prometheus.Registerer, cfg Config) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := cfg.constLabels()

	reconcileActions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billing_reconcile_actions_total",
		Help:        "Reconciliation outcomes by action.",
		ConstLabels: constLabels,
	}, []string{"action"})
	gatewayCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billing_gateway_calls_total",
		Help:        "Payment gateway calls by provider, operation and result.",
		ConstLabels: constLabels,
	}, []string{"provider", "op", "result"})
	gatewayLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "billing_gateway_call_duration_seconds",
		Help:        "Payment gateway call latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"provider", "op"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billing_notifications_total",
		Help:        "Notification deliveries by kind and result.",
		ConstLabels: constLabels,
	}, []string{"kind", "result"})
	limitDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billing_limit_decisions_total",
		Help:        "Quota checks by resource class, tier and decision.",
		ConstLabels: constLabels,
	}, []string{"resource", "tier", "allowed"})

	registerer.MustRegister(reconcileActions, gatewayCalls, gatewayLatency, notifications, limitDecisions)

	return &LifecycleMetrics{
		reconcileActions: reconcileActions,
		gatewayCalls:     gatewayCalls,
		gatewayLatency:   gatewayLatency,
		notifications:    notifications,
		limitDecisions:   limitDecisions,
	}
}

func (m *LifecycleMetrics) IncReconcileAction(action string) {
	if m == nil {
		return
	}
	m.reconcileActions.WithLabelValues(action).Inc()
}

// ObserveGatewayCall records one gateway round trip.
func (m *LifecycleMetrics) ObserveGatewayCall(provider, op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayCalls.WithLabelValues(provider, op, result).Inc()
	m.gatewayLatency.WithLabelValues(provider, op).Observe(duration.Seconds())
}

func (m *LifecycleMetrics) IncNotification(kind string, err error) {
	if m == nil {
		return
	}
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

func (m *LifecycleMetrics) IncLimitDecision(resource, tier string, allowed bool) {
	if m == nil {
		return
	}
	value := "false"
	if allowed {
		value = "true"
	}
	m.limitDecisions.WithLabelValues(resource, tier, value).Inc()
}

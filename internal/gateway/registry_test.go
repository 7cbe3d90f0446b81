package gateway

import (
	"context"
	"testing"
	"time"

	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
	"github.com/Ajamix/saas-platform-api/internal/gateway/gatewaytest"
	"github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistryResolvesProviderAndFallback(t *testing.T) {
	stripeGW := gatewaytest.New("stripe")
	paddleGW := gatewaytest.New("paddle")
	registry := NewRegistry("Stripe", stripeGW, paddleGW, nil)

	gw, err := registry.For("PADDLE")
	require.NoError(t, err)
	require.Same(t, paddleGW, gw)

	gw, err = registry.For("")
	require.NoError(t, err)
	require.Same(t, stripeGW, gw)

	_, err = registry.For("braintree")
	require.ErrorIs(t, err, gatewaydomain.ErrProviderNotFound)

	var nilRegistry *Registry
	_, err = nilRegistry.For("stripe")
	require.ErrorIs(t, err, gatewaydomain.ErrProviderNotFound)
}

func TestInstrumentRecordsCalls(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewLifecycleMetricsForTest(registry)
	fake := gatewaytest.New("stripe")
	fake.SetStatus("sub_1", gatewaydomain.StatusActive)
	gw := Instrument(fake, zap.NewNop(), m, time.Second)

	status, err := gw.GetSubscriptionStatus(context.Background(), "sub_1")
	require.NoError(t, err)
	require.Equal(t, gatewaydomain.StatusActive, status)

	fake.FailCancel(gatewaydomain.Transient("cancel_subscription", context.DeadlineExceeded))
	err = gw.CancelSubscription(context.Background(), "sub_1")
	require.True(t, gatewaydomain.IsTransient(err))

	count, err := testutil.GatherAndCount(registry, "billing_gateway_calls_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestUnconfiguredGatewayFailsPermanently(t *testing.T) {
	_, err := unconfigured{}.GetSubscriptionStatus(context.Background(), "sub_1")
	require.ErrorIs(t, err, gatewaydomain.ErrGatewayNotConfigured)
	require.False(t, gatewaydomain.IsTransient(err))
}

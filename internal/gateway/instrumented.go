package gateway

import (
	"context"
	"net/http"
	"time"

	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
	"github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	"github.com/Ajamix/saas-platform-api/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// instrumented bounds every outbound call with a timeout and records a span
// and latency metrics around it.
type instrumented struct {
	next    gatewaydomain.Gateway
	log     *zap.Logger
	metrics *metrics.LifecycleMetrics
	tracer  trace.Tracer
	timeout time.Duration
}

// Instrument decorates gw. A zero timeout leaves calls bounded only by ctx.
func Instrument(gw gatewaydomain.Gateway, log *zap.Logger, m *metrics.LifecycleMetrics, timeout time.Duration) gatewaydomain.Gateway {
	if gw == nil {
		return nil
	}
	return &instrumented{
		next:    gw,
		log:     log.Named("gateway").With(zap.String("provider", gw.Name())),
		metrics: m,
		tracer:  tracing.Tracer("gateway"),
		timeout: timeout,
	}
}

func (g *instrumented) Name() string { return g.next.Name() }

func (g *instrumented) CreateCheckout(ctx context.Context, req gatewaydomain.CheckoutRequest) (gatewaydomain.Checkout, error) {
	var checkout gatewaydomain.Checkout
	err := g.call(ctx, "create_checkout", req.ProductID, func(ctx context.Context) error {
		var err error
		checkout, err = g.next.CreateCheckout(ctx, req)
		return err
	})
	return checkout, err
}

func (g *instrumented) GetSubscriptionStatus(ctx context.Context, externalID string) (gatewaydomain.Status, error) {
	var status gatewaydomain.Status
	err := g.call(ctx, "get_subscription_status", externalID, func(ctx context.Context) error {
		var err error
		status, err = g.next.GetSubscriptionStatus(ctx, externalID)
		return err
	})
	return status, err
}

func (g *instrumented) CancelSubscription(ctx context.Context, externalID string) error {
	return g.call(ctx, "cancel_subscription", externalID, func(ctx context.Context) error {
		return g.next.CancelSubscription(ctx, externalID)
	})
}

func (g *instrumented) ParseWebhook(r *http.Request) (gatewaydomain.Event, error) {
	var event gatewaydomain.Event
	err := g.call(r.Context(), "parse_webhook", "", func(ctx context.Context) error {
		var err error
		event, err = g.next.ParseWebhook(r.WithContext(ctx))
		return err
	})
	return event, err
}

func (g *instrumented) call(ctx context.Context, op, externalID string, fn func(context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ctx, span := g.tracer.Start(ctx, "gateway."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("gateway.provider", g.next.Name()),
		attribute.String("gateway.external_id", externalID),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)
	g.metrics.ObserveGatewayCall(g.next.Name(), op, duration, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.log.Debug("gateway.call.failed",
			zap.String("op", op),
			zap.String("external_id", externalID),
			zap.Bool("transient", gatewaydomain.IsTransient(err)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
	return err
}

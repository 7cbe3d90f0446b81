package service

import (
	"context"
	"errors"
	"time"

	"github.com/Ajamix/saas-platform-api/internal/lock"
	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	"github.com/Ajamix/saas-platform-api/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// dedupTTL outlives a scheduling tick and the retries inside it.
const dedupTTL = 48 * time.Hour

// Dispatcher drains outbox events returned by lifecycle operations. Delivery
// failures are logged and counted, never returned.
type Dispatcher struct {
	log       *zap.Logger
	directory notificationdomain.Directory
	sinks     []notificationdomain.Sink
	claimer   lock.Claimer
	metrics   *metrics.LifecycleMetrics
}

type DispatcherParam struct {
	fx.In

	Log       *zap.Logger
	Directory notificationdomain.Directory
	Sinks     []notificationdomain.Sink `group:"notification.sinks"`
	Claimer   lock.Claimer              `optional:"true"`
	Metrics   *metrics.LifecycleMetrics `optional:"true"`
}

func NewDispatcher(p DispatcherParam) *Dispatcher {
	sinks := make([]notificationdomain.Sink, 0, len(p.Sinks))
	for _, sink := range p.Sinks {
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}
	lifecycleMetrics := p.Metrics
	if lifecycleMetrics == nil {
		lifecycleMetrics = metrics.Lifecycle()
	}
	return &Dispatcher{
		log:       p.Log.Named("notification.dispatcher"),
		directory: p.Directory,
		sinks:     sinks,
		claimer:   p.Claimer,
		metrics:   lifecycleMetrics,
	}
}

// Drain delivers events in order. It returns once every event was attempted.
func (d *Dispatcher) Drain(ctx context.Context, events []notificationdomain.Event) {
	for _, event := range events {
		d.deliver(ctx, event)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event notificationdomain.Event) {
	logFields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("tenant_id", event.TenantID),
		zap.String("subscription_id", event.SubscriptionID),
	}

	admins, err := d.directory.ListAdmins(ctx, event.TenantID)
	if err != nil {
		d.log.Warn("notification.directory.failed", append(logFields, zap.Error(err))...)
		d.metrics.IncNotification(string(event.Kind), err)
		return
	}
	if len(admins) == 0 {
		d.log.Info("notification.no_recipients", logFields...)
		return
	}

	token, ok := d.claim(ctx, event, logFields)
	if !ok {
		d.log.Debug("notification.deduplicated", append(logFields, zap.String("dedup_key", event.DedupKey))...)
		return
	}

	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Notify(ctx, admins, event.Kind, event.Payload); err != nil {
			d.log.Warn("notification.delivery.failed", append(logFields, zap.Error(err))...)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && len(errs) == len(d.sinks) {
		// nothing went out; let the next drain try again
		d.release(ctx, event, token, logFields)
	}
	d.metrics.IncNotification(string(event.Kind), errors.Join(errs...))
}

// claim reports whether the event should be sent, with the token owning its
// dedup key. A claim backend failure lets the event through; a duplicate is
// cheaper than a missed reminder.
func (d *Dispatcher) claim(ctx context.Context, event notificationdomain.Event, logFields []zap.Field) (string, bool) {
	if d.claimer == nil || event.DedupKey == "" {
		return "", true
	}
	token, ok, err := d.claimer.TryLock(ctx, dedupKey(event), dedupTTL)
	if err != nil {
		d.log.Warn("notification.dedup.failed", append(logFields, zap.Error(err))...)
		return "", true
	}
	return token, ok
}

func (d *Dispatcher) release(ctx context.Context, event notificationdomain.Event, token string, logFields []zap.Field) {
	if d.claimer == nil || token == "" {
		return
	}
	if err := d.claimer.Release(context.WithoutCancel(ctx), dedupKey(event), token); err != nil {
		d.log.Warn("notification.dedup.release_failed", append(logFields, zap.Error(err))...)
	}
}

func dedupKey(event notificationdomain.Event) string {
	return "notification:" + event.DedupKey
}

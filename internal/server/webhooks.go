package server

import (
	"errors"
	"net/http"
	"strings"

	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleGatewayWebhook verifies and applies a gateway notification. A
// completed checkout opens a subscription; a subscription change is
// reconciled against the gateway rather than trusted from the payload.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	if !s.gateways.ProviderExists(provider) {
		AbortWithError(c, gatewaydomain.ErrProviderNotFound)
		return
	}
	gw, err := s.gateways.For(provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := gw.ParseWebhook(c.Request)
	if err != nil {
		s.log.Warn("webhook.rejected", zap.String("provider", provider), zap.Error(err))
		AbortWithError(c, err)
		return
	}
	logFields := []zap.Field{
		zap.String("provider", gw.Name()),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.RawType),
	}

	ctx := c.Request.Context()
	switch event.Type {
	case gatewaydomain.EventCheckoutCompleted:
		plan, err := s.planSvc.GetByExternalProductID(ctx, event.ProductID)
		if err != nil {
			s.log.Warn("webhook.checkout.plan_unresolved", append(logFields, zap.String("product_id", event.ProductID), zap.Error(err))...)
			AbortWithError(c, err)
			return
		}
		subscription, err := s.subscriptionSvc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
			TenantID:               event.TenantID,
			PlanID:                 plan.ID.String(),
			GatewayProvider:        gw.Name(),
			ExternalCustomerID:     event.CustomerID,
			ExternalSubscriptionID: event.SubscriptionID,
			Metadata:               map[string]any{"checkout_event_id": event.ID},
		})
		if err != nil {
			s.log.Warn("webhook.checkout.failed", append(logFields, zap.String("tenant_id", event.TenantID), zap.Error(err))...)
			AbortWithError(c, err)
			return
		}
		s.log.Info("webhook.checkout.applied", append(logFields,
			zap.String("tenant_id", subscription.TenantID),
			zap.String("subscription_id", subscription.ID.String()),
		)...)
		s.notifier.Drain(ctx, []notificationdomain.Event{subscription.ChangeEvent(s.clock.Now().UTC())})

	case gatewaydomain.EventSubscriptionChanged:
		result, err := s.reconcileSvc.ReconcileByExternalID(ctx, event.SubscriptionID)
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			// changes for subscriptions this service never recorded are not ours
			s.log.Info("webhook.subscription.unknown", append(logFields, zap.String("external_subscription_id", event.SubscriptionID))...)
			break
		}
		if err != nil {
			s.log.Warn("webhook.reconcile.failed", append(logFields, zap.Error(err))...)
			AbortWithError(c, err)
			return
		}
		s.log.Info("webhook.reconciled", append(logFields, zap.String("action", string(result.Action)))...)
		s.notifier.Drain(ctx, result.Events)

	default:
		s.log.Debug("webhook.ignored", logFields...)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

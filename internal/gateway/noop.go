package gateway

import (
	"context"
	"net/http"

	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
)

// unconfigured stands in when no provider is configured. Every call fails
// permanently so reconciliation leaves rows untouched.
type unconfigured struct{}

func (unconfigured) Name() string { return "none" }

func (unconfigured) CreateCheckout(context.Context, gatewaydomain.CheckoutRequest) (gatewaydomain.Checkout, error) {
	return gatewaydomain.Checkout{}, gatewaydomain.Permanent("create_checkout", gatewaydomain.ErrGatewayNotConfigured)
}

func (unconfigured) GetSubscriptionStatus(context.Context, string) (gatewaydomain.Status, error) {
	return gatewaydomain.StatusUnknown, gatewaydomain.Permanent("get_subscription_status", gatewaydomain.ErrGatewayNotConfigured)
}

func (unconfigured) CancelSubscription(context.Context, string) error {
	return gatewaydomain.Permanent("cancel_subscription", gatewaydomain.ErrGatewayNotConfigured)
}

func (unconfigured) ParseWebhook(*http.Request) (gatewaydomain.Event, error) {
	return gatewaydomain.Event{}, gatewaydomain.ErrGatewayNotConfigured
}

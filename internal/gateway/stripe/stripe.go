package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	providerName = "stripe"

	// maxWebhookBytes mirrors the limit Stripe documents for event payloads.
	maxWebhookBytes = int64(65536)

	// productMetadataKey lets a checkout session carry the plan's product id
	// directly, saving a line-item lookup.
	productMetadataKey = "product_id"
	tenantMetadataKey  = "tenant_id"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
}

type Adapter struct {
	webhookSecret string
	subscriptions subscription.Client
	sessions      session.Client
	products      product.Client
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("stripe: %w", gatewaydomain.ErrGatewayNotConfigured)
	}
	return newAdapter(cfg, stripe.GetBackend(stripe.APIBackend)), nil
}

func newAdapter(cfg Config, backend stripe.Backend) *Adapter {
	return &Adapter{
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		subscriptions: subscription.Client{B: backend, Key: cfg.SecretKey},
		sessions:      session.Client{B: backend, Key: cfg.SecretKey},
		products:      product.Client{B: backend, Key: cfg.SecretKey},
	}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) GetSubscriptionStatus(ctx context.Context, externalID string) (gatewaydomain.Status, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := a.subscriptions.Get(externalID, params)
	if err != nil {
		// a missing subscription usually means the wrong key or account;
		// it says nothing about whether the customer canceled
		return gatewaydomain.StatusUnknown, classifyError("get_subscription_status", err)
	}
	return gatewaydomain.MapStatus(string(sub.Status)), nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, externalID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := a.subscriptions.Cancel(externalID, params); err != nil {
		if isAlreadyCanceled(err) {
			return nil
		}
		return classifyError("cancel_subscription", err)
	}
	return nil
}

// CreateCheckout opens a subscription-mode Checkout Session for the
// product's default price. The tenant rides along as client_reference_id.
func (a *Adapter) CreateCheckout(ctx context.Context, req gatewaydomain.CheckoutRequest) (gatewaydomain.Checkout, error) {
	priceID, err := a.defaultPrice(ctx, req.ProductID)
	if err != nil {
		return gatewaydomain.Checkout{}, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.TenantID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{},
	}
	params.Context = ctx
	params.AddMetadata(tenantMetadataKey, req.TenantID)
	params.AddMetadata(productMetadataKey, req.ProductID)
	params.SubscriptionData.AddMetadata(tenantMetadataKey, req.TenantID)

	checkout, err := a.sessions.New(params)
	if err != nil {
		return gatewaydomain.Checkout{}, classifyError("create_checkout", err)
	}
	out := gatewaydomain.Checkout{SessionID: checkout.ID, URL: checkout.URL}
	if checkout.ExpiresAt > 0 {
		expiresAt := time.Unix(checkout.ExpiresAt, 0).UTC()
		out.ExpiresAt = &expiresAt
	}
	return out, nil
}

func (a *Adapter) defaultPrice(ctx context.Context, productID string) (string, error) {
	params := &stripe.ProductParams{}
	params.Context = ctx
	prod, err := a.products.Get(productID, params)
	if err != nil {
		return "", classifyError("create_checkout", err)
	}
	if prod.DefaultPrice == nil || prod.DefaultPrice.ID == "" {
		return "", gatewaydomain.Permanent("create_checkout", gatewaydomain.ErrCheckoutPriceNotFound)
	}
	return prod.DefaultPrice.ID, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
func (a *Adapter) ParseWebhook(r *http.Request) (gatewaydomain.Event, error) {
	if a.webhookSecret == "" {
		return gatewaydomain.Event{}, fmt.Errorf("stripe webhook: %w", gatewaydomain.ErrGatewayNotConfigured)
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		return gatewaydomain.Event{}, gatewaydomain.ErrInvalidPayload
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), a.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return gatewaydomain.Event{}, gatewaydomain.ErrInvalidSignature
	}

	normalized := gatewaydomain.Event{
		ID:       event.ID,
		Type:     gatewaydomain.EventIgnored,
		Provider: providerName,
		RawType:  string(event.Type),
	}

	switch event.Type {
	case "checkout.session.completed":
		var checkout stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &checkout); err != nil {
			return gatewaydomain.Event{}, gatewaydomain.ErrInvalidPayload
		}
		if checkout.Mode != "" && checkout.Mode != stripe.CheckoutSessionModeSubscription {
			return normalized, nil
		}
		normalized.Type = gatewaydomain.EventCheckoutCompleted
		normalized.TenantID = strings.TrimSpace(checkout.ClientReferenceID)
		if normalized.TenantID == "" {
			normalized.TenantID = strings.TrimSpace(checkout.Metadata[tenantMetadataKey])
		}
		if checkout.Customer != nil {
			normalized.CustomerID = checkout.Customer.ID
		}
		if checkout.Subscription != nil {
			normalized.SubscriptionID = checkout.Subscription.ID
		}
		productID, err := a.checkoutProduct(r.Context(), &checkout)
		if err != nil {
			return gatewaydomain.Event{}, err
		}
		normalized.ProductID = productID

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return gatewaydomain.Event{}, gatewaydomain.ErrInvalidPayload
		}
		normalized.Type = gatewaydomain.EventSubscriptionChanged
		normalized.SubscriptionID = sub.ID
		if sub.Customer != nil {
			normalized.CustomerID = sub.Customer.ID
		}
	}

	return normalized, nil
}

// checkoutProduct resolves the product bought in a checkout session. Line
// items are not part of the webhook payload, so they are fetched on demand.
func (a *Adapter) checkoutProduct(ctx context.Context, checkout *stripe.CheckoutSession) (string, error) {
	if productID := strings.TrimSpace(checkout.Metadata[productMetadataKey]); productID != "" {
		return productID, nil
	}
	if productID := firstProduct(checkout.LineItems); productID != "" {
		return productID, nil
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")
	expanded, err := a.sessions.Get(checkout.ID, params)
	if err != nil {
		return "", classifyError("get_checkout_session", err)
	}
	return firstProduct(expanded.LineItems), nil
}

func firstProduct(items *stripe.LineItemList) string {
	if items == nil {
		return ""
	}
	for _, item := range items.Data {
		if item != nil && item.Price != nil && item.Price.Product != nil && item.Price.Product.ID != "" {
			return item.Price.Product.ID
		}
	}
	return ""
}

// classifyError separates retryable transport trouble from permanent rejections.
func classifyError(op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		// network failures never reach Stripe's error envelope
		return gatewaydomain.Transient(op, err)
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.HTTPStatusCode == http.StatusUnauthorized,
		stripeErr.Type == stripe.ErrorTypeAPI:
		return gatewaydomain.Transient(op, err)
	default:
		return gatewaydomain.Permanent(op, err)
	}
}

func isAlreadyCanceled(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(stripeErr.Msg), "canceled subscription")
}

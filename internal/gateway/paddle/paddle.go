package paddle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

const (
	providerName    = "paddle"
	maxWebhookBytes = int64(1 << 20)
)

type Config struct {
	APIKey        string
	WebhookSecret string
	Environment   string
}

type subscriptionsClient interface {
	GetSubscription(ctx context.Context, req *paddle.GetSubscriptionRequest) (*paddle.Subscription, error)
	CancelSubscription(ctx context.Context, req *paddle.CancelSubscriptionRequest) (*paddle.Subscription, error)
}

type productsClient interface {
	GetProduct(ctx context.Context, req *paddle.GetProductRequest) (*paddle.Product, error)
}

type transactionsClient interface {
	CreateTransaction(ctx context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error)
}

type Adapter struct {
	subscriptions subscriptionsClient
	products      productsClient
	transactions  transactionsClient
	verifier      *paddle.WebhookVerifier
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("paddle: %w", gatewaydomain.ErrGatewayNotConfigured)
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Environment)) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	adapter := &Adapter{
		subscriptions: client.SubscriptionsClient,
		products:      client.ProductsClient,
		transactions:  client.TransactionsClient,
	}
	if secret := strings.TrimSpace(cfg.WebhookSecret); secret != "" {
		adapter.verifier = paddle.NewWebhookVerifier(secret)
	}
	return adapter, nil
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) GetSubscriptionStatus(ctx context.Context, externalID string) (gatewaydomain.Status, error) {
	sub, err := a.subscriptions.GetSubscription(ctx, &paddle.GetSubscriptionRequest{SubscriptionID: externalID})
	if err != nil {
		return gatewaydomain.StatusUnknown, classifyError("get_subscription_status", err)
	}
	return gatewaydomain.MapStatus(string(sub.Status)), nil
}

// CancelSubscription schedules cancellation at the next billing period so
// the customer keeps what they paid for.
func (a *Adapter) CancelSubscription(ctx context.Context, externalID string) error {
	_, err := a.subscriptions.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: externalID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromNextBillingPeriod),
	})
	if err != nil {
		if isAlreadyCanceled(err) {
			return nil
		}
		return classifyError("cancel_subscription", err)
	}
	return nil
}

// CreateCheckout opens a transaction for the product's active recurring
// price. Paddle has no cancel URL; the success URL hosts the checkout.
func (a *Adapter) CreateCheckout(ctx context.Context, req gatewaydomain.CheckoutRequest) (gatewaydomain.Checkout, error) {
	product, err := a.products.GetProduct(ctx, &paddle.GetProductRequest{ProductID: req.ProductID, IncludePrices: true})
	if err != nil {
		return gatewaydomain.Checkout{}, classifyError("create_checkout", err)
	}
	priceID := recurringPrice(product)
	if priceID == "" {
		return gatewaydomain.Checkout{}, gatewaydomain.Permanent("create_checkout", gatewaydomain.ErrCheckoutPriceNotFound)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})
	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{"tenant_id": req.TenantID},
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := a.transactions.CreateTransaction(ctx, txReq)
	if err != nil {
		return gatewaydomain.Checkout{}, classifyError("create_checkout", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return gatewaydomain.Checkout{}, gatewaydomain.Permanent("create_checkout", errors.New("no checkout url returned"))
	}
	return gatewaydomain.Checkout{SessionID: tx.ID, URL: *tx.Checkout.URL}, nil
}

func recurringPrice(product *paddle.Product) string {
	if product == nil {
		return ""
	}
	for _, price := range product.Prices {
		if price.Status == paddle.StatusActive && price.BillingCycle != nil {
			return price.ID
		}
	}
	return ""
}

type webhookEnvelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

type webhookItem struct {
	Price struct {
		ID        string `json:"id"`
		ProductID string `json:"product_id"`
	} `json:"price"`
}

type webhookData struct {
	ID             string         `json:"id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomerID     string         `json:"customer_id"`
	Status         string         `json:"status"`
	CustomData     map[string]any `json:"custom_data"`
	Items          []webhookItem  `json:"items"`
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
func (a *Adapter) ParseWebhook(r *http.Request) (gatewaydomain.Event, error) {
	if a.verifier == nil {
		return gatewaydomain.Event{}, fmt.Errorf("paddle webhook: %w", gatewaydomain.ErrGatewayNotConfigured)
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		return gatewaydomain.Event{}, gatewaydomain.ErrInvalidPayload
	}
	r.Body = io.NopCloser(bytes.NewReader(payload))

	valid, err := a.verifier.Verify(r)
	if err != nil || !valid {
		return gatewaydomain.Event{}, gatewaydomain.ErrInvalidSignature
	}
	return parsePayload(payload)
}

func parsePayload(payload []byte) (gatewaydomain.Event, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return gatewaydomain.Event{}, gatewaydomain.ErrInvalidPayload
	}
	var data webhookData
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return gatewaydomain.Event{}, gatewaydomain.ErrInvalidPayload
		}
	}

	event := gatewaydomain.Event{
		ID:         envelope.EventID,
		Type:       gatewaydomain.EventIgnored,
		Provider:   providerName,
		RawType:    envelope.EventType,
		CustomerID: data.CustomerID,
	}

	switch {
	case envelope.EventType == "transaction.completed":
		if data.SubscriptionID == "" {
			// one-off purchase, nothing to subscribe
			return event, nil
		}
		event.Type = gatewaydomain.EventCheckoutCompleted
		event.SubscriptionID = data.SubscriptionID
		event.TenantID = customString(data.CustomData, "tenant_id")
		for _, item := range data.Items {
			if item.Price.ProductID != "" {
				event.ProductID = item.Price.ProductID
				break
			}
		}
	case strings.HasPrefix(envelope.EventType, "subscription."):
		if envelope.EventType == "subscription.created" {
			// the completed transaction carries the checkout
			return event, nil
		}
		event.Type = gatewaydomain.EventSubscriptionChanged
		event.SubscriptionID = data.ID
	}
	return event, nil
}

func customString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	value, _ := data[key].(string)
	return strings.TrimSpace(value)
}

func classifyError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return gatewaydomain.Transient(op, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not_found") || strings.Contains(msg, "invalid_field") || strings.Contains(msg, "bad_request") {
		return gatewaydomain.Permanent(op, err)
	}
	return gatewaydomain.Transient(op, err)
}

func isAlreadyCanceled(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "subscription_locked") || strings.Contains(msg, "is_canceled") ||
		strings.Contains(msg, "already canceled")
}

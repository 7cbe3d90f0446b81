// Package domain defines the contract this system requires from an external
// payment gateway. Provider SDKs are adapted to it, never exposed past it.
package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Status is the gateway's view of a subscription, normalized across providers.
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	// StatusLapsed covers non-active states that were not an explicit
	// cancellation, e.g. failed payment.
	StatusLapsed  Status = "lapsed"
	StatusUnknown Status = "unknown"
)

// MapStatus normalizes a provider status string.
func MapStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "trialing":
		return StatusActive
	case "canceled", "cancelled", "incomplete_expired", "expired":
		return StatusCanceled
	case "past_due", "unpaid", "incomplete", "paused":
		return StatusLapsed
	default:
		return StatusUnknown
	}
}

type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionChanged EventType = "subscription_changed"
	EventIgnored             EventType = "ignored"
)

// Event is a verified webhook normalized to what lifecycle code needs.
type Event struct {
	ID             string
	Type           EventType
	Provider       string
	RawType        string
	TenantID       string
	ProductID      string
	CustomerID     string
	SubscriptionID string
}

// CheckoutRequest starts a hosted checkout for one plan. TenantID travels
// with the session and comes back on the completed-checkout webhook.
type CheckoutRequest struct {
	TenantID   string
	ProductID  string
	SuccessURL string
	CancelURL  string
}

type Checkout struct {
	SessionID string
	URL       string
	ExpiresAt *time.Time
}

type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	GetSubscriptionStatus(ctx context.Context, externalID string) (Status, error)
	// CancelSubscription asks the gateway to stop renewing. A subscription the
	// gateway already considers canceled is not an error.
	CancelSubscription(ctx context.Context, externalID string) error
	ParseWebhook(r *http.Request) (Event, error)
}

// Error is a failure talking to the gateway. It never carries a business
// answer; Transient marks failures worth retrying.
type Error struct {
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("gateway %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Transient
	}
	return false
}

func Transient(op string, err error) error {
	return &Error{Op: op, Transient: true, Err: err}
}

func Permanent(op string, err error) error {
	return &Error{Op: op, Transient: false, Err: err}
}

var (
	ErrUnknownStatus         = errors.New("gateway_unknown_status")
	ErrGatewayNotConfigured  = errors.New("gateway_not_configured")
	ErrProviderNotFound      = errors.New("gateway_provider_not_found")
	ErrInvalidSignature      = errors.New("invalid_webhook_signature")
	ErrInvalidPayload        = errors.New("invalid_webhook_payload")
	ErrMissingCheckoutTenant = errors.New("checkout_missing_tenant")
	ErrCheckoutPriceNotFound = errors.New("checkout_price_not_found")
)

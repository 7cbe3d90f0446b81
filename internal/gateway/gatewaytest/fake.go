// Package gatewaytest provides an in-memory payment gateway for tests.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
)

// Fake answers status queries from a map and records calls. Queued errors
// are returned before any status, one per call.
type Fake struct {
	mu sync.Mutex

	Provider     string
	Statuses     map[string]gatewaydomain.Status
	StatusErrs   []error
	CancelErrs   []error
	Webhook      gatewaydomain.Event
	WebhookErr   error
	CheckoutErr  error
	Checkouts    []gatewaydomain.CheckoutRequest
	StatusCalls  int
	CancelCalls  []string
	CancelBlocks chan struct{}
}

func New(provider string) *Fake {
	return &Fake{
		Provider: provider,
		Statuses: map[string]gatewaydomain.Status{},
	}
}

func (f *Fake) Name() string { return f.Provider }

func (f *Fake) SetStatus(externalID string, status gatewaydomain.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statuses[externalID] = status
}

// FailStatus queues err for the next status query.
func (f *Fake) FailStatus(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusErrs = append(f.StatusErrs, err)
}

// FailCancel queues err for the next cancel request.
func (f *Fake) FailCancel(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CancelErrs = append(f.CancelErrs, err)
}

func (f *Fake) GetSubscriptionStatus(ctx context.Context, externalID string) (gatewaydomain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusCalls++
	if len(f.StatusErrs) > 0 {
		err := f.StatusErrs[0]
		f.StatusErrs = f.StatusErrs[1:]
		return gatewaydomain.StatusUnknown, err
	}
	status, ok := f.Statuses[externalID]
	if !ok {
		return gatewaydomain.StatusUnknown, gatewaydomain.Permanent("get_subscription_status", errors.New("no such subscription"))
	}
	return status, nil
}

func (f *Fake) CancelSubscription(ctx context.Context, externalID string) error {
	if f.CancelBlocks != nil {
		select {
		case <-f.CancelBlocks:
		case <-ctx.Done():
			return gatewaydomain.Transient("cancel_subscription", ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CancelCalls = append(f.CancelCalls, externalID)
	if len(f.CancelErrs) > 0 {
		err := f.CancelErrs[0]
		f.CancelErrs = f.CancelErrs[1:]
		return err
	}
	f.Statuses[externalID] = gatewaydomain.StatusCanceled
	return nil
}

func (f *Fake) CreateCheckout(ctx context.Context, req gatewaydomain.CheckoutRequest) (gatewaydomain.Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CheckoutErr != nil {
		return gatewaydomain.Checkout{}, f.CheckoutErr
	}
	f.Checkouts = append(f.Checkouts, req)
	sessionID := fmt.Sprintf("cs_%s_%d", f.Provider, len(f.Checkouts))
	return gatewaydomain.Checkout{
		SessionID: sessionID,
		URL:       "https://checkout.test/" + sessionID,
	}, nil
}

func (f *Fake) ParseWebhook(r *http.Request) (gatewaydomain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WebhookErr != nil {
		return gatewaydomain.Event{}, f.WebhookErr
	}
	event := f.Webhook
	event.Provider = f.Provider
	return event, nil
}

func (f *Fake) CancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.CancelCalls)
}

func (f *Fake) StatusCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.StatusCalls
}

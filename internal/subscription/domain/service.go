package domain

import (
	"context"
	"errors"
	"time"
)

type CreateSubscriptionRequest struct {
	TenantID               string         `json:"tenant_id"`
	PlanID                 string         `json:"plan_id"`
	GatewayProvider        string         `json:"gateway_provider,omitempty"`
	ExternalCustomerID     string         `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string         `json:"external_subscription_id,omitempty"`
	Metadata               map[string]any `json:"metadata,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	GetByID(ctx context.Context, id string) (Subscription, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Subscription, error)
	GetEntitling(ctx context.Context, tenantID string, at time.Time) (*Subscription, error)
}

var (
	ErrSubscriptionConflict = errors.New("subscription_conflict")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrStaleSubscription    = errors.New("stale_subscription")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidTenant        = errors.New("invalid_tenant")
	ErrInvalidPlan          = errors.New("invalid_plan")
)

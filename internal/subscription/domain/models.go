// Package domain contains persistence models and lifecycle rules for subscriptions.
package domain

import (
	"time"

	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
)

// Subscription is the local record of a tenant's entitlement to a plan.
// Rows are never deleted; expired rows are kept as history.
type Subscription struct {
	ID                     snowflake.ID        `gorm:"primaryKey" json:"id"`
	TenantID               string              `gorm:"type:text;not null;index" json:"tenant_id"`
	PlanID                 snowflake.ID        `gorm:"not null;index" json:"plan_id"`
	Status                 SubscriptionStatus  `gorm:"type:text;not null;index" json:"status"`
	BillingInterval        plandomain.Interval `gorm:"type:text;not null" json:"billing_interval"`
	CurrentPeriodStart     time.Time           `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd       time.Time           `gorm:"not null;index" json:"current_period_end"`
	CancelAt               *time.Time          `gorm:"" json:"cancel_at,omitempty"`
	CanceledAt             *time.Time          `gorm:"" json:"canceled_at,omitempty"`
	GatewayProvider        *string             `gorm:"type:text" json:"gateway_provider,omitempty"`
	ExternalCustomerID     *string             `gorm:"type:text" json:"external_customer_id,omitempty"`
	ExternalSubscriptionID *string             `gorm:"type:text;index" json:"external_subscription_id,omitempty"`
	PriceAtCreation        decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"price_at_creation"`
	Metadata               datatypes.JSONMap   `gorm:"type:jsonb" json:"metadata,omitempty"`
	Version                int64               `gorm:"not null;default:1" json:"version"`
	CreatedAt              time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time           `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// IsLive reports whether the row is active with no scheduled termination.
// At most one live row exists per tenant.
func (s Subscription) IsLive() bool {
	return s.Status == SubscriptionStatusActive && s.CancelAt == nil
}

// EntitlesAt reports whether the row grants quota at t: either live, or
// carrying a cancelAt still in the future regardless of status.
func (s Subscription) EntitlesAt(t time.Time) bool {
	if s.IsLive() {
		return true
	}
	return s.CancelAt != nil && t.Before(*s.CancelAt)
}

// PeriodEndedAt reports whether the paid-for window is over at t.
func (s Subscription) PeriodEndedAt(t time.Time) bool {
	return !t.Before(s.CurrentPeriodEnd)
}

func (s Subscription) ExternalID() string {
	if s.ExternalSubscriptionID == nil {
		return ""
	}
	return *s.ExternalSubscriptionID
}

func (s Subscription) Provider() string {
	if s.GatewayProvider == nil {
		return ""
	}
	return *s.GatewayProvider
}

// Package domain defines lifecycle notifications and their collaborators.
package domain

import (
	"context"
	"time"
)

// Kind classifies a notification.
type Kind string

const (
	KindSubscriptionChange Kind = "subscription_change"
	KindPaymentReminder    Kind = "payment_reminder"
)

// Event is an outbox entry produced by a lifecycle operation. Operations
// return events instead of delivering them; a Dispatcher drains them.
type Event struct {
	Kind           Kind
	TenantID       string
	SubscriptionID string
	Payload        map[string]any
	DedupKey       string
	OccurredAt     time.Time
}

// TenantAdmin is a recipient resolved through the tenant directory.
type TenantAdmin struct {
	TenantID string `gorm:"type:text;primaryKey"`
	UserID   string `gorm:"type:text;primaryKey"`
	Email    string `gorm:"type:text;not null"`
	Name     string `gorm:"type:text"`
}

// TableName sets the database table name.
func (TenantAdmin) TableName() string { return "tenant_admins" }

// Directory resolves tenant administrators for fan-out.
type Directory interface {
	ListAdmins(ctx context.Context, tenantID string) ([]TenantAdmin, error)
}

// Sink delivers one notification to its recipients.
type Sink interface {
	Notify(ctx context.Context, admins []TenantAdmin, kind Kind, payload map[string]any) error
}

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists subscriptions. Lookups return nil, nil when nothing
// matches. Every lifecycle write is guarded by the row version.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Subscription, error)
	FindLiveByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*Subscription, error)
	FindEntitlingByTenant(ctx context.Context, db *gorm.DB, tenantID string, at time.Time) (*Subscription, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID string) ([]Subscription, error)
	ListDueForSweep(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]Subscription, error)
	ListActiveEndingBetween(ctx context.Context, db *gorm.DB, from, to time.Time, afterID snowflake.ID, limit int) ([]Subscription, error)
	UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *Subscription, expectedVersion int64) error
}

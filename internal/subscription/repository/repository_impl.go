package repository

import (
	"context"
	"time"

	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, tenant_id, plan_id, status, billing_interval, current_period_start, current_period_end,
	cancel_at, canceled_at, gateway_provider, external_customer_id, external_subscription_id,
	price_at_creation, metadata, version, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	if subscription.Version == 0 {
		subscription.Version = 1
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.TenantID,
		subscription.PlanID,
		subscription.Status,
		subscription.BillingInterval,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.CancelAt,
		subscription.CanceledAt,
		subscription.GatewayProvider,
		subscription.ExternalCustomerID,
		subscription.ExternalSubscriptionID,
		subscription.PriceAtCreation,
		subscription.Metadata,
		subscription.Version,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`,
		id,
	)
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE external_subscription_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		externalID,
	)
}

func (r *repo) FindLiveByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = ? AND status = ? AND cancel_at IS NULL
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		tenantID,
		subscriptiondomain.SubscriptionStatusActive,
	)
}

// FindEntitlingByTenant prefers the live row and falls back to the row
// whose scheduled termination is furthest away.
func (r *repo) FindEntitlingByTenant(ctx context.Context, db *gorm.DB, tenantID string, at time.Time) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = ?
		   AND ((status = ? AND cancel_at IS NULL) OR cancel_at > ?)
		 ORDER BY CASE WHEN cancel_at IS NULL THEN 0 ELSE 1 END, cancel_at DESC, created_at DESC
		 LIMIT 1`,
		tenantID,
		subscriptiondomain.SubscriptionStatusActive,
		at,
	)
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID string) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC, id DESC`,
		tenantID,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

// ListDueForSweep pages through active and canceled rows whose period ended
// before now, keyed on id so rows updated mid-sweep are not revisited.
func (r *repo) ListDueForSweep(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status IN (?, ?) AND current_period_end < ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusCanceled,
		now,
		afterID,
		limit,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) ListActiveEndingBetween(ctx context.Context, db *gorm.DB, from, to time.Time, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = ? AND current_period_end > ? AND current_period_end <= ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		subscriptiondomain.SubscriptionStatusActive,
		from,
		to,
		afterID,
		limit,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

// UpdateLifecycle writes the lifecycle fields when the stored version still
// equals expectedVersion, and bumps the version on success.
func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription, expectedVersion int64) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, current_period_start = ?, current_period_end = ?, cancel_at = ?, canceled_at = ?,
		     updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.CancelAt,
		subscription.CanceledAt,
		subscription.UpdatedAt,
		subscription.ID,
		expectedVersion,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return subscriptiondomain.ErrStaleSubscription
	}
	subscription.Version = expectedVersion + 1
	return nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(query, args...).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

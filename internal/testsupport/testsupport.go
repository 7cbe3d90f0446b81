// Package testsupport builds in-memory databases and fixtures for package tests.
package testsupport

import (
	"testing"
	"time"

	"github.com/Ajamix/saas-platform-api/internal/migration"
	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	usagedomain "github.com/Ajamix/saas-platform-api/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch is a whole-second UTC instant fixtures are anchored on.
var Epoch = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

// NewDB opens a private sqlite database with the full schema applied.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

// NewNode returns a snowflake node for fixture ids.
func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	return node
}

type PlanOption func(*plandomain.Plan)

func WithExternalProduct(productID string) PlanOption {
	return func(p *plandomain.Plan) { p.ExternalProductID = &productID }
}

func WithInterval(interval plandomain.Interval) PlanOption {
	return func(p *plandomain.Plan) { p.Interval = interval }
}

// SeedPlan inserts a monthly plan with the given limits.
func SeedPlan(t *testing.T, db *gorm.DB, node *snowflake.Node, price string, features plandomain.Features, opts ...PlanOption) plandomain.Plan {
	t.Helper()

	plan := plandomain.Plan{
		ID:        node.Generate(),
		Name:      "Plan " + price,
		Price:     decimal.RequireFromString(price),
		Interval:  plandomain.IntervalMonthly,
		Features:  datatypes.NewJSONType(features),
		IsActive:  true,
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	}
	for _, opt := range opts {
		opt(&plan)
	}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("failed to seed plan: %v", err)
	}
	return plan
}

type SubscriptionOption func(*subscriptiondomain.Subscription)

func WithExternalSubscription(provider, externalID string) SubscriptionOption {
	return func(s *subscriptiondomain.Subscription) {
		s.GatewayProvider = &provider
		s.ExternalSubscriptionID = &externalID
	}
}

func WithPeriod(start, end time.Time) SubscriptionOption {
	return func(s *subscriptiondomain.Subscription) {
		s.CurrentPeriodStart = start
		s.CurrentPeriodEnd = end
	}
}

// WithCanceled marks the fixture canceled with cancelAt at its period end.
func WithCanceled(canceledAt time.Time) SubscriptionOption {
	return func(s *subscriptiondomain.Subscription) {
		cancelAt := s.CurrentPeriodEnd
		s.Status = subscriptiondomain.SubscriptionStatusCanceled
		s.CancelAt = &cancelAt
		s.CanceledAt = &canceledAt
	}
}

func WithStatus(status subscriptiondomain.SubscriptionStatus) SubscriptionOption {
	return func(s *subscriptiondomain.Subscription) { s.Status = status }
}

// SeedSubscription inserts an active subscription whose period starts at Epoch.
// Options apply in order, so WithPeriod must precede WithCanceled.
func SeedSubscription(t *testing.T, db *gorm.DB, node *snowflake.Node, tenantID string, plan plandomain.Plan, opts ...SubscriptionOption) subscriptiondomain.Subscription {
	t.Helper()

	end, err := plan.Interval.AddTo(Epoch)
	if err != nil {
		t.Fatalf("invalid plan interval: %v", err)
	}
	subscription := subscriptiondomain.Subscription{
		ID:                 node.Generate(),
		TenantID:           tenantID,
		PlanID:             plan.ID,
		Status:             subscriptiondomain.SubscriptionStatusActive,
		BillingInterval:    plan.Interval,
		CurrentPeriodStart: Epoch,
		CurrentPeriodEnd:   end,
		PriceAtCreation:    plan.Price,
		Version:            1,
		CreatedAt:          Epoch,
		UpdatedAt:          Epoch,
	}
	for _, opt := range opts {
		opt(&subscription)
	}
	if err := db.Create(&subscription).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}
	return subscription
}

// SeedResourceType inserts a resource type created at the given instant.
func SeedResourceType(t *testing.T, db *gorm.DB, node *snowflake.Node, tenantID string, createdAt time.Time) usagedomain.ResourceType {
	t.Helper()
	resourceType := usagedomain.ResourceType{
		ID:        node.Generate(),
		TenantID:  tenantID,
		Name:      "type",
		CreatedAt: createdAt,
	}
	if err := db.Create(&resourceType).Error; err != nil {
		t.Fatalf("failed to seed resource type: %v", err)
	}
	return resourceType
}

// SeedSubmissions inserts n submissions under resourceTypeID.
func SeedSubmissions(t *testing.T, db *gorm.DB, node *snowflake.Node, tenantID string, resourceTypeID snowflake.ID, n int, createdAt time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		submission := usagedomain.Submission{
			ID:             node.Generate(),
			TenantID:       tenantID,
			ResourceTypeID: resourceTypeID,
			CreatedAt:      createdAt,
		}
		if err := db.Create(&submission).Error; err != nil {
			t.Fatalf("failed to seed submission: %v", err)
		}
	}
}

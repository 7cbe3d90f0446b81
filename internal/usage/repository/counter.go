package repository

import (
	"context"

	usagedomain "github.com/Ajamix/saas-platform-api/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type counter struct{}

func Provide() usagedomain.Counter {
	return &counter{}
}

func (c *counter) CountResourceTypes(ctx context.Context, db *gorm.DB, tenantID string, window usagedomain.Window) (int64, error) {
	return c.countInWindow(ctx, db, "resource_types", tenantID, window)
}

func (c *counter) CountSubmissions(ctx context.Context, db *gorm.DB, tenantID string, window usagedomain.Window) (int64, error) {
	return c.countInWindow(ctx, db, "submissions", tenantID, window)
}

func (c *counter) CountSubmissionsForResource(ctx context.Context, db *gorm.DB, tenantID string, resourceTypeID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM submissions WHERE tenant_id = ? AND resource_type_id = ?`,
		tenantID,
		resourceTypeID,
	).Scan(&count).Error
	return count, err
}

func (c *counter) countInWindow(ctx context.Context, db *gorm.DB, table, tenantID string, window usagedomain.Window) (int64, error) {
	var count int64
	query := db.WithContext(ctx).Table(table).Where("tenant_id = ?", tenantID)
	if !window.Start.IsZero() {
		query = query.Where("created_at >= ?", window.Start)
	}
	if !window.End.IsZero() {
		query = query.Where("created_at < ?", window.End)
	}
	err := query.Count(&count).Error
	return count, err
}

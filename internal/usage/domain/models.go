// Package domain defines the quota-consuming resources counted for limits.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ResourceClass names a quota-consuming resource kind.
type ResourceClass string

const (
	// ResourceClassType is a top-level resource ("review type") a tenant defines.
	ResourceClassType ResourceClass = "resource_type"
	// ResourceClassSubmission is a child record created under a resource type.
	ResourceClassSubmission ResourceClass = "submission"
)

func ParseResourceClass(raw string) (ResourceClass, error) {
	switch ResourceClass(raw) {
	case ResourceClassType, ResourceClassSubmission:
		return ResourceClass(raw), nil
	default:
		return "", ErrInvalidResourceClass
	}
}

// ResourceType rows are written by the resource service; this module only counts them.
type ResourceType struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	TenantID  string       `gorm:"type:text;not null;index:idx_resource_types_tenant_created"`
	Name      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;index:idx_resource_types_tenant_created"`
}

// TableName sets the database table name.
func (ResourceType) TableName() string { return "resource_types" }

type Submission struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TenantID       string       `gorm:"type:text;not null;index:idx_submissions_tenant_created"`
	ResourceTypeID snowflake.ID `gorm:"not null;index"`
	CreatedAt      time.Time    `gorm:"not null;index:idx_submissions_tenant_created"`
}

// TableName sets the database table name.
func (Submission) TableName() string { return "submissions" }

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// MonthWindow returns [first of now's UTC month 00:00, now).
func MonthWindow(now time.Time) Window {
	now = now.UTC()
	return Window{
		Start: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
		End:   now,
	}
}

// Counter reads usage. A zero Window.Start counts from the beginning of time.
type Counter interface {
	CountResourceTypes(ctx context.Context, db *gorm.DB, tenantID string, window Window) (int64, error)
	CountSubmissions(ctx context.Context, db *gorm.DB, tenantID string, window Window) (int64, error)
	CountSubmissionsForResource(ctx context.Context, db *gorm.DB, tenantID string, resourceTypeID snowflake.ID) (int64, error)
}

var ErrInvalidResourceClass = errors.New("invalid_resource_class")

// Package domain contains the plan catalog reference data.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Interval is the billing recurrence unit of a plan.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

func ParseInterval(raw string) (Interval, error) {
	switch Interval(strings.ToLower(strings.TrimSpace(raw))) {
	case IntervalMonthly:
		return IntervalMonthly, nil
	case IntervalYearly:
		return IntervalYearly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
	}
}

// AddTo advances t by exactly one interval.
func (i Interval) AddTo(t time.Time) (time.Time, error) {
	switch i {
	case IntervalMonthly:
		return t.AddDate(0, 1, 0), nil
	case IntervalYearly:
		return t.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInterval, string(i))
	}
}

// Features is the limit bundle granted by a plan. A zero limit means the
// plan does not restrict that resource.
type Features struct {
	MaxResourceTypes              int `json:"maxResourceTypes"`
	MaxSubmissionsPerResourceType int `json:"maxSubmissionsPerResourceType"`
}

// Plan is a purchasable catalog entry.
type Plan struct {
	ID                snowflake.ID                 `gorm:"primaryKey" json:"id"`
	Name              string                       `gorm:"type:text;not null" json:"name"`
	Description       string                       `gorm:"type:text" json:"description,omitempty"`
	Price             decimal.Decimal              `gorm:"type:numeric(12,2);not null" json:"price"`
	Interval          Interval                     `gorm:"type:text;not null" json:"interval"`
	Features          datatypes.JSONType[Features] `gorm:"type:jsonb" json:"features"`
	IsActive          bool                         `gorm:"not null;default:true" json:"is_active"`
	ExternalProductID *string                      `gorm:"type:text;index" json:"external_product_id,omitempty"`
	CheckoutURL       string                       `gorm:"type:text" json:"checkout_url,omitempty"`
	CreatedAt         time.Time                    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time                    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// Limits returns the plan's feature bundle.
func (p Plan) Limits() Features {
	return p.Features.Data()
}

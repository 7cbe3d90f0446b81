// Package domain defines quota decisions and the usage/limit report.
package domain

import (
	"context"
	"errors"

	usagedomain "github.com/Ajamix/saas-platform-api/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
)

type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Decision answers a single "may create one more" check. It does not
// reserve quota: two concurrent callers at the boundary may both pass.
type Decision struct {
	Allowed  bool                      `json:"allowed"`
	Entitled bool                      `json:"entitled"`
	Tier     Tier                      `json:"tier"`
	Resource usagedomain.ResourceClass `json:"resource"`
	// Limit is nil when the plan does not restrict the resource.
	Limit          *int64 `json:"limit"`
	Used           int64  `json:"used"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	PlanID         string `json:"planId,omitempty"`
}

// Report summarizes a tenant's monthly allowance and lifetime usage.
// Available* fields are nil when the plan leaves the resource unlimited.
type Report struct {
	TenantID                         string  `json:"tenantId"`
	Tier                             Tier    `json:"tier"`
	SubscriptionID                   string  `json:"subscriptionId,omitempty"`
	PlanID                           string  `json:"planId,omitempty"`
	MaxReviewsPerMonth               int64   `json:"maxReviewsPerMonth"`
	MaxSubmissionsPerMonth           int64   `json:"maxSubmissionsPerMonth"`
	AvailableReviewsPerMonthLeft     *int64  `json:"availableReviewsPerMonthLeft"`
	CurrentReviewCount               int64   `json:"currentReviewCount"`
	AvailableSubmissionsPerMonthLeft *int64  `json:"availableSubmissionsPerMonthLeft"`
	CurrentSubmissionCount           int64   `json:"currentSubmissionCount"`
	TotalReviews                     int64   `json:"totalReviews"`
	TotalSubmissions                 int64   `json:"totalSubmissions"`
	AvgSubmissionsPerReview          float64 `json:"avgSubmissionsPerReview"`
	AvgSubmissionsPerMonth           float64 `json:"avgSubmissionsPerMonth"`
	IsTrial                          bool    `json:"isTrial"`
}

type Service interface {
	// CanCreate checks one more unit of class. parentID scopes submission
	// checks to the resource type they belong to.
	CanCreate(ctx context.Context, tenantID string, class usagedomain.ResourceClass, parentID snowflake.ID) (Decision, error)
	Report(ctx context.Context, tenantID string) (Report, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrMissingParent = errors.New("missing_parent_resource")
)

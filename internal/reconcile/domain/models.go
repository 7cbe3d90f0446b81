// Package domain defines reconciliation of local subscriptions against the
// payment gateway.
package domain

import (
	"context"

	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
)

type Action string

const (
	ActionNoop     Action = "noop"
	ActionExtended Action = "extended"
	ActionCanceled Action = "canceled"
	ActionExpired  Action = "expired"
)

// Result is the outcome of one reconciliation. Events are returned for the
// caller to dispatch; reconciliation itself never notifies.
type Result struct {
	Action       Action
	Subscription subscriptiondomain.Subscription
	Events       []notificationdomain.Event
}

// Service is idempotent: reconciling a row twice while the gateway answer is
// unchanged changes nothing the second time. Gateway failures leave the row
// untouched and are returned.
type Service interface {
	ReconcileByID(ctx context.Context, id snowflake.ID) (Result, error)
	ReconcileByExternalID(ctx context.Context, externalID string) (Result, error)
}

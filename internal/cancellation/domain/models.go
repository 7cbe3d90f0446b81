// Package domain defines the tenant-initiated cancellation protocol.
package domain

import (
	"context"

	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
)

// Result carries the canceled row. GatewayErr records a failed best-effort
// gateway cancel; it is informational and never fails the request.
type Result struct {
	Subscription subscriptiondomain.Subscription
	Events       []notificationdomain.Event
	GatewayErr   error
}

// Service cancels at period end. Only subscription_not_found is ever
// returned to callers for a missing or non-active row.
type Service interface {
	Cancel(ctx context.Context, id snowflake.ID) (Result, error)
}

// Notifier receives change events after the local write commits.
type Notifier interface {
	Drain(ctx context.Context, events []notificationdomain.Event)
}

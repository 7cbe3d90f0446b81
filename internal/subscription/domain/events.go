package domain

import (
	"time"

	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
)

// ChangeEvent describes the row's current state for tenant administrators.
func (s Subscription) ChangeEvent(now time.Time) notificationdomain.Event {
	payload := map[string]any{
		"tenantId":         s.TenantID,
		"subscriptionId":   s.ID.String(),
		"status":           string(s.Status),
		"currentPeriodEnd": s.CurrentPeriodEnd.Format(time.DateOnly),
	}
	if s.CancelAt != nil {
		payload["cancelAt"] = s.CancelAt.Format(time.DateOnly)
	}
	return notificationdomain.Event{
		Kind:           notificationdomain.KindSubscriptionChange,
		TenantID:       s.TenantID,
		SubscriptionID: s.ID.String(),
		Payload:        payload,
		DedupKey:       "subscription_change:" + s.ID.String() + ":" + string(s.Status) + ":" + s.CurrentPeriodEnd.Format(time.DateOnly),
		OccurredAt:     now,
	}
}

// ReminderEvent asks tenant administrators to renew before the period ends.
// The dedup key is per subscription and day.
func (s Subscription) ReminderEvent(now time.Time, daysRemaining int, billingURL string) notificationdomain.Event {
	return notificationdomain.Event{
		Kind:           notificationdomain.KindPaymentReminder,
		TenantID:       s.TenantID,
		SubscriptionID: s.ID.String(),
		Payload: map[string]any{
			"tenantId":       s.TenantID,
			"daysRemaining":  daysRemaining,
			"expirationDate": s.CurrentPeriodEnd.Format(time.DateOnly),
			"billingUrl":     billingURL,
		},
		DedupKey:   "payment_reminder:" + s.ID.String() + ":" + now.Format(time.DateOnly),
		OccurredAt: now,
	}
}

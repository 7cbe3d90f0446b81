package domain

import "time"

var allowedTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusActive:   {SubscriptionStatusCanceled, SubscriptionStatusExpired},
	SubscriptionStatusCanceled: {SubscriptionStatusExpired},
}

// CanTransition reports whether from → to is a lifecycle edge. Expired is terminal.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// MarkCanceled applies active → canceled. The subscription keeps entitling
// until the end of the period it was canceled in.
func (s *Subscription) MarkCanceled(now time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return ErrInvalidTransition
	}
	cancelAt := s.CurrentPeriodEnd
	canceledAt := now
	s.Status = SubscriptionStatusCanceled
	s.CancelAt = &cancelAt
	s.CanceledAt = &canceledAt
	s.UpdatedAt = now
	return nil
}

// MarkExpired applies active → expired or canceled → expired.
func (s *Subscription) MarkExpired(now time.Time) error {
	if !CanTransition(s.Status, SubscriptionStatusExpired) {
		return ErrInvalidTransition
	}
	s.Status = SubscriptionStatusExpired
	s.UpdatedAt = now
	return nil
}

// ExtendPeriod moves the paid-for window forward by one billing interval
// without changing status. A canceled row keeps its cancellation intent and
// its cancelAt follows the new period end.
func (s *Subscription) ExtendPeriod(now time.Time) error {
	if s.Status == SubscriptionStatusExpired {
		return ErrInvalidTransition
	}
	nextEnd, err := s.BillingInterval.AddTo(s.CurrentPeriodEnd)
	if err != nil {
		return err
	}
	s.CurrentPeriodStart = s.CurrentPeriodEnd
	s.CurrentPeriodEnd = nextEnd
	if s.Status == SubscriptionStatusCanceled {
		cancelAt := nextEnd
		s.CancelAt = &cancelAt
	}
	s.UpdatedAt = now
	return nil
}

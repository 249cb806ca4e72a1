package subscription

import "time"

// ResolvePlusAccess decides whether a subscription in the given state grants
// Plus access. This is the single place entitlement logic lives; the
// Reconciler calls it to compute the projected plan attribute.
//
// currentPeriodEnd is the processor's RFC3339 timestamp; a missing or
// unparsable value never grants access.
func ResolvePlusAccess(status Status, cancelAtPeriodEnd bool, currentPeriodEnd string) bool {
	return resolvePlusAccessAt(status, cancelAtPeriodEnd, currentPeriodEnd, time.Now())
}

func resolvePlusAccessAt(status Status, cancelAtPeriodEnd bool, currentPeriodEnd string, now time.Time) bool {
	switch status {
	case StatusActive, StatusTrialing:
		return true
	case StatusScheduledCancel:
		return periodEndInFuture(currentPeriodEnd, now)
	default:
		return cancelAtPeriodEnd && periodEndInFuture(currentPeriodEnd, now)
	}
}

func periodEndInFuture(currentPeriodEnd string, now time.Time) bool {
	if len(currentPeriodEnd) == 0 {
		return false
	}
	end, err := time.Parse(time.RFC3339, currentPeriodEnd)
	if err != nil {
		return false
	}
	return end.After(now)
}

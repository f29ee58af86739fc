package domain

import "strings"

var allStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCanceled,
	SubscriptionStatusIncomplete,
}

// transitions lists, per current status and event kind, the statuses a
// subscription may move to. The empty status is a subscription not yet stored.
var transitions = map[SubscriptionStatus]map[EventKind][]SubscriptionStatus{
	"": {
		EventKindCreated: allStatuses,
		EventKindUpdated: allStatuses,
		EventKindDeleted: {SubscriptionStatusCanceled},
	},
	SubscriptionStatusIncomplete: {
		EventKindCreated:       allStatuses,
		EventKindUpdated:       allStatuses,
		EventKindDeleted:       {SubscriptionStatusCanceled},
		EventKindPaymentFailed: {SubscriptionStatusPastDue},
	},
	SubscriptionStatusTrialing: {
		EventKindCreated:       {SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled},
		EventKindUpdated:       {SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled},
		EventKindDeleted:       {SubscriptionStatusCanceled},
		EventKindPaymentFailed: {SubscriptionStatusPastDue},
	},
	SubscriptionStatusActive: {
		EventKindCreated:       {SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled},
		EventKindUpdated:       {SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue, SubscriptionStatusCanceled},
		EventKindDeleted:       {SubscriptionStatusCanceled},
		EventKindPaymentFailed: {SubscriptionStatusPastDue},
	},
	SubscriptionStatusPastDue: {
		EventKindCreated:       {SubscriptionStatusPastDue, SubscriptionStatusActive, SubscriptionStatusCanceled},
		EventKindUpdated:       {SubscriptionStatusPastDue, SubscriptionStatusActive, SubscriptionStatusCanceled},
		EventKindDeleted:       {SubscriptionStatusCanceled},
		EventKindPaymentFailed: {SubscriptionStatusPastDue},
	},
	SubscriptionStatusCanceled: {
		EventKindCreated:       {SubscriptionStatusCanceled},
		EventKindUpdated:       {SubscriptionStatusCanceled},
		EventKindDeleted:       {SubscriptionStatusCanceled},
		EventKindPaymentFailed: {SubscriptionStatusCanceled},
	},
}

// CanTransition reports whether an event of kind may move current to next.
func CanTransition(current SubscriptionStatus, kind EventKind, next SubscriptionStatus) bool {
	for _, allowed := range transitions[current][kind] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MapStatus translates a processor status. Unknown values map to active and
// report fallback so callers can log and record it.
func MapStatus(raw string) (status SubscriptionStatus, fallback bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trialing":
		return SubscriptionStatusTrialing, false
	case "active":
		return SubscriptionStatusActive, false
	case "past_due":
		return SubscriptionStatusPastDue, false
	case "canceled", "cancelled":
		return SubscriptionStatusCanceled, false
	case "incomplete":
		return SubscriptionStatusIncomplete, false
	case "incomplete_expired":
		return SubscriptionStatusCanceled, false
	case "unpaid":
		return SubscriptionStatusPastDue, false
	case "paused":
		return SubscriptionStatusActive, false
	default:
		return SubscriptionStatusActive, true
	}
}

// ParseBillingCycle maps a recurring price interval.
func ParseBillingCycle(interval string) (BillingCycle, error) {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "month", "monthly":
		return BillingCycleMonthly, nil
	case "year", "yearly":
		return BillingCycleYearly, nil
	default:
		return "", ErrInvalidBillingCycle
	}
}

func IsLive(status SubscriptionStatus) bool {
	for _, live := range LiveStatuses {
		if live == status {
			return true
		}
	}
	return false
}

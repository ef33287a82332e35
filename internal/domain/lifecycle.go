package domain

import (
	"strconv"
	"strings"
	"time"
)

// LifecycleEvent is a trigger that can move a subscription between statuses.
type LifecycleEvent string

const (
	// EventFirstCharge is a successful charge carrying plan data.
	EventFirstCharge LifecycleEvent = "first_charge"
	// EventRenewalCharge is a successful charge without plan data for a known subscription.
	EventRenewalCharge       LifecycleEvent = "renewal_charge"
	EventSubscriptionCreated LifecycleEvent = "subscription_created"
	EventInvoicePaid         LifecycleEvent = "invoice_paid"
	EventInvoiceFailed       LifecycleEvent = "invoice_failed"
	EventGatewayDisabled     LifecycleEvent = "gateway_disabled"
	EventGatewayEnabled      LifecycleEvent = "gateway_enabled"
	EventUserReactivated     LifecycleEvent = "user_reactivated"
	EventUserCancelled       LifecycleEvent = "user_cancelled"
)

// transitions lists the statuses each event may leave from. A nil slice means
// any status, including no record at all.
var transitions = map[LifecycleEvent]struct {
	from []SubscriptionStatus
	to   SubscriptionStatus
}{
	EventFirstCharge:         {nil, StatusActive},
	EventSubscriptionCreated: {nil, StatusActive},
	EventRenewalCharge:       {[]SubscriptionStatus{StatusActive, StatusPastDue, StatusCancelled}, StatusActive},
	EventInvoicePaid:         {[]SubscriptionStatus{StatusActive, StatusPastDue}, StatusActive},
	EventInvoiceFailed:       {[]SubscriptionStatus{StatusActive}, StatusPastDue},
	EventGatewayDisabled:     {[]SubscriptionStatus{StatusActive, StatusPastDue}, StatusCancelled},
	EventGatewayEnabled:      {[]SubscriptionStatus{StatusCancelled, StatusPastDue}, StatusActive},
	EventUserReactivated:     {[]SubscriptionStatus{StatusCancelled, StatusPastDue}, StatusActive},
	EventUserCancelled:       {[]SubscriptionStatus{StatusActive}, StatusCancelled},
}

// NextStatus returns the status a record moves to when ev is applied. current is nil
// when the user has no record yet. ok is false when the transition is not allowed.
func NextStatus(current *SubscriptionStatus, ev LifecycleEvent) (next SubscriptionStatus, ok bool) {
	t, known := transitions[ev]
	if !known {
		return "", false
	}
	if t.from == nil {
		return t.to, true
	}
	if current == nil {
		return "", false
	}
	for _, s := range t.from {
		if s == *current {
			return t.to, true
		}
	}
	return "", false
}

// CanTransition is NextStatus for an existing record.
func CanTransition(current SubscriptionStatus, ev LifecycleEvent) bool {
	_, ok := NextStatus(&current, ev)
	return ok
}

// NextBillingDate adds one billing interval to paidAt. Unknown intervals bill monthly.
func NextBillingDate(interval PlanInterval, paidAt time.Time) time.Time {
	switch interval {
	case IntervalYearly:
		return addMonths(paidAt, 12)
	default:
		return addMonths(paidAt, 1)
	}
}

// addMonths adds calendar months, clamping the day to the end of the target month
// so Jan 31 + 1 month is the last day of February.
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

var gatewayTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseGatewayTime parses an ISO-8601 timestamp as sent by the gateway, with or
// without a trailing Z or fractional seconds. Bare unix seconds are also accepted.
func ParseGatewayTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range gatewayTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}

// PaymentTime returns the first parseable gateway timestamp, or now.
func PaymentTime(now time.Time, candidates ...string) time.Time {
	for _, c := range candidates {
		if t, ok := ParseGatewayTime(c); ok {
			return t
		}
	}
	return now
}

// SubscriptionActiveFlag computes the user's aggregate access flag: true for an active
// record, or for a cancelled/past_due record whose paid period has not run out.
func SubscriptionActiveFlag(sub *Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	switch sub.Status {
	case StatusActive:
		return true
	case StatusCancelled, StatusPastDue:
		return sub.NextBillingDate != nil && sub.NextBillingDate.After(now)
	}
	return false
}

package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// SubscriptionMutation computes the next state of a user's subscription from its
// current state. current is nil when the user has no record yet and is a copy the
// mutation may modify. Returning a nil subscription leaves the record untouched.
type SubscriptionMutation func(current *Subscription) (*Subscription, error)

// MutationResult describes a committed mutation.
type MutationResult struct {
	Before     *Subscription
	After      *Subscription
	Changed    bool
	Created    bool
	UserActive bool
}

// FieldChange is one changed column in an audit entry.
type FieldChange struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// SameState reports whether two records hold the same business state, ignoring
// ids and timestamps the store manages.
func SameState(a, b *Subscription) bool {
	if a == nil || b == nil {
		return a == b
	}
	return len(DiffSubscriptions(a, b)) == 0
}

// DiffSubscriptions lists the fields that differ between before and after. A nil
// before is treated as an empty record.
func DiffSubscriptions(before, after *Subscription) map[string]FieldChange {
	if before == nil {
		before = &Subscription{}
	}
	if after == nil {
		after = &Subscription{}
	}
	changes := map[string]FieldChange{}
	diffString(changes, "customer_code", before.CustomerCode, after.CustomerCode)
	diffString(changes, "subscription_code", before.SubscriptionCode, after.SubscriptionCode)
	diffString(changes, "plan_id", derefString(before.PlanID), derefString(after.PlanID))
	diffString(changes, "status", string(before.Status), string(after.Status))
	diffSecret(changes, "authorization_code", before.AuthorizationCode, after.AuthorizationCode)
	diffSecret(changes, "email_token", before.EmailToken, after.EmailToken)
	if !sameTime(before.NextBillingDate, after.NextBillingDate) {
		changes["next_billing_date"] = FieldChange{From: timeOrNil(before.NextBillingDate), To: timeOrNil(after.NextBillingDate)}
	}
	return changes
}

func diffString(changes map[string]FieldChange, field, from, to string) {
	if from != to {
		changes[field] = FieldChange{From: from, To: to}
	}
}

// diffSecret records a change to a gateway credential without its value.
func diffSecret(changes map[string]FieldChange, field, from, to string) {
	if from != to {
		changes[field] = FieldChange{From: mask(from), To: mask(to)}
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// mask keeps gateway credentials out of the audit log.
func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

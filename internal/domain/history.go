package domain

import "time"

// GatewayStatus is a subscription status exactly as the gateway reports it. It is
// kept apart from SubscriptionStatus because the gateway has values such as
// "non-renewing" that the local record never holds.
type GatewayStatus string

const (
	GatewayActive      GatewayStatus = "active"
	GatewayNonRenewing GatewayStatus = "non-renewing"
	GatewayAttention   GatewayStatus = "attention"
	GatewayCompleted   GatewayStatus = "completed"
	GatewayCancelled   GatewayStatus = "cancelled"
	GatewayPaused      GatewayStatus = "paused"
)

// LocalStatus maps a gateway status to the local enum. ok is false for values
// with no local meaning; callers keep whatever status they already had.
func (g GatewayStatus) LocalStatus() (SubscriptionStatus, bool) {
	switch g {
	case GatewayActive:
		return StatusActive, true
	case GatewayNonRenewing, GatewayCompleted, GatewayCancelled:
		return StatusCancelled, true
	case GatewayAttention:
		return StatusPastDue, true
	case GatewayPaused:
		return StatusPaused, true
	}
	return "", false
}

// PickPreferred returns the index of the status that wins the tie-break between
// several gateway subscriptions of one user: the first active one, else the first
// non-renewing one, else the first in gateway order. It returns -1 for an empty slice.
// Gateway ordering is not guaranteed, so the fallback is best effort.
func PickPreferred(statuses []GatewayStatus) int {
	if len(statuses) == 0 {
		return -1
	}
	for _, want := range []GatewayStatus{GatewayActive, GatewayNonRenewing} {
		for i, s := range statuses {
			if s == want {
				return i
			}
		}
	}
	return 0
}

// HistoryEntry is an append-only snapshot of a gateway subscription seen during reconciliation.
type HistoryEntry struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	PlanID            *string       `json:"plan_id,omitempty"`
	SubscriptionCode  string        `json:"subscription_code"`
	Status            GatewayStatus `json:"status"`
	NextBillingDate   *time.Time    `json:"next_billing_date,omitempty"`
	AuthorizationCode string        `json:"-"`
	EmailToken        string        `json:"-"`
	RecordedAt        time.Time     `json:"recorded_at"`
}

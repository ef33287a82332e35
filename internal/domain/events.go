/**
 * @description
 * Event kinds delivered by the payment gateway webhook and the notification
 * messages published after a subscription changes state.
 */
package domain

import "time"

// EventKind is the closed set of webhook events the subscription core acts on.
type EventKind int

const (
	EventKindUnknown EventKind = iota
	EventKindChargeSuccess
	EventKindSubscriptionCreate
	EventKindInvoicePaymentSuccessful
	EventKindInvoicePaymentFailed
	EventKindSubscriptionDisable
	EventKindSubscriptionEnable
)

var eventKindNames = map[string]EventKind{
	"charge.success":             EventKindChargeSuccess,
	"subscription.create":        EventKindSubscriptionCreate,
	"invoice.payment_successful": EventKindInvoicePaymentSuccessful,
	"invoice.payment_failed":     EventKindInvoicePaymentFailed,
	"subscription.disable":       EventKindSubscriptionDisable,
	"subscription.enable":        EventKindSubscriptionEnable,
}

// ParseEventKind maps the gateway's event string. Anything unrecognised is EventKindUnknown.
func ParseEventKind(event string) EventKind {
	if k, ok := eventKindNames[event]; ok {
		return k
	}
	return EventKindUnknown
}

func (k EventKind) String() string {
	for name, kind := range eventKindNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// Notification routing keys published on the subscription events exchange.
const (
	RoutingKeyActivated     = "subscription.activated"
	RoutingKeyReactivated   = "subscription.reactivated"
	RoutingKeyCancelled     = "subscription.cancelled"
	RoutingKeyPaymentFailed = "subscription.payment_failed"
)

// SubscriptionNotification is published after a committed status change so the
// notification worker can email the user.
type SubscriptionNotification struct {
	ID              string             `json:"id"`
	Type            string             `json:"type"`
	UserID          string             `json:"user_id"`
	Email           string             `json:"email"`
	FirstName       string             `json:"first_name"`
	Status          SubscriptionStatus `json:"status"`
	PlanName        string             `json:"plan_name,omitempty"`
	NextBillingDate *time.Time         `json:"next_billing_date,omitempty"`
	OccurredAt      time.Time          `json:"occurred_at"`
}

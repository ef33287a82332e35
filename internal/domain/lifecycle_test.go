package domain

import (
	"testing"
	"time"
)

func ptrTime(t time.Time) *time.Time { return &t }

func ptrStatus(s SubscriptionStatus) *SubscriptionStatus { return &s }

func TestNextBillingDate(t *testing.T) {
	paid := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		interval PlanInterval
		paidAt   time.Time
		want     time.Time
	}{
		{"monthly", IntervalMonthly, paid, time.Date(2025, 4, 15, 10, 30, 0, 0, time.UTC)},
		{"yearly", IntervalYearly, paid, time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"unknown interval bills monthly", PlanInterval("weekly"), paid, time.Date(2025, 4, 15, 10, 30, 0, 0, time.UTC)},
		{"empty interval bills monthly", PlanInterval(""), paid, time.Date(2025, 4, 15, 10, 30, 0, 0, time.UTC)},
		{"month end clamps", IntervalMonthly, time.Date(2025, 1, 31, 8, 0, 0, 0, time.UTC), time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC)},
		{"leap year month end clamps", IntervalMonthly, time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC), time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)},
		{"leap day yearly clamps", IntervalYearly, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"december rolls year", IntervalMonthly, time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NextBillingDate(tc.interval, tc.paidAt)
			if !got.Equal(tc.want) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestParseGatewayTime(t *testing.T) {
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"trailing Z", "2025-06-01T12:00:00Z", true},
		{"fractional with Z", "2025-06-01T12:00:00.000Z", true},
		{"offset", "2025-06-01T13:00:00+01:00", true},
		{"no zone", "2025-06-01T12:00:00", true},
		{"unix seconds", "1748779200", true},
		{"empty", "", false},
		{"garbage", "not-a-date", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseGatewayTime(tc.raw)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && !got.Equal(want) {
				t.Fatalf("expected %s, got %s", want, got)
			}
		})
	}
}

func TestPaymentTimeFallsBackToNow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := PaymentTime(now, "", "bad"); !got.Equal(now) {
		t.Fatalf("expected fallback to now, got %s", got)
	}
	if got := PaymentTime(now, "", "2025-02-01T00:00:00Z"); got.Month() != time.February {
		t.Fatalf("expected second candidate to be used, got %s", got)
	}
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name    string
		current *SubscriptionStatus
		event   LifecycleEvent
		want    SubscriptionStatus
		ok      bool
	}{
		{"first charge without record", nil, EventFirstCharge, StatusActive, true},
		{"first charge over paused", ptrStatus(StatusPaused), EventFirstCharge, StatusActive, true},
		{"subscription created without record", nil, EventSubscriptionCreated, StatusActive, true},
		{"renewal from past_due", ptrStatus(StatusPastDue), EventRenewalCharge, StatusActive, true},
		{"renewal from cancelled", ptrStatus(StatusCancelled), EventRenewalCharge, StatusActive, true},
		{"renewal needs a record", nil, EventRenewalCharge, "", false},
		{"renewal from paused rejected", ptrStatus(StatusPaused), EventRenewalCharge, "", false},
		{"invoice paid keeps active", ptrStatus(StatusActive), EventInvoicePaid, StatusActive, true},
		{"invoice paid recovers past_due", ptrStatus(StatusPastDue), EventInvoicePaid, StatusActive, true},
		{"invoice paid on cancelled rejected", ptrStatus(StatusCancelled), EventInvoicePaid, "", false},
		{"invoice failed", ptrStatus(StatusActive), EventInvoiceFailed, StatusPastDue, true},
		{"invoice failed on cancelled rejected", ptrStatus(StatusCancelled), EventInvoiceFailed, "", false},
		{"disable active", ptrStatus(StatusActive), EventGatewayDisabled, StatusCancelled, true},
		{"disable past_due", ptrStatus(StatusPastDue), EventGatewayDisabled, StatusCancelled, true},
		{"disable cancelled rejected", ptrStatus(StatusCancelled), EventGatewayDisabled, "", false},
		{"enable cancelled", ptrStatus(StatusCancelled), EventGatewayEnabled, StatusActive, true},
		{"enable active rejected", ptrStatus(StatusActive), EventGatewayEnabled, "", false},
		{"user reactivates past_due", ptrStatus(StatusPastDue), EventUserReactivated, StatusActive, true},
		{"user reactivates active rejected", ptrStatus(StatusActive), EventUserReactivated, "", false},
		{"user cancels active", ptrStatus(StatusActive), EventUserCancelled, StatusCancelled, true},
		{"user cancels past_due rejected", ptrStatus(StatusPastDue), EventUserCancelled, "", false},
		{"unknown event", ptrStatus(StatusActive), LifecycleEvent("refund"), "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NextStatus(tc.current, tc.event)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDerivedState(t *testing.T) {
	next := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{Status: StatusActive, NextBillingDate: ptrTime(next)}

	tests := []struct {
		name        string
		now         time.Time
		active      bool
		expired     bool
		grace       bool
		daysToGoMin int
	}{
		{"well before", next.Add(-72 * time.Hour), true, false, false, 3},
		{"exactly at date", next, true, false, false, 0},
		{"inside grace", next.Add(12 * time.Hour), true, true, true, 0},
		{"one second before grace ends", next.Add(GracePeriod - time.Second), true, true, true, 0},
		{"grace boundary", next.Add(GracePeriod), false, true, false, 0},
		{"one second past grace", next.Add(GracePeriod + time.Second), false, true, false, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sub.IsActive(tc.now); got != tc.active {
				t.Fatalf("IsActive: expected %v, got %v", tc.active, got)
			}
			if got := sub.IsExpired(tc.now); got != tc.expired {
				t.Fatalf("IsExpired: expected %v, got %v", tc.expired, got)
			}
			if got := sub.GracePeriodActive(tc.now); got != tc.grace {
				t.Fatalf("GracePeriodActive: expected %v, got %v", tc.grace, got)
			}
			if got := sub.DaysUntilExpiry(tc.now); got != tc.daysToGoMin {
				t.Fatalf("DaysUntilExpiry: expected %d, got %d", tc.daysToGoMin, got)
			}
		})
	}
}

func TestDerivedStateOutsideGrace(t *testing.T) {
	now := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	sub := &Subscription{Status: StatusActive, NextBillingDate: ptrTime(yesterday.Add(-48 * time.Hour))}

	if !sub.IsExpired(now) {
		t.Fatal("expected subscription to be expired")
	}
	if sub.GracePeriodActive(now) {
		t.Fatal("expected grace period to be over")
	}
	if sub.IsActive(now) {
		t.Fatal("expected subscription to be inactive")
	}
}

func TestIsActiveRequiresActiveStatus(t *testing.T) {
	now := time.Now()
	sub := &Subscription{Status: StatusCancelled, NextBillingDate: ptrTime(now.Add(48 * time.Hour))}
	if sub.IsActive(now) {
		t.Fatal("cancelled subscription must not be active")
	}
	if (&Subscription{Status: StatusActive}).IsActive(now) {
		t.Fatal("active subscription without a billing date must not be active")
	}
}

func TestSubscriptionActiveFlag(t *testing.T) {
	now := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	future := ptrTime(now.Add(time.Hour))
	past := ptrTime(now.Add(-time.Hour))

	tests := []struct {
		name string
		sub  *Subscription
		want bool
	}{
		{"no record", nil, false},
		{"active", &Subscription{Status: StatusActive, NextBillingDate: past}, true},
		{"cancelled with paid time left", &Subscription{Status: StatusCancelled, NextBillingDate: future}, true},
		{"cancelled and lapsed", &Subscription{Status: StatusCancelled, NextBillingDate: past}, false},
		{"past_due with paid time left", &Subscription{Status: StatusPastDue, NextBillingDate: future}, true},
		{"past_due without date", &Subscription{Status: StatusPastDue}, false},
		{"paused", &Subscription{Status: StatusPaused, NextBillingDate: future}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SubscriptionActiveFlag(tc.sub, now); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestPickPreferred(t *testing.T) {
	tests := []struct {
		name     string
		statuses []GatewayStatus
		want     int
	}{
		{"empty", nil, -1},
		{"active wins", []GatewayStatus{GatewayCancelled, GatewayNonRenewing, GatewayActive}, 2},
		{"non-renewing beats cancelled", []GatewayStatus{GatewayCancelled, GatewayNonRenewing}, 1},
		{"falls back to first", []GatewayStatus{GatewayCompleted, GatewayCancelled}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := PickPreferred(tc.statuses); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestGatewayStatusLocalStatus(t *testing.T) {
	tests := []struct {
		in   GatewayStatus
		want SubscriptionStatus
		ok   bool
	}{
		{GatewayActive, StatusActive, true},
		{GatewayNonRenewing, StatusCancelled, true},
		{GatewayAttention, StatusPastDue, true},
		{GatewayCompleted, StatusCancelled, true},
		{GatewayPaused, StatusPaused, true},
		{GatewayStatus("mystery"), "", false},
	}

	for _, tc := range tests {
		got, ok := tc.in.LocalStatus()
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: expected (%q,%v), got (%q,%v)", tc.in, tc.want, tc.ok, got, ok)
		}
	}
}

func TestParseEventKind(t *testing.T) {
	if ParseEventKind("charge.success") != EventKindChargeSuccess {
		t.Fatal("expected charge.success to parse")
	}
	if ParseEventKind("transfer.success") != EventKindUnknown {
		t.Fatal("expected unrecognised events to be unknown")
	}
	if EventKindSubscriptionEnable.String() != "subscription.enable" {
		t.Fatalf("unexpected name %q", EventKindSubscriptionEnable.String())
	}
}

func TestPlanAmountMajor(t *testing.T) {
	p := SubscriptionPlan{Amount: 500050}
	if got := p.AmountMajor().String(); got != "5000.5" {
		t.Fatalf("expected 5000.5, got %s", got)
	}
}

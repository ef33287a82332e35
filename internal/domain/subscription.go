/**
 * @description
 * Core domain models for subscriptions: plans, the per-user subscription record,
 * and the derived read-side state (active, expired, grace period).
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GracePeriod is how long after next_billing_date a subscription still counts as active.
const GracePeriod = 24 * time.Hour

// PlanInterval is the billing interval of a plan.
type PlanInterval string

const (
	IntervalMonthly PlanInterval = "monthly"
	IntervalYearly  PlanInterval = "yearly"
)

// SubscriptionPlan is a pricing tier. Amount is in kobo.
type SubscriptionPlan struct {
	ID          string       `json:"id"`
	PlanCode    string       `json:"paystack_plan_code"`
	Name        string       `json:"name"`
	Amount      int64        `json:"amount"`
	Interval    PlanInterval `json:"interval"`
	Description string       `json:"description"`
}

// AmountMajor returns the plan amount in naira.
func (p SubscriptionPlan) AmountMajor() decimal.Decimal {
	return decimal.New(p.Amount, -2)
}

// SubscriptionStatus is the closed set of statuses a live subscription record can hold.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusPaused    SubscriptionStatus = "paused"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusPastDue   SubscriptionStatus = "past_due"
)

// Valid reports whether s is one of the known statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCancelled, StatusPastDue:
		return true
	}
	return false
}

// Subscription is the single current subscription record of a user.
type Subscription struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	CustomerCode      string             `json:"customer_code"`
	SubscriptionCode  string             `json:"subscription_code"`
	PlanID            *string            `json:"plan_id,omitempty"`
	Status            SubscriptionStatus `json:"status"`
	NextBillingDate   *time.Time         `json:"next_billing_date,omitempty"`
	AuthorizationCode string             `json:"-"`
	EmailToken        string             `json:"-"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// IsActive is true while the status is active and now is before the end of the grace period.
func (s *Subscription) IsActive(now time.Time) bool {
	if s.Status != StatusActive || s.NextBillingDate == nil {
		return false
	}
	return now.Before(s.NextBillingDate.Add(GracePeriod))
}

// IsExpired is true once now is past next_billing_date. A record without a date is expired.
func (s *Subscription) IsExpired(now time.Time) bool {
	if s.NextBillingDate == nil {
		return true
	}
	return now.After(*s.NextBillingDate)
}

// GracePeriodActive is true when expired but still inside the grace window.
func (s *Subscription) GracePeriodActive(now time.Time) bool {
	if !s.IsExpired(now) || s.NextBillingDate == nil {
		return false
	}
	return now.Before(s.NextBillingDate.Add(GracePeriod))
}

// DaysUntilExpiry returns whole days left before next_billing_date, or 0 if expired.
func (s *Subscription) DaysUntilExpiry(now time.Time) int {
	if s.IsExpired(now) {
		return 0
	}
	return int(s.NextBillingDate.Sub(now) / (24 * time.Hour))
}

// IsOrphaned reports a record with payment credentials but no gateway subscription.
func (s *Subscription) IsOrphaned() bool {
	return s.AuthorizationCode != "" && s.CustomerCode != "" && s.SubscriptionCode == ""
}

// HasPlan reports whether the record references a plan.
func (s *Subscription) HasPlan() bool {
	return s.PlanID != nil && *s.PlanID != ""
}

// Clone returns a deep copy so mutations can be computed without touching the original.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.PlanID != nil {
		id := *s.PlanID
		c.PlanID = &id
	}
	if s.NextBillingDate != nil {
		d := *s.NextBillingDate
		c.NextBillingDate = &d
	}
	return &c
}

// StatusView is the read model returned by the status endpoint.
type StatusView struct {
	HasSubscription   bool       `json:"has_subscription"`
	Status            string     `json:"status"`
	NextBillingDate   *time.Time `json:"next_billing_date,omitempty"`
	IsActive          bool       `json:"is_active"`
	IsExpired         bool       `json:"is_expired"`
	GracePeriodActive bool       `json:"grace_period_active"`
	DaysUntilExpiry   int        `json:"days_until_expiry"`
	CanCancel         bool       `json:"can_cancel"`
	CanReactivate     bool       `json:"can_reactivate"`
	Plan              *PlanView  `json:"plan,omitempty"`
	SubscriptionCode  string     `json:"subscription_code,omitempty"`
}

// PlanView is the plan snapshot exposed to API callers.
type PlanView struct {
	ID          string          `json:"id"`
	PlanCode    string          `json:"paystack_plan_code"`
	Name        string          `json:"name"`
	Amount      int64           `json:"amount"`
	AmountMajor decimal.Decimal `json:"amount_major"`
	Interval    PlanInterval    `json:"interval"`
	Description string          `json:"description,omitempty"`
}

// NewPlanView builds the API snapshot of a plan.
func NewPlanView(p *SubscriptionPlan) *PlanView {
	if p == nil {
		return nil
	}
	return &PlanView{
		ID:          p.ID,
		PlanCode:    p.PlanCode,
		Name:        p.Name,
		Amount:      p.Amount,
		AmountMajor: p.AmountMajor(),
		Interval:    p.Interval,
		Description: p.Description,
	}
}

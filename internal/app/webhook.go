/**
 * @description
 * Applies verified Paystack webhook events to subscription records. Signature
 * checking happens in the HTTP layer; by the time an event reaches the
 * processor it is trusted.
 *
 * @notes
 * - Every event resolves its subscriber through resolveSubscriber.
 * - Data problems on our side (unknown user, unknown plan, disallowed
 *   transition) are ignored so the gateway does not keep redelivering.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Allforms/estatepadi/internal/domain"
	"github.com/Allforms/estatepadi/pkg/paystackclient"
)

// WebhookEvent is the envelope Paystack posts.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebhookOutcome describes what processing an event did.
type WebhookOutcome string

const (
	OutcomeApplied      WebhookOutcome = "applied"
	OutcomeUnchanged    WebhookOutcome = "unchanged"
	OutcomeIgnored      WebhookOutcome = "ignored"
	OutcomeUnresolved   WebhookOutcome = "unresolved"
	OutcomeRejected     WebhookOutcome = "rejected_transition"
	OutcomeMalformed    WebhookOutcome = "malformed"
	OutcomeUnknownEvent WebhookOutcome = "unknown_event"
)

// chargeData is the data of a charge.success event.
type chargeData struct {
	Reference        string                       `json:"reference"`
	Status           string                       `json:"status"`
	PaidAt           paystackclient.Timestamp     `json:"paid_at"`
	CreatedAt        paystackclient.Timestamp     `json:"created_at"`
	SubscriptionCode string                       `json:"subscription_code"`
	Customer         paystackclient.Customer      `json:"customer"`
	Authorization    paystackclient.Authorization `json:"authorization"`
	Plan             paystackclient.Plan          `json:"plan"`
}

// invoiceData is the data of invoice.payment_successful and invoice.payment_failed.
type invoiceData struct {
	Subscription struct {
		SubscriptionCode string                   `json:"subscription_code"`
		EmailToken       string                   `json:"email_token"`
		NextPaymentDate  paystackclient.Timestamp `json:"next_payment_date"`
	} `json:"subscription"`
	Customer  paystackclient.Customer  `json:"customer"`
	PaidAt    paystackclient.Timestamp `json:"paid_at"`
	CreatedAt paystackclient.Timestamp `json:"created_at"`
}

// WebhookProcessor turns gateway events into subscription transitions.
type WebhookProcessor struct {
	repo     Repository
	notifier *Notifier
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewWebhookProcessor creates a new processor.
func NewWebhookProcessor(repo Repository, notifier *Notifier, metrics *Metrics, logger *slog.Logger) *WebhookProcessor {
	return &WebhookProcessor{repo: repo, notifier: notifier, metrics: metrics, logger: logger, now: time.Now}
}

// Process applies one verified event. A returned error means the event could not
// be processed because of an infrastructure failure and should be redelivered.
func (p *WebhookProcessor) Process(ctx context.Context, audit domain.AuditContext, event WebhookEvent) (outcome WebhookOutcome, err error) {
	kind := domain.ParseEventKind(event.Event)
	audit = audit.WithSource("webhook:" + event.Event)
	logger := p.logger.With("event", event.Event, "request_id", audit.RequestID)

	defer func() {
		label := kind.String()
		if err != nil {
			p.metrics.webhookEvent(label, "error")
			logger.Error("webhook processing failed", "error", err)
			return
		}
		p.metrics.webhookEvent(label, outcome)
		logger.Info("webhook processed", "outcome", outcome)
	}()

	switch kind {
	case domain.EventKindChargeSuccess:
		var data chargeData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			logger.Warn("malformed charge.success payload", "error", err)
			return OutcomeMalformed, nil
		}
		return p.handleChargeSuccess(ctx, audit, data)
	case domain.EventKindSubscriptionCreate:
		var data paystackclient.Subscription
		if err := json.Unmarshal(event.Data, &data); err != nil {
			logger.Warn("malformed subscription.create payload", "error", err)
			return OutcomeMalformed, nil
		}
		return p.handleSubscriptionCreate(ctx, audit, data)
	case domain.EventKindInvoicePaymentSuccessful, domain.EventKindInvoicePaymentFailed:
		var data invoiceData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			logger.Warn("malformed invoice payload", "error", err)
			return OutcomeMalformed, nil
		}
		if kind == domain.EventKindInvoicePaymentSuccessful {
			return p.handleInvoicePaid(ctx, audit, data)
		}
		return p.handleInvoiceFailed(ctx, audit, data)
	case domain.EventKindSubscriptionDisable, domain.EventKindSubscriptionEnable:
		var data paystackclient.Subscription
		if err := json.Unmarshal(event.Data, &data); err != nil {
			logger.Warn("malformed subscription toggle payload", "error", err)
			return OutcomeMalformed, nil
		}
		if kind == domain.EventKindSubscriptionDisable {
			return p.handleSubscriptionDisable(ctx, audit, data)
		}
		return p.handleSubscriptionEnable(ctx, audit, data)
	default:
		return OutcomeUnknownEvent, nil
	}
}

func (p *WebhookProcessor) handleChargeSuccess(ctx context.Context, audit domain.AuditContext, data chargeData) (WebhookOutcome, error) {
	res, err := resolveSubscriber(ctx, p.repo, lookupKeys{
		SubscriptionCode: data.SubscriptionCode,
		CustomerCode:     data.Customer.CustomerCode,
		Email:            data.Customer.Email,
	})
	if err != nil {
		return "", err
	}
	if res == nil {
		p.logger.Warn("charge.success for unknown subscriber", "email", data.Customer.Email, "customer_code", data.Customer.CustomerCode)
		return OutcomeUnresolved, nil
	}

	now := p.now()
	paidAt := domain.PaymentTime(now, data.PaidAt.String(), data.CreatedAt.String())

	// A charge carrying plan data is a first payment; without it, a renewal of the
	// plan already on record.
	var plan *domain.SubscriptionPlan
	event := domain.EventFirstCharge
	if data.Plan.HasCode() {
		plan, err = p.repo.FindPlanByCode(ctx, data.Plan.PlanCode)
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("charge.success for unknown plan", "plan_code", data.Plan.PlanCode, "user_id", res.User.ID)
			return OutcomeIgnored, nil
		}
	} else {
		event = domain.EventRenewalCharge
		if res.Subscription == nil || !res.Subscription.HasPlan() {
			p.logger.Warn("renewal charge without an existing subscription", "user_id", res.User.ID)
			return OutcomeUnresolved, nil
		}
		plan, err = p.repo.FindPlanByID(ctx, *res.Subscription.PlanID)
	}
	if err != nil {
		return "", err
	}
	next := domain.NextBillingDate(plan.Interval, paidAt)

	return p.apply(ctx, audit, res.User.ID, func(cur *domain.Subscription) (*domain.Subscription, error) {
		status, ok := nextStatusFor(cur, event)
		if !ok {
			return nil, nil
		}
		if cur == nil {
			cur = &domain.Subscription{CustomerCode: data.Customer.CustomerCode}
		}
		cur.Status = status
		cur.PlanID = &plan.ID
		cur.NextBillingDate = &next
		if data.Authorization.AuthorizationCode != "" {
			cur.AuthorizationCode = data.Authorization.AuthorizationCode
		}
		if data.SubscriptionCode != "" {
			cur.SubscriptionCode = data.SubscriptionCode
		}
		if cur.CustomerCode == "" {
			cur.CustomerCode = data.Customer.CustomerCode
		}
		return cur, nil
	})
}

func (p *WebhookProcessor) handleSubscriptionCreate(ctx context.Context, audit domain.AuditContext, data paystackclient.Subscription) (WebhookOutcome, error) {
	plan, err := p.repo.FindPlanByCode(ctx, data.Plan.PlanCode)
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("subscription.create for unknown plan", "plan_code", data.Plan.PlanCode)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	res, err := resolveSubscriber(ctx, p.repo, lookupKeys{
		SubscriptionCode: data.SubscriptionCode,
		CustomerCode:     data.Customer.CustomerCode,
		Email:            data.Customer.Email,
	})
	if err != nil {
		return "", err
	}
	if res == nil {
		return OutcomeUnresolved, nil
	}

	next, ok := domain.ParseGatewayTime(data.NextPaymentDate.String())
	if !ok {
		next = domain.NextBillingDate(plan.Interval, p.now())
	}

	return p.apply(ctx, audit, res.User.ID, func(cur *domain.Subscription) (*domain.Subscription, error) {
		status, ok := nextStatusFor(cur, domain.EventSubscriptionCreated)
		if !ok {
			return nil, nil
		}
		if cur == nil {
			cur = &domain.Subscription{}
		}
		cur.Status = status
		cur.PlanID = &plan.ID
		cur.NextBillingDate = &next
		if data.SubscriptionCode != "" {
			cur.SubscriptionCode = data.SubscriptionCode
		}
		if data.EmailToken != "" {
			cur.EmailToken = data.EmailToken
		}
		if data.Authorization.AuthorizationCode != "" {
			cur.AuthorizationCode = data.Authorization.AuthorizationCode
		}
		if cur.CustomerCode == "" {
			cur.CustomerCode = data.Customer.CustomerCode
		}
		return cur, nil
	})
}

func (p *WebhookProcessor) handleInvoicePaid(ctx context.Context, audit domain.AuditContext, data invoiceData) (WebhookOutcome, error) {
	res, err := p.resolveExisting(ctx, lookupKeys{
		SubscriptionCode: data.Subscription.SubscriptionCode,
		CustomerCode:     data.Customer.CustomerCode,
		Email:            data.Customer.Email,
	})
	if err != nil || res == nil {
		return OutcomeUnresolved, err
	}

	next, ok := domain.ParseGatewayTime(data.Subscription.NextPaymentDate.String())
	if !ok {
		interval, err := p.planInterval(ctx, res.Subscription)
		if err != nil {
			return "", err
		}
		paidAt := domain.PaymentTime(p.now(), data.PaidAt.String(), data.CreatedAt.String())
		next = domain.NextBillingDate(interval, paidAt)
	}

	return p.apply(ctx, audit, res.User.ID, func(cur *domain.Subscription) (*domain.Subscription, error) {
		status, ok := nextStatusFor(cur, domain.EventInvoicePaid)
		if !ok {
			return nil, nil
		}
		cur.Status = status
		cur.NextBillingDate = &next
		return cur, nil
	})
}

func (p *WebhookProcessor) handleInvoiceFailed(ctx context.Context, audit domain.AuditContext, data invoiceData) (WebhookOutcome, error) {
	res, err := p.resolveExisting(ctx, lookupKeys{
		SubscriptionCode: data.Subscription.SubscriptionCode,
		CustomerCode:     data.Customer.CustomerCode,
		Email:            data.Customer.Email,
	})
	if err != nil || res == nil {
		return OutcomeUnresolved, err
	}

	return p.apply(ctx, audit, res.User.ID, func(cur *domain.Subscription) (*domain.Subscription, error) {
		status, ok := nextStatusFor(cur, domain.EventInvoiceFailed)
		if !ok {
			return nil, nil
		}
		cur.Status = status
		return cur, nil
	})
}

func (p *WebhookProcessor) handleSubscriptionDisable(ctx context.Context, audit domain.AuditContext, data paystackclient.Subscription) (WebhookOutcome, error) {
	res, err := p.resolveExisting(ctx, lookupKeys{
		SubscriptionCode: data.SubscriptionCode,
		CustomerCode:     data.Customer.CustomerCode,
		Email:            data.Customer.Email,
	})
	if err != nil || res == nil {
		return OutcomeUnresolved, err
	}

	return p.apply(ctx, audit, res.User.ID, func(cur *domain.Subscription) (*domain.Subscription, error) {
		status, ok := nextStatusFor(cur, domain.EventGatewayDisabled)
		if !ok {
			return nil, nil
		}
		cur.Status = status
		return cur, nil
	})
}

func (p *WebhookProcessor) handleSubscriptionEnable(ctx context.Context, audit domain.AuditContext, data paystackclient.Subscription) (WebhookOutcome, error) {
	res, err := p.resolveExisting(ctx, lookupKeys{
		SubscriptionCode: data.SubscriptionCode,
		CustomerCode:     data.Customer.CustomerCode,
		Email:            data.Customer.Email,
	})
	if err != nil || res == nil {
		return OutcomeUnresolved, err
	}

	interval, err := p.planInterval(ctx, res.Subscription)
	if err != nil {
		return "", err
	}
	now := p.now()
	reported, hasReported := domain.ParseGatewayTime(data.NextPaymentDate.String())

	return p.apply(ctx, audit, res.User.ID, func(cur *domain.Subscription) (*domain.Subscription, error) {
		status, ok := nextStatusFor(cur, domain.EventGatewayEnabled)
		if !ok {
			return nil, nil
		}
		cur.Status = status
		switch {
		case hasReported:
			cur.NextBillingDate = &reported
		case data.NextPaymentDate != "" || cur.NextBillingDate == nil:
			next := domain.NextBillingDate(interval, now)
			cur.NextBillingDate = &next
		}
		if data.EmailToken != "" {
			cur.EmailToken = data.EmailToken
		}
		return cur, nil
	})
}

// resolveExisting resolves a subscriber that must already have a record.
func (p *WebhookProcessor) resolveExisting(ctx context.Context, keys lookupKeys) (*resolution, error) {
	res, err := resolveSubscriber(ctx, p.repo, keys)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Subscription == nil {
		p.logger.Warn("no subscription found for webhook", "subscription_code", keys.SubscriptionCode, "customer_code", keys.CustomerCode, "email", keys.Email)
		return nil, nil
	}
	return res, nil
}

// planInterval returns the interval of the record's plan, or "" (billed monthly) without one.
func (p *WebhookProcessor) planInterval(ctx context.Context, sub *domain.Subscription) (domain.PlanInterval, error) {
	if sub == nil || !sub.HasPlan() {
		return "", nil
	}
	plan, err := p.repo.FindPlanByID(ctx, *sub.PlanID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return plan.Interval, nil
}

// apply runs a mutation, maps the result to an outcome, and notifies on change.
func (p *WebhookProcessor) apply(ctx context.Context, audit domain.AuditContext, userID string, fn domain.SubscriptionMutation) (WebhookOutcome, error) {
	rejected := false
	result, err := p.repo.MutateSubscription(ctx, audit, userID, func(cur *domain.Subscription) (*domain.Subscription, error) {
		next, err := fn(cur)
		if next == nil && err == nil {
			rejected = true
		}
		return next, err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeUnresolved, nil
	}
	if err != nil {
		return "", err
	}
	if rejected {
		var from domain.SubscriptionStatus
		if result.Before != nil {
			from = result.Before.Status
		}
		p.logger.Info("webhook transition not allowed from current status", "user_id", userID, "status", from)
		return OutcomeRejected, nil
	}
	if !result.Changed {
		return OutcomeUnchanged, nil
	}
	p.notifier.SubscriptionChanged(ctx, result)
	return OutcomeApplied, nil
}

// nextStatusFor applies the transition table to a possibly missing record.
func nextStatusFor(cur *domain.Subscription, ev domain.LifecycleEvent) (domain.SubscriptionStatus, bool) {
	if cur == nil {
		return domain.NextStatus(nil, ev)
	}
	status := cur.Status
	return domain.NextStatus(&status, ev)
}

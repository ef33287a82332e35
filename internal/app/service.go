/**
 * @description
 * This file contains the user-facing subscription operations. The Service layer
 * orchestrates the repository and the payment gateway and applies the lifecycle
 * rules from the domain package.
 *
 * @notes
 * - Every write goes through Repository.MutateSubscription.
 * - Gateway calls happen before the local write so a failed call leaves the
 *   record untouched.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/Allforms/estatepadi/internal/domain"
	"github.com/Allforms/estatepadi/pkg/paystackclient"
)

// CancelMode reports how far a cancellation got.
type CancelMode string

const (
	CancelModeGateway         CancelMode = "gateway"
	CancelModeLocalOnly       CancelMode = "local_only"
	CancelModeLocalUnverified CancelMode = "local_unverified"
)

// CancelResult is returned by Cancel. Degraded is set whenever the gateway was not
// told about the cancellation.
type CancelResult struct {
	Mode         CancelMode           `json:"mode"`
	Message      string               `json:"message"`
	Warning      string               `json:"warning,omitempty"`
	Degraded     bool                 `json:"degraded"`
	Subscription *domain.Subscription `json:"subscription"`
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	PlanID    string `json:"plan_id"`
	Reference string `json:"reference"`
}

// Service provides the business logic for subscription management.
type Service struct {
	repo     Repository
	gateway  Gateway
	notifier *Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new subscription service.
func NewService(repo Repository, gateway Gateway, notifier *Notifier, logger *slog.Logger) *Service {
	return &Service{repo: repo, gateway: gateway, notifier: notifier, logger: logger, now: time.Now}
}

// ListPlans returns every plan a user can subscribe to.
func (s *Service) ListPlans(ctx context.Context) ([]domain.PlanView, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(plans, func(p domain.SubscriptionPlan, _ int) domain.PlanView {
		return *domain.NewPlanView(&p)
	}), nil
}

// Create verifies a completed payment and starts a gateway subscription for it.
func (s *Service) Create(ctx context.Context, audit domain.AuditContext, userID string, req CreateRequest) (*domain.Subscription, error) {
	planID := strings.TrimSpace(req.PlanID)
	reference := strings.TrimSpace(req.Reference)
	if planID == "" {
		return nil, ErrPlanRequired
	}
	if reference == "" {
		return nil, ErrReferenceRequired
	}

	plan, err := s.repo.FindPlanByID(ctx, planID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	txn, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, gatewayFailure(ErrVerificationFailed, err)
	}
	if !txn.Successful() {
		return nil, ErrTransactionNotSuccessful
	}
	authCode := txn.Authorization.AuthorizationCode
	if authCode == "" {
		return nil, ErrAuthorizationMissing
	}

	existing, err := s.repo.FindSubscriptionByUserID(ctx, user.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	customerCode := ""
	if existing != nil {
		customerCode = existing.CustomerCode
	}
	if customerCode == "" {
		customer, err := s.gateway.CreateCustomer(ctx, paystackclient.CreateCustomerRequest{
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Phone:     user.PhoneNumber,
		})
		if err != nil {
			return nil, gatewayFailure(ErrCustomerCreationFailed, err)
		}
		customerCode = customer.CustomerCode
	}

	created, err := s.gateway.CreateSubscription(ctx, paystackclient.CreateSubscriptionRequest{
		Customer:      customerCode,
		Plan:          plan.PlanCode,
		Authorization: authCode,
	})
	if err != nil {
		return nil, gatewayFailure(ErrSubscriptionCreationFailed, err)
	}

	status, ok := domain.GatewayStatus(created.Status).LocalStatus()
	if !ok {
		status = domain.StatusActive
	}
	next, ok := domain.ParseGatewayTime(created.NextPaymentDate.String())
	if !ok {
		paidAt := domain.PaymentTime(s.now(), txn.PaidAt.String(), txn.CreatedAt.String())
		next = domain.NextBillingDate(plan.Interval, paidAt)
	}

	result, err := s.repo.MutateSubscription(ctx, audit.WithSource("api:create"), user.ID, func(cur *domain.Subscription) (*domain.Subscription, error) {
		if cur == nil {
			cur = &domain.Subscription{}
		}
		cur.CustomerCode = customerCode
		cur.SubscriptionCode = created.SubscriptionCode
		cur.EmailToken = created.EmailToken
		cur.AuthorizationCode = authCode
		cur.PlanID = &plan.ID
		cur.Status = status
		cur.NextBillingDate = &next
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription created", "user_id", user.ID, "plan_id", plan.ID, "subscription_code", created.SubscriptionCode)
	s.notifier.SubscriptionChanged(ctx, result)
	return result.After, nil
}

// Cancel cancels the caller's active subscription. A record with a subscription
// code is only cancelled once the gateway has disabled it. A record without one
// is matched on the gateway by customer; when no match can be made the local
// record is still cancelled and the result is marked degraded.
func (s *Service) Cancel(ctx context.Context, audit domain.AuditContext, userID string) (*CancelResult, error) {
	sub, err := s.repo.FindSubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}
	if !domain.CanTransition(sub.Status, domain.EventUserCancelled) {
		return nil, ErrNoActiveSubscription
	}

	res := &CancelResult{Mode: CancelModeGateway, Message: "Subscription cancelled successfully"}
	code, token := sub.SubscriptionCode, sub.EmailToken

	switch {
	case code != "" && token == "":
		// The gateway needs the email token; a failed lookup still lets the
		// disable call decide.
		if found, _, err := s.findGatewaySubscription(ctx, sub); err != nil {
			s.logger.Warn("could not look up email token for cancel", "user_id", userID, "subscription_code", code, "error", err)
		} else if found != nil {
			token = found.EmailToken
		}
	case code == "":
		found, mode, err := s.findGatewaySubscription(ctx, sub)
		switch {
		case err != nil:
			s.logger.Warn("could not look up gateway subscription for cancel", "user_id", userID, "error", err)
			res.Mode = mode
		case found == nil:
			res.Mode = mode
		default:
			code, token = found.SubscriptionCode, found.EmailToken
		}
	}

	switch res.Mode {
	case CancelModeLocalOnly:
		res.Degraded = true
		res.Message = "Subscription cancelled locally"
		res.Warning = "No matching Paystack subscription was found; only the local record was cancelled"
	case CancelModeLocalUnverified:
		res.Degraded = true
		res.Message = "Subscription cancelled locally"
		res.Warning = "Could not cancel on Paystack - please verify manually"
	default:
		if err := s.gateway.DisableSubscription(ctx, code, token); err != nil {
			return nil, gatewayFailure(ErrCancellationFailed, err)
		}
	}

	result, err := s.repo.MutateSubscription(ctx, audit.WithSource("api:cancel"), userID, func(cur *domain.Subscription) (*domain.Subscription, error) {
		if cur == nil {
			return nil, ErrNoActiveSubscription
		}
		status, ok := nextStatusFor(cur, domain.EventUserCancelled)
		if !ok {
			return nil, ErrNoActiveSubscription
		}
		cur.Status = status
		if res.Mode == CancelModeGateway {
			cur.SubscriptionCode = code
			cur.EmailToken = token
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription cancelled", "user_id", userID, "mode", res.Mode, "subscription_code", code)
	s.notifier.SubscriptionChanged(ctx, result)
	res.Subscription = result.After
	return res, nil
}

// findGatewaySubscription looks up the gateway subscription a local record belongs
// to when the record lacks its code or token. The returned mode applies when no
// subscription is returned.
func (s *Service) findGatewaySubscription(ctx context.Context, sub *domain.Subscription) (*paystackclient.Subscription, CancelMode, error) {
	if sub.CustomerCode == "" {
		return nil, CancelModeLocalOnly, nil
	}

	page, err := s.gateway.ListSubscriptions(ctx, paystackclient.ListSubscriptionsParams{Customer: sub.CustomerCode})
	if err != nil {
		return nil, CancelModeLocalUnverified, err
	}

	planCode := ""
	if sub.HasPlan() {
		if plan, err := s.repo.FindPlanByID(ctx, *sub.PlanID); err == nil {
			planCode = plan.PlanCode
		}
	}

	found, ok := lo.Find(page.Subscriptions, func(g paystackclient.Subscription) bool {
		if sub.SubscriptionCode != "" {
			return g.SubscriptionCode == sub.SubscriptionCode
		}
		return domain.GatewayStatus(g.Status) == domain.GatewayActive && (planCode == "" || g.Plan.PlanCode == planCode)
	})
	if !ok || found.SubscriptionCode == "" || found.EmailToken == "" {
		return nil, CancelModeLocalOnly, nil
	}
	return &found, CancelModeGateway, nil
}

// Reactivate re-enables a cancelled or past due subscription on the gateway and locally.
func (s *Service) Reactivate(ctx context.Context, audit domain.AuditContext, userID string) (*domain.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	if !domain.CanTransition(sub.Status, domain.EventUserReactivated) {
		return nil, ErrNotReactivatable
	}
	if sub.SubscriptionCode == "" {
		return nil, ErrSubscriptionCodeMissing
	}

	if err := s.gateway.EnableSubscription(ctx, sub.SubscriptionCode, sub.EmailToken); err != nil {
		return nil, gatewayFailure(ErrReactivationFailed, err)
	}

	var interval domain.PlanInterval
	if sub.HasPlan() {
		if plan, err := s.repo.FindPlanByID(ctx, *sub.PlanID); err == nil {
			interval = plan.Interval
		}
	}
	now := s.now()

	result, err := s.repo.MutateSubscription(ctx, audit.WithSource("api:reactivate"), userID, func(cur *domain.Subscription) (*domain.Subscription, error) {
		if cur == nil {
			return nil, ErrSubscriptionNotFound
		}
		status, ok := nextStatusFor(cur, domain.EventUserReactivated)
		if !ok {
			return nil, ErrNotReactivatable
		}
		cur.Status = status
		if cur.NextBillingDate == nil || cur.NextBillingDate.Before(now) {
			next := domain.NextBillingDate(interval, now)
			cur.NextBillingDate = &next
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription reactivated", "user_id", userID, "subscription_code", sub.SubscriptionCode)
	s.notifier.SubscriptionChanged(ctx, result)
	return result.After, nil
}

// Status returns the caller's subscription state, derived at read time.
func (s *Service) Status(ctx context.Context, userID string) (*domain.StatusView, error) {
	sub, err := s.repo.FindSubscriptionByUserID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.StatusView{HasSubscription: false, Status: "inactive", IsExpired: true}, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	view := &domain.StatusView{
		HasSubscription:   true,
		Status:            string(sub.Status),
		NextBillingDate:   sub.NextBillingDate,
		IsActive:          sub.IsActive(now),
		IsExpired:         sub.IsExpired(now),
		GracePeriodActive: sub.GracePeriodActive(now),
		DaysUntilExpiry:   sub.DaysUntilExpiry(now),
		CanCancel:         domain.CanTransition(sub.Status, domain.EventUserCancelled),
		CanReactivate:     domain.CanTransition(sub.Status, domain.EventUserReactivated) && sub.SubscriptionCode != "",
		SubscriptionCode:  sub.SubscriptionCode,
	}
	if sub.HasPlan() {
		plan, err := s.repo.FindPlanByID(ctx, *sub.PlanID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		view.Plan = domain.NewPlanView(plan)
	}
	return view, nil
}

// History returns the caller's reconciliation history, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	entries, err := s.repo.ListHistoryByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

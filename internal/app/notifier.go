package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Allforms/estatepadi/internal/domain"
)

// Notifier publishes subscription notifications after a change has committed.
// Publishing is fire-and-forget: failures are logged and never reach the caller.
// The publish runs inline on the caller's goroutine so the message is on the
// broker before the request returns; the publish timeout caps the delay a stalled
// broker can add to that request.
type Notifier struct {
	publisher Publisher
	exchange  string
	repo      Repository
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// DefaultPublishTimeout is the publish bound used until WithPublishTimeout overrides it.
const DefaultPublishTimeout = 2 * time.Second

// NewNotifier creates a notifier. A nil publisher disables publishing.
func NewNotifier(publisher Publisher, exchange string, repo Repository, logger *slog.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		exchange:  exchange,
		repo:      repo,
		logger:    logger,
		timeout:   DefaultPublishTimeout,
		now:       time.Now,
	}
}

// WithPublishTimeout overrides the per-publish bound. Non-positive values are ignored.
func (n *Notifier) WithPublishTimeout(d time.Duration) *Notifier {
	if d > 0 {
		n.timeout = d
	}
	return n
}

// notificationRoutingKey picks the message for a status change, or "" when the
// change is not one users hear about.
func notificationRoutingKey(before, after *domain.Subscription) string {
	if after == nil {
		return ""
	}
	var from domain.SubscriptionStatus
	if before != nil {
		from = before.Status
	}
	if from == after.Status {
		return ""
	}
	switch after.Status {
	case domain.StatusActive:
		if from == domain.StatusCancelled || from == domain.StatusPastDue {
			return domain.RoutingKeyReactivated
		}
		return domain.RoutingKeyActivated
	case domain.StatusCancelled:
		return domain.RoutingKeyCancelled
	case domain.StatusPastDue:
		return domain.RoutingKeyPaymentFailed
	}
	return ""
}

// SubscriptionChanged publishes a notification for a committed mutation.
func (n *Notifier) SubscriptionChanged(ctx context.Context, result *domain.MutationResult) {
	if n == nil || n.publisher == nil || result == nil || !result.Changed {
		return
	}
	routingKey := notificationRoutingKey(result.Before, result.After)
	if routingKey == "" {
		return
	}

	user, err := n.repo.FindUserByID(ctx, result.After.UserID)
	if err != nil {
		n.logger.Warn("skipping subscription notification; user lookup failed", "user_id", result.After.UserID, "error", err)
		return
	}

	msg := domain.SubscriptionNotification{
		ID:              uuid.NewString(),
		Type:            routingKey,
		UserID:          user.ID,
		Email:           user.Email,
		FirstName:       user.FirstName,
		Status:          result.After.Status,
		NextBillingDate: result.After.NextBillingDate,
		OccurredAt:      n.now().UTC(),
	}
	if result.After.HasPlan() {
		if plan, err := n.repo.FindPlanByID(ctx, *result.After.PlanID); err == nil {
			msg.PlanName = plan.Name
		}
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.publisher.Publish(pubCtx, n.exchange, routingKey, msg); err != nil {
		n.logger.Error("failed to publish subscription notification", "user_id", user.ID, "routing_key", routingKey, "error", err)
		return
	}
	n.logger.Info("published subscription notification", "user_id", user.ID, "routing_key", routingKey)
}

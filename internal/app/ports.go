/**
 * @description
 * Interfaces the subscription core depends on. The Postgres store, the Paystack
 * client, the RabbitMQ producer, and the Redis run lock implement them in
 * production; tests substitute in-memory versions.
 */
package app

import (
	"context"

	"github.com/Allforms/estatepadi/internal/domain"
	"github.com/Allforms/estatepadi/pkg/paystackclient"
)

// Repository defines the persistence operations the subscription core needs.
type Repository interface {
	FindUserByID(ctx context.Context, userID string) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindPlanByID(ctx context.Context, planID string) (*domain.SubscriptionPlan, error)
	FindPlanByCode(ctx context.Context, planCode string) (*domain.SubscriptionPlan, error)
	ListPlans(ctx context.Context) ([]domain.SubscriptionPlan, error)
	FindSubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
	FindSubscriptionByCode(ctx context.Context, code string) (*domain.Subscription, error)
	FindSubscriptionByCustomerCode(ctx context.Context, code string) (*domain.Subscription, error)
	ListOrphanedSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	MutateSubscription(ctx context.Context, audit domain.AuditContext, userID string, fn domain.SubscriptionMutation) (*domain.MutationResult, error)
	AppendHistory(ctx context.Context, entries []domain.HistoryEntry) error
	ListHistoryByUser(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error)
}

// Gateway defines the payment gateway operations the subscription core calls.
type Gateway interface {
	VerifyTransaction(ctx context.Context, reference string) (*paystackclient.Transaction, error)
	CreateCustomer(ctx context.Context, req paystackclient.CreateCustomerRequest) (*paystackclient.Customer, error)
	CreateSubscription(ctx context.Context, req paystackclient.CreateSubscriptionRequest) (*paystackclient.Subscription, error)
	ListSubscriptions(ctx context.Context, params paystackclient.ListSubscriptionsParams) (*paystackclient.SubscriptionPage, error)
	ListSuccessfulTransactions(ctx context.Context, perPage int) ([]paystackclient.Transaction, error)
	DisableSubscription(ctx context.Context, code, emailToken string) error
	EnableSubscription(ctx context.Context, code, emailToken string) error
}

// Publisher sends an event to a message broker exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// RunLock keeps two reconciliation runs from overlapping.
type RunLock interface {
	Acquire(ctx context.Context) (release func(context.Context), err error)
}

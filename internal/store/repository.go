/**
 * @description
 * This file implements the data access layer for the subscription core. It holds
 * the read-side lookups for users, plans, and subscription records. Writes to a
 * subscription go through MutateSubscription in mutate.go.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Allforms/estatepadi/internal/domain"
)

// Repository handles database operations for subscriptions.
type Repository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db, now: time.Now}
}

const subscriptionColumns = `
	id::text, user_id::text, paystack_customer_code, paystack_subscription_code, plan_id::text,
	status, next_billing_date, authorization_code, email_token, created_at, updated_at`

const planColumns = `id::text, paystack_plan_code, name, amount, interval, description`

const userColumns = `id::text, email, first_name, last_name, phone_number, subscription_active`

// invalidTextRepresentation is raised when a parameter cannot be cast to the
// column type, e.g. a malformed uuid.
const invalidTextRepresentation = "22P02"

// validID reports whether id can name a row in a uuid-keyed table.
func validID(id string) bool {
	_, err := uuid.Parse(strings.TrimSpace(id))
	return err == nil
}

// lookupErr maps the errors that mean "no such row" to domain.ErrNotFound.
func lookupErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation {
		return domain.ErrNotFound
	}
	return err
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var status string
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.CustomerCode,
		&sub.SubscriptionCode,
		&sub.PlanID,
		&status,
		&sub.NextBillingDate,
		&sub.AuthorizationCode,
		&sub.EmailToken,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, lookupErr(err)
	}
	sub.Status = domain.SubscriptionStatus(status)
	return &sub, nil
}

func scanPlan(row pgx.Row) (*domain.SubscriptionPlan, error) {
	var plan domain.SubscriptionPlan
	var interval string
	err := row.Scan(&plan.ID, &plan.PlanCode, &plan.Name, &plan.Amount, &interval, &plan.Description)
	if err != nil {
		return nil, lookupErr(err)
	}
	plan.Interval = domain.PlanInterval(interval)
	return &plan, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.PhoneNumber, &user.SubscriptionActive)
	if err != nil {
		return nil, lookupErr(err)
	}
	return &user, nil
}

// FindUserByID retrieves a user by id.
func (r *Repository) FindUserByID(ctx context.Context, userID string) (*domain.User, error) {
	if !validID(userID) {
		return nil, domain.ErrNotFound
	}
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// FindUserByEmail retrieves a user by email, case-insensitively.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, domain.ErrNotFound
	}
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1`, email))
}

// FindPlanByID retrieves a plan by id.
func (r *Repository) FindPlanByID(ctx context.Context, planID string) (*domain.SubscriptionPlan, error) {
	if !validID(planID) {
		return nil, domain.ErrNotFound
	}
	return scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, planID))
}

// FindPlanByCode retrieves a plan by its gateway plan code.
func (r *Repository) FindPlanByCode(ctx context.Context, planCode string) (*domain.SubscriptionPlan, error) {
	if strings.TrimSpace(planCode) == "" {
		return nil, domain.ErrNotFound
	}
	return scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE paystack_plan_code = $1`, planCode))
}

// ListPlans returns every plan ordered by price.
func (r *Repository) ListPlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	rows, err := r.db.Query(ctx, `SELECT `+planColumns+` FROM subscription_plans ORDER BY amount ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []domain.SubscriptionPlan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

// FindSubscriptionByUserID retrieves the subscription record of a user.
func (r *Repository) FindSubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	if !validID(userID) {
		return nil, domain.ErrNotFound
	}
	return scanSubscription(r.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE user_id = $1`, userID))
}

// FindSubscriptionByCode retrieves a record by its gateway subscription code.
func (r *Repository) FindSubscriptionByCode(ctx context.Context, code string) (*domain.Subscription, error) {
	if strings.TrimSpace(code) == "" {
		return nil, domain.ErrNotFound
	}
	return scanSubscription(r.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE paystack_subscription_code = $1 LIMIT 1`, code))
}

// FindSubscriptionByCustomerCode retrieves a record by its gateway customer code.
func (r *Repository) FindSubscriptionByCustomerCode(ctx context.Context, code string) (*domain.Subscription, error) {
	if strings.TrimSpace(code) == "" {
		return nil, domain.ErrNotFound
	}
	return scanSubscription(r.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM user_subscriptions
		WHERE paystack_customer_code = $1
		ORDER BY updated_at DESC
		LIMIT 1`, code))
}

// ListOrphanedSubscriptions returns records with payment credentials but no gateway subscription.
func (r *Repository) ListOrphanedSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM user_subscriptions
		WHERE authorization_code <> ''
		  AND paystack_customer_code <> ''
		  AND paystack_subscription_code = ''
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

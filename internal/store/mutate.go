package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Allforms/estatepadi/internal/domain"
)

// ErrInvalidMutation is returned when a mutation produces a record the store refuses to write.
var ErrInvalidMutation = errors.New("invalid subscription mutation")

// MutateSubscription is the only write path for subscription records. In one
// transaction it locks the user row and the user's subscription row, runs fn on a
// copy of the current record, upserts the result, recomputes the user's
// subscription_active flag, and writes an audit log entry. Concurrent writers are
// serialized per user; the last one to commit wins.
func (r *Repository) MutateSubscription(ctx context.Context, audit domain.AuditContext, userID string, fn domain.SubscriptionMutation) (*domain.MutationResult, error) {
	if !validID(userID) {
		return nil, domain.ErrNotFound
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin subscription transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the user row first so two writers racing to create the first record
	// for a user queue up instead of colliding on the unique index.
	var lockedID string
	if err := tx.QueryRow(ctx, `SELECT id::text FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&lockedID); err != nil {
		if err = lookupErr(err); errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}

	current, err := scanSubscription(tx.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}

	result := &domain.MutationResult{Before: current, After: current}
	if next == nil || domain.SameState(current, next) {
		result.UserActive = domain.SubscriptionActiveFlag(current, r.now())
		return result, tx.Commit(ctx)
	}

	next.UserID = userID
	if !next.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidMutation, next.Status)
	}
	if next.Status == domain.StatusActive && next.NextBillingDate == nil {
		return nil, fmt.Errorf("%w: active subscription without next billing date", ErrInvalidMutation)
	}
	if next.PlanID != nil && *next.PlanID == "" {
		next.PlanID = nil
	}
	if next.HasPlan() && !validID(*next.PlanID) {
		return nil, fmt.Errorf("%w: referenced plan does not exist", ErrInvalidMutation)
	}

	saved, err := scanSubscription(tx.QueryRow(ctx, `
		INSERT INTO user_subscriptions (
			user_id, paystack_customer_code, paystack_subscription_code, plan_id, status,
			next_billing_date, authorization_code, email_token
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			paystack_customer_code = EXCLUDED.paystack_customer_code,
			paystack_subscription_code = EXCLUDED.paystack_subscription_code,
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			next_billing_date = EXCLUDED.next_billing_date,
			authorization_code = EXCLUDED.authorization_code,
			email_token = EXCLUDED.email_token,
			updated_at = NOW()
		RETURNING `+subscriptionColumns,
		userID,
		next.CustomerCode,
		next.SubscriptionCode,
		next.PlanID,
		string(next.Status),
		next.NextBillingDate,
		next.AuthorizationCode,
		next.EmailToken,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("%w: referenced plan does not exist", ErrInvalidMutation)
		}
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	active := domain.SubscriptionActiveFlag(saved, r.now())
	if _, err := tx.Exec(ctx, `UPDATE users SET subscription_active = $2 WHERE id = $1`, userID, active); err != nil {
		return nil, fmt.Errorf("failed to update user active flag: %w", err)
	}

	action := "update"
	if current == nil {
		action = "create"
	}
	changes, err := json.Marshal(domain.DiffSubscriptions(current, saved))
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit changes: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_logs (actor_id, actor_kind, source, action, model_name, object_id, changes, ip_address, request_id)
		VALUES ($1, $2, $3, $4, 'UserSubscription', $5, $6::jsonb, $7, $8)`,
		audit.ActorID, string(audit.ActorKind), audit.Source, action, saved.ID, string(changes), audit.IPAddress, audit.RequestID,
	); err != nil {
		return nil, fmt.Errorf("failed to write audit log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit subscription transaction: %w", err)
	}

	result.After = saved
	result.Changed = true
	result.Created = current == nil
	result.UserActive = active
	return result, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/Allforms/estatepadi/internal/domain"
)

// AppendHistory inserts gateway snapshots. Entries are never updated or deleted.
func (r *Repository) AppendHistory(ctx context.Context, entries []domain.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		recordedAt := e.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = r.now()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO subscription_history (
				user_id, plan_id, paystack_subscription_code, status, next_billing_date,
				authorization_code, email_token, recorded_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.UserID, e.PlanID, e.SubscriptionCode, string(e.Status), e.NextBillingDate,
			e.AuthorizationCode, e.EmailToken, recordedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert history entry for user %s: %w", e.UserID, err)
		}
	}

	return tx.Commit(ctx)
}

// ListHistoryByUser returns the newest history entries of a user first.
func (r *Repository) ListHistoryByUser(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if !validID(userID) {
		return []domain.HistoryEntry{}, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id::text, user_id::text, plan_id::text, paystack_subscription_code, status,
		       next_billing_date, authorization_code, email_token, recorded_at
		FROM subscription_history
		WHERE user_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription history: %w", err)
	}
	defer rows.Close()

	entries := []domain.HistoryEntry{}
	for rows.Next() {
		var e domain.HistoryEntry
		var status string
		if err := rows.Scan(&e.ID, &e.UserID, &e.PlanID, &e.SubscriptionCode, &status,
			&e.NextBillingDate, &e.AuthorizationCode, &e.EmailToken, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Status = domain.GatewayStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

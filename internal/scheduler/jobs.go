/**
 * @description
 * Scheduled job implementations for the scheduler-service.
 */
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Allforms/estatepadi/internal/domain"
	"github.com/Allforms/estatepadi/pkg/subscriptionclient"
)

// ReconcileClient defines the interface for triggering reconciliation on the subscription service.
type ReconcileClient interface {
	TriggerReconcile(ctx context.Context) (*domain.ReconcileSummary, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	client  ReconcileClient
	logger  *slog.Logger
	timeout time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(client ReconcileClient, logger *slog.Logger) *Jobs {
	return &Jobs{
		client:  client,
		logger:  logger,
		timeout: 20 * time.Minute,
	}
}

// ReconcileSubscriptions asks the subscription service to reconcile with Paystack.
func (j *Jobs) ReconcileSubscriptions() {
	j.logger.Info("starting subscription reconciliation job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	summary, err := j.client.TriggerReconcile(ctx)
	if errors.Is(err, subscriptionclient.ErrReconcileInProgress) {
		j.logger.Warn("subscription reconciliation already running; skipping this tick")
		return
	}
	if err != nil {
		j.logger.Error("failed to run subscription reconciliation", "error", err)
		return
	}

	j.logger.Info("subscription reconciliation job finished",
		"synced", summary.Synced,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"history_recorded", summary.HistoryRecorded,
		"phase_errors", len(summary.PhaseErrors),
	)
	for _, pe := range summary.PhaseErrors {
		j.logger.Error("subscription reconciliation phase failed", "phase", pe.Phase, "error", pe.Error)
	}
}

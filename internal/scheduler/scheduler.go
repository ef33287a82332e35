/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	// SkipIfStillRunning keeps a slow reconciliation from stacking up ticks.
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.ReconcileSubscriptions); err != nil {
		s.logger.Error("failed to schedule subscription reconciliation job", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled subscription reconciliation job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// Entries exposes the registered cron entries.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

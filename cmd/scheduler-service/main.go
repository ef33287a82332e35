/**
 * @description
 * Main entry point for the scheduler-service. This is a non-HTTP, long-running
 * process that triggers subscription reconciliation on a cron schedule by calling
 * the subscription service's internal endpoint.
 */
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Allforms/estatepadi/internal/config"
	"github.com/Allforms/estatepadi/internal/scheduler"
	"github.com/Allforms/estatepadi/pkg/subscriptionclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateScheduler(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	client := subscriptionclient.NewClient(cfg.SubscriptionServiceURL, cfg.InternalAPIKey)
	jobs := scheduler.NewJobs(client, logger)
	sched := scheduler.NewScheduler(jobs, logger, cfg.ReconcileJobSchedule)

	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := sched.Stop()
	<-stopCtx.Done() // waits for a running reconciliation call to return
	logger.Info("scheduler stopped gracefully")
}

/**
 * @description
 * Operator command that runs one subscription reconciliation in-process and prints
 * the summary as JSON. It uses the same run lock as the service when REDIS_URL is
 * set, so it never overlaps a scheduled run.
 *
 * Usage:
 *   go run ./cmd/subscription-sync [-yes] [-quiet]
 */
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Allforms/estatepadi/internal/app"
	"github.com/Allforms/estatepadi/internal/config"
	"github.com/Allforms/estatepadi/internal/store"
	"github.com/Allforms/estatepadi/pkg/paystackclient"
	"github.com/Allforms/estatepadi/pkg/rabbitmq"
)

func main() {
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	quiet := flag.Bool("quiet", false, "only print the summary")
	flag.Parse()

	level := slog.LevelInfo
	if *quiet {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	_ = godotenv.Load("../.env")
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateSyncCommand(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if !*yes && !confirm(fmt.Sprintf("Reconcile local subscriptions against Paystack (%s)?", cfg.PaystackBaseURL)) {
		fmt.Fprintln(os.Stderr, "Reconciliation cancelled.")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	var runLock app.RunLock
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("redis url parse failed", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOptions)
		defer redisClient.Close()
		runLock = app.NewRedisRunLock(redisClient, cfg.ReconcileLockKey, cfg.ReconcileLockTTL())
	}

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
			logger.Warn("rabbitmq unavailable; notifications for this run are dropped", "error", err)
		} else {
			defer producer.Close()
			publisher = producer
		}
	}

	repository := store.NewRepository(dbpool)
	gateway := paystackclient.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.PaystackTimeout())
	notifier := app.NewNotifier(publisher, cfg.NotificationExchange, repository, logger).
		WithPublishTimeout(cfg.NotificationPublishTimeout())
	reconciler := app.NewReconciler(repository, gateway, runLock, notifier, nil, logger, app.ReconcileOptions{
		TransactionPageSize:  cfg.ReconcileTransactionPageSize,
		SubscriptionPageSize: cfg.ReconcileSubscriptionPageSize,
	})

	started := time.Now()
	summary, err := reconciler.Run(ctx, "cli-"+uuid.NewString())
	if err != nil {
		logger.Error("reconciliation failed", "error", err)
		os.Exit(1)
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(summary); err != nil {
		logger.Error("failed to write summary", "error", err)
		os.Exit(1)
	}

	logger.Info("reconciliation finished",
		"synced", summary.Synced,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"elapsed", time.Since(started).String(),
	)
	if summary.Failed > 0 || len(summary.PhaseErrors) > 0 {
		os.Exit(2)
	}
}

func confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s (y/N): ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

/**
 * @description
 * Main entry point for the subscription-service. It wires configuration, the
 * Postgres store, the Paystack client, the optional Redis run lock and the
 * RabbitMQ notifier into the HTTP API, then serves until SIGINT/SIGTERM.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Allforms/estatepadi/internal/api"
	"github.com/Allforms/estatepadi/internal/app"
	"github.com/Allforms/estatepadi/internal/config"
	"github.com/Allforms/estatepadi/internal/store"
	"github.com/Allforms/estatepadi/pkg/paystackclient"
	"github.com/Allforms/estatepadi/pkg/rabbitmq"
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
	if err := cfg.ValidateSubscriptionService(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	dbpool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	var publisher rabbitmq.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		logger.Warn("RABBITMQ_URL not set; subscription notifications disabled")
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
		logger.Warn("rabbitmq unavailable; subscription notifications disabled", "error", err)
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	} else {
		defer producer.Close()
		publisher = producer
	}

	var runLock app.RunLock
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("REDIS_URL not set; reconciliation runs are not guarded against overlap")
	} else if redisOptions, err := redis.ParseURL(cfg.RedisURL); err != nil {
		logger.Warn("redis url parse failed; reconciliation runs are not guarded against overlap", "error", err)
	} else {
		redisClient := redis.NewClient(redisOptions)
		pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
		pingErr := redisClient.Ping(pingCtx).Err()
		cancelPing()
		if pingErr != nil {
			logger.Warn("redis ping failed; reconciliation runs are not guarded against overlap", "error", pingErr)
			redisClient.Close()
		} else {
			defer redisClient.Close()
			runLock = app.NewRedisRunLock(redisClient, cfg.ReconcileLockKey, cfg.ReconcileLockTTL())
			logger.Info("redis connected")
		}
	}

	metrics := app.NewMetrics()
	gateway := paystackclient.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.PaystackTimeout())
	gateway.Observe = metrics.ObserveGatewayCall

	repository := store.NewRepository(dbpool)
	notifier := app.NewNotifier(publisher, cfg.NotificationExchange, repository, logger).
		WithPublishTimeout(cfg.NotificationPublishTimeout())
	service := app.NewService(repository, gateway, notifier, logger)
	processor := app.NewWebhookProcessor(repository, notifier, metrics, logger)
	reconciler := app.NewReconciler(repository, gateway, runLock, notifier, metrics, logger, app.ReconcileOptions{
		TransactionPageSize:  cfg.ReconcileTransactionPageSize,
		SubscriptionPageSize: cfg.ReconcileSubscriptionPageSize,
	})

	// Paystack signs webhooks with the account secret key.
	handler := api.NewHandler(service, processor, reconciler, cfg.PaystackSecretKey, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		Auth:           api.AuthMiddleware(api.NewJWKSKeyfunc(cfg.JWKSURL, 10*time.Minute), cfg.JWTIssuer, cfg.JWTAudience),
		InternalAPIKey: cfg.InternalAPIKey,
		Metrics:        metrics.Handler(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}

/**
 * @description
 * Main entry point for the notification-service. It consumes subscription
 * lifecycle events from RabbitMQ and emails the subscriber through Resend.
 */
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Allforms/estatepadi/internal/config"
	"github.com/Allforms/estatepadi/internal/notify"
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
	if err := cfg.ValidateNotificationService(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	sender := notify.NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom)
	worker := notify.NewWorker(sender, logger, cfg.NotificationMaxAttempts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("notification worker started", "exchange", cfg.NotificationExchange, "queue", cfg.NotificationQueue)
	if err := consumer.ConsumeWithBindings(ctx, cfg.NotificationExchange, cfg.NotificationQueue, worker.Bindings()); err != nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("notification worker stopped")
}

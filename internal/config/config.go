/**
 * @description
 * This package handles configuration for every estatepadi subscription binary.
 * Values come from environment variables, optionally seeded from a .env file,
 * and are bound with Viper.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading and env binding.
 */
package config

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the subscription, scheduler, and notification services.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	RedisURL                string `mapstructure:"REDIS_URL"`
	ReconcileLockKey        string `mapstructure:"RECONCILE_LOCK_KEY"`
	ReconcileLockTTLSeconds int    `mapstructure:"RECONCILE_LOCK_TTL_SECONDS"`

	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange    string `mapstructure:"NOTIFICATION_EXCHANGE"`
	NotificationQueue       string `mapstructure:"NOTIFICATION_QUEUE"`
	NotificationMaxAttempts int    `mapstructure:"NOTIFICATION_MAX_ATTEMPTS"`
	NotificationPublishMS   int    `mapstructure:"NOTIFICATION_PUBLISH_TIMEOUT_MS"`
	ResendAPIKey            string `mapstructure:"RESEND_API_KEY"`
	EmailFrom               string `mapstructure:"EMAIL_FROM"`

	PaystackBaseURL        string `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey      string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackTimeoutSeconds int    `mapstructure:"PAYSTACK_TIMEOUT_SECONDS"`

	JWKSURL        string `mapstructure:"JWKS_URL"`
	JWTIssuer      string `mapstructure:"JWT_ISSUER"`
	JWTAudience    string `mapstructure:"JWT_AUDIENCE"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	ReconcileTransactionPageSize  int    `mapstructure:"RECONCILE_TRANSACTION_PAGE_SIZE"`
	ReconcileSubscriptionPageSize int    `mapstructure:"RECONCILE_SUBSCRIPTION_PAGE_SIZE"`
	ReconcileJobSchedule          string `mapstructure:"RECONCILE_JOB_SCHEDULE"`
	SubscriptionServiceURL        string `mapstructure:"SUBSCRIPTION_SERVICE_URL"`
}

// LoadConfig reads configuration from the environment and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8085")
	viper.SetDefault("RECONCILE_LOCK_KEY", "estatepadi:subscriptions:reconcile_lock")
	viper.SetDefault("RECONCILE_LOCK_TTL_SECONDS", 900)
	viper.SetDefault("NOTIFICATION_EXCHANGE", "subscription_events")
	viper.SetDefault("NOTIFICATION_QUEUE", "notification_service.subscription_events")
	viper.SetDefault("NOTIFICATION_MAX_ATTEMPTS", 3)
	viper.SetDefault("NOTIFICATION_PUBLISH_TIMEOUT_MS", 2000)
	viper.SetDefault("EMAIL_FROM", "EstatePadi <no-reply@estatepadi.com>")
	viper.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("PAYSTACK_TIMEOUT_SECONDS", 30)
	viper.SetDefault("RECONCILE_TRANSACTION_PAGE_SIZE", 100)
	viper.SetDefault("RECONCILE_SUBSCRIPTION_PAGE_SIZE", 100)
	viper.SetDefault("RECONCILE_JOB_SCHEDULE", "0 0 * * *")
	viper.SetDefault("SUBSCRIPTION_SERVICE_URL", "http://localhost:8085")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RECONCILE_LOCK_KEY")
	_ = viper.BindEnv("RECONCILE_LOCK_TTL_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("NOTIFICATION_QUEUE")
	_ = viper.BindEnv("NOTIFICATION_MAX_ATTEMPTS")
	_ = viper.BindEnv("NOTIFICATION_PUBLISH_TIMEOUT_MS")
	_ = viper.BindEnv("RESEND_API_KEY")
	_ = viper.BindEnv("EMAIL_FROM", "EMAIL_FROM", "DEFAULT_FROM_EMAIL")
	_ = viper.BindEnv("PAYSTACK_BASE_URL")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("PAYSTACK_TIMEOUT_SECONDS")
	_ = viper.BindEnv("JWKS_URL", "JWKS_URL", "CLERK_JWKS_URL")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SUBSCRIPTION_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("RECONCILE_TRANSACTION_PAGE_SIZE")
	_ = viper.BindEnv("RECONCILE_SUBSCRIPTION_PAGE_SIZE")
	_ = viper.BindEnv("RECONCILE_JOB_SCHEDULE")
	_ = viper.BindEnv("SUBSCRIPTION_SERVICE_URL")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.PaystackSecretKey = strings.TrimSpace(config.PaystackSecretKey)
	config.PaystackBaseURL = strings.TrimSuffix(strings.TrimSpace(config.PaystackBaseURL), "/")
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.SubscriptionServiceURL = strings.TrimSuffix(strings.TrimSpace(config.SubscriptionServiceURL), "/")
	config.RedisURL = strings.TrimSpace(config.RedisURL)

	if config.ReconcileTransactionPageSize <= 0 {
		log.Printf("level=warn component=config msg=\"invalid transaction page size; using default\" value=%d", config.ReconcileTransactionPageSize)
		config.ReconcileTransactionPageSize = 100
	}
	if config.ReconcileSubscriptionPageSize <= 0 {
		log.Printf("level=warn component=config msg=\"invalid subscription page size; using default\" value=%d", config.ReconcileSubscriptionPageSize)
		config.ReconcileSubscriptionPageSize = 100
	}
	if config.NotificationMaxAttempts <= 0 {
		config.NotificationMaxAttempts = 3
	}
	if config.NotificationPublishMS <= 0 {
		config.NotificationPublishMS = 2000
	}
	if config.PaystackTimeoutSeconds <= 0 {
		config.PaystackTimeoutSeconds = 30
	}
	if config.ReconcileLockTTLSeconds <= 0 {
		config.ReconcileLockTTLSeconds = 900
	}

	return
}

// PaystackTimeout is the HTTP timeout for gateway calls.
func (c Config) PaystackTimeout() time.Duration {
	return time.Duration(c.PaystackTimeoutSeconds) * time.Second
}

// NotificationPublishTimeout bounds one broker publish made on a request path.
func (c Config) NotificationPublishTimeout() time.Duration {
	return time.Duration(c.NotificationPublishMS) * time.Millisecond
}

// ReconcileLockTTL bounds how long a reconciliation run may hold the run lock.
func (c Config) ReconcileLockTTL() time.Duration {
	return time.Duration(c.ReconcileLockTTLSeconds) * time.Second
}

// ValidateSubscriptionService checks the settings the HTTP API cannot start without.
func (c Config) ValidateSubscriptionService() error {
	return requireSet(map[string]string{
		"DATABASE_URL":        c.DatabaseURL,
		"PAYSTACK_SECRET_KEY": c.PaystackSecretKey,
		"JWKS_URL":            c.JWKSURL,
		"INTERNAL_API_KEY":    c.InternalAPIKey,
	})
}

// ValidateScheduler checks the settings the scheduler needs to call the subscription service.
func (c Config) ValidateScheduler() error {
	return requireSet(map[string]string{
		"SUBSCRIPTION_SERVICE_URL": c.SubscriptionServiceURL,
		"INTERNAL_API_KEY":         c.InternalAPIKey,
	})
}

// ValidateNotificationService checks the settings the email worker needs.
func (c Config) ValidateNotificationService() error {
	return requireSet(map[string]string{
		"RABBITMQ_URL":   c.RabbitMQURL,
		"RESEND_API_KEY": c.ResendAPIKey,
	})
}

// ValidateSyncCommand checks the settings the one-shot reconciliation command needs.
func (c Config) ValidateSyncCommand() error {
	return requireSet(map[string]string{
		"DATABASE_URL":        c.DatabaseURL,
		"PAYSTACK_SECRET_KEY": c.PaystackSecretKey,
	})
}

func requireSet(values map[string]string) error {
	var missing []string
	for key, value := range values {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
}

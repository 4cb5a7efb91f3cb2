// Package config loads the service's typed configuration once at boot from
// environment variables (optionally seeded from a .env file), matching the
// load-once-at-startup idiom the rest of this codebase uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is read once in cmd/server/main.go and passed down by value or
// pointer to every component; nothing re-reads the environment after boot.
type Config struct {
	Port string `validate:"required"`

	DatabaseURL   string `validate:"required"`
	MigrationsDir string `validate:"required"`

	RedisAddr     string
	RedisPassword string

	JWTSigningKey string `validate:"required"`

	AuctionExtendSeconds         int `validate:"gt=0"`
	AuctionExtendThresholdSecond int `validate:"gt=0"`
	AuctionMinIncrement          string
	PlatformFeeBps               int `validate:"gte=0,lte=10000"`

	OrderPaymentWindowSeconds int `validate:"gt=0"`

	MessageRateLimit  int `validate:"gt=0"`
	MessageRateWindow time.Duration
	MessageMaxLen     int `validate:"gt=0"`

	SubscriberQueueMax    int `validate:"gt=0"`
	SubscriberIdleSeconds int `validate:"gt=0"`

	SchedulerPollInterval time.Duration
	SchedulerLeaseSeconds int `validate:"gt=0"`
	SchedulerMaxRetries   int `validate:"gt=0"`

	StripeAPIKey        string
	PayPalClientID      string
	PayPalClientSecret  string
	PayPalBaseURL       string

	CORSOrigin string

	PrometheusEnabled bool
}

// Load reads .env (if present, ignored if missing), applies defaults
// matching the rest of the corpus's getEnv(key, default) idiom, and
// validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                         getEnv("PORT", "8080"),
		DatabaseURL:                  getEnv("DATABASE_URL", ""),
		MigrationsDir:                getEnv("MIGRATIONS_DIR", "migrations"),
		RedisAddr:                    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:                getEnv("REDIS_PASSWORD", ""),
		JWTSigningKey:                getEnv("JWT_SIGNING_KEY", ""),
		AuctionExtendSeconds:         getEnvInt("AUCTION_EXTEND_SECONDS", 30),
		AuctionExtendThresholdSecond: getEnvInt("AUCTION_EXTEND_THRESHOLD_SECONDS", 30),
		AuctionMinIncrement:          getEnv("AUCTION_MIN_INCREMENT", "1.00"),
		PlatformFeeBps:               getEnvInt("PLATFORM_FEE_BPS", 700),
		OrderPaymentWindowSeconds:    getEnvInt("ORDER_PAYMENT_WINDOW_SECONDS", 172800),
		MessageRateLimit:             getEnvInt("MESSAGE_RATE_LIMIT", 10),
		MessageRateWindow:            time.Duration(getEnvInt("MESSAGE_RATE_WINDOW_SECONDS", 60)) * time.Second,
		MessageMaxLen:                getEnvInt("MESSAGE_MAX_LEN", 500),
		SubscriberQueueMax:           getEnvInt("SUBSCRIBER_QUEUE_MAX", 256),
		SubscriberIdleSeconds:        getEnvInt("SUBSCRIBER_IDLE_SECONDS", 30),
		SchedulerPollInterval:        time.Duration(getEnvInt("SCHEDULER_POLL_MS", 500)) * time.Millisecond,
		SchedulerLeaseSeconds:        getEnvInt("SCHEDULER_LEASE_SECONDS", 60),
		SchedulerMaxRetries:          getEnvInt("SCHEDULER_MAX_RETRIES", 10),
		StripeAPIKey:                 getEnv("STRIPE_API_KEY", ""),
		PayPalClientID:               getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret:           getEnv("PAYPAL_CLIENT_SECRET", ""),
		PayPalBaseURL:                getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
		CORSOrigin:                   getEnv("CORS_ORIGIN", "http://localhost:3000"),
		PrometheusEnabled:            getEnvBool("PROM_EXPORTER_ENABLED", false),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v == "true" || v == "1"
}

package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env             string
	LogLevel        string
	Port            uint16
	AppURL          string
	DatabaseUrl     string
	RedisURL        string
	NatsURL         string
	CartTTL         time.Duration
	Currency        string
	PaymentProvider string
	Paystack        PaystackConfig
	Stripe          StripeConfig
	Email           EmailConfig
	Sentry          SentryConfig
	RateLimit       RateLimitConfig
	CORS            CORSConfig
	Worker          WorkerConfig
}

// PaystackConfig holds the default payment provider's credentials.
type PaystackConfig struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type EmailConfig struct {
	Host     string
	Port     uint16
	Username string
	Password string
	From     string
	FromName string
}

// SentryConfig holds configuration for Sentry error tracking
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type CORSConfig struct {
	// AllowedOrigins is a comma separated list. "*" allows any origin.
	AllowedOrigins []string
}

type WorkerConfig struct {
	RelayInterval   time.Duration
	CleanupInterval time.Duration
	BatchSize       int
	MetricsAddr     string
}

func NewConfig() (*Config, error) {
	// Try to load .env from current directory, then walk up to find it (max 2 levels)
	err := godotenv.Load()
	if err != nil {
		dir, _ := os.Getwd()
		found := false
		for i := 0; i < 2; i++ {
			dir = filepath.Join(dir, "..")
			if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
				found = true
				break
			}
		}
		if !found {
			slog.Default().Warn("Warning: .env file not found, using environment variables and defaults")
		}
	}

	cfg := &Config{
		Env:             getEnv("ENV", "dev"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Port:            getEnvInt("PORT", 3000),
		AppURL:          strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),
		DatabaseUrl:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		NatsURL:         getEnv("NATS_URL", ""),
		CartTTL:         getEnvDuration("CART_TTL", 30*24*time.Hour),
		Currency:        strings.ToUpper(getEnv("CURRENCY", "GHS")),
		PaymentProvider: strings.ToLower(getEnv("PAYMENT_PROVIDER", "paystack")),
		Paystack: PaystackConfig{
			SecretKey: getEnv("PAYSTACK_SECRET_KEY", ""),
			BaseURL:   getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			Timeout:   getEnvDuration("PAYMENT_TIMEOUT", 30*time.Second),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Email: EmailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 1025),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "orders@aroma.local"),
			FromName: getEnv("EMAIL_FROM_NAME", "Aroma"),
		},
		Sentry: SentryConfig{
			DSN:         getEnv("SENTRY_DSN", ""),
			Environment: getEnv("SENTRY_ENVIRONMENT", "development"),
			Release:     getEnv("SENTRY_RELEASE", ""),
			SampleRate:  getEnvFloat("SENTRY_SAMPLE_RATE", 1.0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 10),
			Burst:             int(getEnvInt("RATE_LIMIT_BURST", 20)),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		},
		Worker: WorkerConfig{
			RelayInterval:   getEnvDuration("WORKER_RELAY_INTERVAL", 5*time.Second),
			CleanupInterval: getEnvDuration("WORKER_CLEANUP_INTERVAL", time.Hour),
			BatchSize:       int(getEnvInt("WORKER_BATCH_SIZE", 100)),
			MetricsAddr:     getEnv("WORKER_METRICS_ADDR", ":9091"),
		},
	}

	// Validate env
	validEnv := cfg.Env == "dev" || cfg.Env == "prod"
	if !validEnv {
		slog.Default().Warn("Invalid environment. Using default: prod", slog.String("env", cfg.Env))
		cfg.Env = "prod"
	}

	// Validate log level
	validLevel := cfg.LogLevel == "info" || cfg.LogLevel == "debug" || cfg.LogLevel == "warn" || cfg.LogLevel == "error"
	if !validLevel {
		slog.Default().Warn("Invalid log level. Using default: info", slog.String("value", cfg.LogLevel))
		cfg.LogLevel = "info"
	}

	if cfg.PaymentProvider != "paystack" && cfg.PaymentProvider != "stripe" {
		return nil, fmt.Errorf("PAYMENT_PROVIDER must be paystack or stripe, got %q", cfg.PaymentProvider)
	}

	if len(cfg.Currency) != 3 {
		return nil, fmt.Errorf("CURRENCY must be a three letter ISO code, got %q", cfg.Currency)
	}

	if cfg.RateLimit.RequestsPerSecond <= 0 || cfg.RateLimit.Burst <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	// A missing secret does not stop the server; checkout reports it per request.
	if cfg.Env == "prod" && cfg.ProviderSecret() == "" {
		slog.Default().Warn("Payment provider secret not set; checkout will fail", slog.String("provider", cfg.PaymentProvider))
	}

	return cfg, nil
}

// ProviderSecret returns the API secret of the selected payment provider.
func (c *Config) ProviderSecret() string {
	if c.PaymentProvider == "stripe" {
		return c.Stripe.SecretKey
	}
	return c.Paystack.SecretKey
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue uint16) uint16 {
	if value := os.Getenv(key); value != "" {
		var intValue uint16
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var floatValue float64
		if _, err := fmt.Sscanf(value, "%f", &floatValue); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

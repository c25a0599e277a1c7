package internal

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("PAYMENT_PROVIDER", "")
	t.Setenv("CURRENCY", "")
	t.Setenv("CART_TTL", "")
	t.Setenv("PAYMENT_TIMEOUT", "")
	t.Setenv("RATE_LIMIT_RPS", "")
	t.Setenv("RATE_LIMIT_BURST", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "paystack", cfg.PaymentProvider)
	assert.Equal(t, "GHS", cfg.Currency)
	assert.Equal(t, 30*24*time.Hour, cfg.CartTTL)
	assert.Equal(t, 30*time.Second, cfg.Paystack.Timeout)
	assert.Equal(t, 10.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Empty(t, cfg.CORS.AllowedOrigins)
}

func TestNewConfig_Overrides(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("PAYMENT_PROVIDER", "Stripe")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("CURRENCY", "ngn")
	t.Setenv("CART_TTL", "48h")
	t.Setenv("APP_URL", "https://shop.example.com/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "stripe", cfg.PaymentProvider)
	assert.Equal(t, "sk_test_123", cfg.ProviderSecret())
	assert.Equal(t, "NGN", cfg.Currency)
	assert.Equal(t, 48*time.Hour, cfg.CartTTL)
	assert.Equal(t, "https://shop.example.com", cfg.AppURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown provider", "PAYMENT_PROVIDER", "paypal"},
		{"bad currency", "CURRENCY", "CEDI"},
		{"zero rate", "RATE_LIMIT_RPS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "prod", "warn")

	logger.Info("hidden")
	logger.Warn("shown", "cart", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "abc", entry["cart"])

	_, err := time.Parse(time.RFC3339Nano, entry["time"].(string))
	assert.NoError(t, err)
}

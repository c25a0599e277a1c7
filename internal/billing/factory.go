package billing

import (
	"fmt"
	"net/http"
	"time"
)

// Provider names accepted by NewProvider.
const (
	ProviderNamePaystack = "paystack"
	ProviderNameStripe   = "stripe"
)

// ProviderConfig carries the settings for every supported provider; only the
// selected provider's fields are read.
type ProviderConfig struct {
	Name string

	PaystackSecretKey string
	PaystackBaseURL   string

	StripeSecretKey     string
	StripeWebhookSecret string

	Timeout   time.Duration
	Transport http.RoundTripper
}

// NewProvider creates the provider named in cfg. Missing credentials are not
// an error here; the provider reports ErrNotConfigured when used.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case ProviderNamePaystack, "":
		return NewPaystackProvider(PaystackConfig{
			SecretKey: cfg.PaystackSecretKey,
			BaseURL:   cfg.PaystackBaseURL,
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		}), nil
	case ProviderNameStripe:
		return NewStripeProvider(StripeConfig{
			APIKey:        cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		}), nil
	default:
		return nil, fmt.Errorf("unknown payment provider: %q", cfg.Name)
	}
}

// TestMode reports whether p is using test credentials.
func TestMode(p Provider) bool {
	switch p := p.(type) {
	case *PaystackProvider:
		return p.config.IsTestMode()
	case *StripeProvider:
		return p.config.IsTestMode()
	}
	return true
}

package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	// DefaultPaystackBaseURL is Paystack's production API.
	DefaultPaystackBaseURL = "https://api.paystack.co"

	paystackSignatureHeader = "x-paystack-signature"
	paystackMaxBody         = 1 << 20
)

// PaystackConfig contains configuration for the Paystack provider.
type PaystackConfig struct {
	// SecretKey is the Paystack secret key (sk_test_... or sk_live_...).
	// It authenticates API calls and signs webhooks.
	SecretKey string

	// BaseURL overrides the API root. Default: DefaultPaystackBaseURL.
	BaseURL string

	// Timeout bounds every API call. Default: 30s.
	Timeout time.Duration

	// Transport is the round tripper for API calls. Default: http.DefaultTransport.
	Transport http.RoundTripper
}

// IsTestMode returns true if using test mode API keys.
func (c *PaystackConfig) IsTestMode() bool {
	return strings.HasPrefix(c.SecretKey, "sk_test_")
}

// PaystackProvider implements Provider against the Paystack transactions API.
type PaystackProvider struct {
	config  PaystackConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[json.RawMessage]
}

var _ Provider = (*PaystackProvider)(nil)

// NewPaystackProvider creates a Paystack provider. A provider with an empty
// secret key is valid but every call returns ErrNotConfigured.
func NewPaystackProvider(cfg PaystackConfig) *PaystackProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPaystackBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}

	return &PaystackProvider{
		config: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		breaker: gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
			Name:        "paystack",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: breakerSuccess,
		}),
	}
}

// Name implements Provider.
func (p *PaystackProvider) Name() string { return "paystack" }

// SignatureHeader implements Provider.
func (p *PaystackProvider) SignatureHeader() string { return paystackSignatureHeader }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitializeRequest struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type paystackInitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackTransaction struct {
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	GatewayResponse string          `json:"gateway_response"`
	PaidAt          *time.Time      `json:"paid_at"`
	Metadata        json.RawMessage `json:"metadata"`
	Customer        struct {
		Email string `json:"email"`
	} `json:"customer"`
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID        json.RawMessage `json:"id"`
		Reference string          `json:"reference"`
		Status    string          `json:"status"`
	} `json:"data"`
}

// InitializeTransaction calls POST /transaction/initialize.
func (p *PaystackProvider) InitializeTransaction(ctx context.Context, params InitializeParams) (*Transaction, error) {
	if params.AmountMinorUnits <= 0 {
		return nil, &ProviderError{Provider: p.Name(), StatusCode: http.StatusBadRequest, Message: "amount must be positive"}
	}

	raw, err := p.do(ctx, http.MethodPost, "/transaction/initialize", paystackInitializeRequest{
		Email:       params.Email,
		Amount:      params.AmountMinorUnits,
		Currency:    strings.ToUpper(params.Currency),
		CallbackURL: params.CallbackURL,
		Metadata:    params.Metadata,
	})
	if err != nil {
		return nil, err
	}

	var data paystackInitializeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("paystack: failed to decode initialize response: %w", err)
	}
	if data.Reference == "" || data.AuthorizationURL == "" {
		return nil, &ProviderError{Provider: p.Name(), StatusCode: http.StatusBadGateway, Message: "initialize response missing reference"}
	}

	return &Transaction{
		Reference:        data.Reference,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Status:           StatusPending,
		AmountMinorUnits: params.AmountMinorUnits,
		Currency:         strings.ToUpper(params.Currency),
		CustomerEmail:    params.Email,
		Metadata:         params.Metadata,
	}, nil
}

// VerifyTransaction calls GET /transaction/verify/{reference}.
func (p *PaystackProvider) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	raw, err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && (pe.StatusCode == http.StatusNotFound || strings.Contains(strings.ToLower(pe.Message), "not found")) {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
		}
		return nil, err
	}

	var data paystackTransaction
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("paystack: failed to decode verify response: %w", err)
	}

	tx := &Transaction{
		Reference:        data.Reference,
		Status:           TransactionStatus(strings.ToLower(data.Status)),
		AmountMinorUnits: data.Amount,
		Currency:         strings.ToUpper(data.Currency),
		CustomerEmail:    data.Customer.Email,
		GatewayResponse:  data.GatewayResponse,
		Metadata:         decodePaystackMetadata(data.Metadata),
	}
	if tx.Reference == "" {
		tx.Reference = reference
	}
	if data.PaidAt != nil {
		tx.PaidAt = *data.PaidAt
	}
	return tx, nil
}

// ParseWebhook verifies the HMAC-SHA512 signature Paystack computes over the
// raw body with the secret key, then decodes the event.
func (p *PaystackProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if p.config.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	if !validPaystackSignature(payload, signature, p.config.SecretKey) {
		return nil, ErrInvalidWebhookSignature
	}

	var ev paystackEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("paystack: failed to decode webhook: %w", err)
	}

	return &WebhookEvent{
		ID:        strings.Trim(string(ev.Data.ID), `"`),
		Type:      ev.Event,
		Reference: ev.Data.Reference,
		Settles:   ev.Event == "charge.success",
	}, nil
}

// SignPaystackPayload returns the signature Paystack would send for payload.
func SignPaystackPayload(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func validPaystackSignature(payload []byte, signature, secret string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(SignPaystackPayload(payload, secret))
	return hmac.Equal(got, want)
}

// do performs an authenticated call through the circuit breaker and returns
// the envelope's data on success.
func (p *PaystackProvider) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	if p.config.SecretKey == "" {
		return nil, ErrNotConfigured
	}

	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("paystack: failed to encode request: %w", err)
		}
		body = b
	}

	data, err := p.breaker.Execute(func() (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, method, p.config.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("paystack: failed to build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+p.config.SecretKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, paystackMaxBody))
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
		}

		var env paystackEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, &ProviderError{
				Provider:      p.Name(),
				StatusCode:    resp.StatusCode,
				Message:       "unexpected response: " + http.StatusText(resp.StatusCode),
				OriginalError: err,
			}
		}

		if resp.StatusCode >= 400 || !env.Status {
			status := resp.StatusCode
			if status < 400 {
				status = http.StatusBadRequest
			}
			return nil, &ProviderError{Provider: p.Name(), StatusCode: status, Message: env.Message}
		}

		return env.Data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return data, err
}

// breakerSuccess keeps rejections and caller cancellations from tripping
// the breaker; only transport failures and provider 5xx count.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return !pe.IsTemporary()
	}
	return false
}

// decodePaystackMetadata accepts metadata as an object or as a JSON string
// holding an object; Paystack echoes back whichever form it was given.
func decodePaystackMetadata(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		raw = []byte(s)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

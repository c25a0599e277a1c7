package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaystack(t *testing.T, handler http.HandlerFunc) *PaystackProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewPaystackProvider(PaystackConfig{
		SecretKey: "sk_test_secret",
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
	})
}

func TestPaystack_InitializeTransaction(t *testing.T) {
	var got paystackInitializeRequest
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = io.WriteString(w, `{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"ref_123"}}`)
	})

	tx, err := p.InitializeTransaction(context.Background(), InitializeParams{
		Email:            "ama@example.com",
		AmountMinorUnits: 4500,
		Currency:         "ghs",
		CallbackURL:      "https://shop.example/success",
		Metadata:         map[string]any{"cart_token": "tok"},
	})

	require.NoError(t, err)
	assert.Equal(t, "ref_123", tx.Reference)
	assert.Equal(t, "https://checkout.paystack.com/abc", tx.AuthorizationURL)
	assert.Equal(t, "abc", tx.AccessCode)
	assert.Equal(t, int64(4500), got.Amount)
	assert.Equal(t, "GHS", got.Currency)
	assert.Equal(t, "ama@example.com", got.Email)
	assert.Equal(t, "tok", got.Metadata["cart_token"])
}

func TestPaystack_InitializeTransaction_Rejected(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"status":false,"message":"Invalid Email Address Passed"}`)
	})

	_, err := p.InitializeTransaction(context.Background(), InitializeParams{Email: "bad", AmountMinorUnits: 100, Currency: "GHS"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.IsRejection())
	assert.Equal(t, "Invalid Email Address Passed", pe.Message)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestPaystack_NotConfigured(t *testing.T) {
	p := NewPaystackProvider(PaystackConfig{})

	_, err := p.InitializeTransaction(context.Background(), InitializeParams{Email: "a@b.c", AmountMinorUnits: 100})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = p.VerifyTransaction(context.Background(), "ref")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = p.ParseWebhook([]byte(`{}`), "sig")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestPaystack_VerifyTransaction(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/transaction/verify/ref_123", r.URL.Path)

		_, _ = io.WriteString(w, `{"status":true,"message":"Verification successful","data":{
			"reference":"ref_123","status":"success","amount":4500,"currency":"GHS",
			"gateway_response":"Approved","paid_at":"2026-03-01T10:00:00.000Z",
			"customer":{"email":"ama@example.com"},
			"metadata":{"cart_items":[{"kind":"product","product_id":5,"quantity":2}]}}}`)
	})

	tx, err := p.VerifyTransaction(context.Background(), "ref_123")

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, tx.Status)
	assert.True(t, tx.Status.Succeeded())
	assert.Equal(t, int64(4500), tx.AmountMinorUnits)
	assert.Equal(t, "ama@example.com", tx.CustomerEmail)
	assert.Equal(t, "Approved", tx.GatewayResponse)
	assert.Contains(t, tx.Metadata, "cart_items")
	assert.Equal(t, 2026, tx.PaidAt.Year())
}

func TestPaystack_VerifyTransaction_StringMetadata(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":true,"message":"ok","data":{"reference":"r","status":"failed","amount":100,"currency":"GHS","customer":{"email":"x@y.z"},"metadata":"{\"full_name\":\"Ama\"}"}}`)
	})

	tx, err := p.VerifyTransaction(context.Background(), "r")

	require.NoError(t, err)
	assert.True(t, tx.Status.Failed())
	assert.Equal(t, "Ama", tx.Metadata["full_name"])
}

func TestPaystack_VerifyTransaction_NotFound(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"status":false,"message":"Transaction reference not found"}`)
	})

	_, err := p.VerifyTransaction(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestPaystack_ServerErrorIsUnavailable(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `<html>bad gateway</html>`)
	})

	_, err := p.VerifyTransaction(context.Background(), "ref")

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.IsTemporary())
}

func TestPaystack_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	p := NewPaystackProvider(PaystackConfig{SecretKey: "sk_test_x", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := p.VerifyTransaction(context.Background(), "ref")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPaystack_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"status":false,"message":"boom"}`)
	})

	for i := 0; i < 5; i++ {
		_, err := p.VerifyTransaction(context.Background(), "ref")
		require.Error(t, err)
	}

	_, err := p.VerifyTransaction(context.Background(), "ref")

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), hits.Load(), "open breaker must not reach the provider")
}

func TestPaystack_RejectionsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"status":false,"message":"Invalid key"}`)
	})

	for i := 0; i < 8; i++ {
		_, _ = p.InitializeTransaction(context.Background(), InitializeParams{Email: "a@b.c", AmountMinorUnits: 100})
	}

	assert.Equal(t, int32(8), hits.Load())
}

func TestPaystack_ParseWebhook(t *testing.T) {
	p := NewPaystackProvider(PaystackConfig{SecretKey: "sk_test_secret"})
	payload := []byte(`{"event":"charge.success","data":{"id":302961,"reference":"ref_123","status":"success"}}`)

	t.Run("valid signature", func(t *testing.T) {
		ev, err := p.ParseWebhook(payload, SignPaystackPayload(payload, "sk_test_secret"))

		require.NoError(t, err)
		assert.Equal(t, "charge.success", ev.Type)
		assert.Equal(t, "ref_123", ev.Reference)
		assert.Equal(t, "302961", ev.ID)
		assert.True(t, ev.Settles)
	})

	t.Run("signature from another key", func(t *testing.T) {
		_, err := p.ParseWebhook(payload, SignPaystackPayload(payload, "sk_test_other"))
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := SignPaystackPayload(payload, "sk_test_secret")
		_, err := p.ParseWebhook([]byte(`{"event":"charge.success","data":{"reference":"other"}}`), sig)
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := p.ParseWebhook(payload, "")
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	})

	t.Run("non-settling event", func(t *testing.T) {
		other := []byte(`{"event":"transfer.success","data":{"reference":"t_1"}}`)
		ev, err := p.ParseWebhook(other, SignPaystackPayload(other, "sk_test_secret"))
		require.NoError(t, err)
		assert.False(t, ev.Settles)
	})
}

func TestPaystackConfig_IsTestMode(t *testing.T) {
	assert.True(t, (&PaystackConfig{SecretKey: "sk_test_abc"}).IsTestMode())
	assert.False(t, (&PaystackConfig{SecretKey: "sk_live_abc"}).IsTestMode())
}

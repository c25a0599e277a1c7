// Package billing talks to hosted payment providers.
//
// A Provider registers a transaction for an amount, later reports what the
// shopper actually paid, and authenticates the provider's webhook pushes.
// Amounts are always integer minor units (pesewas, kobo, cents).
package billing

import (
	"context"
	"time"
)

// Provider defines the interface for hosted payment pages.
type Provider interface {
	// Name identifies the provider in logs, metrics and stored sessions.
	Name() string

	// InitializeTransaction registers a payment and returns the provider's
	// reference and the URL the shopper is redirected to.
	InitializeTransaction(ctx context.Context, params InitializeParams) (*Transaction, error)

	// VerifyTransaction fetches the provider's authoritative view of a
	// transaction. Returns ErrTransactionNotFound for unknown references.
	VerifyTransaction(ctx context.Context, reference string) (*Transaction, error)

	// ParseWebhook authenticates a webhook body against its signature header
	// value and extracts the event.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)

	// SignatureHeader is the HTTP header carrying the webhook signature.
	SignatureHeader() string
}

// InitializeParams contains parameters for registering a payment.
type InitializeParams struct {
	Email            string
	AmountMinorUnits int64
	Currency         string
	CallbackURL      string

	// Metadata is attached to the transaction and echoed back on verify.
	Metadata map[string]any
}

// TransactionStatus is the provider's view of a payment.
type TransactionStatus string

const (
	StatusSuccess   TransactionStatus = "success"
	StatusFailed    TransactionStatus = "failed"
	StatusReversed  TransactionStatus = "reversed"
	StatusAbandoned TransactionStatus = "abandoned"
	StatusPending   TransactionStatus = "pending"
)

// Succeeded reports whether the shopper has paid.
func (s TransactionStatus) Succeeded() bool {
	return s == StatusSuccess
}

// Failed reports whether the payment can no longer succeed.
// Abandoned and pending payments may still complete.
func (s TransactionStatus) Failed() bool {
	return s == StatusFailed || s == StatusReversed
}

// Transaction is a provider-side payment.
type Transaction struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string

	Status           TransactionStatus
	AmountMinorUnits int64
	Currency         string
	CustomerEmail    string
	GatewayResponse  string
	Metadata         map[string]any
	PaidAt           time.Time
}

// WebhookEvent is an authenticated provider push.
type WebhookEvent struct {
	ID        string
	Type      string
	Reference string

	// Settles is true when the event reports a completed payment.
	Settles bool
}

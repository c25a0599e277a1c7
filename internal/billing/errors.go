package billing

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured is returned when provider credentials are missing.
	ErrNotConfigured = errors.New("billing: provider credentials not configured")

	// ErrTransactionNotFound is returned when a reference is unknown to the provider.
	ErrTransactionNotFound = errors.New("billing: transaction not found")

	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrUnavailable is returned when the provider cannot be reached, times
	// out, or the circuit breaker is open.
	ErrUnavailable = errors.New("billing: provider unavailable")
)

// ProviderError wraps an error response from a provider API.
type ProviderError struct {
	Provider      string // provider name
	StatusCode    int    // HTTP status returned by the provider
	Message       string // provider's human-readable message
	Code          string // provider error code, if any
	OriginalError error  // underlying SDK error, if any
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (status: %d, code: %s)", e.Provider, e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s: %s (status: %d)", e.Provider, e.Message, e.StatusCode)
}

func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// IsTemporary returns true if the error is likely transient and retryable.
func (e *ProviderError) IsTemporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsRejection returns true if the provider refused the request as invalid.
func (e *ProviderError) IsRejection() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && !e.IsTemporary()
}

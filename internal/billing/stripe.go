package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v83"
	checkoutsession "github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/webhook"
)

// StripeConfig contains configuration for the Stripe provider.
type StripeConfig struct {
	// APIKey is the Stripe secret key (sk_test_... or sk_live_...)
	APIKey string

	// WebhookSecret is the webhook signing secret (whsec_...)
	WebhookSecret string

	// ProductName labels the single line shown on the hosted page.
	ProductName string
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_")
}

// StripeProvider implements Provider using Stripe Checkout Sessions.
// The session ID is the transaction reference.
type StripeProvider struct {
	config   StripeConfig
	sessions *checkoutsession.Client
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider creates a Stripe billing provider. Calls made without an
// API key return ErrNotConfigured.
func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	if cfg.ProductName == "" {
		cfg.ProductName = "Order"
	}
	return &StripeProvider{
		config: cfg,
		sessions: &checkoutsession.Client{
			B:   stripe.GetBackend(stripe.APIBackend),
			Key: cfg.APIKey,
		},
	}
}

// Name implements Provider.
func (s *StripeProvider) Name() string { return "stripe" }

// SignatureHeader implements Provider.
func (s *StripeProvider) SignatureHeader() string { return "Stripe-Signature" }

// InitializeTransaction creates a payment-mode Checkout Session for the amount.
func (s *StripeProvider) InitializeTransaction(ctx context.Context, params InitializeParams) (*Transaction, error) {
	if s.config.APIKey == "" {
		return nil, ErrNotConfigured
	}

	successURL := params.CallbackURL
	if strings.Contains(successURL, "?") {
		successURL += "&reference={CHECKOUT_SESSION_ID}"
	} else {
		successURL += "?reference={CHECKOUT_SESSION_ID}"
	}

	sp := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(params.Email),
		SuccessURL:    stripe.String(successURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(params.Currency)),
					UnitAmount: stripe.Int64(params.AmountMinorUnits),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(s.config.ProductName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	sp.Context = ctx
	for k, v := range stripeMetadata(params.Metadata) {
		sp.AddMetadata(k, v)
	}

	sess, err := s.sessions.New(sp)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &Transaction{
		Reference:        sess.ID,
		AuthorizationURL: sess.URL,
		Status:           StatusPending,
		AmountMinorUnits: params.AmountMinorUnits,
		Currency:         strings.ToUpper(params.Currency),
		CustomerEmail:    params.Email,
		Metadata:         params.Metadata,
	}, nil
}

// VerifyTransaction retrieves the Checkout Session and maps its payment status.
func (s *StripeProvider) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	if s.config.APIKey == "" {
		return nil, ErrNotConfigured
	}

	gp := &stripe.CheckoutSessionParams{}
	gp.Context = ctx

	sess, err := s.sessions.Get(reference, gp)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
		}
		return nil, wrapStripeError(err)
	}

	tx := &Transaction{
		Reference:        sess.ID,
		AuthorizationURL: sess.URL,
		Status:           stripeSessionStatus(sess),
		AmountMinorUnits: sess.AmountTotal,
		Currency:         strings.ToUpper(string(sess.Currency)),
		CustomerEmail:    sess.CustomerEmail,
	}
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		tx.CustomerEmail = sess.CustomerDetails.Email
	}
	if len(sess.Metadata) > 0 {
		tx.Metadata = make(map[string]any, len(sess.Metadata))
		for k, v := range sess.Metadata {
			tx.Metadata[k] = v
		}
	}
	return tx, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (s *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if s.config.WebhookSecret == "" {
		return nil, ErrNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.config.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWebhookSignature, err)
	}

	ev := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil {
		if id, ok := event.Data.Object["id"].(string); ok {
			ev.Reference = id
		}
		if event.Type == "checkout.session.completed" {
			status, _ := event.Data.Object["payment_status"].(string)
			ev.Settles = status == string(stripe.CheckoutSessionPaymentStatusPaid)
		}
	}
	return ev, nil
}

func stripeSessionStatus(sess *stripe.CheckoutSession) TransactionStatus {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return StatusSuccess
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return StatusFailed
	case sess.Status == stripe.CheckoutSessionStatusOpen:
		return StatusAbandoned
	default:
		return StatusPending
	}
}

// stripeMetadata keeps the string-valued top-level keys; Stripe metadata is
// a flat string map.
func stripeMetadata(in map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range in {
		if s, ok := v.(string); ok && s != "" && len(s) <= 500 {
			out[k] = s
		}
	}
	return out
}

func wrapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	pe := &ProviderError{
		Provider:      "stripe",
		StatusCode:    se.HTTPStatusCode,
		Message:       se.Msg,
		Code:          string(se.Code),
		OriginalError: err,
	}
	if pe.StatusCode == 0 || pe.IsTemporary() {
		return fmt.Errorf("%w: %w", ErrUnavailable, pe)
	}
	return pe
}

package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CHECKOUT DOMAIN ERRORS
// =============================================================================

var (
	ErrEmptyCart              = &Error{Code: EINVALID, Message: "Cart is empty"}
	ErrPaymentNotConfigured   = &Error{Code: EINTERNAL, Message: "Payment provider is not configured"}
	ErrPaymentSessionNotFound = &Error{Code: ENOTFOUND, Message: "Payment session not found"}
	ErrInvalidSignature       = &Error{Code: EUNAUTHORIZED, Message: "Invalid webhook signature"}
)

// SettlementState tracks a payment session from initiation to a terminal state.
type SettlementState string

const (
	SettlementInitiated SettlementState = "initiated"
	SettlementVerifying SettlementState = "verifying"
	SettlementSettled   SettlementState = "settled"
	SettlementFailed    SettlementState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s SettlementState) Terminal() bool {
	return s == SettlementSettled || s == SettlementFailed
}

// PaymentSession is one checkout attempt registered with the payment provider.
// Everything except State is immutable after creation.
type PaymentSession struct {
	Reference        string
	Provider         string
	AuthorizationURL string
	AccessCode       string

	CartID           uuid.UUID
	Email            string
	AmountMinorUnits int64
	Currency         string
	CallbackURL      string
	Metadata         SessionMetadata

	State     SettlementState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionMetadata is the snapshot taken when a payment session is initiated.
type SessionMetadata struct {
	CartToken       string         `json:"cart_token,omitempty"`
	FullName        string         `json:"full_name,omitempty"`
	Phone           string         `json:"phone,omitempty"`
	ShippingAddress string         `json:"shipping_address,omitempty"`
	PromoCode       string         `json:"promo_code,omitempty"`
	Items           []SessionItem  `json:"cart_items"`
	Client          map[string]any `json:"client,omitempty"`
}

// SessionItem is a cart line as recorded in session metadata.
type SessionItem struct {
	Kind      ProductKind     `json:"kind"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
}

// OrderItems converts the snapshot into order item snapshots.
func (m SessionMetadata) OrderItems() []OrderItem {
	items := make([]OrderItem, 0, len(m.Items))
	for _, it := range m.Items {
		items = append(items, OrderItem{
			Reference:   ProductReference{Kind: it.Kind, ID: it.ProductID},
			ProductName: it.Name,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			Size:        it.Size,
			Subtotal:    it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))),
		})
	}
	return items
}

// PaymentSessionStore persists payment sessions.
type PaymentSessionStore interface {
	CreatePaymentSession(ctx context.Context, session *PaymentSession) error

	// GetPaymentSession returns ErrPaymentSessionNotFound when none exists.
	GetPaymentSession(ctx context.Context, reference string) (*PaymentSession, error)

	// UpdateSettlementState moves a session to state. Terminal states are never left.
	UpdateSettlementState(ctx context.Context, reference string, state SettlementState) error
}

// =============================================================================
// SETTLEMENT SERVICE
// =============================================================================

// InitializeRequest carries the shopper's checkout form.
type InitializeRequest struct {
	CartToken       string `json:"-"`
	Email           string `json:"email" validate:"required,email"`
	FullName        string `json:"full_name" validate:"omitempty,max=255"`
	Phone           string `json:"phone" validate:"omitempty,max=32"`
	ShippingAddress string `json:"shipping_address" validate:"required,max=1000"`
	Currency        string `json:"currency" validate:"omitempty,len=3,alpha"`
	CallbackURL     string `json:"callback_url" validate:"omitempty,url"`

	// ClientAmount is what the client believes the total is. It is never used
	// for charging.
	ClientAmount decimal.NullDecimal `json:"amount"`

	// Metadata is stored verbatim alongside the server-side snapshot.
	Metadata map[string]any `json:"metadata"`
}

// InitializeResult is returned to the client so it can redirect to the provider.
type InitializeResult struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
	AmountMinorUnits int64
	Currency         string
}

// VerifyStatus is the outward result of a verification.
type VerifyStatus string

const (
	VerifySuccess VerifyStatus = "success"
	VerifyFailed  VerifyStatus = "failed"
)

// VerifyResult reports the outcome of settling a reference.
type VerifyResult struct {
	Status  VerifyStatus
	Message string
	Order   *Order
}

// SettlementService turns confirmed payments into orders.
type SettlementService interface {
	// Initialize registers a payment for the cart's current total.
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error)

	// Verify settles reference. Safe to call any number of times.
	Verify(ctx context.Context, reference string) (*VerifyResult, error)

	// GetOrder looks up an order by its number.
	GetOrder(ctx context.Context, orderNumber string) (*Order, error)

	// HandleWebhook authenticates a provider push notification and settles
	// the reference it confirms.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)
}

// WebhookResult reports what a provider notification did.
type WebhookResult struct {
	EventType string

	// Settled is nil for events that do not confirm a payment.
	Settled *VerifyResult
}

package domain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ORDER DOMAIN ERRORS
// =============================================================================

var (
	ErrOrderNotFound = &Error{Code: ENOTFOUND, Message: "Order not found"}
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order is created exactly once per payment reference by settlement.
type Order struct {
	ID               uuid.UUID
	OrderNumber      string
	PaymentReference string
	Status           OrderStatus

	Email           string
	FullName        string
	Phone           string
	ShippingAddress string

	Currency    string
	PromoCode   string
	TotalAmount decimal.Decimal
	Items       []OrderItem

	CreatedAt time.Time
}

// OrderItem is a line snapshot taken when the order was created.
type OrderItem struct {
	Reference   ProductReference
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	Size        string
	Subtotal    decimal.Decimal
}

// OrderStore persists orders.
type OrderStore interface {
	// GetOrderByPaymentReference returns ErrOrderNotFound when none exists.
	GetOrderByPaymentReference(ctx context.Context, reference string) (*Order, error)

	// GetOrderByNumber returns ErrOrderNotFound when none exists.
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)

	// CreateOrder inserts order unless one already exists for its payment
	// reference, in which case the existing order is returned with created=false.
	// When the order is inserted the same transaction also marks the payment
	// session settled, counts a use of the order's promo code, and records event.
	CreateOrder(ctx context.Context, order *Order, event *OutboxEvent) (stored *Order, created bool, err error)
}

// NewOrderNumber returns an order number of the form ORD-YYYYMMDDHHMMSS-XXXXXX.
func NewOrderNumber(now time.Time) string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("order number entropy: %v", err))
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102150405"), strings.ToUpper(hex.EncodeToString(b)))
}

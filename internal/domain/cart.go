package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/aroma/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CART DOMAIN ERRORS
// =============================================================================

var (
	ErrCartNotFound       = &Error{Code: ENOTFOUND, Message: "Cart not found"}
	ErrItemNotFound       = &Error{Code: ESTALE, Message: "Cart item not found"}
	ErrInvalidQuantity    = &Error{Code: EINVALID, Message: "Quantity must be greater than 0"}
	ErrInvalidReference   = &Error{Code: EINVALIDREF, Message: "A valid product, dupe, air ambience or perfume oil reference is required"}
	ErrInsufficientStock  = &Error{Code: EINVALID, Message: "Insufficient stock"}
	ErrPromoNotFound      = &Error{Code: ENOTFOUND, Message: "Promo code not found"}
	ErrPromoNotValid      = &Error{Code: ENOTFOUND, Message: "Promo code is not valid"}
	ErrPromoBelowMinimum  = &Error{Code: EINVALID, Message: "Order subtotal is below the promo code minimum"}
	ErrCatalogUnavailable = &Error{Code: EINTERNAL, Message: "Catalog lookup failed"}
)

// DefaultSize is the size variant used when an add request omits one.
const DefaultSize = "50ml"

// =============================================================================
// INTERFACES
// =============================================================================

// CartService is the cart aggregate as seen by transports.
// Every method resolves the token first; an unknown token yields a fresh cart
// and the returned token must replace the caller's copy.
type CartService interface {
	// Resolve returns the cart for token, minting a new empty cart if the
	// token is absent or no longer resolves.
	Resolve(ctx context.Context, token string) (*Cart, error)

	// AddItem adds a line or increases the quantity of a matching reference+size.
	AddItem(ctx context.Context, token string, req AddItemRequest) (*Cart, error)

	// UpdateQuantity replaces the quantity of an existing line.
	UpdateQuantity(ctx context.Context, token string, itemID int64, quantity int) (*Cart, error)

	// RemoveItem deletes a line.
	RemoveItem(ctx context.Context, token string, itemID int64) (*Cart, error)

	// Clear discards the cart and returns a fresh one under a new token.
	Clear(ctx context.Context, token string) (*Cart, error)

	// ApplyPromo attaches a currently valid promo code whose minimum is met.
	ApplyPromo(ctx context.Context, token string, code string) (*Cart, error)

	// RemovePromo detaches any promo code.
	RemovePromo(ctx context.Context, token string) (*Cart, error)
}

// CartStore persists carts. UpdateCart is the only write path for an existing
// cart and must serialize concurrent calls for the same token.
type CartStore interface {
	// CreateCart persists a new empty cart.
	CreateCart(ctx context.Context, cart *Cart) error

	// GetCart loads a live cart by token. Returns ErrCartNotFound for unknown
	// or expired tokens.
	GetCart(ctx context.Context, token string) (*Cart, error)

	// UpdateCart loads the cart under an exclusive lock, applies fn, and
	// persists the result atomically. New lines (ID 0) are assigned IDs.
	// If fn returns an error nothing is written.
	UpdateCart(ctx context.Context, token string, fn func(*Cart) error) (*Cart, error)

	// DeleteCart removes a cart and its lines. Deleting an unknown token is not an error.
	DeleteCart(ctx context.Context, token string) error

	// DeleteExpiredCarts removes carts whose expiry is before the cutoff.
	DeleteExpiredCarts(ctx context.Context, before time.Time) (int64, error)
}

// =============================================================================
// PROMO CODES
// =============================================================================

// PromoCode is a discount a shopper can attach to a cart.
type PromoCode struct {
	ID                    uuid.UUID
	Code                  string
	Description           string
	DiscountType          pricing.DiscountType
	DiscountValue         decimal.Decimal
	MinimumOrderAmount    decimal.Decimal
	MaximumDiscountAmount decimal.NullDecimal
	UsageLimit            *int
	TimesUsed             int
	ValidFrom             time.Time
	ValidUntil            *time.Time
	IsActive              bool
}

// NormalizePromoCode canonicalizes user input for lookup.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidAt reports whether the code may be applied at now.
func (p *PromoCode) IsValidAt(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if now.Before(p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return false
	}
	if p.UsageLimit != nil && p.TimesUsed >= *p.UsageLimit {
		return false
	}
	return true
}

// Discount returns the pricing view of the promo.
func (p *PromoCode) Discount() *pricing.Discount {
	if p == nil {
		return nil
	}
	return &pricing.Discount{
		Type:  p.DiscountType,
		Value: p.DiscountValue,
		Cap:   p.MaximumDiscountAmount,
	}
}

// =============================================================================
// CART AGGREGATE
// =============================================================================

// LineItem is one quantity+size+price entry referencing exactly one product.
type LineItem struct {
	ID          int64
	Reference   ProductReference
	ProductName string
	Size        string
	Quantity    int

	// UnitPrice is the catalog price snapshotted at the last add or update.
	UnitPrice decimal.Decimal
}

// Subtotal returns unit price times quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Cart is the unit of mutation and consistency for a shopper's selections.
// Derived fields are only ever written by Reprice.
type Cart struct {
	ID    uuid.UUID
	Token string
	Items []LineItem
	Promo *PromoCode

	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal

	// Version increases by one with every persisted mutation.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// NewCart returns an empty cart under token.
func NewCart(token string, now time.Time, ttl time.Duration) *Cart {
	c := &Cart{
		ID:        uuid.New(),
		Token:     token,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	c.Reprice()
	return c
}

// Reprice recomputes subtotal, discount and total from the items and promo.
func (c *Cart) Reprice() {
	lines := make([]pricing.Line, len(c.Items))
	for i, item := range c.Items {
		lines[i] = pricing.Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity}
	}

	totals := pricing.Price(lines, c.Promo.Discount())
	c.Subtotal = totals.Subtotal
	c.DiscountAmount = totals.DiscountAmount
	c.Total = totals.Total
}

// ItemCount returns the total quantity across all lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// QuantityOf returns the quantity already held for a reference and size.
func (c *Cart) QuantityOf(ref ProductReference, size string) int {
	for _, item := range c.Items {
		if item.Reference == ref && item.Size == size {
			return item.Quantity
		}
	}
	return 0
}

func (c *Cart) indexOf(itemID int64) int {
	for i, item := range c.Items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

// Item returns the line with the given ID.
func (c *Cart) Item(itemID int64) (LineItem, bool) {
	i := c.indexOf(itemID)
	if i < 0 {
		return LineItem{}, false
	}
	return c.Items[i], true
}

// AddLine appends item, or merges it into an existing line with the same
// reference and size. The merged line takes the newer unit price.
func (c *Cart) AddLine(item LineItem) error {
	if item.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if !item.Reference.Valid() {
		return ErrInvalidReference
	}
	if item.Size == "" {
		item.Size = DefaultSize
	}

	for i := range c.Items {
		existing := &c.Items[i]
		if existing.Reference == item.Reference && existing.Size == item.Size {
			existing.Quantity += item.Quantity
			existing.UnitPrice = item.UnitPrice
			existing.ProductName = item.ProductName
			c.Reprice()
			return nil
		}
	}

	c.Items = append(c.Items, item)
	c.Reprice()
	return nil
}

// SetQuantity replaces the quantity of a line and refreshes its unit price.
func (c *Cart) SetQuantity(itemID int64, quantity int, unitPrice decimal.Decimal) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	i := c.indexOf(itemID)
	if i < 0 {
		return ErrItemNotFound
	}

	c.Items[i].Quantity = quantity
	c.Items[i].UnitPrice = unitPrice
	c.Reprice()
	return nil
}

// RemoveLine deletes a line.
func (c *Cart) RemoveLine(itemID int64) error {
	i := c.indexOf(itemID)
	if i < 0 {
		return ErrItemNotFound
	}

	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	c.Reprice()
	return nil
}

// Clear empties the cart and detaches the promo.
func (c *Cart) Clear() {
	c.Items = nil
	c.Promo = nil
	c.Reprice()
}

// ApplyPromo attaches promo if it is valid at now and the current subtotal
// meets its minimum. A later drop below the minimum does not detach it.
func (c *Cart) ApplyPromo(promo *PromoCode, now time.Time) error {
	if promo == nil {
		return ErrPromoNotFound
	}
	if !promo.IsValidAt(now) {
		return ErrPromoNotValid
	}
	if !pricing.MeetsMinimum(c.Subtotal, promo.MinimumOrderAmount) {
		return &Error{
			Code:    EINVALID,
			Op:      "cart.apply_promo",
			Message: fmt.Sprintf("Minimum order amount of %s required for this promo code", promo.MinimumOrderAmount.StringFixed(pricing.MinorUnitPlaces)),
			Err:     ErrPromoBelowMinimum,
		}
	}

	c.Promo = promo
	c.Reprice()
	return nil
}

// RemovePromo detaches any promo code.
func (c *Cart) RemovePromo() {
	c.Promo = nil
	c.Reprice()
}

// Clone returns a deep copy safe to mutate independently.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = append([]LineItem(nil), c.Items...)
	if c.Promo != nil {
		promo := *c.Promo
		out.Promo = &promo
	}
	return &out
}

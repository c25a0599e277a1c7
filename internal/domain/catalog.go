package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=catalog.go -destination=mock_catalog.go -package=domain

// PromoStore looks up promo codes.
type PromoStore interface {
	// GetPromoByCode returns ErrPromoNotFound when no code matches.
	GetPromoByCode(ctx context.Context, code string) (*PromoCode, error)
}

// Catalog is the product collaborator the cart prices against.
type Catalog interface {
	// Lookup returns the listing for a reference, or ErrInvalidReference when
	// no such product exists.
	Lookup(ctx context.Context, ref ProductReference) (*CatalogListing, error)
}

// CatalogListing is the catalog's view of a purchasable product.
type CatalogListing struct {
	Reference ProductReference
	Name      string
	UnitPrice decimal.Decimal
	Active    bool

	// Stock is nil when the catalog does not track inventory for the product.
	Stock *int
}

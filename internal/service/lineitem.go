package service

import (
	"context"
	"errors"

	"github.com/dukerupert/aroma/internal/domain"
)

// LineItemResolver turns add-to-cart requests into priced line items.
type LineItemResolver struct {
	catalog domain.Catalog
}

func NewLineItemResolver(catalog domain.Catalog) *LineItemResolver {
	return &LineItemResolver{catalog: catalog}
}

// Resolve picks the single product reference a request names, prices it
// against the catalog and returns the line to merge into a cart. Nothing is
// written; a failed resolve leaves every cart unchanged.
func (r *LineItemResolver) Resolve(ctx context.Context, req domain.AddItemRequest) (domain.LineItem, *domain.CatalogListing, error) {
	ref, err := domain.ResolveReference(req)
	if err != nil {
		return domain.LineItem{}, nil, err
	}
	quantity, err := req.ResolveQuantity()
	if err != nil {
		return domain.LineItem{}, nil, err
	}

	listing, err := r.Listing(ctx, ref)
	if err != nil {
		return domain.LineItem{}, nil, err
	}

	return domain.LineItem{
		Reference:   ref,
		ProductName: listing.Name,
		Size:        req.ResolveSize(),
		Quantity:    quantity,
		UnitPrice:   listing.UnitPrice,
	}, listing, nil
}

// Listing returns the purchasable listing for ref. Unknown and inactive
// products are both an invalid reference.
func (r *LineItemResolver) Listing(ctx context.Context, ref domain.ProductReference) (*domain.CatalogListing, error) {
	listing, err := r.catalog.Lookup(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidReference) {
			return nil, err
		}
		return nil, domain.Internal(err, "cart.lookup", domain.ErrCatalogUnavailable.Message)
	}
	if !listing.Active {
		return nil, domain.ErrInvalidReference
	}
	return listing, nil
}

// CheckStock fails when the catalog tracks stock for listing and quantity
// exceeds it.
func CheckStock(listing *domain.CatalogListing, quantity int) error {
	if listing.Stock != nil && quantity > *listing.Stock {
		return domain.ErrInsufficientStock
	}
	return nil
}

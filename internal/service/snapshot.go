package service

import (
	"encoding/json"
	"fmt"

	"github.com/dukerupert/aroma/internal/domain"
)

// cartSnapshot is the session metadata recorded at initiation. It is built
// from the stored cart, never from client-supplied line items.
type cartSnapshot struct {
	domain.SessionMetadata
}

func snapshotCart(cart *domain.Cart, req domain.InitializeRequest) cartSnapshot {
	items := make([]domain.SessionItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, domain.SessionItem{
			Kind:      it.Reference.Kind,
			ProductID: it.Reference.ID,
			Name:      it.ProductName,
			Size:      it.Size,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	meta := domain.SessionMetadata{
		CartToken:       cart.Token,
		FullName:        req.FullName,
		Phone:           req.Phone,
		ShippingAddress: req.ShippingAddress,
		Items:           items,
		Client:          req.Metadata,
	}
	if cart.Promo != nil {
		meta.PromoCode = cart.Promo.Code
	}
	return cartSnapshot{meta}
}

// asMap renders the snapshot as the provider's free-form metadata object.
// The cart token stays on our side.
func (s cartSnapshot) asMap() (map[string]any, error) {
	meta := s.SessionMetadata
	meta.CartToken = ""

	b, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// metadataFromProvider reads back metadata a provider echoed. Fields that
// decode are kept even when others do not; the error reports the rest.
func metadataFromProvider(m map[string]any) (domain.SessionMetadata, error) {
	var meta domain.SessionMetadata
	if len(m) == 0 {
		return meta, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return meta, fmt.Errorf("failed to encode provider metadata: %w", err)
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, fmt.Errorf("failed to decode provider metadata: %w", err)
	}
	return meta, nil
}

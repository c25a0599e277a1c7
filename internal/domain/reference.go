package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ProductKind names one of the four product taxonomies a line can reference.
type ProductKind string

const (
	KindProduct     ProductKind = "product"
	KindDupe        ProductKind = "dupe"
	KindAirAmbience ProductKind = "air_ambience"
	KindPerfumeOil  ProductKind = "perfume_oil"
)

// Valid reports whether k is a known taxonomy.
func (k ProductKind) Valid() bool {
	switch k {
	case KindProduct, KindDupe, KindAirAmbience, KindPerfumeOil:
		return true
	}
	return false
}

// ProductReference points at exactly one product in exactly one taxonomy.
type ProductReference struct {
	Kind ProductKind
	ID   int64
}

// Valid reports whether the reference names a known taxonomy and a positive ID.
func (r ProductReference) Valid() bool {
	return r.Kind.Valid() && r.ID > 0
}

func (r ProductReference) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// AddItemRequest is an add-to-cart request as received from a client.
// At most one reference is honored; see ResolveReference for the order.
type AddItemRequest struct {
	ProductID     int64
	DupeID        int64
	AirAmbienceID int64
	PerfumeOilID  int64

	// LegacyID is the opaque id older clients send instead of ProductID.
	LegacyID string

	// Quantity is nil when the client omitted it.
	Quantity *int
	Size     string
}

// ResolveReference maps a request onto a single product reference.
//
// The first positive field wins, in the order air ambience, perfume oil,
// dupe, product, then LegacyID parsed as a positive product ID. Reordering
// these changes which catalog prices a request, so the order is fixed.
func ResolveReference(req AddItemRequest) (ProductReference, error) {
	switch {
	case req.AirAmbienceID > 0:
		return ProductReference{Kind: KindAirAmbience, ID: req.AirAmbienceID}, nil
	case req.PerfumeOilID > 0:
		return ProductReference{Kind: KindPerfumeOil, ID: req.PerfumeOilID}, nil
	case req.DupeID > 0:
		return ProductReference{Kind: KindDupe, ID: req.DupeID}, nil
	case req.ProductID > 0:
		return ProductReference{Kind: KindProduct, ID: req.ProductID}, nil
	}

	if id, err := strconv.ParseInt(strings.TrimSpace(req.LegacyID), 10, 64); err == nil && id > 0 {
		return ProductReference{Kind: KindProduct, ID: id}, nil
	}

	return ProductReference{}, ErrInvalidReference
}

// ResolveQuantity returns the requested quantity, defaulting to 1.
func (req AddItemRequest) ResolveQuantity() (int, error) {
	if req.Quantity == nil {
		return 1, nil
	}
	if *req.Quantity < 1 {
		return 0, ErrInvalidQuantity
	}
	return *req.Quantity, nil
}

// ResolveSize returns the requested size variant, defaulting to DefaultSize.
func (req AddItemRequest) ResolveSize() string {
	if s := strings.TrimSpace(req.Size); s != "" {
		return s
	}
	return DefaultSize
}

package memory

import (
	"time"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/pricing"
	"github.com/shopspring/decimal"
)

// Seed loads the same promo codes and demo catalog the SQL migrations seed,
// so a server started without DATABASE_URL behaves like a fresh database.
func Seed(s *Store, now time.Time) {
	for _, p := range seedPromos {
		s.PutPromo(domain.PromoCode{
			Code:                  p.code,
			Description:           p.description,
			DiscountType:          p.kind,
			DiscountValue:         decimal.RequireFromString(p.value),
			MinimumOrderAmount:    decimal.RequireFromString(p.minimum),
			MaximumDiscountAmount: nullDecimal(p.cap),
			ValidFrom:             now.AddDate(0, 0, -1),
			IsActive:              true,
		})
	}

	for _, l := range seedCatalog {
		s.PutListing(domain.CatalogListing{
			Reference: domain.ProductReference{Kind: l.kind, ID: l.id},
			Name:      l.name,
			UnitPrice: decimal.RequireFromString(l.price),
			Active:    true,
		})
	}
}

var seedPromos = []struct {
	code, description string
	kind              pricing.DiscountType
	value, minimum    string
	cap               string
}{
	{"WELCOME10", "10% off your first order", pricing.Percentage, "0.10", "50.00", "20.00"},
	{"SAVE20", "20% off orders over 100", pricing.Percentage, "0.20", "100.00", ""},
	{"FLAT15", "15 off orders over 30", pricing.Fixed, "15.00", "30.00", ""},
	{"BIGDEAL", "25% off orders over 200", pricing.Percentage, "0.25", "200.00", "100.00"},
	{"SAVE10", "10% off orders over 20", pricing.Percentage, "0.10", "20.00", ""},
}

var seedCatalog = []struct {
	kind  domain.ProductKind
	id    int64
	name  string
	price string
}{
	{domain.KindProduct, 1, "Oud Royale", "45.00"},
	{domain.KindProduct, 5, "Amber Nights", "25.00"},
	{domain.KindDupe, 1, "Baccarat Rouge Inspired", "30.00"},
	{domain.KindAirAmbience, 1, "Vanilla Room Mist", "18.50"},
	{domain.KindPerfumeOil, 1, "Musk Perfume Oil", "12.00"},
}

func nullDecimal(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

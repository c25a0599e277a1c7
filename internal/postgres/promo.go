package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/pricing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const promoColumns = `id, code, description, discount_type, discount_value::text,
	minimum_order_amount::text, maximum_discount_amount::text, usage_limit,
	times_used, valid_from, valid_until, is_active`

// =============================================================================
// PROMO CODES
// =============================================================================

// GetPromoByCode matches case-insensitively; codes are stored upper-case.
func (s *Store) GetPromoByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+promoColumns+` FROM promo_codes WHERE code = $1`,
		domain.NormalizePromoCode(code))

	promo, err := scanPromo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPromoNotFound
		}
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return promo, nil
}

// CreatePromo inserts a promo code. Used by seeding tools and tests.
func (s *Store) CreatePromo(ctx context.Context, promo *domain.PromoCode) error {
	if promo.ID == uuid.Nil {
		promo.ID = uuid.New()
	}
	if promo.ValidFrom.IsZero() {
		promo.ValidFrom = time.Now()
	}

	var validUntil pgtype.Timestamptz
	if promo.ValidUntil != nil {
		validUntil = pgtype.Timestamptz{Time: *promo.ValidUntil, Valid: true}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO promo_codes (id, code, description, discount_type, discount_value,
			minimum_order_amount, maximum_discount_amount, usage_limit, times_used,
			valid_from, valid_until, is_active)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12)`,
		promo.ID,
		domain.NormalizePromoCode(promo.Code),
		promo.Description,
		string(promo.DiscountType),
		numericArg(promo.DiscountValue),
		numericArg(promo.MinimumOrderAmount),
		nullNumericArg(promo.MaximumDiscountAmount),
		pgInt4FromPtr(promo.UsageLimit),
		promo.TimesUsed,
		promo.ValidFrom,
		validUntil,
		promo.IsActive,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict("postgres.create_promo", "promo code already exists")
		}
		return fmt.Errorf("failed to create promo code: %w", err)
	}
	return nil
}

func getPromoByID(ctx context.Context, q querier, id uuid.UUID) (*domain.PromoCode, error) {
	row := q.QueryRow(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE id = $1`, id)
	return scanPromo(row)
}

func scanPromo(row pgx.Row) (*domain.PromoCode, error) {
	var (
		p              domain.PromoCode
		discountType   string
		value, minimum string
		maximum        pgtype.Text
		usageLimit     pgtype.Int4
		validUntil     pgtype.Timestamptz
	)

	err := row.Scan(
		&p.ID, &p.Code, &p.Description, &discountType, &value,
		&minimum, &maximum, &usageLimit,
		&p.TimesUsed, &p.ValidFrom, &validUntil, &p.IsActive,
	)
	if err != nil {
		return nil, err
	}

	p.DiscountType = pricing.DiscountType(discountType)
	if p.DiscountValue, err = parseDecimal(value); err != nil {
		return nil, err
	}
	if p.MinimumOrderAmount, err = parseDecimal(minimum); err != nil {
		return nil, err
	}
	if p.MaximumDiscountAmount, err = parseNullDecimal(maximum); err != nil {
		return nil, err
	}
	p.UsageLimit = intPtrFromPg(usageLimit)
	if validUntil.Valid {
		t := validUntil.Time
		p.ValidUntil = &t
	}
	return &p, nil
}

// =============================================================================
// CATALOG
// =============================================================================

// Lookup returns the catalog listing for ref.
func (s *Store) Lookup(ctx context.Context, ref domain.ProductReference) (*domain.CatalogListing, error) {
	var (
		listing domain.CatalogListing
		kind    string
		price   string
		stock   pgtype.Int4
	)

	err := s.pool.QueryRow(ctx, `
		SELECT kind, ref_id, name, price::text, active, stock
		FROM catalog_items
		WHERE kind = $1 AND ref_id = $2`,
		string(ref.Kind), ref.ID,
	).Scan(&kind, &listing.Reference.ID, &listing.Name, &price, &listing.Active, &stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvalidReference
		}
		return nil, fmt.Errorf("failed to look up catalog item: %w", err)
	}

	listing.Reference.Kind = domain.ProductKind(kind)
	if listing.UnitPrice, err = parseDecimal(price); err != nil {
		return nil, err
	}
	listing.Stock = intPtrFromPg(stock)
	return &listing, nil
}

// UpsertListing creates or replaces a catalog listing.
func (s *Store) UpsertListing(ctx context.Context, listing domain.CatalogListing) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO catalog_items (kind, ref_id, name, price, active, stock)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		ON CONFLICT (kind, ref_id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    active = EXCLUDED.active,
		    stock = EXCLUDED.stock,
		    updated_at = now()`,
		string(listing.Reference.Kind),
		listing.Reference.ID,
		listing.Name,
		numericArg(listing.UnitPrice),
		listing.Active,
		pgInt4FromPtr(listing.Stock),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert catalog item: %w", err)
	}
	return nil
}

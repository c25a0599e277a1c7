package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// CreateCart persists a new empty cart.
func (s *Store) CreateCart(ctx context.Context, cart *domain.Cart) error {
	var promoID pgtype.UUID
	if cart.Promo != nil {
		promoID = pgtype.UUID{Bytes: [16]byte(cart.Promo.ID), Valid: true}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO carts (id, token, promo_code_id, version, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cart.ID, cart.Token, promoID, cart.Version, cart.CreatedAt, cart.UpdatedAt, cart.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict("postgres.create_cart", "cart token already exists")
		}
		return fmt.Errorf("failed to create cart: %w", err)
	}
	return nil
}

// GetCart loads a live cart with its lines and current promo.
func (s *Store) GetCart(ctx context.Context, token string) (*domain.Cart, error) {
	cart, err := loadCart(ctx, s.pool, token, false)
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// UpdateCart locks the cart row with SELECT ... FOR UPDATE, so concurrent
// updates for one token run one after another, each seeing the previous
// commit.
func (s *Store) UpdateCart(ctx context.Context, token string, fn func(*domain.Cart) error) (*domain.Cart, error) {
	var updated *domain.Cart

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := loadCart(ctx, tx, token, true)
		if err != nil {
			return err
		}

		working := current.Clone()
		if err := fn(working); err != nil {
			return err
		}

		if err := writeItems(ctx, tx, current, working); err != nil {
			return err
		}

		var promoID pgtype.UUID
		if working.Promo != nil {
			promoID = pgtype.UUID{Bytes: [16]byte(working.Promo.ID), Valid: true}
		}

		err = tx.QueryRow(ctx, `
			UPDATE carts
			SET promo_code_id = $2, expires_at = $3, version = version + 1, updated_at = now()
			WHERE id = $1
			RETURNING version, updated_at`,
			working.ID, promoID, working.ExpiresAt,
		).Scan(&working.Version, &working.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to bump cart version: %w", err)
		}

		working.Reprice()
		updated = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteCart removes a cart; its lines go with it via ON DELETE CASCADE.
func (s *Store) DeleteCart(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM carts WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

// DeleteExpiredCarts removes carts that expired before the cutoff.
func (s *Store) DeleteExpiredCarts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM carts WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired carts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func loadCart(ctx context.Context, q querier, token string, forUpdate bool) (*domain.Cart, error) {
	query := `
		SELECT id, token, promo_code_id, version, created_at, updated_at, expires_at
		FROM carts
		WHERE token = $1 AND expires_at > now()`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		cart    domain.Cart
		promoID pgtype.UUID
	)
	err := q.QueryRow(ctx, query, token).Scan(
		&cart.ID, &cart.Token, &promoID, &cart.Version,
		&cart.CreatedAt, &cart.UpdatedAt, &cart.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	if cart.Items, err = loadItems(ctx, q, cart.ID); err != nil {
		return nil, err
	}

	if promoID.Valid {
		promo, err := getPromoByID(ctx, q, uuid.UUID(promoID.Bytes))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to load cart promo: %w", err)
		}
		cart.Promo = promo
	}

	cart.Reprice()
	return &cart, nil
}

func loadItems(ctx context.Context, q querier, cartID uuid.UUID) ([]domain.LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, kind, ref_id, product_name, size, quantity, unit_price::text
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY id`,
		cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var (
			item  domain.LineItem
			kind  string
			price string
		)
		if err := rows.Scan(&item.ID, &kind, &item.Reference.ID, &item.ProductName, &item.Size, &item.Quantity, &price); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		item.Reference.Kind = domain.ProductKind(kind)
		if item.UnitPrice, err = parseDecimal(price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cart items: %w", err)
	}
	return items, nil
}

// writeItems brings cart_items in line with next. Lines missing from next
// are deleted, surviving lines updated, and lines without an ID inserted
// and given the generated one.
func writeItems(ctx context.Context, tx pgx.Tx, prev, next *domain.Cart) error {
	keep := make(map[int64]bool, len(next.Items))
	for _, item := range next.Items {
		if item.ID != 0 {
			keep[item.ID] = true
		}
	}

	for _, item := range prev.Items {
		if keep[item.ID] {
			continue
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, item.ID, prev.ID); err != nil {
			return fmt.Errorf("failed to delete cart item: %w", err)
		}
	}

	for i := range next.Items {
		item := &next.Items[i]
		if item.ID != 0 {
			_, err := tx.Exec(ctx, `
				UPDATE cart_items
				SET quantity = $3, unit_price = $4::numeric, product_name = $5
				WHERE id = $1 AND cart_id = $2`,
				item.ID, next.ID, item.Quantity, numericArg(item.UnitPrice), item.ProductName,
			)
			if err != nil {
				return fmt.Errorf("failed to update cart item: %w", err)
			}
			continue
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO cart_items (cart_id, kind, ref_id, product_name, size, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)
			RETURNING id`,
			next.ID, string(item.Reference.Kind), item.Reference.ID, item.ProductName,
			item.Size, item.Quantity, numericArg(item.UnitPrice),
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert cart item: %w", err)
		}
	}
	return nil
}

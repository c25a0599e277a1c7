package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateOrder inserts order at most once per payment reference. The unique
// index on orders.payment_reference arbitrates concurrent callers; the loser
// reads back the winner's row.
func (s *Store) CreateOrder(ctx context.Context, order *domain.Order, event *domain.OutboxEvent) (*domain.Order, bool, error) {
	var (
		stored  *domain.Order
		created bool
	)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		id := order.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdAt := order.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		var insertedID uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO orders (id, order_number, payment_reference, status, email,
				full_name, phone, shipping_address, currency, promo_code, total_amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12)
			ON CONFLICT (payment_reference) DO NOTHING
			RETURNING id`,
			id, order.OrderNumber, order.PaymentReference, string(order.Status), order.Email,
			order.FullName, order.Phone, order.ShippingAddress, order.Currency,
			order.PromoCode, numericArg(order.TotalAmount), createdAt,
		).Scan(&insertedID)
		if errors.Is(err, pgx.ErrNoRows) {
			stored, err = getOrder(ctx, tx, `payment_reference = $1`, order.PaymentReference)
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		if err := insertOrderItems(ctx, tx, insertedID, order.Items); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE payment_sessions SET state = 'settled', updated_at = now()
			WHERE reference = $1`,
			order.PaymentReference,
		)
		if err != nil {
			return fmt.Errorf("failed to mark payment session settled: %w", err)
		}

		if order.PromoCode != "" {
			_, err = tx.Exec(ctx,
				`UPDATE promo_codes SET times_used = times_used + 1 WHERE code = $1`,
				domain.NormalizePromoCode(order.PromoCode),
			)
			if err != nil {
				return fmt.Errorf("failed to count promo use: %w", err)
			}
		}

		if event != nil {
			if err := insertOutboxEvent(ctx, tx, event); err != nil {
				return err
			}
		}

		created = true
		stored, err = getOrder(ctx, tx, `id = $1`, insertedID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// GetOrderByPaymentReference loads the order settled for reference.
func (s *Store) GetOrderByPaymentReference(ctx context.Context, reference string) (*domain.Order, error) {
	return getOrder(ctx, s.pool, `payment_reference = $1`, reference)
}

// GetOrderByNumber loads an order by its public number.
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return getOrder(ctx, s.pool, `order_number = $1`, orderNumber)
}

func insertOrderItems(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
			INSERT INTO order_items (order_id, kind, ref_id, product_name, unit_price, quantity, size, subtotal)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8::numeric)`,
			orderID, string(item.Reference.Kind), item.Reference.ID, item.ProductName,
			numericArg(item.UnitPrice), item.Quantity, item.Size, numericArg(item.Subtotal),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert order items: %w", err)
	}
	return nil
}

// getOrder loads one order matching where, which must use $1 as its only
// parameter.
func getOrder(ctx context.Context, q querier, where string, arg any) (*domain.Order, error) {
	var (
		order  domain.Order
		status string
		total  string
	)

	err := q.QueryRow(ctx, `
		SELECT id, order_number, payment_reference, status, email, full_name, phone,
			shipping_address, currency, promo_code, total_amount::text, created_at
		FROM orders
		WHERE `+where,
		arg,
	).Scan(
		&order.ID, &order.OrderNumber, &order.PaymentReference, &status, &order.Email,
		&order.FullName, &order.Phone, &order.ShippingAddress, &order.Currency,
		&order.PromoCode, &total, &order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order.Status = domain.OrderStatus(status)
	if order.TotalAmount, err = parseDecimal(total); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT kind, ref_id, product_name, unit_price::text, quantity, size, subtotal::text
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`,
		order.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item            domain.OrderItem
			kind            string
			price, subtotal string
		)
		if err := rows.Scan(&kind, &item.Reference.ID, &item.ProductName, &price, &item.Quantity, &item.Size, &subtotal); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		item.Reference.Kind = domain.ProductKind(kind)
		if item.UnitPrice, err = parseDecimal(price); err != nil {
			return nil, err
		}
		if item.Subtotal, err = parseDecimal(subtotal); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}
	return &order, nil
}

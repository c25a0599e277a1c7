// Package postgres implements the storage interfaces in internal/domain on
// PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the authoritative store for carts, promos, the catalog, payment
// sessions, orders and the outbox.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ domain.CartStore           = (*Store)(nil)
	_ domain.PromoStore          = (*Store)(nil)
	_ domain.Catalog             = (*Store)(nil)
	_ domain.PaymentSessionStore = (*Store)(nil)
	_ domain.OrderStore          = (*Store)(nil)
	_ domain.OutboxStore         = (*Store)(nil)
)

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

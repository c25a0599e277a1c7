// Package cache holds read-through caches for cart aggregates.
package cache

import (
	"context"
	"errors"

	"github.com/dukerupert/aroma/internal/domain"
)

// CartCache caches carts by token. Set must never replace a cached cart with
// an older version of it.
type CartCache interface {
	Get(ctx context.Context, token string) (*domain.Cart, error)
	Set(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, token string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Nop is a CartCache that never holds anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }
func (Nop) Set(context.Context, *domain.Cart) error            { return nil }
func (Nop) Delete(context.Context, string) error               { return nil }

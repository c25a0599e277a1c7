package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/aroma/internal/cache"
	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

// TokenLength is the number of random bytes in a cart token.
const TokenLength = 32

// DefaultCartTTL is how long an untouched cart keeps resolving.
const DefaultCartTTL = 30 * 24 * time.Hour

// GenerateCartToken generates a cryptographically secure cart identity token.
// Uses 32 bytes of random data encoded as base64 URL-safe string.
func GenerateCartToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return base64.URLEncoding.EncodeToString(b), nil
}

// IdentityResolver maps cart tokens to carts. A token that is absent or no
// longer resolves is never an error: the resolver mints a fresh empty cart
// and the caller hands its token back to the client.
type IdentityResolver struct {
	carts   domain.CartStore
	cache   cache.CartCache
	ttl     time.Duration
	now     func() time.Time
	metrics *telemetry.BusinessMetrics
	logger  *slog.Logger

	reads singleflight.Group
}

// Resolve returns the live cart for token, or a newly minted one.
// minted reports whether the returned cart replaces the caller's token.
func (r *IdentityResolver) Resolve(ctx context.Context, token string) (cart *domain.Cart, minted bool, err error) {
	if token != "" {
		cart, err := r.Load(ctx, token)
		if err == nil {
			return cart, false, nil
		}
		if !errors.Is(err, domain.ErrCartNotFound) {
			return nil, false, err
		}
		r.metrics.CartResets.WithLabelValues("resolve").Inc()
		r.logger.DebugContext(ctx, "cart token no longer resolves, minting a new cart")
	}

	cart, err = r.Mint(ctx)
	if err != nil {
		return nil, false, err
	}
	return cart, true, nil
}

// Load reads a live cart through the cache. Concurrent misses for the same
// token share one store read.
func (r *IdentityResolver) Load(ctx context.Context, token string) (*domain.Cart, error) {
	v, err, _ := r.reads.Do(token, func() (interface{}, error) {
		cart, err := r.cache.Get(ctx, token)
		if err == nil && cart.ExpiresAt.After(r.now()) {
			return cart, nil
		}
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.WarnContext(ctx, "cart cache read failed", "error", err)
		}

		cart, err = r.carts.GetCart(ctx, token)
		if err != nil {
			if errors.Is(err, domain.ErrCartNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to load cart: %w", err)
		}

		r.remember(ctx, cart)
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart).Clone(), nil
}

// Mint creates and persists an empty cart under a new token.
func (r *IdentityResolver) Mint(ctx context.Context) (*domain.Cart, error) {
	token, err := GenerateCartToken()
	if err != nil {
		return nil, domain.Internal(err, "cart.mint", "failed to generate cart token")
	}

	cart := domain.NewCart(token, r.now(), r.ttl)
	if err := r.carts.CreateCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	r.metrics.CartCreated.Inc()
	return cart, nil
}

// remember writes cart to the cache. Failures only cost a future store read.
func (r *IdentityResolver) remember(ctx context.Context, cart *domain.Cart) {
	if err := r.cache.Set(ctx, cart); err != nil {
		r.logger.WarnContext(ctx, "cart cache write failed", "error", err)
	}
}

// forget drops token from the cache.
func (r *IdentityResolver) forget(ctx context.Context, token string) {
	if err := r.cache.Delete(ctx, token); err != nil {
		r.logger.WarnContext(ctx, "cart cache invalidate failed", "error", err)
	}
}

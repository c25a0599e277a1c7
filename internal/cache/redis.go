package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBaseTTL = 15 * time.Minute
	maxJitter      = 5 * time.Minute
)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: defaultBaseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

var _ CartCache = (*RedisCache)(nil)

func (r *RedisCache) Get(ctx context.Context, token string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &cart, nil
}

// Set stores cart unless the cache already holds the same or a newer
// version. The compare and write run under WATCH; a lost race drops the key
// so the next read goes to the store.
func (r *RedisCache) Set(ctx context.Context, cart *domain.Cart) error {
	key := cacheKey(cart.Token)
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	ttl := r.baseTTL + rand.N(maxJitter)
	if remaining := time.Until(cart.ExpiresAt); !cart.ExpiresAt.IsZero() && remaining < ttl {
		if remaining <= 0 {
			return nil
		}
		ttl = remaining
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cached struct{ Version int64 }
			if json.Unmarshal(current, &cached) == nil && cached.Version >= cart.Version {
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return r.Delete(ctx, cart.Token)
	}
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, cacheKey(token)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(token string) string {
	return fmt.Sprintf("cart:%s", token)
}

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/aroma/internal/domain"
)

// CleanupResult holds the result of a cleanup run.
type CleanupResult struct {
	CartsDeleted int64 `json:"carts_deleted"`
}

// CleanupExpiredCarts removes carts that expired before now. Expired carts
// already fail to resolve, so this only reclaims space.
func CleanupExpiredCarts(ctx context.Context, carts domain.CartStore, now time.Time) (*CleanupResult, error) {
	n, err := carts.DeleteExpiredCarts(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired carts: %w", err)
	}
	return &CleanupResult{CartsDeleted: n}, nil
}

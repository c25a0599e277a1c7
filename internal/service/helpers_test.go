package service

import (
	"testing"
	"time"

	"github.com/dukerupert/aroma/internal/memory"
	"github.com/shopspring/decimal"
)

func newSeededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	memory.Seed(store, time.Now())
	return store
}

func qty(n int) *int { return &n }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("got %s, want %s", got.StringFixed(2), want)
	}
}

package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/aroma/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCart() *Cart {
	return NewCart("token", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), 30*24*time.Hour)
}

func save10() *PromoCode {
	return &PromoCode{
		Code:               "SAVE10",
		DiscountType:       pricing.Percentage,
		DiscountValue:      dec("0.10"),
		MinimumOrderAmount: dec("20.00"),
		IsActive:           true,
	}
}

// assertInvariants checks the aggregate's derived fields against its items.
func assertInvariants(t *testing.T, c *Cart) {
	t.Helper()

	sum := decimal.Zero
	for _, item := range c.Items {
		sum = sum.Add(item.Subtotal())
	}
	assert.True(t, sum.Equal(c.Subtotal), "subtotal %s != sum %s", c.Subtotal, sum)
	if c.Promo == nil {
		assert.True(t, c.DiscountAmount.IsZero(), "discount without promo")
	}
	assert.False(t, c.DiscountAmount.IsNegative())
	assert.True(t, c.DiscountAmount.LessThanOrEqual(c.Subtotal))
	assert.True(t, c.Total.Equal(c.Subtotal.Sub(c.DiscountAmount)))
	assert.False(t, c.Total.IsNegative())
}

func TestCart_AddLine(t *testing.T) {
	c := testCart()
	ref := ProductReference{Kind: KindProduct, ID: 5}

	require.NoError(t, c.AddLine(LineItem{Reference: ref, Size: "50ml", Quantity: 2, UnitPrice: dec("25.00")}))

	assert.Len(t, c.Items, 1)
	assert.True(t, dec("50.00").Equal(c.Subtotal))
	assert.True(t, dec("50.00").Equal(c.Total))
	assertInvariants(t, c)
}

func TestCart_AddLine_MergesSameReferenceAndSize(t *testing.T) {
	c := testCart()
	ref := ProductReference{Kind: KindDupe, ID: 7}

	require.NoError(t, c.AddLine(LineItem{Reference: ref, Size: "50ml", Quantity: 1, UnitPrice: dec("10")}))
	require.NoError(t, c.AddLine(LineItem{Reference: ref, Size: "50ml", Quantity: 2, UnitPrice: dec("10")}))
	require.NoError(t, c.AddLine(LineItem{Reference: ref, Size: "100ml", Quantity: 1, UnitPrice: dec("18")}))

	require.Len(t, c.Items, 2)
	assert.Equal(t, 3, c.Items[0].Quantity)
	assert.Equal(t, "100ml", c.Items[1].Size)
	assert.Equal(t, 4, c.ItemCount())
	assert.Equal(t, 3, c.QuantityOf(ref, "50ml"))
	assertInvariants(t, c)
}

func TestCart_AddLine_SameIDDifferentTaxonomy(t *testing.T) {
	c := testCart()

	require.NoError(t, c.AddLine(LineItem{Reference: ProductReference{Kind: KindProduct, ID: 1}, Quantity: 1, UnitPrice: dec("10")}))
	require.NoError(t, c.AddLine(LineItem{Reference: ProductReference{Kind: KindDupe, ID: 1}, Quantity: 1, UnitPrice: dec("10")}))

	assert.Len(t, c.Items, 2)
	assert.Equal(t, DefaultSize, c.Items[0].Size)
}

func TestCart_AddLine_Rejects(t *testing.T) {
	c := testCart()

	err := c.AddLine(LineItem{Reference: ProductReference{Kind: KindProduct, ID: 1}, Quantity: 0, UnitPrice: dec("10")})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	err = c.AddLine(LineItem{Reference: ProductReference{}, Quantity: 1, UnitPrice: dec("10")})
	assert.ErrorIs(t, err, ErrInvalidReference)

	assert.True(t, c.IsEmpty())
}

func TestCart_SetQuantity(t *testing.T) {
	c := testCart()
	require.NoError(t, c.AddLine(LineItem{ID: 11, Reference: ProductReference{Kind: KindProduct, ID: 5}, Quantity: 2, UnitPrice: dec("25")}))

	require.NoError(t, c.SetQuantity(11, 4, dec("24")))
	assert.True(t, dec("96").Equal(c.Subtotal))
	assertInvariants(t, c)

	assert.ErrorIs(t, c.SetQuantity(11, 0, dec("24")), ErrInvalidQuantity)
	assert.ErrorIs(t, c.SetQuantity(12, 1, dec("24")), ErrItemNotFound)
}

func TestCart_RemoveLine(t *testing.T) {
	c := testCart()
	require.NoError(t, c.AddLine(LineItem{ID: 1, Reference: ProductReference{Kind: KindProduct, ID: 5}, Quantity: 1, UnitPrice: dec("25")}))
	require.NoError(t, c.AddLine(LineItem{ID: 2, Reference: ProductReference{Kind: KindPerfumeOil, ID: 3}, Quantity: 1, UnitPrice: dec("8")}))

	require.NoError(t, c.RemoveLine(1))
	require.Len(t, c.Items, 1)
	assert.Equal(t, int64(2), c.Items[0].ID)
	assertInvariants(t, c)

	assert.ErrorIs(t, c.RemoveLine(1), ErrItemNotFound)
}

func TestCart_ApplyAndRemovePromo(t *testing.T) {
	c := testCart()
	require.NoError(t, c.AddLine(LineItem{Reference: ProductReference{Kind: KindProduct, ID: 5}, Quantity: 2, UnitPrice: dec("25.00")}))
	now := time.Now()

	require.NoError(t, c.ApplyPromo(save10(), now))
	assert.True(t, dec("5.00").Equal(c.DiscountAmount))
	assert.True(t, dec("45.00").Equal(c.Total))
	assertInvariants(t, c)

	c.RemovePromo()
	assert.True(t, c.DiscountAmount.IsZero())
	assert.True(t, c.Total.Equal(c.Subtotal))
	assertInvariants(t, c)
}

func TestCart_ApplyPromo_BelowMinimum(t *testing.T) {
	c := testCart()
	require.NoError(t, c.AddLine(LineItem{Reference: ProductReference{Kind: KindProduct, ID: 5}, Quantity: 1, UnitPrice: dec("19.99")}))

	err := c.ApplyPromo(save10(), time.Now())

	assert.ErrorIs(t, err, ErrPromoBelowMinimum)
	assert.Equal(t, EINVALID, ErrorCode(err))
	assert.Equal(t, "Minimum order amount of 20.00 required for this promo code", ErrorMessage(err))
	assert.Nil(t, c.Promo)
}

func TestCart_ApplyPromo_NotRevokedWhenSubtotalDrops(t *testing.T) {
	c := testCart()
	require.NoError(t, c.AddLine(LineItem{ID: 1, Reference: ProductReference{Kind: KindProduct, ID: 5}, Quantity: 2, UnitPrice: dec("25")}))
	require.NoError(t, c.ApplyPromo(save10(), time.Now()))

	require.NoError(t, c.SetQuantity(1, 1, dec("10")))

	require.NotNil(t, c.Promo)
	assert.True(t, dec("1.00").Equal(c.DiscountAmount))
	assertInvariants(t, c)
}

func TestCart_FixedPromoNeverExceedsSubtotal(t *testing.T) {
	c := testCart()
	require.NoError(t, c.AddLine(LineItem{ID: 1, Reference: ProductReference{Kind: KindProduct, ID: 5}, Quantity: 4, UnitPrice: dec("10")}))
	flat := &PromoCode{Code: "FLAT15", DiscountType: pricing.Fixed, DiscountValue: dec("15"), MinimumOrderAmount: dec("30"), IsActive: true}
	require.NoError(t, c.ApplyPromo(flat, time.Now()))

	require.NoError(t, c.SetQuantity(1, 1, dec("10")))

	assert.True(t, dec("10").Equal(c.DiscountAmount))
	assert.True(t, c.Total.IsZero())
	assertInvariants(t, c)
}

func TestCart_Clear(t *testing.T) {
	c := testCart()
	require.NoError(t, c.AddLine(LineItem{Reference: ProductReference{Kind: KindProduct, ID: 5}, Quantity: 2, UnitPrice: dec("25")}))
	require.NoError(t, c.ApplyPromo(save10(), time.Now()))

	c.Clear()

	assert.True(t, c.IsEmpty())
	assert.Nil(t, c.Promo)
	assert.True(t, c.Total.IsZero())
	assertInvariants(t, c)
}

func TestCart_Clone(t *testing.T) {
	c := testCart()
	require.NoError(t, c.AddLine(LineItem{ID: 1, Reference: ProductReference{Kind: KindProduct, ID: 5}, Quantity: 2, UnitPrice: dec("25")}))

	clone := c.Clone()
	require.NoError(t, clone.SetQuantity(1, 9, dec("25")))

	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.Equal(t, 9, clone.Items[0].Quantity)
}

func TestPromoCode_IsValidAt(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	limit := 3

	tests := []struct {
		name  string
		promo PromoCode
		want  bool
	}{
		{"active, open-ended", PromoCode{IsActive: true, ValidFrom: past}, true},
		{"inactive", PromoCode{IsActive: false, ValidFrom: past}, false},
		{"not yet valid", PromoCode{IsActive: true, ValidFrom: future}, false},
		{"expired", PromoCode{IsActive: true, ValidFrom: past.Add(-time.Hour), ValidUntil: &past}, false},
		{"usage limit reached", PromoCode{IsActive: true, ValidFrom: past, UsageLimit: &limit, TimesUsed: 3}, false},
		{"usage remaining", PromoCode{IsActive: true, ValidFrom: past, UsageLimit: &limit, TimesUsed: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.promo.IsValidAt(now))
		})
	}
}

func TestCart_ApplyPromo_Invalid(t *testing.T) {
	c := testCart()
	require.NoError(t, c.AddLine(LineItem{Reference: ProductReference{Kind: KindProduct, ID: 5}, Quantity: 2, UnitPrice: dec("25")}))

	inactive := save10()
	inactive.IsActive = false

	err := c.ApplyPromo(inactive, time.Now())
	assert.True(t, errors.Is(err, ErrPromoNotValid))
	assert.Nil(t, c.Promo)
}

func TestNormalizePromoCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizePromoCode("  save10 "))
}

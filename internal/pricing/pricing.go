// Package pricing computes cart totals from line items and an optional discount.
//
// Everything here is a pure function of its inputs. Callers recompute totals
// from scratch after every cart mutation; nothing is patched incrementally.
package pricing

import (
	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places in the minor currency unit
// (pesewas, kobo, cents).
const MinorUnitPlaces = 2

// DiscountType distinguishes how a promo's value is applied to a subtotal.
type DiscountType string

const (
	// Percentage discounts carry a fraction (0.10 for 10%) multiplied into the subtotal.
	Percentage DiscountType = "percentage"
	// Fixed discounts subtract a flat amount, capped at the subtotal.
	Fixed DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == Percentage || t == Fixed
}

// Line is the priced portion of a cart line item.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Discount is the priced portion of a promo code.
type Discount struct {
	Type  DiscountType
	Value decimal.Decimal

	// Cap limits a Percentage discount. Ignored for Fixed discounts.
	Cap decimal.NullDecimal
}

// Totals are the derived amounts of a cart.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

// Price computes subtotal, discount and total for lines under an optional discount.
//
// The result always satisfies 0 <= DiscountAmount <= Subtotal and
// Total = Subtotal - DiscountAmount.
func Price(lines []Line, discount *Discount) Totals {
	subtotal := Subtotal(lines)
	amount := DiscountAmount(subtotal, discount)

	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: amount,
		Total:          subtotal.Sub(amount),
	}
}

// Subtotal returns the sum of unit price times quantity over all lines.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// DiscountAmount returns the discount a promo yields against subtotal.
// A nil discount yields zero.
func DiscountAmount(subtotal decimal.Decimal, discount *Discount) decimal.Decimal {
	if discount == nil || !subtotal.IsPositive() {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch discount.Type {
	case Percentage:
		amount = subtotal.Mul(discount.Value).Round(MinorUnitPlaces)
		if discount.Cap.Valid && amount.GreaterThan(discount.Cap.Decimal) {
			amount = discount.Cap.Decimal
		}
	case Fixed:
		amount = discount.Value
	default:
		return decimal.Zero
	}

	if amount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, subtotal)
}

// MeetsMinimum reports whether subtotal satisfies a promo's minimum order amount.
func MeetsMinimum(subtotal, minimum decimal.Decimal) bool {
	return subtotal.GreaterThanOrEqual(minimum)
}

// ToMinorUnits converts an amount to integer minor units, rounding half-up.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(MinorUnitPlaces).Round(0).IntPart()
}

// FromMinorUnits converts integer minor units back to an amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitPlaces)
}

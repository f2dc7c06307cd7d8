/*
Package settlement provides the payment-split settlement engine.

PURPOSE:
  This package contains the domain types and algorithms for dividing a
  total amount across participants, tracking per-participant settlement,
  and reconciling asynchronous payment-provider callbacks. Money must
  never be lost, duplicated, or left inconsistent between a split and
  its underlying transactions.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: A fixed-point amount with a currency (2-decimal precision)
  - Currency: ISO 4217 alphabetic code

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Fixed scale: Amounts are rounded to 2 decimals at construction;
     arithmetic inside the engine never accumulates drift
  3. Exactness: Allocation assigns rounding remainders explicitly, so
     share amounts always sum to the split total exactly

SEE ALSO:
  - allocate.go: Share allocation under EQUAL/PERCENTAGE/CUSTOM
  - split.go: Split aggregate and status derivation
*/
package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point amount with currency
// =============================================================================

// CurrencyScale is the number of decimal places for all supported currencies.
const CurrencyScale = 2

type Money struct {
	Value    decimal.Decimal
	Currency string
}

// NewMoney creates a Money rounded to currency precision.
func NewMoney(value decimal.Decimal, currency string) Money {
	return Money{Value: value.Round(CurrencyScale), Currency: currency}
}

// NewMoneyFromString parses a decimal string into Money.
func NewMoneyFromString(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return NewMoney(d, currency), nil
}

// MustParseDecimal parses a decimal string, returning zero on failure.
// Intended for constants in tests and fixtures.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money       { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }

func (m Money) Mul(s decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(s), Currency: m.Currency}
}

func (m Money) Div(s decimal.Decimal) Money {
	return Money{Value: m.Value.Div(s), Currency: m.Currency}
}

func (m Money) Round() Money {
	return Money{Value: m.Value.Round(CurrencyScale), Currency: m.Currency}
}

// Floor rounds down at currency precision.
func (m Money) Floor() Money {
	scale := decimal.New(1, CurrencyScale)
	return Money{Value: m.Value.Mul(scale).Floor().Div(scale), Currency: m.Currency}
}

func (m Money) Neg() Money               { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool       { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool    { return m.Value.LessThan(b.Value) }

// String formats the amount at currency precision, e.g. "33.34".
func (m Money) String() string {
	return m.Value.StringFixed(CurrencyScale)
}

// SumTolerance is the maximum acceptable difference between a split's
// total and the sum of its share amounts (0.01 currency unit).
var SumTolerance = decimal.New(1, -CurrencyScale)

// WithinTolerance reports whether two amounts differ by at most SumTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(SumTolerance)
}

// ValidCurrency reports whether code looks like an ISO 4217 alphabetic code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

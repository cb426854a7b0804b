// Package money provides fixed-point monetary amounts with explicit
// currency and half-up rounding to the currency's minor unit.
package money

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Currency identifies an ISO 4217 currency.
type Currency string

const (
	// EUR is the only currency the engine currently settles in.
	EUR Currency = "EUR"
)

// minorUnits maps a currency to its number of decimal places.
var minorUnits = map[Currency]int32{
	EUR: 2,
}

// NumericCode returns the ISO 4217 numeric code used by the card gateway.
func (c Currency) NumericCode() string {
	switch c {
	case EUR:
		return "978"
	default:
		return ""
	}
}

// MinorUnits returns the number of decimal places for the currency.
func (c Currency) MinorUnits() int32 {
	return minorUnits[c]
}

// ErrCurrencyMismatch is returned by arithmetic on amounts of different currencies.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money is an immutable amount in a single currency. The zero value is an
// invalid amount with no currency; use New or Zero.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// New creates an amount from a decimal value.
func New(amount decimal.Decimal, currency Currency) Money {
	return Money{amount: amount, currency: currency}
}

// Zero returns the zero amount in the given currency.
func Zero(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// FromMinor creates an amount from an integer count of minor units
// (e.g. 108000 cents -> 1080.00 EUR).
func FromMinor(units int64, currency Currency) Money {
	return Money{
		amount:   decimal.New(units, -currency.MinorUnits()),
		currency: currency,
	}
}

// Amount returns the underlying decimal value.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the currency.
func (m Money) Currency() Currency { return m.currency }

// MinorUnits returns the amount as an integer count of minor units,
// rounding half-up first.
func (m Money) MinorUnits() int64 {
	return m.amount.Round(m.currency.MinorUnits()).Shift(m.currency.MinorUnits()).IntPart()
}

// Add returns m + other. Currencies must match.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, errors.Wrapf(ErrCurrencyMismatch, "%s + %s", m.currency, other.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m - other. Currencies must match.
func (m Money) Sub(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, errors.Wrapf(ErrCurrencyMismatch, "%s - %s", m.currency, other.currency)
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// MulInt returns m * n.
func (m Money) MulInt(n int64) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(n)), currency: m.currency}
}

// Percent returns (m * pct / 100) rounded half-up to the currency's minor
// unit. Rounding happens here, at computation time, so the same inputs
// always produce an identical amount.
func (m Money) Percent(pct decimal.Decimal) Money {
	amount := m.amount.Mul(pct).Div(decimal.NewFromInt(100))
	return Money{amount: amount.Round(m.currency.MinorUnits()), currency: m.currency}
}

// Round returns m rounded half-up to the currency's minor unit.
func (m Money) Round() Money {
	return Money{amount: m.amount.Round(m.currency.MinorUnits()), currency: m.currency}
}

// Min returns the smaller of m and other, assuming equal currencies.
func Min(a, b Money) Money {
	if a.amount.LessThan(b.amount) {
		return a
	}
	return b
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// LessThan reports whether m < other, ignoring currency.
func (m Money) LessThan(other Money) bool { return m.amount.LessThan(other.amount) }

// GreaterThan reports whether m > other, ignoring currency.
func (m Money) GreaterThan(other Money) bool { return m.amount.GreaterThan(other.amount) }

// Equal reports whether the amounts and currencies are equal.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// String formats the amount with its minor-unit precision, e.g. "1080.00 EUR".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(m.currency.MinorUnits()), m.currency)
}

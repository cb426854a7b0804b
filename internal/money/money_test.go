package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eur(s string) Money {
	return New(decimal.RequireFromString(s), EUR)
}

func TestPercent_RoundsHalfUp(t *testing.T) {
	tests := []struct {
		name string
		base string
		pct  string
		want string
	}{
		{"exact", "1000.00", "10", "100.00"},
		{"half rounds up", "10.01", "15", "1.50"},    // 1.5015 -> 1.50
		{"midpoint up", "0.10", "25", "0.03"},        // 0.025 -> 0.03
		{"third repeating", "100.00", "33", "33.00"}, // 33.0000
		{"tiny", "0.01", "50", "0.01"},               // 0.005 -> 0.01
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eur(tt.base).Percent(decimal.RequireFromString(tt.pct))
			assert.True(t, got.Equal(eur(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestAdd_CurrencyMismatch(t *testing.T) {
	_, err := eur("1.00").Add(New(decimal.NewFromInt(1), Currency("USD")))
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(108000), eur("1080.00").MinorUnits())
	assert.Equal(t, int64(1), eur("0.005").MinorUnits())
}

func TestFromMinor(t *testing.T) {
	assert.True(t, FromMinor(108000, EUR).Equal(eur("1080.00")))
}

func TestMin(t *testing.T) {
	assert.True(t, Min(eur("5.00"), eur("3.00")).Equal(eur("3.00")))
	assert.True(t, Min(eur("2.00"), eur("3.00")).Equal(eur("2.00")))
}

func TestSub_GoesNegative(t *testing.T) {
	got, err := eur("3.00").Sub(eur("5.00"))
	require.NoError(t, err)
	assert.True(t, got.IsNegative())
}

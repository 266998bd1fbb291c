package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCurrency(t *testing.T) {
	code, err := NormalizeCurrency(" gbp ")
	require.NoError(t, err)
	assert.Equal(t, "GBP", code)

	for _, bad := range []string{"", "GB", "GBPX", "G1P"} {
		_, err := NormalizeCurrency(bad)
		assert.True(t, errors.Is(err, ErrInvalidInput), "currency %q", bad)
	}
}

func TestMoneyArithmeticRejectsMixedCurrencies(t *testing.T) {
	gbp := MustMoney("10.00", "GBP")
	usd := MustMoney("1.00", "USD")

	_, err := gbp.Add(usd)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	_, err = gbp.Sub(usd)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	_, err = gbp.Cmp(usd)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	sum, err := gbp.Add(MustMoney("0.50", "gbp"))
	require.NoError(t, err)
	assert.Equal(t, "GBP 10.50", sum.String())
}

func TestTruncateNeverRoundsUp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "6.999999999999999999999999999999999", want: "6.99"},
		{in: "0.009", want: "0.00"},
		{in: "10", want: "10.00"},
		{in: "4.005", want: "4.00"},
	}
	for _, tc := range tests {
		got := TruncateToMinorUnit(decimal.RequireFromString(tc.in))
		assert.Equal(t, tc.want, got.StringFixed(MinorUnitPlaces), tc.in)
	}
}

func TestDecimalSumIsExact(t *testing.T) {
	a := decimal.RequireFromString("0.999999999999999999999999999999999")
	b := decimal.RequireFromString("6.00")
	sum := a.Add(b)
	assert.Equal(t, "6.999999999999999999999999999999999", sum.String())
	assert.Equal(t, "GBP 6.99", Money{Amount: sum, Currency: "GBP"}.Truncated().String())
	assert.Equal(t, "GBP 7.00", Money{Amount: sum, Currency: "GBP"}.Rounded().String())
}

package money

import (
	"testing"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMajor(t *testing.T) {
	assert.Equal(t, "10.00", FormatMajor(1000, enums.CurrencyUSD))
	assert.Equal(t, "0.05", FormatMajor(5, enums.CurrencyEUR))
	assert.Equal(t, "1500", FormatMajor(1500, enums.CurrencyJPY))
	assert.Equal(t, "-2.50", FormatMajor(-250, enums.CurrencyGBP))
}

func TestToMinor(t *testing.T) {
	got, err := ToMinor("12.34", enums.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), got)

	got, err = ToMinor("7", enums.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, int64(700), got)

	got, err = ToMinor("980", enums.CurrencyKRW)
	require.NoError(t, err)
	assert.Equal(t, int64(980), got)
}

func TestToMinorRejectsExtraPrecision(t *testing.T) {
	_, err := ToMinor("1.005", enums.CurrencyUSD)
	require.Error(t, err)

	_, err = ToMinor("10.5", enums.CurrencyJPY)
	require.Error(t, err)

	_, err = ToMinor("abc", enums.CurrencyUSD)
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	for _, minor := range []int64{0, 1, 99, 100, 123456789} {
		major := ToMajor(minor, enums.CurrencyCAD)
		back, err := DecimalToMinor(major, enums.CurrencyCAD)
		require.NoError(t, err)
		assert.Equal(t, minor, back)
	}
	assert.True(t, ToMajor(250, enums.CurrencyUSD).Equal(decimal.RequireFromString("2.5")))
}

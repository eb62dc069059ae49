package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTripThroughDriverValue(t *testing.T) {
	line2 := " Apt 4 "
	addr := Address{
		Recipient:  " Ada ",
		Line1:      "1 Main St",
		Line2:      &line2,
		City:       "Berlin",
		PostalCode: "10115",
		Country:    "de",
	}.Normalize()

	require.Equal(t, "DE", addr.Country)
	require.Equal(t, "Apt 4", *addr.Line2)

	value, err := addr.Value()
	require.NoError(t, err)

	var decoded Address
	require.NoError(t, decoded.Scan(value))
	require.Equal(t, addr, decoded)
}

func TestAddressValueRequiresLine1(t *testing.T) {
	_, err := Address{Country: "US"}.Value()
	require.Error(t, err)
}

func TestAddressScanRejectsUnknownType(t *testing.T) {
	var a Address
	require.Error(t, a.Scan(42))
	require.NoError(t, a.Scan(nil))
	require.Equal(t, Address{}, a)
}

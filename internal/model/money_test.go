package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFee(t *testing.T) {
	rate := decimal.RequireFromString("0.10")

	fee, net, err := SplitFee(1000, rate)
	require.NoError(t, err)
	assert.Equal(t, int64(100), fee)
	assert.Equal(t, int64(900), net)

	// 0.10 * 1005 = 100.5 rounds half up.
	fee, net, err = SplitFee(1005, rate)
	require.NoError(t, err)
	assert.Equal(t, int64(101), fee)
	assert.Equal(t, int64(904), net)

	for _, gross := range []int64{1, 7, 99, 12345, 999999} {
		fee, net, err := SplitFee(gross, decimal.RequireFromString("0.175"))
		require.NoError(t, err)
		assert.Equal(t, gross, fee+net)
	}

	_, _, err = SplitFee(0, rate)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, _, err = SplitFee(-5, rate)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseFeeRate(t *testing.T) {
	r, err := ParseFeeRate(" 0.25 ")
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.25")))

	_, err = ParseFeeRate("1")
	assert.Error(t, err)
	_, err = ParseFeeRate("-0.1")
	assert.Error(t, err)
	_, err = ParseFeeRate("ten percent")
	assert.Error(t, err)
}

func TestMajorToMinor(t *testing.T) {
	assert.Equal(t, int64(49950), MajorToMinor(decimal.RequireFromString("499.50")))
	assert.Equal(t, int64(1), MajorToMinor(decimal.RequireFromString("0.005")))
	assert.Equal(t, "INR", NormalizeCurrency(" inr "))
}

package utils

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWei(t *testing.T) {
	v, err := ParseWei("1000000000000000000")
	require.NoError(t, err)
	assert.Zero(t, v.Cmp(big.NewInt(1_000_000_000_000_000_000)))

	// Amounts above 64 bits still parse
	v, err = ParseWei("100000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000000000", v.String())

	v, err = ParseWei("")
	require.NoError(t, err)
	assert.Zero(t, v.Sign())

	_, err = ParseWei("0x10")
	assert.Error(t, err)

	_, err = ParseWei("ten")
	assert.Error(t, err)
}

func TestFormatWei(t *testing.T) {
	assert.Equal(t, "123", FormatWei(big.NewInt(123)))
	assert.Equal(t, "0", FormatWei(nil))
}

func TestWeiToCoin(t *testing.T) {
	one, _ := new(big.Int).SetString("1000000000000000000", 10)
	assert.True(t, WeiToCoin(one).Equal(decimal.NewFromInt(1)))

	tenth, _ := new(big.Int).SetString("100000000000000000", 10)
	assert.True(t, WeiToCoin(tenth).Equal(decimal.NewFromFloat(0.1)))

	assert.True(t, WeiToCoin(big.NewInt(1)).Equal(decimal.New(1, -18)))
	assert.True(t, WeiToCoin(nil).IsZero())
}

func TestCoinToWei(t *testing.T) {
	assert.Equal(t, "1000000000000000000", CoinToWei(decimal.NewFromInt(1)).String())
	assert.Equal(t, "100000000000000000", CoinToWei(decimal.NewFromFloat(0.1)).String())

	// Fractions below one wei truncate
	sub := decimal.New(15, -19) // 1.5e-18 coin
	assert.Equal(t, "1", CoinToWei(sub).String())
}

func TestWeiCoinRoundTrip(t *testing.T) {
	v, _ := new(big.Int).SetString("123456789012345678901", 10)
	assert.Zero(t, CoinToWei(WeiToCoin(v)).Cmp(v))
}

package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseWei parses a base-10 wei amount stored as a string.
// Empty strings parse as zero.
func ParseWei(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount: %q", s)
	}
	return v, nil
}

// FormatWei renders a wei amount as a base-10 string for persistence
func FormatWei(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// WeiToCoin converts a wei amount to a decimal coin amount (1 coin = 1e18 wei)
func WeiToCoin(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -18)
}

// CoinToWei converts a decimal coin amount to wei, truncating below 1 wei
func CoinToWei(d decimal.Decimal) *big.Int {
	return d.Shift(18).Truncate(0).BigInt()
}

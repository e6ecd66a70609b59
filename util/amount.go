package util

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// WeiDecimals is the number of decimals of one ether in wei.
const WeiDecimals = 18

// EtherToWei converts a decimal ether amount such as "0.001" to wei. Amounts
// with more than 18 decimals or negative amounts are rejected.
func EtherToWei(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid ether amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative ether amount %q", s)
	}
	wei := d.Shift(WeiDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("ether amount %q has more than %d decimals", s, WeiDecimals)
	}
	return wei.BigInt(), nil
}

// WeiToEther formats a wei amount as a decimal ether string.
func WeiToEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -WeiDecimals).String()
}

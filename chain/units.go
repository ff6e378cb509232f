package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const etherDecimals = 18

// FormatEther renders a wei amount in whole ether, without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// ParseEther converts a decimal ether amount to wei. Amounts with more
// precision than one wei are rejected rather than rounded.
func ParseEther(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: must not be negative", amount)
	}
	wei := d.Shift(etherDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimal places", amount, etherDecimals)
	}
	return wei.BigInt(), nil
}

package registry

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// weiScale is the number of decimal places between the ledger's smallest
// unit and the display unit the engine computes with.
const weiScale = 18

// FromWei converts a smallest-unit ledger amount to the engine's decimal
// representation. Monetary values never cross this boundary as floats.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiScale)
}

// ToWei converts a decimal amount back to smallest units for a ledger call.
// Amounts with sub-wei precision are rejected rather than truncated.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("registry: negative amount %s", amount)
	}
	shifted := amount.Shift(weiScale)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("registry: amount %s has sub-wei precision", amount)
	}
	return shifted.BigInt(), nil
}

// ParseWei decodes a base-10 smallest-unit string from a ledger payload.
func ParseWei(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("registry: empty wei amount")
	}
	wei, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("registry: malformed wei amount %q", raw)
	}
	if wei.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("registry: negative wei amount %q", raw)
	}
	return FromWei(wei), nil
}

// FormatWei renders a decimal amount as the base-10 smallest-unit string the
// ledger expects.
func FormatWei(amount decimal.Decimal) (string, error) {
	wei, err := ToWei(amount)
	if err != nil {
		return "", err
	}
	return wei.String(), nil
}

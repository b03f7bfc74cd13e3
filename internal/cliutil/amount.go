// Package cliutil holds the small amount formatting and parsing
// helpers used by the CLI.
package cliutil

import (
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
)

// FormatAmount renders an amount in smallest units as whole TIME with
// up to 8 decimal places, trailing zeros trimmed.
func FormatAmount(units uint64) string {
	value := btcutil.Amount(units).ToUnit(btcutil.AmountBTC)
	return strconv.FormatFloat(value, 'f', -1, 64) + " TIME"
}

// ParseAmount converts a whole-TIME decimal string into smallest
// units, rejecting values that cannot be represented exactly.
func ParseAmount(s string) (uint64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	amt, err := btcutil.NewAmount(f)
	if err != nil {
		return 0, err
	}
	if amt < 0 || amt.ToBTC() != f {
		return 0, fmt.Errorf("amount %q is not a non-negative multiple of 0.00000001", s)
	}
	return uint64(amt), nil
}

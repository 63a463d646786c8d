package domain

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional decimal digits of one token.
const Decimals = 18

// BasisPointDenominator is the divisor for basis-point rates.
const BasisPointDenominator = 10_000

// Amount is a non-negative fixed-point quantity in base units.
type Amount = uint256.Int

var unit = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))

// MaxAmount is the largest representable amount. As an allowance it means
// unlimited.
var MaxAmount = new(uint256.Int).SetAllOne()

// Zero returns a fresh zero amount.
func Zero() *Amount {
	return new(uint256.Int)
}

// BaseUnits returns n base units.
func BaseUnits(n uint64) *Amount {
	return uint256.NewInt(n)
}

// Tokens returns n whole tokens in base units.
func Tokens(n uint64) *Amount {
	return new(uint256.Int).Mul(uint256.NewInt(n), unit)
}

// ParseAmount parses a base-unit integer string ("1000") into an amount.
func ParseAmount(s string) (*Amount, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

// ParseTokens parses a human decimal token amount ("1.5") into base units.
// More than Decimals fractional digits is an error.
func ParseTokens(s string) (*Amount, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("parse tokens %q: more than %d decimals", s, Decimals)
	}
	frac += strings.Repeat("0", Decimals-len(frac))

	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return Zero(), nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("parse tokens %q: %w", s, err)
	}
	return v, nil
}

// FormatTokens renders base units as a human decimal token amount without
// trailing fractional zeros.
func FormatTokens(a *Amount) string {
	if a == nil {
		return "0"
	}
	q, r := new(uint256.Int).DivMod(a, unit, new(uint256.Int))
	if r.IsZero() {
		return q.Dec()
	}
	frac := r.Dec()
	frac = strings.Repeat("0", Decimals-len(frac)) + frac
	return q.Dec() + "." + strings.TrimRight(frac, "0")
}

// CloneAmount returns a copy of a, treating nil as zero.
func CloneAmount(a *Amount) *Amount {
	if a == nil {
		return Zero()
	}
	return new(uint256.Int).Set(a)
}

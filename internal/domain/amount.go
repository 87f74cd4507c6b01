package domain

import (
	"fmt"
	"strings"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Decimals is the number of base units per token, as a power of ten.
const Decimals = 18

// OneToken is 10^18 base units.
var OneToken = math.NewIntWithDecimal(1, Decimals)

// Tokens returns n whole tokens in base units.
func Tokens(n int64) math.Int {
	return math.NewInt(n).Mul(OneToken)
}

// ParseAmount parses a decimal token amount ("0.001") into base units.
func ParseAmount(s string) (math.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.Int{}, fmt.Errorf("amount required")
	}
	d, err := math.LegacyNewDecFromStr(s)
	if err != nil {
		return math.Int{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return math.Int{}, fmt.Errorf("invalid amount %q: negative", s)
	}
	return d.MulInt(OneToken).TruncateInt(), nil
}

// MustAmount is ParseAmount for constants and tests.
func MustAmount(s string) math.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatAmount renders base units as a decimal token amount without trailing zeros.
func FormatAmount(v math.Int) string {
	if v.IsNil() {
		return "0"
	}
	s := math.LegacyNewDecFromIntWithPrec(v, Decimals).String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// ParseFraction parses a non-negative decimal such as "0.1".
func ParseFraction(s string) (math.LegacyDec, error) {
	d, err := math.LegacyNewDecFromStr(strings.TrimSpace(s))
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("invalid fraction %q: %w", s, err)
	}
	if d.IsNegative() {
		return math.LegacyDec{}, fmt.Errorf("invalid fraction %q: negative", s)
	}
	return d, nil
}

// NormalizeAddress validates a hex address and returns its checksummed form.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// MustAddress is NormalizeAddress for constants and tests.
func MustAddress(s string) string {
	a, err := NormalizeAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// ZeroAddress is the all-zero address.
var ZeroAddress = common.Address{}.Hex()

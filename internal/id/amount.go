package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	clierr "github.com/gustavo/lendctl/internal/errors"
)

// MaxSentinel is the reserved amount input meaning "use the full
// available balance or outstanding debt".
const MaxSentinel = "max"

var (
	decimalPattern    = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	scientificPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?[eE][+-]?[0-9]+$`)
)

// MaxUint256 is what the pool contracts interpret as "everything".
// It is a protocol marker and must never be rendered through FromAtomic.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// IsMax reports whether the human amount input is the max sentinel.
func IsMax(amount string) bool {
	return strings.EqualFold(strings.TrimSpace(amount), MaxSentinel)
}

// ToAtomic converts a human decimal amount into integer atomic units for
// a token with the given decimal precision. Fractional digits beyond the
// precision are truncated, matching on-chain semantics. The max sentinel
// always yields MaxUint256.
func ToAtomic(amount string, decimals int) (*big.Int, error) {
	clean := strings.TrimSpace(amount)
	if IsMax(clean) {
		return new(big.Int).Set(MaxUint256), nil
	}
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "token decimals must be >= 0")
	}
	if scientificPattern.MatchString(clean) {
		expanded, err := expandScientific(clean)
		if err != nil {
			return nil, err
		}
		clean = expanded
	}
	if !decimalPattern.MatchString(clean) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid amount format: %s", amount))
	}

	intPart, fracPart, _ := strings.Cut(clean, ".")
	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	} else {
		fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))
	}
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return big.NewInt(0), nil
	}
	out, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid amount format: %s", amount))
	}
	return out, nil
}

// FromAtomic renders an atomic amount as a human decimal string with
// trailing fractional zeros stripped. Zero renders as "0". Callers must
// branch on the max sentinel before formatting; it has no human form.
func FromAtomic(amount *big.Int, decimals int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}
	s := amount.String()
	if decimals <= 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// expandScientific rewrites "1.5e3" style input into plain decimal form
// by shifting the decimal point, keeping the conversion exact.
func expandScientific(v string) (string, error) {
	mantissa, expPart, _ := strings.Cut(strings.ToLower(v), "e")
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid amount format: %s", v))
	}
	intPart, fracPart, _ := strings.Cut(mantissa, ".")
	digits := intPart + fracPart
	point := len(intPart) + exp

	switch {
	case point <= 0:
		return "0." + strings.Repeat("0", -point) + digits, nil
	case point >= len(digits):
		return digits + strings.Repeat("0", point-len(digits)), nil
	default:
		return digits[:point] + "." + digits[point:], nil
	}
}

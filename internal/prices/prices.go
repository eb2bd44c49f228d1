package prices

import (
	"context"
	"strings"
)

// Estimator converts a human token amount into a rough ETH-equivalent
// value for the borrow capacity pre-check. Estimates are approximate;
// the pool's own oracle has the final word at execution time.
type Estimator interface {
	ETHValue(ctx context.Context, symbol string, amount float64) (float64, error)
}

// DefaultETHUSDRate is a deliberately rough placeholder used when no
// live rate is available.
const DefaultETHUSDRate = 3000.0

func isETHPegged(symbol string) bool {
	switch strings.ToUpper(strings.TrimSpace(symbol)) {
	case "WETH", "WSTETH", "CBETH":
		return true
	default:
		return false
	}
}

func isUSDStable(symbol string) bool {
	switch strings.ToUpper(strings.TrimSpace(symbol)) {
	case "USDC", "USDT", "DAI", "GHO":
		return true
	default:
		return false
	}
}

// Static estimates with a fixed USD/ETH rate: ETH-pegged assets convert
// 1:1, USD stables divide by the rate, anything else falls back to 1:1.
type Static struct {
	ETHUSDRate float64
}

func NewStatic(rate float64) Static {
	if rate <= 0 {
		rate = DefaultETHUSDRate
	}
	return Static{ETHUSDRate: rate}
}

func (s Static) ETHValue(_ context.Context, symbol string, amount float64) (float64, error) {
	if isUSDStable(symbol) {
		return amount / s.ETHUSDRate, nil
	}
	return amount, nil
}

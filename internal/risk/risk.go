package risk

import (
	"fmt"
	"math"
)

// Band is a qualitative liquidation-risk classification derived from
// the health factor. It is recomputed on demand and never cached.
type Band string

const (
	BandNoDebt  Band = "no_debt"
	BandHealthy Band = "healthy"
	BandCaution Band = "caution"
	BandDanger  Band = "danger"
)

const (
	healthyThreshold = 2.0
	cautionThreshold = 1.1
)

// Classify maps a health factor to its band. Total over all inputs.
func Classify(healthFactor float64) Band {
	switch {
	case math.IsInf(healthFactor, 1):
		return BandNoDebt
	case healthFactor >= healthyThreshold:
		return BandHealthy
	case healthFactor >= cautionThreshold:
		return BandCaution
	default:
		return BandDanger
	}
}

// Label is the human name shown next to the health factor.
func (b Band) Label() string {
	switch b {
	case BandNoDebt:
		return "No borrows"
	case BandHealthy:
		return "Healthy"
	case BandCaution:
		return "Caution"
	default:
		return "Danger - Risk of Liquidation"
	}
}

// Warning returns a liquidation warning for the danger band and an
// empty string otherwise.
func Warning(healthFactor float64) string {
	if Classify(healthFactor) != BandDanger {
		return ""
	}
	return fmt.Sprintf("WARNING: Your health factor is now %.2f, which is dangerously low. Consider repaying some debt or adding more collateral to avoid liquidation.", healthFactor)
}

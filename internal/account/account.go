package account

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/gustavo/lendctl/internal/errors"
	"github.com/gustavo/lendctl/internal/ledger"
	"github.com/gustavo/lendctl/internal/registry"
)

// Base-unit scales used by getUserAccountData: monetary aggregates are
// 18-decimal fixed point, threshold and LTV are basis points.
const (
	baseScaleDecimals = 18
	bpsScaleDecimals  = 4
)

// Metrics is a point-in-time snapshot of an account's pool position,
// scaled to human decimal units. HealthFactor is +Inf when the account
// carries no debt.
type Metrics struct {
	TotalCollateralBase  float64
	TotalDebtBase        float64
	AvailableBorrowsBase float64
	LiquidationThreshold float64
	LoanToValue          float64
	HealthFactor         float64
}

func (m Metrics) HasDebt() bool { return m.TotalDebtBase > 0 }

func (m Metrics) HasCollateral() bool { return m.TotalCollateralBase > 0 }

func (m Metrics) NoBorrows() bool { return math.IsInf(m.HealthFactor, 1) }

// Infinite is the no-debt snapshot used as a fallback when a metrics
// read is tolerated to fail.
func Infinite() Metrics {
	return Metrics{HealthFactor: math.Inf(1)}
}

// Reader fetches account aggregates from the pool contract. Every call
// is an independent read reflecting current ledger state; nothing is
// cached.
type Reader struct {
	client ledger.Client
	pool   common.Address
}

func NewReader(client ledger.Client, pool common.Address) *Reader {
	return &Reader{client: client, pool: pool}
}

// Metrics reads getUserAccountData for the account and scales the six
// raw integers into decimal units.
func (r *Reader) Metrics(ctx context.Context, acct common.Address) (Metrics, error) {
	out, err := r.client.ReadContract(ctx, r.pool, registry.AavePoolABI, "getUserAccountData", acct)
	if err != nil {
		return Metrics{}, clierr.Wrap(clierr.CodeAccountQuery, "read account data", err)
	}
	if len(out) != 6 {
		return Metrics{}, clierr.New(clierr.CodeAccountQuery, fmt.Sprintf("unexpected account data shape: %d values", len(out)))
	}
	raw := make([]*big.Int, 6)
	for i, v := range out {
		n, ok := v.(*big.Int)
		if !ok || n == nil {
			return Metrics{}, clierr.New(clierr.CodeAccountQuery, "unexpected account data value type")
		}
		raw[i] = n
	}

	metrics := Metrics{
		TotalCollateralBase:  scale(raw[0], baseScaleDecimals),
		TotalDebtBase:        scale(raw[1], baseScaleDecimals),
		AvailableBorrowsBase: scale(raw[2], baseScaleDecimals),
		LiquidationThreshold: scale(raw[3], bpsScaleDecimals),
		LoanToValue:          scale(raw[4], bpsScaleDecimals),
		HealthFactor:         math.Inf(1),
	}
	// A non-positive raw health factor means no debt, not an error.
	if raw[5].Sign() > 0 {
		metrics.HealthFactor = scale(raw[5], baseScaleDecimals)
	}
	return metrics, nil
}

// FormatFactor renders a health factor with two decimal places, using
// the infinity glyph for the no-debt case.
func FormatFactor(hf float64) string {
	if math.IsInf(hf, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.2f", hf)
}

func scale(raw *big.Int, decimals int) float64 {
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), divisor).Float64()
	return out
}

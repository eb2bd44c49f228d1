package portfolio

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gustavo/lendctl/internal/account"
	"github.com/gustavo/lendctl/internal/id"
	"github.com/gustavo/lendctl/internal/ledger"
	"github.com/gustavo/lendctl/internal/registry"
	"github.com/gustavo/lendctl/internal/risk"
)

// Reporter renders a read-only markdown snapshot of an account's pool
// position. It fetches metrics once per report and never mutates state.
type Reporter struct {
	client ledger.Client
}

func NewReporter(client ledger.Client) *Reporter {
	return &Reporter{client: client}
}

// BuildReport composes the portfolio markdown for the account, or the
// caller's own address when acct is empty. The reserve-detail section
// is best-effort: any failure while composing it drops the section
// without failing the report.
func (r *Reporter) BuildReport(ctx context.Context, network id.Network, acct string) (string, error) {
	target := r.client.CallerAddress()
	if clean := strings.TrimSpace(acct); clean != "" {
		if !id.IsEVMAddress(clean) {
			return "", fmt.Errorf("invalid account address %q", acct)
		}
		target = common.HexToAddress(clean)
	}

	poolHex, err := registry.PoolAddress(network)
	if err != nil {
		return "", err
	}
	reader := account.NewReader(r.client, common.HexToAddress(poolHex))
	metrics, err := reader.Metrics(ctx, target)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Aave Portfolio for %s\n\n", shortAddress(target))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "**Total Collateral:** %.4f ETH\n", metrics.TotalCollateralBase)
	fmt.Fprintf(&b, "**Total Debt:** %.4f ETH\n", metrics.TotalDebtBase)
	fmt.Fprintf(&b, "**Available to Borrow:** %.4f ETH\n", metrics.AvailableBorrowsBase)
	fmt.Fprintf(&b, "**Liquidation Threshold:** %.2f%%\n", metrics.LiquidationThreshold*100)
	fmt.Fprintf(&b, "**Loan to Value:** %.2f%%\n", metrics.LoanToValue*100)

	band := risk.Classify(metrics.HealthFactor)
	fmt.Fprintf(&b, "**Health Factor:** %s (%s)\n", account.FormatFactor(metrics.HealthFactor), band.Label())

	if details := r.reserveDetails(ctx, network); details != "" {
		b.WriteString("\n## Reserve Details\n\n")
		b.WriteString(details)
	}

	b.WriteString("\n## Recommendations\n\n")
	switch {
	case band == risk.BandDanger:
		b.WriteString("- **WARNING**: Your position is at risk of liquidation. Consider repaying some debt or adding more collateral.\n")
	case metrics.HasCollateral() && !metrics.HasDebt():
		b.WriteString("- You have supplied collateral but have no borrows. You can borrow against your collateral or withdraw if needed.\n")
	case metrics.AvailableBorrowsBase > 0:
		fmt.Fprintf(&b, "- You can safely borrow up to %.4f ETH more.\n", metrics.AvailableBorrowsBase)
	}

	return b.String(), nil
}

// reserveDetails lists the reserve assets addressable on the network
// with their on-chain symbols. Returns "" on any failure.
func (r *Reporter) reserveDetails(ctx context.Context, network id.Network) string {
	assets := registry.SupportedAssets(network)
	if len(assets) == 0 {
		return ""
	}
	sort.Strings(assets)

	var b strings.Builder
	for _, assetID := range assets {
		addrHex, err := registry.AssetAddress(network, assetID)
		if err != nil {
			return ""
		}
		addr := common.HexToAddress(addrHex)
		out, err := r.client.ReadContract(ctx, addr, registry.ERC20ABI, "symbol")
		if err != nil || len(out) != 1 {
			return ""
		}
		symbol, ok := out[0].(string)
		if !ok || symbol == "" {
			return ""
		}
		fmt.Fprintf(&b, "- **%s** (`%s`)\n", symbol, addr.Hex())
	}
	return b.String()
}

func shortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

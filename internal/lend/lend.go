package lend

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gustavo/lendctl/internal/account"
	clierr "github.com/gustavo/lendctl/internal/errors"
	"github.com/gustavo/lendctl/internal/id"
	"github.com/gustavo/lendctl/internal/ledger"
	"github.com/gustavo/lendctl/internal/prices"
	"github.com/gustavo/lendctl/internal/registry"
	"github.com/gustavo/lendctl/internal/risk"
)

// Kind tags an operation request with the mutation it performs.
type Kind string

const (
	KindSupply   Kind = "supply"
	KindWithdraw Kind = "withdraw"
	KindBorrow   Kind = "borrow"
	KindRepay    Kind = "repay"
)

// Request carries the parameters of one lend operation. Amount is a
// human decimal string, or the "max" sentinel where the operation
// accepts it (withdraw, repay). OnBehalfOf and To default to the
// caller's own address when empty; InterestRateMode defaults to
// variable (2).
type Request struct {
	Kind             Kind
	Network          id.Network
	Asset            string
	Amount           string
	OnBehalfOf       string
	To               string
	InterestRateMode int64
	ReferralCode     uint16
}

// Result is the outcome of a single operation invocation. Message is
// always set: the success text, or an "Error ..." string describing the
// failure. Err carries the typed cause for exit-code mapping and is nil
// on success. Results are never persisted.
type Result struct {
	Success  bool
	TxHash   string
	Before   account.Metrics
	After    account.Metrics
	Message  string
	Warnings []string
	Err      error
}

// Orchestrator sequences the resolve, pre-check, approve, execute and
// reconcile steps of each lend operation against the pool. Every public
// call is synchronous and independent; no state is shared across
// invocations.
type Orchestrator struct {
	client ledger.Client
	prices prices.Estimator
}

func New(client ledger.Client, estimator prices.Estimator) *Orchestrator {
	if estimator == nil {
		estimator = prices.NewStatic(0)
	}
	return &Orchestrator{client: client, prices: estimator}
}

// Do dispatches a tagged request to its operation handler. Failures
// never escape as errors; they are reported inside the Result.
func (o *Orchestrator) Do(ctx context.Context, req Request) Result {
	switch req.Kind {
	case KindSupply:
		return o.supply(ctx, req)
	case KindWithdraw:
		return o.withdraw(ctx, req)
	case KindBorrow:
		return o.borrow(ctx, req)
	case KindRepay:
		return o.repay(ctx, req)
	default:
		err := clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown operation %q", string(req.Kind)))
		return Result{Message: "Error: " + err.Message, Err: err}
	}
}

// snapshotFallback selects what a metrics read failure turns into at a
// given call site. Propagate is used where the read gates a safety
// decision; the others where the operation can proceed without it.
type snapshotFallback int

const (
	fallbackPropagate snapshotFallback = iota
	fallbackUseInfinity
	fallbackUsePrevious
)

func (o *Orchestrator) supply(ctx context.Context, req Request) Result {
	env, err := o.prepare(ctx, req)
	if err != nil {
		return fail(err, fmt.Sprintf("Error supplying to Aave: %v", err))
	}

	balance, err := o.tokenBalance(ctx, env.asset, env.caller)
	if err != nil {
		return fail(err, fmt.Sprintf("Error supplying to Aave: %v", err))
	}
	if balance.Cmp(env.atomic) < 0 {
		held := id.FromAtomic(balance, env.decimals)
		err := clierr.New(clierr.CodePrecondition, fmt.Sprintf("insufficient balance: have %s, want %s", held, req.Amount))
		return fail(err, fmt.Sprintf("Error: Insufficient balance. You have %s %s, but trying to supply %s", held, req.Asset, req.Amount))
	}

	before, _ := o.snapshot(ctx, env, fallbackUseInfinity, account.Metrics{})

	if err := o.approve(ctx, env.asset, env.pool, env.atomic); err != nil {
		return fail(err, fmt.Sprintf("Error approving token: %v", err))
	}

	onBehalfOf, err := optionalAddress(req.OnBehalfOf, env.caller)
	if err != nil {
		return fail(err, fmt.Sprintf("Error supplying to Aave: %v", err))
	}
	data, err := poolABI.Pack("supply", env.asset, env.atomic, onBehalfOf, req.ReferralCode)
	if err != nil {
		err := clierr.Wrap(clierr.CodeInternal, "pack supply calldata", err)
		return fail(err, fmt.Sprintf("Error supplying to Aave: %v", err))
	}
	receipt, err := o.execute(ctx, env.pool, data)
	if err != nil {
		return fail(err, fmt.Sprintf("Error executing supply transaction: %v", err))
	}
	if !receipt.Succeeded() {
		err := revertError(receipt.TxHash)
		return Result{
			TxHash:  receipt.TxHash,
			Before:  before,
			Message: "Error: Transaction failed. The asset may not be enabled for supply on this market.",
			Err:     err,
		}
	}

	after, _ := o.snapshot(ctx, env, fallbackUsePrevious, before)
	symbol := o.tokenSymbol(ctx, env.asset, req.Asset)

	msg := fmt.Sprintf("Successfully supplied %s %s to Aave.\nTransaction hash: %s", req.Amount, symbol, receipt.TxHash)
	msg += healthLine(before, after)
	return Result{Success: true, TxHash: receipt.TxHash, Before: before, After: after, Message: msg}
}

func (o *Orchestrator) withdraw(ctx context.Context, req Request) Result {
	env, err := o.prepare(ctx, req)
	if err != nil {
		return fail(err, fmt.Sprintf("Error withdrawing from Aave: %v", err))
	}

	// The before snapshot gates the max-withdraw safety check, so a
	// failed read aborts here instead of falling back.
	before, err := o.snapshot(ctx, env, fallbackPropagate, account.Metrics{})
	if err != nil {
		return fail(err, fmt.Sprintf("Error checking account data: %v", err))
	}
	if id.IsMax(req.Amount) && before.HasDebt() {
		err := clierr.New(clierr.CodePrecondition, "cannot withdraw all collateral while debt is outstanding")
		return fail(err, "Error: You have active borrows. You cannot withdraw all your collateral. Specify an exact amount instead.")
	}

	to, err := optionalAddress(req.To, env.caller)
	if err != nil {
		return fail(err, fmt.Sprintf("Error withdrawing from Aave: %v", err))
	}
	data, err := poolABI.Pack("withdraw", env.asset, env.atomic, to)
	if err != nil {
		err := clierr.Wrap(clierr.CodeInternal, "pack withdraw calldata", err)
		return fail(err, fmt.Sprintf("Error withdrawing from Aave: %v", err))
	}
	receipt, err := o.execute(ctx, env.pool, data)
	if err != nil {
		return fail(err, fmt.Sprintf("Error executing withdraw transaction: %v", err))
	}
	if !receipt.Succeeded() {
		err := revertError(receipt.TxHash)
		return Result{
			TxHash:  receipt.TxHash,
			Before:  before,
			Message: "Error: Transaction failed. Your health factor may be at risk if you withdraw this amount.",
			Err:     err,
		}
	}

	after, _ := o.snapshot(ctx, env, fallbackUseInfinity, before)
	symbol := o.tokenSymbol(ctx, env.asset, req.Asset)
	display := req.Amount
	if id.IsMax(req.Amount) {
		display = "all available"
	}

	msg := fmt.Sprintf("Successfully withdrew %s %s from Aave.\nTransaction hash: %s", display, symbol, receipt.TxHash)
	msg += healthLine(before, after)
	return Result{Success: true, TxHash: receipt.TxHash, Before: before, After: after, Message: msg}
}

func (o *Orchestrator) borrow(ctx context.Context, req Request) Result {
	if id.IsMax(req.Amount) {
		err := clierr.New(clierr.CodeUsage, "borrow requires an explicit amount")
		return fail(err, fmt.Sprintf("Error borrowing from Aave: %v", err))
	}
	rateMode, err := interestRateMode(req.InterestRateMode)
	if err != nil {
		return fail(err, fmt.Sprintf("Error borrowing from Aave: %v", err))
	}
	env, err := o.prepare(ctx, req)
	if err != nil {
		return fail(err, fmt.Sprintf("Error borrowing from Aave: %v", err))
	}

	before, err := o.snapshot(ctx, env, fallbackPropagate, account.Metrics{})
	if err != nil {
		return fail(err, fmt.Sprintf("Error checking account data: %v", err))
	}
	if !before.HasCollateral() {
		err := clierr.New(clierr.CodePrecondition, "no collateral supplied")
		return fail(err, "Error: You have no collateral supplied. Supply assets as collateral before borrowing.")
	}

	symbol := o.tokenSymbol(ctx, env.asset, req.Asset)
	if capErr := o.checkBorrowCapacity(ctx, symbol, req.Amount, before); capErr != nil {
		return fail(capErr, fmt.Sprintf("Error: Insufficient borrowing capacity. You can borrow up to %.4f ETH worth of assets.", before.AvailableBorrowsBase))
	}

	onBehalfOf, err := optionalAddress(req.OnBehalfOf, env.caller)
	if err != nil {
		return fail(err, fmt.Sprintf("Error borrowing from Aave: %v", err))
	}
	data, err := poolABI.Pack("borrow", env.asset, env.atomic, big.NewInt(rateMode), req.ReferralCode, onBehalfOf)
	if err != nil {
		err := clierr.Wrap(clierr.CodeInternal, "pack borrow calldata", err)
		return fail(err, fmt.Sprintf("Error borrowing from Aave: %v", err))
	}
	receipt, err := o.execute(ctx, env.pool, data)
	if err != nil {
		return fail(err, fmt.Sprintf("Error executing borrow transaction: %v", err))
	}
	if !receipt.Succeeded() {
		err := revertError(receipt.TxHash)
		return Result{
			TxHash:  receipt.TxHash,
			Before:  before,
			Message: "Error: Transaction failed. The borrow may exceed your available borrowing capacity.",
			Err:     err,
		}
	}

	after, _ := o.snapshot(ctx, env, fallbackUseInfinity, before)

	msg := fmt.Sprintf("Successfully borrowed %s %s from Aave with %s interest rate.\nTransaction hash: %s",
		req.Amount, symbol, rateModeName(rateMode), receipt.TxHash)
	msg += healthLine(before, after)
	result := Result{Success: true, TxHash: receipt.TxHash, Before: before, After: after, Message: msg}
	if warning := risk.Warning(after.HealthFactor); warning != "" {
		result.Warnings = append(result.Warnings, warning)
		result.Message += "\n" + warning
	}
	return result
}

func (o *Orchestrator) repay(ctx context.Context, req Request) Result {
	rateMode, err := interestRateMode(req.InterestRateMode)
	if err != nil {
		return fail(err, fmt.Sprintf("Error repaying to Aave: %v", err))
	}
	env, err := o.prepare(ctx, req)
	if err != nil {
		return fail(err, fmt.Sprintf("Error repaying to Aave: %v", err))
	}

	// A max repay settles against whatever the wallet holds, so the
	// balance pre-check only applies to explicit amounts.
	if !id.IsMax(req.Amount) {
		balance, err := o.tokenBalance(ctx, env.asset, env.caller)
		if err != nil {
			return fail(err, fmt.Sprintf("Error repaying to Aave: %v", err))
		}
		if balance.Cmp(env.atomic) < 0 {
			held := id.FromAtomic(balance, env.decimals)
			err := clierr.New(clierr.CodePrecondition, fmt.Sprintf("insufficient balance: have %s, want %s", held, req.Amount))
			return fail(err, fmt.Sprintf("Error: Insufficient balance. You have %s %s, but trying to repay %s", held, req.Asset, req.Amount))
		}
	}

	before, _ := o.snapshot(ctx, env, fallbackUseInfinity, account.Metrics{})

	if err := o.approve(ctx, env.asset, env.pool, env.atomic); err != nil {
		return fail(err, fmt.Sprintf("Error approving token: %v", err))
	}

	onBehalfOf, err := optionalAddress(req.OnBehalfOf, env.caller)
	if err != nil {
		return fail(err, fmt.Sprintf("Error repaying to Aave: %v", err))
	}
	data, err := poolABI.Pack("repay", env.asset, env.atomic, big.NewInt(rateMode), onBehalfOf)
	if err != nil {
		err := clierr.Wrap(clierr.CodeInternal, "pack repay calldata", err)
		return fail(err, fmt.Sprintf("Error repaying to Aave: %v", err))
	}
	receipt, err := o.execute(ctx, env.pool, data)
	if err != nil {
		return fail(err, fmt.Sprintf("Error executing repay transaction: %v", err))
	}
	if !receipt.Succeeded() {
		err := revertError(receipt.TxHash)
		return Result{
			TxHash:  receipt.TxHash,
			Before:  before,
			Message: "Error: Transaction failed. You may not have borrowed this asset with the specified interest rate mode.",
			Err:     err,
		}
	}

	after, _ := o.snapshot(ctx, env, fallbackUsePrevious, before)
	symbol := o.tokenSymbol(ctx, env.asset, req.Asset)
	display := req.Amount
	if id.IsMax(req.Amount) {
		display = "all outstanding"
	}

	msg := fmt.Sprintf("Successfully repaid %s %s to Aave with %s interest rate.\nTransaction hash: %s",
		display, symbol, rateModeName(rateMode), receipt.TxHash)
	if after.NoBorrows() {
		msg += "\nYou have repaid all your debt and have no active borrows."
	} else {
		msg += healthLine(before, after)
	}
	return Result{Success: true, TxHash: receipt.TxHash, Before: before, After: after, Message: msg}
}

// operationEnv holds the resolved addresses and quantified amount every
// operation needs before its first ledger write.
type operationEnv struct {
	pool     common.Address
	asset    common.Address
	decimals int
	atomic   *big.Int
	caller   common.Address
	reader   *account.Reader
}

func (o *Orchestrator) prepare(ctx context.Context, req Request) (operationEnv, error) {
	poolHex, err := registry.PoolAddress(req.Network)
	if err != nil {
		return operationEnv{}, err
	}
	assetHex, err := registry.AssetAddress(req.Network, req.Asset)
	if err != nil {
		return operationEnv{}, err
	}
	env := operationEnv{
		pool:   common.HexToAddress(poolHex),
		asset:  common.HexToAddress(assetHex),
		caller: o.client.CallerAddress(),
	}
	env.reader = account.NewReader(o.client, env.pool)

	env.decimals, err = o.tokenDecimals(ctx, env.asset)
	if err != nil {
		return operationEnv{}, err
	}
	env.atomic, err = id.ToAtomic(req.Amount, env.decimals)
	if err != nil {
		return operationEnv{}, err
	}
	return env, nil
}

func (o *Orchestrator) snapshot(ctx context.Context, env operationEnv, policy snapshotFallback, previous account.Metrics) (account.Metrics, error) {
	metrics, err := env.reader.Metrics(ctx, env.caller)
	if err == nil {
		return metrics, nil
	}
	switch policy {
	case fallbackUseInfinity:
		return account.Infinite(), nil
	case fallbackUsePrevious:
		return previous, nil
	default:
		return account.Metrics{}, err
	}
}

func (o *Orchestrator) tokenDecimals(ctx context.Context, token common.Address) (int, error) {
	out, err := o.client.ReadContract(ctx, token, registry.ERC20ABI, "decimals")
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUnavailable, "read token decimals", err)
	}
	if len(out) == 0 {
		return 0, clierr.New(clierr.CodeUnavailable, "empty decimals response")
	}
	switch v := out[0].(type) {
	case uint8:
		return int(v), nil
	case *big.Int:
		return int(v.Int64()), nil
	default:
		return 0, clierr.New(clierr.CodeUnavailable, "unexpected decimals response type")
	}
}

// tokenSymbol is best-effort: a failed read after the transaction has
// confirmed must not fail the operation, so it falls back to the
// caller-provided asset id.
func (o *Orchestrator) tokenSymbol(ctx context.Context, token common.Address, fallbackID string) string {
	out, err := o.client.ReadContract(ctx, token, registry.ERC20ABI, "symbol")
	if err == nil && len(out) == 1 {
		if symbol, ok := out[0].(string); ok && symbol != "" {
			return symbol
		}
	}
	return strings.ToUpper(strings.TrimSpace(fallbackID))
}

func (o *Orchestrator) tokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := o.client.ReadContract(ctx, token, registry.ERC20ABI, "balanceOf", owner)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read token balance", err)
	}
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, "empty balance response")
	}
	balance, ok := out[0].(*big.Int)
	if !ok || balance == nil {
		return nil, clierr.New(clierr.CodeUnavailable, "unexpected balance response type")
	}
	return balance, nil
}

// approve grants the pool spending rights for the atomic amount and
// waits for confirmation. Any failure here aborts the operation; there
// is no retry.
func (o *Orchestrator) approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return clierr.Wrap(clierr.CodeApproval, "pack approve calldata", err)
	}
	txHash, err := o.client.SendTransaction(ctx, token, data)
	if err != nil {
		return clierr.Wrap(clierr.CodeApproval, "send approval", err)
	}
	receipt, err := o.client.WaitForReceipt(ctx, txHash)
	if err != nil {
		return clierr.Wrap(clierr.CodeApproval, "confirm approval", err)
	}
	if !receipt.Succeeded() {
		return clierr.New(clierr.CodeApproval, fmt.Sprintf("approval transaction %s reverted", receipt.TxHash))
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, to common.Address, data []byte) (ledger.Receipt, error) {
	txHash, err := o.client.SendTransaction(ctx, to, data)
	if err != nil {
		return ledger.Receipt{}, err
	}
	return o.client.WaitForReceipt(ctx, txHash)
}

// checkBorrowCapacity compares a rough ETH-equivalent value of the
// requested amount against the pool's available borrows. The estimate
// is deliberately approximate; the pool's oracle enforces the real
// limit at execution time.
func (o *Orchestrator) checkBorrowCapacity(ctx context.Context, symbol, amount string, before account.Metrics) error {
	requested, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "parse borrow amount", err)
	}
	ethValue, err := o.prices.ETHValue(ctx, symbol, requested)
	if err != nil {
		ethValue = requested
	}
	if ethValue > before.AvailableBorrowsBase {
		return clierr.New(clierr.CodePrecondition, fmt.Sprintf("requested about %.4f ETH of borrow against %.4f ETH available", ethValue, before.AvailableBorrowsBase))
	}
	return nil
}

func optionalAddress(v string, fallback common.Address) (common.Address, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return fallback, nil
	}
	if !id.IsEVMAddress(clean) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid address %q", v))
	}
	return common.HexToAddress(clean), nil
}

func interestRateMode(mode int64) (int64, error) {
	if mode == 0 {
		return 2, nil
	}
	if mode != 1 && mode != 2 {
		return 0, clierr.New(clierr.CodeUsage, "interest rate mode must be 1 (stable) or 2 (variable)")
	}
	return mode, nil
}

func rateModeName(mode int64) string {
	if mode == 1 {
		return "stable"
	}
	return "variable"
}

// healthLine renders the before/after health factor delta, or nothing
// when neither side carries debt.
func healthLine(before, after account.Metrics) string {
	if before.NoBorrows() && after.NoBorrows() {
		return ""
	}
	return fmt.Sprintf("\nHealth factor changed from %s to %s",
		account.FormatFactor(before.HealthFactor), account.FormatFactor(after.HealthFactor))
}

func revertError(txHash string) error {
	return clierr.New(clierr.CodeReverted, fmt.Sprintf("transaction %s reverted", txHash))
}

func fail(err error, message string) Result {
	return Result{Message: message, Err: err}
}

var (
	erc20ABI = mustABI(registry.ERC20ABI)
	poolABI  = mustABI(registry.AavePoolABI)
)

func mustABI(abiJSON string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}

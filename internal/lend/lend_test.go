package lend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/gustavo/lendctl/internal/errors"
	"github.com/gustavo/lendctl/internal/id"
	"github.com/gustavo/lendctl/internal/ledger"
	"github.com/gustavo/lendctl/internal/prices"
)

type sentTx struct {
	to   common.Address
	data []byte
}

type scriptedRead struct {
	out []any
	err error
}

// scriptedClient replays canned contract reads and records every
// transaction it is asked to send. Account-data reads are consumed as a
// queue so before and after snapshots can differ.
type scriptedClient struct {
	decimals uint8
	symbol   string
	balance  *big.Int
	account  []scriptedRead

	sent     []sentTx
	sendErr  error
	statuses []uint64
}

func (f *scriptedClient) ReadContract(_ context.Context, _ common.Address, _, method string, _ ...any) ([]any, error) {
	switch method {
	case "decimals":
		return []any{f.decimals}, nil
	case "symbol":
		return []any{f.symbol}, nil
	case "balanceOf":
		return []any{f.balance}, nil
	case "getUserAccountData":
		if len(f.account) == 0 {
			return nil, errors.New("no scripted account data left")
		}
		next := f.account[0]
		f.account = f.account[1:]
		return next.out, next.err
	default:
		return nil, fmt.Errorf("unscripted read %s", method)
	}
}

func (f *scriptedClient) SendTransaction(_ context.Context, to common.Address, data []byte) (common.Hash, error) {
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, sentTx{to: to, data: data})
	return common.BytesToHash([]byte{byte(len(f.sent))}), nil
}

func (f *scriptedClient) WaitForReceipt(_ context.Context, txHash common.Hash) (ledger.Receipt, error) {
	index := int(txHash[len(txHash)-1]) - 1
	status := uint64(1)
	if index >= 0 && index < len(f.statuses) {
		status = f.statuses[index]
	}
	return ledger.Receipt{TxHash: txHash.Hex(), Status: status}, nil
}

func (f *scriptedClient) CallerAddress() common.Address {
	return common.HexToAddress("0x1111111111111111111111111111111111111111")
}

func accountData(collateral, debt, available, threshold, ltv, health string) scriptedRead {
	values := []string{collateral, debt, available, threshold, ltv, health}
	out := make([]any, len(values))
	for i, v := range values {
		n, _ := new(big.Int).SetString(v, 10)
		out[i] = n
	}
	return scriptedRead{out: out}
}

func noDebtAccount() scriptedRead {
	return accountData("0", "0", "0", "0", "0", "0")
}

func testNetwork(t *testing.T) id.Network {
	t.Helper()
	network, err := id.ParseNetwork("base")
	if err != nil {
		t.Fatalf("parse network: %v", err)
	}
	return network
}

func atomic(v string) *big.Int {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		panic("bad test amount " + v)
	}
	return n
}

func TestSupplyInsufficientBalance(t *testing.T) {
	client := &scriptedClient{decimals: 6, symbol: "USDC", balance: atomic("50000000")}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindSupply, Network: testNetwork(t), Asset: "usdc", Amount: "100",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	want := "Error: Insufficient balance. You have 50 usdc, but trying to supply 100"
	if result.Message != want {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if clierr.CodeOf(result.Err) != clierr.CodePrecondition {
		t.Fatalf("unexpected error code: %v", clierr.CodeOf(result.Err))
	}
	if len(client.sent) != 0 {
		t.Fatalf("expected no transactions, sent %d", len(client.sent))
	}
}

func TestSupplyEndToEndOmitsHealthLineWhenNoDebt(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		balance:  atomic("2000000000000000000"),
		account:  []scriptedRead{noDebtAccount(), noDebtAccount()},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindSupply, Network: testNetwork(t), Asset: "weth", Amount: "1",
	})

	if !result.Success || result.Err != nil {
		t.Fatalf("expected success, got %q (%v)", result.Message, result.Err)
	}
	if len(client.sent) != 2 {
		t.Fatalf("expected approve then supply, sent %d transactions", len(client.sent))
	}
	if !strings.HasPrefix(result.Message, "Successfully supplied 1 WETH to Aave.") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if !strings.Contains(result.Message, "Transaction hash: "+result.TxHash) {
		t.Fatalf("message missing transaction hash: %q", result.Message)
	}
	if strings.Contains(result.Message, "Health factor") {
		t.Fatalf("health delta should be omitted when neither side has debt: %q", result.Message)
	}
}

func TestSupplyHealthDeltaLine(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		balance:  atomic("2000000000000000000"),
		account: []scriptedRead{
			accountData("2000000000000000000", "500000000000000000", "1000000000000000000", "8250", "8000", "3000000000000000000"),
			accountData("3000000000000000000", "500000000000000000", "1500000000000000000", "8250", "8000", "2500000000000000000"),
		},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindSupply, Network: testNetwork(t), Asset: "weth", Amount: "1",
	})

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Message)
	}
	if !strings.Contains(result.Message, "Health factor changed from 3.00 to 2.50") {
		t.Fatalf("missing health delta: %q", result.Message)
	}
}

func TestSupplyApprovalFailureAborts(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		balance:  atomic("2000000000000000000"),
		account:  []scriptedRead{noDebtAccount()},
		sendErr:  errors.New("nonce too low"),
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindSupply, Network: testNetwork(t), Asset: "weth", Amount: "1",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(result.Message, "Error approving token:") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if clierr.CodeOf(result.Err) != clierr.CodeApproval {
		t.Fatalf("unexpected error code: %v", clierr.CodeOf(result.Err))
	}
}

func TestSupplyUnsupportedAsset(t *testing.T) {
	orch := New(&scriptedClient{}, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindSupply, Network: testNetwork(t), Asset: "doge", Amount: "1",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(result.Message, "Error supplying to Aave:") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if clierr.CodeOf(result.Err) != clierr.CodeUnsupported {
		t.Fatalf("unexpected error code: %v", clierr.CodeOf(result.Err))
	}
}

func TestWithdrawMaxWithDebtRejected(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		account: []scriptedRead{
			accountData("2000000000000000000", "500000000000000000", "1000000000000000000", "8250", "8000", "3000000000000000000"),
		},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindWithdraw, Network: testNetwork(t), Asset: "weth", Amount: "max",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	want := "Error: You have active borrows. You cannot withdraw all your collateral. Specify an exact amount instead."
	if result.Message != want {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if len(client.sent) != 0 {
		t.Fatalf("expected no transactions, sent %d", len(client.sent))
	}
}

func TestWithdrawAccountReadFailureIsFatal(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		account:  []scriptedRead{{err: errors.New("rpc timeout")}},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindWithdraw, Network: testNetwork(t), Asset: "weth", Amount: "1",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(result.Message, "Error checking account data:") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if clierr.CodeOf(result.Err) != clierr.CodeAccountQuery {
		t.Fatalf("unexpected error code: %v", clierr.CodeOf(result.Err))
	}
	if len(client.sent) != 0 {
		t.Fatalf("expected no transactions, sent %d", len(client.sent))
	}
}

func TestWithdrawMaxWithoutDebt(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		account: []scriptedRead{
			accountData("2000000000000000000", "0", "1000000000000000000", "8250", "8000", "0"),
			noDebtAccount(),
		},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindWithdraw, Network: testNetwork(t), Asset: "weth", Amount: "max",
	})

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Message)
	}
	if !strings.HasPrefix(result.Message, "Successfully withdrew all available WETH from Aave.") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if len(client.sent) != 1 {
		t.Fatalf("withdraw needs no approval, sent %d transactions", len(client.sent))
	}
}

func TestBorrowNoCollateral(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		account:  []scriptedRead{noDebtAccount()},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindBorrow, Network: testNetwork(t), Asset: "weth", Amount: "1",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	want := "Error: You have no collateral supplied. Supply assets as collateral before borrowing."
	if result.Message != want {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if len(client.sent) != 0 {
		t.Fatalf("expected no transactions, sent %d", len(client.sent))
	}
}

func TestBorrowInsufficientCapacity(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		account: []scriptedRead{
			accountData("2000000000000000000", "0", "500000000000000000", "8250", "8000", "0"),
		},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindBorrow, Network: testNetwork(t), Asset: "weth", Amount: "1",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	want := "Error: Insufficient borrowing capacity. You can borrow up to 0.5000 ETH worth of assets."
	if result.Message != want {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if clierr.CodeOf(result.Err) != clierr.CodePrecondition {
		t.Fatalf("unexpected error code: %v", clierr.CodeOf(result.Err))
	}
}

func TestBorrowStableValueScaledForCapacity(t *testing.T) {
	// 3000 USDC is roughly 1 ETH at the static rate, inside a 1.5 ETH
	// allowance even though 3000 > 1.5 numerically.
	client := &scriptedClient{
		decimals: 6,
		symbol:   "USDC",
		account: []scriptedRead{
			accountData("2000000000000000000", "0", "1500000000000000000", "8250", "8000", "0"),
			accountData("2000000000000000000", "1000000000000000000", "500000000000000000", "8250", "8000", "1650000000000000000"),
		},
	}
	orch := New(client, prices.NewStatic(3000))

	result := orch.Do(context.Background(), Request{
		Kind: KindBorrow, Network: testNetwork(t), Asset: "usdc", Amount: "3000",
	})

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Message)
	}
	if !strings.HasPrefix(result.Message, "Successfully borrowed 3000 USDC from Aave with variable interest rate.") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if !strings.Contains(result.Message, "Health factor changed from ∞ to 1.65") {
		t.Fatalf("missing health delta: %q", result.Message)
	}
}

func TestBorrowRevertReportsCapacityHint(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		account: []scriptedRead{
			accountData("2000000000000000000", "0", "1500000000000000000", "8250", "8000", "0"),
		},
		statuses: []uint64{0},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindBorrow, Network: testNetwork(t), Asset: "weth", Amount: "1",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	want := "Error: Transaction failed. The borrow may exceed your available borrowing capacity."
	if result.Message != want {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if clierr.CodeOf(result.Err) != clierr.CodeReverted {
		t.Fatalf("unexpected error code: %v", clierr.CodeOf(result.Err))
	}
	if result.TxHash == "" {
		t.Fatal("reverted result should still carry the transaction hash")
	}
}

func TestBorrowDangerWarningAppended(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		account: []scriptedRead{
			accountData("2000000000000000000", "0", "1500000000000000000", "8250", "8000", "0"),
			accountData("2000000000000000000", "1500000000000000000", "0", "8250", "8000", "1050000000000000000"),
		},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindBorrow, Network: testNetwork(t), Asset: "weth", Amount: "1",
	})

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Message)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected a liquidation warning, got %v", result.Warnings)
	}
	if !strings.Contains(result.Message, "WARNING: Your health factor is now 1.05") {
		t.Fatalf("missing warning in message: %q", result.Message)
	}
}

func TestBorrowRejectsMaxAmount(t *testing.T) {
	orch := New(&scriptedClient{}, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindBorrow, Network: testNetwork(t), Asset: "weth", Amount: "max",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	if clierr.CodeOf(result.Err) != clierr.CodeUsage {
		t.Fatalf("unexpected error code: %v", clierr.CodeOf(result.Err))
	}
}

func TestRepayMaxReportsDebtCleared(t *testing.T) {
	client := &scriptedClient{
		decimals: 6,
		symbol:   "USDC",
		balance:  atomic("0"),
		account: []scriptedRead{
			accountData("2000000000000000000", "500000000000000000", "1000000000000000000", "8250", "8000", "3000000000000000000"),
			noDebtAccount(),
		},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindRepay, Network: testNetwork(t), Asset: "usdc", Amount: "max",
	})

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Message)
	}
	if !strings.HasPrefix(result.Message, "Successfully repaid all outstanding USDC to Aave with variable interest rate.") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if !strings.Contains(result.Message, "You have repaid all your debt and have no active borrows.") {
		t.Fatalf("missing debt-cleared line: %q", result.Message)
	}
	if len(client.sent) != 2 {
		t.Fatalf("expected approve then repay, sent %d transactions", len(client.sent))
	}
}

func TestRepayInsufficientBalance(t *testing.T) {
	client := &scriptedClient{decimals: 6, symbol: "USDC", balance: atomic("25000000")}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindRepay, Network: testNetwork(t), Asset: "usdc", Amount: "100",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	want := "Error: Insufficient balance. You have 25 usdc, but trying to repay 100"
	if result.Message != want {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if len(client.sent) != 0 {
		t.Fatalf("expected no transactions, sent %d", len(client.sent))
	}
}

func TestRepayRevertReportsRateModeHint(t *testing.T) {
	client := &scriptedClient{
		decimals: 6,
		symbol:   "USDC",
		balance:  atomic("100000000"),
		account: []scriptedRead{
			accountData("2000000000000000000", "500000000000000000", "1000000000000000000", "8250", "8000", "3000000000000000000"),
		},
		statuses: []uint64{1, 0},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindRepay, Network: testNetwork(t), Asset: "usdc", Amount: "50",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	want := "Error: Transaction failed. You may not have borrowed this asset with the specified interest rate mode."
	if result.Message != want {
		t.Fatalf("unexpected message: %q", result.Message)
	}
}

func TestInterestRateModeValidation(t *testing.T) {
	if mode, err := interestRateMode(0); err != nil || mode != 2 {
		t.Fatalf("default mode: %d (%v)", mode, err)
	}
	if mode, err := interestRateMode(1); err != nil || mode != 1 {
		t.Fatalf("stable mode: %d (%v)", mode, err)
	}
	if _, err := interestRateMode(3); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestUnknownOperationKind(t *testing.T) {
	orch := New(&scriptedClient{}, nil)

	result := orch.Do(context.Background(), Request{Kind: Kind("stake")})
	if result.Success {
		t.Fatal("expected failure")
	}
	if clierr.CodeOf(result.Err) != clierr.CodeUsage {
		t.Fatalf("unexpected error code: %v", clierr.CodeOf(result.Err))
	}
}

func failedRead() scriptedRead {
	return scriptedRead{err: errors.New("rpc unavailable")}
}

func TestSupplyToleratesBeforeReadFailure(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		balance:  atomic("2000000000000000000"),
		account: []scriptedRead{
			failedRead(),
			noDebtAccount(),
		},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindSupply, Network: testNetwork(t), Asset: "weth", Amount: "1",
	})

	if !result.Success {
		t.Fatalf("expected success despite failed before read, got %q", result.Message)
	}
	if !math.IsInf(result.Before.HealthFactor, 1) {
		t.Fatalf("before snapshot should fall back to infinity, got %v", result.Before.HealthFactor)
	}
	if strings.Contains(result.Message, "Health factor") {
		t.Fatalf("expected no health delta line, got %q", result.Message)
	}
	if len(client.sent) != 2 {
		t.Fatalf("expected approve and supply transactions, sent %d", len(client.sent))
	}
}

func TestRepayKeepsBeforeMetricsWhenAfterReadFails(t *testing.T) {
	client := &scriptedClient{
		decimals: 18,
		symbol:   "WETH",
		balance:  atomic("1000000000000000000"),
		account: []scriptedRead{
			accountData("2000000000000000000", "500000000000000000", "1000000000000000000", "8250", "8000", "1500000000000000000"),
			failedRead(),
		},
	}
	orch := New(client, prices.NewStatic(0))

	result := orch.Do(context.Background(), Request{
		Kind: KindRepay, Network: testNetwork(t), Asset: "weth", Amount: "0.1",
	})

	if !result.Success {
		t.Fatalf("expected success despite failed after read, got %q", result.Message)
	}
	if result.After != result.Before {
		t.Fatalf("after snapshot should fall back to before: %+v vs %+v", result.After, result.Before)
	}
	if !strings.Contains(result.Message, "Health factor changed from 1.50 to 1.50") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if len(client.sent) != 2 {
		t.Fatalf("expected approve and repay transactions, sent %d", len(client.sent))
	}
}

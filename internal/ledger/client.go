package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt is the confirmation outcome of a submitted transaction.
// Status mirrors the EVM receipt status field: 1 success, 0 reverted.
type Receipt struct {
	TxHash      string
	Status      uint64
	GasUsed     uint64
	BlockNumber uint64
}

func (r Receipt) Succeeded() bool { return r.Status == 1 }

// Client is the remote-ledger collaborator: contract reads, transaction
// submission, and receipt confirmation. Implementations own RPC-level
// timeout and retry policy; callers sequence the operations.
type Client interface {
	// ReadContract issues an eth_call against a view function and
	// returns the decoded output values in declaration order.
	ReadContract(ctx context.Context, contract common.Address, abiJSON, method string, args ...any) ([]any, error)

	// SendTransaction signs and broadcasts a calldata payload to the
	// target contract, returning the transaction hash.
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)

	// WaitForReceipt blocks until the transaction is mined or the
	// configured receipt timeout elapses. A mined-but-reverted
	// transaction is a successful wait with Status 0, not an error.
	WaitForReceipt(ctx context.Context, txHash common.Hash) (Receipt, error)

	// CallerAddress is the address transactions are sent from.
	CallerAddress() common.Address
}

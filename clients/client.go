// Package clients provides the chain-access capability the verification and
// settlement services depend on. The core never owns blockchain connectivity
// directly; it talks to a ChainClient injected at startup.
package clients

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/seipaylabs/s402/types"
)

// ErrReceiptNotFound is returned when the chain has no receipt for a hash.
// It distinguishes "transaction unknown" from transient RPC faults.
var ErrReceiptNotFound = errors.New("transaction receipt not found")

// Receipt is the subset of an EVM transaction receipt verification needs.
// To is taken from the transaction itself since EVM receipts do not carry
// the destination address.
type Receipt struct {
	TxHash  common.Hash
	To      common.Address
	Success bool
}

// ChainClient is the capability surface the payment core requires: read a
// receipt, read the chain id, and submit a transfer authorization. All
// blocking operations take a context.
type ChainClient interface {
	// ChainID returns the connected chain's id.
	ChainID(ctx context.Context) (*big.Int, error)

	// TransactionReceipt fetches the receipt for a transaction hash.
	// Returns ErrReceiptNotFound if the chain has no such transaction.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error)

	// SubmitTransferAuthorization submits an EIP-3009 authorization to the
	// asset contract and returns the resulting transaction hash.
	SubmitTransferAuthorization(ctx context.Context, asset common.Address, auth *types.AuthorizationProof) (common.Hash, error)

	// WaitForReceipt blocks until the transaction is mined or the context
	// is cancelled.
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error)

	// Close releases the underlying connection.
	Close()
}

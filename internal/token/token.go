// Package token is a thin ERC-20-shaped convenience wrapper over the
// pipeline's Sender and ContractCatalog: it hides the contract/method/args
// shape of a transfer or approval behind named Go methods. It adds no
// semantics of its own beyond what the pipeline already guarantees.
package token

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/evmtx/txpipeline/internal/pipeline"
)

// ERC20 binds a Sender to one deployed token contract name in the
// pipeline's ContractCatalog.
type ERC20 struct {
	sender       *pipeline.Sender
	contractName string
}

func New(sender *pipeline.Sender, contractName string) *ERC20 {
	return &ERC20{sender: sender, contractName: contractName}
}

// Transfer moves amount of the token from the caller to to, optionally
// signing externally.
func (t *ERC20) Transfer(ctx context.Context, from, to common.Address, amount *big.Int, signCB pipeline.SignCallback) (*pipeline.Receipt, error) {
	return t.sender.Send(ctx, pipeline.SendParams{
		From:         from,
		SignCallback: signCB,
		Contract:     t.contractName,
		Method:       "transfer",
		Args:         []any{to, amount},
	})
}

// Approve authorizes spender to move up to amount of the caller's tokens.
func (t *ERC20) Approve(ctx context.Context, from, spender common.Address, amount *big.Int, signCB pipeline.SignCallback) (*pipeline.Receipt, error) {
	return t.sender.Send(ctx, pipeline.SendParams{
		From:         from,
		SignCallback: signCB,
		Contract:     t.contractName,
		Method:       "approve",
		Args:         []any{spender, amount},
	})
}

// ApproveThenTransfer resets an allowance to zero before approving amount,
// then performs the transfer-on-behalf via transferFrom, as a single
// sendChain so a mid-sequence failure surfaces the unsent remainder.
// Steps that already mined are not rolled back: a failure after the
// reset leaves the allowance at zero.
func (t *ERC20) ApproveThenTransfer(ctx context.Context, from, spender, to common.Address, amount *big.Int, signCB pipeline.SignCallback) (*pipeline.Receipt, error) {
	return t.sender.SendChain(ctx, pipeline.SendChainParams{
		From:         from,
		SignCallback: signCB,
		Transactions: []pipeline.CallParams{
			{Contract: t.contractName, Method: "approve", Args: []any{spender, big.NewInt(0)}},
			{Contract: t.contractName, Method: "approve", Args: []any{spender, amount}},
			{Contract: t.contractName, Method: "transferFrom", Args: []any{from, to, amount}},
		},
	})
}

// Package pipeline implements the transaction dispatch core: nonce
// allocation, raw transaction assembly, signing/submission, receipt
// polling, and status resolution for an EVM-style account-based chain.
package pipeline

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransactionStatus is the closed set of states a transaction (by hash or
// by nonce) can resolve to.
type TransactionStatus string

const (
	StatusPending     TransactionStatus = "pending"
	StatusQueued      TransactionStatus = "queued"
	StatusMined       TransactionStatus = "mined"
	StatusUnknown     TransactionStatus = "unknown"
	StatusUnsupported TransactionStatus = "unsupported"
)

// RawTransaction carries the semantic fields of an unsigned transaction.
// Nonce is a pointer because "unset" (let the node assign) is a distinct
// state from "zero".
//
// Hash is the node-reported transaction hash, populated only when a
// RawTransaction is synthesized from node data that carries one (e.g.
// txpool_content entries); it is the zero hash for transactions this
// pipeline is still building or about to submit. Callers must never
// recompute it — the signed envelope (and, post-EIP-1559, the tx type
// itself) isn't known from the semantic fields alone.
type RawTransaction struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Gas      uint64
	GasPrice *big.Int
	ChainID  *big.Int
	Nonce    *uint64
	Data     []byte
	Hash     common.Hash
}

// NativeTransferGas is the fixed gas limit for a plain value transfer on an
// EVM chain (21,000).
const NativeTransferGas uint64 = 21_000

// MempoolView is the per-address split the node reports: pending
// (dispatch-ready, no gap before it) and queued (a gap precedes it).
type MempoolView struct {
	Pending map[uint64]*RawTransaction
	Queued  map[uint64]*RawTransaction
}

func emptyMempoolView() MempoolView {
	return MempoolView{Pending: map[uint64]*RawTransaction{}, Queued: map[uint64]*RawTransaction{}}
}

// Receipt is the mined outcome of a transaction. Fields mirror the subset
// of an EVM receipt the pipeline actually consumes; NodeClient.GetReceipt
// returns this type, so the node's other receipt fields are not carried.
type Receipt struct {
	TransactionHash common.Hash
	BlockNumber     uint64
	Status          uint64 // 1 == success, per EVM convention
	GasUsed         uint64
	ContractAddress common.Address
}

// Succeeded reports whether the receipt indicates a successful execution.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}

// TransactionDetailsResult is returned by TransactionDetails.ByHash.
type TransactionDetailsResult struct {
	Status  TransactionStatus
	Receipt *Receipt
}

// Overrides carries the per-call transaction overrides of spec §6. A
// non-nil Nonce, Gas, GasPrice or ChainID bypasses the corresponding
// default/derived value; Nonce additionally bypasses the NonceManager
// entirely for that call.
type Overrides struct {
	Nonce    *uint64
	Gas      *uint64
	GasPrice *big.Int
	ChainID  *big.Int
	// WaitForMineTimeout (seconds) is carried but not read: Sender always
	// waits up to its configured TxMiningTimeout.
	WaitForMineTimeout *int64
}

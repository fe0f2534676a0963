package pipeline

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// NodeClient is the capability the core consumes for all wire interaction
// (spec §6). Node connectivity, block queries and balance reads live
// outside the core; this is the seam.
type NodeClient interface {
	SendRaw(ctx context.Context, signed []byte) (common.Hash, error)
	SendTx(ctx context.Context, tx *RawTransaction) (common.Hash, error)
	GetReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	ConfirmedCount(ctx context.Context, address common.Address) (uint64, error)
	// MempoolInspect returns the lightweight (nonce-only) per-address
	// mempool view. Returns IsMethodNotSupported-satisfying error, or a
	// nil error with an empty view, when txpool_inspect is unavailable —
	// implementations should prefer the latter (spec §4.3).
	MempoolInspect(ctx context.Context, address common.Address) (MempoolView, error)
	// MempoolContent is the same shape with full transaction bodies,
	// keyed by checksummed address, used by TransactionDetails.ByHash.
	MempoolContent(ctx context.Context, address common.Address) (MempoolView, error)
	GetCode(ctx context.Context, address common.Address) ([]byte, error)
}

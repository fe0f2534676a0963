package pipeline

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// TransactionDetails answers status questions about a transaction without
// waiting on it: has it mined, is it sitting in the mempool, or is
// nothing known about it at all (spec §4.8).
type TransactionDetails struct {
	node NodeClient
}

func NewTransactionDetails(node NodeClient) *TransactionDetails {
	return &TransactionDetails{node: node}
}

// ByHash first checks for a mined receipt; failing that, it searches the
// content form of the mempool for from's pending/queued transaction at
// that hash. UNSUPPORTED is returned verbatim when the node lacks the
// content method, rather than treated as an error (spec §7).
func (d *TransactionDetails) ByHash(ctx context.Context, from common.Address, hash common.Hash) (*TransactionDetailsResult, error) {
	receipt, err := d.node.GetReceipt(ctx, hash)
	if err != nil {
		return nil, Classify(err)
	}
	if receipt != nil {
		return &TransactionDetailsResult{Status: StatusMined, Receipt: receipt}, nil
	}

	checksummed := common.HexToAddress(from.Hex())
	content, err := d.node.MempoolContent(ctx, checksummed)
	if err != nil {
		if IsMethodNotSupported(err) {
			return &TransactionDetailsResult{Status: StatusUnsupported}, nil
		}
		return nil, Classify(err)
	}

	for _, tx := range content.Pending {
		if tx != nil && txHashMatches(tx, hash) {
			return &TransactionDetailsResult{Status: StatusPending}, nil
		}
	}
	for _, tx := range content.Queued {
		if tx != nil && txHashMatches(tx, hash) {
			return &TransactionDetailsResult{Status: StatusQueued}, nil
		}
	}

	return &TransactionDetailsResult{Status: StatusUnknown}, nil
}

// ByNonce answers the same question keyed by nonce rather than hash,
// querying the inspect (summary) form of the mempool.
func (d *TransactionDetails) ByNonce(ctx context.Context, from common.Address, nonce uint64) (TransactionStatus, error) {
	checksummed := common.HexToAddress(from.Hex())

	view, err := d.node.MempoolInspect(ctx, checksummed)
	if err != nil {
		if IsMethodNotSupported(err) {
			return StatusUnsupported, nil
		}
		return StatusUnknown, Classify(err)
	}

	if _, ok := view.Pending[nonce]; ok {
		return StatusPending, nil
	}
	if _, ok := view.Queued[nonce]; ok {
		return StatusQueued, nil
	}

	confirmed, err := d.node.ConfirmedCount(ctx, checksummed)
	if err != nil {
		return StatusUnknown, Classify(err)
	}
	if nonce < confirmed {
		return StatusMined, nil
	}
	return StatusUnknown, nil
}

// txHashMatches identifies whether a mempool-content entry corresponds to
// the hash being searched for. It's a direct comparison against the
// node-reported RawTransaction.Hash — never recomputed, since the signed
// envelope (and therefore the real hash) isn't reconstructible from the
// semantic fields alone.
func txHashMatches(tx *RawTransaction, hash common.Hash) bool {
	return tx.Hash != (common.Hash{}) && tx.Hash == hash
}

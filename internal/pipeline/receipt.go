package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/evmtx/txpipeline/internal/pkg/apperrors"
)

// pollInterval is the fixed receipt-poll cadence of spec §4.7.
const pollInterval = 500 * time.Millisecond

// ReceiptWaiter polls NodeClient.GetReceipt until a transaction is mined,
// fails, or the caller's timeout elapses.
type ReceiptWaiter struct {
	node NodeClient
}

func NewReceiptWaiter(node NodeClient) *ReceiptWaiter {
	return &ReceiptWaiter{node: node}
}

// Wait polls for hash's receipt at a fixed interval. A receipt with
// failure status surfaces as Generic("tx failed"); exceeding timeout
// surfaces as Timeout.
func (w *ReceiptWaiter) Wait(ctx context.Context, hash common.Hash, timeout time.Duration) (*Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.node.GetReceipt(waitCtx, hash)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrGeneric, "fetching receipt: "+err.Error(), err)
		}
		if receipt != nil {
			if !receipt.Succeeded() {
				return nil, apperrors.New(apperrors.ErrGeneric, "tx failed", nil)
			}
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, apperrors.New(apperrors.ErrTimeout, "timed out waiting for receipt "+hash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// WaitAll waits for every hash in parallel, returning receipts in the same
// order as hashes, or the first error encountered.
func (w *ReceiptWaiter) WaitAll(ctx context.Context, hashes []common.Hash, timeout time.Duration) ([]*Receipt, error) {
	receipts := make([]*Receipt, len(hashes))
	errs := make([]error, len(hashes))

	var wg sync.WaitGroup
	for i, h := range hashes {
		wg.Add(1)
		go func(i int, h common.Hash) {
			defer wg.Done()
			r, err := w.Wait(ctx, h, timeout)
			receipts[i] = r
			errs[i] = err
		}(i, h)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return receipts, nil
}

// WaitPreResolved is a pass-through for a receipt the caller already has
// in hand (spec §4.7's "or a pre-resolved receipt").
func WaitPreResolved(receipt *Receipt) (*Receipt, error) {
	if receipt == nil {
		return nil, apperrors.New(apperrors.ErrNotFound, "no receipt to pass through", nil)
	}
	if !receipt.Succeeded() {
		return nil, apperrors.New(apperrors.ErrGeneric, "tx failed", nil)
	}
	return receipt, nil
}

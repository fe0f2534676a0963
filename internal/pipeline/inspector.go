package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// confirmedCountTTL bounds how long a cached ConfirmedCount can be served
// without a fresh read, for deployments with no live block subscription
// (blocksub.go) to invalidate it sooner. It spans four ReceiptWaiter poll
// intervals, so a count cached up to two seconds earlier can still be
// served after a newer transaction from the address has mined.
const confirmedCountTTL = 2 * time.Second

// AccountInspector answers node-side questions about an address: how many
// of its transactions are confirmed, and what the node's mempool currently
// holds for it. It never trusts a node-reported "pending tx count" — only
// ConfirmedCount (latest-block basis) and the explicit mempool views.
//
// ConfirmedCount results are cached per address, bounded by
// confirmedCountTTL. A live blocksub.go subscription invalidates the whole
// cache on every new head, which in practice beats the TTL to it; without
// one (WS is optional), the TTL alone keeps the cache from going stale
// forever.
type AccountInspector struct {
	node NodeClient

	mu    sync.RWMutex
	cache map[common.Address]confirmedCountEntry
}

type confirmedCountEntry struct {
	count     uint64
	expiresAt time.Time
}

func NewAccountInspector(node NodeClient) *AccountInspector {
	return &AccountInspector{node: node, cache: make(map[common.Address]confirmedCountEntry)}
}

// ConfirmedCount returns the number of confirmed transactions from address,
// i.e. the lowest nonce not yet used by a mined transaction.
func (a *AccountInspector) ConfirmedCount(ctx context.Context, address common.Address) (uint64, error) {
	a.mu.RLock()
	entry, ok := a.cache[address]
	a.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.count, nil
	}

	count, err := a.node.ConfirmedCount(ctx, address)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.cache[address] = confirmedCountEntry{count: count, expiresAt: time.Now().Add(confirmedCountTTL)}
	a.mu.Unlock()
	return count, nil
}

// InvalidateConfirmedCount drops every cached ConfirmedCount, forcing the
// next ConfirmedCount call to re-query the node. Called on every new head
// observed by blocksub.go, and by Pipeline.ClearAccounts so a forced
// nonce-state reset can't keep reading a stale confirmed count.
func (a *AccountInspector) InvalidateConfirmedCount() {
	a.mu.Lock()
	a.cache = make(map[common.Address]confirmedCountEntry)
	a.mu.Unlock()
}

// InspectMempool returns the pending/queued nonce sets for address. A
// node that doesn't support txpool_inspect degrades to an empty view, not
// an error — this is a distinct observable state (spec §4.3).
func (a *AccountInspector) InspectMempool(ctx context.Context, address common.Address) (MempoolView, error) {
	checksummed := common.HexToAddress(address.Hex())
	view, err := a.node.MempoolInspect(ctx, checksummed)
	if err != nil {
		if IsMethodNotSupported(err) {
			return emptyMempoolView(), nil
		}
		return emptyMempoolView(), err
	}
	if view.Pending == nil {
		view.Pending = map[uint64]*RawTransaction{}
	}
	if view.Queued == nil {
		view.Queued = map[uint64]*RawTransaction{}
	}
	return view, nil
}

// InspectMempoolContent is the full-transaction-body counterpart of
// InspectMempool, with the same degrade-to-empty contract; the bool
// reports whether the node supports the content method.
// TransactionDetails.ByHash does not go through it: it queries
// NodeClient.MempoolContent directly.
func (a *AccountInspector) InspectMempoolContent(ctx context.Context, address common.Address) (MempoolView, bool, error) {
	checksummed := common.HexToAddress(address.Hex())
	view, err := a.node.MempoolContent(ctx, checksummed)
	if err != nil {
		if IsMethodNotSupported(err) {
			return emptyMempoolView(), false, nil
		}
		return emptyMempoolView(), true, err
	}
	if view.Pending == nil {
		view.Pending = map[uint64]*RawTransaction{}
	}
	if view.Queued == nil {
		view.Queued = map[uint64]*RawTransaction{}
	}
	return view, true, nil
}

package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evmtx/txpipeline/internal/pkg/logger"
	"github.com/evmtx/txpipeline/internal/pkg/metrics"
)

const nonceKeyPrefix = "nonce:"

func nonceKey(address common.Address) string {
	return nonceKeyPrefix + address.Hex()
}

// NonceManager dispenses unique, gap-filling nonces per account, coexisting
// with the node's mempool and with concurrent callers (spec §4.4).
type NonceManager struct {
	store     KVStore
	inspector *AccountInspector
}

func NewNonceManager(store KVStore, inspector *AccountInspector) *NonceManager {
	return &NonceManager{store: store, inspector: inspector}
}

func storedSet(store KVStore, key string) map[uint64]bool {
	raw, ok := store.Get(key)
	if !ok {
		return map[uint64]bool{}
	}
	set, ok := raw.(map[uint64]bool)
	if !ok {
		return map[uint64]bool{}
	}
	out := make(map[uint64]bool, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}

// Acquire returns a nonce reserved for the caller, filling gaps ahead of
// the mempool per the allocation algorithm of spec §4.4.2, under the
// lock-based shared-store critical section of §4.4.3.
func (m *NonceManager) Acquire(ctx context.Context, address common.Address) (uint64, error) {
	key := nonceKey(address)
	if err := m.store.Lock(key); err != nil {
		return 0, err
	}

	txCount, err := m.inspector.ConfirmedCount(ctx, address)
	if err != nil {
		m.store.Release(key)
		return 0, err
	}
	mempool, err := m.inspector.InspectMempool(ctx, address)
	if err != nil {
		m.store.Release(key)
		return 0, err
	}

	stored := storedSet(m.store, key)

	var released []uint64
	for n := range stored {
		if n < txCount {
			delete(stored, n)
			released = append(released, n)
		}
	}
	if len(released) > 0 {
		sort.Slice(released, func(i, j int) bool { return released[i] < released[j] })
		logger.Info("released mined nonces", "address", address.Hex(), "nonces", released)
	}

	known := map[uint64]bool{}
	for n := range stored {
		known[n] = true
	}
	for n := range mempool.Pending {
		known[n] = true
	}
	for n := range mempool.Queued {
		known[n] = true
	}

	maxKnown := txCount
	for n := range known {
		if n > maxKnown {
			maxKnown = n
		}
	}

	next := txCount
	for known[next] && next <= maxKnown {
		next++
	}

	stored[next] = true
	m.store.Put(key, stored)
	metrics.NoncesAcquired.WithLabelValues(address.Hex()).Inc()
	return next, nil
}

// Release returns nonce to the pool for address.
func (m *NonceManager) Release(ctx context.Context, address common.Address, nonce uint64) error {
	return m.ReleaseMany(ctx, address, []uint64{nonce})
}

// ReleaseMany atomically removes every nonce in nonces from address's
// reserved set. This is a single critical section, never a loop of
// independent, unawaited releases (spec §9's noted source bug).
func (m *NonceManager) ReleaseMany(ctx context.Context, address common.Address, nonces []uint64) error {
	return m.releaseMany(address, nonces, "release")
}

func (m *NonceManager) releaseMany(address common.Address, nonces []uint64, reason string) error {
	if len(nonces) == 0 {
		return nil
	}
	key := nonceKey(address)
	if err := m.store.Lock(key); err != nil {
		return err
	}
	defer m.store.Release(key)

	stored := storedSet(m.store, key)
	for _, n := range nonces {
		delete(stored, n)
	}
	m.store.Put(key, stored)
	metrics.NoncesReleased.WithLabelValues(address.Hex(), reason).Add(float64(len(nonces)))
	return nil
}

// ClearAccounts forgets all per-address nonce state. Safe to call
// concurrently with Acquire; nonces already returned to callers stay valid
// in their hands, they simply won't be tracked as "known" any longer.
func (m *NonceManager) ClearAccounts() {
	for _, key := range m.store.Keys() {
		if strings.HasPrefix(key, nonceKeyPrefix) {
			m.store.Delete(key)
		}
	}
}

package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/evmtx/txpipeline/internal/config"
)

// Pipeline bundles the four core subsystems plus their external
// collaborators into the single facade applications embed (spec §2's
// "Transaction Pipeline" composition).
type Pipeline struct {
	Node     NodeClient
	Store    KVStore
	Catalog  ContractCatalog
	Inspector *AccountInspector
	NonceMgr *NonceManager
	Builder  *TransactionBuilder
	Waiter   *ReceiptWaiter
	Sender   *Sender
	Details  *TransactionDetails
	BlockSub *BlockSubscriber

	pausedMu sync.RWMutex
	paused   bool
}

// New wires a Pipeline from its already-constructed collaborators. Callers
// that want config-driven construction should use NewFromConfig.
func New(node NodeClient, store KVStore, catalog ContractCatalog, defaults BuildDefaults, timeouts SignerTimeouts) *Pipeline {
	inspector := NewAccountInspector(node)
	nonceMgr := NewNonceManager(store, inspector)
	builder := NewTransactionBuilder(catalog, nonceMgr, node, defaults)
	waiter := NewReceiptWaiter(node)
	sender := NewSender(node, builder, nonceMgr, waiter, timeouts)
	details := NewTransactionDetails(node)

	return &Pipeline{
		Node:      node,
		Store:     store,
		Catalog:   catalog,
		Inspector: inspector,
		NonceMgr:  nonceMgr,
		Builder:   builder,
		Waiter:    waiter,
		Sender:    sender,
		Details:   details,
	}
}

// NewFromConfig dials the configured node, builds the configured store
// backend, and loads the contract catalog, preloading it when requested.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	node, err := DialEthNodeClient(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connecting node client: %w", err)
	}

	store, err := newStoreFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("constructing store: %w", err)
	}

	catalog := NewFileCatalog(cfg.Pipeline.ContractsDir, cfg.Pipeline.ContractsURL, cfg.Pipeline.ChainID)

	gasPrice, ok := new(big.Int).SetString(cfg.Pipeline.GasPrice, 10)
	if !ok {
		gasPrice = big.NewInt(0)
	}
	defaults := BuildDefaults{
		GasPrice: gasPrice,
		GasLimit: cfg.Pipeline.GasLimit,
		ChainID:  big.NewInt(cfg.Pipeline.ChainID),
	}
	timeouts := SignerTimeouts{
		TxSigningTimeout: time.Duration(cfg.Pipeline.TxSigningTimeoutMs) * time.Millisecond,
		TxMiningTimeout:  time.Duration(cfg.Pipeline.TxMiningTimeoutSec) * time.Second,
	}

	p := New(node, store, catalog, defaults, timeouts)

	if cfg.Pipeline.PreloadContracts {
		if err := catalog.Preload(); err != nil {
			return nil, fmt.Errorf("preloading contracts: %w", err)
		}
	}

	if cfg.Chain.WSURL != "" {
		p.BlockSub = NewBlockSubscriber(cfg.Chain.WSURL, p.Inspector)
		p.BlockSub.Start()
	}

	return p, nil
}

func newStoreFromConfig(cfg *config.Config) (KVStore, error) {
	lockCfg := LockConfig{
		AcquireTimeout: time.Duration(cfg.Pipeline.LockAcquireMs) * time.Millisecond,
		CheckInterval:  time.Duration(cfg.Pipeline.LockCheckMs) * time.Millisecond,
		LockTimeout:    time.Duration(cfg.Pipeline.LockTimeoutMs) * time.Millisecond,
	}

	switch cfg.Chain.StoreBackend {
	case "", "memory":
		return NewInMemoryStore(lockCfg), nil
	case "redis":
		return NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, lockCfg), nil
	case "postgres":
		return NewPostgresStore(cfg.Database.DSN, lockCfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Chain.StoreBackend)
	}
}

// Pause sets the flag that middleware.RequireNotPaused checks before the
// admin surface's send handlers run; sends already in flight are not
// interrupted, and Sender itself does not read the flag. This is a
// supplement over the core spec (SPEC_FULL.md's admin pause/resume
// endpoints), not part of the core's own invariants.
func (p *Pipeline) Pause() {
	p.pausedMu.Lock()
	p.paused = true
	p.pausedMu.Unlock()
}

func (p *Pipeline) Resume() {
	p.pausedMu.Lock()
	p.paused = false
	p.pausedMu.Unlock()
}

func (p *Pipeline) Paused() bool {
	p.pausedMu.RLock()
	defer p.pausedMu.RUnlock()
	return p.paused
}

// ClearAccounts forgets all per-address nonce state, letting subsequent
// allocations rebuild from mempool and confirmed-count state. The
// inspector's cached ConfirmedCount is dropped too, so the rebuild can't
// read a value cached before whatever prompted the reset.
func (p *Pipeline) ClearAccounts() {
	p.NonceMgr.ClearAccounts()
	p.Inspector.InvalidateConfirmedCount()
}

var (
	defaultMu  sync.Mutex
	defaultPl  *Pipeline
)

// Init constructs the package-level default Pipeline from cfg. Safe to
// call once at process startup; Default panics if called before Init.
func Init(ctx context.Context, cfg *config.Config) error {
	p, err := NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultPl = p
	defaultMu.Unlock()
	return nil
}

// Default returns the package-level Pipeline configured by Init. It
// panics if Init has not been called; unlike logger.Get, it never
// constructs an instance lazily.
func Default() *Pipeline {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPl == nil {
		panic("pipeline: Default() called before Init()")
	}
	return defaultPl
}

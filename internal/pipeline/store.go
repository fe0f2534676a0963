package pipeline

import (
	"sync"
	"time"

	"github.com/evmtx/txpipeline/internal/pkg/apperrors"
	"github.com/evmtx/txpipeline/internal/pkg/logger"
	"github.com/evmtx/txpipeline/internal/pkg/metrics"
)

// KVStore is per-key mutable storage with an optional mutual-exclusion
// locking extension. Get must never block waiting on writes.
type KVStore interface {
	Get(key string) (value any, ok bool)
	Put(key string, value any)
	Delete(key string)
	Keys() []string
	Clear()

	// Lock acquires an exclusive lock on key, blocking up to
	// lockAcquireTimeout. It starts an auto-release watchdog of
	// lockTimeout; if Put or Release doesn't happen before the watchdog
	// fires, the lock is released automatically and a warning is logged.
	Lock(key string) error
	// Release releases a held lock without writing.
	Release(key string)
}

// LockConfig bounds the store's lock primitives (spec §6).
type LockConfig struct {
	AcquireTimeout time.Duration
	CheckInterval  time.Duration
	LockTimeout    time.Duration
}

// DefaultLockConfig matches spec §6's defaults.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		AcquireTimeout: 45 * time.Second,
		CheckInterval:  100 * time.Millisecond,
		LockTimeout:    5 * time.Second,
	}
}

// InMemoryStore is the default KVStore: a process-local map guarded by a
// per-key lock with a watchdog timer. It satisfies both concurrency
// variants of spec §4.4.3 — callers that don't need cross-process locking
// can ignore Lock/Release entirely and just use Get/Put under their own
// single critical section.
type InMemoryStore struct {
	cfg LockConfig

	mu     sync.Mutex // guards values and locks maps
	values map[string]any
	locks  map[string]*lockState
}

type lockState struct {
	watchdog *time.Timer
}

// NewInMemoryStore constructs a store with the given lock configuration.
func NewInMemoryStore(cfg LockConfig) *InMemoryStore {
	return &InMemoryStore{
		cfg:    cfg,
		values: make(map[string]any),
		locks:  make(map[string]*lockState),
	}
}

func (s *InMemoryStore) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *InMemoryStore) Put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.releaseLocked(key)
}

func (s *InMemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	s.releaseLocked(key)
}

func (s *InMemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.locks {
		l.watchdog.Stop()
	}
	s.values = make(map[string]any)
	s.locks = make(map[string]*lockState)
}

// Lock blocks until key is free or AcquireTimeout elapses, polling at
// CheckInterval. Double-locking from within the same holder is not
// supported and is the caller's programming error to avoid.
func (s *InMemoryStore) Lock(key string) error {
	deadline := time.Now().Add(s.cfg.AcquireTimeout)
	for {
		s.mu.Lock()
		if _, held := s.locks[key]; !held {
			s.locks[key] = &lockState{
				watchdog: time.AfterFunc(s.cfg.LockTimeout, func() { s.watchdogExpire(key) }),
			}
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return apperrors.New(apperrors.ErrTimeout, "timed out acquiring lock for "+key, nil)
		}
		time.Sleep(s.cfg.CheckInterval)
	}
}

func (s *InMemoryStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(key)
}

// releaseLocked assumes s.mu is held.
func (s *InMemoryStore) releaseLocked(key string) {
	if l, ok := s.locks[key]; ok {
		l.watchdog.Stop()
		delete(s.locks, key)
	}
}

func (s *InMemoryStore) watchdogExpire(key string) {
	s.mu.Lock()
	_, held := s.locks[key]
	if held {
		delete(s.locks, key)
	}
	s.mu.Unlock()

	if held {
		logger.Warn("lock watchdog expired, auto-releasing", "key", key)
		metrics.LockWatchdogExpiries.WithLabelValues("memory").Inc()
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/evmtx/txpipeline/internal/pkg/apperrors"
	"github.com/evmtx/txpipeline/internal/pkg/logger"
	"github.com/evmtx/txpipeline/internal/pkg/metrics"
)

// RedisStore is a KVStore backed by Redis, for deployments running more
// than one process against the same account set (spec §4.2's "an
// implementation that persists across restarts must provide the same
// locking semantics"). Locks are SETNX-with-PEXPIRE tokens so the
// watchdog timeout is enforced by Redis itself rather than an in-process
// timer, which survives the holder crashing outright.
type RedisStore struct {
	client *redis.Client
	cfg    LockConfig

	mu      sync.Mutex
	lockTok map[string]string
}

func NewRedisStore(addr, password string, db int, cfg LockConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		cfg:     cfg,
		lockTok: make(map[string]string),
	}
}

func valueKey(key string) string  { return "txpipeline:value:" + key }
func lockRedisKey(key string) string { return "txpipeline:lock:" + key }

func (s *RedisStore) Get(key string) (any, bool) {
	ctx := context.Background()
	raw, err := s.client.Get(ctx, valueKey(key)).Result()
	if err != nil {
		return nil, false
	}
	var out map[uint64]bool
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	return out, true
}

func (s *RedisStore) Put(key string, value any) {
	ctx := context.Background()
	encoded, err := json.Marshal(value)
	if err != nil {
		logger.Warn("redis store: failed to encode value", "key", key, "error", err)
		return
	}
	if err := s.client.Set(ctx, valueKey(key), encoded, 0).Err(); err != nil {
		logger.Warn("redis store: failed to write value", "key", key, "error", err)
	}
	s.Release(key)
}

func (s *RedisStore) Delete(key string) {
	ctx := context.Background()
	s.client.Del(ctx, valueKey(key))
	s.Release(key)
}

func (s *RedisStore) Keys() []string {
	ctx := context.Background()
	var out []string
	iter := s.client.Scan(ctx, 0, "txpipeline:value:*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len("txpipeline:value:"):])
	}
	return out
}

func (s *RedisStore) Clear() {
	ctx := context.Background()
	for _, key := range s.Keys() {
		s.client.Del(ctx, valueKey(key))
		s.client.Del(ctx, lockRedisKey(key))
	}
}

// Lock acquires a distributed lock via SET NX PX, polling at CheckInterval
// until AcquireTimeout elapses. The PX expiry is the watchdog: if this
// process dies or forgets to release, Redis reclaims the key on its own
// after LockTimeout.
func (s *RedisStore) Lock(key string) error {
	ctx := context.Background()
	token := uuid.NewString()
	deadline := time.Now().Add(s.cfg.AcquireTimeout)

	for {
		ok, err := s.client.SetNX(ctx, lockRedisKey(key), token, s.cfg.LockTimeout).Result()
		if err != nil {
			return apperrors.New(apperrors.ErrGeneric, "redis lock error: "+err.Error(), err)
		}
		if ok {
			s.mu.Lock()
			s.lockTok[key] = token
			s.mu.Unlock()
			return nil
		}
		if time.Now().After(deadline) {
			return apperrors.New(apperrors.ErrTimeout, "timed out acquiring redis lock for "+key, nil)
		}
		time.Sleep(s.cfg.CheckInterval)
	}
}

// releaseScript deletes the lock only if the caller still holds the token
// it set, so a watchdog-expired-then-reacquired lock is never released by
// its former holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

func (s *RedisStore) Release(key string) {
	s.mu.Lock()
	token, held := s.lockTok[key]
	delete(s.lockTok, key)
	s.mu.Unlock()
	if !held {
		return
	}
	ctx := context.Background()
	result, err := s.client.Eval(ctx, releaseScript, []string{lockRedisKey(key)}, token).Result()
	if err != nil {
		logger.Warn("redis store: failed to release lock", "key", key, "error", err)
		return
	}
	if n, ok := result.(int64); ok && n == 0 {
		logger.Warn("redis lock watchdog already expired and key reclaimed", "key", key)
		metrics.LockWatchdogExpiries.WithLabelValues("redis").Inc()
	}
}

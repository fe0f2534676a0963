package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_GetPutDelete(t *testing.T) {
	s := NewInMemoryStore(DefaultLockConfig())
	_, ok := s.Get("k")
	assert.False(t, ok)

	s.Put("k", map[uint64]bool{1: true})
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, map[uint64]bool{1: true}, v)

	s.Delete("k")
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestInMemoryStore_LockExcludesConcurrentHolders(t *testing.T) {
	cfg := LockConfig{AcquireTimeout: 200 * time.Millisecond, CheckInterval: 5 * time.Millisecond, LockTimeout: 5 * time.Second}
	s := NewInMemoryStore(cfg)

	require.NoError(t, s.Lock("k"))

	var wg sync.WaitGroup
	wg.Add(1)
	var secondErr error
	go func() {
		defer wg.Done()
		secondErr = s.Lock("k")
	}()

	time.Sleep(20 * time.Millisecond)
	s.Release("k")
	wg.Wait()
	assert.NoError(t, secondErr)
}

func TestInMemoryStore_LockTimesOutWhenHeld(t *testing.T) {
	cfg := LockConfig{AcquireTimeout: 30 * time.Millisecond, CheckInterval: 5 * time.Millisecond, LockTimeout: 5 * time.Second}
	s := NewInMemoryStore(cfg)

	require.NoError(t, s.Lock("k"))
	defer s.Release("k")

	err := s.Lock("k")
	assert.Error(t, err)
}

func TestInMemoryStore_WatchdogAutoReleases(t *testing.T) {
	cfg := LockConfig{AcquireTimeout: 500 * time.Millisecond, CheckInterval: 5 * time.Millisecond, LockTimeout: 20 * time.Millisecond}
	s := NewInMemoryStore(cfg)

	require.NoError(t, s.Lock("k"))
	// Never released explicitly; the watchdog should reclaim it.
	err := s.Lock("k")
	assert.NoError(t, err)
}

func TestInMemoryStore_Clear(t *testing.T) {
	s := NewInMemoryStore(DefaultLockConfig())
	s.Put("a", 1)
	s.Put("b", 2)
	s.Clear()
	assert.Empty(t, s.Keys())
}

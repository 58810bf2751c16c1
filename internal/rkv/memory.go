package rkv

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"

	"github.com/m3047/totalizer/internal/errors"
)

type memoryEntry struct {
	value   string
	expires time.Time // zero means no TTL
}

// Memory is an in-process Store. It backs the agent's test mode (the
// key+increment stream lands here instead of a live backend) and serves as
// the backend fixture in tests.
type Memory struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]memoryEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now, items: make(map[string]memoryEntry)}
}

// SetClock injects a time source so TTL expiry can be tested
// deterministically.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.liveEntry(key)
	if !ok {
		m.items[key] = memoryEntry{value: "1"}
		return 1, nil
	}
	n, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, errors.BackendError("incr", "memory", err)
	}
	n++
	entry.value = strconv.FormatInt(n, 10)
	m.items[key] = entry
	return n, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.liveEntry(key)
	if !ok {
		return nil
	}
	entry.expires = m.now().Add(ttl)
	m.items[key] = entry
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.liveEntry(key)
	if !ok {
		return "", errors.ErrNotFound
	}
	return entry.value, nil
}

func (m *Memory) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key := range m.items {
		if _, ok := m.liveEntry(key); !ok {
			continue
		}
		if wildcard.Match(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Set stores a literal value, for seeding fixtures (health keys and the
// like).
func (m *Memory) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryEntry{value: value}
}

// TTL reports the remaining time to live for a key; ok is false when the key
// is missing or carries no TTL.
func (m *Memory) TTL(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.liveEntry(key)
	if !ok || entry.expires.IsZero() {
		return 0, false
	}
	return entry.expires.Sub(m.now()), true
}

// liveEntry fetches an entry, lazily purging it when its TTL has passed.
// Callers must hold mu.
func (m *Memory) liveEntry(key string) (memoryEntry, bool) {
	entry, ok := m.items[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expires.IsZero() && !entry.expires.After(m.now()) {
		delete(m.items, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// MemoryCluster implements Reader over a set of named in-memory stores, one
// per endpoint. It stands in for the per-endpoint lookup protocol in tests.
type MemoryCluster struct {
	mu     sync.Mutex
	stores map[string]*Memory
}

// NewMemoryCluster returns an empty cluster.
func NewMemoryCluster() *MemoryCluster {
	return &MemoryCluster{stores: make(map[string]*Memory)}
}

// Endpoint returns the store behind an endpoint, creating it on first use.
func (c *MemoryCluster) Endpoint(endpoint string) *Memory {
	c.mu.Lock()
	defer c.mu.Unlock()

	store, ok := c.stores[endpoint]
	if !ok {
		store = NewMemory()
		c.stores[endpoint] = store
	}
	return store
}

func (c *MemoryCluster) Get(ctx context.Context, endpoint, key string) (string, error) {
	return c.Endpoint(endpoint).Get(ctx, key)
}

func (c *MemoryCluster) Keys(ctx context.Context, endpoint, pattern string) ([]string, error) {
	return c.Endpoint(endpoint).Keys(ctx, pattern)
}

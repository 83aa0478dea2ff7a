package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
)

type memoryEntry struct {
	snap      quotadomain.Snapshot
	expiresAt time.Time
}

// MemoryCache is a process-local snapshot cache. Replicas do not share it.
type MemoryCache struct {
	mu      sync.RWMutex
	clock   clock.Clock
	entries map[quotadomain.TenantKey]memoryEntry
	// gens outlives entries; a dropped generation would let a stale Put through.
	gens map[quotadomain.TenantKey]int64
}

func NewMemoryCache(c clock.Clock) *MemoryCache {
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &MemoryCache{
		clock:   c,
		entries: make(map[quotadomain.TenantKey]memoryEntry),
		gens:    make(map[quotadomain.TenantKey]int64),
	}
}

func (m *MemoryCache) Get(_ context.Context, tenant quotadomain.TenantKey) (quotadomain.Snapshot, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[tenant]
	m.mu.RUnlock()
	if !ok {
		return quotadomain.Snapshot{}, false, nil
	}
	if !entry.expiresAt.IsZero() && !m.clock.Now().Before(entry.expiresAt) {
		m.mu.Lock()
		if current, ok := m.entries[tenant]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(m.entries, tenant)
		}
		m.mu.Unlock()
		return quotadomain.Snapshot{}, false, nil
	}
	return entry.snap, true, nil
}

func (m *MemoryCache) Generation(_ context.Context, tenant quotadomain.TenantKey) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gens[tenant], nil
}

func (m *MemoryCache) Put(_ context.Context, tenant quotadomain.TenantKey, snap quotadomain.Snapshot, gen int64, ttl time.Duration) (bool, error) {
	entry := memoryEntry{snap: snap}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[tenant] != gen {
		return false, nil
	}
	m.entries[tenant] = entry
	return true, nil
}

func (m *MemoryCache) Invalidate(_ context.Context, tenant quotadomain.TenantKey) error {
	m.mu.Lock()
	m.gens[tenant]++
	delete(m.entries, tenant)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Backend() string {
	return config.CacheBackendMemory
}

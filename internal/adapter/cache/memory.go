package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
)

type memoryEntry struct {
	items     []domain.NewsItem
	expiresAt time.Time
	bytes     int64
}

// Memory is the in-process tier. Entries are copied on the way in and out so
// callers can never mutate cached state.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	janitorStop chan struct{}
	stopOnce    sync.Once
}

func NewMemory(cleanupInterval time.Duration) *Memory {
	m := &Memory{
		entries:     make(map[string]memoryEntry),
		janitorStop: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.janitor(cleanupInterval)
	}
	return m
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.janitorStop:
			return
		case <-ticker.C:
			m.evictExpired(time.Now())
		}
	}
}

func (m *Memory) evictExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}

// Stop terminates the janitor. Safe to call more than once.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.janitorStop) })
}

func (m *Memory) Get(_ context.Context, key string) ([]domain.NewsItem, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return domain.CloneItems(entry.items), true
}

func (m *Memory) Set(_ context.Context, key string, items []domain.NewsItem, ttl time.Duration) {
	if ttl <= 0 {
		ttl = domain.DefaultCacheTTL
	}

	entry := memoryEntry{
		items:     domain.CloneItems(items),
		expiresAt: time.Now().Add(ttl),
		bytes:     approxSize(items),
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Clear removes keys matching a glob pattern and reports how many went.
func (m *Memory) Clear(_ context.Context, pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		if matched, err := path.Match(pattern, key); err == nil && matched {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *Memory) Exists(ctx context.Context, key string) bool {
	_, ok := m.Get(ctx, key)
	return ok
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return 0, false
	}
	remaining := time.Until(entry.expiresAt)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

func (m *Memory) Stats(_ context.Context) ports.CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ports.CacheStats{
		Entries: len(m.entries),
		KeyTTLs: make(map[string]time.Duration, len(m.entries)),
	}
	now := time.Now()
	for key, entry := range m.entries {
		stats.ApproxBytes += entry.bytes
		if remaining := entry.expiresAt.Sub(now); remaining > 0 {
			stats.KeyTTLs[key] = remaining
		}
	}
	return stats
}

// approxSize is a rough accounting of cached payload weight; it only needs
// to be stable, not exact.
func approxSize(items []domain.NewsItem) int64 {
	var total int64
	for i := range items {
		total += int64(len(items[i].Title) + len(items[i].URL) + len(items[i].Summary) + len(items[i].Content) + 64)
	}
	return total
}

package cache

import (
	"context"
	"time"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/logger"
)

// Tiered layers the memory tier over Redis. Reads try memory first and
// repopulate it from Redis with the remaining TTL; writes go to both. A dead
// remote degrades the store to memory-only without surfacing errors.
type Tiered struct {
	memory *Memory
	remote *Remote
	logger *logger.StyledLogger
}

// NewTiered builds the store. remote may be nil for a memory-only engine.
func NewTiered(memory *Memory, remote *Remote, logger *logger.StyledLogger) *Tiered {
	return &Tiered{memory: memory, remote: remote, logger: logger}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]domain.NewsItem, bool) {
	if items, ok := t.memory.Get(ctx, key); ok {
		return items, true
	}

	if t.remote == nil {
		return nil, false
	}

	items, remaining, ok := t.remote.Get(ctx, key)
	if !ok {
		return nil, false
	}

	// Repopulate the fast tier with whatever validity is left.
	if remaining > 0 {
		t.memory.Set(ctx, key, items, remaining)
	}
	return domain.CloneItems(items), true
}

func (t *Tiered) Set(ctx context.Context, key string, items []domain.NewsItem, ttl time.Duration) {
	if ttl <= 0 {
		ttl = domain.DefaultCacheTTL
	}
	t.memory.Set(ctx, key, items, ttl)
	if t.remote != nil {
		t.remote.Set(ctx, key, items, ttl)
	}
}

func (t *Tiered) Delete(ctx context.Context, key string) {
	t.memory.Delete(ctx, key)
	if t.remote != nil {
		t.remote.Delete(ctx, key)
	}
}

func (t *Tiered) Clear(ctx context.Context, pattern string) int {
	removed := t.memory.Clear(ctx, pattern)
	if t.remote != nil {
		if n := t.remote.Clear(ctx, pattern); n > removed {
			removed = n
		}
	}
	return removed
}

func (t *Tiered) Exists(ctx context.Context, key string) bool {
	if t.memory.Exists(ctx, key) {
		return true
	}
	return t.remote != nil && t.remote.Exists(ctx, key)
}

func (t *Tiered) TTL(ctx context.Context, key string) (time.Duration, bool) {
	if ttl, ok := t.memory.TTL(ctx, key); ok {
		return ttl, true
	}
	if t.remote != nil {
		return t.remote.TTL(ctx, key)
	}
	return 0, false
}

// Flush copies every live memory entry to the remote tier with its remaining
// validity, so a restart can warm itself from Redis. Reports entries written.
func (t *Tiered) Flush(ctx context.Context) int {
	if t.remote == nil {
		return 0
	}

	written := 0
	for key, remaining := range t.memory.Stats(ctx).KeyTTLs {
		items, ok := t.memory.Get(ctx, key)
		if !ok {
			continue
		}
		t.remote.Set(ctx, key, items, remaining)
		written++
	}
	return written
}

func (t *Tiered) Stats(ctx context.Context) ports.CacheStats {
	stats := t.memory.Stats(ctx)
	if t.remote != nil {
		stats.RemoteOK = t.remote.Ping(ctx) == nil
	}
	return stats
}

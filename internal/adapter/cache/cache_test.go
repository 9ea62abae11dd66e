package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/logger"
)

func testLogger() *logger.StyledLogger {
	return logger.NewStyledLogger(slog.New(slog.DiscardHandler))
}

func testItems(n int) []domain.NewsItem {
	items := make([]domain.NewsItem, n)
	for i := range items {
		items[i] = domain.NewsItem{
			ID:       domain.DeriveItemID("src", "https://example.com/"+string(rune('a'+i)), "", time.Time{}),
			SourceID: "src",
			Title:    "story " + string(rune('a'+i)),
			URL:      "https://example.com/" + string(rune('a'+i)),
		}
	}
	return items
}

func newTestRemote(t *testing.T) (*Remote, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	remote := NewRemote(RemoteConfig{Address: mr.Addr()}, testLogger())
	t.Cleanup(func() { remote.Close() })
	return remote, mr
}

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	items := testItems(3)
	m.Set(ctx, "source:a", items, time.Minute)

	got, ok := m.Get(ctx, "source:a")
	require.True(t, ok)
	assert.Equal(t, items, got)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	m.Set(ctx, "source:a", testItems(1), time.Minute)

	got, ok := m.Get(ctx, "source:a")
	require.True(t, ok)
	got[0].Title = "mutated"

	again, ok := m.Get(ctx, "source:a")
	require.True(t, ok)
	assert.NotEqual(t, "mutated", again[0].Title)
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	m.Set(ctx, "source:a", testItems(1), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := m.Get(ctx, "source:a")
	assert.False(t, ok)
	assert.False(t, m.Exists(ctx, "source:a"))
}

func TestMemory_ClearPattern(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	m.Set(ctx, "source:a", testItems(1), time.Minute)
	m.Set(ctx, "source:b", testItems(1), time.Minute)
	m.Set(ctx, "other:c", testItems(1), time.Minute)

	removed := m.Clear(ctx, "source:*")
	assert.Equal(t, 2, removed)
	assert.True(t, m.Exists(ctx, "other:c"))
}

func TestMemory_TTL(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	m.Set(ctx, "source:a", testItems(1), time.Minute)

	ttl, ok := m.TTL(ctx, "source:a")
	require.True(t, ok)
	assert.InDelta(t, time.Minute, ttl, float64(2*time.Second))

	_, ok = m.TTL(ctx, "source:missing")
	assert.False(t, ok)
}

func TestRemote_RoundTrip(t *testing.T) {
	remote, _ := newTestRemote(t)
	ctx := context.Background()

	items := testItems(2)
	remote.Set(ctx, "source:a", items, time.Minute)

	got, ttl, ok := remote.Get(ctx, "source:a")
	require.True(t, ok)
	assert.Equal(t, items, got)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRemote_CorruptEntryDiscarded(t *testing.T) {
	remote, mr := newTestRemote(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("source:bad", "not json"))

	_, _, ok := remote.Get(ctx, "source:bad")
	assert.False(t, ok)
	assert.False(t, mr.Exists("source:bad"), "corrupt entry must be deleted")
}

func TestRemote_Clear(t *testing.T) {
	remote, _ := newTestRemote(t)
	ctx := context.Background()

	remote.Set(ctx, "source:a", testItems(1), time.Minute)
	remote.Set(ctx, "source:b", testItems(1), time.Minute)
	remote.Set(ctx, "other:c", testItems(1), time.Minute)

	removed := remote.Clear(ctx, "source:*")
	assert.Equal(t, 2, removed)
	assert.True(t, remote.Exists(ctx, "other:c"))
}

func TestTiered_MemoryFirst(t *testing.T) {
	remote, _ := newTestRemote(t)
	memory := NewMemory(0)
	tiered := NewTiered(memory, remote, testLogger())
	ctx := context.Background()

	items := testItems(2)
	tiered.Set(ctx, "source:a", items, time.Minute)

	// Both tiers hold the entry.
	_, ok := memory.Get(ctx, "source:a")
	assert.True(t, ok)
	_, _, ok = remote.Get(ctx, "source:a")
	assert.True(t, ok)

	got, ok := tiered.Get(ctx, "source:a")
	require.True(t, ok)
	assert.Equal(t, items, got)
}

func TestTiered_RepopulatesMemoryFromRemote(t *testing.T) {
	remote, _ := newTestRemote(t)
	memory := NewMemory(0)
	tiered := NewTiered(memory, remote, testLogger())
	ctx := context.Background()

	// Entry only in the remote tier, as after a process restart.
	items := testItems(1)
	remote.Set(ctx, "source:a", items, time.Minute)

	got, ok := tiered.Get(ctx, "source:a")
	require.True(t, ok)
	assert.Equal(t, items, got)

	// Memory tier now holds it too.
	_, ok = memory.Get(ctx, "source:a")
	assert.True(t, ok)
}

func TestTiered_DegradesWhenRemoteDown(t *testing.T) {
	remote, mr := newTestRemote(t)
	memory := NewMemory(0)
	tiered := NewTiered(memory, remote, testLogger())
	ctx := context.Background()

	mr.Close()

	// Writes and reads still work on the memory tier.
	items := testItems(1)
	tiered.Set(ctx, "source:a", items, time.Minute)

	got, ok := tiered.Get(ctx, "source:a")
	require.True(t, ok)
	assert.Equal(t, items, got)
}

func TestTiered_MemoryOnly(t *testing.T) {
	tiered := NewTiered(NewMemory(0), nil, testLogger())
	ctx := context.Background()

	tiered.Set(ctx, "source:a", testItems(1), time.Minute)
	_, ok := tiered.Get(ctx, "source:a")
	assert.True(t, ok)

	_, ok = tiered.TTL(ctx, "source:a")
	assert.True(t, ok)

	stats := tiered.Stats(ctx)
	assert.Equal(t, 1, stats.Entries)
	assert.False(t, stats.RemoteOK)
}

func TestTiered_Delete(t *testing.T) {
	remote, _ := newTestRemote(t)
	tiered := NewTiered(NewMemory(0), remote, testLogger())
	ctx := context.Background()

	tiered.Set(ctx, "source:a", testItems(1), time.Minute)
	tiered.Delete(ctx, "source:a")

	_, ok := tiered.Get(ctx, "source:a")
	assert.False(t, ok)
}

func TestTiered_FlushCopiesMemoryToRemote(t *testing.T) {
	remote, _ := newTestRemote(t)
	memory := NewMemory(0)
	tiered := NewTiered(memory, remote, testLogger())
	ctx := context.Background()

	// Seed the memory tier only, bypassing the tiered write path.
	memory.Set(ctx, "source:a", testItems(2), time.Minute)
	memory.Set(ctx, "source:b", testItems(1), time.Minute)

	assert.Equal(t, 2, tiered.Flush(ctx))

	items, _, ok := remote.Get(ctx, "source:a")
	require.True(t, ok)
	assert.Len(t, items, 2)
}

func TestTiered_FlushMemoryOnlyIsNoOp(t *testing.T) {
	tiered := NewTiered(NewMemory(0), nil, testLogger())
	ctx := context.Background()

	tiered.Set(ctx, "source:a", testItems(1), time.Minute)
	assert.Equal(t, 0, tiered.Flush(ctx))
}

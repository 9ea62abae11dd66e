package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davral/tidings/internal/adapter/cache"
	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/logger"
)

// stubStrategy lets a test script successive fetch outcomes.
type stubStrategy struct {
	mu      sync.Mutex
	results [][]domain.NewsItem
	errs    []error
	calls   atomic.Int32
	inFly   atomic.Int32
	maxFly  atomic.Int32
	delay   time.Duration
}

func (s *stubStrategy) Kind() domain.SourceKind { return domain.KindJSONAPI }

func (s *stubStrategy) Fetch(ctx context.Context) ([]domain.NewsItem, error) {
	fly := s.inFly.Add(1)
	defer s.inFly.Add(-1)
	for {
		old := s.maxFly.Load()
		if fly <= old || s.maxFly.CompareAndSwap(old, fly) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	call := int(s.calls.Add(1)) - 1

	s.mu.Lock()
	defer s.mu.Unlock()
	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	if call < len(s.results) {
		return s.results[call], nil
	}
	if len(s.results) > 0 {
		return s.results[len(s.results)-1], nil
	}
	return nil, nil
}

func makeItems(n int) []domain.NewsItem {
	items := make([]domain.NewsItem, n)
	for i := range items {
		items[i] = domain.NewsItem{
			Title:       fmt.Sprintf("story %d", i),
			URL:         fmt.Sprintf("https://example.com/%d", i),
			PublishedAt: time.Now().Add(-time.Duration(i) * time.Minute),
		}
	}
	return items
}

func testSource(t *testing.T, strategy *stubStrategy, mutate ...func(*domain.SourceConfig, *Deps)) *CachedSource {
	t.Helper()

	cfg := domain.SourceConfig{
		SourceID: "test-src",
		Name:     "Test Source",
		CacheTTL: time.Minute,
	}
	deps := Deps{
		Strategy: strategy,
		Cache:    cache.NewTiered(cache.NewMemory(0), nil, testLogger()),
		Logger:   testLogger(),
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}
	return NewCachedSource(cfg, domain.SourceOptions{}, deps)
}

func testLogger() *logger.StyledLogger {
	return logger.NewStyledLogger(slog.New(slog.DiscardHandler))
}

func TestGetNews_FetchAndCache(t *testing.T) {
	strategy := &stubStrategy{results: [][]domain.NewsItem{makeItems(5)}}
	src := testSource(t, strategy)
	ctx := context.Background()

	items := src.GetNews(ctx, false)
	require.Len(t, items, 5)
	assert.Equal(t, int32(1), strategy.calls.Load())

	// Second call inside the TTL is a hit.
	again := src.GetNews(ctx, false)
	require.Len(t, again, 5)
	assert.Equal(t, int32(1), strategy.calls.Load())

	hits, misses := src.Metrics().HitCounts()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestGetNews_HitReturnsCopy(t *testing.T) {
	strategy := &stubStrategy{results: [][]domain.NewsItem{makeItems(2)}}
	src := testSource(t, strategy)
	ctx := context.Background()

	first := src.GetNews(ctx, false)
	first[0].Title = "mutated"

	second := src.GetNews(ctx, false)
	assert.NotEqual(t, "mutated", second[0].Title)
}

func TestGetNews_ItemsAreNormalized(t *testing.T) {
	strategy := &stubStrategy{results: [][]domain.NewsItem{{
		{Title: "  [AD] Hello   World ", URL: "https://example.com/a?utm_source=feed&id=1"},
		{Title: "hello world", URL: "https://example.com/b"}, // duplicate fingerprint
		{Title: "\x00\x01", URL: "https://example.com/c"},    // empty after cleaning
	}}}
	src := testSource(t, strategy)

	items := src.GetNews(context.Background(), false)
	require.Len(t, items, 1)
	assert.Equal(t, "Hello World", items[0].Title)
	assert.Equal(t, "https://example.com/a?id=1", items[0].URL)
	assert.Equal(t, "test-src", items[0].SourceID)
	assert.NotEmpty(t, items[0].ID)
}

func TestGetNews_SingleFlight(t *testing.T) {
	strategy := &stubStrategy{
		results: [][]domain.NewsItem{makeItems(3)},
		delay:   50 * time.Millisecond,
	}
	src := testSource(t, strategy)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.GetNews(context.Background(), true)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), strategy.maxFly.Load(), "fetches must never overlap")
}

func TestGetNews_EmptyProtection(t *testing.T) {
	strategy := &stubStrategy{results: [][]domain.NewsItem{makeItems(10), {}}}
	src := testSource(t, strategy)
	ctx := context.Background()

	require.Len(t, src.GetNews(ctx, false), 10)

	before := src.CacheStatus().State.LastUpdate
	items := src.GetNews(ctx, true)

	assert.Len(t, items, 10, "stale cache must be served")
	empty, _, _ := src.ProtectionStats().Counts()
	assert.Equal(t, int64(1), empty)
	assert.Equal(t, before, src.CacheStatus().State.LastUpdate, "cache timestamp must not move")
}

func TestGetNews_EmptyNoCache(t *testing.T) {
	strategy := &stubStrategy{results: [][]domain.NewsItem{{}}}
	src := testSource(t, strategy)

	items := src.GetNews(context.Background(), false)
	assert.Empty(t, items)

	empty, _, _ := src.ProtectionStats().Counts()
	assert.Zero(t, empty, "no protection without a cache to protect")
	assert.Equal(t, int64(1), src.Metrics().Snapshot().EmptyResultCount)
}

func TestGetNews_ErrorProtection(t *testing.T) {
	strategy := &stubStrategy{
		results: [][]domain.NewsItem{makeItems(7)},
		errs:    []error{nil, errors.New("upstream down")},
	}
	src := testSource(t, strategy)
	ctx := context.Background()

	require.Len(t, src.GetNews(ctx, false), 7)

	items := src.GetNews(ctx, true)
	assert.Len(t, items, 7)

	_, errCount, _ := src.ProtectionStats().Counts()
	assert.Equal(t, int64(1), errCount)
}

func TestGetNews_ErrorNoCache(t *testing.T) {
	strategy := &stubStrategy{errs: []error{errors.New("down")}}
	src := testSource(t, strategy)

	items := src.GetNews(context.Background(), false)
	assert.Empty(t, items)
	assert.Equal(t, int64(1), src.Metrics().Snapshot().FetchErrorCount)
}

func TestGetNews_ShrinkProtection(t *testing.T) {
	strategy := &stubStrategy{results: [][]domain.NewsItem{
		makeItems(30),
		makeItems(5),  // 5 < 0.3*30: protected
		makeItems(20), // 20 >= 0.3*30: accepted
	}}
	src := testSource(t, strategy)
	ctx := context.Background()

	require.Len(t, src.GetNews(ctx, false), 30)

	items := src.GetNews(ctx, true)
	assert.Len(t, items, 30)
	_, _, shrink := src.ProtectionStats().Counts()
	assert.Equal(t, int64(1), shrink)

	items = src.GetNews(ctx, true)
	assert.Len(t, items, 20)
	_, _, shrink = src.ProtectionStats().Counts()
	assert.Equal(t, int64(1), shrink, "accepted update must not count as shrink")
}

func TestGetNews_ShrinkAllowedOnSmallCache(t *testing.T) {
	// A cache of 5 or fewer items is too small for the shrink heuristic.
	strategy := &stubStrategy{results: [][]domain.NewsItem{makeItems(5), makeItems(1)}}
	src := testSource(t, strategy)
	ctx := context.Background()

	require.Len(t, src.GetNews(ctx, false), 5)
	items := src.GetNews(ctx, true)
	assert.Len(t, items, 1)

	_, _, shrink := src.ProtectionStats().Counts()
	assert.Zero(t, shrink)
}

func TestGetNews_CacheExpiry(t *testing.T) {
	strategy := &stubStrategy{results: [][]domain.NewsItem{makeItems(3), makeItems(4)}}
	src := testSource(t, strategy, func(cfg *domain.SourceConfig, _ *Deps) {
		cfg.CacheTTL = 30 * time.Millisecond
	})
	ctx := context.Background()

	require.Len(t, src.GetNews(ctx, false), 3)
	time.Sleep(60 * time.Millisecond)

	items := src.GetNews(ctx, false)
	assert.Len(t, items, 4, "expired cache must trigger a refetch")
	assert.Equal(t, int32(2), strategy.calls.Load())
}

func TestGetNews_ExtendedValidity(t *testing.T) {
	strategy := &stubStrategy{results: [][]domain.NewsItem{makeItems(3)}}
	src := testSource(t, strategy, func(cfg *domain.SourceConfig, deps *Deps) {
		cfg.CacheTTL = 60 * time.Millisecond
		deps.ExtendedValidity = true
	})
	ctx := context.Background()

	require.Len(t, src.GetNews(ctx, false), 3)

	// Past TTL but inside 1.5x: still a hit.
	time.Sleep(70 * time.Millisecond)
	src.GetNews(ctx, false)
	assert.Equal(t, int32(1), strategy.calls.Load())
}

func TestGetNews_FetchTimeoutTriggersErrorPath(t *testing.T) {
	strategy := &stubStrategy{
		results: [][]domain.NewsItem{makeItems(4)},
		delay:   20 * time.Millisecond,
	}
	// Hand-built source with a timeout shorter than the strategy delay.
	strategy2 := &timeoutStrategy{delay: 100 * time.Millisecond}
	src := testSource(t, strategy)
	ctx := context.Background()

	require.Len(t, src.GetNews(ctx, false), 4)

	src2 := NewCachedSource(domain.SourceConfig{SourceID: "slow", CacheTTL: time.Minute},
		domain.SourceOptions{},
		Deps{Strategy: strategy2, Logger: testLogger(), FetchTimeout: 10 * time.Millisecond})

	items := src2.GetNews(ctx, false)
	assert.Empty(t, items)
	assert.Equal(t, int64(1), src2.Metrics().Snapshot().FetchErrorCount)
}

// timeoutStrategy honours context cancellation.
type timeoutStrategy struct {
	delay time.Duration
}

func (s *timeoutStrategy) Kind() domain.SourceKind { return domain.KindJSONAPI }

func (s *timeoutStrategy) Fetch(ctx context.Context) ([]domain.NewsItem, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
		return makeItems(1), nil
	}
}

func TestClearCache(t *testing.T) {
	strategy := &stubStrategy{results: [][]domain.NewsItem{makeItems(8), {}}}
	src := testSource(t, strategy)
	ctx := context.Background()

	require.Len(t, src.GetNews(ctx, false), 8)

	// Force an empty fetch to accumulate a protection count.
	src.GetNews(ctx, true)
	empty, _, _ := src.ProtectionStats().Counts()
	require.Equal(t, int64(1), empty)

	src.ClearCache(ctx)

	status := src.CacheStatus()
	assert.False(t, status.State.HasItems)
	assert.True(t, status.State.LastUpdate.IsZero())

	empty, _, _ = src.ProtectionStats().Counts()
	assert.Zero(t, empty, "counters reset on clear")
	assert.NotEmpty(t, src.ProtectionStats().Recent(0), "history survives a clear")
}

func TestUpdateCache_EmptyNoOp(t *testing.T) {
	strategy := &stubStrategy{results: [][]domain.NewsItem{makeItems(4)}}
	src := testSource(t, strategy)
	ctx := context.Background()

	require.Len(t, src.GetNews(ctx, false), 4)

	src.UpdateCache(ctx, nil)

	status := src.CacheStatus()
	assert.Equal(t, 4, status.State.ItemsCount, "empty update must not wipe the cache")
}

func TestPrime(t *testing.T) {
	store := cache.NewTiered(cache.NewMemory(0), nil, testLogger())
	ctx := context.Background()
	store.Set(ctx, CacheKey("test-src"), makeItems(6), time.Minute)

	strategy := &stubStrategy{}
	src := testSource(t, strategy, func(_ *domain.SourceConfig, deps *Deps) {
		deps.Cache = store
	})

	require.True(t, src.Prime(ctx))
	items := src.GetNews(ctx, false)
	assert.Len(t, items, 6)
	assert.Zero(t, strategy.calls.Load(), "primed cache must satisfy the first read")
}

func TestProtectionEventsPublished(t *testing.T) {
	var events []domain.ProtectionEvent
	var mu sync.Mutex

	strategy := &stubStrategy{results: [][]domain.NewsItem{makeItems(10), {}}}
	src := testSource(t, strategy, func(_ *domain.SourceConfig, deps *Deps) {
		deps.OnProtection = func(ev domain.ProtectionEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	})
	ctx := context.Background()

	src.GetNews(ctx, false)
	src.GetNews(ctx, true)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, domain.ProtectionEmpty, events[0].Type)
	assert.Equal(t, 10, events[0].CacheSize)
}

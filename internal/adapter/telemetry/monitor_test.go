package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/logger"
	"github.com/davral/tidings/pkg/eventbus"
)

type statusSource struct {
	status domain.CacheStatus
}

func (s *statusSource) SourceID() string { return s.status.SourceID }
func (s *statusSource) Name() string     { return s.status.SourceName }
func (s *statusSource) Descriptor() domain.SourceConfig {
	return domain.SourceConfig{SourceID: s.status.SourceID}
}
func (s *statusSource) Tuning() domain.SourceOptions                        { return domain.SourceOptions{} }
func (s *statusSource) GetNews(_ context.Context, _ bool) []domain.NewsItem { return nil }
func (s *statusSource) CacheStatus() domain.CacheStatus                     { return s.status }
func (s *statusSource) ClearCache(_ context.Context)                        {}

type statusProvider struct {
	sources []*statusSource
}

func (p *statusProvider) GetSource(id string) (ports.Source, bool) {
	for _, s := range p.sources {
		if s.status.SourceID == id {
			return s, true
		}
	}
	return nil, false
}

func (p *statusProvider) GetAllSources() []ports.Source {
	out := make([]ports.Source, len(p.sources))
	for i, s := range p.sources {
		out[i] = s
	}
	return out
}

func (p *statusProvider) Reload(_ context.Context, _ []domain.SourceConfig) error { return nil }

func protectedStatus(id string, events int, at time.Time) domain.CacheStatus {
	st := domain.CacheStatus{SourceID: id, SourceName: id}
	for i := 0; i < events; i++ {
		st.Protection.RecentProtections = append(st.Protection.RecentProtections,
			domain.ProtectionEvent{Time: at, Type: domain.ProtectionEmpty, SourceID: id})
	}
	st.Protection.EmptyProtectionCount = int64(events)
	return st
}

func testMonitor(sources ...*statusSource) *Monitor {
	log := logger.NewStyledLogger(slog.New(slog.DiscardHandler))
	bus := eventbus.NewWithConfig[domain.ProtectionEvent](eventbus.Config{BufferSize: 8})
	return NewMonitor(&statusProvider{sources: sources}, bus, NewCollector(), log)
}

func TestCacheStatus(t *testing.T) {
	m := testMonitor(&statusSource{status: domain.CacheStatus{SourceID: "tech", SourceName: "Tech"}})

	st, ok := m.CacheStatus("tech")
	require.True(t, ok)
	assert.Equal(t, "Tech", st.SourceName)

	_, ok = m.CacheStatus("missing")
	assert.False(t, ok)
}

func TestHealthy(t *testing.T) {
	now := time.Now()
	m := testMonitor(
		&statusSource{status: protectedStatus("calm", 2, now)},
		&statusSource{status: protectedStatus("noisy", 4, now)},
		&statusSource{status: protectedStatus("recovered", 4, now.Add(-2*time.Hour))},
	)

	assert.True(t, m.Healthy("calm"))
	assert.False(t, m.Healthy("noisy"))
	assert.True(t, m.Healthy("recovered"), "old protections fall outside the window")
	assert.False(t, m.Healthy("missing"))
}

func TestGlobalCacheStatus(t *testing.T) {
	now := time.Now()

	busy := protectedStatus("busy", 4, now)
	busy.State = domain.CacheStatusState{HasItems: true, ItemsCount: 12}
	busy.Metrics.CacheHitCount = 30
	busy.Metrics.CacheMissCount = 10

	idle := domain.CacheStatus{SourceID: "idle", SourceName: "idle"}

	m := testMonitor(&statusSource{status: busy}, &statusSource{status: idle})
	global := m.GlobalCacheStatus()

	assert.Equal(t, 2, global.Sources)
	assert.Equal(t, 1, global.SourcesWithItems)
	assert.Equal(t, 12, global.TotalItems)
	assert.Equal(t, int64(30), global.TotalHits)
	assert.InDelta(t, 0.75, global.HitRatio, 0.0001)
	assert.Equal(t, int64(4), global.ProtectionCounts[domain.ProtectionEmpty])
	assert.Equal(t, []string{"busy"}, global.Unhealthy)
	assert.Len(t, global.PerSource, 2)
}

func TestCollectorRecordsProtections(t *testing.T) {
	c := NewCollector()

	c.RecordProtection(domain.ProtectionEvent{SourceID: "tech", Type: domain.ProtectionEmpty})
	c.RecordProtection(domain.ProtectionEvent{SourceID: "tech", Type: domain.ProtectionEmpty})
	c.RecordProtection(domain.ProtectionEvent{SourceID: "tech", Type: domain.ProtectionShrink})

	empty := c.protectionEvents.WithLabelValues("tech", domain.ProtectionEmpty)
	assert.Equal(t, 2.0, testutil.ToFloat64(empty))
	shrink := c.protectionEvents.WithLabelValues("tech", domain.ProtectionShrink)
	assert.Equal(t, 1.0, testutil.ToFloat64(shrink))
}

func TestCollectorSync(t *testing.T) {
	c := NewCollector()

	st := domain.CacheStatus{SourceID: "tech"}
	st.State.ItemsCount = 7
	st.Metrics.CacheHitCount = 21
	st.Metrics.CacheMissCount = 3
	c.Sync([]domain.CacheStatus{st})

	assert.Equal(t, 7.0, testutil.ToFloat64(c.cachedItems.WithLabelValues("tech")))
	assert.Equal(t, 21.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("tech")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("tech")))
}

func TestRunConsumesBusEvents(t *testing.T) {
	log := logger.NewStyledLogger(slog.New(slog.DiscardHandler))
	bus := eventbus.NewWithConfig[domain.ProtectionEvent](eventbus.Config{BufferSize: 8})
	c := NewCollector()
	m := NewMonitor(&statusProvider{}, bus, c, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return bus.Publish(domain.ProtectionEvent{SourceID: "tech", Type: domain.ProtectionError}) == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.protectionEvents.WithLabelValues("tech", domain.ProtectionError)) == 1.0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestMetricsHandler(t *testing.T) {
	c := NewCollector()
	c.RecordProtection(domain.ProtectionEvent{SourceID: "tech", Type: domain.ProtectionEmpty})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tidings_protection_events_total")
}

func TestCollectorSyncIntervals(t *testing.T) {
	c := NewCollector()
	c.SyncIntervals([]ports.SourceStatus{
		{SourceID: "tech", AdaptiveInterval: 5 * time.Minute},
		{SourceID: "world", AdaptiveInterval: 90 * time.Second},
	})

	assert.Equal(t, 300.0, testutil.ToFloat64(c.adaptiveInterval.WithLabelValues("tech")))
	assert.Equal(t, 90.0, testutil.ToFloat64(c.adaptiveInterval.WithLabelValues("world")))
}

func TestMonitorSyncIncludesSchedulerIntervals(t *testing.T) {
	p := &statusProvider{}
	c := NewCollector()
	m := NewMonitor(p, eventbus.New[domain.ProtectionEvent](), c, logger.NewStyledLogger(slog.New(slog.DiscardHandler)))
	m.WatchScheduler(func() []ports.SourceStatus {
		return []ports.SourceStatus{{SourceID: "tech", AdaptiveInterval: 10 * time.Minute}}
	})

	m.sync(context.Background())

	assert.Equal(t, 600.0, testutil.ToFloat64(c.adaptiveInterval.WithLabelValues("tech")))
}

type fakeStoreReader struct {
	items  map[string][]domain.NewsItem
	counts map[string]int
}

func (f *fakeStoreReader) ListRecent(_ context.Context, sourceID string, limit int) ([]domain.NewsItem, error) {
	items := f.items[sourceID]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeStoreReader) CountBySource(_ context.Context) (map[string]int, error) {
	return f.counts, nil
}

func TestMonitorSyncIncludesStoreCounts(t *testing.T) {
	p := &statusProvider{}
	c := NewCollector()
	m := NewMonitor(p, eventbus.New[domain.ProtectionEvent](), c, logger.NewStyledLogger(slog.New(slog.DiscardHandler)))
	m.WatchStore(&fakeStoreReader{counts: map[string]int{"tech": 42, "world": 7}})

	m.sync(context.Background())

	assert.Equal(t, 42.0, testutil.ToFloat64(c.storedItems.WithLabelValues("tech")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.storedItems.WithLabelValues("world")))
}

func TestNewsEndpoint(t *testing.T) {
	m := testMonitor()
	m.WatchStore(&fakeStoreReader{items: map[string][]domain.NewsItem{
		"tech": {
			{ID: "1", SourceID: "tech", Title: "One", URL: "https://e.com/1"},
			{ID: "2", SourceID: "tech", Title: "Two", URL: "https://e.com/2"},
		},
	}})

	rec := httptest.NewRecorder()
	m.handleNews(rec, httptest.NewRequest(http.MethodGet, "/news?source=tech&limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var items []domain.NewsItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "One", items[0].Title)
}

func TestNewsEndpointRejectsBadParams(t *testing.T) {
	m := testMonitor()
	m.WatchStore(&fakeStoreReader{})

	rec := httptest.NewRecorder()
	m.handleNews(rec, httptest.NewRequest(http.MethodGet, "/news", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	m.handleNews(rec, httptest.NewRequest(http.MethodGet, "/news?source=tech&limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

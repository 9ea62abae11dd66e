package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/logger"
	"github.com/davral/tidings/pkg/eventbus"
)

const (
	// A source with more than this many protections inside the health
	// window is flagged unhealthy.
	healthProtectionLimit = 3
	healthWindow          = 30 * time.Minute

	defaultSyncInterval = 30 * time.Second
)

// GlobalCacheStatus is the engine-wide rollup served next to the per-source
// documents.
type GlobalCacheStatus struct {
	GeneratedAt      time.Time            `json:"generated_at"`
	Sources          int                  `json:"sources"`
	SourcesWithItems int                  `json:"sources_with_items"`
	TotalItems       int                  `json:"total_items"`
	TotalHits        int64                `json:"total_hits"`
	TotalMisses      int64                `json:"total_misses"`
	HitRatio         float64              `json:"hit_ratio"`
	ProtectionCounts map[string]int64     `json:"protection_counts"`
	Unhealthy        []string             `json:"unhealthy,omitempty"`
	PerSource        []domain.CacheStatus `json:"per_source"`
}

// StoreReader is the slice of the persistence surface the monitor serves.
type StoreReader interface {
	ListRecent(ctx context.Context, sourceID string, limit int) ([]domain.NewsItem, error)
	CountBySource(ctx context.Context) (map[string]int, error)
}

// Monitor aggregates per-source cache telemetry, flags unhealthy sources and
// keeps the Prometheus collector in step with the engine.
type Monitor struct {
	provider  ports.SourceProvider
	bus       *eventbus.Bus[domain.ProtectionEvent]
	collector *Collector
	logger    *logger.StyledLogger

	syncInterval time.Duration
	now          func() time.Time
	statusFn     func() []ports.SourceStatus
	store        StoreReader
}

func NewMonitor(provider ports.SourceProvider, bus *eventbus.Bus[domain.ProtectionEvent], collector *Collector, log *logger.StyledLogger) *Monitor {
	return &Monitor{
		provider:     provider,
		bus:          bus,
		collector:    collector,
		logger:       log,
		syncInterval: defaultSyncInterval,
		now:          time.Now,
	}
}

// WatchScheduler hooks the scheduler's status snapshot into the periodic
// sync so adaptive intervals show up on the metrics surface.
func (m *Monitor) WatchScheduler(statusFn func() []ports.SourceStatus) {
	m.statusFn = statusFn
}

// WatchStore hooks the persistence layer in: row counts join the periodic
// sync and the listener gains a /news endpoint.
func (m *Monitor) WatchStore(store StoreReader) {
	m.store = store
}

// CacheStatus returns the telemetry document for one source.
func (m *Monitor) CacheStatus(sourceID string) (domain.CacheStatus, bool) {
	src, ok := m.provider.GetSource(sourceID)
	if !ok {
		return domain.CacheStatus{}, false
	}
	return src.CacheStatus(), true
}

// Healthy reports whether a source is inside its protection budget.
func (m *Monitor) Healthy(sourceID string) bool {
	status, ok := m.CacheStatus(sourceID)
	if !ok {
		return false
	}
	return m.recentProtections(status) <= healthProtectionLimit
}

// GlobalCacheStatus rolls every source's document up into one view.
func (m *Monitor) GlobalCacheStatus() GlobalCacheStatus {
	sources := m.provider.GetAllSources()

	out := GlobalCacheStatus{
		GeneratedAt:      m.now(),
		Sources:          len(sources),
		ProtectionCounts: map[string]int64{},
		PerSource:        make([]domain.CacheStatus, 0, len(sources)),
	}

	for _, src := range sources {
		st := src.CacheStatus()
		out.PerSource = append(out.PerSource, st)

		if st.State.HasItems {
			out.SourcesWithItems++
		}
		out.TotalItems += st.State.ItemsCount
		out.TotalHits += st.Metrics.CacheHitCount
		out.TotalMisses += st.Metrics.CacheMissCount

		out.ProtectionCounts[domain.ProtectionEmpty] += st.Protection.EmptyProtectionCount
		out.ProtectionCounts[domain.ProtectionError] += st.Protection.ErrorProtectionCount
		out.ProtectionCounts[domain.ProtectionShrink] += st.Protection.ShrinkProtectionCount

		if m.recentProtections(st) > healthProtectionLimit {
			out.Unhealthy = append(out.Unhealthy, st.SourceID)
		}
	}

	if total := out.TotalHits + out.TotalMisses; total > 0 {
		out.HitRatio = float64(out.TotalHits) / float64(total)
	}
	sort.Strings(out.Unhealthy)

	return out
}

// Run consumes protection events and periodically re-syncs the gauge family
// until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	events, cancel := m.bus.Subscribe(ctx)
	defer cancel()

	ticker := time.NewTicker(m.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.collector.RecordProtection(ev)
		case <-ticker.C:
			m.sync(ctx)
		}
	}
}

func (m *Monitor) sync(ctx context.Context) {
	statuses := make([]domain.CacheStatus, 0)
	for _, src := range m.provider.GetAllSources() {
		statuses = append(statuses, src.CacheStatus())
	}
	m.collector.Sync(statuses)

	if m.statusFn != nil {
		m.collector.SyncIntervals(m.statusFn())
	}

	if m.store != nil {
		counts, err := m.store.CountBySource(ctx)
		if err != nil {
			m.logger.Debug("store count sync failed", "error", err)
			return
		}
		m.collector.SyncStoreCounts(counts)
	}
}

// Serve exposes /metrics until the context is cancelled.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.collector.Handler())
	if m.store != nil {
		mux.HandleFunc("/news", m.handleNews)
	}

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	m.logger.Info("metrics listener started", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleNews serves the freshest persisted items for one source as JSON.
func (m *Monitor) handleNews(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source")
	if sourceID == "" {
		http.Error(w, "source parameter required", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items, err := m.store.ListRecent(r.Context(), sourceID, limit)
	if err != nil {
		m.logger.Error("news listing failed", "source", sourceID, "error", err)
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

// recentProtections counts protections inside the health window.
func (m *Monitor) recentProtections(st domain.CacheStatus) int {
	cutoff := m.now().Add(-healthWindow)
	n := 0
	for _, ev := range st.Protection.RecentProtections {
		if ev.Time.After(cutoff) {
			n++
		}
	}
	return n
}

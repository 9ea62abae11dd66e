package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
)

// Collector owns the engine's Prometheus surface on a private registry so
// tests and embedders never collide with the global default registry.
type Collector struct {
	registry *prometheus.Registry

	protectionEvents *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec

	cacheHits        *prometheus.GaugeVec
	cacheMisses      *prometheus.GaugeVec
	cachedItems      *prometheus.GaugeVec
	fetchErrors      *prometheus.GaugeVec
	adaptiveInterval *prometheus.GaugeVec
	storedItems      *prometheus.GaugeVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		protectionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidings",
			Name:      "protection_events_total",
			Help:      "Cache-protection activations by source and kind.",
		}, []string{"source", "kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tidings",
			Name:      "fetch_duration_seconds",
			Help:      "Upstream fetch latency by source.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		cacheHits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tidings",
			Name:      "cache_hits",
			Help:      "Cache hits served per source.",
		}, []string{"source"}),
		cacheMisses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tidings",
			Name:      "cache_misses",
			Help:      "Cache misses per source.",
		}, []string{"source"}),
		cachedItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tidings",
			Name:      "cached_items",
			Help:      "Items currently cached per source.",
		}, []string{"source"}),
		fetchErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tidings",
			Name:      "fetch_errors",
			Help:      "Fetch errors recorded per source.",
		}, []string{"source"}),
		adaptiveInterval: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tidings",
			Name:      "adaptive_interval_seconds",
			Help:      "Current adaptive fetch interval per source.",
		}, []string{"source"}),
		storedItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tidings",
			Name:      "stored_items",
			Help:      "Items persisted per source.",
		}, []string{"source"}),
	}

	c.registry.MustRegister(
		c.protectionEvents, c.fetchDuration,
		c.cacheHits, c.cacheMisses, c.cachedItems, c.fetchErrors,
		c.adaptiveInterval, c.storedItems,
	)
	return c
}

// RecordProtection counts one live protection activation.
func (c *Collector) RecordProtection(ev domain.ProtectionEvent) {
	c.protectionEvents.WithLabelValues(ev.SourceID, ev.Type).Inc()
}

// ObserveFetch records one fetch latency sample.
func (c *Collector) ObserveFetch(sourceID string, elapsed time.Duration) {
	c.fetchDuration.WithLabelValues(sourceID).Observe(elapsed.Seconds())
}

// Sync mirrors per-source cache snapshots into the gauge family.
func (c *Collector) Sync(statuses []domain.CacheStatus) {
	for _, st := range statuses {
		c.cacheHits.WithLabelValues(st.SourceID).Set(float64(st.Metrics.CacheHitCount))
		c.cacheMisses.WithLabelValues(st.SourceID).Set(float64(st.Metrics.CacheMissCount))
		c.cachedItems.WithLabelValues(st.SourceID).Set(float64(st.State.ItemsCount))
		c.fetchErrors.WithLabelValues(st.SourceID).Set(float64(st.Metrics.FetchErrorCount))
	}
}

// SyncIntervals mirrors the scheduler's adaptive intervals into the gauge.
func (c *Collector) SyncIntervals(rows []ports.SourceStatus) {
	for _, row := range rows {
		c.adaptiveInterval.WithLabelValues(row.SourceID).Set(row.AdaptiveInterval.Seconds())
	}
}

// SyncStoreCounts mirrors per-source persisted row counts into the gauge.
func (c *Collector) SyncStoreCounts(counts map[string]int) {
	for sourceID, n := range counts {
		c.storedItems.WithLabelValues(sourceID).Set(float64(n))
	}
}

// Registry exposes the private registry for embedders.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

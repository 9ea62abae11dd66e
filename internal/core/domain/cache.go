package domain

import (
	"sync"
	"time"
)

// Protection event kinds recorded by the fetch wrapper.
const (
	ProtectionEmpty  = "empty_protection"
	ProtectionError  = "error_protection"
	ProtectionShrink = "shrink_protection"

	protectionHistoryMax = 20
	recentProtections    = 5
)

// ProtectionEvent is one suppressed upstream anomaly.
type ProtectionEvent struct {
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	SourceID  string    `json:"source_id"`
	CacheSize int       `json:"cache_size"`
	NewSize   int       `json:"new_size,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ProtectionStats counts cache-protection activations per source and keeps a
// bounded history of the most recent events.
type ProtectionStats struct {
	mu                 sync.Mutex
	emptyCount         int64
	errorCount         int64
	shrinkCount        int64
	lastProtectionTime time.Time
	history            []ProtectionEvent
}

func NewProtectionStats() *ProtectionStats {
	return &ProtectionStats{}
}

func (s *ProtectionStats) RecordEmpty(sourceID string, cacheSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emptyCount++
	s.append(ProtectionEvent{
		Time: time.Now(), Type: ProtectionEmpty, SourceID: sourceID, CacheSize: cacheSize,
	})
}

func (s *ProtectionStats) RecordError(sourceID string, err string, cacheSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
	s.append(ProtectionEvent{
		Time: time.Now(), Type: ProtectionError, SourceID: sourceID, CacheSize: cacheSize, Error: err,
	})
}

func (s *ProtectionStats) RecordShrink(sourceID string, oldSize, newSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shrinkCount++
	s.append(ProtectionEvent{
		Time: time.Now(), Type: ProtectionShrink, SourceID: sourceID, CacheSize: oldSize, NewSize: newSize,
	})
}

// append assumes the mutex is held.
func (s *ProtectionStats) append(ev ProtectionEvent) {
	s.lastProtectionTime = ev.Time
	s.history = append(s.history, ev)
	if len(s.history) > protectionHistoryMax {
		s.history = s.history[len(s.history)-protectionHistoryMax:]
	}
}

// ResetCounters zeroes the activation counters while keeping the event
// history, as a cache clear does.
func (s *ProtectionStats) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emptyCount = 0
	s.errorCount = 0
	s.shrinkCount = 0
}

// Counts returns (empty, error, shrink) activation counts.
func (s *ProtectionStats) Counts() (int64, int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emptyCount, s.errorCount, s.shrinkCount
}

func (s *ProtectionStats) Total() int64 {
	e, r, k := s.Counts()
	return e + r + k
}

// Recent returns up to n most recent protection events, newest last.
func (s *ProtectionStats) Recent(n int) []ProtectionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]ProtectionEvent, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// Snapshot renders the stats document exposed by the telemetry surface.
func (s *ProtectionStats) Snapshot() ProtectionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.history
	if len(recent) > recentProtections {
		recent = recent[len(recent)-recentProtections:]
	}
	recentCopy := make([]ProtectionEvent, len(recent))
	copy(recentCopy, recent)

	return ProtectionSnapshot{
		EmptyProtectionCount:  s.emptyCount,
		ErrorProtectionCount:  s.errorCount,
		ShrinkProtectionCount: s.shrinkCount,
		TotalProtectionCount:  s.emptyCount + s.errorCount + s.shrinkCount,
		LastProtectionTime:    s.lastProtectionTime,
		RecentProtections:     recentCopy,
	}
}

type ProtectionSnapshot struct {
	EmptyProtectionCount  int64             `json:"empty_protection_count"`
	ErrorProtectionCount  int64             `json:"error_protection_count"`
	ShrinkProtectionCount int64             `json:"shrink_protection_count"`
	TotalProtectionCount  int64             `json:"total_protection_count"`
	LastProtectionTime    time.Time         `json:"last_protection_time"`
	RecentProtections     []ProtectionEvent `json:"recent_protections"`
}

// CacheMetrics tracks per-source cache performance counters.
type CacheMetrics struct {
	mu                sync.Mutex
	cacheHitCount     int64
	cacheMissCount    int64
	emptyResultCount  int64
	fetchErrorCount   int64
	cacheUpdateCount  int64
	currentCacheSize  int
	maxCacheSize      int
	lastFetchTime     time.Time
	lastFetchDuration time.Duration
}

func NewCacheMetrics() *CacheMetrics {
	return &CacheMetrics{}
}

func (m *CacheMetrics) RecordHit() {
	m.mu.Lock()
	m.cacheHitCount++
	m.mu.Unlock()
}

func (m *CacheMetrics) RecordMiss() {
	m.mu.Lock()
	m.cacheMissCount++
	m.mu.Unlock()
}

func (m *CacheMetrics) RecordEmptyResult() {
	m.mu.Lock()
	m.emptyResultCount++
	m.mu.Unlock()
}

func (m *CacheMetrics) RecordFetchError() {
	m.mu.Lock()
	m.fetchErrorCount++
	m.mu.Unlock()
}

func (m *CacheMetrics) RecordUpdate(cacheSize int) {
	m.mu.Lock()
	m.cacheUpdateCount++
	m.currentCacheSize = cacheSize
	if cacheSize > m.maxCacheSize {
		m.maxCacheSize = cacheSize
	}
	m.mu.Unlock()
}

func (m *CacheMetrics) RecordFetch(elapsed time.Duration) {
	m.mu.Lock()
	m.lastFetchTime = time.Now()
	m.lastFetchDuration = elapsed
	m.mu.Unlock()
}

// HitCounts returns (hits, misses).
func (m *CacheMetrics) HitCounts() (int64, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheHitCount, m.cacheMissCount
}

func (m *CacheMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.cacheHitCount + m.cacheMissCount
	ratio := 0.0
	if total > 0 {
		ratio = float64(m.cacheHitCount) / float64(total)
	}

	return MetricsSnapshot{
		CacheHitCount:     m.cacheHitCount,
		CacheMissCount:    m.cacheMissCount,
		HitRatio:          ratio,
		EmptyResultCount:  m.emptyResultCount,
		FetchErrorCount:   m.fetchErrorCount,
		CacheUpdateCount:  m.cacheUpdateCount,
		CurrentCacheSize:  m.currentCacheSize,
		MaxCacheSize:      m.maxCacheSize,
		LastFetchTime:     m.lastFetchTime,
		LastFetchDuration: m.lastFetchDuration,
	}
}

type MetricsSnapshot struct {
	CacheHitCount     int64         `json:"cache_hit_count"`
	CacheMissCount    int64         `json:"cache_miss_count"`
	HitRatio          float64       `json:"hit_ratio"`
	EmptyResultCount  int64         `json:"empty_result_count"`
	FetchErrorCount   int64         `json:"fetch_error_count"`
	CacheUpdateCount  int64         `json:"cache_update_count"`
	CurrentCacheSize  int           `json:"current_cache_size"`
	MaxCacheSize      int           `json:"max_cache_size"`
	LastFetchTime     time.Time     `json:"last_fetch_time"`
	LastFetchDuration time.Duration `json:"last_fetch_duration"`
}

// CacheStatus is the per-source document the telemetry surface serves.
type CacheStatus struct {
	SourceID   string             `json:"source_id"`
	SourceName string             `json:"source_name"`
	Config     CacheStatusConfig  `json:"cache_config"`
	State      CacheStatusState   `json:"cache_state"`
	Protection ProtectionSnapshot `json:"protection_stats"`
	Metrics    MetricsSnapshot    `json:"metrics"`
}

type CacheStatusConfig struct {
	UpdateInterval   time.Duration `json:"update_interval"`
	CacheTTL         time.Duration `json:"cache_ttl"`
	AdaptiveEnabled  bool          `json:"adaptive_enabled"`
	ExtendedValidity bool          `json:"extended_validity"`
}

type CacheStatusState struct {
	HasItems   bool          `json:"has_items"`
	ItemsCount int           `json:"items_count"`
	LastUpdate time.Time     `json:"last_update"`
	CacheAge   time.Duration `json:"cache_age"`
	IsExpired  bool          `json:"is_expired"`
	Valid      bool          `json:"valid"`
}

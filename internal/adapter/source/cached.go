package source

import (
	"context"
	"sync"
	"time"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/logger"
	"github.com/davral/tidings/internal/util"
)

const (
	defaultFetchTimeout = 60 * time.Second

	// Shrink protection: a fresh result under 30% of a cache that already
	// held more than shrinkMinCacheSize items is treated as an upstream
	// truncation, not a real shrink.
	shrinkMinCacheSize = 5
	shrinkRatio        = 0.3

	// Extended validity keeps serving a stale cache for unreliable upstreams.
	extendedValidityFactor = 1.5

	fingerprintCap = 1000
)

// CacheKey is the canonical two-tier cache key for a source.
func CacheKey(sourceID string) string {
	return "source:" + sourceID
}

// CachedSource wraps a fetch strategy with the cache-protection policy. It is
// the only path between a strategy and the rest of the engine: callers get a
// list back on every invocation, never an error.
type CachedSource struct {
	cfg      domain.SourceConfig
	opts     domain.SourceOptions
	strategy ports.Strategy
	tiered   ports.CacheStore
	logger   *logger.StyledLogger

	// Called for every protection activation; used to feed the event bus.
	onProtection func(domain.ProtectionEvent)

	fetchTimeout     time.Duration
	extendedValidity bool

	// fetchMu serialises fetch() invocations; stateMu guards the cache entry
	// so status reads never wait on a slow upstream.
	fetchMu sync.Mutex
	stateMu sync.RWMutex

	cachedItems []domain.NewsItem
	lastUpdate  time.Time

	protection *domain.ProtectionStats
	metrics    *domain.CacheMetrics
}

// Deps carries the collaborators a wrapper needs beyond its own config.
type Deps struct {
	Strategy     ports.Strategy
	Cache        ports.CacheStore
	Logger       *logger.StyledLogger
	OnProtection func(domain.ProtectionEvent)
	FetchTimeout time.Duration

	// ExtendedValidity accepts cache_age < 1.5*ttl on the hit path.
	ExtendedValidity bool
}

func NewCachedSource(cfg domain.SourceConfig, opts domain.SourceOptions, deps Deps) *CachedSource {
	timeout := deps.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	return &CachedSource{
		cfg:              cfg,
		opts:             opts,
		strategy:         deps.Strategy,
		tiered:           deps.Cache,
		logger:           deps.Logger,
		onProtection:     deps.OnProtection,
		fetchTimeout:     timeout,
		extendedValidity: deps.ExtendedValidity,
		protection:       domain.NewProtectionStats(),
		metrics:          domain.NewCacheMetrics(),
	}
}

func (s *CachedSource) SourceID() string { return s.cfg.SourceID }
func (s *CachedSource) Name() string     { return s.cfg.Name }

// Descriptor returns the immutable configuration the source was built from.
func (s *CachedSource) Descriptor() domain.SourceConfig { return s.cfg }

// Tuning returns the decoded options bag.
func (s *CachedSource) Tuning() domain.SourceOptions { return s.opts }

func (s *CachedSource) cacheTTL() time.Duration {
	if s.cfg.CacheTTL > 0 {
		return s.cfg.CacheTTL
	}
	return domain.DefaultCacheTTL
}

// GetNews is the protected entry point. Hit path returns a copy of the cache;
// the miss path fetches under the per-source mutex and runs the protection
// decisions in order: error, empty, shrink, update.
func (s *CachedSource) GetNews(ctx context.Context, forceUpdate bool) []domain.NewsItem {
	if !forceUpdate && s.opts.CacheEnabled() {
		if items, ok := s.cachedCopyIfValid(); ok {
			s.metrics.RecordHit()
			return items
		}
	}
	s.metrics.RecordMiss()

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	// A caller that queued behind an identical fetch takes the fresh cache
	// instead of fetching again.
	if !forceUpdate {
		if items, ok := s.cachedCopyIfValid(); ok {
			return items
		}
	}

	if s.opts.UseRandomDelay && s.opts.MaxDelay > 0 {
		delay := util.RandomDelay(s.opts.MinDelay, s.opts.MaxDelay)
		select {
		case <-ctx.Done():
			return s.protectError(ctx, ctx.Err())
		case <-time.After(delay):
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	start := time.Now()
	rawItems, err := s.strategy.Fetch(fetchCtx)
	s.metrics.RecordFetch(time.Since(start))

	if err != nil {
		return s.protectError(ctx, err)
	}

	newItems := s.normalize(rawItems)

	cached, _ := s.snapshot()
	cachedSize := len(cached)

	if len(newItems) == 0 {
		if cachedSize > 0 {
			s.protection.RecordEmpty(s.cfg.SourceID, cachedSize)
			s.emitProtection(domain.ProtectionEvent{
				Type: domain.ProtectionEmpty, SourceID: s.cfg.SourceID, CacheSize: cachedSize, Time: time.Now(),
			})
			s.logger.WarnProtection(domain.ProtectionEmpty, s.cfg.SourceID, "cache_size", cachedSize)
			return domain.CloneItems(cached)
		}
		s.metrics.RecordEmptyResult()
		return []domain.NewsItem{}
	}

	if cachedSize > shrinkMinCacheSize && float64(len(newItems)) < shrinkRatio*float64(cachedSize) {
		s.protection.RecordShrink(s.cfg.SourceID, cachedSize, len(newItems))
		s.emitProtection(domain.ProtectionEvent{
			Type: domain.ProtectionShrink, SourceID: s.cfg.SourceID,
			CacheSize: cachedSize, NewSize: len(newItems), Time: time.Now(),
		})
		s.logger.WarnProtection(domain.ProtectionShrink, s.cfg.SourceID,
			"cache_size", cachedSize, "new_size", len(newItems))
		return domain.CloneItems(cached)
	}

	s.UpdateCache(ctx, newItems)
	return domain.CloneItems(newItems)
}

// protectError applies the error-protection decision after a failed fetch.
func (s *CachedSource) protectError(ctx context.Context, err error) []domain.NewsItem {
	cached, _ := s.snapshot()
	if len(cached) > 0 {
		s.protection.RecordError(s.cfg.SourceID, err.Error(), len(cached))
		s.emitProtection(domain.ProtectionEvent{
			Type: domain.ProtectionError, SourceID: s.cfg.SourceID,
			CacheSize: len(cached), Error: err.Error(), Time: time.Now(),
		})
		s.logger.WarnProtection(domain.ProtectionError, s.cfg.SourceID, "error", err)
		return domain.CloneItems(cached)
	}

	s.metrics.RecordFetchError()
	s.logger.ErrorWithSource("fetch failed with no cache to fall back on", s.cfg.SourceID, "error", err)
	return []domain.NewsItem{}
}

// UpdateCache replaces the cache entry and publishes it to the two-tier
// store. An empty replacement of a non-empty cache is ignored so strategies
// calling this directly cannot wipe good state.
func (s *CachedSource) UpdateCache(ctx context.Context, items []domain.NewsItem) {
	s.stateMu.Lock()
	if len(items) == 0 && len(s.cachedItems) > 0 {
		s.stateMu.Unlock()
		return
	}
	s.cachedItems = domain.CloneItems(items)
	s.lastUpdate = time.Now()
	s.stateMu.Unlock()

	s.metrics.RecordUpdate(len(items))

	if s.tiered != nil {
		s.tiered.Set(ctx, CacheKey(s.cfg.SourceID), items, s.cacheTTL())
	}
	s.logger.InfoWithCount("cache updated for "+s.cfg.SourceID, len(items))
}

// ClearCache wipes the entry in both tiers. Protection counters reset; the
// event history stays for post-mortems.
func (s *CachedSource) ClearCache(ctx context.Context) {
	s.stateMu.Lock()
	s.cachedItems = nil
	s.lastUpdate = time.Time{}
	s.stateMu.Unlock()

	if s.tiered != nil {
		s.tiered.Delete(ctx, CacheKey(s.cfg.SourceID))
	}
	s.protection.ResetCounters()
	s.logger.InfoWithSource("cache cleared", s.cfg.SourceID)
}

// Prime seeds the in-wrapper cache from the two-tier store, as after a
// restart when Redis still holds the last good fetch.
func (s *CachedSource) Prime(ctx context.Context) bool {
	if s.tiered == nil {
		return false
	}
	items, ok := s.tiered.Get(ctx, CacheKey(s.cfg.SourceID))
	if !ok || len(items) == 0 {
		return false
	}

	s.stateMu.Lock()
	s.cachedItems = items
	s.lastUpdate = time.Now()
	s.stateMu.Unlock()
	return true
}

// CacheStatus renders the per-source telemetry document.
func (s *CachedSource) CacheStatus() domain.CacheStatus {
	cached, lastUpdate := s.snapshot()

	age := time.Duration(0)
	if !lastUpdate.IsZero() {
		age = time.Since(lastUpdate)
	}
	ttl := s.cacheTTL()
	expired := lastUpdate.IsZero() || age >= s.validityWindow(ttl)

	return domain.CacheStatus{
		SourceID:   s.cfg.SourceID,
		SourceName: s.cfg.Name,
		Config: domain.CacheStatusConfig{
			UpdateInterval:   s.cfg.UpdateInterval,
			CacheTTL:         ttl,
			AdaptiveEnabled:  s.opts.AdaptiveEnabled(),
			ExtendedValidity: s.extendedValidity,
		},
		State: domain.CacheStatusState{
			HasItems:   len(cached) > 0,
			ItemsCount: len(cached),
			LastUpdate: lastUpdate,
			CacheAge:   age,
			IsExpired:  expired,
			Valid:      len(cached) > 0 && !expired,
		},
		Protection: s.protection.Snapshot(),
		Metrics:    s.metrics.Snapshot(),
	}
}

// ProtectionStats exposes the live counters to the telemetry monitor.
func (s *CachedSource) ProtectionStats() *domain.ProtectionStats { return s.protection }

// Metrics exposes the live counters to the telemetry monitor.
func (s *CachedSource) Metrics() *domain.CacheMetrics { return s.metrics }

func (s *CachedSource) snapshot() ([]domain.NewsItem, time.Time) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.cachedItems, s.lastUpdate
}

func (s *CachedSource) validityWindow(ttl time.Duration) time.Duration {
	if s.extendedValidity {
		return time.Duration(float64(ttl) * extendedValidityFactor)
	}
	return ttl
}

func (s *CachedSource) cachedCopyIfValid() ([]domain.NewsItem, bool) {
	cached, lastUpdate := s.snapshot()
	if len(cached) == 0 || lastUpdate.IsZero() {
		return nil, false
	}
	if time.Since(lastUpdate) >= s.validityWindow(s.cacheTTL()) {
		return nil, false
	}
	return domain.CloneItems(cached), true
}

// normalize cleans every fetched item and drops within-fetch title
// duplicates. Items that lose their title entirely are discarded. The
// fingerprint set is scoped to one fetch so an unchanged upstream list is
// never mistaken for duplicates.
func (s *CachedSource) normalize(raw []domain.NewsItem) []domain.NewsItem {
	seen := make(map[string]struct{}, len(raw))
	var order []string

	out := make([]domain.NewsItem, 0, len(raw))
	for _, item := range raw {
		item.Title = util.CleanTitle(item.Title)
		if item.Title == "" {
			continue
		}
		item.URL = util.NormalizeURL(item.URL)
		if item.SourceID == "" {
			item.SourceID = s.cfg.SourceID
		}
		if item.SourceName == "" {
			item.SourceName = s.cfg.Name
		}
		if item.Country == "" {
			item.Country = s.cfg.Country
		}
		if item.Language == "" {
			item.Language = s.cfg.Language
		}
		if item.Category == "" {
			item.Category = s.cfg.Category
		}
		if item.ID == "" {
			item.ID = domain.DeriveItemID(item.SourceID, item.URL, item.Title, item.PublishedAt)
		}

		fp := util.TitleFingerprint(item.Title)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		order = append(order, fp)
		if len(order) > fingerprintCap {
			delete(seen, order[0])
			order = order[1:]
		}

		out = append(out, item)
	}
	return out
}

func (s *CachedSource) emitProtection(ev domain.ProtectionEvent) {
	if s.onProtection != nil {
		s.onProtection(ev)
	}
}

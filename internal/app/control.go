package app

import (
	"context"
	"fmt"

	"github.com/davral/tidings/internal/adapter/source"
	"github.com/davral/tidings/internal/adapter/tasks"
	"github.com/davral/tidings/internal/adapter/telemetry"
	"github.com/davral/tidings/internal/config"
	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
)

// FetchOne drives a single source through the scheduler, bypassing its
// interval when force is set.
func (e *Engine) FetchOne(ctx context.Context, sourceID string, force bool) ports.FetchResult {
	return e.scheduler.Fetch(ctx, sourceID, force)
}

// FetchTier force-fetches every source in a tier.
func (e *Engine) FetchTier(ctx context.Context, tier string) (ports.BatchResult, error) {
	switch tasks.Tier(tier) {
	case tasks.TierHigh, tasks.TierMedium, tasks.TierLow:
		return e.runner.FetchTier(ctx, tasks.Tier(tier)), nil
	default:
		return ports.BatchResult{}, fmt.Errorf("unknown tier %q", tier)
	}
}

// FetchAll force-fetches every known source.
func (e *Engine) FetchAll(ctx context.Context) ports.BatchResult {
	return e.runner.FetchAll(ctx)
}

// SchedulerStatus renders one row per source.
func (e *Engine) SchedulerStatus() []ports.SourceStatus {
	return e.scheduler.Status()
}

// CacheStatus returns the telemetry document for one source.
func (e *Engine) CacheStatus(sourceID string) (domain.CacheStatus, bool) {
	return e.monitor.CacheStatus(sourceID)
}

// GlobalCacheStatus rolls all source documents up.
func (e *Engine) GlobalCacheStatus() telemetry.GlobalCacheStatus {
	return e.monitor.GlobalCacheStatus()
}

// CacheStats describes the cache tiers themselves.
func (e *Engine) CacheStats(ctx context.Context) ports.CacheStats {
	return e.tiered.Stats(ctx)
}

// ClearSourceCache wipes one source's cache across both tiers.
func (e *Engine) ClearSourceCache(ctx context.Context, sourceID string) error {
	src, ok := e.registry.GetSource(sourceID)
	if !ok {
		return domain.ErrSourceNotFound
	}
	src.ClearCache(ctx)
	return nil
}

// ClearAllCaches wipes every source cache entry and reports how many.
func (e *Engine) ClearAllCaches(ctx context.Context) int {
	for _, src := range e.registry.GetAllSources() {
		src.ClearCache(ctx)
	}
	return e.tiered.Clear(ctx, source.CacheKey("*"))
}

// ReloadSources re-reads the source table from disk and swaps it in.
func (e *Engine) ReloadSources(ctx context.Context) error {
	if e.cfg.Sources.File == "" {
		return fmt.Errorf("no source file configured")
	}
	configs, err := config.LoadSources(e.cfg.Sources.File)
	if err != nil {
		return err
	}
	return e.registry.Reload(ctx, configs)
}

// Proxies returns the health snapshot of the proxy pool.
func (e *Engine) Proxies() []domain.ProxyHealth {
	return e.pool.Snapshot()
}

// AddProxy registers a proxy at runtime.
func (e *Engine) AddProxy(cfg domain.ProxyConfig) error {
	return e.pool.Add(cfg)
}

// RemoveProxy drops a proxy from the pool.
func (e *Engine) RemoveProxy(proxyID string) bool {
	return e.pool.Remove(proxyID)
}

// CheckProxy probes one proxy's health.
func (e *Engine) CheckProxy(ctx context.Context, proxyID string) error {
	return e.pool.HealthCheck(ctx, proxyID)
}

// RefreshProxies re-probes the whole pool.
func (e *Engine) RefreshProxies(ctx context.Context) error {
	return e.pool.Refresh(ctx)
}

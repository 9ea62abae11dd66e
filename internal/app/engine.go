// Package app assembles the engine: cache tiers, proxy pool, HTTP substrate,
// source registry, adaptive scheduler, tier runner and telemetry, wired from
// one Config and driven by a context.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davral/tidings/internal/adapter/cache"
	"github.com/davral/tidings/internal/adapter/httpx"
	"github.com/davral/tidings/internal/adapter/provider"
	"github.com/davral/tidings/internal/adapter/proxy"
	"github.com/davral/tidings/internal/adapter/scheduler"
	"github.com/davral/tidings/internal/adapter/source/strategy"
	"github.com/davral/tidings/internal/adapter/store"
	"github.com/davral/tidings/internal/adapter/tasks"
	"github.com/davral/tidings/internal/adapter/telemetry"
	"github.com/davral/tidings/internal/config"
	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/logger"
	"github.com/davral/tidings/pkg/eventbus"
)

// Engine is the running aggregation core.
type Engine struct {
	cfg    *config.Config
	logger *logger.StyledLogger

	memory     *cache.Memory
	remote     *cache.Remote
	tiered     *cache.Tiered
	pool       *proxy.Pool
	client     *httpx.Client
	registry   *provider.Registry
	newsStore  *store.SQLite
	scheduler  *scheduler.Scheduler
	runner     *tasks.Runner
	bus        *eventbus.Bus[domain.ProtectionEvent]
	dispatcher *eventbus.Dispatcher[domain.ProtectionEvent]
	collector  *telemetry.Collector
	monitor    *telemetry.Monitor

	cancel  context.CancelFunc
	stopped sync.Once
	wg      sync.WaitGroup
}

// New wires the engine from configuration. Nothing starts until Start.
func New(cfg *config.Config, log *logger.StyledLogger) (*Engine, error) {
	e := &Engine{cfg: cfg, logger: log}

	e.memory = cache.NewMemory(cfg.Cache.CleanupInterval)
	if cfg.Cache.Redis.Address != "" {
		e.remote = cache.NewRemote(cache.RemoteConfig{
			Address:     cfg.Cache.Redis.Address,
			Password:    cfg.Cache.Redis.Password,
			DB:          cfg.Cache.Redis.DB,
			DialTimeout: cfg.Cache.Redis.DialTimeout,
			ReadTimeout: cfg.Cache.Redis.ReadTimeout,
		}, log)
	}
	e.tiered = cache.NewTiered(e.memory, e.remote, log)

	proxyConfigs := make([]domain.ProxyConfig, 0, len(cfg.Proxies.Entries))
	for _, entry := range cfg.Proxies.Entries {
		proxyConfigs = append(proxyConfigs, entry.ToDomain())
	}
	e.pool = proxy.NewPool(proxyConfigs, proxy.Options{
		HealthCheckURL:  cfg.Proxies.HealthCheckURL,
		CheckTimeout:    cfg.Proxies.CheckTimeout,
		RefreshInterval: cfg.Proxies.RefreshInterval,
	}, log)

	e.client = httpx.NewClient(httpx.Config{
		ConnectTimeout: cfg.HTTP.ConnectTimeout,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		TotalTimeout:   cfg.HTTP.TotalTimeout,
		MaxRetries:     cfg.HTTP.MaxRetries,
		RetryBackoff:   cfg.HTTP.RetryBackoff,
		MaxConcurrent:  cfg.HTTP.MaxConcurrent,
		UserAgents:     cfg.HTTP.UserAgents,
		VerifyTLS:      cfg.HTTP.VerifyTLS,
	}, e.pool, log)

	e.bus = eventbus.New[domain.ProtectionEvent]()
	e.dispatcher = eventbus.NewDispatcher(e.bus, 2, 256)

	e.registry = provider.NewRegistry(provider.Deps{
		Client:       e.client,
		Cache:        e.tiered,
		Logger:       log,
		OnProtection: e.dispatcher.Enqueue,
	})

	var newsStore ports.NewsStore
	if cfg.Store.Path != "" {
		sq, err := store.NewSQLite(store.Config{Path: cfg.Store.Path}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		e.newsStore = sq
		newsStore = sq
	}

	e.scheduler = scheduler.New(e.registry, newsStore, scheduler.Config{
		CheckInterval:   cfg.Scheduler.CheckInterval,
		MaxConcurrent:   cfg.Scheduler.MaxConcurrent,
		ShutdownTimeout: cfg.Scheduler.ShutdownTimeout,
	}, log)

	e.runner = tasks.NewRunner(e.registry, e.scheduler, tasks.Config{
		HighSchedule:   cfg.Tasks.HighSchedule,
		MediumSchedule: cfg.Tasks.MediumSchedule,
		LowSchedule:    cfg.Tasks.LowSchedule,
		MaxConcurrent:  cfg.Scheduler.MaxConcurrent,
	}, log)

	e.collector = telemetry.NewCollector()
	e.monitor = telemetry.NewMonitor(e.registry, e.bus, e.collector, log)
	e.monitor.WatchScheduler(e.scheduler.Status)
	e.scheduler.ObserveWith(e.collector.ObserveFetch)
	if e.newsStore != nil {
		e.monitor.WatchStore(e.newsStore)
	}

	return e, nil
}

// Start loads the source table and brings every background loop up.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if e.cfg.Sources.File != "" {
		configs, err := config.LoadSources(e.cfg.Sources.File)
		if err != nil {
			return fmt.Errorf("failed to load sources: %w", err)
		}
		if err := e.registry.Reload(runCtx, configs); err != nil {
			return fmt.Errorf("failed to build sources: %w", err)
		}

		if e.cfg.Sources.Watch {
			err := config.WatchSources(e.cfg.Sources.File,
				func(configs []domain.SourceConfig) {
					if err := e.registry.Reload(context.Background(), configs); err != nil {
						e.logger.Error("source reload failed", "error", err)
					}
				},
				func(err error) {
					e.logger.Error("source watch error", "error", err)
				})
			if err != nil {
				return fmt.Errorf("failed to watch sources: %w", err)
			}
		}
	}

	e.scheduler.Prime(runCtx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.scheduler.Run(runCtx); err != nil {
			e.logger.Error("scheduler stopped with error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.monitor.Run(runCtx)
	}()

	if e.cfg.Tasks.Enabled {
		if err := e.runner.Start(runCtx); err != nil {
			return err
		}
	}

	if e.cfg.Telemetry.Metrics.Enabled {
		addr := e.cfg.Telemetry.Metrics.Address
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.monitor.Serve(runCtx, addr); err != nil {
				e.logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	if len(e.cfg.Proxies.Entries) > 0 && e.cfg.Proxies.RefreshInterval > 0 {
		e.wg.Add(1)
		go e.proxyRefreshLoop(runCtx)
	}

	if e.newsStore != nil && e.cfg.Store.Retention > 0 {
		e.wg.Add(1)
		go e.storeRetentionLoop(runCtx)
	}

	e.logger.Info("engine started", "sources", len(e.registry.GetAllSources()))
	return nil
}

// Stop tears the engine down in reverse dependency order.
func (e *Engine) Stop(ctx context.Context) error {
	var err error
	e.stopped.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}

		if e.cfg.Tasks.Enabled {
			e.runner.Stop()
		}

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		e.dispatcher.Shutdown()
		e.bus.Shutdown()

		if swept := strategy.SweepOrphanSessions(e.logger); swept > 0 {
			e.logger.InfoWithCount("orphan browser sessions swept", swept)
		}

		if e.remote != nil {
			if flushed := e.tiered.Flush(context.Background()); flushed > 0 {
				e.logger.InfoWithCount("cache entries flushed to remote tier", flushed)
			}
		}
		e.memory.Stop()
		if e.remote != nil {
			if cerr := e.remote.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if e.newsStore != nil {
			if cerr := e.newsStore.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}

		e.logger.Info("engine stopped")
	})
	return err
}

// storeRetentionLoop expires persisted items past the retention window, once
// at startup and then on every cleanup tick.
func (e *Engine) storeRetentionLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.Store.CleanupInterval
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	e.runStoreCleanup(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runStoreCleanup(ctx)
		}
	}
}

func (e *Engine) runStoreCleanup(ctx context.Context) {
	cutoff := time.Now().Add(-e.cfg.Store.Retention)
	if _, err := e.newsStore.Cleanup(ctx, cutoff); err != nil {
		e.logger.Error("store cleanup failed", "error", err)
	}
}

func (e *Engine) proxyRefreshLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Proxies.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.pool.Refresh(ctx); err != nil {
				e.logger.Debug("proxy refresh failed", "error", err)
			}
		}
	}
}

package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/davral/tidings/internal/adapter/source"
	"github.com/davral/tidings/internal/adapter/source/strategy"
	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/logger"
)

// Registry materialises source instances from their descriptors and hands
// them out by ID. Reloads swap the whole table atomically; reads are lock-free
// against in-flight fetches because wrappers are never mutated, only replaced.
type Registry struct {
	client       strategy.Fetcher
	cache        ports.CacheStore
	browser      ports.BrowserDriver
	logger       *logger.StyledLogger
	onProtection func(domain.ProtectionEvent)

	mu      sync.RWMutex
	sources map[string]ports.Source
}

// Deps carries the collaborators injected into every materialised source.
type Deps struct {
	Client       strategy.Fetcher
	Cache        ports.CacheStore
	Browser      ports.BrowserDriver
	Logger       *logger.StyledLogger
	OnProtection func(domain.ProtectionEvent)
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		client:       deps.Client,
		cache:        deps.Cache,
		browser:      deps.Browser,
		logger:       deps.Logger,
		onProtection: deps.OnProtection,
		sources:      make(map[string]ports.Source),
	}
}

// Reload replaces the source table. A duplicate source_id fails the whole
// reload; an unknown kind only skips its entry. On success the previous
// table is discarded wholesale.
func (r *Registry) Reload(ctx context.Context, configs []domain.SourceConfig) error {
	next := make(map[string]ports.Source, len(configs))

	for _, cfg := range configs {
		if _, dup := next[cfg.SourceID]; dup {
			return fmt.Errorf("duplicate source_id %q in source table", cfg.SourceID)
		}

		src, err := r.materialise(cfg)
		if err != nil {
			r.logger.WarnWithSource("skipping source", cfg.SourceID, "error", err)
			continue
		}

		// Seed the wrapper from the remote tier so a restart does not
		// refetch everything at once.
		if primed := src.Prime(ctx); primed {
			r.logger.InfoWithSource("cache primed from store", cfg.SourceID)
		}

		next[cfg.SourceID] = src
	}

	r.mu.Lock()
	r.sources = next
	r.mu.Unlock()

	r.logger.InfoWithCount("source table loaded", len(next))
	return nil
}

func (r *Registry) materialise(cfg domain.SourceConfig) (*source.CachedSource, error) {
	opts, err := decodeOptions(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}

	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = domain.DefaultUpdateInterval
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = domain.DefaultCacheTTL
	}

	strat, err := r.buildStrategy(cfg, opts)
	if err != nil {
		return nil, err
	}

	return source.NewCachedSource(cfg, opts, source.Deps{
		Strategy:         strat,
		Cache:            r.cache,
		Logger:           r.logger,
		OnProtection:     r.onProtection,
		FetchTimeout:     opts.TotalTimeout,
		ExtendedValidity: opts.ExtendedValidity,
	}), nil
}

func (r *Registry) buildStrategy(cfg domain.SourceConfig, opts domain.SourceOptions) (ports.Strategy, error) {
	deps := strategy.Deps{Client: r.client, Logger: r.logger}

	kind := cfg.Kind
	if opts.UseBrowser {
		kind = domain.KindBrowserAutomate
	}

	switch kind {
	case domain.KindJSONAPI:
		return strategy.NewJSONAPI(cfg, opts, deps), nil
	case domain.KindWebScrape, domain.KindCustomSelectors:
		return strategy.NewScrape(cfg, opts, deps), nil
	case domain.KindRSS:
		return strategy.NewRSS(cfg, opts, deps), nil
	case domain.KindBrowserAutomate:
		if r.browser == nil {
			return nil, fmt.Errorf("source %s needs a browser driver and none is configured", cfg.SourceID)
		}
		return strategy.NewBrowser(cfg, opts, r.browser, deps), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

func decodeOptions(bag map[string]any) (domain.SourceOptions, error) {
	var opts domain.SourceOptions
	if len(bag) == 0 {
		return opts, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return opts, err
	}
	if err := decoder.Decode(bag); err != nil {
		return opts, err
	}
	return opts, nil
}

// GetSource returns one source by ID.
func (r *Registry) GetSource(sourceID string) (ports.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[sourceID]
	return src, ok
}

// GetAllSources returns every source, ordered by ID for stable iteration.
func (r *Registry) GetAllSources() []ports.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ports.Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID() < out[j].SourceID() })
	return out
}

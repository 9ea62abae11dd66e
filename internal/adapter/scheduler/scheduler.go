package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/semaphore"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/logger"
)

const (
	defaultCheckInterval   = 10 * time.Second
	defaultMaxConcurrent   = 16
	defaultShutdownTimeout = 10 * time.Second

	historyCap = 10

	// EMA blend weights for success rate and upstream freshness.
	emaKeep   = 0.7
	emaSample = 0.3

	// Daytime fetches run slightly hotter than night ones.
	dayStartHour = 8
	dayEndHour   = 22
	dayBias      = 0.9
	nightBias    = 1.1
)

// Config tunes the scheduler loop.
type Config struct {
	CheckInterval   time.Duration
	MaxConcurrent   int
	ShutdownTimeout time.Duration
}

// Scheduler drives periodic fetches across all sources, adapting each
// source's interval to how fresh its upstream actually is.
type Scheduler struct {
	provider ports.SourceProvider
	store    ports.NewsStore
	logger   *logger.StyledLogger
	cfg      Config

	sem    *semaphore.Weighted
	states *xsync.Map[string, *runtimeState]
	wg     sync.WaitGroup

	now     func() time.Time
	observe func(sourceID string, elapsed time.Duration)
}

func New(provider ports.SourceProvider, store ports.NewsStore, cfg Config, log *logger.StyledLogger) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	return &Scheduler{
		provider: provider,
		store:    store,
		logger:   log,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		states:   xsync.NewMap[string, *runtimeState](),
		now:      time.Now,
	}
}

// ObserveWith registers a callback that receives every fetch's latency, so
// the metrics surface can histogram it without coupling to the scheduler.
func (s *Scheduler) ObserveWith(fn func(sourceID string, elapsed time.Duration)) {
	s.observe = fn
}

// Prime seeds per-source last-fetch times from the store so a restart does
// not stampede every upstream at once. Sources already fetched this run are
// left alone.
func (s *Scheduler) Prime(ctx context.Context) {
	if s.store == nil {
		return
	}
	for _, src := range s.provider.GetAllSources() {
		at, err := s.store.LastFetch(ctx, src.SourceID())
		if err != nil {
			s.logger.Debug("last-fetch lookup failed", "source", src.SourceID(), "error", err)
			continue
		}
		if at.IsZero() {
			continue
		}

		state := s.stateFor(src)
		state.mu.Lock()
		if state.lastFetch.IsZero() {
			state.lastFetch = at
		}
		state.mu.Unlock()
	}
}

// ShouldFetch reports whether a source is due: known, not currently being
// fetched, and past its effective interval.
func (s *Scheduler) ShouldFetch(sourceID string) bool {
	src, ok := s.provider.GetSource(sourceID)
	if !ok {
		return false
	}
	state := s.stateFor(src)

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.fetching {
		return false
	}
	if state.lastFetch.IsZero() {
		return true
	}
	return s.now().Sub(state.lastFetch) >= state.effectiveInterval()
}

// Fetch is the single-flight fetch entry for one source. It drives the
// source's protected GetNews, folds the outcome into the runtime state,
// recomputes the adaptive interval and persists the items.
func (s *Scheduler) Fetch(ctx context.Context, sourceID string, force bool) ports.FetchResult {
	src, ok := s.provider.GetSource(sourceID)
	if !ok {
		return ports.FetchResult{SourceID: sourceID, Error: domain.ErrSourceNotFound.Error()}
	}
	state := s.stateFor(src)

	state.mu.Lock()
	if state.fetching {
		state.mu.Unlock()
		return ports.FetchResult{SourceID: sourceID, Error: domain.ErrAlreadyFetching.Error()}
	}
	if !force && !state.lastFetch.IsZero() && s.now().Sub(state.lastFetch) < state.effectiveInterval() {
		state.mu.Unlock()
		return ports.FetchResult{SourceID: sourceID, Success: true}
	}
	state.fetching = true
	state.mu.Unlock()

	defer func() {
		state.mu.Lock()
		state.fetching = false
		state.mu.Unlock()
	}()

	start := s.now()
	items := src.GetNews(ctx, force)
	elapsed := s.now().Sub(start)

	if s.observe != nil {
		s.observe(sourceID, elapsed)
	}

	success := len(items) > 0
	result := ports.FetchResult{
		SourceID: sourceID,
		Count:    len(items),
		Elapsed:  elapsed,
		Success:  success,
	}

	s.recordOutcome(src, state, items, success)

	if success && s.store != nil {
		upsert := s.persist(ctx, sourceID, items)
		result.New = upsert.Inserted
		if upsert.Failed > 0 {
			s.logger.WarnWithSource("some items failed to persist", sourceID, "failed", upsert.Failed)
		}
	}

	if success {
		s.logger.InfoWithCount("fetched "+sourceID, len(items),
			"new", result.New, "elapsed", elapsed.Round(time.Millisecond))
	} else {
		result.Error = "fetch produced no items"
	}
	return result
}

// Tick dispatches a fetch for every due source without awaiting completion.
// Dispatch is bounded by the global semaphore; sources that cannot get a slot
// wait for the next tick.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, src := range s.provider.GetAllSources() {
		id := src.SourceID()
		if !s.ShouldFetch(id) {
			continue
		}
		if !s.sem.TryAcquire(1) {
			s.logger.Debug("concurrency limit reached, deferring", "source", id)
			return
		}

		s.wg.Add(1)
		go func(sourceID string) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.Fetch(ctx, sourceID, false)
		}(id)
	}
}

// Run loops Tick until the context is cancelled, then waits out in-flight
// fetches up to the shutdown grace period.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"check_interval", s.cfg.CheckInterval, "max_concurrent", s.cfg.MaxConcurrent)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.drain()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) drain() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler drained")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn("scheduler shutdown grace expired with fetches in flight")
		return domain.ErrFetchTimeout
	}
}

// persist upserts fetched items one at a time so a single bad row never
// takes down the batch.
func (s *Scheduler) persist(ctx context.Context, sourceID string, items []domain.NewsItem) ports.UpsertResult {
	var result ports.UpsertResult
	for _, item := range items {
		existing, err := s.store.GetByOriginalID(ctx, sourceID, item.ID)
		if err != nil {
			result.Failed++
			s.logger.Debug("lookup failed", "source", sourceID, "item", item.ID, "error", err)
			continue
		}
		if existing != nil {
			if err := s.store.Update(ctx, existing.ID, item); err != nil {
				result.Failed++
				s.logger.Debug("update failed", "source", sourceID, "item", item.ID, "error", err)
				continue
			}
			result.Updated++
			continue
		}
		if _, err := s.store.Create(ctx, item); err != nil {
			result.Failed++
			s.logger.Debug("insert failed", "source", sourceID, "item", item.ID, "error", err)
			continue
		}
		result.Inserted++
	}

	if err := s.store.UpdateSourceTimestamp(ctx, sourceID, s.now()); err != nil {
		s.logger.Debug("source timestamp update failed", "source", sourceID, "error", err)
	}
	return result
}

// Status renders one row per known source.
func (s *Scheduler) Status() []ports.SourceStatus {
	sources := s.provider.GetAllSources()
	out := make([]ports.SourceStatus, 0, len(sources))

	for _, src := range sources {
		cfg := src.Descriptor()
		state := s.stateFor(src)

		state.mu.Lock()
		row := ports.SourceStatus{
			SourceID:          cfg.SourceID,
			Name:              cfg.Name,
			Category:          cfg.Category,
			DefaultInterval:   state.defaultInterval,
			AdaptiveInterval:  state.adaptiveInterval,
			LastFetch:         state.lastFetch,
			SuccessRate:       state.successRate,
			FrequencyScore:    state.frequencyScore,
			ConsecutiveErrors: state.consecutiveErrors,
			LastError:         state.lastError,
			IsRunning:         state.fetching,
		}
		if !state.lastFetch.IsZero() {
			row.NextFetch = state.lastFetch.Add(state.effectiveInterval())
		}
		state.mu.Unlock()

		out = append(out, row)
	}
	return out
}

func (s *Scheduler) stateFor(src ports.Source) *runtimeState {
	state, _ := s.states.LoadOrCompute(src.SourceID(), func() (*runtimeState, bool) {
		return newRuntimeState(src.Descriptor(), src.Tuning()), false
	})
	return state
}

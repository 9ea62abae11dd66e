// Package tasks layers tiered batch fetching on top of the scheduler: hot
// sources refresh often, slow-moving ones on a relaxed cadence, all driven
// by cron expressions.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/logger"
)

// Tier buckets sources by their default update interval.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"

	highTierCeiling   = 15 * time.Minute
	mediumTierCeiling = 45 * time.Minute
)

// TierOf buckets an update interval.
func TierOf(interval time.Duration) Tier {
	switch {
	case interval <= highTierCeiling:
		return TierHigh
	case interval <= mediumTierCeiling:
		return TierMedium
	default:
		return TierLow
	}
}

// Fetcher is the single-source fetch entry the runner drives, satisfied by
// the scheduler.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID string, force bool) ports.FetchResult
}

// Config holds the cron expressions per tier.
type Config struct {
	HighSchedule   string
	MediumSchedule string
	LowSchedule    string
	MaxConcurrent  int
}

// Runner owns the cron table and the tier batch entries.
type Runner struct {
	provider ports.SourceProvider
	fetcher  Fetcher
	logger   *logger.StyledLogger
	cfg      Config
	cron     *cron.Cron
}

func NewRunner(provider ports.SourceProvider, fetcher Fetcher, cfg Config, log *logger.StyledLogger) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return &Runner{
		provider: provider,
		fetcher:  fetcher,
		logger:   log,
		cfg:      cfg,
		cron:     cron.New(),
	}
}

// Start registers the three tier jobs and starts the cron loop.
func (r *Runner) Start(ctx context.Context) error {
	jobs := []struct {
		tier Tier
		spec string
	}{
		{TierHigh, r.cfg.HighSchedule},
		{TierMedium, r.cfg.MediumSchedule},
		{TierLow, r.cfg.LowSchedule},
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		tier := job.tier
		if _, err := r.cron.AddFunc(job.spec, func() {
			r.FetchTier(ctx, tier)
		}); err != nil {
			return fmt.Errorf("invalid %s tier schedule %q: %w", tier, job.spec, err)
		}
		r.logger.Info("tier job registered", "tier", string(tier), "schedule", job.spec)
	}

	r.cron.Start()
	return nil
}

// Stop halts the cron loop and returns once running jobs have finished.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// FetchTier force-fetches every source in one tier concurrently.
func (r *Runner) FetchTier(ctx context.Context, tier Tier) ports.BatchResult {
	var ids []string
	for _, src := range r.provider.GetAllSources() {
		if TierOf(src.Descriptor().UpdateInterval) == tier {
			ids = append(ids, src.SourceID())
		}
	}
	return r.fetchBatch(ctx, string(tier), ids)
}

// FetchAll force-fetches every known source.
func (r *Runner) FetchAll(ctx context.Context) ports.BatchResult {
	var ids []string
	for _, src := range r.provider.GetAllSources() {
		ids = append(ids, src.SourceID())
	}
	return r.fetchBatch(ctx, "all", ids)
}

func (r *Runner) fetchBatch(ctx context.Context, tier string, ids []string) ports.BatchResult {
	start := time.Now()
	out := ports.BatchResult{
		Tier:    tier,
		Total:   len(ids),
		Results: make([]ports.FetchResult, len(ids)),
	}

	sem := make(chan struct{}, r.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		go func(slot int, sourceID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out.Results[slot] = r.fetcher.Fetch(ctx, sourceID, true)
		}(i, id)
	}
	wg.Wait()

	for _, res := range out.Results {
		if res.Success {
			out.Success++
			out.NewItems += res.New
		} else {
			out.Failed++
		}
	}
	out.Elapsed = time.Since(start)

	r.logger.InfoWithCount("tier batch finished", out.Total,
		"tier", tier, "ok", out.Success, "failed", out.Failed,
		"new_items", out.NewItems, "elapsed", out.Elapsed.Round(time.Millisecond))

	return out
}

// Entries reports how many cron jobs are registered, for status surfaces.
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

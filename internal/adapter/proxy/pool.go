package proxy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/logger"
)

const (
	// Head-of-list pick probability; the remainder spreads load across the
	// rest of the candidates so one fast proxy does not take all traffic.
	headPickProbability = 0.8

	defaultCheckTimeout = 10 * time.Second
	minRefreshInterval  = 5 * time.Minute
)

// Options tunes pool behaviour; zero values fall back to defaults.
type Options struct {
	HealthCheckURL  string
	CheckTimeout    time.Duration
	RefreshInterval time.Duration
}

// Pool is the registry of upstream proxies keyed by ID. Selection prefers
// higher priority and higher observed success rate within a group.
type Pool struct {
	records *xsync.Map[string, *domain.ProxyRecord]
	logger  *logger.StyledLogger
	opts    Options

	refreshMu   sync.Mutex
	lastRefresh time.Time

	randFloat func() float64
	randIntN  func(n int) int
}

func NewPool(configs []domain.ProxyConfig, opts Options, logger *logger.StyledLogger) *Pool {
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = defaultCheckTimeout
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = minRefreshInterval
	}

	p := &Pool{
		records:   xsync.NewMap[string, *domain.ProxyRecord](),
		logger:    logger,
		opts:      opts,
		randFloat: rand.Float64,
		randIntN:  rand.IntN,
	}
	for _, cfg := range configs {
		if err := p.Add(cfg); err != nil {
			logger.Warn("skipping proxy entry", "proxy", cfg.ID, "error", err)
		}
	}
	return p
}

// Add registers a proxy. Duplicate IDs are rejected so health history is
// never silently reset.
func (p *Pool) Add(cfg domain.ProxyConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("proxy entry has no id")
	}
	if cfg.Host == "" || cfg.Port <= 0 {
		return fmt.Errorf("proxy %s has no usable address", cfg.ID)
	}

	record := domain.NewProxyRecord(cfg)
	if _, loaded := p.records.LoadOrStore(cfg.ID, record); loaded {
		return fmt.Errorf("proxy %s already registered", cfg.ID)
	}
	return nil
}

// Remove drops a proxy from the pool.
func (p *Pool) Remove(proxyID string) bool {
	_, existed := p.records.LoadAndDelete(proxyID)
	return existed
}

// Get selects a proxy for the group. Candidates are the active records of the
// group (falling back to the default group when the named group is empty),
// ordered by priority then success rate. Most picks take the head; a fraction
// goes to a uniformly random candidate to keep health data fresh on the rest.
// Returns nil when nothing is available.
func (p *Pool) Get(sourceID, group string) *domain.ProxyRecord {
	if group == "" {
		group = domain.DefaultProxyGroup
	}

	candidates := p.activeInGroup(group)
	if len(candidates) == 0 && group != domain.DefaultProxyGroup {
		candidates = p.activeInGroup(domain.DefaultProxyGroup)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CurrentSuccessRate() > candidates[j].CurrentSuccessRate()
	})

	selected := candidates[0]
	if len(candidates) > 1 && p.randFloat() >= headPickProbability {
		selected = candidates[p.randIntN(len(candidates))]
	}

	p.logger.InfoWithProxy("proxy selected", selected.ID, "source", sourceID, "group", group)
	return selected
}

func (p *Pool) activeInGroup(group string) []*domain.ProxyRecord {
	var out []*domain.ProxyRecord
	p.records.Range(func(_ string, record *domain.ProxyRecord) bool {
		if record.Group == group && record.IsActive() {
			out = append(out, record)
		}
		return true
	})
	return out
}

// Report folds one request outcome into a record's health counters.
func (p *Pool) Report(proxyID string, success bool, elapsed time.Duration) {
	record, ok := p.records.Load(proxyID)
	if !ok {
		return
	}
	record.Report(success, elapsed)
	if !success && !record.IsActive() {
		p.logger.Warn("proxy disabled after repeated failures", "proxy", proxyID)
	}
}

// HealthCheck probes one proxy with a GET through it.
func (p *Pool) HealthCheck(ctx context.Context, proxyID string) error {
	record, ok := p.records.Load(proxyID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoProxyAvailable, proxyID)
	}

	start := time.Now()
	err := p.probe(ctx, record)
	elapsed := time.Since(start)

	if err != nil {
		record.MarkChecked(false, elapsed, err.Error())
		return &domain.ProxyError{ProxyID: proxyID, Err: err}
	}
	record.MarkChecked(true, elapsed, "")
	return nil
}

func (p *Pool) probe(ctx context.Context, record *domain.ProxyRecord) error {
	proxyURL, err := url.Parse(record.URL())
	if err != nil {
		return err
	}

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		Timeout:   p.opts.CheckTimeout,
	}

	checkURL := p.opts.HealthCheckURL
	if checkURL == "" {
		checkURL = "https://www.google.com/generate_204"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// Refresh re-checks every record. Calls inside the refresh interval are
// rate-limited to a no-op.
func (p *Pool) Refresh(ctx context.Context) error {
	p.refreshMu.Lock()
	if time.Since(p.lastRefresh) < p.opts.RefreshInterval {
		p.refreshMu.Unlock()
		return nil
	}
	p.lastRefresh = time.Now()
	p.refreshMu.Unlock()

	var ids []string
	p.records.Range(func(id string, _ *domain.ProxyRecord) bool {
		ids = append(ids, id)
		return true
	})

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(proxyID string) {
			defer wg.Done()
			if err := p.HealthCheck(ctx, proxyID); err != nil {
				p.logger.Debug("proxy health check failed", "proxy", proxyID, "error", err)
			}
		}(id)
	}
	wg.Wait()

	p.logger.Info("proxy pool refreshed", "proxies", len(ids))
	return nil
}

// Snapshot returns health views of every record, ordered by ID.
func (p *Pool) Snapshot() []domain.ProxyHealth {
	var out []domain.ProxyHealth
	p.records.Range(func(_ string, record *domain.ProxyRecord) bool {
		out = append(out, record.Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

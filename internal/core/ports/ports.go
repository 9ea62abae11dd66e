package ports

import (
	"context"
	"time"

	"github.com/davral/tidings/internal/core/domain"
)

// Strategy is the kind-specific fetch primitive every source implements.
// Implementations return raw items; normalisation and cache protection live
// in the wrapper that owns the strategy.
type Strategy interface {
	Fetch(ctx context.Context) ([]domain.NewsItem, error)
	Kind() domain.SourceKind
}

// Source is the protected entry point the scheduler drives. GetNews never
// returns an error: protection policy converts failures into stale-but-valid
// or empty results.
type Source interface {
	SourceID() string
	Name() string
	Descriptor() domain.SourceConfig
	Tuning() domain.SourceOptions
	GetNews(ctx context.Context, forceUpdate bool) []domain.NewsItem
	CacheStatus() domain.CacheStatus
	ClearCache(ctx context.Context)
}

// SourceProvider materialises and hands out source instances.
type SourceProvider interface {
	GetSource(sourceID string) (Source, bool)
	GetAllSources() []Source
	Reload(ctx context.Context, configs []domain.SourceConfig) error
}

// CacheStore is the two-tier cache consumed by the fetch wrapper and the
// scheduler. Remote-side failures never surface; the store degrades to its
// in-process tier.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]domain.NewsItem, bool)
	Set(ctx context.Context, key string, items []domain.NewsItem, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context, pattern string) int
	Exists(ctx context.Context, key string) bool
	TTL(ctx context.Context, key string) (time.Duration, bool)
	Stats(ctx context.Context) CacheStats
}

// CacheStats describes the in-process tier.
type CacheStats struct {
	Entries     int                      `json:"entries"`
	ApproxBytes int64                    `json:"approx_bytes"`
	KeyTTLs     map[string]time.Duration `json:"key_ttls,omitempty"`
	RemoteOK    bool                     `json:"remote_ok"`
}

// ProxyPool hands out and tracks upstream proxies.
type ProxyPool interface {
	Get(sourceID, group string) *domain.ProxyRecord
	Report(proxyID string, success bool, elapsed time.Duration)
	HealthCheck(ctx context.Context, proxyID string) error
	Refresh(ctx context.Context) error
	Add(cfg domain.ProxyConfig) error
	Remove(proxyID string) bool
	Snapshot() []domain.ProxyHealth
}

// NewsStore is the persistence surface the scheduler upserts through.
type NewsStore interface {
	GetByOriginalID(ctx context.Context, sourceID, originalID string) (*NewsRecord, error)
	Create(ctx context.Context, item domain.NewsItem) (*NewsRecord, error)
	Update(ctx context.Context, recordID int64, item domain.NewsItem) error
	UpdateSourceTimestamp(ctx context.Context, sourceID string, at time.Time) error
	LastFetch(ctx context.Context, sourceID string) (time.Time, error)
}

// NewsRecord is the persisted row shape the core references by value.
type NewsRecord struct {
	ID         int64
	SourceID   string
	OriginalID string
	Title      string
	URL        string
	UpdatedAt  time.Time
}

// UpsertResult summarises one persistence pass.
type UpsertResult struct {
	Inserted int
	Updated  int
	Failed   int
}

// BrowserDriver is the opaque lifecycle hook browser-automated strategies
// drive. Sessions must be released on every exit path.
type BrowserDriver interface {
	Acquire(ctx context.Context, opts BrowserOptions) (BrowserSession, error)
}

type BrowserOptions struct {
	Headless  bool
	WorkDir   string
	DebugPort int
	UserAgent string
	WaitTime  time.Duration
}

type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context, timeout time.Duration) error
	ScrollToBottom(ctx context.Context, rounds int) error
	HTML(ctx context.Context) (string, error)
	Release() error
}

// FetchResult is the control-surface shape for a single driven fetch.
type FetchResult struct {
	SourceID string        `json:"source_id"`
	Count    int           `json:"count"`
	New      int           `json:"new"`
	Elapsed  time.Duration `json:"elapsed"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// BatchResult aggregates a tier or fetch-all run.
type BatchResult struct {
	Tier     string        `json:"tier"`
	Total    int           `json:"total"`
	Success  int           `json:"success"`
	Failed   int           `json:"failed"`
	NewItems int           `json:"new_items"`
	Elapsed  time.Duration `json:"elapsed"`
	Results  []FetchResult `json:"results"`
}

// SourceStatus is one row of the scheduler status document.
type SourceStatus struct {
	SourceID          string        `json:"source_id"`
	Name              string        `json:"name"`
	Category          string        `json:"category,omitempty"`
	DefaultInterval   time.Duration `json:"default_interval"`
	AdaptiveInterval  time.Duration `json:"adaptive_interval"`
	LastFetch         time.Time     `json:"last_fetch"`
	NextFetch         time.Time     `json:"next_fetch"`
	SuccessRate       float64       `json:"success_rate"`
	FrequencyScore    float64       `json:"frequency_score"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	LastError         string        `json:"last_error,omitempty"`
	IsRunning         bool          `json:"is_running"`
}

package domain

import (
	"time"
)

// SourceKind discriminates the fetch strategy a source uses.
type SourceKind string

const (
	KindWebScrape       SourceKind = "WEB_SCRAPE"
	KindJSONAPI         SourceKind = "JSON_API"
	KindRSS             SourceKind = "RSS"
	KindBrowserAutomate SourceKind = "BROWSER_AUTOMATED"
	KindCustomSelectors SourceKind = "CUSTOM_SELECTORS"
)

// SelectorMap holds the CSS selectors a scrape-driven source is configured
// with. Item, Title, Link and Date are the required four; Summary and Content
// are optional extras.
type SelectorMap struct {
	Item    string `mapstructure:"item" json:"item"`
	Title   string `mapstructure:"title" json:"title"`
	Link    string `mapstructure:"link" json:"link"`
	Date    string `mapstructure:"date" json:"date"`
	Summary string `mapstructure:"summary" json:"summary,omitempty"`
	Content string `mapstructure:"content" json:"content,omitempty"`
}

// SourceConfig is the immutable descriptor one source is materialised from.
// The Options bag carries strategy- and network-specific keys; unknown keys
// are preserved and ignored.
type SourceConfig struct {
	SourceID    string     `mapstructure:"source_id" json:"source_id"`
	Name        string     `mapstructure:"name" json:"name"`
	Description string     `mapstructure:"description" json:"description,omitempty"`
	URL         string     `mapstructure:"url" json:"url"`
	Kind        SourceKind `mapstructure:"kind" json:"kind"`
	Category    string     `mapstructure:"category" json:"category,omitempty"`
	Country     string     `mapstructure:"country" json:"country,omitempty"`
	Language    string     `mapstructure:"language" json:"language,omitempty"`
	Priority    int        `mapstructure:"priority" json:"priority"`
	Status      string     `mapstructure:"status" json:"status,omitempty"`

	UpdateInterval time.Duration `mapstructure:"update_interval" json:"update_interval"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`

	Options map[string]any `mapstructure:"config" json:"config,omitempty"`
}

// SourceOptions is the typed view of the recognised Options keys. The
// provider decodes the bag once at materialisation time.
type SourceOptions struct {
	// Network
	Headers        map[string]string `mapstructure:"headers"`
	UserAgents     []string          `mapstructure:"user_agents"`
	ConnectTimeout time.Duration     `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration     `mapstructure:"read_timeout"`
	TotalTimeout   time.Duration     `mapstructure:"total_timeout"`
	MaxRetries     int               `mapstructure:"max_retries"`
	RetryDelay     time.Duration     `mapstructure:"retry_delay"`
	VerifyTLS      *bool             `mapstructure:"verify_tls"`

	// Strategy
	Selectors       SelectorMap       `mapstructure:"selectors"`
	APIURL          string            `mapstructure:"api_url"`
	APIURLs         []string          `mapstructure:"api_urls"`
	DataPath        string            `mapstructure:"data_path"`
	FieldMap        map[string]string `mapstructure:"field_map"`
	BackupURLs      []string          `mapstructure:"backup_urls"`
	FeedType        string            `mapstructure:"feed_type"`
	Encoding        string            `mapstructure:"encoding"`
	UseBrowser      bool              `mapstructure:"use_selenium"`
	Headless        bool              `mapstructure:"headless"`
	BrowserTimeout  time.Duration     `mapstructure:"selenium_timeout"`
	BrowserWaitTime time.Duration     `mapstructure:"selenium_wait_time"`
	UseHTTPFallback bool              `mapstructure:"use_http_fallback"`

	// Caching / adaptive
	UseCache         *bool         `mapstructure:"use_cache"`
	ExtendedValidity bool          `mapstructure:"extended_validity"`
	EnableAdaptive   *bool         `mapstructure:"enable_adaptive"`
	MinInterval      time.Duration `mapstructure:"min_interval"`
	MaxInterval      time.Duration `mapstructure:"max_interval"`
	UseRandomDelay   bool          `mapstructure:"use_random_delay"`
	MinDelay         time.Duration `mapstructure:"min_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`

	// Proxy
	NeedProxy     bool   `mapstructure:"need_proxy"`
	ProxyGroup    string `mapstructure:"proxy_group"`
	ProxyFallback bool   `mapstructure:"proxy_fallback"`
}

const (
	DefaultUpdateInterval = 10 * time.Minute
	DefaultCacheTTL       = 15 * time.Minute
	DefaultMinInterval    = 2 * time.Minute
	DefaultMaxInterval    = 1 * time.Hour
)

// AdaptiveEnabled defaults to true when the bag does not say otherwise.
func (o *SourceOptions) AdaptiveEnabled() bool {
	return o.EnableAdaptive == nil || *o.EnableAdaptive
}

// CacheEnabled defaults to true when the bag does not say otherwise.
func (o *SourceOptions) CacheEnabled() bool {
	return o.UseCache == nil || *o.UseCache
}

// Bounds returns the adaptive interval clamp, falling back to engine defaults.
func (o *SourceOptions) Bounds() (min, max time.Duration) {
	min, max = o.MinInterval, o.MaxInterval
	if min <= 0 {
		min = DefaultMinInterval
	}
	if max <= 0 {
		max = DefaultMaxInterval
	}
	if max < min {
		max = min
	}
	return min, max
}

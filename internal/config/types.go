package config

import (
	"time"

	"github.com/davral/tidings/internal/core/domain"
)

// Config holds all configuration for the engine
type Config struct {
	Filename  string          `yaml:"-"`
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
	Sources   SourcesConfig   `yaml:"sources"`
	Proxies   ProxiesConfig   `yaml:"proxies"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	FileOutput bool   `yaml:"file_output"`
}

// HTTPConfig holds the shared fetch client configuration
type HTTPConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	TotalTimeout   time.Duration `yaml:"total_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	UserAgents     []string      `yaml:"user_agents"`
	VerifyTLS      bool          `yaml:"verify_tls"`
}

// CacheConfig holds the two-tier cache configuration
type CacheConfig struct {
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Redis           RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the remote cache tier configuration. Leaving Address
// empty runs the engine on the memory tier alone.
type RedisConfig struct {
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// SchedulerConfig holds adaptive scheduler configuration
type SchedulerConfig struct {
	CheckInterval   time.Duration `yaml:"check_interval"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig holds persistence configuration. Retention <= 0 keeps items
// forever.
type StoreConfig struct {
	Path            string        `yaml:"path"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// SourcesConfig names the source table file and controls hot reload
type SourcesConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

// ProxiesConfig holds the proxy pool configuration
type ProxiesConfig struct {
	Entries         []ProxyEntry  `yaml:"entries"`
	HealthCheckURL  string        `yaml:"health_check_url"`
	CheckTimeout    time.Duration `yaml:"check_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// ProxyEntry describes one upstream proxy
type ProxyEntry struct {
	ID       string `yaml:"id"`
	Protocol string `yaml:"protocol"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Group    string `yaml:"group"`
	Priority int    `yaml:"priority"`
}

// TasksConfig holds tier orchestrator configuration
type TasksConfig struct {
	Enabled        bool   `yaml:"enabled"`
	HighSchedule   string `yaml:"high_schedule"`
	MediumSchedule string `yaml:"medium_schedule"`
	LowSchedule    string `yaml:"low_schedule"`
}

// TelemetryConfig holds metrics configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// ToDomain converts a proxy entry into a pool record.
func (p ProxyEntry) ToDomain() domain.ProxyConfig {
	group := p.Group
	if group == "" {
		group = domain.DefaultProxyGroup
	}
	return domain.ProxyConfig{
		ID:       p.ID,
		Protocol: domain.ProxyProtocol(p.Protocol),
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Password: p.Password,
		Group:    group,
		Priority: p.Priority,
	}
}

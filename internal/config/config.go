package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/davral/tidings/internal/core/domain"
)

const (
	DefaultSourcesFile = "sources.yaml"
	DefaultStorePath   = "tidings.db"
)

// Desktop agents rotated when a source does not pin its own.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0",
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			FileOutput: false,
		},
		HTTP: HTTPConfig{
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
			TotalTimeout:   60 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   500 * time.Millisecond,
			MaxConcurrent:  16,
			UserAgents:     defaultUserAgents,
			VerifyTLS:      true,
		},
		Cache: CacheConfig{
			DefaultTTL:      domain.DefaultCacheTTL,
			CleanupInterval: time.Minute,
			Redis: RedisConfig{
				DialTimeout: 5 * time.Second,
				ReadTimeout: 3 * time.Second,
			},
		},
		Scheduler: SchedulerConfig{
			CheckInterval:   10 * time.Second,
			MaxConcurrent:   16,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path:            DefaultStorePath,
			Retention:       30 * 24 * time.Hour,
			CleanupInterval: 6 * time.Hour,
		},
		Sources: SourcesConfig{
			File:  DefaultSourcesFile,
			Watch: true,
		},
		Proxies: ProxiesConfig{
			HealthCheckURL:  "https://www.google.com/generate_204",
			CheckTimeout:    10 * time.Second,
			RefreshInterval: 5 * time.Minute,
		},
		Tasks: TasksConfig{
			Enabled:        true,
			HighSchedule:   "@every 10m",
			MediumSchedule: "@every 35m",
			LowSchedule:    "@every 80m",
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Address: ":9190",
			},
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("TIDINGS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, check if we have TIDINGS_CONFIG_FILE env var
		if configFile := os.Getenv("TIDINGS_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.Filename = viper.ConfigFileUsed()
	viper.WatchConfig()

	return config, nil
}

// LoadSources reads the source table from its own YAML file. Each entry
// becomes one SourceConfig; the strategy-specific keys stay in the Options
// bag until the provider materialises the source.
func LoadSources(path string) ([]domain.SourceConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading sources file %s: %w", path, err)
	}

	var table struct {
		Sources []domain.SourceConfig `mapstructure:"sources"`
	}
	if err := v.Unmarshal(&table); err != nil {
		return nil, fmt.Errorf("unable to decode sources file %s: %w", path, err)
	}

	for i := range table.Sources {
		if table.Sources[i].SourceID == "" {
			return nil, fmt.Errorf("sources file %s: entry %d has no source_id", path, i)
		}
		if table.Sources[i].Kind == "" {
			return nil, fmt.Errorf("source %s has no kind", table.Sources[i].SourceID)
		}
	}

	return table.Sources, nil
}

// WatchSources re-reads the source table whenever the file changes and hands
// the result to onChange. Decode errors keep the previous table and are
// reported through onError.
func WatchSources(path string, onChange func([]domain.SourceConfig), onError func(error)) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error watching sources file %s: %w", path, err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		sources, err := LoadSources(path)
		if err != nil {
			onError(err)
			return
		}
		onChange(sources)
	})
	v.WatchConfig()

	return nil
}

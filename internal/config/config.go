// Package config loads and validates mirror configuration via Viper.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// HNMIRROR_CRAWLER_MAX_IN_FLIGHT.
const EnvPrefix = "HNMIRROR"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// Addr joins host and port for net.Listen.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// RemoteConfig describes the upstream API.
type RemoteConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Timeout converts TimeoutSeconds.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// CrawlerConfig bounds crawl concurrency.
type CrawlerConfig struct {
	MaxInFlight int `mapstructure:"max_in_flight"`
	PoolSize    int `mapstructure:"pool_size"`
}

// CacheConfig sizes the item store.
type CacheConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// RefreshConfig controls the periodic driver.
type RefreshConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	TopLimit int           `mapstructure:"top_limit"`
}

// PubSubConfig holds metadata for refresh notifications. Both fields must be
// set to publish to Google Cloud Pub/Sub.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether Pub/Sub publishing is configured.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// ProgressConfig controls the crawl event hub.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	LogEvents      bool          `mapstructure:"log_events"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from defaults, an optional file and the environment.
// PORT and HOST are honored as fallbacks for the server address.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("remote.base_url", "https://hacker-news.firebaseio.com")
	v.SetDefault("remote.user_agent", "hn-mirror/0.1")
	v.SetDefault("remote.timeout_seconds", 15)
	v.SetDefault("remote.requests_per_second", 0)
	v.SetDefault("remote.burst", 1)
	v.SetDefault("crawler.max_in_flight", 100)
	v.SetDefault("crawler.pool_size", 100)
	v.SetDefault("cache.capacity", 20_000)
	v.SetDefault("refresh.enabled", true)
	v.SetDefault("refresh.interval", 5*time.Minute)
	v.SetDefault("refresh.top_limit", 30)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("logging.development", true)
}

func bindAliases(v *viper.Viper) error {
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return fmt.Errorf("bind server.port: %w", err)
	}
	if err := v.BindEnv("server.host", EnvPrefix+"_SERVER_HOST", "HOST"); err != nil {
		return fmt.Errorf("bind server.host: %w", err)
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url must be set")
	}
	if c.Remote.TimeoutSeconds <= 0 {
		return fmt.Errorf("remote.timeout_seconds must be > 0")
	}
	if c.Remote.RequestsPerSecond < 0 {
		return fmt.Errorf("remote.requests_per_second must be >= 0")
	}
	if c.Crawler.MaxInFlight <= 0 {
		return fmt.Errorf("crawler.max_in_flight must be > 0")
	}
	if c.Crawler.PoolSize <= 0 {
		return fmt.Errorf("crawler.pool_size must be > 0")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be > 0")
	}
	if c.Refresh.Enabled && c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be > 0 when refresh is enabled")
	}
	if c.Refresh.TopLimit <= 0 {
		return fmt.Errorf("refresh.top_limit must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// RequestTimeout converts the server request timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/telemetry"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Governor    GovernorConfig    `mapstructure:"governor"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Store       StoreConfig       `mapstructure:"store"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Storage     StorageConfig     `mapstructure:"storage"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"`
	Telemetry   telemetry.Config  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig holds the settings applied to jobs that don't override them,
// and how many jobs may run at once.
type CrawlerConfig struct {
	Defaults crawler.Settings `mapstructure:"defaults"`
	MaxJobs  int              `mapstructure:"max_jobs"`
}

// GovernorConfig tunes the memory gate and the per-domain throttle.
type GovernorConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	AdmissionTimeout time.Duration `mapstructure:"admission_timeout"`
	UserAgents       []string      `mapstructure:"user_agents"`
	JitterFraction   float64       `mapstructure:"jitter_fraction"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	FailureWindow    time.Duration `mapstructure:"failure_window"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
}

// ExecutorConfig configures per-URL retries.
type ExecutorConfig struct {
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBase     time.Duration `mapstructure:"retry_base"`
	RetryMax      time.Duration `mapstructure:"retry_max"`
}

// CoordinatorConfig configures job lifecycle handling.
type CoordinatorConfig struct {
	CoolDown       time.Duration `mapstructure:"cool_down"`
	MaxPauseCycles int           `mapstructure:"max_pause_cycles"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	QueueDepth     int           `mapstructure:"queue_depth"`
}

// StoreConfig selects the result and metrics backend.
type StoreConfig struct {
	Backend     string        `mapstructure:"backend"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
}

// JobsConfig selects the job repository backend.
type JobsConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ResultsTable    string        `mapstructure:"results_table"`
	JobsTable       string        `mapstructure:"jobs_table"`
	MetricsTable    string        `mapstructure:"metrics_table"`
	FrontierTable   string        `mapstructure:"frontier_table"`
}

// RedisConfig controls the Redis job repository.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// StorageConfig selects where page content blobs go.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	StoreRaw bool   `mapstructure:"store_raw"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the progress hub and picks its sinks.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogEvents      bool          `mapstructure:"log_events"`
	Prometheus     bool          `mapstructure:"prometheus"`
}

// FetcherConfig configures the static and headless fetchers.
type FetcherConfig struct {
	UserAgent     string         `mapstructure:"user_agent"`
	RespectRobots bool           `mapstructure:"respect_robots"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	MaxBodySize   int            `mapstructure:"max_body_size"`
	Headless      HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	Settle      time.Duration `mapstructure:"settle"`

	// AutoPromote re-fetches client-rendered shells through the browser.
	AutoPromote    bool `mapstructure:"auto_promote"`
	PromoteMinText int  `mapstructure:"promote_min_text"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	defaults := crawler.DefaultSettings()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)

	v.SetDefault("crawler.defaults.max_concurrent", defaults.MaxConcurrent)
	v.SetDefault("crawler.defaults.batch_size", defaults.BatchSize)
	v.SetDefault("crawler.defaults.requests_per_second", defaults.RequestsPerSecond)
	v.SetDefault("crawler.defaults.memory_threshold_mb", defaults.MemoryThresholdMB)
	v.SetDefault("crawler.defaults.max_depth", defaults.MaxDepth)
	v.SetDefault("crawler.defaults.use_sitemap", false)
	v.SetDefault("crawler.max_jobs", 1)

	v.SetDefault("governor.poll_interval", "1s")
	v.SetDefault("governor.admission_timeout", "30s")
	v.SetDefault("governor.user_agents", []string{})
	v.SetDefault("governor.jitter_fraction", 0.5)
	v.SetDefault("governor.failure_threshold", 2)
	v.SetDefault("governor.failure_window", "30s")
	v.SetDefault("governor.backoff_base", "1s")
	v.SetDefault("governor.max_backoff", "60s")

	v.SetDefault("executor.retry_attempts", 2)
	v.SetDefault("executor.retry_base", "500ms")
	v.SetDefault("executor.retry_max", "5s")

	v.SetDefault("coordinator.cool_down", "30s")
	v.SetDefault("coordinator.max_pause_cycles", 3)
	v.SetDefault("coordinator.fetch_timeout", "30s")
	v.SetDefault("coordinator.queue_depth", 64)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.max_attempts", 3)
	v.SetDefault("store.base_backoff", "200ms")
	v.SetDefault("jobs.backend", "memory")

	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.results_table", "crawl_results")
	v.SetDefault("database.jobs_table", "crawl_jobs")
	v.SetDefault("database.metrics_table", "crawl_job_metrics")
	v.SetDefault("database.frontier_table", "crawl_frontier")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "crawler:")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.prefix", "pages")

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic", "crawl-jobs")

	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "10s")
	v.SetDefault("progress.log_events", true)
	v.SetDefault("progress.prometheus", true)

	v.SetDefault("fetcher.user_agent", "site-crawler/0.1")
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.timeout", "15s")
	v.SetDefault("fetcher.max_body_size", 10<<20)
	v.SetDefault("fetcher.headless.enabled", false)
	v.SetDefault("fetcher.headless.max_parallel", 1)
	v.SetDefault("fetcher.headless.nav_timeout", "25s")
	v.SetDefault("fetcher.headless.settle", "500ms")
	v.SetDefault("fetcher.headless.auto_promote", true)
	v.SetDefault("fetcher.headless.promote_min_text", 256)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "site-crawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		return fmt.Errorf("auth.token must be set when auth is enabled")
	}
	if err := c.Crawler.Defaults.Validate(); err != nil {
		return fmt.Errorf("crawler.defaults: %w", err)
	}
	if c.Crawler.MaxJobs <= 0 {
		return fmt.Errorf("crawler.max_jobs must be > 0")
	}
	if c.Coordinator.MaxPauseCycles <= 0 {
		return fmt.Errorf("coordinator.max_pause_cycles must be > 0")
	}
	if c.Coordinator.QueueDepth <= 0 {
		return fmt.Errorf("coordinator.queue_depth must be > 0")
	}
	if c.Executor.RetryAttempts <= 0 {
		return fmt.Errorf("executor.retry_attempts must be > 0")
	}
	if c.Governor.JitterFraction < 0 || c.Governor.JitterFraction >= 1 {
		return fmt.Errorf("governor.jitter_fraction must be in [0, 1)")
	}
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of memory, postgres", c.Store.Backend)
	}
	switch c.Jobs.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when jobs.backend is postgres")
		}
	default:
		return fmt.Errorf("jobs.backend %q is not one of memory, postgres, redis", c.Jobs.Backend)
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if c.Fetcher.Headless.Enabled && c.Fetcher.Headless.MaxParallel <= 0 {
		return fmt.Errorf("fetcher.headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// UsesPostgres reports whether any backend needs the database pool.
func (c Config) UsesPostgres() bool {
	return c.Store.Backend == "postgres" || c.Jobs.Backend == "postgres"
}

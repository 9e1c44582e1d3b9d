// Package config loads and validates wikindex configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/wikindex/internal/crawler"
	"github.com/JakeFAU/wikindex/internal/logging"
	"github.com/JakeFAU/wikindex/internal/mapper"
	"github.com/JakeFAU/wikindex/internal/policy/ratelimit"
	"github.com/JakeFAU/wikindex/internal/storage/postgres"
)

// EnvPrefix prefixes every environment override, e.g. WIKINDEX_CRAWL_LIMIT.
const EnvPrefix = "WIKINDEX"

// Config captures all knobs loaded via Viper.
type Config struct {
	Crawl    crawler.Config `mapstructure:"crawl"`
	Map      MapConfig      `mapstructure:"map"`
	Reduce   ReduceConfig   `mapstructure:"reduce"`
	Source   SourceConfig   `mapstructure:"source"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Progress ProgressConfig `mapstructure:"progress"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MapConfig extends the mapper settings with the shard count used by index runs.
type MapConfig struct {
	mapper.Config `mapstructure:",squash"`
	Shards        int `mapstructure:"shards"`
}

// ReduceConfig controls term partitioning.
type ReduceConfig struct {
	Partitions int `mapstructure:"partitions"`
}

// SourceConfig selects and tunes the content source.
type SourceConfig struct {
	Kind           string         `mapstructure:"kind"`
	Fixture        string         `mapstructure:"fixture"`
	BaseURL        string         `mapstructure:"base_url"`
	UserAgent      string         `mapstructure:"user_agent"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	RespectRobots  bool           `mapstructure:"respect_robots"`
	MinTokenLength int            `mapstructure:"min_token_length"`
	Renderer       string         `mapstructure:"renderer"`
	Headless       HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the chromedp renderer. PromotionThreshold is
// only read by the auto renderer.
type HeadlessConfig struct {
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
}

// StorageConfig selects where run artifacts are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig selects where run completions are announced.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LedgerConfig selects where run records are kept.
type LedgerConfig struct {
	Backend         string `mapstructure:"backend"`
	postgres.Config `mapstructure:",squash"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	LogEvents  bool `mapstructure:"log_events"`
	BufferSize int  `mapstructure:"buffer_size"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port      int              `mapstructure:"port"`
	MaxLimit  int              `mapstructure:"max_limit"`
	RateLimit ratelimit.Config `mapstructure:"rate_limit"`
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig = logging.Config

// Source kinds, renderers and backends.
const (
	SourceWiki    = "wiki"
	SourceFixture = "fixture"

	RendererColly    = "colly"
	RendererHeadless = "headless"
	RendererAuto     = "auto"

	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
	BackendPostgres = "postgres"
)

// New returns a Viper instance with defaults and environment overrides set.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the optional config file at path into v and returns the
// validated configuration.
func Load(v *viper.Viper, path string) (Config, error) {
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
	v.SetDefault("crawl.limit", 1000)
	v.SetDefault("crawl.wave_width", 10)
	v.SetDefault("crawl.task_timeout", "30s")
	v.SetDefault("map.window_width", mapper.MaxWindowWidth)
	v.SetDefault("map.task_timeout", "30s")
	v.SetDefault("map.shards", 1)
	v.SetDefault("reduce.partitions", 1)
	v.SetDefault("source.kind", SourceWiki)
	v.SetDefault("source.fixture", "")
	v.SetDefault("source.base_url", "https://wikipedia.org")
	v.SetDefault("source.user_agent", "wikindex/1.0 (+https://github.com/JakeFAU/wikindex)")
	v.SetDefault("source.request_timeout", "15s")
	v.SetDefault("source.respect_robots", false)
	v.SetDefault("source.min_token_length", 4)
	v.SetDefault("source.renderer", RendererColly)
	v.SetDefault("source.headless.max_parallel", 2)
	v.SetDefault("source.headless.promotion_threshold", 2048)
	v.SetDefault("source.headless.nav_timeout", "45s")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.base_dir", "data/runs")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("notify.backend", BackendNone)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("ledger.backend", BackendMemory)
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "index_runs")
	v.SetDefault("ledger.max_conns", 4)
	v.SetDefault("ledger.max_conn_lifetime", "30m")
	v.SetDefault("progress.log_events", false)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_limit", 10000)
	v.SetDefault("server.rate_limit.rps", 0)
	v.SetDefault("server.rate_limit.burst", 20)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Crawl.Validate(); err != nil {
		return err
	}
	if err := c.Map.Validate(); err != nil {
		return err
	}
	if c.Map.Shards < 1 {
		return fmt.Errorf("map.shards must be >= 1")
	}
	if c.Reduce.Partitions < 1 {
		return fmt.Errorf("reduce.partitions must be >= 1")
	}
	if err := c.Source.validate(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir must be set when storage.backend is local")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	switch c.Notify.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set when notify.backend is pubsub")
		}
	default:
		return fmt.Errorf("notify.backend %q is not one of none, memory, pubsub", c.Notify.Backend)
	}
	switch c.Ledger.Backend {
	case BackendNone, BackendMemory:
	case BackendPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn must be set when ledger.backend is postgres")
		}
		if c.Ledger.MaxConns < 0 {
			return fmt.Errorf("ledger.max_conns must be >= 0")
		}
	default:
		return fmt.Errorf("ledger.backend %q is not one of none, memory, postgres", c.Ledger.Backend)
	}
	if c.Progress.BufferSize < 1 {
		return fmt.Errorf("progress.buffer_size must be >= 1")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if _, err := logging.ParseLevel(c.Logging.Level, zapcore.InfoLevel); err != nil {
		return err
	}
	if c.Server.MaxLimit <= 0 {
		return fmt.Errorf("server.max_limit must be > 0")
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit values must be >= 0")
	}
	return nil
}

func (s SourceConfig) validate() error {
	switch s.Kind {
	case SourceWiki:
		if s.BaseURL == "" {
			return fmt.Errorf("source.base_url must be set")
		}
		if s.MinTokenLength < 1 {
			return fmt.Errorf("source.min_token_length must be >= 1")
		}
		if s.RequestTimeout <= 0 {
			return fmt.Errorf("source.request_timeout must be > 0")
		}
		switch s.Renderer {
		case RendererColly:
		case RendererHeadless, RendererAuto:
			if s.Headless.MaxParallel <= 0 {
				return fmt.Errorf("source.headless.max_parallel must be > 0 when the headless renderer is used")
			}
		default:
			return fmt.Errorf("source.renderer %q is not one of colly, headless, auto", s.Renderer)
		}
	case SourceFixture:
		if s.Fixture == "" {
			return fmt.Errorf("source.fixture must be set when source.kind is fixture")
		}
	default:
		return fmt.Errorf("source.kind %q is not one of wiki, fixture", s.Kind)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level typed configuration, loaded from a single YAML
// document. Domain sections (Scanner, Chain, Classifier, Dedupe, Stores
// for Redis/Postgres/ClickHouse, PubSub, ExternalFeed) sit alongside the ambient sections
// carried from the teacher (App, Logging, Alerting, Metrics, RateLimit,
// CORS via API.HTTP).
type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Chain     ChainConfig     `yaml:"chain"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Stores    StoresConfig    `yaml:"stores"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	ExternalFeed ExternalFeedConfig `yaml:"external_feed"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	InstanceID      string        `yaml:"instance_id"`
	Grace           time.Duration `yaml:"grace"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type AlertingConfig struct {
	AppName string `yaml:"app_name"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

// RateBucket configures one Lua token-bucket: refilled RefillPerSec tokens a
// second, capped at Burst, with the bucket's Redis hash expiring after TTL
// of inactivity.
type RateBucket struct {
	RefillPerSec int           `yaml:"refill_per_sec"`
	Burst        int           `yaml:"burst"`
	TTL          time.Duration `yaml:"ttl"`
}

// RateLimitConfig is IP-only: there is no authenticated principal in this
// API, so the per-JWT bucket the teacher carried has no subject to key on.
type RateLimitConfig struct {
	ByIP               RateBucket `yaml:"by_ip"`
	TrustedProxiesList []string   `yaml:"trusted_proxies"`
}

// ScannerWindow selects how the Token Scanner (C7) derives its block range
// each tick. There is no default: an unset or unrecognized value is a
// startup error, per the open question resolved in DESIGN.md.
type ScannerWindow string

const (
	ScannerWindowFixed   ScannerWindow = "fixed"
	ScannerWindowSliding ScannerWindow = "sliding"
)

type ScannerConfig struct {
	StartBlock      uint64        `yaml:"start_block"`
	BlockRange      uint32        `yaml:"block_range"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Window          ScannerWindow `yaml:"window"`
}

func (c ScannerConfig) Validate() error {
	switch c.Window {
	case ScannerWindowFixed, ScannerWindowSliding:
	default:
		return fmt.Errorf("scanner.window must be %q or %q, got %q", ScannerWindowFixed, ScannerWindowSliding, c.Window)
	}
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("scanner.interval_seconds must be positive")
	}
	if c.BlockRange == 0 {
		return fmt.Errorf("scanner.block_range must be positive")
	}
	return nil
}

type ChainConfig struct {
	ChainID            uint64        `yaml:"chain_id"`
	RPCURL             string        `yaml:"rpc_url"`
	PoolManagerAddress string        `yaml:"pool_manager_address"`
	StateViewAddress   string        `yaml:"state_view_address"`
	RequestTimeout     time.Duration `yaml:"request_timeout"` // default 30s
}

type ClassifierConfig struct {
	// Hooks maps a lower-cased hook address to the coinType it denotes.
	Hooks map[string]string `yaml:"hooks"`
	// BasePairings is the set of lower-cased currency addresses that make
	// the opposite leg of a pool AppType-Paired (e.g. WETH, USDC).
	BasePairings []string `yaml:"base_pairings"`
}

type DedupeConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type ClickHouseWriterConfig struct {
	BatchMaxRows     int           `yaml:"batch_max_rows"`
	BatchMaxInterval time.Duration `yaml:"batch_max_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type ClickHouseConfig struct {
	DSN    string                 `yaml:"dsn"`
	Writer ClickHouseWriterConfig `yaml:"writer"`
}

type StoresConfig struct {
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type NATSConfig struct {
	URL             string `yaml:"url"`
	BroadcastPrefix string `yaml:"broadcast_prefix"`
}

type PubSubConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

type ExternalFeedConfig struct {
	APIKey     string   `yaml:"api_key"`
	URL        string   `yaml:"url"`
	Protocols  []string `yaml:"protocols"`
	NetworkIDs []string `yaml:"network_ids"`
}

type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
	Headers []string `yaml:"headers"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	SSEWriteTimeout time.Duration `yaml:"sse_write_timeout"` // default 10s
	CORS         CORSConfig    `yaml:"cors"`
}

type APIConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

type MetricsConfig struct {
	Prometheus string `yaml:"prometheus"`
	PPROF      string `yaml:"pprof"`
	Pyroscope  string `yaml:"pyroscope"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Scanner.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Package config loads application configuration from file and environment.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Oracle   OracleConfig   `yaml:"oracle" mapstructure:"oracle"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Research ResearchConfig `yaml:"research" mapstructure:"research"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Stream   StreamConfig   `yaml:"stream" mapstructure:"stream"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// OracleConfig holds settings for the web-search research oracle.
type OracleConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SearchConfig configures the search adapter wrapping the oracle.
type SearchConfig struct {
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RatePerSecond    float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	PolicyPath       string  `yaml:"policy_path" mapstructure:"policy_path"`
}

// Timeout returns the per-call oracle timeout.
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// BreakerReset returns how long the circuit stays open before probing.
func (c SearchConfig) BreakerReset() time.Duration {
	return time.Duration(c.BreakerResetSecs) * time.Second
}

// ResearchConfig configures the per-organization research state machine and
// the job orchestrator.
type ResearchConfig struct {
	EarlyStopConfidence float64 `yaml:"early_stop_confidence" mapstructure:"early_stop_confidence"`
	MaxFollowups        int     `yaml:"max_followups" mapstructure:"max_followups"`
	CheckpointEvery     int     `yaml:"checkpoint_every" mapstructure:"checkpoint_every"`
	DefaultConcurrency  int     `yaml:"default_concurrency" mapstructure:"default_concurrency"`
	MaxConcurrency      int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	MaxOrganizations    int     `yaml:"max_organizations" mapstructure:"max_organizations"`
}

// CacheConfig configures the shared result cache.
type CacheConfig struct {
	TTLHours int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTL returns the cache entry freshness window.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// StreamConfig configures the progress stream.
type StreamConfig struct {
	HeartbeatSecs    int `yaml:"heartbeat_secs" mapstructure:"heartbeat_secs"`
	SubscriberBuffer int `yaml:"subscriber_buffer" mapstructure:"subscriber_buffer"`
}

// Heartbeat returns the idle-connection heartbeat interval.
func (c StreamConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSecs) * time.Second
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and AUCTIONINTEL_* environment
// variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("AUCTIONINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "auctionintel.db")
	v.SetDefault("oracle.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("oracle.max_tokens", 4096)
	v.SetDefault("search.timeout_secs", 90)
	v.SetDefault("search.max_attempts", 3)
	v.SetDefault("search.rate_per_second", 2)
	v.SetDefault("search.burst", 4)
	v.SetDefault("search.breaker_threshold", 5)
	v.SetDefault("search.breaker_reset_secs", 30)
	v.SetDefault("search.policy_path", "policy.yaml")
	v.SetDefault("research.early_stop_confidence", 0.8)
	v.SetDefault("research.max_followups", 3)
	v.SetDefault("research.checkpoint_every", 10)
	v.SetDefault("research.default_concurrency", 4)
	v.SetDefault("research.max_concurrency", 16)
	v.SetDefault("research.max_organizations", 1000)
	v.SetDefault("cache.ttl_hours", 168)
	v.SetDefault("stream.heartbeat_secs", 15)
	v.SetDefault("stream.subscriber_buffer", 64)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that required settings are present for serving traffic.
func (c *Config) Validate() error {
	if c.Oracle.Key == "" {
		return eris.New("config: oracle.key is required (AUCTIONINTEL_ORACLE_KEY)")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for postgres")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Package config loads service configuration from defaults, an optional
// config file, a .env file and CARESTREAM_ environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"carestream.org/internal/obs"
	"carestream.org/internal/store/redisfeed"
)

// EnvPrefix prefixes every environment override, e.g. CARESTREAM_STORE_DSN.
const EnvPrefix = "CARESTREAM"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Records   RecordsConfig   `mapstructure:"records"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	GRPCAddr    string   `mapstructure:"grpc_addr"`
	Env         string   `mapstructure:"env"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type StoreConfig struct {
	Backend      string `mapstructure:"backend"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type FeedConfig struct {
	Backend string `mapstructure:"backend"`
	Channel string `mapstructure:"channel"`
}

type RedisConfig struct {
	Addr               string `mapstructure:"addr"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	DialTimeoutSeconds int    `mapstructure:"dial_timeout_seconds"`
}

type IdentityConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type LoggingConfig struct {
	Level  string            `mapstructure:"level"`
	Format string            `mapstructure:"format"`
	File   LoggingFileConfig `mapstructure:"file"`
}

type LoggingFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

type RecordsConfig struct {
	PhoneRegion string `mapstructure:"phone_region"`
}

// Store and feed backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_open_conns", 50)

	v.SetDefault("feed.backend", "")
	v.SetDefault("feed.channel", "carestream_changes")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout_seconds", 5)

	v.SetDefault("identity.secret", "")
	v.SetDefault("identity.issuer", "carestream-identity")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "logs/carestream.log")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sampling_rate", 1.0)

	v.SetDefault("ratelimit.per_second", 20.0)
	v.SetDefault("ratelimit.burst", 40)

	v.SetDefault("records.phone_region", "PK")
}

// Load reads configuration. path may be empty; a missing .env file is ignored.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if len(cfg.Server.CORSOrigins) == 1 && strings.Contains(cfg.Server.CORSOrigins[0], ",") {
		cfg.Server.CORSOrigins = strings.Split(cfg.Server.CORSOrigins[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// IsDev reports whether the service runs in development mode.
func (c *Config) IsDev() bool { return c.Server.Env == "development" }

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Store.Backend)
	}

	switch c.Feed.Backend {
	case "":
	case BackendPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres feed")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis feed")
		}
	default:
		return fmt.Errorf("feed.backend must be empty, %q or %q, got %q", BackendPostgres, BackendRedis, c.Feed.Backend)
	}

	if !c.IsDev() && c.Identity.Secret == "" {
		return fmt.Errorf("identity.secret is required outside development (env=%q)", c.Server.Env)
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("ratelimit values must not be negative")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be within [0,1], got %v", c.Tracing.SamplingRate)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "disabled", "off":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	return nil
}

// Log converts the logging section for obs.NewLogger.
func (c *Config) Log() obs.LogConfig {
	f := c.Logging.File
	return obs.LogConfig{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		File: obs.LogFileConfig{
			Enabled:    f.Enabled,
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		},
	}
}

// Trace converts the tracing section for obs.InitTracing.
func (c *Config) Trace() obs.TracingConfig {
	return obs.TracingConfig{
		Enabled:      c.Tracing.Enabled,
		Endpoint:     c.Tracing.OTLPEndpoint,
		Insecure:     c.Tracing.Insecure,
		SamplingRate: c.Tracing.SamplingRate,
	}
}

// RedisFeed converts the redis section for redisfeed.NewClient.
func (c *Config) RedisFeed() redisfeed.Config {
	return redisfeed.Config{
		Addr:        c.Redis.Addr,
		Username:    c.Redis.Username,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		Channel:     c.Feed.Channel,
		DialTimeout: time.Duration(c.Redis.DialTimeoutSeconds) * time.Second,
	}
}

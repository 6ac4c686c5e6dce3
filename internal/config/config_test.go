package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Store.Backend != BackendMemory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Records.PhoneRegion != "PK" {
		t.Fatalf("phone region = %q", cfg.Records.PhoneRegion)
	}
	if !cfg.IsDev() {
		t.Fatalf("default env should be development")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CARESTREAM_STORE_BACKEND", "postgres")
	t.Setenv("CARESTREAM_STORE_DSN", "postgres://localhost/carestream")
	t.Setenv("CARESTREAM_LOGGING_FILE_ENABLED", "true")
	t.Setenv("CARESTREAM_RATELIMIT_BURST", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != BackendPostgres || cfg.Store.DSN == "" {
		t.Fatalf("store not overridden: %+v", cfg.Store)
	}
	if !cfg.Log().File.Enabled {
		t.Fatalf("logging file not enabled")
	}
	if cfg.RateLimit.Burst != 7 {
		t.Fatalf("burst = %d", cfg.RateLimit.Burst)
	}
}

func TestDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CARESTREAM_RECORDS_PHONE_REGION=IN\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("CARESTREAM_RECORDS_PHONE_REGION") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Records.PhoneRegion != "IN" {
		t.Fatalf("phone region = %q", cfg.Records.PhoneRegion)
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "carestream.yaml")
	body := "server:\n  addr: \":9999\"\nfeed:\n  channel: clinic\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" || cfg.Feed.Channel != "clinic" {
		t.Fatalf("file values not applied: %+v %+v", cfg.Server, cfg.Feed)
	}
	if cfg.RedisFeed().Channel != "clinic" {
		t.Fatalf("redis feed channel = %q", cfg.RedisFeed().Channel)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:  ServerConfig{Env: "development"},
			Store:   StoreConfig{Backend: BackendMemory},
			Logging: LoggingConfig{Level: "info"},
			Tracing: TracingConfig{SamplingRate: 1},
		}
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown store", func(c *Config) { c.Store.Backend = "mongo" }, false},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, false},
		{"redis feed without addr", func(c *Config) { c.Feed.Backend = BackendRedis }, false},
		{"redis feed", func(c *Config) { c.Feed.Backend = BackendRedis; c.Redis.Addr = "localhost:6379" }, true},
		{"postgres feed without dsn", func(c *Config) { c.Feed.Backend = BackendPostgres }, false},
		{"unknown feed", func(c *Config) { c.Feed.Backend = "kafka" }, false},
		{"production without secret", func(c *Config) { c.Server.Env = "production" }, false},
		{"production with secret", func(c *Config) { c.Server.Env = "production"; c.Identity.Secret = "s3cret" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(&c)
			err := c.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

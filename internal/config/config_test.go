package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsServer())
	assert.False(t, cfg.RunsArchive())
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	cfg.Mode = "replay"
	cfg.LogLevel = "loud"
	cfg.Storage.Backend = "sqlite"
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{`unknown mode "replay"`, `unknown log_level "loud"`, `unknown backend "sqlite"`, "telegram_chat_id"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "redis_fanout_without_redis", mutate: func(c *Config) { c.Server.Fanout = "redis" }, wantErr: "fanout redis requires redis.enabled"},
		{name: "redis_fanout_with_redis", mutate: func(c *Config) { c.Server.Fanout = "redis"; c.Redis.Enabled = true }},
		{name: "lock_without_redis", mutate: func(c *Config) { c.Auction.DistributedLock = true }, wantErr: "distributed_lock requires redis.enabled"},
		{name: "warnings_inverted", mutate: func(c *Config) { c.Auction.WarningAt = 5 }, wantErr: "warning_at > final_warning_at"},
		{name: "zero_extension", mutate: func(c *Config) { c.Auction.Extension = 0 }, wantErr: "extension must be >= 1"},
		{name: "lifetime_below_default", mutate: func(c *Config) { c.Auction.MaxLifetime = duration{time.Minute} }, wantErr: "max_lifetime"},
		{name: "rate_window_missing", mutate: func(c *Config) { c.Server.BidRateWindow = duration{} }, wantErr: "bid_rate_window"},
		{name: "rate_limit_disabled", mutate: func(c *Config) { c.Server.BidRateLimit = 0; c.Server.BidRateWindow = duration{} }},
		{name: "archive_on_memory", mutate: func(c *Config) { c.Mode = "archive" }, wantErr: "archive mode needs backend postgres"},
		{name: "archive_on_postgres", mutate: func(c *Config) { c.Mode = "archive"; c.Storage.Backend = "postgres" }},
		{name: "archive_needs_bucket", mutate: func(c *Config) {
			c.Mode, c.Storage.Backend, c.S3.Bucket = "archive", "postgres", ""
		}, wantErr: "s3: bucket"},
		{name: "postgres_pool", mutate: func(c *Config) {
			c.Storage.Backend = "postgres"
			c.Postgres.PoolMinConns = 20
		}, wantErr: "pool_min_conns must not exceed"},
		{name: "postgres_dsn_skips_parts", mutate: func(c *Config) {
			c.Storage.Backend = "postgres"
			c.Postgres.DSN = "postgres://u:p@db/auctions"
			c.Postgres.Host = ""
		}},
		{name: "archive_mode_skips_server_checks", mutate: func(c *Config) {
			c.Mode, c.Storage.Backend = "archive", "postgres"
			c.Server.Port = 0
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auctiond.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"

[storage]
backend = "postgres"

[postgres]
host = "db.internal"

[auction]
tick_unit = "500ms"
max_lifetime = "6h"

[server]
port = 9090
admin_api_key = "from-file"

[archive]
enabled = true
cron = "*/30 * * * * *"
`), 0o600))

	t.Setenv("AUCTIOND_SERVER_ADMIN_API_KEY", "from-env")
	t.Setenv("AUCTIOND_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("AUCTIOND_AUCTION_EXTENSION", "45")
	t.Setenv("AUCTIOND_REDIS_ENABLED", "not-a-bool")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port, "defaults survive a partial file")
	assert.Equal(t, 500*time.Millisecond, cfg.Auction.TickUnit.Duration)
	assert.Equal(t, 6*time.Hour, cfg.Auction.MaxLifetime.Duration)
	assert.Equal(t, int64(45), cfg.Auction.Extension)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Server.AdminAPIKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Redis.Enabled, "unparsable values are ignored")
	assert.True(t, cfg.RunsArchive())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Server.AdminAPIKey = "key"
	cfg.S3.SecretKey = "secret"
	cfg.Notify.TelegramToken = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.AdminAPIKey)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Empty(t, out.Notify.TelegramToken, "empty secrets stay empty")
	assert.Equal(t, "pw", cfg.Postgres.Password, "original untouched")

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}

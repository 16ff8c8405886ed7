// Package config defines the top-level configuration for the auction server
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUCTIOND_* environment variables.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Auction  AuctionConfig  `toml:"auction"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; it backs
// cross-instance fan-out, the event journal, distributed locks and the bid
// rate limiter.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AuctionConfig holds the countdown and bidding rules. Cadences, warning
// thresholds and the anti-snipe window are counted in TickUnit.
type AuctionConfig struct {
	TickUnit            duration `toml:"tick_unit"`
	SlowCadence         int64    `toml:"slow_cadence"`
	FastCadence         int64    `toml:"fast_cadence"`
	WarningAt           int64    `toml:"warning_at"`
	FinalWarningAt      int64    `toml:"final_warning_at"`
	AntiSnipeWindow     int64    `toml:"anti_snipe_window"`
	Extension           int64    `toml:"extension"`
	MaxLifetime         duration `toml:"max_lifetime"`
	DefaultMinIncrement int64    `toml:"default_min_increment"`
	DefaultDuration     duration `toml:"default_duration"`
	ResolveAttempts     int      `toml:"resolve_attempts"`
	// DistributedLock guards each auction with a Redis lock in addition to
	// the in-process one, for several instances sharing one database.
	DistributedLock bool     `toml:"distributed_lock"`
	LockTTL         duration `toml:"lock_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminAPIKey guards open/stop/resolve. Empty leaves them open.
	AdminAPIKey     string   `toml:"admin_api_key"`
	BidRateLimit    int      `toml:"bid_rate_limit"`
	BidRateWindow   duration `toml:"bid_rate_window"`
	Fanout          string   `toml:"fanout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// ArchiveConfig controls the S3 archive job.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
	BatchSize     int    `toml:"batch_size"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "auctions",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "auction-archive",
			ForcePathStyle: true,
		},
		Auction: AuctionConfig{
			TickUnit:            duration{time.Second},
			SlowCadence:         5,
			FastCadence:         1,
			WarningAt:           30,
			FinalWarningAt:      10,
			AntiSnipeWindow:     30,
			Extension:           30,
			DefaultMinIncrement: 25000,
			DefaultDuration:     duration{180 * time.Minute},
			ResolveAttempts:     5,
			LockTTL:             duration{10 * time.Second},
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			BidRateLimit:    20,
			BidRateWindow:   duration{10 * time.Second},
			Fanout:          "local",
			ShutdownTimeout: duration{5 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 30,
			BatchSize:     100,
		},
		Notify: NotifyConfig{
			Events: []string{"auction_resolved", "resolution_failed"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsServer reports whether the mode serves the API and runs countdowns.
func (c *Config) RunsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// RunsArchive reports whether the mode runs the archive job.
func (c *Config) RunsArchive() bool {
	m := strings.ToLower(c.Mode)
	return m == "archive" || (m == "full" && c.Archive.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
		if strings.EqualFold(c.Mode, "archive") {
			errs = append(errs, "storage: archive mode needs backend postgres")
		}
	case "postgres":
		errs = append(errs, c.Postgres.validate()...)
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamMaxLen < 0 {
			errs = append(errs, "redis: stream_max_len must be >= 0")
		}
	}

	if c.RunsServer() {
		errs = append(errs, c.Auction.validate(c.Redis.Enabled)...)
		errs = append(errs, c.Server.validate(c.Redis.Enabled)...)
	}

	// Archive
	if c.RunsArchive() {
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
		if c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: batch_size must be >= 1")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (p PostgresConfig) validate() []string {
	var errs []string
	if strings.TrimSpace(p.DSN) == "" {
		if p.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if p.Port <= 0 || p.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", p.Port))
		}
		if p.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if p.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if p.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if p.PoolMinConns > p.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}
	return errs
}

func (a AuctionConfig) validate(redisEnabled bool) []string {
	var errs []string
	if a.TickUnit.Duration <= 0 {
		errs = append(errs, "auction: tick_unit must be > 0")
	}
	if a.SlowCadence < 1 || a.FastCadence < 1 {
		errs = append(errs, "auction: slow_cadence and fast_cadence must be >= 1")
	}
	if a.FinalWarningAt < 1 || a.WarningAt <= a.FinalWarningAt {
		errs = append(errs, fmt.Sprintf("auction: need warning_at > final_warning_at >= 1, got %d and %d", a.WarningAt, a.FinalWarningAt))
	}
	if a.AntiSnipeWindow < 0 {
		errs = append(errs, "auction: anti_snipe_window must be >= 0")
	}
	if a.Extension < 1 {
		errs = append(errs, "auction: extension must be >= 1")
	}
	if a.DefaultMinIncrement < 1 {
		errs = append(errs, "auction: default_min_increment must be >= 1")
	}
	if a.DefaultDuration.Duration <= 0 {
		errs = append(errs, "auction: default_duration must be > 0")
	}
	if a.MaxLifetime.Duration < 0 {
		errs = append(errs, "auction: max_lifetime must be >= 0")
	}
	if a.MaxLifetime.Duration > 0 && a.MaxLifetime.Duration < a.DefaultDuration.Duration {
		errs = append(errs, "auction: max_lifetime must not be shorter than default_duration")
	}
	if a.ResolveAttempts < 1 {
		errs = append(errs, "auction: resolve_attempts must be >= 1")
	}
	if a.DistributedLock {
		if !redisEnabled {
			errs = append(errs, "auction: distributed_lock requires redis.enabled")
		}
		if a.LockTTL.Duration <= 0 {
			errs = append(errs, "auction: lock_ttl must be > 0")
		}
	}
	return errs
}

func (s ServerConfig) validate(redisEnabled bool) []string {
	var errs []string
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", s.Port))
	}
	if s.BidRateLimit < 0 {
		errs = append(errs, "server: bid_rate_limit must be >= 0")
	}
	if s.BidRateLimit > 0 && s.BidRateWindow.Duration <= 0 {
		errs = append(errs, "server: bid_rate_window must be > 0 when bid_rate_limit is set")
	}
	switch s.Fanout {
	case "local":
	case "redis":
		if !redisEnabled {
			errs = append(errs, "server: fanout redis requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("server: unknown fanout %q (valid: local, redis)", s.Fanout))
	}
	if s.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "server: shutdown_timeout must be > 0")
	}
	return errs
}

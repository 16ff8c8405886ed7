package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AUCTIOND_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUCTIOND_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Backend, "AUCTIOND_STORAGE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AUCTIOND_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "AUCTIOND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUCTIOND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUCTIOND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUCTIOND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUCTIOND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUCTIOND_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AUCTIOND_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AUCTIOND_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AUCTIOND_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AUCTIOND_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AUCTIOND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTIOND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTIOND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUCTIOND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUCTIOND_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUCTIOND_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "AUCTIOND_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "AUCTIOND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AUCTIOND_S3_REGION")
	setStr(&cfg.S3.Bucket, "AUCTIOND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AUCTIOND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AUCTIOND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AUCTIOND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AUCTIOND_S3_FORCE_PATH_STYLE")

	// ── Auction ──
	setDuration(&cfg.Auction.TickUnit, "AUCTIOND_AUCTION_TICK_UNIT")
	setInt64(&cfg.Auction.AntiSnipeWindow, "AUCTIOND_AUCTION_ANTI_SNIPE_WINDOW")
	setInt64(&cfg.Auction.Extension, "AUCTIOND_AUCTION_EXTENSION")
	setDuration(&cfg.Auction.MaxLifetime, "AUCTIOND_AUCTION_MAX_LIFETIME")
	setInt64(&cfg.Auction.DefaultMinIncrement, "AUCTIOND_AUCTION_DEFAULT_MIN_INCREMENT")
	setDuration(&cfg.Auction.DefaultDuration, "AUCTIOND_AUCTION_DEFAULT_DURATION")
	setInt(&cfg.Auction.ResolveAttempts, "AUCTIOND_AUCTION_RESOLVE_ATTEMPTS")
	setBool(&cfg.Auction.DistributedLock, "AUCTIOND_AUCTION_DISTRIBUTED_LOCK")

	// ── Server ──
	setInt(&cfg.Server.Port, "AUCTIOND_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUCTIOND_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "AUCTIOND_SERVER_ADMIN_API_KEY")
	setInt(&cfg.Server.BidRateLimit, "AUCTIOND_SERVER_BID_RATE_LIMIT")
	setDuration(&cfg.Server.BidRateWindow, "AUCTIOND_SERVER_BID_RATE_WINDOW")
	setStr(&cfg.Server.Fanout, "AUCTIOND_SERVER_FANOUT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "AUCTIOND_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "AUCTIOND_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "AUCTIOND_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "AUCTIOND_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AUCTIOND_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AUCTIOND_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AUCTIOND_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "AUCTIOND_MODE")
	setStr(&cfg.LogLevel, "AUCTIOND_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

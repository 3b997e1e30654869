package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBGRAPH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBGRAPH_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
// Pairs and seed tokens are file-only.
func applyEnvOverrides(cfg *Config) {
	// ── Scanner ──
	setDuration(&cfg.Scanner.Interval, "ARBGRAPH_SCANNER_INTERVAL")
	setFloat64(&cfg.Scanner.MinProfitRatio, "ARBGRAPH_SCANNER_MIN_PROFIT_RATIO")
	setInt(&cfg.Scanner.MaxCyclesPerScan, "ARBGRAPH_SCANNER_MAX_CYCLES_PER_SCAN")
	setStringSlice(&cfg.Scanner.Venues, "ARBGRAPH_SCANNER_VENUES")
	setInt(&cfg.Scanner.IngestBuffer, "ARBGRAPH_SCANNER_INGEST_BUFFER")
	setDuration(&cfg.Scanner.DedupTTL, "ARBGRAPH_SCANNER_DEDUP_TTL")

	// ── Chain ──
	setBool(&cfg.Chain.Enabled, "ARBGRAPH_CHAIN_ENABLED")
	setStr(&cfg.Chain.RPCURL, "ARBGRAPH_CHAIN_RPC_URL")
	setInt(&cfg.Chain.ChainID, "ARBGRAPH_CHAIN_CHAIN_ID")
	setUint64(&cfg.Chain.StartBlock, "ARBGRAPH_CHAIN_START_BLOCK")

	// ── 1inch ──
	setStr(&cfg.OneInch.BaseURL, "ARBGRAPH_ONEINCH_BASE_URL")
	setInt(&cfg.OneInch.ChainID, "ARBGRAPH_ONEINCH_CHAIN_ID")
	setStr(&cfg.OneInch.APIKey, "ARBGRAPH_ONEINCH_API_KEY")

	// ── Seed ──
	setStringSlice(&cfg.Seed.Dexes, "ARBGRAPH_SEED_DEXES")
	setStr(&cfg.Seed.TokenDataPath, "ARBGRAPH_SEED_TOKEN_DATA_PATH")
	setStr(&cfg.Seed.RatesPath, "ARBGRAPH_SEED_RATES_PATH")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBGRAPH_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBGRAPH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "ARBGRAPH_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ARBGRAPH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBGRAPH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBGRAPH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBGRAPH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBGRAPH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBGRAPH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBGRAPH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBGRAPH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBGRAPH_POSTGRES_RUN_MIGRATIONS")
	setDuration(&cfg.Postgres.MirrorInterval, "ARBGRAPH_POSTGRES_MIRROR_INTERVAL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBGRAPH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBGRAPH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBGRAPH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBGRAPH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBGRAPH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBGRAPH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBGRAPH_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ARBGRAPH_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.RateTTL, "ARBGRAPH_REDIS_RATE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "ARBGRAPH_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBGRAPH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBGRAPH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBGRAPH_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBGRAPH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBGRAPH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBGRAPH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBGRAPH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBGRAPH_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "ARBGRAPH_S3_ARCHIVE_INTERVAL")
	setBool(&cfg.S3.RestoreOnStart, "ARBGRAPH_S3_RESTORE_ON_START")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBGRAPH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBGRAPH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBGRAPH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBGRAPH_SERVER_API_KEY")
	setInt(&cfg.Server.WriteLimit, "ARBGRAPH_SERVER_WRITE_LIMIT")
	setDuration(&cfg.Server.WriteLimitWindow, "ARBGRAPH_SERVER_WRITE_LIMIT_WINDOW")
	setBool(&cfg.Server.Metrics, "ARBGRAPH_SERVER_METRICS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBGRAPH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBGRAPH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBGRAPH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBGRAPH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBGRAPH_MODE")
	setStr(&cfg.LogLevel, "ARBGRAPH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

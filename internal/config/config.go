// Package config defines the top-level configuration for arbgraph and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBGRAPH_* environment variables.
type Config struct {
	Scanner  ScannerConfig  `toml:"scanner"`
	Chain    ChainConfig    `toml:"chain"`
	OneInch  OneInchConfig  `toml:"oneinch"`
	Seed     SeedConfig     `toml:"seed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ScannerConfig controls the opportunity feed.
type ScannerConfig struct {
	Interval         duration `toml:"interval"`
	MinProfitRatio   float64  `toml:"min_profit_ratio"`
	MaxCyclesPerScan int      `toml:"max_cycles_per_scan"`
	// Venues is an allow-list; empty accepts every venue.
	Venues       []string `toml:"venues"`
	IngestBuffer int      `toml:"ingest_buffer"`
	DedupTTL     duration `toml:"dedup_ttl"`
}

// ChainConfig holds the EVM node endpoint and the pairs to watch.
type ChainConfig struct {
	Enabled    bool         `toml:"enabled"`
	RPCURL     string       `toml:"rpc_url"`
	ChainID    int          `toml:"chain_id"`
	StartBlock uint64       `toml:"start_block"`
	Pairs      []PairConfig `toml:"pairs"`
}

// PairConfig is one watched pool. Zero decimals are filled from seeded
// asset metadata at startup.
type PairConfig struct {
	Address   string `toml:"address"`
	Token0    string `toml:"token0"`
	Token1    string `toml:"token1"`
	Decimals0 int32  `toml:"decimals0"`
	Decimals1 int32  `toml:"decimals1"`
	Venue     string `toml:"venue"`
}

// OneInchConfig holds the 1inch metadata API parameters.
type OneInchConfig struct {
	BaseURL string `toml:"base_url"`
	ChainID int    `toml:"chain_id"`
	APIKey  string `toml:"api_key"`
}

// SeedConfig lists the tokens and DEXes to seed and where seed files live.
type SeedConfig struct {
	Tokens        []TokenConfig `toml:"tokens"`
	Dexes         []string      `toml:"dexes"`
	TokenDataPath string        `toml:"token_data_path"`
	RatesPath     string        `toml:"rates_path"`
}

// TokenConfig maps a symbol to its contract address.
type TokenConfig struct {
	Symbol  string `toml:"symbol"`
	Address string `toml:"address"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled        bool     `toml:"enabled"`
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	RunMigrations  bool     `toml:"run_migrations"`
	MirrorInterval duration `toml:"mirror_interval"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	RateTTL      duration `toml:"rate_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
	RestoreOnStart  bool     `toml:"restore_on_start"`
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the mutating endpoints when set.
	APIKey string `toml:"api_key"`
	// Mutating requests per client IP per window; needs Redis.
	WriteLimit       int      `toml:"write_limit"`
	WriteLimitWindow duration `toml:"write_limit_window"`
	Metrics          bool     `toml:"metrics"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Scanner: ScannerConfig{
			Interval:         duration{10 * time.Second},
			MinProfitRatio:   1.0,
			MaxCyclesPerScan: 4,
			IngestBuffer:     1024,
			DedupTTL:         duration{time.Minute},
		},
		Chain: ChainConfig{
			ChainID: 1,
		},
		OneInch: OneInchConfig{
			BaseURL: "https://api.1inch.dev/token/v1.2",
			ChainID: 1,
		},
		Seed: SeedConfig{
			TokenDataPath: "data/token_data.json",
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "arbgraph",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			RunMigrations:  true,
			MirrorInterval: duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "arbgraph",
			RateTTL:      duration{10 * time.Minute},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "arbgraph-data",
			ForcePathStyle:  true,
			ArchiveInterval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			WriteLimit:       60,
			WriteLimitWindow: duration{time.Minute},
			Metrics:          true,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity_detected", "startup"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":    true,
	"seed":    true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, seed, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Scanner
	if c.Scanner.Interval.Duration <= 0 {
		errs = append(errs, "scanner: interval must be > 0")
	}
	if c.Scanner.MinProfitRatio < 1.0 {
		errs = append(errs, "scanner: min_profit_ratio must be >= 1.0")
	}
	if c.Scanner.MaxCyclesPerScan < 1 {
		errs = append(errs, "scanner: max_cycles_per_scan must be >= 1")
	}
	if c.Scanner.IngestBuffer < 0 {
		errs = append(errs, "scanner: ingest_buffer must be >= 0")
	}

	// Chain
	if c.Chain.Enabled {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url is required when enabled")
		}
		if len(c.Chain.Pairs) == 0 {
			errs = append(errs, "chain: at least one [[chain.pairs]] entry is required when enabled")
		}
		for i, p := range c.Chain.Pairs {
			if !common.IsHexAddress(p.Address) {
				errs = append(errs, fmt.Sprintf("chain: pairs[%d]: invalid address %q", i, p.Address))
			}
			if p.Token0 == "" || p.Token1 == "" || p.Venue == "" {
				errs = append(errs, fmt.Sprintf("chain: pairs[%d]: token0, token1 and venue are required", i))
			}
			if p.Decimals0 < 0 || p.Decimals1 < 0 {
				errs = append(errs, fmt.Sprintf("chain: pairs[%d]: decimals must be >= 0", i))
			}
		}
	}

	// Seed mode needs a metadata source and an output path.
	if mode == "seed" {
		if c.OneInch.BaseURL == "" {
			errs = append(errs, "oneinch: base_url is required for mode seed")
		}
		if c.Seed.TokenDataPath == "" {
			errs = append(errs, "seed: token_data_path is required for mode seed")
		}
	}
	for i, tok := range c.Seed.Tokens {
		if tok.Symbol == "" || !common.IsHexAddress(tok.Address) {
			errs = append(errs, fmt.Sprintf("seed: tokens[%d]: symbol and a hex address are required", i))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Postgres.MirrorInterval.Duration <= 0 {
			errs = append(errs, "postgres: mirror_interval must be > 0")
		}
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

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.WriteLimit < 0 {
			errs = append(errs, "server: write_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

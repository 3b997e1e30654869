package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "scan"

[scanner]
interval = "2s"
venues = ["uniswap", "sushiswap"]

[chain]
enabled = true
rpc_url = "wss://node.example/ws"
start_block = 19000000

[[chain.pairs]]
address = "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
token0 = "USDC"
token1 = "WETH"
decimals0 = 6
decimals1 = 18
venue = "uniswap"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "scan" {
		t.Fatalf("mode = %q", cfg.Mode)
	}
	if cfg.Scanner.Interval.Duration != 2*time.Second {
		t.Fatalf("interval = %v", cfg.Scanner.Interval)
	}
	if cfg.Scanner.MaxCyclesPerScan != 4 {
		t.Fatalf("default max_cycles_per_scan lost: %d", cfg.Scanner.MaxCyclesPerScan)
	}
	if len(cfg.Chain.Pairs) != 1 || cfg.Chain.Pairs[0].Decimals1 != 18 {
		t.Fatalf("pairs = %+v", cfg.Chain.Pairs)
	}
	if cfg.Chain.StartBlock != 19_000_000 {
		t.Fatalf("start_block = %d", cfg.Chain.StartBlock)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeTOML(t, `mode = "monitor"`)
	t.Setenv("ARBGRAPH_MODE", "full")
	t.Setenv("ARBGRAPH_SCANNER_INTERVAL", "750ms")
	t.Setenv("ARBGRAPH_SCANNER_VENUES", " uniswap , ,curve")
	t.Setenv("ARBGRAPH_REDIS_STREAM_MAX_LEN", "42")
	t.Setenv("ARBGRAPH_SERVER_PORT", "not-a-number")
	t.Setenv("ARBGRAPH_SERVER_METRICS", "false")
	t.Setenv("ARBGRAPH_SERVER_WRITE_LIMIT_WINDOW", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "full" {
		t.Fatalf("mode = %q", cfg.Mode)
	}
	if cfg.Scanner.Interval.Duration != 750*time.Millisecond {
		t.Fatalf("interval = %v", cfg.Scanner.Interval)
	}
	if got := strings.Join(cfg.Scanner.Venues, ","); got != "uniswap,curve" {
		t.Fatalf("venues = %q", got)
	}
	if cfg.Redis.StreamMaxLen != 42 {
		t.Fatalf("stream_max_len = %d", cfg.Redis.StreamMaxLen)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("unparsable env should keep default port, got %d", cfg.Server.Port)
	}
	if cfg.Server.Metrics || cfg.Server.WriteLimitWindow.Duration != 30*time.Second {
		t.Fatalf("server = %+v", cfg.Server)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Scanner.MinProfitRatio = 0.5
	cfg.Chain.Enabled = true
	cfg.Chain.Pairs = []PairConfig{{Address: "nothex", Token0: "A"}}
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		`unknown mode "trade"`,
		"min_profit_ratio",
		"chain: rpc_url",
		"pairs[0]: invalid address",
		"pairs[0]: token0, token1 and venue",
		"redis: addr",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateSkipsDisabledBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Host = ""
	cfg.S3.Bucket = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled backends should not be validated: %v", err)
	}
	cfg.Postgres.Enabled = true
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "postgres: host") {
		t.Fatalf("expected postgres host error, got %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.OneInch.APIKey = "key"
	cfg.Server.APIKey = "admin"
	cfg.Scanner.Venues = []string{"uniswap"}

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != redacted || out.OneInch.APIKey != redacted || out.Server.APIKey != redacted {
		t.Fatalf("secrets not redacted: %+v", out)
	}
	if out.S3.SecretKey != "" {
		t.Fatalf("empty secret should stay empty, got %q", out.S3.SecretKey)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Fatal("original config was modified")
	}
	out.Scanner.Venues[0] = "changed"
	if cfg.Scanner.Venues[0] != "uniswap" {
		t.Fatal("redacted copy shares slice with original")
	}
}

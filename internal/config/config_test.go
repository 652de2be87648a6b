package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketagg/internal/window"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"QUESTDB_HOST", "QUESTDB_PORT", "QUESTDB_ILP_CONF", "POSTGRES_DSN", "REDIS_ADDR", "REDIS_PASSWORD", "LOG_LEVEL", "STATUS_PORT"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Window != time.Second || cfg.ShutdownFlushTimeout != 5*time.Second {
		t.Fatalf("window %v shutdown %v", cfg.Window, cfg.ShutdownFlushTimeout)
	}
	if cfg.ILPConf() != "tcp::addr=localhost:9009;" {
		t.Fatalf("ilp conf %q", cfg.ILPConf())
	}
	if cfg.Retry.Initial != 5*time.Second || cfg.Retry.MaxAttempts != 0 {
		t.Fatalf("retry %+v", cfg.Retry)
	}
	if cfg.Stamp() != window.StampWallClock {
		t.Fatalf("stamp got %v", cfg.Stamp())
	}
	if cfg.Feed.BaseURL != "wss://fstream.binance.com" {
		t.Fatalf("base url %q", cfg.Feed.BaseURL)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, `
log_level: debug
window: 2s
display_utc_offset: "-03:30"
timestamps: instant
feed:
  base_url: ws://localhost:9443/
sink:
  host: qdb
  port: 9010
  postgres_ts_column: timestamp
retry:
  initial: 1s
  max: 30s
  multiplier: 2
  max_attempts: 10
universe:
  tickers: [btc, eth]
  quote: usdt
`)
	t.Setenv("QUESTDB_HOST", "questdb.internal")
	t.Setenv("STATUS_PORT", "8088")

	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" || cfg.Window != 2*time.Second || cfg.StatusPort != 8088 {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.ILPConf() != "tcp::addr=questdb.internal:9010;" {
		t.Fatalf("ilp conf %q", cfg.ILPConf())
	}
	if cfg.Feed.BaseURL != "ws://localhost:9443" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.Feed.BaseURL)
	}
	if cfg.Retry.Max != 30*time.Second || cfg.Retry.MaxAttempts != 10 {
		t.Fatalf("retry %+v", cfg.Retry)
	}
	if cfg.Sink.PostgresTSColumn != "timestamp" {
		t.Fatalf("ts column got %q", cfg.Sink.PostgresTSColumn)
	}
	if cfg.Stamp() != window.StampInstant {
		t.Fatalf("stamp got %v", cfg.Stamp())
	}
	if len(cfg.Universe.Tickers) != 2 {
		t.Fatalf("tickers %v", cfg.Universe.Tickers)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatal(err)
	}
	if _, off := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone(); off != -(3*3600 + 1800) {
		t.Fatalf("offset got %d", off)
	}
}

func TestILPConfOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUESTDB_ILP_CONF", "http::addr=qdb:9000;")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ILPConf() != "http::addr=qdb:9000;" {
		t.Fatalf("got %q", cfg.ILPConf())
	}
}

func TestDefaultLocationIsPlusSeven(t *testing.T) {
	cfg := defaults()
	loc, err := cfg.Location()
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).In(loc)
	if at.Hour() != 7 {
		t.Fatalf("hour got %d want 7", at.Hour())
	}
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"short window":   "window: 500ms\n",
		"bad offset":     "display_utc_offset: tomorrow\n",
		"bad url":        "feed:\n  base_url: https://fstream.binance.com\n",
		"bad port":       "sink:\n  port: 70000\n",
		"no quote":       "universe:\n  quote: \" \"\n",
		"negative tries": "retry:\n  max_attempts: -1\n",
		"no initial":     "retry:\n  initial: 0s\n",
		"bad timestamps": "timestamps: local\n",
		"bad ts column":  "sink:\n  postgres_ts_column: \"ts; drop\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			if _, err := Load(writeFile(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBadEnvPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUESTDB_PORT", "abc")
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

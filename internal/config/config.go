package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"marketagg/internal/symbols"
	"marketagg/internal/window"
)

type Config struct {
	LogLevel             string        `yaml:"log_level"`
	StatusPort           int           `yaml:"status_port"`
	Window               time.Duration `yaml:"window"`
	DisplayUTCOffset     string        `yaml:"display_utc_offset"`
	Timestamps           string        `yaml:"timestamps"` // wall_clock | instant
	ShutdownFlushTimeout time.Duration `yaml:"shutdown_flush_timeout"`

	Feed     FeedConfig     `yaml:"feed"`
	Retry    RetryConfig    `yaml:"retry"`
	Sink     SinkConfig     `yaml:"sink"`
	Universe UniverseConfig `yaml:"universe"`
}

type FeedConfig struct {
	BaseURL      string        `yaml:"base_url"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`
}

// RetryConfig controls the reconnect loop. MaxAttempts 0 means retry forever.
type RetryConfig struct {
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type SinkConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ILPConf      string        `yaml:"ilp_conf"` // full QuestDB client conf, overrides host/port
	WriteTimeout time.Duration `yaml:"write_timeout"`

	PostgresDSN      string `yaml:"postgres_dsn"`
	PostgresTSColumn string `yaml:"postgres_ts_column"` // "timestamp" for QuestDB PG-wire

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`
}

type UniverseConfig struct {
	Tickers  []string `yaml:"tickers"`
	Excluded []string `yaml:"excluded"`
	Quote    string   `yaml:"quote"`
}

func defaults() Config {
	return Config{
		LogLevel:             "info",
		StatusPort:           0,
		Window:               time.Second,
		DisplayUTCOffset:     "+07:00",
		Timestamps:           "wall_clock",
		ShutdownFlushTimeout: 5 * time.Second,
		Feed: FeedConfig{
			BaseURL:      "wss://fstream.binance.com",
			PingInterval: 20 * time.Second,
			PingTimeout:  10 * time.Second,
		},
		Retry: RetryConfig{
			Initial:    5 * time.Second,
			Max:        5 * time.Second,
			Multiplier: 1,
		},
		Sink: SinkConfig{
			Host:             "localhost",
			Port:             9009,
			WriteTimeout:     10 * time.Second,
			PostgresTSColumn: "ts",
			RedisTTL:         time.Minute,
		},
		Universe: UniverseConfig{
			Tickers:  append([]string(nil), symbols.DefaultTickers...),
			Excluded: append([]string(nil), symbols.DefaultExcluded...),
			Quote:    symbols.DefaultQuote,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config) error {
	if v := getEnv("QUESTDB_HOST"); v != "" {
		cfg.Sink.Host = v
	}
	if v := getEnv("QUESTDB_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QUESTDB_PORT: %w", err)
		}
		cfg.Sink.Port = p
	}
	if v := getEnv("QUESTDB_ILP_CONF"); v != "" {
		cfg.Sink.ILPConf = v
	}
	if v := getEnv("POSTGRES_DSN"); v != "" {
		cfg.Sink.PostgresDSN = v
	}
	if v := getEnv("REDIS_ADDR"); v != "" {
		cfg.Sink.RedisAddr = v
	}
	if v := getEnv("REDIS_PASSWORD"); v != "" {
		cfg.Sink.RedisPassword = v
	}
	if v := getEnv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getEnv("STATUS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STATUS_PORT: %w", err)
		}
		cfg.StatusPort = p
	}
	return nil
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c *Config) validate() error {
	if c.Window < time.Second {
		return errors.New("window must be >= 1s")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, ok := window.ParseStamp(c.Timestamps); !ok {
		return fmt.Errorf("timestamps %q: want wall_clock or instant", c.Timestamps)
	}
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return errors.New("invalid status_port")
	}
	if c.Sink.ILPConf == "" && (c.Sink.Port <= 0 || c.Sink.Port > 65535) {
		return errors.New("invalid sink port")
	}
	if c.Sink.WriteTimeout < 0 || c.ShutdownFlushTimeout < 0 {
		return errors.New("timeouts must be >= 0")
	}
	if c.Retry.Initial <= 0 {
		return errors.New("retry.initial must be > 0")
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = 1
	}
	if c.Retry.Max < c.Retry.Initial {
		c.Retry.Max = c.Retry.Initial
	}
	if c.Retry.MaxAttempts < 0 {
		return errors.New("retry.max_attempts must be >= 0")
	}
	if !strings.HasPrefix(c.Feed.BaseURL, "ws://") && !strings.HasPrefix(c.Feed.BaseURL, "wss://") {
		return errors.New(`feed.base_url must start with "ws://" or "wss://"`)
	}
	c.Feed.BaseURL = strings.TrimRight(c.Feed.BaseURL, "/")
	if !identRE.MatchString(c.Sink.PostgresTSColumn) {
		return fmt.Errorf("sink.postgres_ts_column %q is not a plain identifier", c.Sink.PostgresTSColumn)
	}
	if strings.TrimSpace(c.Universe.Quote) == "" {
		return errors.New("universe.quote required")
	}
	if len(c.Universe.Tickers) == 0 {
		return errors.New("universe.tickers must not be empty")
	}
	return nil
}

// Location returns the fixed zone windows are stamped in, parsed from an
// offset such as "+07:00" or "-03:30".
func (c *Config) Location() (*time.Location, error) {
	off := strings.TrimSpace(c.DisplayUTCOffset)
	if off == "" || off == "Z" {
		return time.UTC, nil
	}
	t, err := time.Parse("-07:00", off)
	if err != nil {
		return nil, fmt.Errorf("display_utc_offset %q: %w", off, err)
	}
	_, secs := t.Zone()
	return time.FixedZone("UTC"+off, secs), nil
}

// Stamp returns how window-close timestamps are written to the sinks.
func (c *Config) Stamp() window.Stamp {
	st, _ := window.ParseStamp(c.Timestamps)
	return st
}

// ILPConf returns the QuestDB client configuration string.
func (c *Config) ILPConf() string {
	if c.Sink.ILPConf != "" {
		return c.Sink.ILPConf
	}
	return fmt.Sprintf("tcp::addr=%s:%d;", c.Sink.Host, c.Sink.Port)
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

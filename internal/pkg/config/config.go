package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/sakhilchawla/audit-llm-decision/internal/storage/dialect"
)

// EnvPrefix is stripped from environment variables before they are mapped to
// keys; "__" separates key segments (AUDIT_SERVER__PORT -> server.port).
const EnvPrefix = "AUDIT_"

// DefaultFile is read when no --config flag is given. A missing file is fine.
const DefaultFile = "config.yaml"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Stdio      StdioConfig      `koanf:"stdio"`
	Validation ValidationConfig `koanf:"validation"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Log        LogConfig        `koanf:"log"`
}

type ServerConfig struct {
	Port           int             `koanf:"port"`
	RequestTimeout time.Duration   `koanf:"request_timeout"`
	CORS           CORSConfig      `koanf:"cors"`
	RateLimit      RateLimitConfig `koanf:"rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
	AllowedMethods []string `koanf:"allowed_methods"`
}

// RateLimitConfig allows RequestsPerWindow requests per client in each Window.
// Zero RequestsPerWindow disables limiting.
type RateLimitConfig struct {
	RequestsPerWindow int           `koanf:"requests_per_window"`
	Window            time.Duration `koanf:"window"`
}

type StorageConfig struct {
	Driver       string `koanf:"driver"` // sqlite, postgres, mysql, memory; empty means detect from DSN
	DSN          string `koanf:"dsn"`
	Schema       string `koanf:"schema"` // postgres schema / mysql database to create and select
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// StdioConfig tunes the JSON-RPC engine.
type StdioConfig struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	StaleAfter        time.Duration `koanf:"stale_after"`
	DrainTimeout      time.Duration `koanf:"drain_timeout"`
	MaxLineBytes      int           `koanf:"max_line_bytes"`
}

type ValidationConfig struct {
	EnforceConfidenceRange bool `koanf:"enforce_confidence_range"`
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

var defaults = map[string]any{
	"server.port":                           4000,
	"server.request_timeout":                "30s",
	"server.cors.allowed_origins":           []string{"*"},
	"server.cors.allowed_methods":           []string{"GET", "POST"},
	"server.rate_limit.requests_per_window": 100,
	"server.rate_limit.window":              "15m",
	"storage.dsn":                           "./data/audit.db",
	"storage.max_open_conns":                10,
	"stdio.heartbeat_interval":              "30s",
	"stdio.drain_timeout":                   "10s",
	"stdio.max_line_bytes":                  4 << 20,
	"validation.enforce_confidence_range":   false,
	"telemetry.enabled":                     false,
	"log.level":                             "info",
}

// Load reads DefaultFile (if present) and the environment.
func Load() (*Config, error) {
	return LoadFile(DefaultFile)
}

// LoadFile reads path (if present) and then environment variables, which
// override file values. Keys neither source sets get their defaults.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if !k.Exists("storage.dsn") {
		if dsn := legacyDatabaseURL(); dsn != "" {
			k.Set("storage.dsn", dsn)
		}
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Stdio.StaleAfter == 0 {
		cfg.Stdio.StaleAfter = 3 * cfg.Stdio.HeartbeatInterval
	}
	return &cfg, nil
}

// legacyDatabaseURL honours DATABASE_URL and the DB_HOST/DB_PORT/DB_NAME/
// DB_USER/DB_PASSWORD variables deployments already export.
func legacyDatabaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgresql",
		Host:   host + ":" + port,
		Path:   "/" + os.Getenv("DB_NAME"),
	}
	if user := os.Getenv("DB_USER"); user != "" {
		u.User = url.UserPassword(user, os.Getenv("DB_PASSWORD"))
	}
	return u.String()
}

// Resolve fills in Driver from the DSN when unset and normalizes the
// DSN for that driver.
func (c *StorageConfig) Resolve() {
	if c.Driver == "memory" {
		return
	}
	driver, dsn := dialect.DetectDriver(c.DSN)
	if c.Driver == "" {
		c.Driver = driver
	}
	c.DSN = dsn
}

// SlogLevel maps the configured level name to a slog.Level; unknown names are info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

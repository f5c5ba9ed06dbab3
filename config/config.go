// Package config loads service settings from defaults, an optional YAML file
// and LIBRARY_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBDriver string
	DBDSN    string

	HTTPAddr string
	LogLevel string

	DefaultLoanDays   int
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration

	DefaultPageSize int
	MaxPageSize     int
}

type configFile struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	HTTP struct {
		Addr            string `yaml:"addr"`
		DefaultPageSize int    `yaml:"default_page_size"`
		MaxPageSize     int    `yaml:"max_page_size"`
	} `yaml:"http"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Lending struct {
		DefaultLoanDays   int    `yaml:"default_loan_days"`
		ReconcileInterval string `yaml:"reconcile_interval"`
		ReconcileGrace    string `yaml:"reconcile_grace"`
	} `yaml:"lending"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		DBDriver:          "sqlite3",
		DBDSN:             "library.db",
		HTTPAddr:          ":8080",
		LogLevel:          "info",
		DefaultLoanDays:   14,
		ReconcileInterval: 10 * time.Minute,
		ReconcileGrace:    time.Minute,
		DefaultPageSize:   20,
		MaxPageSize:       100,
	}
}

// Load reads path (a missing file is fine, an empty path skips it) and then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.DBDriver = envOrDefault("LIBRARY_DB_DRIVER", cfg.DBDriver)
	cfg.DBDSN = envOrDefault("LIBRARY_DB_DSN", cfg.DBDSN)
	cfg.HTTPAddr = envOrDefault("LIBRARY_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = envOrDefault("LIBRARY_LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultLoanDays = envInt("LIBRARY_DEFAULT_LOAN_DAYS", cfg.DefaultLoanDays)
	cfg.ReconcileInterval = envDuration("LIBRARY_RECONCILE_INTERVAL", cfg.ReconcileInterval)
	cfg.ReconcileGrace = envDuration("LIBRARY_RECONCILE_GRACE", cfg.ReconcileGrace)
	cfg.DefaultPageSize = envInt("LIBRARY_PAGE_SIZE", cfg.DefaultPageSize)
	cfg.MaxPageSize = envInt("LIBRARY_MAX_PAGE_SIZE", cfg.MaxPageSize)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Database.Driver != "" {
		c.DBDriver = f.Database.Driver
	}
	if f.Database.DSN != "" {
		c.DBDSN = f.Database.DSN
	}
	if f.HTTP.Addr != "" {
		c.HTTPAddr = f.HTTP.Addr
	}
	if f.HTTP.DefaultPageSize > 0 {
		c.DefaultPageSize = f.HTTP.DefaultPageSize
	}
	if f.HTTP.MaxPageSize > 0 {
		c.MaxPageSize = f.HTTP.MaxPageSize
	}
	if f.Log.Level != "" {
		c.LogLevel = f.Log.Level
	}
	if f.Lending.DefaultLoanDays > 0 {
		c.DefaultLoanDays = f.Lending.DefaultLoanDays
	}
	if f.Lending.ReconcileInterval != "" {
		d, err := time.ParseDuration(f.Lending.ReconcileInterval)
		if err != nil {
			return fmt.Errorf("parse lending.reconcile_interval: %w", err)
		}
		c.ReconcileInterval = d
	}
	if f.Lending.ReconcileGrace != "" {
		d, err := time.ParseDuration(f.Lending.ReconcileGrace)
		if err != nil {
			return fmt.Errorf("parse lending.reconcile_grace: %w", err)
		}
		c.ReconcileGrace = d
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported database driver %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("missing database dsn")
	}
	if c.DefaultLoanDays <= 0 {
		return fmt.Errorf("default loan days must be positive, got %d", c.DefaultLoanDays)
	}
	if c.ReconcileInterval < 0 || c.ReconcileGrace < 0 {
		return errors.New("reconcile durations must not be negative")
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("invalid page sizes %d/%d", c.DefaultPageSize, c.MaxPageSize)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// LoanPeriod is DefaultLoanDays as a duration.
func (c Config) LoanPeriod() time.Duration {
	return time.Duration(c.DefaultLoanDays) * 24 * time.Hour
}

// Logger builds a JSON slog logger at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envDuration accepts Go durations ("90s", "5m") or plain seconds.
func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

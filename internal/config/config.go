package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/abhisek/drillsim/internal/store"
)

// Config holds all drillsim configuration.
type Config struct {
	// DBPath is the SQLite database file. Empty means store.DefaultDBPath.
	DBPath string `yaml:"db_path"`

	// CatalogDirs are extra directories of scenario YAML files loaded on top
	// of the embedded seed catalog.
	CatalogDirs []string `yaml:"catalog_dirs"`

	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Retry   RetryConfig   `yaml:"retry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TickInterval is how often expired attempts are swept. Default: 1s.
	TickInterval string `yaml:"tick_interval"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// RetryConfig configures retries of transient database write failures.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	InitialWait string `yaml:"initial_wait"`
	MaxWait     string `yaml:"max_wait"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8080",
			AllowedOrigins:  []string{"*"},
			TickInterval:    "1s",
			ShutdownTimeout: "10s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialWait: "50ms",
			MaxWait:     "1s",
		},
	}
}

// Load loads configuration from a YAML file and applies environment
// overrides. A missing file or empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// ConfigFromEnv builds a Config from environment variables, falling back
// to defaults for unset values.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("DRILLSIM_DB"); p != "" {
		c.DBPath = p
	}
	if d := os.Getenv("DRILLSIM_CATALOG"); d != "" {
		c.CatalogDirs = filepath.SplitList(d)
	}
	if l := os.Getenv("DRILLSIM_LISTEN"); l != "" {
		c.Server.Listen = l
	}
	if o := os.Getenv("DRILLSIM_ALLOWED_ORIGINS"); o != "" {
		c.Server.AllowedOrigins = splitComma(o)
	}
	if t := os.Getenv("DRILLSIM_TICK_INTERVAL"); t != "" {
		c.Server.TickInterval = t
	}
	if l := os.Getenv("DRILLSIM_LOG_LEVEL"); l != "" {
		c.Logging.Level = l
	}
	if d := os.Getenv("DRILLSIM_LOG_DEVELOPMENT"); d != "" {
		if v, err := strconv.ParseBool(d); err == nil {
			c.Logging.Development = v
		}
	}
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := store.EnsureDir(path); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ResolveDBPath returns DBPath, or the default location when unset.
func (c *Config) ResolveDBPath() (string, error) {
	if c.DBPath != "" {
		return c.DBPath, store.EnsureDir(c.DBPath)
	}
	return store.DefaultDBPath()
}

// GetTickInterval returns the sweep interval as a duration.
func (c *Config) GetTickInterval() time.Duration {
	return parseDurationOr(c.Server.TickInterval, time.Second)
}

// GetShutdownTimeout returns the graceful shutdown bound as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDurationOr(c.Server.ShutdownTimeout, 10*time.Second)
}

// GetLevel returns the parsed log level, defaulting to info.
func (c *Config) GetLevel() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// StoreRetry converts the retry settings for the store decorator.
func (c *Config) StoreRetry() store.RetryConfig {
	def := store.DefaultRetryConfig()
	return store.RetryConfig{
		MaxAttempts: c.Retry.MaxAttempts,
		InitialWait: parseDurationOr(c.Retry.InitialWait, def.InitialWait),
		MaxWait:     parseDurationOr(c.Retry.MaxWait, def.MaxWait),
		Multiplier:  def.Multiplier,
	}
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	for name, v := range map[string]string{
		"server.tick_interval":    c.Server.TickInterval,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"retry.initial_wait":      c.Retry.InitialWait,
		"retry.max_wait":          c.Retry.MaxWait,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, v))
		}
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	return errors.Join(errs...)
}

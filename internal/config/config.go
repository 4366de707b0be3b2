package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig addresses the ops HTTP server (health and metrics).
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	AdminCIDRs     []string `yaml:"admin_cidrs"` // empty means loopback only
	EnablePprof    bool     `yaml:"enable_pprof"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

type JobsConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
	SweepDelay   time.Duration `yaml:"sweep_delay"` // hold-off before a resolution sweep is claimable
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogLevel parses Logging.Level, falling back to info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if c == nil || strings.TrimSpace(c.Logging.Level) == "" {
		return slog.LevelInfo
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Logging.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (c *Config) ValidateServe() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn must be configured")
	}
	if c.Jobs.Workers < 0 {
		return fmt.Errorf("jobs.workers must not be negative")
	}
	if c.Jobs.MaxAttempts <= 0 {
		return fmt.Errorf("jobs.max_attempts must be positive")
	}
	if c.Jobs.SweepDelay < 0 {
		return fmt.Errorf("jobs.sweep_delay must not be negative")
	}
	return nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "gotrack.db",
		},
		Jobs: JobsConfig{
			Workers:      2,
			PollInterval: 250 * time.Millisecond,
			RetryDelay:   5 * time.Second,
			MaxAttempts:  3,
			SweepDelay:   2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GOTRACK_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("GOTRACK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("GOTRACK_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("GOTRACK_ADMIN_CIDRS"); v != "" {
		cfg.Server.AdminCIDRs = splitList(v)
	}
	if v := os.Getenv("GOTRACK_ENABLE_PPROF"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Server.EnablePprof = b
		}
	}
	if v := os.Getenv("GOTRACK_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("GOTRACK_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("GOTRACK_JOB_WORKERS"); v != "" {
		if value, err := strconv.Atoi(v); err == nil && value >= 0 {
			cfg.Jobs.Workers = value
		}
	}
	if v := os.Getenv("GOTRACK_JOB_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Jobs.PollInterval = d
		}
	}
	if v := os.Getenv("GOTRACK_JOB_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Jobs.RetryDelay = d
		}
	}
	if v := os.Getenv("GOTRACK_JOB_MAX_ATTEMPTS"); v != "" {
		if value, err := strconv.Atoi(v); err == nil && value > 0 {
			cfg.Jobs.MaxAttempts = value
		}
	}
	if v := os.Getenv("GOTRACK_JOB_SWEEP_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Jobs.SweepDelay = d
		}
	}
	if v := os.Getenv("GOTRACK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.TrimSpace(v)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

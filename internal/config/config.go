// Package config loads server settings from an optional .env file, an
// optional YAML file and FAMCAL_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DBPath      string `yaml:"db_path"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	BaseURL     string `yaml:"base_url"`
	MaxPageSize int    `yaml:"max_page_size"`

	// RateLimit is the number of mutations a requester may make per RateWindow.
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`

	AuditBuffer    int           `yaml:"audit_buffer"`
	AuditRetention time.Duration `yaml:"audit_retention"`

	// MaintenanceCron schedules rate limiter cleanup, audit pruning and the
	// expired token sweep.
	MaintenanceCron string `yaml:"maintenance_cron"`
}

func Default() *Config {
	return &Config{
		Port:            "8080",
		DBPath:          "famcal.db",
		LogLevel:        "info",
		LogFormat:       "text",
		MaxPageSize:     100,
		RateLimit:       60,
		RateWindow:      time.Minute,
		AuditBuffer:     256,
		AuditRetention:  90 * 24 * time.Hour,
		MaintenanceCron: "@hourly",
	}
}

// Load builds the configuration. envFile and the file named by FAMCAL_CONFIG
// are both optional; a missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if path := os.Getenv("FAMCAL_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", key, v)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a duration", key, v)
		}
		*dst = d
		return nil
	}

	str("FAMCAL_PORT", &c.Port)
	str("FAMCAL_DB_PATH", &c.DBPath)
	str("FAMCAL_LOG_LEVEL", &c.LogLevel)
	str("FAMCAL_LOG_FORMAT", &c.LogFormat)
	str("FAMCAL_BASE_URL", &c.BaseURL)
	str("FAMCAL_MAINTENANCE_CRON", &c.MaintenanceCron)

	return errors.Join(
		num("FAMCAL_MAX_PAGE_SIZE", &c.MaxPageSize),
		num("FAMCAL_RATE_LIMIT", &c.RateLimit),
		dur("FAMCAL_RATE_WINDOW", &c.RateWindow),
		num("FAMCAL_AUDIT_BUFFER", &c.AuditBuffer),
		dur("FAMCAL_AUDIT_RETENTION", &c.AuditRetention),
	)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("port %q is invalid", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json", "tint":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text, json or tint", c.LogFormat))
	}
	if c.MaxPageSize < 1 {
		errs = append(errs, errors.New("max_page_size must be positive"))
	}
	if c.RateLimit < 1 {
		errs = append(errs, errors.New("rate_limit must be positive"))
	}
	if c.RateWindow <= 0 {
		errs = append(errs, errors.New("rate_window must be positive"))
	}
	if c.AuditBuffer < 1 {
		errs = append(errs, errors.New("audit_buffer must be positive"))
	}
	if c.AuditRetention < time.Hour {
		errs = append(errs, errors.New("audit_retention must be at least 1h"))
	}
	if c.MaintenanceCron == "" {
		errs = append(errs, errors.New("maintenance_cron is required"))
	}
	return errors.Join(errs...)
}

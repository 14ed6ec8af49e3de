// Package config loads the synchronizer settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/foundry/internal/logging"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "FOUNDRY_"

// Config holds every tunable of the CLI and the servers.
type Config struct {
	BackendURL         string        `yaml:"backend_url" env:"BACKEND_URL"`
	RequestTimeout     time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	FailOnCommandError bool          `yaml:"fail_on_command_error" env:"FAIL_ON_COMMAND_ERROR"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	Listen  string `yaml:"listen" env:"LISTEN"`
	Metrics bool   `yaml:"metrics" env:"METRICS"`

	RedisURL    string        `yaml:"redis_url" env:"REDIS_URL"`
	RedisPrefix string        `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env:"SNAPSHOT_TTL"`
	LockTTL     time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	// RedactKeys are regexps; matching payload keys are masked before snapshots reach redis.
	RedactKeys []string `yaml:"redact_keys" env:"REDACT_KEYS" envSeparator:","`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BackendURL:     "http://127.0.0.1:8000",
		RequestTimeout: 5 * time.Minute,
		LogLevel:       "info",
		LogFormat:      "text",
		Listen:         ":8080",
		RedisPrefix:    "foundry:",
		SnapshotTTL:    10 * time.Minute,
		LockTTL:        30 * time.Second,
	}
}

// Load applies, in order, the defaults, the YAML file at path (skipped when empty)
// and FOUNDRY_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend_url %q is not an absolute URL", c.BackendURL))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request_timeout must not be negative"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	for _, p := range c.RedactKeys {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("redact_keys: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Logger builds the application logger described by the config.
func (c Config) Logger() *slog.Logger {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.NewWithFormat(os.Stderr, level, c.LogFormat)
}

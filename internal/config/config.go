// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration. Values come from, in rising
// precedence: built-in defaults, an optional TOML file, environment
// variables.
type Config struct {
	Port        string `toml:"port"`
	StreamPath  string `toml:"stream_path"`
	MessagePath string `toml:"message_path"`

	// SessionIdleTimeout evicts sessions whose client stopped posting.
	SessionIdleTimeout Duration `toml:"session_idle_timeout"`

	// MaxSubmissionLength caps check_work submissions in bytes.
	MaxSubmissionLength int `toml:"max_submission_length"`

	LogLevel string `toml:"log_level"`
}

// Duration wraps time.Duration so TOML files can say "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Port:                "8080",
		StreamPath:          "/sse",
		MessagePath:         "/message",
		SessionIdleTimeout:  Duration{5 * time.Minute},
		MaxSubmissionLength: 5000,
		LogLevel:            "info",
	}
}

// Load builds the configuration. A missing file at path is not an error;
// any other read or parse failure is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.StreamPath = getEnv("STREAM_PATH", cfg.StreamPath)
	cfg.MessagePath = getEnv("MESSAGE_PATH", cfg.MessagePath)
	cfg.SessionIdleTimeout = Duration{getEnvDuration("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout.Duration)}
	cfg.MaxSubmissionLength = getEnvInt("MAX_SUBMISSION_LENGTH", cfg.MaxSubmissionLength)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all configuration fields hold usable values.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if !strings.HasPrefix(c.StreamPath, "/") {
		return fmt.Errorf("stream_path must start with /")
	}
	if !strings.HasPrefix(c.MessagePath, "/") {
		return fmt.Errorf("message_path must start with /")
	}
	if c.StreamPath == c.MessagePath {
		return fmt.Errorf("stream_path and message_path must differ")
	}
	if c.SessionIdleTimeout.Duration <= 0 {
		return fmt.Errorf("session_idle_timeout must be > 0")
	}
	if c.MaxSubmissionLength <= 0 {
		return fmt.Errorf("max_submission_length must be > 0")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps the configured log level name onto slog's levels.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

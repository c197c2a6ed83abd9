package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          int
	HTTPAddr      string // empty disables the HTTP side
	MaxSessions   int
	HistoryLimit  int
	DBPath        string
	DatabaseURL   string // when set, PostgreSQL is used instead of SQLite
	PasswordHash  string // "bcrypt" or "plain"
	WriteTimeout  time.Duration
	MaxFrameBytes int // largest inbound frame; bigger ones close the session
	SeedDemoUsers bool
	ControlSocket string // empty disables the control socket
	LogLevel      slog.Level
}

func Default() *Config {
	return &Config{
		Port:          8888,
		HTTPAddr:      ":8889",
		MaxSessions:   50,
		HistoryLimit:  200,
		DBPath:        "chat.db",
		PasswordHash:  "bcrypt",
		WriteTimeout:  30 * time.Second,
		MaxFrameBytes: 64 * 1024,
		ControlSocket: "/tmp/chatd.sock",
		LogLevel:      slog.LevelInfo,
	}
}

// Load reads an optional .env file and then the CHAT_* environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a configuration from lookup, falling back to defaults.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	var errs []error

	getInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	getString := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	getInt("CHAT_PORT", &cfg.Port)
	getString("CHAT_HTTP_ADDR", &cfg.HTTPAddr)
	getInt("CHAT_MAX_SESSIONS", &cfg.MaxSessions)
	getInt("CHAT_HISTORY_LIMIT", &cfg.HistoryLimit)
	getInt("CHAT_MAX_FRAME_BYTES", &cfg.MaxFrameBytes)
	getString("CHAT_DB_PATH", &cfg.DBPath)
	getString("CHAT_DATABASE_URL", &cfg.DatabaseURL)
	getString("CHAT_PASSWORD_HASH", &cfg.PasswordHash)
	getString("CHAT_CONTROL_SOCKET", &cfg.ControlSocket)

	if v, ok := lookup("CHAT_WRITE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("CHAT_WRITE_TIMEOUT: invalid duration %q", v))
		} else {
			cfg.WriteTimeout = d
		}
	}

	if v, ok := lookup("CHAT_SEED_DEMO_USERS"); ok && v != "" {
		b, err := parseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHAT_SEED_DEMO_USERS: %w", err))
		} else {
			cfg.SeedDemoUsers = b
		}
	}

	if v, ok := lookup("CHAT_LOG_LEVEL"); ok && v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
			errs = append(errs, fmt.Errorf("CHAT_LOG_LEVEL: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("CHAT_PORT out of range: %d", c.Port)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("CHAT_MAX_SESSIONS must be > 0")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("CHAT_HISTORY_LIMIT must be >= 0")
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("CHAT_MAX_FRAME_BYTES must be > 0")
	}
	if c.DatabaseURL == "" && c.DBPath == "" {
		return fmt.Errorf("one of CHAT_DB_PATH or CHAT_DATABASE_URL is required")
	}
	switch c.PasswordHash {
	case "bcrypt", "plain":
	default:
		return fmt.Errorf("CHAT_PASSWORD_HASH must be bcrypt or plain, got %q", c.PasswordHash)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("CHAT_WRITE_TIMEOUT must be >= 0")
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

// Package config loads relay settings from defaults, an optional .env file,
// the environment and the command line, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultListenAddr   = "0.0.0.0:11550"
	DefaultMaxSessions  = 50
	DefaultCallTimeout  = 30 * time.Second
	DefaultPingInterval = 15 * time.Second
	DefaultReadLimit    = 1 << 20
)

type Config struct {
	ListenAddr   string
	MaxSessions  int
	CallTimeout  time.Duration
	PingInterval time.Duration
	ReadLimit    int64
	LogLevel     string
	LogDev       bool
}

func Default() Config {
	return Config{
		ListenAddr:   DefaultListenAddr,
		MaxSessions:  DefaultMaxSessions,
		CallTimeout:  DefaultCallTimeout,
		PingInterval: DefaultPingInterval,
		ReadLimit:    DefaultReadLimit,
		LogLevel:     "info",
	}
}

// Load builds the configuration. args are the command-line arguments after
// the program name; the only one accepted is the listen address.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv, args)
}

// FromEnv applies getenv and args on top of the defaults.
func FromEnv(getenv func(string) string, args []string) (Config, error) {
	cfg := Default()
	var err error

	if v := getenv("RELAY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("RELAY_MAX_SESSIONS"); v != "" {
		if cfg.MaxSessions, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("RELAY_MAX_SESSIONS: %w", err)
		}
	}
	if v := getenv("RELAY_CALL_TIMEOUT"); v != "" {
		if cfg.CallTimeout, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("RELAY_CALL_TIMEOUT: %w", err)
		}
	}
	if v := getenv("RELAY_PING_INTERVAL"); v != "" {
		if cfg.PingInterval, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("RELAY_PING_INTERVAL: %w", err)
		}
	}
	if v := getenv("RELAY_READ_LIMIT"); v != "" {
		if cfg.ReadLimit, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Config{}, fmt.Errorf("RELAY_READ_LIMIT: %w", err)
		}
	}
	if v := getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("RELAY_LOG_DEV"); v != "" {
		if cfg.LogDev, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("RELAY_LOG_DEV: %w", err)
		}
	}

	switch len(args) {
	case 0:
	case 1:
		cfg.ListenAddr = args[0]
	default:
		return Config{}, fmt.Errorf("expected at most one argument (listen address), got %d", len(args))
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return errors.New("listen address is empty")
	case c.MaxSessions <= 0:
		return fmt.Errorf("max sessions must be positive, got %d", c.MaxSessions)
	case c.CallTimeout <= 0:
		return fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout)
	case c.PingInterval < 0:
		return fmt.Errorf("ping interval must not be negative, got %s", c.PingInterval)
	case c.ReadLimit <= 0:
		return fmt.Errorf("read limit must be positive, got %d", c.ReadLimit)
	}
	return nil
}

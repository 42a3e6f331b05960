// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads keyauth settings from defaults, an optional YAML file,
// KEYAUTH_* environment variables and command-line flags, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/keyauth/internal/auth"
	"github.com/holomush/keyauth/internal/auth/events"
	"github.com/holomush/keyauth/internal/logging"
)

// EnvPrefix is stripped from environment variables. A double underscore
// separates nesting levels: KEYAUTH_SESSIONS__TTL sets sessions.ttl.
const EnvPrefix = "KEYAUTH_"

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Default values.
const (
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultLogFormat   = "json"
	DefaultLogLevel    = "info"
)

// Config is the full keyauth configuration.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Challenges ChallengesConfig `koanf:"challenges"`
	Sessions   SessionsConfig   `koanf:"sessions"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Log        LogConfig        `koanf:"log"`
	Events     EventsConfig     `koanf:"events"`
}

// DatabaseConfig locates PostgreSQL.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// RedisConfig locates Redis. Only needed by the redis backends.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// ChallengesConfig controls challenge storage and lifetime.
type ChallengesConfig struct {
	Backend       string        `koanf:"backend"`
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// SessionsConfig controls session lifetime and expired-row cleanup.
type SessionsConfig struct {
	TTL             time.Duration `koanf:"ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// MetricsConfig is the observability listener. An empty address disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// EventsConfig selects where session lifecycle events go.
type EventsConfig struct {
	Backend string `koanf:"backend"`
	Topic   string `koanf:"topic"`
}

// defaults are loaded before any other source.
func defaults() map[string]any {
	return map[string]any{
		"database.auto_migrate":     false,
		"challenges.backend":        BackendMemory,
		"challenges.ttl":            auth.ChallengeTTL.String(),
		"challenges.sweep_interval": auth.DefaultChallengeSweepInterval.String(),
		"sessions.ttl":              auth.SessionTTL.String(),
		"sessions.cleanup_interval": auth.DefaultSessionCleanupInterval.String(),
		"metrics.addr":              DefaultMetricsAddr,
		"log.format":                DefaultLogFormat,
		"log.level":                 DefaultLogLevel,
		"events.backend":            BackendNone,
		"events.topic":              events.DefaultTopic,
	}
}

// flagKeys maps command-line flag names to config keys. Flags not listed
// here are not configuration (for example --config itself).
var flagKeys = map[string]string{
	"database-url":  "database.url",
	"auto-migrate":  "database.auto_migrate",
	"redis-url":     "redis.url",
	"challenges":    "challenges.backend",
	"challenge-ttl": "challenges.ttl",
	"session-ttl":   "sessions.ttl",
	"metrics-addr":  "metrics.addr",
	"log-format":    "log.format",
	"log-level":     "log.level",
	"events":        "events.backend",
	"events-topic":  "events.topic",
}

// Load builds a Config. An empty path falls back to DefaultFile when it
// exists. flags may be nil; only flags the user set override earlier sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if path = resolvePath(path); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	// DATABASE_URL is honored for compatibility with the rest of the stack.
	if url := os.Getenv("DATABASE_URL"); url != "" {
		if err := k.Set("database.url", url); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", "database.url").Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// RequiresRedis reports whether any configured backend talks to Redis.
func (c *Config) RequiresRedis() bool {
	return c.Challenges.Backend == BackendRedis || c.Events.Backend == BackendRedis
}

// Validate checks that the configuration is usable by serve.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Challenges.Backend != BackendMemory && c.Challenges.Backend != BackendRedis {
		return fmt.Errorf("challenges.backend must be 'memory' or 'redis', got %q", c.Challenges.Backend)
	}
	if c.Events.Backend != BackendNone && c.Events.Backend != BackendRedis {
		return fmt.Errorf("events.backend must be 'none' or 'redis', got %q", c.Events.Backend)
	}
	if c.RequiresRedis() && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when a redis backend is selected")
	}
	if c.Events.Backend == BackendRedis && c.Events.Topic == "" {
		return fmt.Errorf("events.topic is required when events.backend is 'redis'")
	}
	if c.Challenges.TTL <= 0 {
		return fmt.Errorf("challenges.ttl must be positive, got %s", c.Challenges.TTL)
	}
	if c.Challenges.SweepInterval <= 0 {
		return fmt.Errorf("challenges.sweep_interval must be positive, got %s", c.Challenges.SweepInterval)
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive, got %s", c.Sessions.TTL)
	}
	if c.Sessions.CleanupInterval <= 0 {
		return fmt.Errorf("sessions.cleanup_interval must be positive, got %s", c.Sessions.CleanupInterval)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

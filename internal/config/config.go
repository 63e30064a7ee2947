// Package config provides application configuration for questflow binaries.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/petrijr/questflow/pkg/api"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config holds all application configuration.
type Config struct {
	Storage  StorageConfig
	Session  SessionConfig
	Preset   string // navigation preset name
	LogLevel slog.Level
	Debug    bool
	Features []string
}

// StorageConfig selects and locates the durable medium.
type StorageConfig struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string
	QuotaBytes    int
}

// SessionConfig tunes the session store.
type SessionConfig struct {
	KeyPrefix        string
	AutoSaveInterval time.Duration
	StaleAfter       time.Duration
	EvictOlderThan   time.Duration // 0 evicts every other session
	SaveAttempts     int
}

// Load reads configuration from QUESTFLOW_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("QUESTFLOW_STORAGE", BackendSQLite)),
			SQLitePath:    getEnv("QUESTFLOW_SQLITE_PATH", "./data/questflow.db"),
			RedisAddr:     getEnv("QUESTFLOW_REDIS_ADDR", "localhost:6379"),
			PostgresDSN:   getEnv("QUESTFLOW_POSTGRES_DSN", ""),
			MongoURI:      getEnv("QUESTFLOW_MONGO_URI", ""),
			MongoDatabase: getEnv("QUESTFLOW_MONGO_DATABASE", "questflow"),
			QuotaBytes:    getEnvInt("QUESTFLOW_QUOTA_BYTES", 0),
		},
		Session: SessionConfig{
			KeyPrefix:        getEnv("QUESTFLOW_KEY_PREFIX", "health-session-"),
			AutoSaveInterval: getEnvDuration("QUESTFLOW_AUTOSAVE_INTERVAL", 15*time.Second),
			StaleAfter:       getEnvDuration("QUESTFLOW_STALE_AFTER", 30*24*time.Hour),
			EvictOlderThan:   getEnvDuration("QUESTFLOW_EVICT_OLDER_THAN", 0),
			SaveAttempts:     getEnvInt("QUESTFLOW_SAVE_ATTEMPTS", 1),
		},
		Preset:   getEnv("QUESTFLOW_NAV_PRESET", api.PresetHealth),
		LogLevel: parseLevel(getEnv("QUESTFLOW_LOG_LEVEL", "info")),
		Debug:    getEnvBool("QUESTFLOW_DEBUG", false),
		Features: getEnvList("QUESTFLOW_FEATURES"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("QUESTFLOW_SQLITE_PATH cannot be empty")
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("QUESTFLOW_REDIS_ADDR cannot be empty")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("QUESTFLOW_POSTGRES_DSN cannot be empty")
		}
	case BackendMongo:
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("QUESTFLOW_MONGO_URI cannot be empty")
		}
		if c.Storage.MongoDatabase == "" {
			return fmt.Errorf("QUESTFLOW_MONGO_DATABASE cannot be empty")
		}
	default:
		return fmt.Errorf("unknown QUESTFLOW_STORAGE %q", c.Storage.Backend)
	}
	if c.Storage.QuotaBytes < 0 {
		return fmt.Errorf("QUESTFLOW_QUOTA_BYTES must be >= 0")
	}
	if c.Session.KeyPrefix == "" {
		return fmt.Errorf("QUESTFLOW_KEY_PREFIX cannot be empty")
	}
	if c.Session.AutoSaveInterval <= 0 {
		return fmt.Errorf("QUESTFLOW_AUTOSAVE_INTERVAL must be > 0")
	}
	if c.Session.StaleAfter <= 0 {
		return fmt.Errorf("QUESTFLOW_STALE_AFTER must be > 0")
	}
	if c.Session.EvictOlderThan < 0 {
		return fmt.Errorf("QUESTFLOW_EVICT_OLDER_THAN must be >= 0")
	}
	if c.Session.SaveAttempts <= 0 {
		return fmt.Errorf("QUESTFLOW_SAVE_ATTEMPTS must be > 0")
	}
	if _, err := api.Preset(c.Preset); err != nil {
		return fmt.Errorf("QUESTFLOW_NAV_PRESET: %w", err)
	}
	return nil
}

// Navigation returns the configured navigation preset.
func (c *Config) Navigation() api.NavigationConfig {
	return api.MustPreset(c.Preset)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/questflow/pkg/api"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, BackendSQLite, cfg.Storage.Backend)
	require.Equal(t, "health-session-", cfg.Session.KeyPrefix)
	require.Equal(t, 15*time.Second, cfg.Session.AutoSaveInterval)
	require.Equal(t, 30*24*time.Hour, cfg.Session.StaleAfter)
	require.Equal(t, 1, cfg.Session.SaveAttempts)
	require.Equal(t, api.PresetHealth, cfg.Preset)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Empty(t, cfg.Features)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("QUESTFLOW_STORAGE", "Redis")
	t.Setenv("QUESTFLOW_REDIS_ADDR", "cache:6379")
	t.Setenv("QUESTFLOW_AUTOSAVE_INTERVAL", "5s")
	t.Setenv("QUESTFLOW_EVICT_OLDER_THAN", "168h")
	t.Setenv("QUESTFLOW_NAV_PRESET", "clinical")
	t.Setenv("QUESTFLOW_LOG_LEVEL", "debug")
	t.Setenv("QUESTFLOW_DEBUG", "yes")
	t.Setenv("QUESTFLOW_FEATURES", "voice, ,large-text")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, BackendRedis, cfg.Storage.Backend)
	require.Equal(t, "cache:6379", cfg.Storage.RedisAddr)
	require.Equal(t, 5*time.Second, cfg.Session.AutoSaveInterval)
	require.Equal(t, 7*24*time.Hour, cfg.Session.EvictOlderThan)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.True(t, cfg.Debug)
	require.Equal(t, []string{"voice", "large-text"}, cfg.Features)
	require.Equal(t, api.MustPreset(api.PresetClinical), cfg.Navigation())
}

func TestLoad_BadValuesFallBackOrFail(t *testing.T) {
	t.Setenv("QUESTFLOW_AUTOSAVE_INTERVAL", "soon")
	t.Setenv("QUESTFLOW_LOG_LEVEL", "loud")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, cfg.Session.AutoSaveInterval)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Storage: StorageConfig{Backend: BackendMemory},
			Session: SessionConfig{
				KeyPrefix:        "p-",
				AutoSaveInterval: time.Second,
				StaleAfter:       time.Hour,
				SaveAttempts:     1,
			},
			Preset: api.PresetStandard,
		}
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(c *Config){
		"unknown backend":    func(c *Config) { c.Storage.Backend = "s3" },
		"postgres needs dsn": func(c *Config) { c.Storage.Backend = BackendPostgres },
		"mongo needs uri":    func(c *Config) { c.Storage.Backend = BackendMongo },
		"sqlite needs path":  func(c *Config) { c.Storage.Backend = BackendSQLite },
		"negative quota":     func(c *Config) { c.Storage.QuotaBytes = -1 },
		"empty prefix":       func(c *Config) { c.Session.KeyPrefix = "" },
		"zero interval":      func(c *Config) { c.Session.AutoSaveInterval = 0 },
		"zero staleness":     func(c *Config) { c.Session.StaleAfter = 0 },
		"zero attempts":      func(c *Config) { c.Session.SaveAttempts = 0 },
		"unknown preset":     func(c *Config) { c.Preset = "turbo" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			require.Error(t, c.Validate())
		})
	}
}

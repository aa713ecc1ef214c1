package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Provider.Host = "news.example.com"
	cfg.Provider.Username = "user"
	cfg.Provider.Password = "secret"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		errContains string
	}{
		{name: "defaults without host are valid", mutate: func(c *Config) { c.Provider.Host = "" }},
		{name: "complete provider", mutate: func(c *Config) {}},
		{
			name:        "zero connections",
			mutate:      func(c *Config) { c.Provider.MaxConnections = 0 },
			errContains: "max_connections",
		},
		{
			name:        "port out of range",
			mutate:      func(c *Config) { c.Provider.Port = 70000 },
			errContains: "port",
		},
		{
			name:        "http proxy rejected",
			mutate:      func(c *Config) { c.Provider.ProxyURL = "http://proxy:8080" },
			errContains: "socks5",
		},
		{name: "socks5 proxy accepted", mutate: func(c *Config) { c.Provider.ProxyURL = "socks5://proxy:1080" }},
		{
			name:        "negative cache",
			mutate:      func(c *Config) { c.Inspection.SegmentCacheSize = -1 },
			errContains: "segment_cache_size",
		},
		{
			name:        "negative stat timeout",
			mutate:      func(c *Config) { c.Inspection.StatTimeout = -time.Second },
			errContains: "stat_timeout",
		},
		{
			name:        "prefix without slash",
			mutate:      func(c *Config) { c.API.Prefix = "api" },
			errContains: "prefix",
		},
		{
			name:        "unknown log level",
			mutate:      func(c *Config) { c.Log.Level = "verbose" },
			errContains: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestConfig_ProviderEqual(t *testing.T) {
	a := validConfig()
	b := a.DeepCopy()
	assert.True(t, a.ProviderEqual(b))

	b.Log.Level = "debug"
	b.Inspection.SegmentCacheSize = 1
	assert.True(t, a.ProviderEqual(b), "non-pool settings do not force a rebuild")

	b.Provider.MaxConnections = 3
	assert.False(t, a.ProviderEqual(b))

	c := a.DeepCopy()
	c.Inspection.KeepAliveInterval = time.Minute
	assert.False(t, a.ProviderEqual(c))
}

func TestConfig_ToNNTP(t *testing.T) {
	cfg := validConfig()
	cfg.Provider.ProxyURL = "socks5://127.0.0.1:1080"

	opts := cfg.ToNNTPOptions()
	assert.Equal(t, "news.example.com", opts.Host)
	assert.Equal(t, 563, opts.Port)
	assert.True(t, opts.TLS)
	assert.Equal(t, "socks5://127.0.0.1:1080", opts.ProxyURL)
	assert.Equal(t, cfg.Inspection.FetchTimeout, opts.CommandTimeout)

	pc := cfg.ToPoolConfig()
	assert.Equal(t, 10, pc.MaxConnections)
	assert.Equal(t, 5*time.Second, pc.StatTimeout)
	assert.Equal(t, 30*time.Second, pc.KeepAliveInterval)
	assert.Nil(t, pc.Active)
}

func TestManager_UpdateConfigNotifies(t *testing.T) {
	m := NewManager(validConfig(), "")

	var gotOld, gotNew *Config
	m.OnConfigChange(func(oldConfig, newConfig *Config) {
		gotOld, gotNew = oldConfig, newConfig
		// Callbacks run unlocked.
		assert.Same(t, newConfig, m.GetConfig())
	})

	next := validConfig()
	next.Provider.Host = "other.example.com"
	require.NoError(t, m.UpdateConfig(next))

	require.NotNil(t, gotOld)
	assert.Equal(t, "news.example.com", gotOld.Provider.Host)
	assert.Same(t, next, gotNew)
}

func TestManager_ValidateConfigUpdate(t *testing.T) {
	m := NewManager(validConfig(), "")

	next := validConfig()
	next.API.Listen = ":9999"
	assert.ErrorContains(t, m.ValidateConfigUpdate(next), "listen")

	next = validConfig()
	next.Provider.MaxConnections = 20
	assert.NoError(t, m.ValidateConfigUpdate(next))
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := validConfig()
	cfg.Inspection.StatTimeout = 7 * time.Second
	cfg.Inspection.MaxDecodedBytes = 1 << 20
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Provider, loaded.Provider)
	assert.Equal(t, 7*time.Second, loaded.Inspection.StatTimeout)
	assert.Equal(t, int64(1<<20), loaded.Inspection.MaxDecodedBytes)
	assert.Equal(t, path, GetConfigFilePath())
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  host: news.example.com\n  max_connections: 2\ninspection:\n  stat_timeout: 2s\n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Provider.MaxConnections)
	assert.Equal(t, 563, cfg.Provider.Port)
	assert.Equal(t, 2*time.Second, cfg.Inspection.StatTimeout)
	assert.Equal(t, 30*time.Second, cfg.Inspection.FetchTimeout)
	assert.Equal(t, "/api", cfg.API.Prefix)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  max_connections: 0\n"), 0600))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "validation")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestManager_ReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := validConfig()
	require.NoError(t, SaveToFile(cfg, path))

	m := NewManager(cfg, path)
	calls := 0
	m.OnConfigChange(func(_, _ *Config) { calls++ })

	updated := validConfig()
	updated.Provider.MaxConnections = 4
	require.NoError(t, SaveToFile(updated, path))

	require.NoError(t, m.ReloadConfig())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 4, m.GetConfig().Provider.MaxConnections)

	assert.Error(t, NewManager(cfg, "").ReloadConfig())
}

func TestLoggingUpdater(t *testing.T) {
	level := new(slog.LevelVar)
	u := NewLoggingUpdater(level, "warn")
	assert.Equal(t, slog.LevelWarn, level.Level())

	m := NewManager(validConfig(), "")
	u.Register(m)

	next := validConfig()
	next.Log.Level = "debug"
	require.NoError(t, m.UpdateConfig(next))
	assert.Equal(t, slog.LevelDebug, level.Level())

	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestAccessors(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 4, cfg.GetBatchWorkers())
	assert.Equal(t, 2*time.Minute, cfg.GetActivityWindow())
	assert.Equal(t, "/api", cfg.GetAPIPrefix())
	assert.Equal(t, 0, cfg.GetMaxDecodedBytes())

	cfg.Inspection.MaxDecodedBytes = -1
	assert.Equal(t, 8<<20, cfg.GetMaxDecodedBytes())
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.RateLimit.Capacity)
	assert.Equal(t, 4, cfg.Forward.MaxRetries)
	assert.Equal(t, "*/5 * * * *", cfg.Maintenance.SweepCron)
	assert.Equal(t, 30, cfg.Telegram.PollTimeout)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"telegram": {"token": "123:abc"},
		"operators": {"ids": [123456, "789"], "usernames": ["helpdesk"]},
		"storage": {"backend": "memory"},
		"rate_limit": {"capacity": 10, "fill_rate": 2.5}
	}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 10, cfg.RateLimit.Capacity)
	assert.InDelta(t, 2.5, cfg.RateLimit.FillRate, 0.001)

	// Numeric and string ids both parse.
	ids, err := cfg.Operators.ChatIDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{123456, 789}, ids)
	assert.Equal(t, []string{"helpdesk"}, cfg.Operators.Usernames)

	// Untouched sections keep their defaults.
	assert.Equal(t, 4, cfg.Forward.MaxRetries)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SWITCHYARD_TELEGRAM_TOKEN", "env-token")
	t.Setenv("SWITCHYARD_STORAGE_BACKEND", "memory")
	t.Setenv("SWITCHYARD_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":     func(c *Config) { c.Storage.Backend = "postgres" },
		"sqlite without path": func(c *Config) { c.Storage.SQLitePath = "" },
		"redis without addr": func(c *Config) {
			c.Storage.Backend = "redis"
			c.Storage.Redis.Addr = ""
		},
		"zero capacity":       func(c *Config) { c.RateLimit.Capacity = 0 },
		"negative fill rate":  func(c *Config) { c.RateLimit.FillRate = -1 },
		"zero retries":        func(c *Config) { c.Forward.MaxRetries = 0 },
		"non-numeric op id":   func(c *Config) { c.Operators.IDs = FlexibleStringSlice{"@helpdesk"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := DefaultConfig()
	cfg.Telegram.Token = "123:abc"
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Telegram.Token, loaded.Telegram.Token)
	assert.Equal(t, cfg.Storage.Backend, loaded.Storage.Backend)
}

func TestFlexibleStringSliceMixedTypes(t *testing.T) {
	var f FlexibleStringSlice
	require.NoError(t, f.UnmarshalJSON([]byte(`["123", 456, true]`)))
	assert.Equal(t, FlexibleStringSlice{"123", "456", "true"}, f)
}

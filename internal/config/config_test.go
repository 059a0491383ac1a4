package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "qwen/qwq-32b", cfg.Chat.DefaultModel)
	assert.Equal(t, 24*time.Hour, cfg.Models.CacheTTL)
	assert.Equal(t, "live", cfg.Interceptor.Mode)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = "127.0.0.1:9000"

[api]
timeout = "30s"

[models]
cache_ttl = "1h"

[secret]
backend = "keyring"
keyring_user = "alice"
`), 0o600))

	cfg := Default()
	require.NoError(t, LoadTOML(cfg, path))
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, time.Hour, cfg.Models.CacheTTL)
	assert.Equal(t, "keyring", cfg.Secret.Backend)
	assert.Equal(t, "alice", cfg.Secret.KeyringUser)
	// Untouched sections keep their defaults.
	assert.Equal(t, "qwen/qwq-32b", cfg.Chat.DefaultModel)
}

func TestLoadTOMLRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 1\n"), 0o600))
	assert.Error(t, LoadTOML(Default(), path))
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORCHAT_ADDR", ":1234")
	t.Setenv("ORCHAT_DEFAULT_MODEL", "openai/gpt-4o")
	t.Setenv("ORCHAT_MODELS_CACHE_TTL", "5m")
	t.Setenv("ORCHAT_METRICS_MAX_ENTRIES", "10")
	t.Setenv("ORCHAT_ALLOWED_ORIGINS", "chrome-extension://abc, http://localhost:3000")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnvOverrides())
	assert.Equal(t, ":1234", cfg.Server.Addr)
	assert.Equal(t, "openai/gpt-4o", cfg.Chat.DefaultModel)
	assert.Equal(t, 5*time.Minute, cfg.Models.CacheTTL)
	assert.Equal(t, 10, cfg.Metrics.MaxEntries)
	assert.Equal(t, []string{"chrome-extension://abc", "http://localhost:3000"}, cfg.Server.AllowedOrigins)
}

func TestEnvOverrideBadDuration(t *testing.T) {
	t.Setenv("ORCHAT_API_TIMEOUT", "soon")
	assert.Error(t, Default().ApplyEnvOverrides())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ORCHAT_TEST_FROM_DOTENV=yes\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ORCHAT_TEST_FROM_DOTENV") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "yes", os.Getenv("ORCHAT_TEST_FROM_DOTENV"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"dsn", func(c *Config) { c.Storage.DSN = "" }},
		{"backend", func(c *Config) { c.Secret.Backend = "vault" }},
		{"mode", func(c *Config) { c.Interceptor.Mode = "sometimes" }},
		{"format", func(c *Config) { c.Log.Format = "xml" }},
		{"base url", func(c *Config) { c.API.BaseURL = "" }},
		{"negative ttl", func(c *Config) { c.Models.CacheTTL = -time.Second }},
		{"addr without port", func(c *Config) { c.Server.Addr = "localhost" }},
		{"origin with path", func(c *Config) { c.Server.AllowedOrigins = []string{"https://example.com/app"} }},
		{"bare origin", func(c *Config) { c.Server.AllowedOrigins = []string{"example.com"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.APIKey = "sk-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, 5, cfg.AI.MaxToolTurns)
	assert.Equal(t, 60*time.Second, cfg.AI.TurnTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleTTL)
	assert.Equal(t, "@every 1m", cfg.Sessions.SweepSchedule)
	assert.Equal(t, 40, cfg.Index.MaxChunks)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"bad provider", func(c *Config) { c.AI.Provider = "llama" }},
		{"missing key", func(c *Config) { c.AI.APIKey = "" }},
		{"missing model", func(c *Config) { c.AI.Model = "" }},
		{"temperature out of range", func(c *Config) { c.AI.Temperature = 1.5 }},
		{"zero tool turns", func(c *Config) { c.AI.MaxToolTurns = 0 }},
		{"zero turn timeout", func(c *Config) { c.AI.TurnTimeout = 0 }},
		{"zero max chunks", func(c *Config) { c.Index.MaxChunks = 0 }},
		{"zero top k", func(c *Config) { c.Index.TopK = 0 }},
		{"zero idle ttl", func(c *Config) { c.Sessions.IdleTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabletalk.json")
	content := `{
		"server": {"port": 9090},
		"ai": {"provider": "anthropic", "model": "claude-sonnet-4-5", "api_key": "sk-file"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Equal(t, "sk-file", cfg.AI.APIKey)
	// Untouched sections keep their defaults.
	assert.Equal(t, 40, cfg.Index.MaxChunks)
}

func TestLoad_EmbeddingKeyDefaultsToAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabletalk.json")
	content := `{"ai": {"api_key": "sk-shared"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-shared", cfg.AI.EmbeddingKey)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tabletalk.json")
	loader := NewLoader(path)

	cfg := validConfig()
	cfg.Server.Port = 9999
	require.NoError(t, loader.Save(cfg))

	reloaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, reloaded.Server.Port)
}

package scanner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3, cfg.MaxDepth)
	assert.Equal(t, 10, cfg.Fetcher.MaxConcurrent)
	assert.Equal(t, 100*time.Millisecond, cfg.Fetcher.MinDelay)
	assert.Equal(t, 10*time.Second, cfg.Fetcher.Timeout)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid target", func(c *Config) { c.Target = "https://example.com" }, false},
		{"empty target ok at config level", func(c *Config) {}, false},
		{"bad target", func(c *Config) { c.Target = "not-a-url" }, true},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }, true},
		{"negative concurrency", func(c *Config) { c.Fetcher.MaxConcurrent = -2 }, true},
		{"negative timeout", func(c *Config) { c.Fetcher.Timeout = -time.Second }, true},
		{"negative delay", func(c *Config) { c.Fetcher.MinDelay = -time.Millisecond }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_SaveAndLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")

	cfg := DefaultConfig()
	cfg.Target = "https://example.com"
	cfg.MaxDepth = 5
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", loaded.Target)
	assert.Equal(t, 5, loaded.MaxDepth)
}

func TestConfig_LoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	data := []byte(`{"target":"https://example.com","max_depth":2}`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", loaded.Target)
	assert.Equal(t, 2, loaded.MaxDepth)
}

func TestConfig_LoadMissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yml")
	assert.Error(t, err)
}

func TestConfig_Clone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Target = "https://example.com"

	clone := cfg.Clone()
	clone.Target = "https://other.com"
	clone.Fetcher.MaxConcurrent = 99

	assert.Equal(t, "https://example.com", cfg.Target)
	assert.Equal(t, 10, cfg.Fetcher.MaxConcurrent)
}

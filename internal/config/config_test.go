package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(1<<20), cfg.Indexing.MaxFileSize)
	assert.Equal(t, 32, cfg.Embed.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Embed.Timeout)
	assert.Equal(t, 20, cfg.Rerank.Candidates)
	assert.Equal(t, 60.0, cfg.Search.RRFConstant)
	assert.Equal(t, 16, cfg.Vector.M)
	assert.Equal(t, 200, cfg.Vector.EfConstruction)
	assert.Equal(t, 48, cfg.Vector.EfSearch)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.Debounce)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CODERAG_DATA_DIR", t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Embed.Provider)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
data_dir: ` + dir + `
embed:
  provider: openai
  batch_size: 8
  timeout: 5s
search:
  top_k: 7
vector:
  backend: hnsw
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	t.Setenv("CODERAG_TOP_K", "3")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Embed.Provider)
	assert.Equal(t, 8, cfg.Embed.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Embed.Timeout)
	assert.Equal(t, 3, cfg.Search.TopK)
	assert.Equal(t, "sk-test", cfg.Embed.APIKey)
	// untouched sections keep their defaults
	assert.Equal(t, 50, cfg.Search.BroadK)
	assert.Equal(t, filepath.Join(dir, "coderag.db"), cfg.DBPath())
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("CODERAG_DATA_DIR", t.TempDir())
	t.Setenv("CODERAG_WORKERS", "many")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch", func(c *Config) { c.Embed.BatchSize = 0 }},
		{"negative file size", func(c *Config) { c.Indexing.MaxFileSize = -1 }},
		{"unknown embed provider", func(c *Config) { c.Embed.Provider = "magic" }},
		{"unknown rerank provider", func(c *Config) { c.Rerank.Provider = "cohere" }},
		{"unknown vector backend", func(c *Config) { c.Vector.Backend = "faiss" }},
		{"tiny m", func(c *Config) { c.Vector.M = 1 }},
		{"zero rrf", func(c *Config) { c.Search.RRFConstant = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")
	cfg := Default()
	cfg.DataDir = dir
	cfg.Search.TopK = 4
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Search.TopK)
}

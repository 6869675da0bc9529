package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LOG_LEVEL", "LOG_FORMAT", "GOCONTEXT_CACHE_DIR", "GOCONTEXT_EMBEDDING_PROVIDER",
		"GOCONTEXT_EMBEDDING_MODEL", "GOCONTEXT_EMBEDDING_BASE_URL", "GOCONTEXT_VECTOR_BACKEND",
		"GOCONTEXT_DB_PATH", "GOCONTEXT_QDRANT_HOST", "GOCONTEXT_QDRANT_PORT", "QDRANT_API_KEY",
		"GOCONTEXT_HTTP_ADDR", "OPENAI_API_KEY", "GEMINI_API_KEY", "JINA_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Embedder.Provider)
	assert.Equal(t, "sqlite", cfg.VectorStore.Backend)
	assert.Equal(t, 1500*time.Millisecond, cfg.Cache.FlushDelay)
	assert.InDelta(t, 0.1, cfg.Indexing.DegradedThreshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.Indexing.FatalThreshold, 1e-9)
	assert.True(t, cfg.IsConfigured())
	assert.True(t, cfg.Watcher.Enabled)
}

func TestLoadWatcherDisabled(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "watcher:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Watcher.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.Debounce)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
embedder:
  provider: openai
  model: text-embedding-3-small
  api_key: sk-test
vector_store:
  backend: chromem
cache:
  flush_delay: 250ms
indexing:
  degraded_threshold: 0.2
  fatal_threshold: 0.8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Embedder.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
	assert.Equal(t, "chromem", cfg.VectorStore.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Cache.FlushDelay)
	assert.InDelta(t, 0.2, cfg.Indexing.DegradedThreshold, 1e-9)
	assert.True(t, cfg.IsConfigured())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "embeder:\n  provider: openai\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOCONTEXT_EMBEDDING_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("GOCONTEXT_QDRANT_PORT", "7000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.Embedder.Provider)
	assert.Equal(t, "g-key", cfg.Embedder.APIKey)
	assert.Equal(t, 7000, cfg.VectorStore.Qdrant.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Embedder.Provider = "acme" }},
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "redis" }},
		{"unknown tokenizer", func(c *Config) { c.Embedder.Tokenizer = "bpe" }},
		{"degraded above fatal", func(c *Config) {
			c.Indexing.DegradedThreshold = 0.6
			c.Indexing.FatalThreshold = 0.5
		}},
		{"fatal above one", func(c *Config) { c.Indexing.FatalThreshold = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestIsConfigured(t *testing.T) {
	cfg := Default()
	cfg.Embedder.Provider = "openai"
	assert.False(t, cfg.IsConfigured())
	assert.Contains(t, cfg.NotConfiguredReason(), "openai")

	cfg.Embedder.APIKey = "sk"
	assert.True(t, cfg.IsConfigured())
	assert.Empty(t, cfg.NotConfiguredReason())
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GOCONTEXT_EMBEDDING_MODEL=from-dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("GOCONTEXT_EMBEDDING_MODEL") })
	os.Unsetenv("GOCONTEXT_EMBEDDING_MODEL")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-dotenv", os.Getenv("GOCONTEXT_EMBEDDING_MODEL"))
}

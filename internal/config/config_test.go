package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Retriever.TopK)
	assert.True(t, cfg.Retriever.EnableHybrid)
	assert.InDelta(t, 0.7, cfg.Retriever.HybridWeight, 1e-9)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "heuristic", cfg.Rerank.Backend.Provider)
	assert.Equal(t, 384, cfg.Embeddings.Dimension)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, `
retriever:
  top_k: 8
  enable_hybrid: false
index:
  backend: qdrant
  qdrant:
    host: qdrant.internal
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Retriever.TopK)
	assert.False(t, cfg.Retriever.EnableHybrid)
	assert.Equal(t, "qdrant", cfg.Index.Backend)
	assert.Equal(t, "qdrant.internal", cfg.Index.Qdrant.Host)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "retriever:\n  top_k: 8\n", 0600)
	t.Setenv("RETRIEVALD_RETRIEVER_TOP_K", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retriever.TopK)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "retriever:\n  top_k: 8\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "retriever:\n  hybrid_weight: 2.5\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hybrid_weight")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

// isolate points the user config at an empty temp dir so a developer's own
// ~/.config/kbcontext never leaks into tests.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, filepath.Join("data", "kb"), cfg.KB.Dir)
	assert.Equal(t, "kb_chunks.jsonl", cfg.KB.Chunks)
	assert.Equal(t, "kb_embeddings.npy", cfg.KB.Embeddings)
	assert.Equal(t, 8, cfg.Retrieval.DefaultK)
	assert.Equal(t, 10, cfg.Retrieval.MinQueryLength)
	assert.Equal(t, 10*time.Second, cfg.Retrieval.EmbedTimeout.Std())
	assert.Equal(t, "scan", cfg.Retrieval.KeywordMode)
	assert.Equal(t, "flat", cfg.Vector.Backend)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, 1000, cfg.Embeddings.CacheSize)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// Layering
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "scan", cfg.Retrieval.KeywordMode)
	assert.Equal(t, filepath.Join(dir, "data", "kb", "kb_chunks.jsonl"), cfg.ChunksPath())
	assert.Equal(t, dir, cfg.Root())
}

func TestLoad_ProjectYaml_OverridesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".kbcontext.yaml"), `
kb:
  dir: knowledge
  embeddings: vectors.jsonl
retrieval:
  default_k: 3
  embed_timeout: 250ms
vector:
  backend: hnsw
watch:
  enabled: true
  debounce: 2
`)

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retrieval.DefaultK)
	assert.Equal(t, 250*time.Millisecond, cfg.Retrieval.EmbedTimeout.Std())
	assert.Equal(t, "hnsw", cfg.Vector.Backend)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce.Std())
	assert.Equal(t, filepath.Join(dir, "knowledge", "vectors.jsonl"), cfg.EmbeddingsPath())
	// untouched keys keep defaults
	assert.Equal(t, 10, cfg.Retrieval.MinQueryLength)
	assert.Equal(t, filepath.Join(dir, "knowledge", "kb_chunks.jsonl"), cfg.ChunksPath())
}

func TestLoad_ExplicitZeroIsHonored(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".kbcontext.yaml"), "retrieval:\n  min_query_length: 0\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Retrieval.MinQueryLength)
}

func TestLoad_YmlExtension(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".kbcontext.yml"), "retrieval:\n  keyword_mode: bm25\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "bm25", cfg.Retrieval.KeywordMode)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "kbcontext", "config.yaml"), `
embeddings:
  provider: openai
  model: text-embedding-3-small
retrieval:
  default_k: 4
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".kbcontext.yaml"), "retrieval:\n  default_k: 6\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Embeddings.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embeddings.Model)
	assert.Equal(t, 6, cfg.Retrieval.DefaultK)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".kbcontext.yaml"), "embeddings:\n  provider: openai\n")
	t.Setenv("KBCONTEXT_EMBEDDINGS_PROVIDER", "static")
	t.Setenv("KBCONTEXT_DEFAULT_K", "2")
	t.Setenv("KBCONTEXT_EMBED_TIMEOUT", "1s")
	t.Setenv("KBCONTEXT_WATCH", "true")
	t.Setenv("KBCONTEXT_KB_DIR", "/srv/kb")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 2, cfg.Retrieval.DefaultK)
	assert.Equal(t, time.Second, cfg.Retrieval.EmbedTimeout.Std())
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, "/srv/kb/kb_embeddings.npy", cfg.EmbeddingsPath())
}

func TestLoad_BadEnvValue(t *testing.T) {
	isolate(t)
	t.Setenv("KBCONTEXT_DEFAULT_K", "many")

	_, err := Load(t.TempDir())

	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeConfigInvalid, kberrors.GetCode(err))
}

func TestLoad_InvalidYaml(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".kbcontext.yaml"), "retrieval: [not, a, map")

	_, err := Load(dir)

	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".kbcontext.yaml"), "retrieval:\n  embed_timeout: soon\n")

	_, err := Load(dir)

	assert.Error(t, err)
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"k zero", func(c *Config) { c.Retrieval.DefaultK = 0 }, "default_k"},
		{"keyword mode", func(c *Config) { c.Retrieval.KeywordMode = "fuzzy" }, "keyword_mode"},
		{"backend", func(c *Config) { c.Vector.Backend = "faiss" }, "vector.backend"},
		{"hnsw params", func(c *Config) { c.Vector.Backend = "hnsw"; c.Vector.M = 1 }, "vector.m"},
		{"provider", func(c *Config) { c.Embeddings.Provider = "gemini" }, "embeddings.provider"},
		{"tolerance", func(c *Config) { c.Retrieval.ScoreTolerance = 0 }, "score_tolerance"},
		{"log level", func(c *Config) { c.Server.LogLevel = "trace" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ValidationErrorIsCoded(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".kbcontext.yaml"), "vector:\n  backend: annoy\n")

	_, err := Load(dir)

	require.Error(t, err)
	assert.True(t, kberrors.IsFatal(err))
}

// =============================================================================
// Paths
// =============================================================================

func TestMetaPath_EmptyDisables(t *testing.T) {
	cfg := NewConfig()
	cfg.KB.Meta = ""
	assert.Empty(t, cfg.MetaPath())
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".kbcontext.yaml"), "version: 1\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindProjectRoot(nested)

	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Retrieval.DefaultK = 5
	cfg.Retrieval.EmbedTimeout = Duration(3 * time.Second)
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ".kbcontext.yaml")))

	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Retrieval.DefaultK)
	assert.Equal(t, 3*time.Second, loaded.Retrieval.EmbedTimeout.Std())
}

// Package config loads kbcontext configuration from defaults, the user config
// file, the project .kbcontext.yaml and KBCONTEXT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

// Config represents the complete kbcontext configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	KB         KBConfig         `yaml:"kb" json:"kb"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Server     ServerConfig     `yaml:"server" json:"server"`

	// root is the directory relative KB paths resolve against.
	root string
}

// KBConfig locates the knowledge base files.
type KBConfig struct {
	// Dir holds the corpus, matrix and meta files. Relative to the project root.
	Dir        string `yaml:"dir" json:"dir"`
	Chunks     string `yaml:"chunks" json:"chunks"`
	Embeddings string `yaml:"embeddings" json:"embeddings"`
	Meta       string `yaml:"meta" json:"meta"`

	// LockTimeout bounds the wait for the shared lock an ingest job holds
	// while rewriting the files.
	LockTimeout Duration `yaml:"lock_timeout" json:"lock_timeout"`
}

// RetrievalConfig tunes the retrieval service.
type RetrievalConfig struct {
	DefaultK       int      `yaml:"default_k" json:"default_k"`
	MinQueryLength int      `yaml:"min_query_length" json:"min_query_length"`
	EmbedTimeout   Duration `yaml:"embed_timeout" json:"embed_timeout"`
	// KeywordMode is "scan" (first-k overlap) or "bm25" (ranked, bleve).
	KeywordMode string `yaml:"keyword_mode" json:"keyword_mode"`
	// ScoreTolerance is the allowed gap between ranking and displayed scores.
	ScoreTolerance float64 `yaml:"score_tolerance" json:"score_tolerance"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	// Backend is "flat" (exact linear scan) or "hnsw" (approximate).
	Backend  string `yaml:"backend" json:"backend"`
	M        int    `yaml:"m" json:"m"`
	EfSearch int    `yaml:"ef_search" json:"ef_search"`
}

// EmbeddingsConfig configures the query embedder.
type EmbeddingsConfig struct {
	// Provider is "ollama", "openai", "static" or "none".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Host is the Ollama host or the OpenAI-compatible base URL.
	Host string `yaml:"host" json:"host"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv       string   `yaml:"api_key_env" json:"api_key_env"`
	Dimensions      int      `yaml:"dimensions" json:"dimensions"`
	CacheSize       int      `yaml:"cache_size" json:"cache_size"`
	Retries         int      `yaml:"retries" json:"retries"`
	BreakerFailures int      `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset    Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// WatchConfig controls hot reload of the knowledge base files.
type WatchConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Debounce Duration `yaml:"debounce" json:"debounce"`
}

// TelemetryConfig controls the local retrieval statistics database.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		KB: KBConfig{
			Dir:         filepath.Join("data", "kb"),
			Chunks:      "kb_chunks.jsonl",
			Embeddings:  "kb_embeddings.npy",
			Meta:        "kb_meta.json",
			LockTimeout: Duration(5 * time.Second),
		},
		Retrieval: RetrievalConfig{
			DefaultK:       8,
			MinQueryLength: 10,
			EmbedTimeout:   Duration(10 * time.Second),
			KeywordMode:    "scan",
			ScoreTolerance: 1e-6,
		},
		Vector: VectorConfig{
			Backend:  "flat",
			M:        16,
			EfSearch: 64,
		},
		Embeddings: EmbeddingsConfig{
			Provider:        "ollama",
			Model:           "nomic-embed-text",
			Host:            "http://localhost:11434",
			APIKeyEnv:       "OPENAI_API_KEY",
			CacheSize:       1000,
			Retries:         2,
			BreakerFailures: 3,
			BreakerReset:    Duration(30 * time.Second),
		},
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: Duration(500 * time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Path:    defaultTelemetryPath(),
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

func defaultTelemetryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".kbcontext", "telemetry.db")
	}
	return filepath.Join(home, ".kbcontext", "telemetry.db")
}

// GetUserConfigPath returns $XDG_CONFIG_HOME/kbcontext/config.yaml, falling
// back to ~/.config/kbcontext/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kbcontext", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "kbcontext", "config.yaml")
	}
	return filepath.Join(home, ".config", "kbcontext", "config.yaml")
}

// Load builds the configuration for the project rooted at dir, in order of
// increasing precedence:
//  1. Built-in defaults
//  2. User config (~/.config/kbcontext/config.yaml)
//  3. Project config (.kbcontext.yaml or .kbcontext.yml in dir)
//  4. Environment variables (KBCONTEXT_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()
	cfg.root = dir

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	for _, name := range []string{".kbcontext.yaml", ".kbcontext.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
			break
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, kberrors.ConfigError("invalid configuration", err).
			WithSuggestion("check .kbcontext.yaml and KBCONTEXT_* variables")
	}
	return cfg, nil
}

// loadYAML decodes path over the current values, so keys absent from the
// file keep their earlier value and explicit zeros are honored.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"KBCONTEXT_KB_DIR":              &c.KB.Dir,
		"KBCONTEXT_KB_CHUNKS":           &c.KB.Chunks,
		"KBCONTEXT_KB_EMBEDDINGS":       &c.KB.Embeddings,
		"KBCONTEXT_KEYWORD_MODE":        &c.Retrieval.KeywordMode,
		"KBCONTEXT_VECTOR_BACKEND":      &c.Vector.Backend,
		"KBCONTEXT_EMBEDDINGS_PROVIDER": &c.Embeddings.Provider,
		"KBCONTEXT_EMBEDDINGS_MODEL":    &c.Embeddings.Model,
		"KBCONTEXT_EMBEDDINGS_HOST":     &c.Embeddings.Host,
		"KBCONTEXT_LOG_LEVEL":           &c.Server.LogLevel,
		"KBCONTEXT_TRANSPORT":           &c.Server.Transport,
		"KBCONTEXT_TELEMETRY_PATH":      &c.Telemetry.Path,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("KBCONTEXT_DEFAULT_K"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return kberrors.ConfigError("KBCONTEXT_DEFAULT_K must be an integer", err)
		}
		c.Retrieval.DefaultK = k
	}
	if v := os.Getenv("KBCONTEXT_EMBED_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return kberrors.ConfigError("KBCONTEXT_EMBED_TIMEOUT must be a duration", err)
		}
		c.Retrieval.EmbedTimeout = Duration(d)
	}
	if v := os.Getenv("KBCONTEXT_WATCH"); v != "" {
		c.Watch.Enabled = parseBool(v)
	}
	if v := os.Getenv("KBCONTEXT_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Retrieval.DefaultK < 1 {
		return fmt.Errorf("retrieval.default_k must be at least 1, got %d", c.Retrieval.DefaultK)
	}
	if c.Retrieval.MinQueryLength < 0 {
		return fmt.Errorf("retrieval.min_query_length must be non-negative, got %d", c.Retrieval.MinQueryLength)
	}
	if c.Retrieval.EmbedTimeout < 0 {
		return fmt.Errorf("retrieval.embed_timeout must be non-negative, got %s", c.Retrieval.EmbedTimeout)
	}
	if c.Retrieval.ScoreTolerance <= 0 {
		return fmt.Errorf("retrieval.score_tolerance must be positive, got %g", c.Retrieval.ScoreTolerance)
	}
	if err := oneOf("retrieval.keyword_mode", c.Retrieval.KeywordMode, "scan", "bm25"); err != nil {
		return err
	}
	if err := oneOf("vector.backend", c.Vector.Backend, "flat", "hnsw"); err != nil {
		return err
	}
	if c.Vector.Backend == "hnsw" && (c.Vector.M < 2 || c.Vector.EfSearch < 1) {
		return fmt.Errorf("vector.m must be >= 2 and vector.ef_search >= 1 for hnsw, got %d and %d", c.Vector.M, c.Vector.EfSearch)
	}
	if err := oneOf("embeddings.provider", c.Embeddings.Provider, "ollama", "openai", "static", "none"); err != nil {
		return err
	}
	if c.Embeddings.CacheSize < 0 {
		return fmt.Errorf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize)
	}
	if err := oneOf("server.transport", c.Server.Transport, "stdio"); err != nil {
		return err
	}
	return oneOf("server.log_level", c.Server.LogLevel, "debug", "info", "warn", "error")
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// Root returns the directory relative KB paths resolve against.
func (c *Config) Root() string {
	return c.root
}

// KBDir returns the resolved knowledge base directory.
func (c *Config) KBDir() string {
	if filepath.IsAbs(c.KB.Dir) || c.root == "" {
		return c.KB.Dir
	}
	return filepath.Join(c.root, c.KB.Dir)
}

// ChunksPath returns the resolved corpus file path.
func (c *Config) ChunksPath() string {
	return c.resolve(c.KB.Chunks)
}

// EmbeddingsPath returns the resolved embedding matrix path.
func (c *Config) EmbeddingsPath() string {
	return c.resolve(c.KB.Embeddings)
}

// MetaPath returns the resolved meta file path, or "" when disabled.
func (c *Config) MetaPath() string {
	if c.KB.Meta == "" {
		return ""
	}
	return c.resolve(c.KB.Meta)
}

func (c *Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.KBDir(), name)
}

// FindProjectRoot walks up from startDir to the first directory holding a
// .kbcontext.yaml, .kbcontext.yml or .git entry. Returns startDir when none is found.
func FindProjectRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", startDir, err)
	}

	for dir := abs; ; {
		for _, marker := range []string{".kbcontext.yaml", ".kbcontext.yml", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

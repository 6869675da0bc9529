// Package config loads gocontext settings from a YAML file, a .env file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/gocontext-index/internal/logging"
)

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all settings
type Config struct {
	Log         logging.Config    `yaml:"log"`
	Cache       CacheConfig       `yaml:"cache"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Scanner     ScannerConfig     `yaml:"scanner"`
	Watcher     WatcherConfig     `yaml:"watcher"`
	Indexing    IndexingConfig    `yaml:"indexing"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// CacheConfig controls the content hash cache artifacts
type CacheConfig struct {
	Dir        string        `yaml:"dir"`
	FlushDelay time.Duration `yaml:"flush_delay"`
}

// EmbedderConfig selects the embedding provider and its tuning
type EmbedderConfig struct {
	Provider       string        `yaml:"provider"` // openai, gemini, jina, ollama, local
	Model          string        `yaml:"model"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Dimension      int           `yaml:"dimension"`
	Tokenizer      string        `yaml:"tokenizer"`        // heuristic, tiktoken
	MaxRetries     int           `yaml:"max_retries"`      // 0 keeps the provider profile default
	MaxBatchTokens int           `yaml:"max_batch_tokens"` // 0 keeps the provider profile default
	Timeout        time.Duration `yaml:"timeout"`
	QueryCacheSize int           `yaml:"query_cache_size"`
}

// VectorStoreConfig selects the vector store backend
type VectorStoreConfig struct {
	Backend string        `yaml:"backend"` // sqlite, qdrant, chromem
	SQLite  SQLiteConfig  `yaml:"sqlite"`
	Qdrant  QdrantConfig  `yaml:"qdrant"`
	Chromem ChromemConfig `yaml:"chromem"`
}

// SQLiteConfig configures the embedded SQLite store
type SQLiteConfig struct {
	Dir string `yaml:"dir"`
}

// QdrantConfig configures the Qdrant gRPC client
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// ChromemConfig configures the embedded chromem store. An empty Dir keeps it in memory.
type ChromemConfig struct {
	Dir      string `yaml:"dir"`
	Compress bool   `yaml:"compress"`
}

// ScannerConfig controls file discovery and block slicing
type ScannerConfig struct {
	Extensions       []string `yaml:"extensions"`
	IgnoreDirs       []string `yaml:"ignore_dirs"`
	MaxFileSize      int64    `yaml:"max_file_size"`
	MaxBlockChars    int      `yaml:"max_block_chars"`
	MinBlockChars    int      `yaml:"min_block_chars"`
	BatchSegmentSize int      `yaml:"batch_segment_size"`
	Workers          int      `yaml:"workers"`
	EmbedConcurrency int      `yaml:"embed_concurrency"`
}

// WatcherConfig controls live re-indexing
type WatcherConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// IndexingConfig holds the failure-rate thresholds applied after a scan.
// A failure rate above DegradedThreshold is reported as a warning, above
// FatalThreshold the run fails.
type IndexingConfig struct {
	DegradedThreshold float64 `yaml:"degraded_threshold"`
	FatalThreshold    float64 `yaml:"fatal_threshold"`
}

// SchedulerConfig controls periodic reconcile runs. An empty spec disables them.
type SchedulerConfig struct {
	ReconcileSpec string `yaml:"reconcile_spec"`
}

// HTTPConfig controls the status API. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config with every default applied
func Default() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return &cfg
}

// newConfig presets the fields whose default is not the zero value
func newConfig() Config {
	return Config{Watcher: WatcherConfig{Enabled: true}}
}

// applyDefaults fills zero/empty fields with defaults
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(homeDir(), ".gocontext", "cache")
	}
	if c.Cache.FlushDelay == 0 {
		c.Cache.FlushDelay = 1500 * time.Millisecond
	}
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = "local"
	}
	if c.Embedder.Tokenizer == "" {
		c.Embedder.Tokenizer = "heuristic"
	}
	if c.Embedder.Timeout == 0 {
		c.Embedder.Timeout = 60 * time.Second
	}
	if c.Embedder.QueryCacheSize == 0 {
		c.Embedder.QueryCacheSize = 1000
	}
	if c.VectorStore.Backend == "" {
		c.VectorStore.Backend = "sqlite"
	}
	if c.VectorStore.SQLite.Dir == "" {
		c.VectorStore.SQLite.Dir = filepath.Join(homeDir(), ".gocontext", "indices")
	}
	if c.VectorStore.Qdrant.Host == "" {
		c.VectorStore.Qdrant.Host = "localhost"
	}
	if c.VectorStore.Qdrant.Port == 0 {
		c.VectorStore.Qdrant.Port = 6334
	}
	if len(c.Scanner.Extensions) == 0 {
		c.Scanner.Extensions = []string{
			".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".kt", ".rs",
			".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".rb", ".php", ".swift",
			".scala", ".sh", ".sql", ".proto", ".md", ".yaml", ".yml", ".toml",
		}
	}
	if len(c.Scanner.IgnoreDirs) == 0 {
		c.Scanner.IgnoreDirs = []string{
			".git", ".hg", ".svn", ".idea", ".vscode", "node_modules", "vendor",
			"dist", "build", "target", "__pycache__", ".venv",
		}
	}
	if c.Scanner.MaxFileSize == 0 {
		c.Scanner.MaxFileSize = 1 << 20
	}
	if c.Scanner.MaxBlockChars == 0 {
		c.Scanner.MaxBlockChars = 4000
	}
	if c.Scanner.MinBlockChars == 0 {
		c.Scanner.MinBlockChars = 50
	}
	if c.Scanner.BatchSegmentSize == 0 {
		c.Scanner.BatchSegmentSize = 60
	}
	if c.Scanner.Workers == 0 {
		c.Scanner.Workers = 4
	}
	if c.Scanner.EmbedConcurrency == 0 {
		c.Scanner.EmbedConcurrency = 2
	}
	if c.Watcher.Debounce == 0 {
		c.Watcher.Debounce = 500 * time.Millisecond
	}
	if c.Indexing.DegradedThreshold == 0 {
		c.Indexing.DegradedThreshold = 0.1
	}
	if c.Indexing.FatalThreshold == 0 {
		c.Indexing.FatalThreshold = 0.5
	}
}

// Load reads the YAML config at path, then applies .env and environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := newConfig()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("open config %q: %w", path, err)
		default:
			defer f.Close()
			dec := yaml.NewDecoder(f)
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("parse config %q: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads the given .env files, skipping the ones that do not exist.
// Variables already present in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// applyEnv overlays environment variables
func (c *Config) applyEnv() {
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Cache.Dir, "GOCONTEXT_CACHE_DIR")
	setString(&c.Embedder.Provider, "GOCONTEXT_EMBEDDING_PROVIDER")
	setString(&c.Embedder.Model, "GOCONTEXT_EMBEDDING_MODEL")
	setString(&c.Embedder.BaseURL, "GOCONTEXT_EMBEDDING_BASE_URL")
	setString(&c.VectorStore.Backend, "GOCONTEXT_VECTOR_BACKEND")
	setString(&c.VectorStore.SQLite.Dir, "GOCONTEXT_DB_PATH")
	setString(&c.VectorStore.Qdrant.Host, "GOCONTEXT_QDRANT_HOST")
	setString(&c.VectorStore.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&c.HTTP.Addr, "GOCONTEXT_HTTP_ADDR")
	if v := os.Getenv("GOCONTEXT_QDRANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.VectorStore.Qdrant.Port = port
		}
	}

	if c.Embedder.APIKey == "" {
		switch strings.ToLower(c.Embedder.Provider) {
		case "openai":
			c.Embedder.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			c.Embedder.APIKey = os.Getenv("GEMINI_API_KEY")
		case "jina":
			c.Embedder.APIKey = os.Getenv("JINA_API_KEY")
		}
	}
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	switch c.Embedder.Provider {
	case "openai", "gemini", "jina", "ollama", "local":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedder.Provider)
	}
	switch c.Embedder.Tokenizer {
	case "heuristic", "tiktoken":
	default:
		return fmt.Errorf("%w: unknown tokenizer %q", ErrInvalidConfig, c.Embedder.Tokenizer)
	}
	switch c.VectorStore.Backend {
	case "sqlite", "qdrant", "chromem":
	default:
		return fmt.Errorf("%w: unknown vector store backend %q", ErrInvalidConfig, c.VectorStore.Backend)
	}
	d, f := c.Indexing.DegradedThreshold, c.Indexing.FatalThreshold
	if d < 0 || f > 1 || d > f {
		return fmt.Errorf("%w: thresholds must satisfy 0 <= degraded (%.2f) <= fatal (%.2f) <= 1",
			ErrInvalidConfig, d, f)
	}
	if c.Scanner.BatchSegmentSize < 1 || c.Scanner.Workers < 1 || c.Scanner.EmbedConcurrency < 1 {
		return fmt.Errorf("%w: scanner sizes must be positive", ErrInvalidConfig)
	}
	return nil
}

// IsConfigured reports whether indexing can run: a remote provider needs an
// API key, local and ollama providers do not.
func (c *Config) IsConfigured() bool {
	switch c.Embedder.Provider {
	case "local", "ollama":
		return true
	case "openai", "gemini", "jina":
		return c.Embedder.APIKey != ""
	default:
		return false
	}
}

// NotConfiguredReason explains why IsConfigured is false
func (c *Config) NotConfiguredReason() string {
	if c.IsConfigured() {
		return ""
	}
	return fmt.Sprintf("embedding provider %q has no API key; set it in the config file or environment", c.Embedder.Provider)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}

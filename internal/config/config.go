// Package config loads coderag settings from a YAML file, a .env file and
// CODERAG_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "CODERAG_"

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IndexingConfig controls file discovery and the worker pool
type IndexingConfig struct {
	MaxFileSize         int64    `yaml:"max_file_size"`
	Workers             int      `yaml:"workers"`
	IgnorePatterns      []string `yaml:"ignore_patterns"`
	IncludeDependencies bool     `yaml:"include_dependencies"`
	IncludeHidden       bool     `yaml:"include_hidden"`
}

// EmbedConfig selects and configures the embedding backend
type EmbedConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
}

// RerankConfig selects and configures the reranking backend
type RerankConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	Candidates int           `yaml:"candidates"`
}

// SearchConfig holds retrieval defaults
type SearchConfig struct {
	TopK        int           `yaml:"top_k"`
	BroadK      int           `yaml:"broad_k"`
	RRFConstant float64       `yaml:"rrf_constant"`
	Hybrid      bool          `yaml:"hybrid"`
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// VectorConfig fixes the vector index construction parameters
type VectorConfig struct {
	Backend        string `yaml:"backend"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
}

// QdrantConfig contains connection details for the optional Qdrant backend
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// WatcherConfig configures the file watcher event queue
type WatcherConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// ScheduleConfig holds cron expressions; empty disables the job
type ScheduleConfig struct {
	SyncCron    string `yaml:"sync_cron"`
	CompactCron string `yaml:"compact_cron"`
}

// MCPConfig configures the MCP tool server
type MCPConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	Burst              int `yaml:"burst"`
}

// HTTPConfig configures the optional local HTTP API
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the root configuration structure
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Log      LogConfig      `yaml:"log"`
	Indexing IndexingConfig `yaml:"indexing"`
	Embed    EmbedConfig    `yaml:"embed"`
	Rerank   RerankConfig   `yaml:"rerank"`
	Search   SearchConfig   `yaml:"search"`
	Vector   VectorConfig   `yaml:"vector"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Schedule ScheduleConfig `yaml:"schedule"`
	MCP      MCPConfig      `yaml:"mcp"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// DefaultIgnorePatterns are directory and file names never indexed
var DefaultIgnorePatterns = []string{
	".git", ".hg", ".svn", "node_modules", "vendor", "target", "dist", "build",
	"__pycache__", ".venv", "venv", ".tox", ".mypy_cache", ".pytest_cache",
	".idea", ".vscode", ".next", ".cache", "coverage",
	"*.min.js", "*.min.css", "*.lock", "*.sum", "*.map",
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Log:     LogConfig{Level: "info", Format: "console"},
		Indexing: IndexingConfig{
			MaxFileSize:    1 << 20,
			Workers:        runtime.NumCPU(),
			IgnorePatterns: append([]string(nil), DefaultIgnorePatterns...),
		},
		Embed: EmbedConfig{
			Provider:  "local",
			BatchSize: 32,
			Timeout:   30 * time.Second,
			CacheSize: 10000,
		},
		Rerank: RerankConfig{
			Enabled:    true,
			Provider:   "jina",
			Timeout:    10 * time.Second,
			Candidates: 20,
		},
		Search: SearchConfig{
			TopK:        10,
			BroadK:      50,
			RRFConstant: 60,
			Hybrid:      true,
			CacheSize:   1000,
			CacheTTL:    5 * time.Minute,
		},
		Vector: VectorConfig{
			Backend:        "hnsw",
			M:              16,
			EfConstruction: 200,
			EfSearch:       48,
		},
		Qdrant:   QdrantConfig{Host: "localhost", Port: 6334},
		Watcher:  WatcherConfig{Debounce: 500 * time.Millisecond},
		Schedule: ScheduleConfig{CompactCron: "0 3 * * *"},
		MCP:      MCPConfig{RateLimitPerMinute: 60, Burst: 10},
		HTTP:     HTTPConfig{Addr: "127.0.0.1:7878"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coderag"
	}
	return filepath.Join(home, ".coderag")
}

// DefaultPath returns $CODERAG_CONFIG or ~/.coderag/config.yaml
func DefaultPath() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load reads a config from path, applies .env and environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating directories as needed
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// DBPath returns the SQLite database location inside the data directory
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "coderag.db")
}

// applyDefaults fills zero values left by a partial YAML file
func (c *Config) applyDefaults() {
	d := Default()
	if c.Indexing.MaxFileSize == 0 {
		c.Indexing.MaxFileSize = d.Indexing.MaxFileSize
	}
	if c.Indexing.Workers == 0 {
		c.Indexing.Workers = d.Indexing.Workers
	}
	if c.Embed.BatchSize == 0 {
		c.Embed.BatchSize = d.Embed.BatchSize
	}
	if c.Embed.Timeout == 0 {
		c.Embed.Timeout = d.Embed.Timeout
	}
	if c.Rerank.Timeout == 0 {
		c.Rerank.Timeout = d.Rerank.Timeout
	}
	if c.Rerank.Candidates == 0 {
		c.Rerank.Candidates = d.Rerank.Candidates
	}
	if c.Search.TopK == 0 {
		c.Search.TopK = d.Search.TopK
	}
	if c.Search.BroadK == 0 {
		c.Search.BroadK = d.Search.BroadK
	}
	if c.Search.RRFConstant == 0 {
		c.Search.RRFConstant = d.Search.RRFConstant
	}
	if c.Search.CacheTTL == 0 {
		c.Search.CacheTTL = d.Search.CacheTTL
	}
	if c.Vector.M == 0 {
		c.Vector.M = d.Vector.M
	}
	if c.Vector.EfConstruction == 0 {
		c.Vector.EfConstruction = d.Vector.EfConstruction
	}
	if c.Vector.EfSearch == 0 {
		c.Vector.EfSearch = d.Vector.EfSearch
	}
	if c.Watcher.Debounce == 0 {
		c.Watcher.Debounce = d.Watcher.Debounce
	}
	if c.MCP.Burst == 0 {
		c.MCP.Burst = d.MCP.Burst
	}
}

// applyEnv applies CODERAG_* overrides and provider API keys
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	setDuration := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	setString("DATA_DIR", &c.DataDir)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)
	setString("EMBED_PROVIDER", &c.Embed.Provider)
	setString("EMBED_MODEL", &c.Embed.Model)
	setString("EMBED_BASE_URL", &c.Embed.BaseURL)
	setString("RERANK_PROVIDER", &c.Rerank.Provider)
	setString("RERANK_MODEL", &c.Rerank.Model)
	setString("VECTOR_BACKEND", &c.Vector.Backend)
	setString("QDRANT_HOST", &c.Qdrant.Host)
	setString("SYNC_CRON", &c.Schedule.SyncCron)
	setString("COMPACT_CRON", &c.Schedule.CompactCron)
	setString("HTTP_ADDR", &c.HTTP.Addr)

	for key, dst := range map[string]*int{
		"WORKERS":             &c.Indexing.Workers,
		"EMBED_BATCH_SIZE":    &c.Embed.BatchSize,
		"RERANK_CANDIDATES":   &c.Rerank.Candidates,
		"TOP_K":               &c.Search.TopK,
		"BROAD_K":             &c.Search.BroadK,
		"QDRANT_PORT":         &c.Qdrant.Port,
		"MCP_RATE_LIMIT":      &c.MCP.RateLimitPerMinute,
		"VECTOR_EF_SEARCH":    &c.Vector.EfSearch,
		"VECTOR_M":            &c.Vector.M,
		"VECTOR_EF_CONSTRUCT": &c.Vector.EfConstruction,
	} {
		if err := setInt(key, dst); err != nil {
			return err
		}
	}
	if err := setDuration("EMBED_TIMEOUT", &c.Embed.Timeout); err != nil {
		return err
	}
	if err := setDuration("RERANK_TIMEOUT", &c.Rerank.Timeout); err != nil {
		return err
	}
	if err := setDuration("DEBOUNCE", &c.Watcher.Debounce); err != nil {
		return err
	}

	if v, ok := os.LookupEnv(EnvPrefix + "RERANK_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sRERANK_ENABLED: %w", EnvPrefix, err)
		}
		c.Rerank.Enabled = b
	}

	if c.Embed.APIKey == "" {
		c.Embed.APIKey = providerKey(c.Embed.Provider)
	}
	if c.Rerank.APIKey == "" {
		c.Rerank.APIKey = providerKey(c.Rerank.Provider)
	}
	if c.Qdrant.APIKey == "" {
		c.Qdrant.APIKey = os.Getenv("QDRANT_API_KEY")
	}
	return nil
}

func providerKey(provider string) string {
	switch strings.ToLower(provider) {
	case "jina":
		return os.Getenv("JINA_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

// Validate rejects non-positive sizes and unknown providers
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Indexing.MaxFileSize <= 0 {
		return errors.New("indexing.max_file_size must be positive")
	}
	if c.Indexing.Workers <= 0 {
		return errors.New("indexing.workers must be positive")
	}
	if c.Embed.BatchSize <= 0 {
		return errors.New("embed.batch_size must be positive")
	}
	if c.Embed.Timeout <= 0 || c.Rerank.Timeout <= 0 {
		return errors.New("embed.timeout and rerank.timeout must be positive")
	}

	switch strings.ToLower(c.Embed.Provider) {
	case "local", "jina", "openai", "ollama", "gemini":
	default:
		return fmt.Errorf("embed.provider must be one of local, jina, openai, ollama, gemini (got %q)", c.Embed.Provider)
	}
	switch strings.ToLower(c.Rerank.Provider) {
	case "jina", "none", "":
	default:
		return fmt.Errorf("rerank.provider must be jina or none (got %q)", c.Rerank.Provider)
	}
	switch strings.ToLower(c.Vector.Backend) {
	case "hnsw", "qdrant", "sqlite":
	default:
		return fmt.Errorf("vector.backend must be hnsw, qdrant or sqlite (got %q)", c.Vector.Backend)
	}

	if c.Search.TopK <= 0 || c.Search.BroadK <= 0 {
		return errors.New("search.top_k and search.broad_k must be positive")
	}
	if c.Search.RRFConstant <= 0 {
		return errors.New("search.rrf_constant must be positive")
	}
	if c.Rerank.Candidates <= 0 {
		return errors.New("rerank.candidates must be positive")
	}
	if c.Vector.M < 2 || c.Vector.EfConstruction <= 0 || c.Vector.EfSearch <= 0 {
		return errors.New("vector.m must be >= 2 and ef values positive")
	}
	if c.MCP.RateLimitPerMinute < 0 {
		return errors.New("mcp.rate_limit_per_minute must not be negative")
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

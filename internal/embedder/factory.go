package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/config"
	"github.com/dshills/coderag-mcp/internal/logging"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	BatchSize int
	Timeout   time.Duration
	CacheSize int
}

// ConfigFrom maps the embed section of the application config
func ConfigFrom(c config.EmbedConfig) Config {
	return Config{
		Provider:  c.Provider,
		Model:     c.Model,
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey,
		BatchSize: c.BatchSize,
		Timeout:   c.Timeout,
		CacheSize: c.CacheSize,
	}
}

// NewProvider creates the bare provider named by cfg.Provider
func NewProvider(ctx context.Context, cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model), nil
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderLocal, "":
		return NewLocalProvider(), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// New creates a guarded embedder with explicit configuration
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Guarded, error) {
	inner, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}
	return NewGuarded(inner, GuardOptions{
		Timeout:   cfg.Timeout,
		BatchSize: cfg.BatchSize,
		Cache:     cache,
		Logger:    logger,
	}), nil
}

// NewReranker returns nil when reranking is disabled or has no credentials,
// which callers treat as "no reranker configured".
func NewReranker(c config.RerankConfig, logger *zap.Logger) (Reranker, error) {
	if !c.Enabled {
		return nil, nil
	}
	switch strings.ToLower(c.Provider) {
	case ProviderNone, "":
		return nil, nil
	case ProviderJina:
		if c.APIKey == "" {
			logging.OrNop(logger).Info("reranking disabled: no jina api key")
			return nil, nil
		}
		r, err := NewJinaReranker(c.APIKey, c.Model, "")
		if err != nil {
			return nil, err
		}
		return NewGuardedReranker(r, c.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown rerank provider %s", ErrUnsupportedModel, c.Provider)
	}
}

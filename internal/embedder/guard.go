package embedder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/logging"
	"github.com/dshills/coderag-mcp/pkg/types"
)

// GuardOptions bound every call made through a Guarded embedder
type GuardOptions struct {
	Timeout   time.Duration // per attempt
	BatchSize int
	Retry     RetryConfig
	Cache     *Cache
	Logger    *zap.Logger
}

// Guarded wraps a provider with caching, batching, per-call timeouts and
// retry. Failures that survive the retries are reported as
// types.ErrBackendUnavailable so callers can degrade.
type Guarded struct {
	inner Embedder
	opts  GuardOptions
	log   *zap.Logger
}

// NewGuarded wraps inner. Zero options take the package defaults.
func NewGuarded(inner Embedder, opts GuardOptions) *Guarded {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize > MaxBatchSize {
		opts.BatchSize = MaxBatchSize
	}
	if opts.Retry.MaxRetries <= 0 {
		opts.Retry = DefaultRetryConfig()
	}
	return &Guarded{
		inner: inner,
		opts:  opts,
		log:   logging.OrNop(opts.Logger).With(zap.String("provider", inner.Provider()), zap.String("model", inner.Model())),
	}
}

// Unwrap returns the wrapped provider
func (g *Guarded) Unwrap() Embedder { return g.inner }

func (g *Guarded) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := g.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch serves cached texts locally and sends the rest in
// BatchSize slices. Any batch failing after retries fails the call.
func (g *Guarded) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := orDefault(req.Model, g.inner.Model())
	out := make([]*Embedding, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		if g.opts.Cache != nil {
			if emb, ok := g.opts.Cache.Get(ComputeHash(model, text)); ok {
				out[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += g.opts.BatchSize {
		end := min(start+g.opts.BatchSize, len(missing))
		idx := missing[start:end]
		texts := make([]string, len(idx))
		for j, i := range idx {
			texts[j] = req.Texts[i]
		}

		embs, err := g.call(ctx, texts, req.Model)
		if err != nil {
			return nil, err
		}
		for j, i := range idx {
			emb := embs[j]
			emb.Hash = ComputeHash(model, texts[j])
			if g.opts.Cache != nil {
				g.opts.Cache.Set(emb.Hash, emb)
			}
			out[i] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: out,
		Provider:   g.inner.Provider(),
		Model:      model,
	}, nil
}

func (g *Guarded) call(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	attempt := 0
	embs, err := withRetry(ctx, g.opts.Retry, func() ([]*Embedding, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()

		resp, err := g.inner.GenerateBatch(callCtx, BatchEmbeddingRequest{Texts: texts, Model: model})
		if err != nil {
			g.log.Debug("embedding attempt failed", zap.Int("attempt", attempt), zap.Int("texts", len(texts)), zap.Error(err))
			return nil, err
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(texts), len(resp.Embeddings))
		}
		return resp.Embeddings, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		g.log.Warn("embedding backend unavailable", zap.Int("attempts", attempt), zap.Error(err))
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", types.ErrBackendUnavailable, g.inner.Provider(), attempt, err)
	}
	return embs, nil
}

func (g *Guarded) Dimension() int { return g.inner.Dimension() }

func (g *Guarded) Provider() string { return g.inner.Provider() }

func (g *Guarded) Model() string { return g.inner.Model() }

func (g *Guarded) Close() error { return g.inner.Close() }

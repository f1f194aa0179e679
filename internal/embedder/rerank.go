package embedder

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/logging"
	"github.com/dshills/coderag-mcp/pkg/types"
)

const (
	ProviderNone = "none"

	DefaultJinaRerankModel = "jina-reranker-v2-base-multilingual"
	DefaultRerankTimeout   = 10 * time.Second
)

// RerankResult scores one document by its position in the request
type RerankResult struct {
	Index int
	Score float64
}

// Reranker reorders candidate documents for a query
type Reranker interface {
	// Rerank returns one result per scored document, best first
	Rerank(ctx context.Context, query string, docs []string) ([]RerankResult, error)
	Provider() string
	Model() string
	Close() error
}

// JinaReranker calls the Jina /rerank endpoint
type JinaReranker struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewJinaReranker creates a Jina reranker
func NewJinaReranker(apiKey, model, baseURL string) (*JinaReranker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: jina api key not set", ErrNoProviderEnabled)
	}
	return &JinaReranker{
		apiKey:     apiKey,
		model:      orDefault(model, DefaultJinaRerankModel),
		baseURL:    strings.TrimRight(orDefault(baseURL, DefaultJinaBaseURL), "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (j *JinaReranker) Rerank(ctx context.Context, query string, docs []string) ([]RerankResult, error) {
	if query == "" {
		return nil, ErrEmptyText
	}
	if len(docs) == 0 {
		return nil, nil
	}

	var apiResp struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	body := map[string]any{
		"model":     j.model,
		"query":     query,
		"documents": docs,
		"top_n":     len(docs),
	}
	if err := postJSON(ctx, j.httpClient, ProviderJina, j.baseURL+"/rerank", j.apiKey, body, &apiResp); err != nil {
		return nil, err
	}

	results := make([]RerankResult, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			return nil, fmt.Errorf("%w: rerank index %d out of range", ErrProviderFailed, r.Index)
		}
		results = append(results, RerankResult{Index: r.Index, Score: r.RelevanceScore})
	}
	sortRerank(results)
	return results, nil
}

func (j *JinaReranker) Provider() string { return ProviderJina }

func (j *JinaReranker) Model() string { return j.model }

func (j *JinaReranker) Close() error {
	j.httpClient.CloseIdleConnections()
	return nil
}

func sortRerank(results []RerankResult) {
	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].Index < results[b].Index
	})
}

// GuardedReranker bounds a reranker with one overall timeout. Reranking
// sits on the query path, so retries share that budget.
type GuardedReranker struct {
	inner   Reranker
	timeout time.Duration
	retry   RetryConfig
	log     *zap.Logger
}

// NewGuardedReranker wraps inner
func NewGuardedReranker(inner Reranker, timeout time.Duration, logger *zap.Logger) *GuardedReranker {
	if timeout <= 0 {
		timeout = DefaultRerankTimeout
	}
	retry := DefaultRetryConfig()
	retry.MaxRetries = 2
	return &GuardedReranker{
		inner:   inner,
		timeout: timeout,
		retry:   retry,
		log:     logging.OrNop(logger).With(zap.String("reranker", inner.Provider())),
	}
}

// Rerank returns types.ErrBackendUnavailable on any failure, including a
// response that drops or repeats documents.
func (g *GuardedReranker) Rerank(ctx context.Context, query string, docs []string) ([]RerankResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	results, err := withRetry(callCtx, g.retry, func() ([]RerankResult, error) {
		return g.inner.Rerank(callCtx, query, docs)
	})
	if err == nil {
		err = checkPermutation(results, len(docs))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.log.Warn("rerank failed", zap.Int("docs", len(docs)), zap.Error(err))
		return nil, fmt.Errorf("%w: rerank: %w", types.ErrBackendUnavailable, err)
	}
	return results, nil
}

func checkPermutation(results []RerankResult, n int) error {
	if len(results) != n {
		return fmt.Errorf("%w: reranker returned %d results for %d documents", ErrProviderFailed, len(results), n)
	}
	seen := make([]bool, n)
	for _, r := range results {
		if r.Index < 0 || r.Index >= n || seen[r.Index] {
			return fmt.Errorf("%w: reranker returned invalid index %d", ErrProviderFailed, r.Index)
		}
		seen[r.Index] = true
	}
	return nil
}

func (g *GuardedReranker) Provider() string { return g.inner.Provider() }

func (g *GuardedReranker) Model() string { return g.inner.Model() }

func (g *GuardedReranker) Close() error { return g.inner.Close() }

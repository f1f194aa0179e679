package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dshills/coderag-mcp/internal/lexical"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultGeminiModel = "text-embedding-004"
	DefaultLocalModel  = "hash-384"

	// Default endpoints
	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOllamaBaseURL = "http://localhost:11434"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	OllamaDimension = 768
	GeminiDimension = 768
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 32
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	maxErrorBody = 4096
)

// HTTPProvider implements Embedder against an OpenAI-compatible
// /embeddings endpoint. Jina and OpenAI share the wire format.
type HTTPProvider struct {
	provider   string
	apiKey     string
	model      string
	baseURL    string
	dimension  atomic.Int64
	httpClient *http.Client
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(apiKey, model, baseURL string) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: jina api key not set", ErrNoProviderEnabled)
	}
	return newHTTPProvider(ProviderJina, apiKey, orDefault(model, DefaultJinaModel), orDefault(baseURL, DefaultJinaBaseURL), JinaDimension), nil
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey, model, baseURL string) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key not set", ErrNoProviderEnabled)
	}
	return newHTTPProvider(ProviderOpenAI, apiKey, orDefault(model, DefaultOpenAIModel), orDefault(baseURL, DefaultOpenAIBaseURL), OpenAIDimension), nil
}

func newHTTPProvider(provider, apiKey, model, baseURL string, dim int) *HTTPProvider {
	p := &HTTPProvider{
		provider:   provider,
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	p.dimension.Store(int64(dim))
	return p
}

func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (p *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := orDefault(req.Model, p.model)
	embeddings, err := p.callAPI(ctx, req.Texts, model)
	if err != nil {
		return nil, err
	}
	if len(embeddings) > 0 {
		p.dimension.Store(int64(embeddings[0].Dimension))
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.provider,
		Model:      model,
	}, nil
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": model,
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := postJSON(ctx, p.httpClient, p.provider, p.baseURL+"/embeddings", p.apiKey, reqBody, &apiResp); err != nil {
		return nil, err
	}

	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d inputs", ErrProviderFailed, p.provider, len(apiResp.Data), len(texts))
	}

	// The API may answer out of order; index is authoritative.
	sort.SliceStable(apiResp.Data, func(i, j int) bool { return apiResp.Data[i].Index < apiResp.Data[j].Index })

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		if len(data.Embedding) == 0 {
			return nil, fmt.Errorf("%w: %s returned an empty vector at %d", ErrProviderFailed, p.provider, i)
		}
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.provider,
			Model:     model,
		}
	}

	return embeddings, nil
}

func (p *HTTPProvider) Dimension() int {
	return int(p.dimension.Load())
}

func (p *HTTPProvider) Provider() string {
	return p.provider
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// postJSON sends body as JSON and decodes a 200 response into out.
// Non-200 responses become *APIError.
func postJSON(ctx context.Context, client *http.Client, provider, url, apiKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s api call: %w", provider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrProviderFailed, provider, err)
	}
	return nil
}

// LocalProvider embeds text offline by hashing identifier-aware tokens
// into a fixed number of signed buckets. Texts that share vocabulary land
// close together, which is enough for a keyless default and for tests.
type LocalProvider struct {
	model string
	dim   int
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{
		model: DefaultLocalModel,
		dim:   LocalDimension,
	}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Embedding{
		Vector:    l.embed(req.Text),
		Dimension: l.dim,
		Provider:  ProviderLocal,
		Model:     l.model,
	}, nil
}

func (l *LocalProvider) embed(text string) []float32 {
	vector := make([]float32, l.dim)
	tokens := lexical.Tokenize(text)
	for _, tok := range tokens {
		addFeature(vector, tok, 1)
	}
	// adjacent pairs keep a little word order
	for i := 1; i < len(tokens); i++ {
		addFeature(vector, tokens[i-1]+" "+tokens[i], 0.5)
	}
	return NormalizeVector(vector)
}

func addFeature(vector []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := sum % uint64(len(vector))
	if sum>>63 == 1 {
		weight = -weight
	}
	vector[bucket] += weight
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dim
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// OllamaProvider calls the Ollama /api/embed endpoint.
type OllamaProvider struct {
	baseURL   string
	model     string
	dimension atomic.Int64
	client    *http.Client
}

// NewOllamaProvider creates an embedder targeting the given Ollama instance.
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	p := &OllamaProvider{
		baseURL: strings.TrimRight(orDefault(baseURL, DefaultOllamaBaseURL), "/"),
		model:   orDefault(model, DefaultOllamaModel),
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	p.dimension.Store(OllamaDimension)
	return p
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch sends a batch of texts to Ollama. The returned slice has
// the same length and order as the input.
func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := orDefault(req.Model, o.model)
	var result ollamaEmbedResponse
	if err := postJSON(ctx, o.client, ProviderOllama, o.baseURL+"/api/embed", "", ollamaEmbedRequest{Model: model, Input: req.Texts}, &result); err != nil {
		return nil, err
	}

	if len(result.Embeddings) != len(req.Texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(req.Texts), len(result.Embeddings))
	}

	embeddings := make([]*Embedding, len(result.Embeddings))
	for i, vec := range result.Embeddings {
		embeddings[i] = &Embedding{
			Vector:    vec,
			Dimension: len(vec),
			Provider:  ProviderOllama,
			Model:     model,
		}
	}
	if len(embeddings) > 0 {
		o.dimension.Store(int64(embeddings[0].Dimension))
	}

	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderOllama, Model: model}, nil
}

func (o *OllamaProvider) Dimension() int { return int(o.dimension.Load()) }

func (o *OllamaProvider) Provider() string { return ProviderOllama }

func (o *OllamaProvider) Model() string { return o.model }

func (o *OllamaProvider) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

package embedder

import (
	"context"
	"fmt"
	"sync/atomic"

	"google.golang.org/genai"
)

// GeminiProvider embeds through the Gemini API
type GeminiProvider struct {
	client    *genai.Client
	model     string
	dimension atomic.Int64
}

// NewGeminiProvider builds one client and reuses it for every call
func NewGeminiProvider(ctx context.Context, apiKey, model, baseURL string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key not set", ErrNoProviderEnabled)
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	p := &GeminiProvider{client: client, model: orDefault(model, DefaultGeminiModel)}
	p.dimension.Store(GeminiDimension)
	return p, nil
}

func (g *GeminiProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := g.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (g *GeminiProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := orDefault(req.Model, g.model)
	contents := make([]*genai.Content, len(req.Texts))
	for i, text := range req.Texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
	}

	resp, err := g.client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(req.Texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(req.Texts), got)
	}

	embeddings := make([]*Embedding, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: no embedding values returned at %d", ErrProviderFailed, i)
		}
		embeddings[i] = &Embedding{
			Vector:    e.Values,
			Dimension: len(e.Values),
			Provider:  ProviderGemini,
			Model:     model,
		}
	}
	g.dimension.Store(int64(embeddings[0].Dimension))

	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderGemini, Model: model}, nil
}

func (g *GeminiProvider) Dimension() int { return int(g.dimension.Load()) }

func (g *GeminiProvider) Provider() string { return ProviderGemini }

func (g *GeminiProvider) Model() string { return g.model }

func (g *GeminiProvider) Close() error { return nil }

package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedding is one vector and the backend that produced it
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	// Hash is the cache key of the embedded text, see ComputeHash
	Hash string
}

// clone returns a copy that shares no memory with e
func (e *Embedding) clone() *Embedding {
	c := *e
	c.Vector = append([]float32(nil), e.Vector...)
	return &c
}

// EmbeddingRequest asks for the vector of one text
type EmbeddingRequest struct {
	Text  string
	Model string // overrides the provider's model when set
}

// BatchEmbeddingRequest asks for the vectors of several texts
type BatchEmbeddingRequest struct {
	Texts []string
	Model string
}

// BatchEmbeddingResponse holds one embedding per input text, in input order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder turns chunk text and queries into vectors. Implementations are
// safe for concurrent use.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)
	// GenerateBatch returns embeddings in input order
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)
	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// ModelTag identifies the vector space of an embedder. Stored vectors with a
// different tag are stale.
func ModelTag(e Embedder) string {
	return e.Provider() + "/" + e.Model()
}

// ValidateRequest rejects blank text
func ValidateRequest(req EmbeddingRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest rejects an empty batch or a batch with blank text
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range req.Texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: text %d is blank", ErrInvalidInput, i)
		}
	}
	return nil
}

// NormalizeVector returns v scaled to unit length. The zero vector is
// returned as is.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

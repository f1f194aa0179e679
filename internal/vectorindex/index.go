// Package vectorindex provides approximate nearest-neighbour search over
// chunk embeddings. The default backend is an in-process HNSW graph rebuilt
// from SQLite on load; Qdrant can be used instead for large projects, and
// the sqlite backend scans the embeddings table exactly.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the index's
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrUnknownBackend is returned by New for an unsupported backend name
	ErrUnknownBackend = errors.New("unknown vector backend")
)

// Backends
const (
	BackendHNSW   = "hnsw"
	BackendQdrant = "qdrant"
	BackendSQLite = "sqlite"
)

// Hit is one search result, most similar first
type Hit struct {
	ID         string
	Similarity float32
}

// Index stores one vector per chunk id
type Index interface {
	// Insert adds or replaces the vector of id
	Insert(ctx context.Context, id string, vec []float32) error
	InsertBatch(ctx context.Context, ids []string, vecs [][]float32) error
	// Remove reports whether id was present
	Remove(ctx context.Context, id string) (bool, error)
	// Search returns at most k hits ordered by decreasing similarity
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Len() int
	Tombstones() int
	Compact(ctx context.Context) error
	// Drop deletes every vector and any remote storage behind the index
	Drop(ctx context.Context) error
	Dimension() int
	Close() error
}

// Options selects and tunes a backend
type Options struct {
	Backend        string
	Dimension      int
	M              int
	EfConstruction int
	EfSearch       int
	Seed           int64
	Qdrant         QdrantOptions

	// sqlite backend only
	Store     VectorStore
	ProjectID int64
	Model     string
}

// New creates the index of one project
func New(ctx context.Context, project string, opts Options, logger *zap.Logger) (Index, error) {
	switch opts.Backend {
	case "", BackendHNSW:
		return NewHNSW(HNSWParams{
			Dimension:      opts.Dimension,
			M:              opts.M,
			EfConstruction: opts.EfConstruction,
			EfSearch:       opts.EfSearch,
			Seed:           opts.Seed,
		}), nil
	case BackendQdrant:
		return NewQdrant(ctx, project, opts.Dimension, opts.Qdrant, logger)
	case BackendSQLite:
		if opts.Store == nil {
			return nil, fmt.Errorf("%w: sqlite backend needs a store", ErrUnknownBackend)
		}
		return NewSQLite(opts.Store, opts.ProjectID, opts.Model, opts.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, opts.Backend)
	}
}

// normalize returns a unit-length copy of v; the zero vector is copied as is
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

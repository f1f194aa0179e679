package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/coderag-mcp/internal/storage"
)

// VectorStore is the part of storage.Storage the exact backend searches
type VectorStore interface {
	SearchVector(ctx context.Context, projectID int64, model string, query []float32, limit int) ([]storage.VectorResult, error)
}

// SQLite answers searches with an exact scan of the embeddings table. The
// writer commits vectors to SQLite before inserting them here, so only the
// membership set is kept in memory.
type SQLite struct {
	store     VectorStore
	projectID int64
	model     string

	mu    sync.RWMutex
	dim   int
	known map[string]struct{}
}

// NewSQLite searches the vectors stored for projectID under model
func NewSQLite(store VectorStore, projectID int64, model string, dim int) *SQLite {
	return &SQLite{
		store:     store,
		projectID: projectID,
		model:     model,
		dim:       dim,
		known:     make(map[string]struct{}),
	}
}

func (s *SQLite) Insert(ctx context.Context, id string, vec []float32) error {
	return s.InsertBatch(ctx, []string{id}, [][]float32{vec})
}

func (s *SQLite) InsertBatch(_ context.Context, ids []string, vecs [][]float32) error {
	if len(ids) != len(vecs) {
		return fmt.Errorf("insert batch: %d ids for %d vectors", len(ids), len(vecs))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, vec := range vecs {
		if s.dim == 0 {
			s.dim = len(vec)
		}
		if len(vec) != s.dim {
			return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(vec), s.dim)
		}
		s.known[ids[i]] = struct{}{}
	}
	return nil
}

func (s *SQLite) Remove(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[id]
	delete(s.known, id)
	return ok, nil
}

// Search drops rows not inserted through this index, so a vector committed
// but never published is not visible.
func (s *SQLite) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	dim := s.dim
	s.mu.RUnlock()
	if k <= 0 || dim == 0 {
		return nil, nil
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(query), dim)
	}

	rows, err := s.store.SearchVector(ctx, s.projectID, s.model, query, k)
	if err != nil {
		return nil, fmt.Errorf("sqlite vector search: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		if _, ok := s.known[r.ChunkID]; !ok {
			continue
		}
		hits = append(hits, Hit{ID: r.ChunkID, Similarity: float32(r.SimilarityScore)})
	}
	return hits, nil
}

func (s *SQLite) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.known)
}

func (s *SQLite) Tombstones() int { return 0 }

func (s *SQLite) Compact(context.Context) error { return nil }

// Drop forgets membership; the rows go with the project in SQLite
func (s *SQLite) Drop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = make(map[string]struct{})
	return nil
}

func (s *SQLite) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

func (s *SQLite) Close() error { return nil }

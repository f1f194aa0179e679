package storage

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// searchVector ranks the project's vectors of one model by cosine
// similarity to query. Only vectors of the query's dimension take part.
func searchVector(ctx context.Context, db *sql.DB, projectID int64, model string, query []float32, limit int) ([]VectorResult, error) {
	if VectorExtensionAvailable {
		return rankInSQL(ctx, db, projectID, model, query, limit)
	}
	return rankInGo(ctx, db, projectID, model, query, limit)
}

// rankInSQL lets sqlite-vec compute distances. Similarity is 1 - distance.
func rankInSQL(ctx context.Context, db *sql.DB, projectID int64, model string, query []float32, limit int) ([]VectorResult, error) {
	blob, err := encodeVector(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT chunk_id, 1.0 - vec_distance_cosine(vector, ?) AS sim
		FROM embeddings
		WHERE project_id = ? AND model = ? AND dimension = ?
		ORDER BY sim DESC, chunk_id
		LIMIT ?`,
		blob, projectID, model, len(query), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]VectorResult, 0, limit)
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.ChunkID, &r.SimilarityScore); err != nil {
			return nil, fmt.Errorf("scan vector result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// rankInGo streams every candidate vector and keeps the best limit in a heap
func rankInGo(ctx context.Context, db *sql.DB, projectID int64, model string, query []float32, limit int) ([]VectorResult, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT chunk_id, vector FROM embeddings WHERE project_id = ? AND model = ? AND dimension = ?`,
		projectID, model, len(query))
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	s := newScorer(query)
	best := &topK{limit: limit}
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		best.offer(VectorResult{ChunkID: id, SimilarityScore: s.score(unpackVector(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return best.sorted(), nil
}

// packVector lays out float32s little-endian, the format sqlite-vec reads
func packVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func unpackVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}

// scorer holds a query and its norm so each candidate costs one pass
type scorer struct {
	query []float32
	norm  float64
}

func newScorer(query []float32) scorer {
	var sum float64
	for _, f := range query {
		sum += float64(f) * float64(f)
	}
	return scorer{query: query, norm: math.Sqrt(sum)}
}

// score returns the cosine similarity with v; 0 for a zero vector or a
// dimension mismatch
func (s scorer) score(v []float32) float64 {
	if len(v) != len(s.query) || s.norm == 0 {
		return 0
	}
	var dot, sum float64
	for i, f := range v {
		dot += float64(f) * float64(s.query[i])
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return 0
	}
	return dot / (s.norm * math.Sqrt(sum))
}

// better orders results by score descending, then chunk id ascending
func better(a, b VectorResult) bool {
	if a.SimilarityScore != b.SimilarityScore {
		return a.SimilarityScore > b.SimilarityScore
	}
	return a.ChunkID < b.ChunkID
}

// topK keeps the best limit results seen; the root is the worst kept one
type topK struct {
	limit int
	items []VectorResult
}

func (t *topK) Len() int           { return len(t.items) }
func (t *topK) Less(i, j int) bool { return better(t.items[j], t.items[i]) }
func (t *topK) Swap(i, j int)      { t.items[i], t.items[j] = t.items[j], t.items[i] }
func (t *topK) Push(x any)         { t.items = append(t.items, x.(VectorResult)) }
func (t *topK) Pop() any {
	last := t.items[len(t.items)-1]
	t.items = t.items[:len(t.items)-1]
	return last
}

func (t *topK) offer(r VectorResult) {
	switch {
	case t.limit <= 0:
	case len(t.items) < t.limit:
		heap.Push(t, r)
	case better(r, t.items[0]):
		t.items[0] = r
		heap.Fix(t, 0)
	}
}

func (t *topK) sorted() []VectorResult {
	out := slices.Clone(t.items)
	slices.SortFunc(out, func(a, b VectorResult) int {
		switch {
		case better(a, b):
			return -1
		case better(b, a):
			return 1
		}
		return 0
	})
	return out
}

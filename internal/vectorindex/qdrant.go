package vectorindex

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/logging"
)

// QdrantOptions holds connection details for a Qdrant server
type QdrantOptions struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

const payloadChunkID = "chunk_id"

// Qdrant keeps a project's vectors in a Qdrant collection. SQLite remains the
// source of truth: the collection is re-populated on load, so the set of
// known ids is tracked locally.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	logger     *zap.Logger

	mu    sync.RWMutex
	dim   int
	known map[string]struct{}
	ready bool
}

// CollectionName maps a project name to its collection
func CollectionName(project string) string {
	var b strings.Builder
	b.WriteString("coderag_")
	for _, r := range strings.ToLower(project) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// NewQdrant connects to Qdrant. The collection is created on first insert
// once the dimension is known.
func NewQdrant(ctx context.Context, project string, dim int, opts QdrantOptions, logger *zap.Logger) (*Qdrant, error) {
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	port := opts.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	q := &Qdrant{
		client:     client,
		collection: CollectionName(project),
		logger:     logging.OrNop(logger).With(zap.String("collection", CollectionName(project))),
		dim:        dim,
		known:      make(map[string]struct{}),
	}
	if dim > 0 {
		if err := q.ensureCollection(ctx, dim); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context, dim int) error {
	if q.ready {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		q.logger.Info("collection created", zap.Int("dimension", dim))
	} else {
		info, err := q.client.GetCollectionInfo(ctx, q.collection)
		if err != nil {
			return fmt.Errorf("failed to get collection info: %w", err)
		}
		if cfg := info.GetConfig(); cfg != nil {
			if params := cfg.GetParams().GetVectorsConfig().GetParams(); params != nil && int(params.Size) != dim {
				return fmt.Errorf("%w: collection has %d, vectors have %d", ErrDimensionMismatch, params.Size, dim)
			}
		}
	}

	q.dim = dim
	q.ready = true
	return nil
}

// pointID turns a chunk id (32 hex chars) into the UUID form Qdrant accepts
func pointID(id string) (*qdrant.PointId, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("chunk id %q is not a valid point id: %w", id, err)
	}
	return qdrant.NewID(u.String()), nil
}

// Insert upserts one vector
func (q *Qdrant) Insert(ctx context.Context, id string, vec []float32) error {
	return q.InsertBatch(ctx, []string{id}, [][]float32{vec})
}

// InsertBatch upserts vectors in one request
func (q *Qdrant) InsertBatch(ctx context.Context, ids []string, vecs [][]float32) error {
	if len(ids) != len(vecs) {
		return fmt.Errorf("insert batch: %d ids for %d vectors", len(ids), len(vecs))
	}
	if len(ids) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	dim := q.dim
	if dim == 0 {
		dim = len(vecs[0])
	}
	points := make([]*qdrant.PointStruct, 0, len(ids))
	for i, id := range ids {
		if len(vecs[i]) != dim {
			return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(vecs[i]), dim)
		}
		pid, err := pointID(id)
		if err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pid,
			Vectors: qdrant.NewVectors(vecs[i]...),
			Payload: qdrant.NewValueMap(map[string]any{payloadChunkID: id}),
		})
	}

	if err := q.ensureCollection(ctx, dim); err != nil {
		return err
	}
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	for _, id := range ids {
		q.known[id] = struct{}{}
	}
	q.logger.Debug("upserted points", zap.Int("count", len(points)))
	return nil
}

// Remove deletes one point
func (q *Qdrant) Remove(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.known[id]; !ok || !q.ready {
		return false, nil
	}
	pid, err := pointID(id)
	if err != nil {
		return false, err
	}
	if _, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pid),
	}); err != nil {
		return false, fmt.Errorf("failed to delete points: %w", err)
	}
	delete(q.known, id)
	return true, nil
}

// Search queries the collection by cosine similarity
func (q *Qdrant) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if k <= 0 || !q.ready || len(q.known) == 0 {
		return nil, nil
	}
	if len(query) != q.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), q.dim)
	}

	limit := uint64(k)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		id := p.GetPayload()[payloadChunkID].GetStringValue()
		if id == "" {
			id = strings.ReplaceAll(p.GetId().GetUuid(), "-", "")
		}
		hits = append(hits, Hit{ID: id, Similarity: p.GetScore()})
	}
	return hits, nil
}

// Len returns the number of ids upserted through this index
func (q *Qdrant) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.known)
}

// Tombstones is always zero; Qdrant deletes points immediately
func (q *Qdrant) Tombstones() int { return 0 }

// Compact is handled by Qdrant's own optimizer
func (q *Qdrant) Compact(context.Context) error { return nil }

// Dimension returns the collection's vector size
func (q *Qdrant) Dimension() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dim
}

// Drop deletes the collection
func (q *Qdrant) Drop(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
		q.logger.Info("collection deleted")
	}
	q.known = make(map[string]struct{})
	q.ready = false
	return nil
}

// Close releases the gRPC connection
func (q *Qdrant) Close() error {
	return q.client.Close()
}

package vectorindex

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Default HNSW construction parameters
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 48

	// compaction runs once tombstones exceed this share of nodes
	compactRatio = 0.25
)

// HNSWParams configures an HNSW graph. Zero values take the defaults; a zero
// Dimension is fixed by the first insert.
type HNSWParams struct {
	Dimension      int
	M              int
	EfConstruction int
	EfSearch       int
	Seed           int64
}

type hnswNode struct {
	id      string
	vec     []float32
	level   int
	links   [][]int32
	deleted bool
}

// HNSW is a hierarchical navigable small world graph over unit vectors.
// Removal marks a node deleted; it keeps routing searches but is never
// returned, and the graph is rebuilt once deleted nodes pile up.
type HNSW struct {
	mu sync.RWMutex

	params    HNSWParams
	maxLinks0 int
	levelMult float64
	rng       *rand.Rand

	dim        int
	nodes      []*hnswNode
	ids        map[string]int32
	entry      int32
	maxLevel   int
	tombstones int
}

// NewHNSW creates an empty graph
func NewHNSW(p HNSWParams) *HNSW {
	if p.M <= 1 {
		p.M = DefaultM
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = DefaultEfConstruction
	}
	if p.EfSearch <= 0 {
		p.EfSearch = DefaultEfSearch
	}

	h := &HNSW{
		params:    p,
		maxLinks0: 2 * p.M,
		levelMult: 1 / math.Log(float64(p.M)),
		dim:       p.Dimension,
	}
	h.reset()
	return h
}

func (h *HNSW) reset() {
	h.rng = rand.New(rand.NewSource(h.params.Seed))
	h.nodes = nil
	h.ids = make(map[string]int32)
	h.entry = -1
	h.maxLevel = 0
	h.tombstones = 0
}

// Insert adds vec under id, replacing any previous vector for id
func (h *HNSW) Insert(_ context.Context, id string, vec []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.insertLocked(id, vec)
}

// InsertBatch inserts every pair under a single lock acquisition
func (h *HNSW) InsertBatch(_ context.Context, ids []string, vecs [][]float32) error {
	if len(ids) != len(vecs) {
		return fmt.Errorf("insert batch: %d ids for %d vectors", len(ids), len(vecs))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range ids {
		if err := h.insertLocked(ids[i], vecs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (h *HNSW) insertLocked(id string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if h.dim == 0 {
		h.dim = len(vec)
	}
	if len(vec) != h.dim {
		return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(vec), h.dim)
	}

	if old, ok := h.ids[id]; ok {
		h.nodes[old].deleted = true
		h.tombstones++
		delete(h.ids, id)
	}

	h.link(id, normalize(vec))
	h.maybeCompact()
	return nil
}

// link adds a normalised vector to the graph
func (h *HNSW) link(id string, vec []float32) {
	level := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.levelMult))
	idx := int32(len(h.nodes))
	n := &hnswNode{id: id, vec: vec, level: level, links: make([][]int32, level+1)}
	h.nodes = append(h.nodes, n)
	h.ids[id] = idx

	if h.entry < 0 {
		h.entry = idx
		h.maxLevel = level
		return
	}

	ep := h.entry
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedy(vec, ep, l)
	}

	eps := []int32{ep}
	for l := min(level, h.maxLevel); l >= 0; l-- {
		found := h.searchLayer(vec, eps, h.params.EfConstruction, l)
		neighbours := closest(found, h.params.M)

		n.links[l] = make([]int32, 0, len(neighbours))
		for _, c := range neighbours {
			n.links[l] = append(n.links[l], c.idx)
			h.connect(c.idx, idx, l)
		}

		eps = eps[:0]
		for _, c := range found {
			eps = append(eps, c.idx)
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = idx
	}
}

// connect adds a back link from node to neighbour, pruning to the closest
// links when the layer's capacity is exceeded
func (h *HNSW) connect(node, neighbour int32, level int) {
	n := h.nodes[node]
	n.links[level] = append(n.links[level], neighbour)

	limit := h.params.M
	if level == 0 {
		limit = h.maxLinks0
	}
	if len(n.links[level]) <= limit {
		return
	}

	cands := make([]candidate, 0, len(n.links[level]))
	for _, other := range n.links[level] {
		cands = append(cands, candidate{idx: other, dist: distance(n.vec, h.nodes[other].vec)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })

	n.links[level] = n.links[level][:0]
	for _, c := range cands[:limit] {
		n.links[level] = append(n.links[level], c.idx)
	}
}

func (h *HNSW) greedy(q []float32, ep int32, level int) int32 {
	best := distance(q, h.nodes[ep].vec)
	for changed := true; changed; {
		changed = false
		for _, nb := range h.nodes[ep].links[level] {
			if d := distance(q, h.nodes[nb].vec); d < best {
				best, ep, changed = d, nb, true
			}
		}
	}
	return ep
}

// searchLayer returns up to ef nodes nearest to q on one layer, nearest first
func (h *HNSW) searchLayer(q []float32, eps []int32, ef int, level int) []candidate {
	visited := make(map[int32]struct{}, ef*4)
	cands := &minHeap{}
	found := &maxHeap{}

	for _, ep := range eps {
		if _, ok := visited[ep]; ok {
			continue
		}
		visited[ep] = struct{}{}
		c := candidate{idx: ep, dist: distance(q, h.nodes[ep].vec)}
		heap.Push(cands, c)
		heap.Push(found, c)
	}
	for found.Len() > ef {
		heap.Pop(found)
	}

	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		if found.Len() >= ef && c.dist > (*found)[0].dist {
			break
		}
		node := h.nodes[c.idx]
		if level >= len(node.links) {
			continue
		}
		for _, nb := range node.links[level] {
			if _, ok := visited[nb]; ok {
				continue
			}
			visited[nb] = struct{}{}
			d := distance(q, h.nodes[nb].vec)
			if found.Len() < ef || d < (*found)[0].dist {
				heap.Push(cands, candidate{idx: nb, dist: d})
				heap.Push(found, candidate{idx: nb, dist: d})
				if found.Len() > ef {
					heap.Pop(found)
				}
			}
		}
	}

	out := make([]candidate, found.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(found).(candidate)
	}
	return out
}

// Remove tombstones id
func (h *HNSW) Remove(_ context.Context, id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx, ok := h.ids[id]
	if !ok {
		return false, nil
	}
	h.nodes[idx].deleted = true
	h.tombstones++
	delete(h.ids, id)
	h.maybeCompact()
	return true, nil
}

// Search returns the k live nodes most similar to query
func (h *HNSW) Search(_ context.Context, query []float32, k int) ([]Hit, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if k <= 0 || len(h.ids) == 0 {
		return nil, nil
	}
	if len(query) != h.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), h.dim)
	}

	q := normalize(query)
	ep := h.entry
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedy(q, ep, l)
	}

	ef := max(h.params.EfSearch, k)
	ef += min(h.tombstones, ef)

	found := h.searchLayer(q, []int32{ep}, ef, 0)
	hits := make([]Hit, 0, min(k, len(found)))
	for _, c := range found {
		n := h.nodes[c.idx]
		if n.deleted {
			continue
		}
		hits = append(hits, Hit{ID: n.id, Similarity: 1 - c.dist})
		if len(hits) == k {
			break
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

// Len returns the number of live vectors
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ids)
}

// Tombstones returns the number of removed nodes still in the graph
func (h *HNSW) Tombstones() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tombstones
}

// Dimension returns the vector length, 0 until the first insert
func (h *HNSW) Dimension() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dim
}

// Compact rebuilds the graph from live nodes in insertion order
func (h *HNSW) Compact(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.compactLocked()
	return nil
}

func (h *HNSW) maybeCompact() {
	if h.tombstones > 0 && float64(h.tombstones) > compactRatio*float64(len(h.nodes)) {
		h.compactLocked()
	}
}

func (h *HNSW) compactLocked() {
	if h.tombstones == 0 {
		return
	}
	live := make([]*hnswNode, 0, len(h.ids))
	for _, n := range h.nodes {
		if !n.deleted {
			live = append(live, n)
		}
	}

	h.reset()
	for _, n := range live {
		h.link(n.id, n.vec)
	}
}

// Drop empties the graph and forgets its dimension unless it was configured
func (h *HNSW) Drop(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reset()
	h.dim = h.params.Dimension
	return nil
}

// Close is a no-op for the in-process graph
func (h *HNSW) Close() error { return nil }

func distance(a, b []float32) float32 {
	return 1 - dot(a, b)
}

type candidate struct {
	idx  int32
	dist float32
}

func closest(cands []candidate, n int) []candidate {
	if len(cands) <= n {
		return cands
	}
	return cands[:n]
}

type minHeap []candidate

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

type maxHeap []candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

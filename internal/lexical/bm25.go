// Package lexical is an in-memory BM25 index over chunk text. It is rebuilt
// from the chunks table when a project is loaded and updated after every
// committed file.
package lexical

import (
	"math"
	"sort"
	"sync"
)

// BM25 parameters
const (
	K1 = 1.2
	B  = 0.75
)

// Hit is one scored chunk
type Hit struct {
	ID    string
	Score float64
}

// Index maps terms to the chunks containing them
type Index struct {
	mu       sync.RWMutex
	postings map[string]map[string]int
	docTerms map[string][]string
	docLen   map[string]int
	totalLen int
}

// New creates an empty index
func New() *Index {
	return &Index{
		postings: make(map[string]map[string]int),
		docTerms: make(map[string][]string),
		docLen:   make(map[string]int),
	}
}

// Index replaces the postings of id with those of text. Text without a
// single term leaves id unindexed.
func (x *Index) Index(id, text string) {
	tokens := Tokenize(text)

	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(id)
	if len(tokens) == 0 {
		return
	}

	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	terms := make([]string, 0, len(tf))
	for t, n := range tf {
		p := x.postings[t]
		if p == nil {
			p = make(map[string]int)
			x.postings[t] = p
		}
		p[id] = n
		terms = append(terms, t)
	}

	x.docTerms[id] = terms
	x.docLen[id] = len(tokens)
	x.totalLen += len(tokens)
}

// Remove drops id, reporting whether it was indexed
func (x *Index) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.removeLocked(id)
}

func (x *Index) removeLocked(id string) bool {
	terms, ok := x.docTerms[id]
	if !ok {
		return false
	}
	for _, t := range terms {
		p := x.postings[t]
		delete(p, id)
		if len(p) == 0 {
			delete(x.postings, t)
		}
	}
	x.totalLen -= x.docLen[id]
	delete(x.docTerms, id)
	delete(x.docLen, id)
	return true
}

// Search scores every chunk sharing a term with query and returns the best
// limit, highest score first and ties by id
func (x *Index) Search(query string, limit int) []Hit {
	if limit <= 0 {
		return nil
	}
	terms := unique(Tokenize(query))

	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.docLen)
	if n == 0 || len(terms) == 0 {
		return nil
	}
	avgLen := float64(x.totalLen) / float64(n)

	scores := make(map[string]float64)
	for _, t := range terms {
		p := x.postings[t]
		if len(p) == 0 {
			continue
		}
		df := float64(len(p))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		for id, tf := range p {
			f := float64(tf)
			norm := K1 * (1 - B + B*float64(x.docLen[id])/avgLen)
			scores[id] += idf * f * (K1 + 1) / (f + norm)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, Hit{ID: id, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Len returns the number of indexed chunks
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docLen)
}

// Contains reports whether id is indexed
func (x *Index) Contains(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.docLen[id]
	return ok
}

func unique(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

package embedder

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of vectors kept when no size is given
const DefaultCacheSize = 10000

// Cache keeps recent embeddings by ComputeHash key. Entries are copied on
// the way in and out, so callers may modify what they get.
type Cache struct {
	lru    *lru.Cache[string, *Embedding]
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats counts lookups since the cache was created
type CacheStats struct {
	Size   int
	Hits   int64
	Misses int64
}

// NewCache creates a cache of at most size entries
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[string, *Embedding](size)
	if err != nil {
		// only a non-positive size fails
		panic(err)
	}
	return &Cache{lru: l}
}

// Get returns a copy of the cached embedding for key
func (c *Cache) Get(key string) (*Embedding, bool) {
	emb, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return emb.clone(), true
}

// Set stores a copy of emb, evicting the least recently used entry when full
func (c *Cache) Set(key string, emb *Embedding) {
	if emb == nil {
		return
	}
	c.lru.Add(key, emb.clone())
}

// Size returns the number of cached embeddings
func (c *Cache) Size() int {
	return c.lru.Len()
}

// Clear drops every entry; counters are kept
func (c *Cache) Clear() {
	c.lru.Purge()
}

// Stats returns the current size and lookup counters
func (c *Cache) Stats() CacheStats {
	return CacheStats{Size: c.lru.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// ComputeHash is the cache key of text under model. The model is part of
// the key so a model switch never serves an old vector.
func ComputeHash(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	a := ComputeHash("m1", "hello world")
	assert.Len(t, a, 64)
	assert.Equal(t, a, ComputeHash("m1", "hello world"))
	assert.NotEqual(t, a, ComputeHash("m2", "hello world"), "model is part of the key")
	assert.NotEqual(t, ComputeHash("ab", "c"), ComputeHash("a", "bc"))
}

func TestCache(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		cache := NewCache(10)
		emb := &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3, Provider: "p", Model: "m", Hash: "h"}
		cache.Set("h", emb)

		got, ok := cache.Get("h")
		require.True(t, ok)
		assert.Equal(t, emb, got)
		assert.NotSame(t, emb, got)
	})

	t.Run("entries do not alias caller memory", func(t *testing.T) {
		cache := NewCache(10)
		in := &Embedding{Vector: []float32{1, 2, 3}}
		cache.Set("h", in)
		in.Vector[0] = 42

		got, _ := cache.Get("h")
		got.Vector[1] = 99

		again, _ := cache.Get("h")
		assert.Equal(t, []float32{1, 2, 3}, again.Vector)
	})

	t.Run("least recently used is evicted", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("a", &Embedding{})
		cache.Set("b", &Embedding{})
		_, _ = cache.Get("a")
		cache.Set("c", &Embedding{})

		_, okA := cache.Get("a")
		_, okB := cache.Get("b")
		assert.True(t, okA)
		assert.False(t, okB)
		assert.Equal(t, 2, cache.Size())
	})

	t.Run("nil is not stored", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("a", nil)
		assert.Zero(t, cache.Size())
	})

	t.Run("stats and clear", func(t *testing.T) {
		cache := NewCache(0)
		cache.Set("a", &Embedding{})
		_, _ = cache.Get("a")
		_, _ = cache.Get("missing")

		cache.Clear()
		assert.Equal(t, CacheStats{Size: 0, Hits: 1, Misses: 1}, cache.Stats())
	})
}

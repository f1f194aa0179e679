package indexer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexLock_ConcurrentAcquisition(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func(t *testing.T)
	}{
		{
			name: "TryAcquire succeeds when lock is available",
			testFunc: func(t *testing.T) {
				var lock IndexLock
				assert.True(t, lock.TryAcquire())
				assert.True(t, lock.Held())
				lock.Release()
				assert.False(t, lock.Held())
			},
		},
		{
			name: "TryAcquire fails when lock is held",
			testFunc: func(t *testing.T) {
				var lock IndexLock
				require.True(t, lock.TryAcquire())
				assert.False(t, lock.TryAcquire(), "second writer must not wait")
				lock.Release()
			},
		},
		{
			name: "Release makes lock available again",
			testFunc: func(t *testing.T) {
				var lock IndexLock
				require.True(t, lock.TryAcquire())
				lock.Release()
				assert.True(t, lock.TryAcquire())
				lock.Release()
			},
		},
		{
			name: "Exactly one of many goroutines acquires",
			testFunc: func(t *testing.T) {
				var lock IndexLock
				const n = 100

				acquired := make([]bool, n)
				var wg sync.WaitGroup
				wg.Add(n)
				for i := 0; i < n; i++ {
					go func(idx int) {
						defer wg.Done()
						acquired[idx] = lock.TryAcquire()
					}(i)
				}
				wg.Wait()

				count := 0
				for _, ok := range acquired {
					if ok {
						count++
					}
				}
				assert.Equal(t, 1, count)
				lock.Release()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.testFunc)
	}
}

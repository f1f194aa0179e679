package indexer

import "sync/atomic"

// IndexLock is the single-writer lock of a project. It never blocks: a
// second index, sync or remove on the same project fails immediately.
type IndexLock struct {
	state atomic.Int32 // 0 = free, 1 = held
}

// TryAcquire takes the lock if it is free
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether a writer currently owns the project
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}

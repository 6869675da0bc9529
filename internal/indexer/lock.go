package indexer

import "sync/atomic"

// IndexLock is the "currently processing" flag of an orchestrator. It never
// blocks: a caller that fails to acquire it backs off instead of queueing.
type IndexLock struct {
	held atomic.Bool
}

// TryAcquire takes the lock and reports whether it was free
func (l *IndexLock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release frees the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.held.Store(false)
}

// Held reports whether the lock is taken
func (l *IndexLock) Held() bool {
	return l.held.Load()
}

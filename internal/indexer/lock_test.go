package indexer

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	assert.False(t, l.TryAcquire())

	l.Release()
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
}

func TestIndexLockSingleWinner(t *testing.T) {
	var (
		l    IndexLock
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

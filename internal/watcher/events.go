package watcher

import (
	"sort"
	"sync"

	"github.com/dshills/gocontext-index/pkg/types"
)

// BatchProgress is emitted after each file of a batch is handled
type BatchProgress struct {
	ProcessedInBatch int
	TotalInBatch     int
	CurrentFile      string
}

// BatchSummary is emitted when a batch is done
type BatchSummary struct {
	Paths         []string
	Indexed       int
	Removed       int
	Failed        int
	BlocksIndexed int
	Issues        []types.Issue
	Errors        []error
}

// HasFailures reports whether anything in the batch went wrong
func (s BatchSummary) HasFailures() bool {
	return s.Failed > 0 || len(s.Errors) > 0
}

// emitter fans events out to subscribers in subscription order
type emitter[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
}

func (e *emitter[T]) subscribe(fn func(T)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int]func(T))
	}
	id := e.next
	e.next++
	e.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *emitter[T]) emit(v T) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.subs[id])
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (e *emitter[T]) clear() {
	e.mu.Lock()
	e.subs = nil
	e.mu.Unlock()
}

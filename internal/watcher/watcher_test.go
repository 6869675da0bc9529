package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/internal/scanner"
	"github.com/dshills/gocontext-index/pkg/types"
)

// fakeProcessor records the calls the watcher makes
type fakeProcessor struct {
	root   string
	filter *scanner.Filter

	mu       sync.Mutex
	indexed  []string
	removed  []string
	indexErr error
}

func newFakeProcessor(root string) *fakeProcessor {
	return &fakeProcessor{
		root:   root,
		filter: scanner.NewFilter([]string{".go"}, []string{"vendor"}, 1<<20),
	}
}

func (p *fakeProcessor) IndexFiles(_ context.Context, paths []string, cb scanner.Callbacks) (*types.ScanStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexErr != nil {
		if cb.OnBatchError != nil {
			cb.OnBatchError(&scanner.SegmentError{ID: "s-1", Kind: types.KindRateLimit, Blocks: 1, Err: p.indexErr})
		}
		return &types.ScanStats{FilesFound: len(paths), FilesFailed: len(paths)}, nil
	}
	p.indexed = append(p.indexed, paths...)
	return &types.ScanStats{FilesFound: len(paths), FilesIndexed: len(paths), BlocksIndexed: len(paths)}, nil
}

func (p *fakeProcessor) RemoveFiles(_ context.Context, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, paths...)
	return nil
}

func (p *fakeProcessor) Rel(path string) (string, error) {
	rel, err := filepath.Rel(p.root, path)
	if err != nil || strings.HasPrefix(rel, "..") || rel == "." {
		return "", scanner.ErrOutsideWorkspace
	}
	return filepath.ToSlash(rel), nil
}

func (p *fakeProcessor) Filter() *scanner.Filter { return p.filter }

func (p *fakeProcessor) snapshot() (indexed, removed []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	indexed = append([]string(nil), p.indexed...)
	removed = append([]string(nil), p.removed...)
	sort.Strings(indexed)
	sort.Strings(removed)
	return indexed, removed
}

// resolvedTempDir avoids symlinked temp roots (macOS /var -> /private/var)
func resolvedTempDir(t *testing.T) string {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func startWatcher(t *testing.T, root string, proc Processor) *FileWatcher {
	t.Helper()
	w, err := New(root, proc, Options{Debounce: 50 * time.Millisecond, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, w.Initialize(context.Background()))
	t.Cleanup(w.Dispose)
	return w
}

func TestWatcher_BatchesChanges(t *testing.T) {
	root := resolvedTempDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	proc := newFakeProcessor(root)
	w := startWatcher(t, root, proc)

	var mu sync.Mutex
	var started [][]string
	var progress []BatchProgress
	var summaries []BatchSummary
	w.OnDidStartBatchProcessing(func(paths []string) {
		mu.Lock()
		started = append(started, paths)
		mu.Unlock()
	})
	w.OnBatchProgressUpdate(func(p BatchProgress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	w.OnDidFinishBatchProcessing(func(s BatchSummary) {
		mu.Lock()
		summaries = append(summaries, s)
		mu.Unlock()
	})

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "b.go"), []byte("package b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))

	assert.Eventually(t, func() bool {
		indexed, _ := proc.snapshot()
		return len(unique(indexed)) == 2
	}, 5*time.Second, 20*time.Millisecond)

	indexed, _ := proc.snapshot()
	assert.Equal(t, []string{"a.go", "pkg/b.go"}, unique(indexed))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(summaries) > 0
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, started)
	last := progress[len(progress)-1]
	assert.Equal(t, last.TotalInBatch, last.ProcessedInBatch)
	total := 0
	for _, s := range summaries {
		total += s.Indexed
		assert.False(t, s.HasFailures())
	}
	assert.GreaterOrEqual(t, total, 2)
}

func unique(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func TestWatcher_RemovedFiles(t *testing.T) {
	root := resolvedTempDir(t)
	path := filepath.Join(root, "gone.go")
	require.NoError(t, os.WriteFile(path, []byte("package gone"), 0o644))
	proc := newFakeProcessor(root)
	startWatcher(t, root, proc)

	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool {
		_, removed := proc.snapshot()
		return len(removed) == 1 && removed[0] == "gone.go"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	root := resolvedTempDir(t)
	proc := newFakeProcessor(root)
	startWatcher(t, root, proc)

	dir := filepath.Join(root, "newpkg")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "first.go"), []byte("package newpkg"), 0o644))

	assert.Eventually(t, func() bool {
		indexed, _ := proc.snapshot()
		for _, p := range indexed {
			if p == "newpkg/first.go" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	// Files in the directory after registration arrive as ordinary events
	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.go"), []byte("package newpkg"), 0o644))
	assert.Eventually(t, func() bool {
		indexed, _ := proc.snapshot()
		for _, p := range indexed {
			if p == "newpkg/second.go" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoredDirectory(t *testing.T) {
	root := resolvedTempDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor"), 0o755))
	proc := newFakeProcessor(root)
	startWatcher(t, root, proc)

	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "dep.go"), []byte("package dep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	assert.Eventually(t, func() bool {
		indexed, _ := proc.snapshot()
		return len(indexed) > 0
	}, 5*time.Second, 20*time.Millisecond)

	indexed, _ := proc.snapshot()
	assert.Equal(t, []string{"main.go"}, unique(indexed))
}

func TestWatcher_FailureSummary(t *testing.T) {
	root := resolvedTempDir(t)
	proc := newFakeProcessor(root)
	proc.indexErr = errors.New("429 too many requests")
	w := startWatcher(t, root, proc)

	done := make(chan BatchSummary, 1)
	w.OnDidFinishBatchProcessing(func(s BatchSummary) {
		select {
		case done <- s:
		default:
		}
	})

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))

	select {
	case s := <-done:
		assert.True(t, s.HasFailures())
		require.NotEmpty(t, s.Issues)
		assert.Equal(t, types.KindRateLimit, s.Issues[0].Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch summary")
	}
}

func TestWatcher_UnsubscribeAndDispose(t *testing.T) {
	root := resolvedTempDir(t)
	proc := newFakeProcessor(root)
	w := startWatcher(t, root, proc)

	var calls int
	var mu sync.Mutex
	unsub := w.OnDidStartBatchProcessing(func([]string) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	unsub()
	unsub() // idempotent

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))
	assert.Eventually(t, func() bool {
		indexed, _ := proc.snapshot()
		return len(indexed) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()

	w.Dispose()
	w.Dispose()
	assert.ErrorIs(t, w.Initialize(context.Background()), ErrDisposed)
}

func TestEmitterOrder(t *testing.T) {
	var e emitter[int]
	var got []string
	e.subscribe(func(int) { got = append(got, "first") })
	e.subscribe(func(int) { got = append(got, "second") })
	e.emit(1)
	assert.Equal(t, []string{"first", "second"}, got)

	e.clear()
	e.emit(2)
	assert.Len(t, got, 2)
}

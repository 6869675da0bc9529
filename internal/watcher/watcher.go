package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/internal/scanner"
	"github.com/dshills/gocontext-index/pkg/types"
)

// DefaultDebounce is the quiet period before a batch is processed
const DefaultDebounce = 500 * time.Millisecond

// ErrDisposed is returned when initializing a disposed watcher
var ErrDisposed = errors.New("watcher disposed")

// Processor applies file changes to the index. *scanner.DirectoryScanner
// implements it.
type Processor interface {
	IndexFiles(ctx context.Context, paths []string, cb scanner.Callbacks) (*types.ScanStats, error)
	RemoveFiles(ctx context.Context, paths []string) error
	Rel(path string) (string, error)
	Filter() *scanner.Filter
}

// Options tunes a FileWatcher
type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// change is the pending operation for one path
type change int

const (
	changeUpsert change = iota
	changeRemove
)

// FileWatcher turns filesystem events under a workspace root into batched
// index updates
type FileWatcher struct {
	root     string
	proc     Processor
	debounce time.Duration
	logger   *slog.Logger

	started  emitter[[]string]
	progress emitter[BatchProgress]
	finished emitter[BatchSummary]

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	disposed bool
}

// New creates a watcher. Call Initialize to start watching.
func New(root string, proc Processor, opts Options) (*FileWatcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewModuleLogger("watcher", "fsnotify")
	}
	return &FileWatcher{
		root:     abs,
		proc:     proc,
		debounce: opts.Debounce,
		logger:   opts.Logger.With("workspace", abs),
	}, nil
}

// OnDidStartBatchProcessing subscribes to batch start events
func (w *FileWatcher) OnDidStartBatchProcessing(fn func(paths []string)) func() {
	return w.started.subscribe(fn)
}

// OnBatchProgressUpdate subscribes to per-file progress events
func (w *FileWatcher) OnBatchProgressUpdate(fn func(BatchProgress)) func() {
	return w.progress.subscribe(fn)
}

// OnDidFinishBatchProcessing subscribes to batch completion events
func (w *FileWatcher) OnDidFinishBatchProcessing(fn func(BatchSummary)) func() {
	return w.finished.subscribe(fn)
}

// Initialize registers every non-ignored directory and starts the event
// loop. Calling it on a running watcher is a no-op.
func (w *FileWatcher) Initialize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return ErrDisposed
	}
	if w.fsw != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.addTree(fsw, w.root, nil); err != nil {
		_ = fsw.Close()
		return err
	}

	// The loop outlives the caller's request; only Dispose stops it
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.fsw = fsw
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(loopCtx, fsw)

	w.logger.Info("file watcher started", slog.Int("debounce_ms", int(w.debounce.Milliseconds())))
	return nil
}

// Dispose stops the event loop, waits for an in-flight batch to finish and
// drops every subscription. It is safe to call more than once.
func (w *FileWatcher) Dispose() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	fsw, cancel := w.fsw, w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()

	w.started.clear()
	w.progress.clear()
	w.finished.clear()
	w.logger.Info("file watcher stopped")
}

// addTree registers dir and its non-ignored subdirectories. When found is
// not nil, indexable files below dir are appended to it.
func (w *FileWatcher) addTree(fsw *fsnotify.Watcher, dir string, found *[]string) error {
	filter := w.proc.Filter()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			if found != nil && d.Type().IsRegular() && filter.Include(d.Name(), -1) {
				*found = append(*found, path)
			}
			return nil
		}
		if path != w.root && filter.IgnoreDir(d.Name()) {
			return fs.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
}

// loop coalesces events per path and processes them once the workspace
// has been quiet for the debounce window
func (w *FileWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	pending := make(map[string]change)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if w.record(fsw, event, pending) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := pending
			pending = make(map[string]change)
			w.process(ctx, batch)
		}
	}
}

// record folds one event into pending and reports whether anything changed
func (w *FileWatcher) record(fsw *fsnotify.Watcher, event fsnotify.Event, pending map[string]change) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	rel, err := w.proc.Rel(event.Name)
	if err != nil {
		return false
	}
	filter := w.proc.Filter()
	if filter.IgnorePath(rel) {
		return false
	}

	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		if filter.Include(rel, -1) {
			pending[rel] = changeRemove
			return true
		}
		return false
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		if filter.Include(rel, -1) {
			pending[rel] = changeRemove
			return true
		}
		return false
	}

	if info.IsDir() {
		if !event.Op.Has(fsnotify.Create) || filter.IgnoreDir(info.Name()) {
			return false
		}
		// A new directory may arrive already populated (checkout, move)
		var files []string
		if err := w.addTree(fsw, event.Name, &files); err != nil {
			w.logger.Warn("failed to watch new directory", slog.String("path", event.Name), slog.String("error", err.Error()))
		}
		changed := false
		for _, f := range files {
			if r, err := w.proc.Rel(f); err == nil && !filter.IgnorePath(r) {
				pending[r] = changeUpsert
				changed = true
			}
		}
		return changed
	}

	if !filter.Include(rel, info.Size()) {
		return false
	}
	pending[rel] = changeUpsert
	return true
}

// process applies one batch and emits start, progress and finish events
func (w *FileWatcher) process(ctx context.Context, batch map[string]change) {
	paths := make([]string, 0, len(batch))
	for p := range batch {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	w.logger.Debug("processing batch", slog.Int("files", len(paths)))
	w.started.emit(paths)

	summary := BatchSummary{Paths: paths}
	var issues types.IssueLog
	total := len(paths)

	for i, path := range paths {
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, ctx.Err())
			break
		}

		switch batch[path] {
		case changeRemove:
			if err := w.proc.RemoveFiles(ctx, []string{path}); err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Errorf("remove %s: %w", path, err))
			} else {
				summary.Removed++
			}
		default:
			stats, err := w.proc.IndexFiles(ctx, []string{path}, scanner.Callbacks{
				OnBatchError: func(err error) {
					var se *scanner.SegmentError
					if errors.As(err, &se) {
						issues.Add(se.Kind, se.Error())
						return
					}
					issues.Add(types.KindUnknown, err.Error())
				},
			})
			switch {
			case err != nil:
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Errorf("index %s: %w", path, err))
			case stats != nil:
				summary.Indexed += stats.FilesIndexed
				summary.Removed += stats.FilesRemoved
				summary.Failed += stats.FilesFailed
				summary.BlocksIndexed += stats.BlocksIndexed
			}
		}

		w.progress.emit(BatchProgress{ProcessedInBatch: i + 1, TotalInBatch: total, CurrentFile: path})
	}

	summary.Issues = issues.Issues()
	if summary.HasFailures() {
		w.logger.Warn("batch finished with failures",
			slog.Int("files", total),
			slog.Int("failed", summary.Failed))
	} else {
		w.logger.Info("batch finished",
			slog.Int("indexed", summary.Indexed),
			slog.Int("removed", summary.Removed))
	}
	w.finished.emit(summary)
}

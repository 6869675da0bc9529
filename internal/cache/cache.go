// Package cache persists what has already been embedded for a workspace: a
// path to content hash map and an advisory progress record. Both live in
// memory and are written to disk through debounced atomic writes.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/pkg/types"
)

const (
	// DefaultFlushDelay is the debounce window for artifact writes
	DefaultFlushDelay = 1500 * time.Millisecond

	ArtifactHashes   = "hashes"
	ArtifactProgress = "progress"
)

// Options configures a Cache
type Options struct {
	Dir        string
	FlushDelay time.Duration
	Logger     *slog.Logger
	// OnWrite is called after each successful artifact write
	OnWrite func(artifact string)
}

// Cache owns the file hash map and the indexing progress of one workspace.
// It is safe for concurrent use.
type Cache struct {
	workspace    string
	dir          string
	hashPath     string
	progressPath string
	logger       *slog.Logger
	onWrite      func(string)

	mu       sync.RWMutex
	hashes   map[string]string
	progress types.IndexingProgress

	hashSaver     *Debouncer
	progressSaver *Debouncer
}

// New creates a cache for workspace. Call Initialize before use.
func New(workspace string, opts Options) *Cache {
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewModuleLogger("cache", "content")
	}

	key := types.WorkspaceKey(workspace)
	c := &Cache{
		workspace:    workspace,
		dir:          opts.Dir,
		hashPath:     filepath.Join(opts.Dir, key+".hashes.json"),
		progressPath: filepath.Join(opts.Dir, key+".progress.json"),
		logger:       opts.Logger.With("workspace", workspace),
		onWrite:      opts.OnWrite,
		hashes:       make(map[string]string),
		progress:     emptyProgress(),
	}
	c.hashSaver = NewDebouncer(opts.FlushDelay, c.saveHashes)
	c.progressSaver = NewDebouncer(opts.FlushDelay, c.saveProgress)
	return c
}

// HashPath returns the location of the hash map artifact
func (c *Cache) HashPath() string { return c.hashPath }

// ProgressPath returns the location of the progress artifact
func (c *Cache) ProgressPath() string { return c.progressPath }

// Initialize loads both artifacts. Missing or corrupt artifacts start empty;
// only an unusable cache directory is reported.
func (c *Cache) Initialize() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	hashes := make(map[string]string)
	if _, err := readJSON(c.hashPath, &hashes); err != nil {
		c.logger.Warn("hash cache unreadable, starting empty", "path", c.hashPath, "error", err)
		hashes = make(map[string]string)
	}
	if hashes == nil {
		hashes = make(map[string]string)
	}

	progress := emptyProgress()
	if _, err := readJSON(c.progressPath, &progress); err != nil {
		c.logger.Warn("progress record unreadable, starting empty", "path", c.progressPath, "error", err)
		progress = emptyProgress()
	}
	if progress.FailedBatches == nil {
		progress.FailedBatches = make(map[string]string)
	}

	c.mu.Lock()
	c.hashes = hashes
	c.progress = progress
	c.mu.Unlock()

	c.logger.Debug("cache loaded", "files", len(hashes), "last_indexed_block", progress.LastIndexedBlock)
	return nil
}

// Hash returns the cached content hash for path
func (c *Cache) Hash(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashes[path]
	return h, ok
}

// UpdateHash records the hash of a successfully indexed file
func (c *Cache) UpdateHash(path, hash string) {
	c.mu.Lock()
	c.hashes[path] = hash
	c.mu.Unlock()
	c.hashSaver.Schedule()
}

// DeleteHash forgets path
func (c *Cache) DeleteHash(path string) {
	c.mu.Lock()
	_, ok := c.hashes[path]
	delete(c.hashes, path)
	c.mu.Unlock()
	if ok {
		c.hashSaver.Schedule()
	}
}

// AllHashes returns a copy of the hash map
func (c *Cache) AllHashes() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.hashes))
	for k, v := range c.hashes {
		out[k] = v
	}
	return out
}

// Len returns the number of cached files
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes)
}

// UpdateProgress records scan progress. LastIndexedBlock never decreases
// until ClearProgress.
func (c *Cache) UpdateProgress(indexed, total int) {
	c.mu.Lock()
	if indexed > c.progress.LastIndexedBlock {
		c.progress.LastIndexedBlock = indexed
	}
	c.progress.TotalBlocks = total
	c.progress.Timestamp = time.Now()
	c.mu.Unlock()
	c.progressSaver.Schedule()
}

// RecordFailedBatch adds a failed batch id and makes its error the last error
func (c *Cache) RecordFailedBatch(id, errMsg string) {
	c.mu.Lock()
	c.progress.FailedBatches[id] = errMsg
	c.progress.LastError = errMsg
	c.progress.Timestamp = time.Now()
	c.mu.Unlock()
	c.progressSaver.Schedule()
}

// Progress returns a copy of the progress record
func (c *Cache) Progress() types.IndexingProgress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress.Clone()
}

// ClearProgress resets progress to zero
func (c *Cache) ClearProgress() {
	c.mu.Lock()
	c.progress = emptyProgress()
	c.mu.Unlock()
	c.progressSaver.Schedule()
}

// ClearCacheFile empties the hash map and writes the empty artifact immediately
func (c *Cache) ClearCacheFile() error {
	c.mu.Lock()
	c.hashes = make(map[string]string)
	c.mu.Unlock()

	c.hashSaver.Schedule()
	if err := c.hashSaver.Flush(); err != nil {
		return fmt.Errorf("clear cache file: %w", err)
	}
	return nil
}

// ClearAll empties the hash map and progress and removes the progress artifact
func (c *Cache) ClearAll() error {
	var errs []error
	if err := c.ClearCacheFile(); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	c.progress = emptyProgress()
	c.mu.Unlock()
	c.progressSaver.Cancel()

	if err := os.Remove(c.progressPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove progress file: %w", err))
	}
	return errors.Join(errs...)
}

// Flush writes any pending artifact now
func (c *Cache) Flush() error {
	return errors.Join(c.hashSaver.Flush(), c.progressSaver.Flush())
}

// Close flushes and stops the debounce timers
func (c *Cache) Close() error {
	return errors.Join(c.hashSaver.Stop(), c.progressSaver.Stop())
}

func (c *Cache) saveHashes() error {
	snapshot := c.AllHashes()
	if err := writeJSONAtomic(c.hashPath, snapshot); err != nil {
		c.logger.Error("failed to persist hash cache", "error", err)
		return err
	}
	c.wrote(ArtifactHashes)
	return nil
}

func (c *Cache) saveProgress() error {
	snapshot := c.Progress()
	if err := writeJSONAtomic(c.progressPath, snapshot); err != nil {
		c.logger.Error("failed to persist progress", "error", err)
		return err
	}
	c.wrote(ArtifactProgress)
	return nil
}

func (c *Cache) wrote(artifact string) {
	if c.onWrite != nil {
		c.onWrite(artifact)
	}
}

func emptyProgress() types.IndexingProgress {
	return types.IndexingProgress{FailedBatches: make(map[string]string)}
}

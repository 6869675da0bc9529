package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dshills/gocontext-index/internal/cache"
	"github.com/dshills/gocontext-index/internal/chunker"
	"github.com/dshills/gocontext-index/internal/config"
	"github.com/dshills/gocontext-index/internal/embedder"
	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/internal/vectorstore"
	"github.com/dshills/gocontext-index/pkg/types"
)

// ErrOutsideWorkspace is returned for paths that do not belong to the workspace
var ErrOutsideWorkspace = errors.New("path outside workspace")

const (
	DefaultBatchSegmentSize = 60
	DefaultWorkers          = 4
	DefaultEmbedConcurrency = 2
)

// Embedder turns texts into vectors. *embedder.Batcher implements it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (*embedder.Result, error)
}

// Callbacks report scan progress. Calls are serialized; any field may be nil.
type Callbacks struct {
	// OnBatchError is called for every segment that could not be embedded or stored
	OnBatchError func(err error)
	// OnBlocksIndexed is called after each stored segment with its block count
	OnBlocksIndexed func(count int)
	// OnFileParsed is called before a changed file's blocks are embedded
	OnFileParsed func(blockCount int)
	// OnBlocksDropped is called for blocks too large to ever embed
	OnBlocksDropped func(count int)
}

// Options tunes a DirectoryScanner
type Options struct {
	Filter           *Filter
	Chunker          chunker.Options
	BatchSegmentSize int
	Workers          int
	EmbedConcurrency int
	Logger           *slog.Logger
}

// OptionsFromConfig maps the scanner config section onto Options
func OptionsFromConfig(cfg config.ScannerConfig) Options {
	return Options{
		Filter: FilterFromConfig(cfg),
		Chunker: chunker.Options{
			MaxBlockChars: cfg.MaxBlockChars,
			MinBlockChars: cfg.MinBlockChars,
		},
		BatchSegmentSize: cfg.BatchSegmentSize,
		Workers:          cfg.Workers,
		EmbedConcurrency: cfg.EmbedConcurrency,
	}
}

// DirectoryScanner indexes the files of one workspace
type DirectoryScanner struct {
	root     string
	filter   *Filter
	chunker  *chunker.Chunker
	embedder Embedder
	store    vectorstore.Store
	cache    *cache.Cache
	opts     Options
	logger   *slog.Logger
}

// New creates a scanner for the workspace at root
func New(root string, emb Embedder, store vectorstore.Store, c *cache.Cache, opts Options) (*DirectoryScanner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if opts.Filter == nil {
		cfg := config.Default()
		opts.Filter = FilterFromConfig(cfg.Scanner)
	}
	if opts.BatchSegmentSize <= 0 {
		opts.BatchSegmentSize = DefaultBatchSegmentSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.EmbedConcurrency <= 0 {
		opts.EmbedConcurrency = DefaultEmbedConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewModuleLogger("scanner", "directory")
	}

	return &DirectoryScanner{
		root:     abs,
		filter:   opts.Filter,
		chunker:  chunker.New(opts.Chunker),
		embedder: emb,
		store:    store,
		cache:    c,
		opts:     opts,
		logger:   opts.Logger.With("workspace", abs),
	}, nil
}

// Root returns the absolute workspace root
func (s *DirectoryScanner) Root() string { return s.root }

// Filter returns the file filter shared with the watcher
func (s *DirectoryScanner) Filter() *Filter { return s.filter }

// Scan indexes every changed file of the workspace and removes the vectors
// of cached files that no longer exist. Per-segment failures are reported
// through the callbacks and the returned stats; only cancellation and
// failure to remove stale files abort the scan.
func (s *DirectoryScanner) Scan(ctx context.Context, cb Callbacks) (*types.ScanStats, error) {
	start := time.Now()

	files, err := s.walk(ctx)
	if err != nil {
		return nil, err
	}

	present := make(map[string]struct{}, len(files))
	for _, f := range files {
		present[f] = struct{}{}
	}
	var stale []string
	for path := range s.cache.AllHashes() {
		if _, ok := present[path]; !ok {
			stale = append(stale, path)
		}
	}
	sort.Strings(stale)
	if len(stale) > 0 {
		if err := s.RemoveFiles(ctx, stale); err != nil {
			return nil, fmt.Errorf("remove stale files: %w", err)
		}
		s.logger.Info("removed stale files", slog.Int("count", len(stale)))
	}

	stats, err := s.process(ctx, files, cb)
	if stats != nil {
		stats.FilesRemoved = len(stale)
		stats.Duration = time.Since(start)
	}
	return stats, err
}

// IndexFiles indexes the given files, absolute or relative to the root.
// Paths that no longer exist are removed from the index.
func (s *DirectoryScanner) IndexFiles(ctx context.Context, paths []string, cb Callbacks) (*types.ScanStats, error) {
	start := time.Now()

	var files, gone []string
	for _, p := range paths {
		rel, err := s.Rel(p)
		if err != nil {
			s.logger.Warn("skipping path", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		info, err := os.Stat(s.Abs(rel))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			gone = append(gone, rel)
		case err != nil:
			s.logger.Warn("stat failed", slog.String("path", rel), slog.String("error", err.Error()))
		case info.IsDir() || s.filter.IgnorePath(rel) || !s.filter.Include(rel, info.Size()):
			// Not indexable; drop anything indexed under this path before
			if _, ok := s.cache.Hash(rel); ok {
				gone = append(gone, rel)
			}
		default:
			files = append(files, rel)
		}
	}

	if len(gone) > 0 {
		if err := s.RemoveFiles(ctx, gone); err != nil {
			return nil, fmt.Errorf("remove files: %w", err)
		}
	}

	stats, err := s.process(ctx, files, cb)
	if stats != nil {
		stats.FilesRemoved = len(gone)
		stats.Duration = time.Since(start)
	}
	return stats, err
}

// RemoveFiles deletes the vectors and cache entries of paths
func (s *DirectoryScanner) RemoveFiles(ctx context.Context, paths []string) error {
	rels := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := s.Rel(p)
		if err != nil {
			continue
		}
		rels = append(rels, rel)
	}
	if len(rels) == 0 {
		return nil
	}
	if err := s.store.DeleteByFiles(ctx, rels); err != nil {
		return err
	}
	for _, rel := range rels {
		s.cache.DeleteHash(rel)
	}
	return nil
}

// Rel converts a path to its slash separated form relative to the root
func (s *DirectoryScanner) Rel(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, filepath.FromSlash(p))
	}
	rel, err := filepath.Rel(s.root, filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	return filepath.ToSlash(rel), nil
}

// Abs converts a relative path back to an absolute one
func (s *DirectoryScanner) Abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// walk lists indexable files, sorted for deterministic segment layout
func (s *DirectoryScanner) walk(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			s.logger.Warn("walk error", slog.String("path", path), slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != s.root && s.filter.IgnoreDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.filter.Include(d.Name(), -1) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !s.filter.Include(d.Name(), info.Size()) {
			return nil
		}
		rel, err := s.Rel(path)
		if err != nil {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk workspace: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

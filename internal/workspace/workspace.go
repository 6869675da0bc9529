// Package workspace wires the indexing components of a workspace together
// and keeps one instance per workspace root.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dshills/gocontext-index/internal/cache"
	"github.com/dshills/gocontext-index/internal/config"
	"github.com/dshills/gocontext-index/internal/embedder"
	"github.com/dshills/gocontext-index/internal/indexer"
	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/internal/metrics"
	"github.com/dshills/gocontext-index/internal/scanner"
	"github.com/dshills/gocontext-index/internal/searcher"
	"github.com/dshills/gocontext-index/internal/state"
	"github.com/dshills/gocontext-index/internal/vectorstore"
	"github.com/dshills/gocontext-index/internal/watcher"
	"github.com/dshills/gocontext-index/pkg/types"
)

var (
	// ErrNotConfigured is returned by Search when indexing is not configured
	ErrNotConfigured = errors.New("indexing not configured")
	// ErrNotDirectory is returned when a workspace root is not a directory
	ErrNotDirectory = errors.New("workspace root is not a directory")
)

// Workspace bundles the orchestrator and searcher of one workspace root
type Workspace struct {
	root     string
	orch     *indexer.Orchestrator
	searcher *searcher.Searcher
	provider embedder.Provider
}

// Root returns the absolute workspace root
func (w *Workspace) Root() string { return w.root }

// Orchestrator returns the indexing orchestrator
func (w *Workspace) Orchestrator() *indexer.Orchestrator { return w.orch }

// Configured reports whether an embedding provider is wired in
func (w *Workspace) Configured() bool { return w.searcher != nil }

// Status returns the indexing state of the workspace
func (w *Workspace) Status() types.Status { return w.orch.Status() }

// StartIndexing runs a full indexing pass
func (w *Workspace) StartIndexing(ctx context.Context) types.Status {
	return w.orch.StartIndexing(ctx)
}

// Search runs a query against the workspace index
func (w *Workspace) Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	if w.searcher == nil {
		return nil, ErrNotConfigured
	}
	return w.searcher.Search(ctx, req)
}

// Close stops live updates and releases the cache, store and provider
func (w *Workspace) Close() error {
	err := w.orch.Close()
	if w.provider != nil {
		err = errors.Join(err, w.provider.Close())
	}
	return err
}

// Open builds every component of the workspace at root. When cfg is not
// configured, only the cache and the orchestrator are created, so status
// and clear calls still work and indexing is soft rejected.
func Open(root string, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Workspace, error) {
	abs, err := normalize(root)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewModuleLogger("workspace", "open")
	}

	c := cache.New(abs, cache.Options{
		Dir:        cfg.Cache.Dir,
		FlushDelay: cfg.Cache.FlushDelay,
		Logger:     logging.NewModuleLogger("cache", "content"),
		OnWrite:    m.CacheWriteHook(),
	})
	if err := c.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize cache: %w", err)
	}

	machine := state.New(logging.NewModuleLogger("state", "machine").With("workspace", abs))
	deps := indexer.Deps{
		Workspace: abs,
		Config:    cfg,
		Cache:     c,
		State:     machine,
		Metrics:   m,
		Logger:    logging.NewModuleLogger("indexer", "orchestrator"),
	}
	ws := &Workspace{root: abs}

	if cfg.IsConfigured() {
		if err := ws.wire(cfg, c, machine, &deps, m); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	ws.orch, err = indexer.New(deps)
	if err != nil {
		_ = c.Close()
		if deps.Store != nil {
			_ = deps.Store.Close()
		}
		if ws.provider != nil {
			_ = ws.provider.Close()
		}
		return nil, err
	}
	logger.Info("workspace opened", "root", abs, "configured", cfg.IsConfigured(), "backend", cfg.VectorStore.Backend)
	return ws, nil
}

// wire creates the embedding, storage, scanning and search components
func (ws *Workspace) wire(cfg *config.Config, c *cache.Cache, machine *state.Machine, deps *indexer.Deps, m *metrics.Metrics) (err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
			ws.provider = nil
		}
	}()

	batcher, err := embedder.NewBatcherFromConfig(cfg.Embedder,
		embedder.WithLogger(logging.NewModuleLogger("embedder", "batcher")),
		embedder.WithHooks(m.BatcherHooks()))
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	ws.provider = batcher.Provider()
	closers = append(closers, ws.provider.Close)

	store, err := vectorstore.New(cfg.VectorStore, ws.root, ws.provider.Dimension())
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	closers = append(closers, store.Close)

	opts := scanner.OptionsFromConfig(cfg.Scanner)
	opts.Logger = logging.NewModuleLogger("scanner", "directory")
	scan, err := scanner.New(ws.root, batcher, store, c, opts)
	if err != nil {
		return err
	}

	qe, err := embedder.NewQueryEmbedder(ws.provider, batcher.Model(), cfg.Embedder.QueryCacheSize)
	if err != nil {
		return fmt.Errorf("create query embedder: %w", err)
	}
	s, err := searcher.NewSearcher(store, qe, 0)
	if err != nil {
		return err
	}
	ws.searcher = s

	deps.Store = store
	deps.Scanner = scan
	deps.NewWatcher = watcherFactory(ws.root, cfg.Watcher)

	machine.Subscribe(func(_ types.IndexingState, to types.Status) {
		if to.State == types.StateIndexed || to.State == types.StateStandby {
			s.InvalidateCache()
		}
	})
	return nil
}

func watcherFactory(root string, cfg config.WatcherConfig) indexer.WatcherFactory {
	return func(proc watcher.Processor) (indexer.Watcher, error) {
		w, err := watcher.New(root, proc, watcher.Options{
			Debounce: cfg.Debounce,
			Logger:   logging.NewModuleLogger("watcher", "fsnotify"),
		})
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

func normalize(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat workspace: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}
	return filepath.Clean(abs), nil
}

// OpenFunc opens a workspace; Registry uses Open unless told otherwise
type OpenFunc func(root string) (*Workspace, error)

// Registry holds the open workspaces of a process. It is passed explicitly
// to the MCP server, the HTTP API and the scheduler.
type Registry struct {
	open   OpenFunc
	logger *slog.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewRegistry creates a registry opening workspaces with cfg
func NewRegistry(cfg *config.Config, m *metrics.Metrics) *Registry {
	return NewRegistryWithOpener(func(root string) (*Workspace, error) {
		return Open(root, cfg, m, nil)
	})
}

// NewRegistryWithOpener creates a registry with a custom opener
func NewRegistryWithOpener(open OpenFunc) *Registry {
	return &Registry{
		open:       open,
		logger:     logging.NewModuleLogger("workspace", "registry"),
		workspaces: make(map[string]*Workspace),
	}
}

// Get returns the workspace at root, opening it on first use
func (r *Registry) Get(root string) (*Workspace, error) {
	abs, err := normalize(root)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ws, ok := r.workspaces[abs]; ok {
		return ws, nil
	}
	ws, err := r.open(abs)
	if err != nil {
		return nil, err
	}
	r.workspaces[abs] = ws
	return ws, nil
}

// Lookup returns an already open workspace
func (r *Registry) Lookup(root string) (*Workspace, bool) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[filepath.Clean(abs)]
	return ws, ok
}

// List returns the open workspaces ordered by root
func (r *Registry) List() []*Workspace {
	r.mu.Lock()
	out := make([]*Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		out = append(out, ws)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].root < out[j].root })
	return out
}

// Remove closes and forgets the workspace at root
func (r *Registry) Remove(root string) error {
	ws, ok := r.Lookup(root)
	if !ok {
		return nil
	}
	r.mu.Lock()
	delete(r.workspaces, ws.root)
	r.mu.Unlock()
	return ws.Close()
}

// Close closes every workspace
func (r *Registry) Close() error {
	r.mu.Lock()
	all := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	var errs []error
	for root, ws := range all {
		if err := ws.Close(); err != nil {
			r.logger.Error("close workspace", "root", root, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/gocontext-index/internal/cache"
	"github.com/dshills/gocontext-index/internal/config"
	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/internal/metrics"
	"github.com/dshills/gocontext-index/internal/scanner"
	"github.com/dshills/gocontext-index/internal/state"
	"github.com/dshills/gocontext-index/internal/watcher"
	"github.com/dshills/gocontext-index/pkg/types"
)

// ErrIndexingInProgress is returned by operations that cannot run next to an indexing run
var ErrIndexingInProgress = errors.New("indexing in progress")

// VectorStore is the part of vectorstore.Store the orchestrator drives
type VectorStore interface {
	Initialize(ctx context.Context) (created bool, err error)
	ClearCollection(ctx context.Context) error
	DeleteCollection(ctx context.Context) error
	Close() error
}

// Scanner runs full and incremental passes. *scanner.DirectoryScanner implements it.
type Scanner interface {
	watcher.Processor
	Scan(ctx context.Context, cb scanner.Callbacks) (*types.ScanStats, error)
}

// Watcher is a live file watcher. *watcher.FileWatcher implements it.
type Watcher interface {
	Initialize(ctx context.Context) error
	Dispose()
	OnDidStartBatchProcessing(fn func(paths []string)) func()
	OnBatchProgressUpdate(fn func(watcher.BatchProgress)) func()
	OnDidFinishBatchProcessing(fn func(watcher.BatchSummary)) func()
}

// WatcherFactory creates a watcher feeding proc
type WatcherFactory func(proc watcher.Processor) (Watcher, error)

// Deps are the collaborators of an Orchestrator. Store and Scanner may be
// nil when Config is not configured.
type Deps struct {
	Workspace  string
	Config     *config.Config
	Cache      *cache.Cache
	Store      VectorStore
	Scanner    Scanner
	NewWatcher WatcherFactory // nil disables live updates
	State      *state.Machine
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Orchestrator sequences the initial scan of a workspace and the live
// updates that follow it
type Orchestrator struct {
	workspace  string
	cfg        *config.Config
	cache      *cache.Cache
	store      VectorStore
	scanner    Scanner
	newWatcher WatcherFactory
	state      *state.Machine
	metrics    *metrics.Metrics
	thresholds Thresholds
	logger     *slog.Logger

	processing IndexLock

	// runMu guards running and stopRequested. A StopWatcher that arrives
	// while a run holds processing is applied when the run ends.
	runMu         sync.Mutex
	running       bool
	stopRequested bool

	mu      sync.Mutex
	watcher Watcher
	unsubs  []func()
}

// New validates deps and creates an Orchestrator
func New(d Deps) (*Orchestrator, error) {
	if d.Config == nil {
		return nil, errors.New("indexer: config is required")
	}
	if d.Cache == nil {
		return nil, errors.New("indexer: cache is required")
	}
	if d.Config.IsConfigured() && (d.Store == nil || d.Scanner == nil) {
		return nil, errors.New("indexer: store and scanner are required when indexing is configured")
	}
	if d.Logger == nil {
		d.Logger = logging.NewModuleLogger("indexer", "orchestrator")
	}
	if d.State == nil {
		d.State = state.New(d.Logger)
	}

	o := &Orchestrator{
		workspace:  d.Workspace,
		cfg:        d.Config,
		cache:      d.Cache,
		store:      d.Store,
		scanner:    d.Scanner,
		newWatcher: d.NewWatcher,
		state:      d.State,
		metrics:    d.Metrics,
		thresholds: ThresholdsFromConfig(d.Config.Indexing),
		logger:     d.Logger.With("workspace", d.Workspace),
	}
	if d.Metrics != nil {
		d.State.Subscribe(d.Metrics.StateListener(d.Workspace))
	}
	return o, nil
}

// Workspace returns the workspace root
func (o *Orchestrator) Workspace() string { return o.workspace }

// State returns the state machine of the workspace
func (o *Orchestrator) State() *state.Machine { return o.state }

// Status returns the current state and message
func (o *Orchestrator) Status() types.Status { return o.state.Status() }

// Progress returns the progress record of the last run
func (o *Orchestrator) Progress() types.IndexingProgress { return o.cache.Progress() }

// WatcherActive reports whether live updates are running
func (o *Orchestrator) WatcherActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.watcher != nil
}

// StartIndexing runs a full scan and then starts the watcher. It never
// returns an error: every failure ends in the Error state, and the returned
// status is the state after the call.
func (o *Orchestrator) StartIndexing(ctx context.Context) types.Status {
	if !o.cfg.IsConfigured() {
		reason := o.cfg.NotConfiguredReason()
		o.logger.Warn("indexing not configured", "reason", reason)
		if !o.state.ResetFromError(reason) {
			_ = o.state.SetStandby(reason)
		}
		return o.state.Status()
	}

	if !o.processing.TryAcquire() {
		o.logger.Info("indexing already running, ignoring start request")
		return o.state.Status()
	}
	defer o.processing.Release()

	o.beginRun()
	o.index(ctx)
	o.endRun()
	return o.state.Status()
}

// index runs one pass while processing is held
func (o *Orchestrator) index(ctx context.Context) {
	if !o.state.CanStartIndexing() {
		o.logger.Info("cannot start indexing", "state", o.state.State())
		return
	}

	if o.state.State() == types.StateError {
		o.state.ResetFromError("Retrying after previous error")
	}

	start := time.Now()
	stats, outcome, err := o.run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			o.interrupt(err)
			o.metrics.ObserveRun("interrupted", time.Since(start), stats)
			return
		}
		o.fail(ctx, err)
		o.metrics.ObserveRun(OutcomeFatal.String(), time.Since(start), stats)
		return
	}

	o.metrics.ObserveRun(outcome.Kind.String(), time.Since(start), stats)
	o.logger.Info("indexing finished",
		"outcome", outcome.Kind,
		"files_indexed", stats.FilesIndexed,
		"files_skipped", stats.FilesSkipped,
		"files_failed", stats.FilesFailed,
		"blocks_indexed", stats.BlocksIndexed,
		"blocks_found", stats.BlocksFound,
		"duration", time.Since(start))
}

func (o *Orchestrator) beginRun() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	o.running = true
	o.stopRequested = false
}

// endRun applies a StopWatcher received during the run
func (o *Orchestrator) endRun() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	stop := o.stopRequested
	o.running, o.stopRequested = false, false
	if stop {
		o.stopLocked()
	}
}

func (o *Orchestrator) stopPending() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.stopRequested
}

// run performs one full indexing run. An error ends the run, as an
// interruption when ctx is done and as a failure otherwise.
func (o *Orchestrator) run(ctx context.Context) (stats *types.ScanStats, outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("indexing panicked: %v", r)
		}
	}()

	// A watcher from the previous run would race the scan.
	o.disposeWatcher()

	if err := o.state.SetIndexing("Initializing vector store"); err != nil {
		return nil, outcome, err
	}
	created, err := o.store.Initialize(ctx)
	if err != nil {
		return nil, outcome, fmt.Errorf("initialize vector store: %w", err)
	}
	if created {
		o.logger.Info("collection created, clearing content cache")
		if err := o.cache.ClearAll(); err != nil {
			return nil, outcome, fmt.Errorf("clear content cache: %w", err)
		}
	} else {
		o.cache.ClearProgress()
	}

	if err := o.state.SetIndexing("Scanning workspace"); err != nil {
		return nil, outcome, err
	}

	var found, indexed int
	stats, err = o.scanner.Scan(ctx, scanner.Callbacks{
		OnBatchError: func(err error) {
			o.logger.Warn("batch failed", "error", err)
		},
		OnFileParsed: func(n int) {
			found += n
			o.reportProgress(indexed, found)
		},
		OnBlocksIndexed: func(n int) {
			indexed += n
			o.reportProgress(indexed, found)
		},
		OnBlocksDropped: func(n int) {
			o.logger.Warn("blocks exceed the provider token limit and were skipped", "count", n)
		},
	})
	if err != nil {
		return stats, outcome, fmt.Errorf("scan workspace: %w", err)
	}

	outcome = EvaluateFailures(stats.BlocksFound-stats.BlocksDropped, stats.BlocksIndexed, stats.Issues, o.thresholds)
	switch outcome.Kind {
	case OutcomeFatal:
		return stats, outcome, errors.New(outcome.Message)
	case OutcomeDegraded:
		o.logger.Warn("indexing completed with warnings",
			"failure_rate", outcome.FailureRate,
			"issues", len(stats.Issues))
	}

	if o.stopPending() {
		o.logger.Info("file watcher stop requested during indexing, not starting it")
	} else if err := o.startWatcher(ctx); err != nil {
		return stats, outcome, fmt.Errorf("start file watcher: %w", err)
	}
	if err := o.state.SetIndexed(outcome.Message); err != nil {
		// The data is stored. Someone moved the state while the run was going.
		if errors.Is(err, state.ErrInvalidTransition) {
			o.logger.Warn("indexing finished in an unexpected state", "error", err)
			return stats, outcome, nil
		}
		return stats, outcome, err
	}
	return stats, outcome, nil
}

func (o *Orchestrator) reportProgress(indexed, found int) {
	_ = o.state.SetIndexing(fmt.Sprintf("Indexed %d of %d blocks", indexed, found))
}

// fail cleans up after a fatal run and records the error
func (o *Orchestrator) fail(ctx context.Context, cause error) {
	o.logger.Error("indexing failed", "error", cause)

	cleanupCtx := context.WithoutCancel(ctx)
	if err := o.store.ClearCollection(cleanupCtx); err != nil {
		o.logger.Warn("clear collection after failure", "error", err)
	}
	if err := o.cache.ClearAll(); err != nil {
		o.logger.Warn("clear content cache after failure", "error", err)
	}

	if err := o.state.SetError(cause.Error()); err != nil {
		o.logger.Error("record error state", "error", err)
	}
	o.disposeWatcher()
}

// interrupt ends a run whose context was cancelled. Files already stored stay
// cached so the next run resumes where this one stopped.
func (o *Orchestrator) interrupt(cause error) {
	o.logger.Info("indexing interrupted", "error", cause)
	o.disposeWatcher()
	if err := o.cache.Flush(); err != nil {
		o.logger.Warn("flush content cache after interruption", "error", err)
	}
	if err := o.state.SetStandby("Indexing interrupted"); err != nil {
		o.logger.Error("record interrupted state", "error", err)
	}
}

// startWatcher creates the watcher, subscribes to its events and starts it
func (o *Orchestrator) startWatcher(ctx context.Context) error {
	if o.newWatcher == nil || !o.cfg.Watcher.Enabled {
		return nil
	}
	w, err := o.newWatcher(o.scanner)
	if err != nil {
		return err
	}

	unsubs := []func(){
		w.OnDidStartBatchProcessing(func(paths []string) {
			o.ifCurrent(w, func() { o.onBatchStart(paths) })
		}),
		w.OnBatchProgressUpdate(func(p watcher.BatchProgress) {
			o.ifCurrent(w, func() { o.onBatchProgress(p) })
		}),
		w.OnDidFinishBatchProcessing(func(s watcher.BatchSummary) {
			o.ifCurrent(w, func() { o.onBatchFinish(s) })
		}),
	}

	o.mu.Lock()
	o.watcher = w
	o.unsubs = unsubs
	o.mu.Unlock()

	if err := w.Initialize(ctx); err != nil {
		o.disposeWatcher()
		return err
	}
	return nil
}

// ifCurrent runs fn only while w is the active watcher. Events from a
// disposed watcher that were already in flight are dropped.
func (o *Orchestrator) ifCurrent(w Watcher, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.watcher != w {
		return
	}
	fn()
}

func (o *Orchestrator) onBatchStart(paths []string) {
	_ = o.state.SetIndexing(fmt.Sprintf("Processing %d changed files", len(paths)))
}

func (o *Orchestrator) onBatchProgress(p watcher.BatchProgress) {
	_ = o.state.SetIndexing(fmt.Sprintf("Processing %s (%d/%d)", p.CurrentFile, p.ProcessedInBatch, p.TotalInBatch))
}

func (o *Orchestrator) onBatchFinish(s watcher.BatchSummary) {
	o.metrics.ObserveIncremental(s.BlocksIndexed)
	msg := "Index up to date"
	if s.HasFailures() {
		msg = fmt.Sprintf("Index updated with warnings: %d of %d changed files failed", max(s.Failed, len(s.Errors)), len(s.Paths))
		o.logger.Warn("incremental update had failures", "failed", s.Failed, "errors", len(s.Errors))
	}
	_ = o.state.SetIndexed(msg)
}

// disposeWatcher stops the watcher without touching the state
func (o *Orchestrator) disposeWatcher() {
	o.mu.Lock()
	w, unsubs := o.watcher, o.unsubs
	o.watcher, o.unsubs = nil, nil
	o.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if w != nil {
		w.Dispose()
	}
}

// StopWatcher stops live updates. The state goes to Standby unless it is Error.
// During an indexing run the stop is deferred until the run ends, so the run
// finishes storing its blocks and starts no watcher.
func (o *Orchestrator) StopWatcher() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.running {
		o.logger.Info("indexing in progress, file watcher stops when it ends")
		o.stopRequested = true
		return
	}
	o.stopLocked()
}

// stopLocked is StopWatcher with runMu held
func (o *Orchestrator) stopLocked() {
	o.disposeWatcher()
	if o.state.State() != types.StateError {
		_ = o.state.SetStandby("File watcher stopped")
	}
}

// ClearIndexData stops the watcher, deletes the collection and clears the
// content cache. The collection is left alone when indexing is not configured.
func (o *Orchestrator) ClearIndexData(ctx context.Context) error {
	if !o.processing.TryAcquire() {
		return ErrIndexingInProgress
	}
	defer o.processing.Release()

	o.disposeWatcher()

	var errs []error
	if o.cfg.IsConfigured() && o.store != nil {
		if err := o.store.DeleteCollection(ctx); err != nil {
			errs = append(errs, fmt.Errorf("delete collection: %w", err))
		}
	} else {
		o.logger.Info("indexing not configured, skipping collection delete")
	}
	if err := o.cache.ClearAll(); err != nil {
		errs = append(errs, fmt.Errorf("clear content cache: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		o.logger.Error("clear index data", "error", err)
		_ = o.state.SetError(fmt.Sprintf("Failed to clear index data: %v", err))
		return err
	}

	const msg = "Index data cleared"
	if !o.state.ResetFromError(msg) {
		_ = o.state.SetStandby(msg)
	}
	return nil
}

// Close stops the watcher, flushes the content cache and closes the store
func (o *Orchestrator) Close() error {
	o.disposeWatcher()
	var errs []error
	if err := o.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close content cache: %w", err))
	}
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close vector store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Package scheduler runs periodic reconcile passes over open workspaces.
//
// The file watcher misses changes made while the process was down or on
// filesystems without reliable notifications. A reconcile pass re-runs a full
// scan on every indexed workspace; unchanged files are skipped by the content
// cache, so a pass over an up to date workspace embeds nothing.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/pkg/types"
)

// Target is a workspace that can be reconciled. *workspace.Workspace implements it.
type Target interface {
	Root() string
	Status() types.Status
	StartIndexing(ctx context.Context) types.Status
}

// Source lists the current targets
type Source func() []Target

// Scheduler wraps robfig/cron and tracks the reconcile job
type Scheduler struct {
	logger *slog.Logger

	mu       sync.RWMutex
	c        *cron.Cron
	entryID  cron.EntryID
	cronExpr string
	source   Source
}

// New creates a stopped Scheduler. Call Start to activate it.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewModuleLogger("scheduler", "cron")
	}
	cl := cronLogger{logger}
	return &Scheduler{
		logger: logger,
		c:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
}

// SetReconcile replaces the reconcile job. An empty expression removes it.
func (s *Scheduler) SetReconcile(expr string, src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.c.Remove(s.entryID)
		s.entryID = 0
	}
	s.cronExpr, s.source = "", nil
	if expr == "" {
		return nil
	}

	id, err := s.c.AddFunc(expr, func() { s.Reconcile(context.Background()) })
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.entryID, s.cronExpr, s.source = id, expr, src
	s.logger.Info("reconcile job set", "cron", expr)
	return nil
}

// Reconcile re-indexes every target whose last run succeeded. Targets that
// are busy, failed or were never indexed are left alone.
func (s *Scheduler) Reconcile(ctx context.Context) int {
	s.mu.RLock()
	src := s.source
	s.mu.RUnlock()
	if src == nil {
		return 0
	}

	n := 0
	for _, t := range src() {
		if ctx.Err() != nil {
			break
		}
		if t.Status().State != types.StateIndexed {
			continue
		}
		start := time.Now()
		status := t.StartIndexing(ctx)
		n++
		s.logger.Info("workspace reconciled",
			"root", t.Root(),
			"state", status.State,
			"message", status.Message,
			"duration", time.Since(start))
	}
	return n
}

// Start begins the cron loop
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the cron loop and waits for a running reconcile to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRunAt returns the next scheduled time, or nil if no job is set
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current cron expression
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cronExpr
}

// cronLogger routes cron's logging to slog
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

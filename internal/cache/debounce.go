package cache

import (
	"sync"
	"time"
)

// Debouncer coalesces Schedule calls into one invocation of fn at most once
// per delay window. Flush runs a pending invocation immediately and waits for
// any in-flight one, so callers can force durability at shutdown or in tests.
type Debouncer struct {
	delay time.Duration
	fn    func() error

	mu      sync.Mutex
	timer   *time.Timer
	dirty   bool
	stopped bool

	// run serializes invocations of fn
	run sync.Mutex
}

// NewDebouncer creates a debouncer that calls fn delay after the first
// Schedule of a burst
func NewDebouncer(delay time.Duration, fn func() error) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Schedule marks the state dirty and arms the timer if it is not armed yet
func (d *Debouncer) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dirty = true
	if d.stopped || d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.delay, func() { _ = d.invoke() })
}

// Pending reports whether there is unflushed state
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

// Flush runs fn now if state is dirty, after any in-flight run completes
func (d *Debouncer) Flush() error {
	d.disarm()
	return d.invoke()
}

// Cancel drops pending state without running fn. An in-flight run is waited for.
func (d *Debouncer) Cancel() {
	d.disarm()
	d.run.Lock()
	defer d.run.Unlock()
	d.mu.Lock()
	d.dirty = false
	d.mu.Unlock()
}

// Stop flushes pending state and disables further timers. Schedule still
// marks state dirty so a later Flush persists it.
func (d *Debouncer) Stop() error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	return d.Flush()
}

func (d *Debouncer) disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) invoke() error {
	d.run.Lock()
	defer d.run.Unlock()

	d.mu.Lock()
	d.timer = nil
	if !d.dirty {
		d.mu.Unlock()
		return nil
	}
	d.dirty = false
	d.mu.Unlock()

	if err := d.fn(); err != nil {
		d.mu.Lock()
		d.dirty = true
		d.mu.Unlock()
		return err
	}
	return nil
}

// Package state holds the indexing state machine of one workspace.
//
// The machine has four states: standby, indexing, indexed and error. Every
// change goes through a named transition carrying a status message; an
// illegal transition is rejected with ErrInvalidTransition and logged.
// CanStartIndexing is the admission gate for new indexing runs.
package state

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/pkg/types"
)

// ErrInvalidTransition is returned when a transition is not allowed from the current state
var ErrInvalidTransition = errors.New("invalid state transition")

// Listener is notified after every transition
type Listener func(from types.IndexingState, to types.Status)

// Machine is safe for concurrent use
type Machine struct {
	mu      sync.Mutex
	status  types.Status
	logger  *slog.Logger
	nextID  int
	watches map[int]Listener
	now     func() time.Time
}

// New returns a machine in Standby
func New(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = logging.NewModuleLogger("state", "machine")
	}
	m := &Machine{
		logger:  logger,
		watches: make(map[int]Listener),
		now:     time.Now,
	}
	m.status = types.Status{State: types.StateStandby, UpdatedAt: m.now()}
	return m
}

// Status returns a snapshot of the current state and message
func (m *Machine) Status() types.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// State returns the current state
func (m *Machine) State() types.IndexingState {
	return m.Status().State
}

// CanStartIndexing is true unless a run is in progress
func (m *Machine) CanStartIndexing() bool {
	switch m.State() {
	case types.StateStandby, types.StateError, types.StateIndexed:
		return true
	}
	return false
}

// SetIndexing enters Indexing from any state
func (m *Machine) SetIndexing(msg string) error {
	return m.transition(types.StateIndexing, msg)
}

// SetIndexed records a successful operation. Allowed from Indexing, and from
// Indexed to update the message.
func (m *Machine) SetIndexed(msg string) error {
	return m.transition(types.StateIndexed, msg)
}

// SetError records a failure. Allowed from any state.
func (m *Machine) SetError(msg string) error {
	return m.transition(types.StateError, msg)
}

// SetStandby returns to idle. Not allowed from Error; use ResetFromError.
func (m *Machine) SetStandby(msg string) error {
	return m.transition(types.StateStandby, msg)
}

// ResetFromError moves Error to Standby. In any other state it does nothing
// and reports false.
func (m *Machine) ResetFromError(msg string) bool {
	m.mu.Lock()
	if m.status.State != types.StateError {
		m.mu.Unlock()
		return false
	}
	from := m.apply(types.StateStandby, msg)
	listeners := m.listeners()
	status := m.status
	m.mu.Unlock()

	m.notify(listeners, from, status)
	return true
}

// Subscribe registers fn for transitions and returns a func that removes it
func (m *Machine) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.watches[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watches, id)
	}
}

// allowed reports whether from -> to is a legal transition
func allowed(from, to types.IndexingState) bool {
	switch to {
	case types.StateIndexing, types.StateError:
		return true
	case types.StateIndexed:
		return from == types.StateIndexing || from == types.StateIndexed
	case types.StateStandby:
		return from != types.StateError
	}
	return false
}

func (m *Machine) transition(to types.IndexingState, msg string) error {
	m.mu.Lock()
	from := m.status.State
	if !allowed(from, to) {
		m.mu.Unlock()
		m.logger.Warn("rejected state transition", "from", from, "to", to, "message", msg)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.apply(to, msg)
	listeners := m.listeners()
	status := m.status
	m.mu.Unlock()

	m.notify(listeners, from, status)
	return nil
}

// apply must be called with mu held
func (m *Machine) apply(to types.IndexingState, msg string) types.IndexingState {
	from := m.status.State
	m.status = types.Status{State: to, Message: msg, UpdatedAt: m.now()}
	if from != to {
		m.logger.Info("state changed", "from", from, "to", to, "message", msg)
	} else {
		m.logger.Debug("status updated", "state", to, "message", msg)
	}
	return from
}

func (m *Machine) listeners() []Listener {
	out := make([]Listener, 0, len(m.watches))
	for _, l := range m.watches {
		out = append(out, l)
	}
	return out
}

func (m *Machine) notify(listeners []Listener, from types.IndexingState, to types.Status) {
	for _, l := range listeners {
		l(from, to)
	}
}

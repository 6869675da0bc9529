package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/pkg/types"
)

func newMachineIn(t *testing.T, s types.IndexingState) *Machine {
	t.Helper()
	m := New(logging.Discard())
	switch s {
	case types.StateIndexing:
		require.NoError(t, m.SetIndexing("working"))
	case types.StateIndexed:
		require.NoError(t, m.SetIndexing("working"))
		require.NoError(t, m.SetIndexed("done"))
	case types.StateError:
		require.NoError(t, m.SetError("boom"))
	}
	require.Equal(t, s, m.State())
	return m
}

var allStates = []types.IndexingState{
	types.StateStandby, types.StateIndexing, types.StateIndexed, types.StateError,
}

func TestStartsInStandby(t *testing.T) {
	m := New(logging.Discard())
	assert.Equal(t, types.StateStandby, m.State())
	assert.False(t, m.Status().UpdatedAt.IsZero())
}

func TestCanStartIndexing(t *testing.T) {
	want := map[types.IndexingState]bool{
		types.StateStandby:  true,
		types.StateIndexing: false,
		types.StateIndexed:  true,
		types.StateError:    true,
	}
	for _, s := range allStates {
		t.Run(string(s), func(t *testing.T) {
			assert.Equal(t, want[s], newMachineIn(t, s).CanStartIndexing())
		})
	}
}

func TestResetFromErrorOnlyActsOnError(t *testing.T) {
	for _, s := range allStates {
		t.Run(string(s), func(t *testing.T) {
			m := newMachineIn(t, s)
			before := m.Status()

			reset := m.ResetFromError("retrying")

			if s == types.StateError {
				assert.True(t, reset)
				assert.Equal(t, types.StateStandby, m.State())
				assert.Equal(t, "retrying", m.Status().Message)
			} else {
				assert.False(t, reset)
				assert.Equal(t, before, m.Status())
			}
		})
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from types.IndexingState
		to   types.IndexingState
		ok   bool
	}{
		{types.StateStandby, types.StateIndexing, true},
		{types.StateIndexed, types.StateIndexing, true},
		{types.StateError, types.StateIndexing, true},
		{types.StateIndexing, types.StateIndexing, true},
		{types.StateIndexing, types.StateIndexed, true},
		{types.StateIndexed, types.StateIndexed, true},
		{types.StateStandby, types.StateIndexed, false},
		{types.StateError, types.StateIndexed, false},
		{types.StateIndexing, types.StateError, true},
		{types.StateIndexed, types.StateError, true},
		{types.StateStandby, types.StateError, true},
		{types.StateIndexing, types.StateStandby, true},
		{types.StateIndexed, types.StateStandby, true},
		{types.StateError, types.StateStandby, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := newMachineIn(t, tt.from)

			var err error
			switch tt.to {
			case types.StateIndexing:
				err = m.SetIndexing("msg")
			case types.StateIndexed:
				err = m.SetIndexed("msg")
			case types.StateError:
				err = m.SetError("msg")
			case types.StateStandby:
				err = m.SetStandby("msg")
			}

			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, m.State())
				assert.Equal(t, "msg", m.Status().Message)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, m.State())
			}
		})
	}
}

func TestSubscribe(t *testing.T) {
	m := New(logging.Discard())

	var mu sync.Mutex
	var seen []string
	unsubscribe := m.Subscribe(func(from types.IndexingState, to types.Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(from)+"->"+string(to.State))
	})

	require.NoError(t, m.SetIndexing("a"))
	require.NoError(t, m.SetError("b"))
	assert.True(t, m.ResetFromError("c"))
	_ = m.SetIndexed("rejected")

	unsubscribe()
	require.NoError(t, m.SetIndexing("d"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"standby->indexing", "indexing->error", "error->standby"}, seen)
}

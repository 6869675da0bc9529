package types

import "time"

// IndexingState is the coarse lifecycle state of a workspace index
type IndexingState string

const (
	StateStandby  IndexingState = "standby"
	StateIndexing IndexingState = "indexing"
	StateIndexed  IndexingState = "indexed"
	StateError    IndexingState = "error"
)

// String implements fmt.Stringer
func (s IndexingState) String() string {
	return string(s)
}

// Valid reports whether s is one of the four known states
func (s IndexingState) Valid() bool {
	switch s {
	case StateStandby, StateIndexing, StateIndexed, StateError:
		return true
	}
	return false
}

// Status is a snapshot of the current state plus its human-readable message
type Status struct {
	State     IndexingState `json:"state"`
	Message   string        `json:"message"`
	UpdatedAt time.Time     `json:"updated_at"`
}

package obs

import "sync/atomic"

// State is the lifecycle state of a runtime.
//
//	StateUninitialized -> StateRunning      [engine constructed]
//	StateRunning       -> StateShuttingDown [Shutdown or last Close]
//	StateShuttingDown  -> StateStopped      [queue drained, executor exited]
//
// Transitions only move forward.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stateMachine holds a State and only allows forward transitions.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State { return State(m.v.Load()) }

// advance moves from one state to a later one. It fails if the current state
// is not from.
func (m *stateMachine) advance(from, to State) bool {
	if to <= from {
		return false
	}
	return m.v.CompareAndSwap(int32(from), int32(to))
}

// advanceTo moves to target from whatever earlier state is current. It
// returns false if the state is already at or past target.
func (m *stateMachine) advanceTo(target State) bool {
	for {
		cur := m.load()
		if cur >= target {
			return false
		}
		if m.v.CompareAndSwap(int32(cur), int32(target)) {
			return true
		}
	}
}

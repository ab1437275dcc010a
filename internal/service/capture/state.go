// Package capture owns the microphone device and produces 16 kHz mono
// sample blocks and level samples for the transcription pipeline.
package capture

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a capture session.
type State int

const (
	// StateNoPermission - device access not granted yet.
	StateNoPermission State = iota
	// StateIdle - permission granted, no device open.
	StateIdle
	// StateCapturing - device open, blocks are produced.
	StateCapturing
	// StatePaused - device held, block production suspended.
	StatePaused
	// StateStopped - device released. Terminal.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNoPermission:
		return "NO_PERMISSION"
	case StateIdle:
		return "IDLE"
	case StateCapturing:
		return "CAPTURING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is STOPPED.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// Errors for capture failures and invalid transitions.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Lifecycle manages the state machine for a capture session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	NO_PERMISSION → IDLE → CAPTURING ⇄ PAUSED
//	                  │        │          │
//	                  └────────┴──────────┴──→ STOPPED
//
// Rules:
//   - NO_PERMISSION: only Grant is allowed; Stop is rejected
//   - IDLE: Begin or Stop
//   - CAPTURING/PAUSED: Pause, Resume, Stop
//   - STOPPED: Stop is a no-op, everything else is rejected
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in NO_PERMISSION state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateNoPermission}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Grant records that permission was obtained. Idempotent in IDLE.
func (l *Lifecycle) Grant() error {
	return l.transition(StateIdle, StateNoPermission, StateIdle)
}

// Begin transitions IDLE → CAPTURING.
func (l *Lifecycle) Begin() error {
	return l.transition(StateCapturing, StateIdle)
}

// Pause transitions CAPTURING → PAUSED. Idempotent in PAUSED.
func (l *Lifecycle) Pause() error {
	return l.transition(StatePaused, StateCapturing, StatePaused)
}

// Resume transitions PAUSED → CAPTURING. Idempotent in CAPTURING.
func (l *Lifecycle) Resume() error {
	return l.transition(StateCapturing, StatePaused, StateCapturing)
}

// Stop transitions to STOPPED from any state except NO_PERMISSION.
// Returns the previous state; stopping twice is not an error.
func (l *Lifecycle) Stop() (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.state
	if prev == StateNoPermission {
		return prev, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, prev, StateStopped)
	}
	l.state = StateStopped
	return prev, nil
}

func (l *Lifecycle) transition(to State, from ...State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range from {
		if l.state == f {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, to)
}

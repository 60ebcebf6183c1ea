package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateIdle - Session created, no analysis running.
	StateIdle State = iota
	// StateActive - Analysis loop running, signals accepted.
	StateActive
	// StateStopped - Session stopped. Terminal.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// Errors for invalid state transitions.
var (
	ErrSessionActive  = errors.New("session already active")
	ErrSessionStopped = errors.New("session is stopped")
	ErrNotActive      = errors.New("session is not active")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → ACTIVE → STOPPED
//	  │                ▲
//	  └────────────────┘  Stop() before Start()
//
// Rules:
//   - IDLE: Start() transitions to ACTIVE once
//   - ACTIVE: signals and resets are accepted; Start() fails
//   - STOPPED: terminal, every operation fails or is a no-op
type Lifecycle struct {
	mu        sync.RWMutex
	sessionId string
	state     State
}

// NewLifecycle creates a new session lifecycle in IDLE state.
func NewLifecycle(sessionId string) *Lifecycle {
	return &Lifecycle{
		sessionId: sessionId,
		state:     StateIdle,
	}
}

// SessionId returns the session ID.
func (l *Lifecycle) SessionId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsActive returns true if signals are accepted.
func (l *Lifecycle) IsActive() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateActive
}

// Start transitions IDLE to ACTIVE.
func (l *Lifecycle) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateIdle:
		l.state = StateActive
		return nil
	case StateActive:
		return ErrSessionActive
	case StateStopped:
		return ErrSessionStopped
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Check returns nil if the session accepts signals.
func (l *Lifecycle) Check() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch l.state {
	case StateActive:
		return nil
	case StateStopped:
		return ErrSessionStopped
	default:
		return ErrNotActive
	}
}

// Stop transitions to STOPPED from any state. Returns true if this call
// performed the transition, false if the session was already stopped.
func (l *Lifecycle) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateStopped
	return true
}

// Package segment provides block id generation, the utterance lifecycle
// state machine, and the per-speaker segment store backing an open utterance.
package segment

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of an utterance.
type State int

const (
	// StateOpen - Utterance accepts new segments and its block text may change.
	StateOpen State = iota
	// StateClosed - Speaker went idle; the block is now immutable.
	StateClosed
	// StateDiscarded - Session was reset while the utterance was open.
	StateDiscarded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateDiscarded:
		return "DISCARDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or DISCARDED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDiscarded
}

// Errors for invalid state transitions.
var (
	ErrUtteranceClosed    = errors.New("utterance is closed")
	ErrUtteranceDiscarded = errors.New("utterance was discarded")
)

// Lifecycle manages the state machine for a single utterance block.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	OPEN ──Close()───→ CLOSED
//	  │
//	  └───Discard()──→ DISCARDED
//
// Rules:
//   - OPEN: Extend() succeeds any number of times
//   - CLOSED / DISCARDED: terminal, Extend() returns an error
type Lifecycle struct {
	mu      sync.RWMutex
	blockId string
	state   State
	extends int
}

// NewLifecycle creates a new utterance lifecycle in OPEN state.
func NewLifecycle(blockId string) *Lifecycle {
	return &Lifecycle{
		blockId: blockId,
		state:   StateOpen,
	}
}

// BlockId returns the id of the block this utterance projects into.
func (l *Lifecycle) BlockId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blockId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsOpen returns true if the utterance still accepts segments.
func (l *Lifecycle) IsOpen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateOpen
}

// Extends returns how many events extended the utterance after it opened.
func (l *Lifecycle) Extends() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.extends
}

// Extend records another event for the utterance.
// Returns nil if allowed, error if the utterance is terminal.
func (l *Lifecycle) Extend() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.extends++
		return nil
	case StateClosed:
		return ErrUtteranceClosed
	case StateDiscarded:
		return ErrUtteranceDiscarded
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Close transitions the utterance to CLOSED after its speaker went idle.
// Returns true if the utterance was closed, false if already terminal.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateClosed
	return true
}

// Discard transitions the utterance to DISCARDED on session reset.
// Returns true if the utterance was discarded, false if already terminal.
func (l *Lifecycle) Discard() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDiscarded
	return true
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"sync/atomic"
)

// LoopState represents the current state of an event loop.
//
// State Machine:
//
//	StateIdle → StateRunning        [Pump entry]
//	StateRunning → StateSleeping    [wait, via CAS]
//	StateSleeping → StateRunning    [wait returned, via CAS]
//	StateRunning → StateIdle        [Pump exit]
//	any → StateClosed               [Close]
//	StateClosed → (terminal)
//
// Cross-goroutine producers only ever read the state: a producer that observes
// StateSleeping after publishing work must wake the loop, and the loop
// re-checks its queues after publishing StateSleeping, so at least one side
// always notices the other.
type LoopState uint32

const (
	// StateIdle indicates the loop exists but is not inside Pump.
	StateIdle LoopState = iota
	// StateRunning indicates the loop is dispatching work.
	StateRunning
	// StateSleeping indicates the loop is blocked in its poller.
	StateSleeping
	// StateClosed indicates the loop has been closed.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state cell, padded to its own cache line.
type fastState struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte                      // Cache line padding (before value) //nolint:unused
	v atomic.Uint32                              // State value
	_ [sizeOfCacheLine - sizeOfAtomicUint32]byte // Pad to complete cache line //nolint:unused
}

// Load returns the current state atomically.
func (s *fastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state. Only StateClosed may be stored
// unconditionally, other transitions go through TryTransition.
func (s *fastState) Store(state LoopState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// IsClosed reports whether the state is terminal.
func (s *fastState) IsClosed() bool {
	return s.Load() == StateClosed
}

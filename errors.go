// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrNoCurrentLoop is the panic value used by [Current] (and the
	// package-level registration functions) when the calling goroutine has no
	// loop. It indicates a setup bug, not a runtime condition.
	ErrNoCurrentLoop = errors.New("coreloop: no event loop for the current goroutine")

	// ErrLoopClosed is returned when operations are attempted on a closed loop.
	ErrLoopClosed = errors.New("coreloop: loop has been closed")

	// ErrWrongGoroutine is returned when a goroutine-confined operation, such
	// as [EventLoop.Exec] or [EventLoop.Pump], is called from a goroutine other
	// than the one that created the loop.
	ErrWrongGoroutine = errors.New("coreloop: loop used from a goroutine that does not own it")

	// ErrNoPoller is returned by [New] when no poller implementation exists
	// for the platform and none was provided via [WithPoller].
	ErrNoPoller = errors.New("coreloop: no poller implementation available")

	// ErrPollerClosed is returned by a [Poller] after Close.
	ErrPollerClosed = errors.New("coreloop: poller closed")

	// ErrNegativeInterval is returned when registering a timer with a
	// negative interval.
	ErrNegativeInterval = errors.New("coreloop: timer interval must not be negative")

	// ErrIntervalTooLarge is returned when a timer interval does not fit in a
	// time.Duration.
	ErrIntervalTooLarge = errors.New("coreloop: timer interval too large")

	// ErrNilReceiver is returned when a timer is registered without a receiver.
	ErrNilReceiver = errors.New("coreloop: nil receiver")

	// ErrInvalidInterest is returned when a notifier kind is not exactly one
	// of EventRead, EventWrite or EventHangup.
	ErrInvalidInterest = errors.New("coreloop: notifier kind must be one of EventRead, EventWrite or EventHangup")

	// ErrNotifierExists is returned when an interest is already registered for
	// the same (fd, kind) pair.
	ErrNotifierExists = errors.New("coreloop: notifier already registered for fd and kind")

	// ErrInvalidSignal is returned for signal numbers that cannot be hooked.
	ErrInvalidSignal = errors.New("coreloop: invalid signal number")

	// ErrJobAlreadyAdded is returned when a job is added to a loop more than once.
	ErrJobAlreadyAdded = errors.New("coreloop: job already added to a loop")

	// ErrGoexit rejects a job whose goroutine exited via runtime.Goexit.
	ErrGoexit = errors.New("coreloop: job goroutine exited via runtime.Goexit")
)

// ExitCodeFailure is the code returned by [EventLoop.Exec] and
// [EventLoop.Run] when they stop for any reason other than [EventLoop.Quit].
const ExitCodeFailure = -1

// PanicError wraps a value recovered from a panicking callback or job.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("coreloop: panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, enabling [errors.Is] and
// [errors.As] through the panic.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

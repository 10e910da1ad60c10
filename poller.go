// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"time"
)

// pollerReg is what a Poller last registered for one descriptor.
type pollerReg struct {
	events IOEvents
	gen    uint64
}

// mergeInterests folds interests into desired, keyed by descriptor, keeping
// the newest generation.
func mergeInterests(desired map[int]pollerReg, interests []Interest) {
	clear(desired)
	for _, in := range interests {
		v := desired[in.FD]
		v.events |= in.Events
		if in.Gen > v.gen {
			v.gen = in.Gen
		}
		desired[in.FD] = v
	}
}

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// String returns a human-readable representation of the events.
func (e IOEvents) String() string {
	if e == 0 {
		return "none"
	}
	var s string
	for _, v := range [...]struct {
		e IOEvents
		n string
	}{
		{EventRead, "read"},
		{EventWrite, "write"},
		{EventError, "error"},
		{EventHangup, "hangup"},
	} {
		if e&v.e == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += v.n
	}
	return s
}

// Interest is the aggregated set of events the loop wants reported for one
// file descriptor. EventError and EventHangup are always reported, when they
// occur, for every descriptor in the set.
//
// Gen changes whenever the registrations behind FD change. A Poller must
// treat a descriptor with a new Gen as a fresh one, since the number may
// have been closed and reused in between, and the kernel will have dropped
// the old registration.
type Interest struct {
	FD     int
	Events IOEvents
	Gen    uint64
}

// Readiness reports the events that occurred on one file descriptor. A
// Poller reports each descriptor at most once per Wait.
type Readiness struct {
	FD     int
	Events IOEvents
}

// WaitResult describes why Wait returned.
type WaitResult uint8

const (
	// WaitTimedOut indicates the timeout elapsed.
	WaitTimedOut WaitResult = iota
	// WaitReady indicates at least one descriptor is ready.
	WaitReady
	// WaitWoken indicates Wake was called, or the wait was interrupted.
	WaitWoken
)

// String returns a human-readable representation of the result.
func (r WaitResult) String() string {
	switch r {
	case WaitTimedOut:
		return "TimedOut"
	case WaitReady:
		return "Ready"
	case WaitWoken:
		return "Woken"
	default:
		return "Unknown"
	}
}

// Poller is the multiplexing backend of an [EventLoop].
//
// Wait and Close are only called from the loop goroutine. Wake may be called
// from any goroutine, concurrently with Wait, and a Wake that happens before
// Wait must make that Wait return immediately.
type Poller interface {
	// Wait blocks until the timeout elapses (a negative timeout blocks
	// indefinitely, zero does not block), Wake is called, or a descriptor in
	// interests is ready. The interest set is the complete set for this
	// wait: descriptors omitted since the previous call are no longer
	// watched. Ready descriptors are appended to buf.
	//
	// A non-nil error is unrecoverable, and stops the loop.
	Wait(timeout time.Duration, interests []Interest, buf []Readiness) ([]Readiness, WaitResult, error)

	// Wake forces a concurrent or subsequent Wait to return.
	Wake() error

	// Close releases the resources of the poller.
	Close() error
}

// timeoutMillis converts a wait timeout to poll(2) style milliseconds,
// rounding sub-millisecond delays up to 1ms.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	const maxMillis = 1<<31 - 1
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > maxMillis {
		return maxMillis
	}
	return int(ms)
}

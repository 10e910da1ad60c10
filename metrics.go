// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"sync/atomic"
)

// Metrics is a snapshot of the counters of a loop, see [WithMetrics]. All
// values are totals since the loop was created.
type Metrics struct {
	// Pumps is the number of Pump iterations, including those run by Exec.
	Pumps uint64
	// Deferred is the number of deferred invocations run.
	Deferred uint64
	// Posted is the number of events posted.
	Posted uint64
	// Dispatched is the number of posted events delivered.
	Dispatched uint64
	// Dropped is the number of events and timers discarded because their
	// receiver was gone.
	Dropped uint64
	// Timers is the number of timer events delivered.
	Timers uint64
	// Notifiers is the number of notifier callbacks run.
	Notifiers uint64
	// Signals is the number of signal handlers run.
	Signals uint64
	// Jobs is the number of settled jobs delivered.
	Jobs uint64
	// Wakes is the number of times the poller was signalled.
	Wakes uint64
	// Panics is the number of callbacks that panicked.
	Panics uint64
}

type counter int

const (
	counterPumps counter = iota
	counterDeferred
	counterPosted
	counterDispatched
	counterDropped
	counterTimers
	counterNotifiers
	counterSignals
	counterJobs
	counterWakes
	counterPanics
	numCounters
)

// loopMetrics holds the live counters. A nil *loopMetrics discards updates,
// which is how metrics are disabled.
type loopMetrics struct {
	c [numCounters]atomic.Uint64
}

func (m *loopMetrics) add(c counter, n int) {
	if m != nil && n > 0 {
		m.c[c].Add(uint64(n))
	}
}

func (m *loopMetrics) snapshot() Metrics {
	if m == nil {
		return Metrics{}
	}
	return Metrics{
		Pumps:      m.c[counterPumps].Load(),
		Deferred:   m.c[counterDeferred].Load(),
		Posted:     m.c[counterPosted].Load(),
		Dispatched: m.c[counterDispatched].Load(),
		Dropped:    m.c[counterDropped].Load(),
		Timers:     m.c[counterTimers].Load(),
		Notifiers:  m.c[counterNotifiers].Load(),
		Signals:    m.c[counterSignals].Load(),
		Jobs:       m.c[counterJobs].Load(),
		Wakes:      m.c[counterWakes].Load(),
		Panics:     m.c[counterPanics].Load(),
	}
}

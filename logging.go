// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
)

// Diagnostic categories, each rate limited independently.
const (
	diagDroppedEvent = "dropped_event"
	diagDroppedTimer = "dropped_timer"
)

// newDiagnosticLimiter builds the limiter for diagnostic logs. Empty rates
// disable limiting, catrate treating a nil limiter as unlimited.
func newDiagnosticLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			limiter = nil
			err = fmt.Errorf("coreloop: invalid diagnostic rates: %v", r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// logDropped records an event or timer discarded because its receiver is
// gone.
func (l *EventLoop) logDropped(category string, ev Event) {
	l.metrics.add(counterDropped, 1)
	b := l.logger.Debug()
	if !b.Enabled() {
		return
	}
	if _, ok := l.diag.Allow(category); !ok {
		b.Release()
		return
	}
	b.Str("category", category).
		Str("event_type", ev.EventType().String()).
		Log("coreloop: receiver gone, dropping")
}

// logPanic records a recovered callback panic.
func (l *EventLoop) logPanic(phase string, r any) {
	l.logger.Err().
		Str("phase", phase).
		Err(PanicError{Value: r}).
		Log("coreloop: callback panicked")
}

// logCritical records an unrecoverable loop failure.
func (l *EventLoop) logCritical(msg string, err error) {
	l.logger.Crit().
		Err(err).
		Log(msg)
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"sync/atomic"
	"weak"
)

// Handler is the dispatch entry point of a [Receiver]. HandleEvent is always
// invoked synchronously, on the goroutine of the loop delivering the event.
type Handler interface {
	HandleEvent(ev Event)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ev Event)

// HandleEvent calls f(ev).
func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }

// Receiver is the target of posted events and the owner of timers.
//
// Loops never keep a Receiver alive: queued events and timers reference it
// weakly, and are silently dropped once the Receiver has been destroyed, or
// garbage collected. Callers must therefore retain the Receiver for as long
// as they expect deliveries.
type Receiver struct {
	// Prevent copying
	_ [0]func()

	handler Handler

	destroyed atomic.Bool

	// hidden is inverted so the zero value is visible
	hidden atomic.Bool
}

// NewReceiver returns a live, visible receiver dispatching to h.
func NewReceiver(h Handler) *Receiver {
	return &Receiver{handler: h}
}

// Destroy marks the receiver dead. Pending events and timers targeting it are
// skipped from then on. Safe to call from any goroutine, more than once.
func (r *Receiver) Destroy() {
	r.destroyed.Store(true)
}

// Alive reports whether the receiver has not been destroyed.
func (r *Receiver) Alive() bool {
	return r != nil && !r.destroyed.Load()
}

// SetVisibleForTimers controls whether timers registered with
// [SuppressWhenHidden] fire for this receiver.
func (r *Receiver) SetVisibleForTimers(visible bool) {
	r.hidden.Store(!visible)
}

// VisibleForTimers reports the value last set by SetVisibleForTimers, true by
// default.
func (r *Receiver) VisibleForTimers() bool {
	return !r.hidden.Load()
}

// dispatch delivers ev, unless the receiver has died.
func (r *Receiver) dispatch(ev Event) bool {
	if !r.Alive() || r.handler == nil {
		return false
	}
	r.handler.HandleEvent(ev)
	return true
}

// receiverRef is a non-owning reference to a Receiver.
type receiverRef struct {
	p weak.Pointer[Receiver]
}

func makeReceiverRef(r *Receiver) receiverRef {
	if r == nil {
		return receiverRef{}
	}
	return receiverRef{p: weak.Make(r)}
}

// get returns the receiver if it is still reachable and alive.
func (x receiverRef) get() *Receiver {
	if r := x.p.Value(); r.Alive() {
		return r
	}
	return nil
}

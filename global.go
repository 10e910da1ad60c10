// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"slices"
)

// The functions in this file operate on the calling goroutine's current loop.
// The Register functions panic with ErrNoCurrentLoop if there is none. The
// Unregister functions search every loop of the goroutine, topmost first, so
// an id registered with an outer loop can be unregistered from within a
// nested one, and are no-ops for unknown ids.

// RegisterTimer is [EventLoop.RegisterTimer] on the current loop.
func RegisterTimer(receiver *Receiver, milliseconds int, shouldReload bool, policy VisibilityPolicy) (TimerID, error) {
	return Current().RegisterTimer(receiver, milliseconds, shouldReload, policy)
}

// UnregisterTimer disarms the timer id, on whichever loop of the goroutine
// holds it.
func UnregisterTimer(id TimerID) {
	for _, l := range slices.Backward(stackSnapshot(getGoroutineID())) {
		if !l.state.IsClosed() && l.timers.unregister(id) {
			return
		}
	}
}

// RegisterNotifier is [EventLoop.RegisterNotifier] on the current loop.
func RegisterNotifier(fd int, kind IOEvents, cb func(IOEvents)) (NotifierID, error) {
	return Current().RegisterNotifier(fd, kind, cb)
}

// UnregisterNotifier removes the notifier id, from whichever loop of the
// goroutine holds it.
func UnregisterNotifier(id NotifierID) {
	for _, l := range slices.Backward(stackSnapshot(getGoroutineID())) {
		if !l.state.IsClosed() && l.notifiers.unregister(id) {
			return
		}
	}
}

// RegisterSignal is [EventLoop.RegisterSignal] on the current loop.
func RegisterSignal(signo int, fn func(signo int)) (SignalHandlerID, error) {
	return Current().RegisterSignal(signo, fn)
}

// UnregisterSignal removes the signal handler id, from whichever loop of the
// goroutine holds it.
func UnregisterSignal(id SignalHandlerID) {
	for _, l := range slices.Backward(stackSnapshot(getGoroutineID())) {
		if !l.state.IsClosed() && l.signals.unregister(id) {
			return
		}
	}
}

// DeferredInvoke queues fn on the current loop, see
// [EventLoop.DeferredInvoke].
func DeferredInvoke(fn func()) {
	l := Current()
	if fn != nil && !l.state.IsClosed() {
		l.deferred.push(fn)
	}
}

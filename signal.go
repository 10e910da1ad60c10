// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"maps"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
)

// SignalHandlerID identifies a registered signal handler. Ids are unique per
// process, and never zero.
type SignalHandlerID uint64

var signalHandlerIDCounter atomic.Uint64

type signalHandler struct {
	fn      func(signo int)
	id      SignalHandlerID
	signo   int
	removed bool
}

// signalHook is the process-level hook for one signal number. Its goroutine
// does nothing but record delivery and wake the loop, handlers run on the
// loop goroutine.
type signalHook struct {
	ch       chan os.Signal
	done     chan struct{}
	handlers []*signalHandler
	pending  atomic.Bool
}

// signalDispatcher holds the signal handlers of one loop. Everything except
// the pending flags is confined to the loop goroutine.
type signalDispatcher struct {
	hooks      map[int]*signalHook
	byID       map[SignalHandlerID]*signalHandler
	wake       func()
	pendingAny atomic.Bool
}

func newSignalDispatcher(wake func()) *signalDispatcher {
	return &signalDispatcher{
		hooks: make(map[int]*signalHook),
		byID:  make(map[SignalHandlerID]*signalHandler),
		wake:  wake,
	}
}

func (d *signalDispatcher) register(signo int, fn func(int)) (SignalHandlerID, error) {
	if signo <= 0 || uncatchableSignal(signo) {
		return 0, ErrInvalidSignal
	}
	h := &signalHandler{
		fn:    fn,
		id:    SignalHandlerID(signalHandlerIDCounter.Add(1)),
		signo: signo,
	}
	hook, ok := d.hooks[signo]
	if !ok {
		hook = &signalHook{}
		d.hooks[signo] = hook
		d.install(signo, hook)
	}
	// copy on write, drain iterates a snapshot
	hook.handlers = append(slices.Clip(hook.handlers), h)
	d.byID[h.id] = h
	return h.id, nil
}

// unregister removes one handler, uninstalling the hook with the last one.
// Unknown ids report false.
func (d *signalDispatcher) unregister(id SignalHandlerID) bool {
	h, ok := d.byID[id]
	if !ok {
		return false
	}
	delete(d.byID, id)
	h.removed = true
	hook := d.hooks[h.signo]
	hook.handlers = slices.DeleteFunc(slices.Clone(hook.handlers), func(v *signalHandler) bool {
		return v == h
	})
	if len(hook.handlers) == 0 {
		d.uninstall(hook)
		delete(d.hooks, h.signo)
	}
	return true
}

func (d *signalDispatcher) has(id SignalHandlerID) bool {
	_, ok := d.byID[id]
	return ok
}

// Len returns the number of registered handlers.
func (d *signalDispatcher) Len() int {
	return len(d.byID)
}

func (d *signalDispatcher) install(signo int, hook *signalHook) {
	hook.ch = make(chan os.Signal, 1)
	hook.done = make(chan struct{})
	signal.Notify(hook.ch, syscall.Signal(signo))
	go d.forward(hook.ch, hook.done, hook)
}

func (d *signalDispatcher) forward(ch <-chan os.Signal, done <-chan struct{}, hook *signalHook) {
	for {
		select {
		case <-ch:
			hook.pending.Store(true)
			d.pendingAny.Store(true)
			d.wake()
		case <-done:
			return
		}
	}
}

func (d *signalDispatcher) uninstall(hook *signalHook) {
	signal.Stop(hook.ch)
	close(hook.done)
	hook.pending.Store(false)
}

// pending reports whether any signal awaits its handlers.
func (d *signalDispatcher) pending() bool {
	return d.pendingAny.Load()
}

// drain runs the handlers of every pending signal, ascending by number, in
// registration order, returning how many ran. Handlers registered while
// draining wait for the next delivery.
func (d *signalDispatcher) drain(invoke func(func(int), int)) int {
	if !d.pendingAny.Swap(false) {
		return 0
	}
	var n int
	for _, signo := range slices.Sorted(maps.Keys(d.hooks)) {
		hook, ok := d.hooks[signo]
		if !ok || !hook.pending.Swap(false) {
			continue
		}
		for _, h := range hook.handlers {
			if h.removed {
				continue
			}
			invoke(h.fn, signo)
			n++
		}
	}
	return n
}

// reinstall replaces every process hook, discarding pending deliveries, and
// keeping the handlers.
func (d *signalDispatcher) reinstall() {
	d.pendingAny.Store(false)
	for signo, hook := range d.hooks {
		d.uninstall(hook)
		d.install(signo, hook)
	}
}

// close uninstalls every hook and forgets every handler.
func (d *signalDispatcher) close() {
	for _, hook := range d.hooks {
		d.uninstall(hook)
		for _, h := range hook.handlers {
			h.removed = true
		}
	}
	clear(d.hooks)
	clear(d.byID)
	d.pendingAny.Store(false)
}

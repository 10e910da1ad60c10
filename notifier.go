// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"sync/atomic"
)

// NotifierID identifies a registered notifier. Ids are unique per process,
// and never zero.
type NotifierID uint64

var notifierIDCounter atomic.Uint64

// notifierKey is the uniqueness constraint of the registry.
type notifierKey struct {
	fd   int
	kind IOEvents
}

type notifierEntry struct {
	cb      func(IOEvents)
	id      NotifierID
	fd      int
	kind    IOEvents
	removed bool
}

// notifierRegistry holds the descriptor interests of one loop. It is
// confined to the loop goroutine.
type notifierRegistry struct {
	byID      map[NotifierID]*notifierEntry
	byKey     map[notifierKey]*notifierEntry
	byFD      map[int][]*notifierEntry
	gens      map[int]uint64 // per fd, bumped on every change
	interests []Interest
	genSeq    uint64
	dirty     bool
}

func newNotifierRegistry() *notifierRegistry {
	return &notifierRegistry{
		byID:  make(map[NotifierID]*notifierEntry),
		byKey: make(map[notifierKey]*notifierEntry),
		byFD:  make(map[int][]*notifierEntry),
		gens:  make(map[int]uint64),
	}
}

// touch marks the registrations of fd as changed.
func (r *notifierRegistry) touch(fd int) {
	r.genSeq++
	r.gens[fd] = r.genSeq
	r.dirty = true
}

// validNotifierKind reports whether kind is exactly one of the supported
// interests.
func validNotifierKind(kind IOEvents) bool {
	switch kind {
	case EventRead, EventWrite, EventHangup:
		return true
	default:
		return false
	}
}

func (r *notifierRegistry) register(fd int, kind IOEvents, cb func(IOEvents)) (NotifierID, error) {
	if !validNotifierKind(kind) {
		return 0, ErrInvalidInterest
	}
	key := notifierKey{fd: fd, kind: kind}
	if _, ok := r.byKey[key]; ok {
		return 0, ErrNotifierExists
	}
	e := &notifierEntry{
		cb:   cb,
		id:   NotifierID(notifierIDCounter.Add(1)),
		fd:   fd,
		kind: kind,
	}
	r.byID[e.id] = e
	r.byKey[key] = e
	r.byFD[fd] = append(r.byFD[fd], e)
	r.touch(fd)
	return e.id, nil
}

// unregister removes a notifier. Unknown ids report false.
func (r *notifierRegistry) unregister(id NotifierID) bool {
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	e.removed = true
	delete(r.byID, id)
	delete(r.byKey, notifierKey{fd: e.fd, kind: e.kind})
	entries := r.byFD[e.fd]
	for i, v := range entries {
		if v == e {
			// copy on write, dispatch may be iterating the old slice
			next := make([]*notifierEntry, 0, len(entries)-1)
			next = append(next, entries[:i]...)
			next = append(next, entries[i+1:]...)
			entries = next
			break
		}
	}
	if len(entries) == 0 {
		delete(r.byFD, e.fd)
		delete(r.gens, e.fd)
		r.dirty = true
	} else {
		r.byFD[e.fd] = entries
		r.touch(e.fd)
	}
	return true
}

func (r *notifierRegistry) has(id NotifierID) bool {
	_, ok := r.byID[id]
	return ok
}

// Len returns the number of registered notifiers.
func (r *notifierRegistry) Len() int {
	return len(r.byID)
}

// interestSet returns the aggregated per-fd interests. The slice is reused,
// and only valid until the next registry mutation.
func (r *notifierRegistry) interestSet() []Interest {
	if !r.dirty {
		return r.interests
	}
	r.interests = r.interests[:0]
	for fd, entries := range r.byFD {
		var events IOEvents
		for _, e := range entries {
			events |= e.kind
		}
		r.interests = append(r.interests, Interest{FD: fd, Events: events, Gen: r.gens[fd]})
	}
	r.dirty = false
	return r.interests
}

// notifierMatches reports whether a notifier of the given kind should fire.
// Read and write interests fire on error too, so the following syscall
// observes it, and read also fires on hangup, since reads will not block.
func notifierMatches(kind, events IOEvents) bool {
	switch kind {
	case EventRead:
		return events&(EventRead|EventHangup|EventError) != 0
	case EventWrite:
		return events&(EventWrite|EventError) != 0
	case EventHangup:
		return events&EventHangup != 0
	default:
		return false
	}
}

// dispatch invokes the notifiers matching one readiness report, returning
// how many fired. Notifiers removed by an earlier callback are skipped.
func (r *notifierRegistry) dispatch(ready Readiness, invoke func(func(IOEvents), IOEvents)) int {
	entries := r.byFD[ready.FD]
	var n int
	for _, e := range entries {
		if e.removed || !notifierMatches(e.kind, ready.Events) {
			continue
		}
		invoke(e.cb, ready.Events)
		n++
	}
	return n
}

func (r *notifierRegistry) clear() {
	for _, e := range r.byID {
		e.removed = true
	}
	clear(r.byID)
	clear(r.byKey)
	clear(r.byFD)
	clear(r.gens)
	r.interests = r.interests[:0]
	r.dirty = false
}

// Notifier watches one descriptor for one kind of readiness, on the loop that
// was current when it was created.
type Notifier struct {
	loop    *EventLoop
	fn      func(IOEvents)
	fd      int
	kind    IOEvents
	id      NotifierID
	enabled bool
}

// NewNotifier creates an enabled notifier on the current loop. It panics with
// [ErrNoCurrentLoop] if the calling goroutine has no loop.
func NewNotifier(fd int, kind IOEvents, fn func(IOEvents)) (*Notifier, error) {
	if !validNotifierKind(kind) {
		return nil, ErrInvalidInterest
	}
	n := &Notifier{loop: Current(), fn: fn, fd: fd, kind: kind}
	if err := n.SetEnabled(true); err != nil {
		return nil, err
	}
	return n, nil
}

// FD returns the watched descriptor.
func (n *Notifier) FD() int { return n.fd }

// Kind returns the watched interest.
func (n *Notifier) Kind() IOEvents { return n.kind }

// Enabled reports whether the notifier is registered.
func (n *Notifier) Enabled() bool { return n.enabled }

// SetEnabled registers or unregisters the notifier. Loop goroutine only.
func (n *Notifier) SetEnabled(enabled bool) error {
	if enabled == n.enabled {
		return nil
	}
	if !enabled {
		n.enabled = false
		return n.loop.UnregisterNotifier(n.id)
	}
	id, err := n.loop.RegisterNotifier(n.fd, n.kind, func(events IOEvents) {
		if n.fn != nil {
			n.fn(events)
		}
	})
	if err != nil {
		return err
	}
	n.id = id
	n.enabled = true
	return nil
}

// Close disables the notifier. The descriptor itself is left open.
func (n *Notifier) Close() error {
	return n.SetEnabled(false)
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin

package coreloop

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the Darwin [Poller], using kqueue, with a self-pipe for
// Wake.
//
// Hangup is observed through EV_EOF on the read filter. A descriptor watched
// only for hangup gets an edge-triggered (EV_CLEAR) read filter, so pending
// data does not keep the wait returning.
type kqueuePoller struct { // betteralign:ignore
	registered map[int]pollerReg
	desired    map[int]pollerReg
	merged     map[int]int // fd to index in the result, per Wait
	changes    []unix.Kevent_t
	eventBuf   [256]unix.Kevent_t
	wakeBuf    [64]byte
	kq         int
	wakeR      int
	wakeW      int
	mu         sync.RWMutex // Close vs Wake, so Wake never writes a recycled fd
	closed     atomic.Bool
}

var _ Poller = (*kqueuePoller)(nil)

func newDefaultPoller() (Poller, error) {
	return newKqueuePoller()
}

func newKqueuePoller() (*kqueuePoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)

	wakeR, wakeW, err := newWakeFds()
	if err != nil {
		_ = unix.Close(kq)
		return nil, err
	}

	p := &kqueuePoller{
		registered: make(map[int]pollerReg),
		desired:    make(map[int]pollerReg),
		merged:     make(map[int]int),
		kq:         kq,
		wakeR:      wakeR,
		wakeW:      wakeW,
	}

	p.changes = appendKevents(p.changes[:0], wakeR, EventRead, unix.EV_ADD|unix.EV_ENABLE)
	if _, err := unix.Kevent(kq, p.changes, nil, nil); err != nil {
		_ = unix.Close(wakeR)
		_ = unix.Close(wakeW)
		_ = unix.Close(kq)
		return nil, err
	}

	return p, nil
}

// Wait implements [Poller].
func (p *kqueuePoller) Wait(timeout time.Duration, interests []Interest, buf []Readiness) ([]Readiness, WaitResult, error) {
	if p.closed.Load() {
		return buf, WaitTimedOut, ErrPollerClosed
	}

	start := len(buf)
	buf = p.sync(interests, buf)
	if len(buf) > start {
		timeout = 0
	}

	var ts *unix.Timespec
	if ms := timeoutMillis(timeout); ms >= 0 {
		t := unix.NsecToTimespec(int64(ms) * int64(time.Millisecond))
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			if len(buf) > start {
				return buf, WaitReady, nil
			}
			return buf, WaitWoken, nil
		}
		return buf, WaitTimedOut, err
	}

	clear(p.merged)
	var woken bool
	for i := 0; i < n; i++ {
		kev := &p.eventBuf[i]
		fd := int(kev.Ident)
		if fd == p.wakeR {
			p.drainWake()
			woken = true
			continue
		}
		events := keventToEvents(kev)
		if idx, ok := p.merged[fd]; ok {
			buf[idx].Events |= events
			continue
		}
		p.merged[fd] = len(buf)
		buf = append(buf, Readiness{FD: fd, Events: events})
	}

	switch {
	case len(buf) > start:
		return buf, WaitReady, nil
	case woken:
		return buf, WaitWoken, nil
	default:
		return buf, WaitTimedOut, nil
	}
}

// sync brings the kqueue filters in line with interests. Descriptors that
// cannot be registered are reported as errored, in buf.
func (p *kqueuePoller) sync(interests []Interest, buf []Readiness) []Readiness {
	mergeInterests(p.desired, interests)

	for fd, want := range p.desired {
		old, ok := p.registered[fd]
		if ok && old == want {
			continue
		}
		if fd < 0 || fd == p.wakeR || fd == p.wakeW {
			buf = append(buf, Readiness{FD: fd, Events: EventError})
			continue
		}
		events := want.events
		switch {
		case ok && old.gen != want.gen:
			// possibly a different file under the same number, start over
			p.remove(fd, old.events)
		case ok:
			p.remove(fd, droppedFilters(old.events, events))
		}
		// EV_ADD on an existing filter updates its flags
		p.changes = appendKevents(p.changes[:0], fd, events, unix.EV_ADD|unix.EV_ENABLE)
		if _, err := unix.Kevent(p.kq, p.changes, nil, nil); err != nil {
			p.remove(fd, events)
			delete(p.registered, fd)
			buf = append(buf, Readiness{FD: fd, Events: EventError})
			continue
		}
		p.registered[fd] = want
	}

	for fd, old := range p.registered {
		if _, ok := p.desired[fd]; !ok {
			p.remove(fd, old.events)
			delete(p.registered, fd)
		}
	}

	return buf
}

// remove deletes the filters of events, ignoring errors, as kqueue drops the
// filters of closed descriptors on its own.
func (p *kqueuePoller) remove(fd int, events IOEvents) {
	p.changes = appendKevents(p.changes[:0], fd, events, unix.EV_DELETE)
	for i := range p.changes {
		_, _ = unix.Kevent(p.kq, p.changes[i:i+1], nil, nil)
	}
}

// Wake implements [Poller].
func (p *kqueuePoller) Wake() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrPollerClosed
	}
	_, err := unix.Write(p.wakeW, []byte{1})
	if errors.Is(err, unix.EAGAIN) {
		// pipe full, a wake is already pending
		return nil
	}
	return err
}

func (p *kqueuePoller) drainWake() {
	for {
		if _, err := unix.Read(p.wakeR, p.wakeBuf[:]); err != nil {
			return
		}
	}
}

// Close implements [Poller].
func (p *kqueuePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return nil
	}
	err := unix.Close(p.kq)
	for _, fd := range [...]int{p.wakeR, p.wakeW} {
		if err2 := unix.Close(fd); err == nil {
			err = err2
		}
	}
	return err
}

// appendKevents appends the kqueue filters implementing events.
func appendKevents(kevents []unix.Kevent_t, fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	if events&(EventRead|EventHangup) != 0 {
		f := flags
		if events&EventRead == 0 && flags&unix.EV_ADD != 0 {
			f |= unix.EV_CLEAR
		}
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  f,
		})
	}
	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

// droppedFilters returns the events whose filters old needs but next does
// not, read standing for the read filter.
func droppedFilters(old, next IOEvents) IOEvents {
	var dropped IOEvents
	if old&(EventRead|EventHangup) != 0 && next&(EventRead|EventHangup) == 0 {
		dropped |= EventRead
	}
	if old&EventWrite != 0 && next&EventWrite == 0 {
		dropped |= EventWrite
	}
	return dropped
}

// keventToEvents converts kqueue event to IOEvents.
func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}

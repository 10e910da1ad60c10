// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package coreloop

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux [Poller], using epoll, with an eventfd for Wake.
//
// The interest set handed to Wait is diffed against what is currently
// registered with epoll, so a steady set costs one map walk per wait, and no
// syscalls beyond epoll_wait.
type epollPoller struct { // betteralign:ignore
	registered map[int]pollerReg
	desired    map[int]pollerReg
	eventBuf   [256]unix.EpollEvent
	wakeBuf    [8]byte
	epfd       int
	wakeFd     int
	mu         sync.RWMutex // Close vs Wake, so Wake never writes a recycled fd
	closed     atomic.Bool
}

var _ Poller = (*epollPoller)(nil)

func newDefaultPoller() (Poller, error) {
	return newEpollPoller()
}

func newEpollPoller() (*epollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakeFd, _, err := newWakeFds()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, err
	}

	return &epollPoller{
		registered: make(map[int]pollerReg),
		desired:    make(map[int]pollerReg),
		epfd:       epfd,
		wakeFd:     wakeFd,
	}, nil
}

// Wait implements [Poller].
func (p *epollPoller) Wait(timeout time.Duration, interests []Interest, buf []Readiness) ([]Readiness, WaitResult, error) {
	if p.closed.Load() {
		return buf, WaitTimedOut, ErrPollerClosed
	}

	start := len(buf)
	buf = p.sync(interests, buf)
	if len(buf) > start {
		// failed registrations are already reportable
		timeout = 0
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			if len(buf) > start {
				return buf, WaitReady, nil
			}
			return buf, WaitWoken, nil
		}
		return buf, WaitTimedOut, err
	}

	var woken bool
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd == p.wakeFd {
			p.drainWake()
			woken = true
			continue
		}
		buf = append(buf, Readiness{FD: fd, Events: epollToEvents(p.eventBuf[i].Events)})
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

// sync brings the epoll registrations in line with interests. Descriptors
// that cannot be registered are reported as errored, in buf.
func (p *epollPoller) sync(interests []Interest, buf []Readiness) []Readiness {
	mergeInterests(p.desired, interests)

	for fd, want := range p.desired {
		old, ok := p.registered[fd]
		if ok && old == want {
			continue
		}
		if fd < 0 || fd == p.wakeFd {
			buf = append(buf, Readiness{FD: fd, Events: EventError})
			continue
		}
		if ok && old.gen != want.gen {
			// possibly a different file under the same number, start over
			_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
			delete(p.registered, fd)
			ok = false
		}
		ev := unix.EpollEvent{Events: eventsToEpoll(want.events), Fd: int32(fd)}
		op := unix.EPOLL_CTL_ADD
		if ok {
			op = unix.EPOLL_CTL_MOD
		}
		err := unix.EpollCtl(p.epfd, op, fd, &ev)
		if op == unix.EPOLL_CTL_MOD && errors.Is(err, unix.ENOENT) {
			// closed then reused, epoll already forgot it
			err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
		}
		if err != nil {
			delete(p.registered, fd)
			buf = append(buf, Readiness{FD: fd, Events: EventError})
			continue
		}
		p.registered[fd] = want
	}

	for fd := range p.registered {
		if _, ok := p.desired[fd]; !ok {
			// EBADF/ENOENT just mean the fd was closed first
			_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
			delete(p.registered, fd)
		}
	}

	return buf
}

// Wake implements [Poller].
func (p *epollPoller) Wake() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrPollerClosed
	}

	// PERFORMANCE: Native endianness, no binary.LittleEndian overhead
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]

	_, err := unix.Write(p.wakeFd, buf)
	if errors.Is(err, unix.EAGAIN) {
		// counter saturated, a wake is already pending
		return nil
	}
	return err
}

// drainWake resets the eventfd counter.
func (p *epollPoller) drainWake() {
	for {
		if _, err := unix.Read(p.wakeFd, p.wakeBuf[:]); err != nil {
			return
		}
	}
}

// Close implements [Poller].
func (p *epollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return nil
	}
	err := unix.Close(p.epfd)
	if err2 := unix.Close(p.wakeFd); err == nil {
		err = err2
	}
	return err
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	if events&EventHangup != 0 {
		epollEvents |= unix.EPOLLRDHUP
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= EventHangup
	}
	return events
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// fakePoller is a scriptable Poller, for deterministic tests.
type fakePoller struct {
	wakeCh    chan struct{}
	ready     []Readiness
	timeouts  []time.Duration
	interests [][]Interest
	waitErr   error
	mu        sync.Mutex
	closed    bool
	wakes     int
}

func newFakePoller() *fakePoller {
	return &fakePoller{wakeCh: make(chan struct{}, 1)}
}

func (p *fakePoller) factory() (Poller, error) { return p, nil }

// queueReady makes the next Wait report ready.
func (p *fakePoller) queueReady(ready ...Readiness) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = append(p.ready, ready...)
}

func (p *fakePoller) setWaitErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitErr = err
}

func (p *fakePoller) lastTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeouts[len(p.timeouts)-1]
}

// lastInterests returns the interests of the latest wait, without their
// generations.
func (p *fakePoller) lastInterests() []Interest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return withoutGen(p.interests[len(p.interests)-1])
}

func withoutGen(interests []Interest) []Interest {
	out := make([]Interest, len(interests))
	for i, in := range interests {
		out[i] = Interest{FD: in.FD, Events: in.Events}
	}
	return out
}

func (p *fakePoller) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePoller) Wait(timeout time.Duration, interests []Interest, buf []Readiness) ([]Readiness, WaitResult, error) {
	p.mu.Lock()
	p.timeouts = append(p.timeouts, timeout)
	p.interests = append(p.interests, append([]Interest(nil), interests...))
	if p.closed {
		p.mu.Unlock()
		return buf, WaitTimedOut, ErrPollerClosed
	}
	if err := p.waitErr; err != nil {
		p.mu.Unlock()
		return buf, WaitTimedOut, err
	}
	if len(p.ready) != 0 {
		buf = append(buf, p.ready...)
		p.ready = nil
		p.mu.Unlock()
		return buf, WaitReady, nil
	}
	p.mu.Unlock()

	switch {
	case timeout == 0:
		select {
		case <-p.wakeCh:
			return buf, WaitWoken, nil
		default:
			return buf, WaitTimedOut, nil
		}
	case timeout < 0:
		<-p.wakeCh
		return buf, WaitWoken, nil
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-p.wakeCh:
			return buf, WaitWoken, nil
		case <-timer.C:
			return buf, WaitTimedOut, nil
		}
	}
}

func (p *fakePoller) Wake() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPollerClosed
	}
	p.wakes++
	p.mu.Unlock()
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

func (p *fakePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// fakeClock is injected as EventLoop.now.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// newTestLoop returns a loop using a fake poller and clock. The caller must
// Close it, on the test goroutine.
func newTestLoop(t *testing.T, opts ...LoopOption) (*EventLoop, *fakePoller, *fakeClock) {
	t.Helper()
	poller := newFakePoller()
	loop, err := New(append([]LoopOption{WithPoller(poller.factory)}, opts...)...)
	require.NoError(t, err)
	clock := newFakeClock()
	loop.now = clock.Now
	return loop, poller, clock
}

// newBufferLogger returns a debug level JSON logger writing to a buffer.
func newBufferLogger() (*logiface.Logger[logiface.Event], *syncBuffer) {
	var buf syncBuffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
	return logger, &buf
}

type syncBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// recorder is a receiver that records what it was sent.
type recorder struct {
	*Receiver
	events []Event
}

func newRecorder() *recorder {
	r := &recorder{}
	r.Receiver = NewReceiver(HandlerFunc(func(ev Event) {
		r.events = append(r.events, ev)
	}))
	return r
}

func customData(events []Event) []any {
	var out []any
	for _, ev := range events {
		if ce, ok := ev.(CustomEvent); ok {
			out = append(out, ce.Data)
		}
	}
	return out
}

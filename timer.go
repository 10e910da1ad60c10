// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"time"
)

// Timer is a restartable timer, bound to the loop that was current when it
// was created, calling fn on the loop goroutine each time it fires.
//
// The loop references a timer weakly, through its receiver: a Timer that is
// no longer reachable stops firing once collected, so keep it referenced
// while it should run. All methods are loop goroutine only.
type Timer struct {
	loop       *EventLoop
	receiver   *Receiver
	fn         func()
	interval   time.Duration
	id         TimerID
	singleShot bool
	policy     VisibilityPolicy
}

// NewTimer returns a stopped, repeating timer. It panics with
// [ErrNoCurrentLoop] if the calling goroutine has no loop.
func NewTimer(interval time.Duration, fn func()) *Timer {
	t := &Timer{
		loop:     Current(),
		fn:       fn,
		interval: interval,
		policy:   SuppressWhenHidden,
	}
	t.receiver = NewReceiver(HandlerFunc(t.handleEvent))
	return t
}

// NewSingleShotTimer returns a stopped timer that stops itself after firing
// once.
func NewSingleShotTimer(interval time.Duration, fn func()) *Timer {
	t := NewTimer(interval, fn)
	t.singleShot = true
	return t
}

func (t *Timer) handleEvent(ev Event) {
	te, ok := ev.(TimerEvent)
	if !ok || te.TimerID != t.id {
		return
	}
	if t.singleShot {
		t.id = 0
	}
	if t.fn != nil {
		t.fn()
	}
}

// Receiver returns the receiver the timer is registered for, which controls
// visibility, see [Receiver.SetVisibleForTimers].
func (t *Timer) Receiver() *Receiver { return t.receiver }

// Start arms the timer, unless it is already active.
func (t *Timer) Start() error {
	if t.IsActive() {
		return nil
	}
	id, err := t.loop.registerTimer(t.receiver, t.interval, !t.singleShot, t.policy)
	if err != nil {
		return err
	}
	t.id = id
	return nil
}

// Stop disarms the timer, if it is active.
func (t *Timer) Stop() error {
	if !t.IsActive() {
		t.id = 0
		return nil
	}
	if err := t.loop.UnregisterTimer(t.id); err != nil {
		return err
	}
	t.id = 0
	return nil
}

// Restart re-arms the timer, its next firing being a full interval from now.
func (t *Timer) Restart() error {
	if err := t.Stop(); err != nil {
		return err
	}
	return t.Start()
}

// IsActive reports whether the timer is armed.
func (t *Timer) IsActive() bool {
	// a suppressed single shot is forgotten by the loop without firing
	return t.id != 0 && t.loop.timers.has(t.id)
}

// Interval returns the timer interval.
func (t *Timer) Interval() time.Duration { return t.interval }

// SetInterval changes the interval, restarting the timer if it is active.
func (t *Timer) SetInterval(interval time.Duration) error {
	if interval < 0 {
		return ErrNegativeInterval
	}
	t.interval = interval
	if !t.IsActive() {
		return nil
	}
	return t.Restart()
}

// IsSingleShot reports whether the timer stops after firing once.
func (t *Timer) IsSingleShot() bool { return t.singleShot }

// SetSingleShot changes whether the timer stops after firing once, taking
// effect the next time it is started.
func (t *Timer) SetSingleShot(singleShot bool) { t.singleShot = singleShot }

// SetFireWhenHidden selects the visibility policy, taking effect the next
// time the timer is started.
func (t *Timer) SetFireWhenHidden(fire bool) {
	if fire {
		t.policy = FireWhenHidden
	} else {
		t.policy = SuppressWhenHidden
	}
}

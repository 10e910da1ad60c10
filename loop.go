// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// WaitMode selects whether [EventLoop.Pump] may block.
type WaitMode uint8

const (
	// WaitForEvents blocks until there is something to dispatch.
	WaitForEvents WaitMode = iota
	// PollForEvents dispatches whatever is ready, without blocking.
	PollForEvents
)

// String returns a human-readable representation of the mode.
func (m WaitMode) String() string {
	switch m {
	case WaitForEvents:
		return "WaitForEvents"
	case PollForEvents:
		return "PollForEvents"
	default:
		return "Unknown"
	}
}

// pollerBox lets the poller be swapped, by NotifyForked, while other
// goroutines call Wake.
type pollerBox struct {
	Poller
}

// EventLoop is a cooperative, single goroutine event loop.
//
// A loop belongs to the goroutine that created it, which is the only one
// allowed to run it, or to touch its timers, notifiers, signal handlers and
// deferred invocations. PostEvent, AddJob, Go, Wake and Quit are safe from any
// goroutine.
//
// Each goroutine has a stack of loops, the topmost being [Current]. New pushes
// the loop, and Close pops it.
type EventLoop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	// Hot path fields, touched by producers
	state         fastState
	posted        threadEventQueue
	jobs          jobRegistry
	poller        atomic.Pointer[pollerBox]
	exitCode      atomic.Int64
	exitRequested atomic.Bool
	wakePending   atomic.Bool

	// Loop goroutine only
	deferred  *deferredQueue
	timers    *timerTable
	notifiers *notifierRegistry
	signals   *signalDispatcher
	readyBuf  []Readiness
	timerBuf  []*timerEntry
	depth     int

	// Immutable after New
	pollerFactory func() (Poller, error)
	logger        *logiface.Logger[logiface.Event]
	diag          *catrate.Limiter
	metrics       *loopMetrics
	now           func() time.Time
	owner         uint64
}

// New creates a loop owned by the calling goroutine, and makes it the
// goroutine's current loop.
func New(opts ...LoopOption) (*EventLoop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	diag, err := newDiagnosticLimiter(cfg.diagnosticRates)
	if err != nil {
		return nil, err
	}

	poller, err := cfg.pollerFactory()
	if err != nil {
		return nil, err
	}
	if poller == nil {
		return nil, ErrNoPoller
	}

	l := &EventLoop{
		deferred:      newDeferredQueue(),
		timers:        newTimerTable(),
		notifiers:     newNotifierRegistry(),
		pollerFactory: cfg.pollerFactory,
		logger:        cfg.logger,
		diag:          diag,
		now:           time.Now,
		owner:         getGoroutineID(),
	}
	l.poller.Store(&pollerBox{poller})
	l.signals = newSignalDispatcher(func() { _ = l.Wake() })
	if cfg.metricsEnabled {
		l.metrics = &loopMetrics{}
	}

	pushLoop(l.owner, l)

	l.logger.Debug().
		Uint64("goroutine", l.owner).
		Log("coreloop: loop created")

	return l, nil
}

// State returns the current state of the loop.
func (l *EventLoop) State() LoopState {
	return l.state.Load()
}

// Metrics returns a snapshot of the loop counters, all zero unless
// [WithMetrics] was enabled.
func (l *EventLoop) Metrics() Metrics {
	return l.metrics.snapshot()
}

// checkOwner guards the goroutine-confined operations.
func (l *EventLoop) checkOwner() error {
	if l.state.IsClosed() {
		return ErrLoopClosed
	}
	if getGoroutineID() != l.owner {
		return ErrWrongGoroutine
	}
	return nil
}

// Close removes the loop from its goroutine's stack, uninstalls its signal
// hooks, and releases the poller. Every timer, notifier and signal handler id
// of the loop becomes stale, unregistering them is a no-op. Pending events
// and deferred invocations are discarded.
//
// Close may be called from a callback of the loop itself, in which case the
// running Pump returns [ErrLoopClosed].
func (l *EventLoop) Close() error {
	if err := l.checkOwner(); err != nil {
		return err
	}
	l.state.Store(StateClosed)

	for popLoop(l.owner, l) {
	}

	l.signals.close()
	l.timers.clear()
	l.notifiers.clear()
	l.deferred.clear()
	dropped := l.posted.clear()
	l.jobs.clear()

	err := l.poller.Load().Close()

	l.logger.Debug().
		Int("dropped_events", dropped).
		Log("coreloop: loop closed")

	return err
}

// Exec runs the loop until [EventLoop.Quit] is called, returning the code it
// was given. The loop is made current for the duration, if it is not already.
//
// A poller failure stops Exec with [ExitCodeFailure] and the error.
func (l *EventLoop) Exec() (int, error) {
	return l.run(context.Background())
}

// Run is Exec, but also stops once ctx is done, returning [ExitCodeFailure]
// and ctx.Err().
func (l *EventLoop) Run(ctx context.Context) (int, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.Wake() })
	defer stop()
	return l.run(ctx)
}

func (l *EventLoop) run(ctx context.Context) (int, error) {
	if err := l.checkOwner(); err != nil {
		return ExitCodeFailure, err
	}

	// Lock this goroutine to the OS thread for the duration, signal
	// delivery and descriptor readiness being per thread concerns.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if topLoop(l.owner) != l {
		pushLoop(l.owner, l)
		defer popLoop(l.owner, l)
	}

	l.logger.Debug().Log("coreloop: exec started")

	for !l.exitRequested.Load() {
		if err := ctx.Err(); err != nil {
			l.logger.Debug().Err(err).Log("coreloop: exec cancelled")
			return ExitCodeFailure, err
		}
		if _, err := l.pump(WaitForEvents); err != nil {
			if !errors.Is(err, ErrLoopClosed) {
				l.logCritical("coreloop: exec failed", err)
			}
			return ExitCodeFailure, err
		}
	}

	code := int(l.exitCode.Load())
	l.exitRequested.Store(false)

	l.logger.Debug().Int("code", code).Log("coreloop: exec stopped")

	return code, nil
}

// Quit requests that Exec return code. It affects only this loop, not any
// loop nested inside it, or outside of it. Safe to call from any goroutine.
func (l *EventLoop) Quit(code int) {
	l.exitCode.Store(int64(code))
	l.exitRequested.Store(true)
	_ = l.Wake()
}

// WasExitRequested reports whether Quit has been called, and not yet consumed
// by Exec returning.
func (l *EventLoop) WasExitRequested() bool {
	return l.exitRequested.Load()
}

// Wake forces a blocked, or the next, wait of the loop to return. Repeated
// calls before the loop wakes are coalesced. Safe to call from any goroutine,
// a no-op once closed.
func (l *EventLoop) Wake() error {
	if l.state.IsClosed() {
		return nil
	}
	if !l.wakePending.CompareAndSwap(false, true) {
		return nil
	}
	l.metrics.add(counterWakes, 1)
	if err := l.poller.Load().Wake(); err != nil {
		l.wakePending.Store(false)
		if errors.Is(err, ErrPollerClosed) {
			// closing, or replaced after fork
			return nil
		}
		return err
	}
	return nil
}

// PostEvent queues ev for receiver, to be delivered by a later pump, in FIFO
// order. The loop holds receiver weakly: if it is destroyed, or collected,
// before delivery, the event is dropped. Safe to call from any goroutine.
func (l *EventLoop) PostEvent(receiver *Receiver, ev Event) {
	if l.state.IsClosed() {
		return
	}
	l.posted.post(makeReceiverRef(receiver), ev)
	l.metrics.add(counterPosted, 1)
	if l.state.Load() == StateSleeping {
		_ = l.Wake()
	}
}

// AddJob registers job with the loop, which delivers a [JobEvent] to the
// job's target, on the first pump after it settles. Safe to call from any
// goroutine.
func (l *EventLoop) AddJob(job *Job) error {
	if l.state.IsClosed() {
		return ErrLoopClosed
	}
	return l.jobs.add(job, func() { _ = l.Wake() })
}

// DeferredInvoke queues fn to run at the start of the next pump. Loop
// goroutine only.
func (l *EventLoop) DeferredInvoke(fn func()) error {
	if err := l.checkOwner(); err != nil {
		return err
	}
	if fn != nil {
		l.deferred.push(fn)
	}
	return nil
}

// Pump runs one iteration of the loop, returning the number of callbacks it
// dispatched. In order, it runs the deferred invocations queued before the
// call, delivers settled jobs and posted events, waits, then runs pending
// signal handlers, due timers, and ready notifiers. The wait does not block
// if mode is PollForEvents, if anything was dispatched before it, or if there
// is already more work.
//
// The returned count includes signal handlers, as well as deferred
// invocations, delivered events, timers and notifiers.
//
// Pump may be called from within a callback, which runs a nested iteration.
func (l *EventLoop) Pump(mode WaitMode) (int, error) {
	if err := l.checkOwner(); err != nil {
		return 0, err
	}
	return l.pump(mode)
}

// SpinUntil pumps, waiting for events, until pred returns true.
func (l *EventLoop) SpinUntil(pred func() bool) error {
	if err := l.checkOwner(); err != nil {
		return err
	}
	for !pred() {
		if _, err := l.pump(WaitForEvents); err != nil {
			return err
		}
	}
	return nil
}

func (l *EventLoop) pump(mode WaitMode) (int, error) {
	l.enter()
	defer l.leave()

	l.metrics.add(counterPumps, 1)

	var n int

	n += l.runDeferred()
	if l.state.IsClosed() {
		return n, ErrLoopClosed
	}

	l.jobs.poll(l.postJobEvent)

	n += l.dispatchPosted()
	if l.state.IsClosed() {
		return n, ErrLoopClosed
	}

	ready, err := l.wait(mode, n != 0)
	if err != nil {
		return n, err
	}

	n += l.signals.drain(l.invokeSignal)
	if l.state.IsClosed() {
		return n, ErrLoopClosed
	}

	n += l.fireTimers()
	if l.state.IsClosed() {
		return n, ErrLoopClosed
	}

	n += l.dispatchReady(ready)
	if l.state.IsClosed() {
		return n, ErrLoopClosed
	}

	return n, nil
}

func (l *EventLoop) enter() {
	l.depth++
	if l.depth == 1 {
		l.state.TryTransition(StateIdle, StateRunning)
	}
}

func (l *EventLoop) leave() {
	l.depth--
	if l.depth == 0 {
		l.state.TryTransition(StateRunning, StateIdle)
	}
}

// hasPendingWork reports whether the next iteration has something to do
// without waiting.
func (l *EventLoop) hasPendingWork() bool {
	return l.exitRequested.Load() ||
		l.deferred.Len() != 0 ||
		l.posted.Len() != 0 ||
		l.jobs.hasReady() ||
		l.signals.pending()
}

// waitTimeout returns how long the wait may block, negative for no limit. A
// pump that already dispatched something only polls, so callers like
// SpinUntil get to observe the result.
func (l *EventLoop) waitTimeout(mode WaitMode, dispatched bool) time.Duration {
	if mode == PollForEvents || dispatched || l.hasPendingWork() {
		return 0
	}
	if deadline, ok := l.timers.nextDeadline(); ok {
		if d := deadline.Sub(l.now()); d > 0 {
			return d
		}
		return 0
	}
	return -1
}

// wait blocks in the poller. The returned slice belongs to the caller, who
// hands it back via dispatchReady.
func (l *EventLoop) wait(mode WaitMode, dispatched bool) ([]Readiness, error) {
	timeout := l.waitTimeout(mode, dispatched)

	var sleeping bool
	if timeout != 0 && l.state.TryTransition(StateRunning, StateSleeping) {
		sleeping = true
		// producers only wake a sleeping loop, so re-check after publishing
		if l.hasPendingWork() {
			timeout = 0
		}
	}

	ready := l.readyBuf[:0]
	l.readyBuf = nil

	ready, _, err := l.poller.Load().Wait(timeout, l.notifiers.interestSet(), ready)

	if sleeping {
		l.state.TryTransition(StateSleeping, StateRunning)
	}
	l.wakePending.Store(false)

	if err != nil {
		l.readyBuf = ready[:0]
		return nil, fmt.Errorf("coreloop: poller wait: %w", err)
	}
	return ready, nil
}

func (l *EventLoop) runDeferred() int {
	batch := l.deferred.takeBatch()
	if len(batch) == 0 {
		return 0
	}
	var n int
	for _, fn := range batch {
		if l.state.IsClosed() {
			break
		}
		l.safeExecute("deferred", fn)
		n++
	}
	l.deferred.recycle(batch)
	l.metrics.add(counterDeferred, n)
	return n
}

func (l *EventLoop) postJobEvent(j *Job) {
	l.metrics.add(counterJobs, 1)
	if !j.hasTarget {
		return
	}
	value, err := j.Result()
	l.posted.post(j.target, JobEvent{Job: j, Value: value, Err: err})
}

func (l *EventLoop) dispatchPosted() int {
	batch := l.posted.take()
	if batch.Length() == 0 {
		return 0
	}
	var n int
	for {
		if l.state.IsClosed() {
			batch.release()
			break
		}
		pe, ok := batch.Pop()
		if !ok {
			break
		}
		r := pe.target.get()
		if r == nil {
			l.logDropped(diagDroppedEvent, pe.ev)
			continue
		}
		l.safeDispatch("event", r, pe.ev)
		n++
	}
	l.metrics.add(counterDispatched, n)
	return n
}

// fireTimers delivers every timer due now. Timers are settled (re-armed or
// forgotten) before their callback, so the callback may unregister or
// re-register them.
func (l *EventLoop) fireTimers() int {
	now := l.now()
	due := l.timers.popDue(now, l.timerBuf[:0])
	l.timerBuf = nil
	if len(due) == 0 {
		l.timerBuf = due
		return 0
	}

	var n int
	for _, e := range due {
		if l.state.IsClosed() {
			break
		}
		if e.cancelled {
			// unregistered by an earlier callback in this batch
			continue
		}
		r := e.owner.get()
		if r == nil {
			l.timers.drop(e)
			l.logDropped(diagDroppedTimer, TimerEvent{TimerID: e.id})
			continue
		}
		l.timers.settle(e, now)
		if e.policy == SuppressWhenHidden && !r.VisibleForTimers() {
			continue
		}
		l.safeDispatch("timer", r, TimerEvent{TimerID: e.id})
		n++
	}

	clear(due)
	l.timerBuf = due[:0]
	l.metrics.add(counterTimers, n)
	return n
}

func (l *EventLoop) dispatchReady(ready []Readiness) int {
	var n int
	for _, r := range ready {
		if l.state.IsClosed() {
			break
		}
		n += l.notifiers.dispatch(r, l.invokeNotifier)
	}
	l.readyBuf = ready[:0]
	l.metrics.add(counterNotifiers, n)
	return n
}

func (l *EventLoop) invokeNotifier(cb func(IOEvents), events IOEvents) {
	if cb == nil {
		return
	}
	defer l.recoverCallback("notifier")
	cb(events)
}

func (l *EventLoop) invokeSignal(fn func(int), signo int) {
	l.metrics.add(counterSignals, 1)
	if fn == nil {
		return
	}
	defer l.recoverCallback("signal")
	fn(signo)
}

func (l *EventLoop) safeDispatch(phase string, r *Receiver, ev Event) {
	defer l.recoverCallback(phase)
	r.dispatch(ev)
}

// safeExecute executes fn, recovering from any panic.
func (l *EventLoop) safeExecute(phase string, fn func()) {
	defer l.recoverCallback(phase)
	fn()
}

// recoverCallback must be deferred directly.
func (l *EventLoop) recoverCallback(phase string) {
	if r := recover(); r != nil {
		l.metrics.add(counterPanics, 1)
		l.logPanic(phase, r)
	}
}

// NotifyForked resets the loop in a child process. Timers, notifiers, posted
// events, deferred invocations and jobs are discarded, pending signals are
// forgotten, and the poller is replaced using the factory the loop was
// created with. Signal handlers stay registered, with fresh process hooks.
func (l *EventLoop) NotifyForked() error {
	if err := l.checkOwner(); err != nil {
		return err
	}

	l.timers.clear()
	l.notifiers.clear()
	l.deferred.clear()
	l.posted.clear()
	l.jobs.clear()

	poller, err := l.pollerFactory()
	if err != nil {
		return fmt.Errorf("coreloop: replacing poller after fork: %w", err)
	}
	if poller == nil {
		return ErrNoPoller
	}
	old := l.poller.Swap(&pollerBox{poller})
	l.wakePending.Store(false)
	_ = old.Close()

	l.signals.reinstall()

	l.logger.Debug().
		Int("signal_handlers", l.signals.Len()).
		Log("coreloop: loop reset after fork")

	return nil
}

// maxTimerMillis is the largest interval representable as a time.Duration.
const maxTimerMillis = math.MaxInt64 / int64(time.Millisecond)

// RegisterTimer arms a timer delivering [TimerEvent] to receiver every
// milliseconds, or once if shouldReload is false. Loop goroutine only.
func (l *EventLoop) RegisterTimer(receiver *Receiver, milliseconds int, shouldReload bool, policy VisibilityPolicy) (TimerID, error) {
	if int64(milliseconds) > maxTimerMillis {
		return 0, ErrIntervalTooLarge
	}
	return l.registerTimer(receiver, time.Duration(milliseconds)*time.Millisecond, shouldReload, policy)
}

func (l *EventLoop) registerTimer(receiver *Receiver, interval time.Duration, reload bool, policy VisibilityPolicy) (TimerID, error) {
	if err := l.checkOwner(); err != nil {
		return 0, err
	}
	if interval < 0 {
		return 0, ErrNegativeInterval
	}
	if receiver == nil {
		return 0, ErrNilReceiver
	}
	return l.timers.register(receiver, interval, reload, policy, l.now()), nil
}

// UnregisterTimer disarms a timer. Unknown or stale ids are ignored, as is
// every id once the loop is closed. Loop goroutine only.
func (l *EventLoop) UnregisterTimer(id TimerID) error {
	if l.state.IsClosed() {
		return nil
	}
	if getGoroutineID() != l.owner {
		return ErrWrongGoroutine
	}
	l.timers.unregister(id)
	return nil
}

// RegisterNotifier watches fd for kind, which must be exactly one of
// EventRead, EventWrite or EventHangup. Loop goroutine only.
func (l *EventLoop) RegisterNotifier(fd int, kind IOEvents, cb func(IOEvents)) (NotifierID, error) {
	if err := l.checkOwner(); err != nil {
		return 0, err
	}
	return l.notifiers.register(fd, kind, cb)
}

// UnregisterNotifier stops watching for one interest. Other interests on the
// same descriptor are unaffected. Unknown or stale ids are ignored. Loop
// goroutine only.
func (l *EventLoop) UnregisterNotifier(id NotifierID) error {
	if l.state.IsClosed() {
		return nil
	}
	if getGoroutineID() != l.owner {
		return ErrWrongGoroutine
	}
	l.notifiers.unregister(id)
	return nil
}

// RegisterSignal adds a handler for signo, run on the loop goroutine, after
// the signal is delivered to the process. Loop goroutine only.
func (l *EventLoop) RegisterSignal(signo int, fn func(signo int)) (SignalHandlerID, error) {
	if err := l.checkOwner(); err != nil {
		return 0, err
	}
	return l.signals.register(signo, fn)
}

// UnregisterSignal removes one handler, releasing the process hook with the
// last handler of the signal. Unknown or stale ids are ignored. Loop
// goroutine only.
func (l *EventLoop) UnregisterSignal(id SignalHandlerID) error {
	if l.state.IsClosed() {
		return nil
	}
	if getGoroutineID() != l.owner {
		return ErrWrongGoroutine
	}
	l.signals.unregister(id)
	return nil
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package coreloop provides a cooperative, per-goroutine event loop, with
// timers, descriptor readiness notifiers, signal handlers, posted events, and
// deferred invocations, all dispatched on the goroutine that owns the loop.
//
// # Architecture
//
// Each goroutine has a stack of loops. [New] pushes a loop onto the calling
// goroutine's stack, making it [Current], and [EventLoop.Close] pops it. A
// callback may construct, and run, a nested loop, which then owns the
// goroutine until its own [EventLoop.Quit].
//
// Events are delivered to a [Receiver], which the loop only ever references
// weakly: events and timers targeting a destroyed, or collected, receiver are
// dropped.
//
// # Pump Order
//
// Each call to [EventLoop.Pump] runs one generation of work:
//  1. Deferred invocations queued before the pump ([EventLoop.DeferredInvoke])
//  2. Settled jobs ([EventLoop.AddJob]), which become posted events
//  3. Posted events ([EventLoop.PostEvent]), in FIFO order
//  4. The wait, which does not block if any of the above, a pending
//     signal, or Quit, is outstanding
//  5. Pending signal handlers, ascending by signal number
//  6. Due timers, by deadline, then by registration order
//  7. Ready notifiers
//
// Work queued by a callback always lands in a later pump.
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - macOS: kqueue
//   - Linux: epoll
//
// On other platforms, a [Poller] must be provided via [WithPoller].
//
// # Thread Safety
//
// [EventLoop.PostEvent], [EventLoop.AddJob], [EventLoop.Go],
// [EventLoop.Wake] and [EventLoop.Quit] are safe to call from any goroutine.
// Everything else is confined to the goroutine that created the loop, and
// reports [ErrWrongGoroutine] otherwise.
//
// # Usage
//
//	loop, err := coreloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	t := coreloop.NewTimer(100*time.Millisecond, func() {
//	    loop.Quit(0)
//	})
//	if err := t.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	code, err := loop.Exec()
package coreloop

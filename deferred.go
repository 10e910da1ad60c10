// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"github.com/eapache/queue"
)

// deferredQueue is the FIFO of deferred invocations. It is confined to the
// loop goroutine, and therefore unsynchronized.
type deferredQueue struct {
	q     *queue.Queue
	batch []func()
}

func newDeferredQueue() *deferredQueue {
	return &deferredQueue{q: queue.New()}
}

func (d *deferredQueue) push(fn func()) {
	d.q.Add(fn)
}

func (d *deferredQueue) Len() int {
	return d.q.Length()
}

// takeBatch removes every invocation queued so far, in FIFO order. Anything
// deferred while the batch runs lands in the queue, for the next pump.
//
// The returned slice is only valid until the next call.
func (d *deferredQueue) takeBatch() []func() {
	n := d.q.Length()
	if n == 0 {
		return nil
	}
	batch := d.batch[:0]
	for i := 0; i < n; i++ {
		batch = append(batch, d.q.Remove().(func()))
	}
	d.batch = nil // a nested pump must not reuse the slice being iterated
	return batch
}

// recycle hands a fully executed batch back for reuse.
func (d *deferredQueue) recycle(batch []func()) {
	clear(batch)
	d.batch = batch[:0]
}

func (d *deferredQueue) clear() int {
	n := d.q.Length()
	for d.q.Length() != 0 {
		d.q.Remove()
	}
	return n
}

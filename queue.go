// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"sync"
)

// chunkSize is the number of events per node in the chunkedIngress linked list.
const chunkSize = 128

// postedEvent is an entry of the thread event queue.
type postedEvent struct {
	target receiverRef
	ev     Event
}

// chunkedIngress is a chunked linked-list FIFO of posted events.
//
// Thread Safety: This struct is NOT thread-safe.
// The caller must provide external synchronization (threadEventQueue.mu).
type chunkedIngress struct { // betteralign:ignore
	head   *chunk
	tail   *chunk
	length int
}

// chunkPool prevents GC thrashing under high load.
var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

// chunk is a fixed-size node in the chunked linked-list.
// It uses readPos/pos cursors for O(1) push/pop without shifting.
type chunk struct {
	events  [chunkSize]postedEvent
	next    *chunk
	readPos int // First unread slot
	pos     int // First unused slot
}

// newChunk returns a reset chunk from the pool.
func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk clears and returns an exhausted chunk to the pool.
func returnChunk(c *chunk) {
	for i := 0; i < c.pos; i++ {
		c.events[i] = postedEvent{}
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	chunkPool.Put(c)
}

// Push appends an event.
func (q *chunkedIngress) Push(e postedEvent) {
	if q.tail == nil {
		q.tail = newChunk()
		q.head = q.tail
	}

	if q.tail.pos == len(q.tail.events) {
		newTail := newChunk()
		q.tail.next = newTail
		q.tail = newTail
	}

	q.tail.events[q.tail.pos] = e
	q.tail.pos++
	q.length++
}

// Pop removes and returns the oldest event, returning false if empty.
// Exhausted chunks go back to the pool, including the last one.
func (q *chunkedIngress) Pop() (postedEvent, bool) {
	if q.head == nil || q.head.readPos >= q.head.pos {
		return postedEvent{}, false
	}

	e := q.head.events[q.head.readPos]
	q.head.events[q.head.readPos] = postedEvent{}
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.pos {
		oldHead := q.head
		q.head = q.head.next
		if q.head == nil {
			q.tail = nil
		}
		returnChunk(oldHead)
	}

	return e, true
}

// Length returns the queue length.
func (q *chunkedIngress) Length() int {
	return q.length
}

// release returns all chunks to the pool, discarding their events.
func (q *chunkedIngress) release() {
	for c := q.head; c != nil; {
		next := c.next
		returnChunk(c)
		c = next
	}
	*q = chunkedIngress{}
}

// threadEventQueue is the loop's queue of posted events. Post is safe from
// any goroutine, the rest is used by the loop goroutine.
type threadEventQueue struct {
	pending chunkedIngress
	mu      sync.Mutex
}

// post appends an event, returning the new queue length.
func (q *threadEventQueue) post(target receiverRef, ev Event) int {
	e := postedEvent{target: target, ev: ev}
	q.mu.Lock()
	q.pending.Push(e)
	n := q.pending.Length()
	q.mu.Unlock()
	return n
}

// take moves every queued event into the returned batch. Events posted after
// take returns belong to the next batch. The batch is owned by the caller, so
// a nested pump of the same loop cannot observe it.
func (q *threadEventQueue) take() chunkedIngress {
	q.mu.Lock()
	batch := q.pending
	q.pending = chunkedIngress{}
	q.mu.Unlock()
	return batch
}

// Len returns the number of queued events.
func (q *threadEventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Length()
}

// clear discards every queued event, returning how many were dropped.
func (q *threadEventQueue) clear() int {
	batch := q.take()
	n := batch.Length()
	batch.release()
	return n
}

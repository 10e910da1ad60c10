// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"container/heap"
	"sync/atomic"
	"time"
)

// TimerID identifies a registered timer. Ids are unique per process, and
// never zero.
type TimerID uint64

// VisibilityPolicy controls whether a timer fires while its receiver is not
// visible, see [Receiver.SetVisibleForTimers].
type VisibilityPolicy uint8

const (
	// SuppressWhenHidden skips the callback while the receiver is hidden. The
	// timer keeps its schedule.
	SuppressWhenHidden VisibilityPolicy = iota
	// FireWhenHidden ignores visibility.
	FireWhenHidden
)

var timerIDCounter atomic.Uint64

// timerEntry is an armed timer.
type timerEntry struct {
	deadline  time.Time
	owner     receiverRef
	interval  time.Duration
	id        TimerID
	seq       uint64
	index     int // position in timerHeap, -1 once popped
	reload    bool
	policy    VisibilityPolicy
	cancelled bool
}

// timerHeap is a min-heap of timers ordered by deadline, then by
// registration sequence.
type timerHeap []*timerEntry

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timerEntry)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[:n-1]
	return x
}

// timerTable holds the armed timers of one loop. It is confined to the loop
// goroutine.
type timerTable struct {
	byID map[TimerID]*timerEntry
	heap timerHeap
	seq  uint64
}

func newTimerTable() *timerTable {
	return &timerTable{byID: make(map[TimerID]*timerEntry)}
}

// register arms a timer due at now+interval.
func (t *timerTable) register(owner *Receiver, interval time.Duration, reload bool, policy VisibilityPolicy, now time.Time) TimerID {
	t.seq++
	e := &timerEntry{
		id:       TimerID(timerIDCounter.Add(1)),
		owner:    makeReceiverRef(owner),
		interval: interval,
		deadline: now.Add(interval),
		seq:      t.seq,
		reload:   reload,
		policy:   policy,
	}
	t.byID[e.id] = e
	heap.Push(&t.heap, e)
	return e.id
}

// unregister disarms a timer. Unknown ids report false.
func (t *timerTable) unregister(id TimerID) bool {
	e, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	e.cancelled = true
	if e.index >= 0 {
		heap.Remove(&t.heap, e.index)
	}
	return true
}

// has reports whether id is armed.
func (t *timerTable) has(id TimerID) bool {
	_, ok := t.byID[id]
	return ok
}

// Len returns the number of armed timers.
func (t *timerTable) Len() int {
	return len(t.byID)
}

// nextDeadline returns the earliest deadline, if any timer is armed.
func (t *timerTable) nextDeadline() (time.Time, bool) {
	if len(t.heap) == 0 {
		return time.Time{}, false
	}
	return t.heap[0].deadline, true
}

// popDue removes every timer due at now, appending them to buf in firing
// order. Each popped timer must be passed to settle.
func (t *timerTable) popDue(now time.Time, buf []*timerEntry) []*timerEntry {
	for len(t.heap) != 0 && !t.heap[0].deadline.After(now) {
		buf = append(buf, heap.Pop(&t.heap).(*timerEntry))
	}
	return buf
}

// settle re-arms a fired repeating timer, or forgets a one-shot. Cancelled
// timers are left alone.
//
// The next deadline is computed from the scheduled deadline, not from now,
// so a repeating timer does not drift. If the loop fell behind by whole
// intervals, those are skipped rather than fired back to back.
func (t *timerTable) settle(e *timerEntry, now time.Time) {
	if e.cancelled {
		return
	}
	if !e.reload {
		delete(t.byID, e.id)
		e.cancelled = true
		return
	}
	next := e.deadline.Add(e.interval)
	if e.interval <= 0 {
		next = now
	} else if !next.After(now) {
		missed := now.Sub(next)/e.interval + 1
		next = next.Add(missed * e.interval)
	}
	e.deadline = next
	heap.Push(&t.heap, e)
}

// drop forgets a popped timer, without re-arming it.
func (t *timerTable) drop(e *timerEntry) {
	if !e.cancelled {
		delete(t.byID, e.id)
		e.cancelled = true
	}
}

// clear disarms every timer.
func (t *timerTable) clear() {
	for _, e := range t.byID {
		e.cancelled = true
	}
	clear(t.byID)
	clear(t.heap)
	t.heap = t.heap[:0]
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"context"
	"sync"
	"sync/atomic"
)

// JobState represents the settlement state of a [Job].
type JobState uint32

const (
	// JobPending indicates the job has not settled.
	JobPending JobState = iota
	// JobResolved indicates the job settled with a value.
	JobResolved
	// JobRejected indicates the job settled with an error.
	JobRejected
)

// String returns a human-readable representation of the state.
func (s JobState) String() string {
	switch s {
	case JobPending:
		return "Pending"
	case JobResolved:
		return "Resolved"
	case JobRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Job is a single-assignment result, settled from any goroutine, and
// delivered to its target receiver as a [JobEvent] by the loop it was added
// to.
type Job struct {
	value     any
	err       error
	done      chan struct{}
	target    receiverRef
	wakers    []func()
	mu        sync.Mutex
	state     atomic.Uint32
	added     atomic.Bool
	hasTarget bool
}

// NewJob returns a pending job. A nil target is allowed, in which case the
// job is only observable through Done, State and Result.
func NewJob(target *Receiver) *Job {
	return &Job{
		done:      make(chan struct{}),
		target:    makeReceiverRef(target),
		hasTarget: target != nil,
	}
}

// Resolve settles the job with a value. Only the first settlement counts,
// Resolve reports whether it was.
func (j *Job) Resolve(value any) bool {
	return j.settle(JobResolved, value, nil)
}

// Reject settles the job with an error. Only the first settlement counts,
// Reject reports whether it was.
func (j *Job) Reject(err error) bool {
	return j.settle(JobRejected, nil, err)
}

func (j *Job) settle(state JobState, value any, err error) bool {
	j.mu.Lock()
	if JobState(j.state.Load()) != JobPending {
		j.mu.Unlock()
		return false
	}
	j.value = value
	j.err = err
	j.state.Store(uint32(state))
	close(j.done)
	wakers := j.wakers
	j.wakers = nil
	j.mu.Unlock()

	for _, wake := range wakers {
		wake()
	}
	return true
}

// State returns the current state.
func (j *Job) State() JobState {
	return JobState(j.state.Load())
}

// Result returns the settled value and error, both nil while pending.
func (j *Job) Result() (any, error) {
	select {
	case <-j.done:
		return j.value, j.err
	default:
		return nil, nil
	}
}

// Done returns a channel that is closed once the job settles.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// onSettled calls wake once the job settles, immediately if it already has.
func (j *Job) onSettled(wake func()) {
	j.mu.Lock()
	if JobState(j.state.Load()) == JobPending {
		j.wakers = append(j.wakers, wake)
		j.mu.Unlock()
		return
	}
	j.mu.Unlock()
	wake()
}

// jobRegistry tracks the jobs added to one loop, until they settle.
type jobRegistry struct {
	jobs    []*Job
	settled []*Job
	mu      sync.Mutex
	ready   atomic.Bool // at least one job may have settled since the last poll
}

func (r *jobRegistry) add(j *Job, wake func()) error {
	if !j.added.CompareAndSwap(false, true) {
		return ErrJobAlreadyAdded
	}
	r.mu.Lock()
	r.jobs = append(r.jobs, j)
	r.mu.Unlock()
	j.onSettled(func() {
		r.ready.Store(true)
		wake()
	})
	return nil
}

// hasReady reports whether poll may have work.
func (r *jobRegistry) hasReady() bool {
	return r.ready.Load()
}

// poll removes every settled job, passing each to fn, exactly once.
func (r *jobRegistry) poll(fn func(*Job)) int {
	if !r.ready.Swap(false) {
		return 0
	}
	r.mu.Lock()
	settled := r.settled[:0]
	r.settled = nil
	pending := r.jobs[:0]
	for _, j := range r.jobs {
		if j.State() == JobPending {
			pending = append(pending, j)
		} else {
			settled = append(settled, j)
		}
	}
	clear(r.jobs[len(pending):])
	r.jobs = pending
	r.mu.Unlock()

	for _, j := range settled {
		fn(j)
	}
	n := len(settled)
	clear(settled)
	r.mu.Lock()
	r.settled = settled[:0]
	r.mu.Unlock()
	return n
}

// Len returns the number of jobs awaiting settlement and delivery.
func (r *jobRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *jobRegistry) clear() {
	r.mu.Lock()
	clear(r.jobs)
	r.jobs = r.jobs[:0]
	r.mu.Unlock()
	r.ready.Store(false)
}

// Go runs fn on a new goroutine, returning a job, already added to the loop,
// that settles with its result. A panic in fn rejects the job with a
// [PanicError], and runtime.Goexit with [ErrGoexit]. If ctx is done before fn
// starts, the job is rejected with ctx.Err() and fn is not called.
//
// If the job cannot be added, for example because the loop is closed, it is
// returned already rejected with that error.
//
// Safe to call from any goroutine.
func (l *EventLoop) Go(ctx context.Context, target *Receiver, fn func(ctx context.Context) (any, error)) *Job {
	j := NewJob(target)
	if err := l.AddJob(j); err != nil {
		j.Reject(err)
		return j
	}

	go func() {
		if err := ctx.Err(); err != nil {
			j.Reject(err)
			return
		}

		// Completion flag to distinguish normal return from Goexit
		completed := false
		defer func() {
			if r := recover(); r != nil {
				j.Reject(PanicError{Value: r})
			} else if !completed {
				j.Reject(ErrGoexit)
			}
		}()

		value, err := fn(ctx)
		completed = true
		if err != nil {
			j.Reject(err)
		} else {
			j.Resolve(value)
		}
	}()

	return j
}

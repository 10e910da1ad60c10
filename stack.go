// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"runtime"
	"sync"
)

// loopStacks is the per-goroutine stack of loops, keyed by goroutine id. It
// plays the role thread-local storage would in other runtimes, and is only
// mutated by pushLoop and popLoop.
var loopStacks struct {
	m map[uint64][]*EventLoop
	sync.Mutex
}

// pushLoop makes l the current loop of goroutine gid.
func pushLoop(gid uint64, l *EventLoop) {
	loopStacks.Lock()
	defer loopStacks.Unlock()
	if loopStacks.m == nil {
		loopStacks.m = make(map[uint64][]*EventLoop)
	}
	loopStacks.m[gid] = append(loopStacks.m[gid], l)
}

// popLoop removes the topmost occurrence of l from the stack of goroutine gid,
// reporting whether it was found.
func popLoop(gid uint64, l *EventLoop) bool {
	loopStacks.Lock()
	defer loopStacks.Unlock()
	stack := loopStacks.m[gid]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] != l {
			continue
		}
		copy(stack[i:], stack[i+1:])
		stack[len(stack)-1] = nil
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			delete(loopStacks.m, gid)
		} else {
			loopStacks.m[gid] = stack
		}
		return true
	}
	return false
}

// topLoop returns the current loop of goroutine gid, or nil.
func topLoop(gid uint64) *EventLoop {
	loopStacks.Lock()
	defer loopStacks.Unlock()
	if stack := loopStacks.m[gid]; len(stack) != 0 {
		return stack[len(stack)-1]
	}
	return nil
}

// stackSnapshot returns a copy of the stack of goroutine gid, topmost last.
func stackSnapshot(gid uint64) []*EventLoop {
	loopStacks.Lock()
	defer loopStacks.Unlock()
	return append([]*EventLoop(nil), loopStacks.m[gid]...)
}

// Current returns the topmost loop of the calling goroutine. It panics with
// [ErrNoCurrentLoop] if the goroutine has none: a loop must be constructed
// before timers, notifiers or signal handlers are registered.
func Current() *EventLoop {
	if l := topLoop(getGoroutineID()); l != nil {
		return l
	}
	panic(ErrNoCurrentLoop)
}

// IsRunning reports whether the calling goroutine has at least one loop.
func IsRunning() bool {
	return topLoop(getGoroutineID()) != nil
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

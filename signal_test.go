// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package coreloop

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func raise(t *testing.T, sig unix.Signal) {
	t.Helper()
	require.NoError(t, unix.Kill(os.Getpid(), sig))
}

// spinFor pumps until pred holds, failing the test after a few seconds.
func spinFor(t *testing.T, loop *EventLoop, pred func() bool) {
	t.Helper()
	bound := NewReceiver(nil)
	id, err := loop.RegisterTimer(bound, 10, true, FireWhenHidden)
	require.NoError(t, err)
	defer loop.UnregisterTimer(id)
	deadline := time.Now().Add(5 * time.Second)
	for !pred() {
		require.True(t, time.Now().Before(deadline), "timed out")
		_, err := loop.Pump(WaitForEvents)
		require.NoError(t, err)
	}
	bound.Destroy()
}

func TestEventLoop_SignalHandlersRunOnLoopGoroutine(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	gid := getGoroutineID()
	var order []string
	var handlerGID uint64
	_, err = loop.RegisterSignal(int(unix.SIGUSR1), func(signo int) {
		assert.Equal(t, int(unix.SIGUSR1), signo)
		handlerGID = getGoroutineID()
		order = append(order, "first")
	})
	require.NoError(t, err)
	_, err = RegisterSignal(int(unix.SIGUSR1), func(int) {
		order = append(order, "second")
	})
	require.NoError(t, err)

	raise(t, unix.SIGUSR1)
	spinFor(t, loop, func() bool { return len(order) == 2 })
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, gid, handlerGID)
}

func TestEventLoop_SignalBufferedUntilPump(t *testing.T) {
	loop, err := New(WithMetrics(true))
	require.NoError(t, err)
	defer loop.Close()

	var count int
	_, err = loop.RegisterSignal(int(unix.SIGUSR2), func(int) { count++ })
	require.NoError(t, err)

	raise(t, unix.SIGUSR2)
	assert.Eventually(t, loop.signals.pending, 5*time.Second, time.Millisecond)
	assert.Zero(t, count)

	n, err := loop.Pump(PollForEvents)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, count)
	assert.Equal(t, uint64(1), loop.Metrics().Signals)

	n, err = loop.Pump(PollForEvents)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEventLoop_SignalsDrainInAscendingOrder(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var order []int
	record := func(signo int) { order = append(order, signo) }
	_, err = loop.RegisterSignal(int(unix.SIGUSR2), record)
	require.NoError(t, err)
	_, err = loop.RegisterSignal(int(unix.SIGUSR1), record)
	require.NoError(t, err)

	usr1 := loop.signals.hooks[int(unix.SIGUSR1)]
	usr2 := loop.signals.hooks[int(unix.SIGUSR2)]
	raise(t, unix.SIGUSR2)
	raise(t, unix.SIGUSR1)
	assert.Eventually(t, func() bool {
		return usr1.pending.Load() && usr2.pending.Load()
	}, 5*time.Second, time.Millisecond)

	n, err := loop.Pump(PollForEvents)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{int(unix.SIGUSR1), int(unix.SIGUSR2)}, order)
}

func TestEventLoop_SignalHandlerAddedDuringDrainWaits(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var order []string
	_, err = loop.RegisterSignal(int(unix.SIGUSR1), func(int) {
		order = append(order, "outer")
		if len(order) == 1 {
			_, err := RegisterSignal(int(unix.SIGUSR1), func(int) {
				order = append(order, "inner")
			})
			assert.NoError(t, err)
		}
	})
	require.NoError(t, err)

	raise(t, unix.SIGUSR1)
	spinFor(t, loop, func() bool { return len(order) != 0 })
	assert.Equal(t, []string{"outer"}, order)

	raise(t, unix.SIGUSR1)
	spinFor(t, loop, func() bool { return len(order) == 3 })
	assert.Equal(t, []string{"outer", "outer", "inner"}, order)
}

func TestEventLoop_SignalValidation(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	for _, signo := range []int{0, -1, int(unix.SIGKILL), int(unix.SIGSTOP)} {
		_, err := loop.RegisterSignal(signo, func(int) {})
		assert.ErrorIs(t, err, ErrInvalidSignal, signo)
	}
	assert.Zero(t, loop.signals.Len())
	assert.Empty(t, loop.signals.hooks)
}

func TestEventLoop_UnregisterLastSignalHandlerRemovesHook(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	a, err := loop.RegisterSignal(int(unix.SIGUSR1), func(int) {})
	require.NoError(t, err)
	b, err := loop.RegisterSignal(int(unix.SIGUSR1), func(int) {})
	require.NoError(t, err)
	require.Len(t, loop.signals.hooks, 1)

	require.NoError(t, loop.UnregisterSignal(a))
	assert.Len(t, loop.signals.hooks, 1)
	assert.True(t, loop.signals.has(b))

	UnregisterSignal(b)
	assert.Empty(t, loop.signals.hooks)
	assert.Zero(t, loop.signals.Len())

	// stale ids are ignored
	require.NoError(t, loop.UnregisterSignal(a))
	UnregisterSignal(b)
}

func TestEventLoop_SignalHandlersSurviveFork(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	var count int
	_, err = loop.RegisterSignal(int(unix.SIGUSR2), func(int) { count++ })
	require.NoError(t, err)

	require.NoError(t, loop.NotifyForked())
	assert.Equal(t, 1, loop.signals.Len())

	raise(t, unix.SIGUSR2)
	spinFor(t, loop, func() bool { return count != 0 })
	assert.Equal(t, 1, count)
}

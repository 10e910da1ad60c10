// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierRegistry_Validation(t *testing.T) {
	r := newNotifierRegistry()

	for _, kind := range []IOEvents{0, EventError, EventRead | EventWrite, EventRead | EventHangup} {
		_, err := r.register(3, kind, nil)
		assert.ErrorIs(t, err, ErrInvalidInterest, kind.String())
	}

	_, err := r.register(3, EventRead, nil)
	require.NoError(t, err)
	_, err = r.register(3, EventRead, nil)
	assert.ErrorIs(t, err, ErrNotifierExists)
	_, err = r.register(3, EventWrite, nil)
	assert.NoError(t, err)
	_, err = r.register(4, EventRead, nil)
	assert.NoError(t, err)
	assert.Equal(t, 3, r.Len())
}

func TestNotifierRegistry_InterestSetAggregates(t *testing.T) {
	r := newNotifierRegistry()
	read, err := r.register(3, EventRead, nil)
	require.NoError(t, err)
	_, err = r.register(3, EventHangup, nil)
	require.NoError(t, err)
	_, err = r.register(5, EventWrite, nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []Interest{
		{FD: 3, Events: EventRead | EventHangup},
		{FD: 5, Events: EventWrite},
	}, withoutGen(r.interestSet()))

	assert.True(t, r.unregister(read))
	assert.False(t, r.unregister(read))
	assert.ElementsMatch(t, []Interest{
		{FD: 3, Events: EventHangup},
		{FD: 5, Events: EventWrite},
	}, withoutGen(r.interestSet()))

	r.clear()
	assert.Empty(t, r.interestSet())
	assert.Zero(t, r.Len())
}

func interestFor(interests []Interest, fd int) (Interest, bool) {
	for _, in := range interests {
		if in.FD == fd {
			return in, true
		}
	}
	return Interest{}, false
}

func TestNotifierRegistry_GenerationTracksReuse(t *testing.T) {
	r := newNotifierRegistry()
	first, err := r.register(7, EventRead, nil)
	require.NoError(t, err)
	_, err = r.register(8, EventRead, nil)
	require.NoError(t, err)
	in, ok := interestFor(r.interestSet(), 7)
	require.True(t, ok)
	gen := in.Gen
	other, _ := interestFor(r.interestSet(), 8)
	assert.NotZero(t, gen)
	assert.NotEqual(t, gen, other.Gen)

	// unchanged until something touches fd 7
	in, _ = interestFor(r.interestSet(), 7)
	assert.Equal(t, gen, in.Gen)

	// same fd and kind, after the number was released, is a new registration
	require.True(t, r.unregister(first))
	_, ok = interestFor(r.interestSet(), 7)
	assert.False(t, ok)
	_, err = r.register(7, EventRead, nil)
	require.NoError(t, err)
	in, _ = interestFor(r.interestSet(), 7)
	assert.Greater(t, in.Gen, gen)
	gen = in.Gen

	// so is a partial change
	hup, err := r.register(7, EventHangup, nil)
	require.NoError(t, err)
	in, _ = interestFor(r.interestSet(), 7)
	assert.Greater(t, in.Gen, gen)
	gen = in.Gen
	require.True(t, r.unregister(hup))
	in, _ = interestFor(r.interestSet(), 7)
	assert.Equal(t, EventRead, in.Events)
	assert.Greater(t, in.Gen, gen)

	// fd 8 never changed
	in, _ = interestFor(r.interestSet(), 8)
	assert.Equal(t, other.Gen, in.Gen)
}

func TestNotifierMatches(t *testing.T) {
	for _, tc := range [...]struct {
		kind   IOEvents
		events IOEvents
		want   bool
	}{
		{EventRead, EventRead, true},
		{EventRead, EventHangup, true},
		{EventRead, EventError, true},
		{EventRead, EventWrite, false},
		{EventWrite, EventWrite, true},
		{EventWrite, EventError, true},
		{EventWrite, EventHangup, false},
		{EventWrite, EventRead, false},
		{EventHangup, EventHangup, true},
		{EventHangup, EventRead | EventError, false},
	} {
		assert.Equal(t, tc.want, notifierMatches(tc.kind, tc.events), "%v on %v", tc.kind, tc.events)
	}
}

func TestEventLoop_NotifierDispatch(t *testing.T) {
	loop, poller, _ := newTestLoop(t)
	defer loop.Close()

	var reads, writes, hangups []IOEvents
	_, err := loop.RegisterNotifier(3, EventRead, func(ev IOEvents) { reads = append(reads, ev) })
	require.NoError(t, err)
	writeID, err := loop.RegisterNotifier(3, EventWrite, func(ev IOEvents) { writes = append(writes, ev) })
	require.NoError(t, err)
	_, err = loop.RegisterNotifier(4, EventHangup, func(ev IOEvents) { hangups = append(hangups, ev) })
	require.NoError(t, err)

	poller.queueReady(
		Readiness{FD: 3, Events: EventWrite},
		Readiness{FD: 4, Events: EventRead},
	)
	n, err := loop.Pump(PollForEvents)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []Interest{
		{FD: 3, Events: EventRead | EventWrite},
		{FD: 4, Events: EventHangup},
	}, poller.lastInterests())
	assert.Empty(t, reads)
	assert.Equal(t, []IOEvents{EventWrite}, writes)
	assert.Empty(t, hangups)

	// unregistering one interest leaves the other
	require.NoError(t, loop.UnregisterNotifier(writeID))
	poller.queueReady(
		Readiness{FD: 3, Events: EventRead | EventWrite},
		Readiness{FD: 4, Events: EventHangup},
	)
	n, err = loop.Pump(PollForEvents)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []IOEvents{EventRead | EventWrite}, reads)
	assert.Len(t, writes, 1)
	assert.Equal(t, []IOEvents{EventHangup}, hangups)
}

func TestEventLoop_NotifierRemovedByEarlierCallback(t *testing.T) {
	loop, poller, _ := newTestLoop(t)
	defer loop.Close()

	var hangupID NotifierID
	var fired []string
	_, err := loop.RegisterNotifier(3, EventRead, func(IOEvents) {
		fired = append(fired, "read")
		UnregisterNotifier(hangupID)
	})
	require.NoError(t, err)
	hangupID, err = loop.RegisterNotifier(3, EventHangup, func(IOEvents) {
		fired = append(fired, "hangup")
	})
	require.NoError(t, err)

	poller.queueReady(Readiness{FD: 3, Events: EventHangup})
	_, err = loop.Pump(PollForEvents)
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, fired)
	assert.Equal(t, 1, loop.notifiers.Len())
}

func TestNotifier_Object(t *testing.T) {
	loop, poller, _ := newTestLoop(t)
	defer loop.Close()

	var count int
	n, err := NewNotifier(9, EventWrite, func(IOEvents) { count++ })
	require.NoError(t, err)
	assert.Equal(t, 9, n.FD())
	assert.Equal(t, EventWrite, n.Kind())
	assert.True(t, n.Enabled())

	_, err = NewNotifier(9, EventWrite, nil)
	assert.ErrorIs(t, err, ErrNotifierExists)
	_, err = NewNotifier(9, EventError, nil)
	assert.ErrorIs(t, err, ErrInvalidInterest)

	poller.queueReady(Readiness{FD: 9, Events: EventWrite})
	_, err = loop.Pump(PollForEvents)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, n.SetEnabled(false))
	assert.False(t, n.Enabled())
	poller.queueReady(Readiness{FD: 9, Events: EventWrite})
	_, err = loop.Pump(PollForEvents)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Empty(t, poller.lastInterests())

	require.NoError(t, n.SetEnabled(true))
	require.NoError(t, n.SetEnabled(true))
	poller.queueReady(Readiness{FD: 9, Events: EventError})
	_, err = loop.Pump(PollForEvents)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
	assert.Zero(t, loop.notifiers.Len())
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"fmt"
)

// EventType discriminates [Event] implementations.
type EventType uint16

const (
	// EventTypeInvalid is the zero value, never delivered by this package.
	EventTypeInvalid EventType = iota
	// EventTypeTimer is the type of [TimerEvent].
	EventTypeTimer
	// EventTypeJobSettled is the type of [JobEvent].
	EventTypeJobSettled
	// EventTypeCustom is the type of [CustomEvent]. Applications may define
	// further types, starting at EventTypeUser.
	EventTypeCustom

	// EventTypeUser is the first value available to applications.
	EventTypeUser EventType = 1000
)

// String returns a human-readable representation of the type.
func (t EventType) String() string {
	switch t {
	case EventTypeInvalid:
		return "Invalid"
	case EventTypeTimer:
		return "Timer"
	case EventTypeJobSettled:
		return "JobSettled"
	case EventTypeCustom:
		return "Custom"
	default:
		return fmt.Sprintf("EventType(%d)", uint16(t))
	}
}

// Event is the payload of a posted event, or of a timer firing.
type Event interface {
	EventType() EventType
}

// TimerEvent is delivered to the owner of a timer, each time it fires.
type TimerEvent struct {
	TimerID TimerID
}

// EventType implements [Event].
func (TimerEvent) EventType() EventType { return EventTypeTimer }

// JobEvent is posted to the target of a [Job], exactly once, after it settles.
type JobEvent struct {
	Job   *Job
	Value any
	Err   error
}

// EventType implements [Event].
func (JobEvent) EventType() EventType { return EventTypeJobSettled }

// CustomEvent is a general purpose event.
type CustomEvent struct {
	Data any
	Code int
}

// EventType implements [Event].
func (CustomEvent) EventType() EventType { return EventTypeCustom }

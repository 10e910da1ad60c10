// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package coreloop

import (
	"golang.org/x/sys/unix"
)

// uncatchableSignal reports whether no handler can ever observe signo.
func uncatchableSignal(signo int) bool {
	switch unix.Signal(signo) {
	case unix.SIGKILL, unix.SIGSTOP:
		return true
	default:
		return false
	}
}

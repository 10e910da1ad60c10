// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !unix

package coreloop

import (
	"syscall"
)

// uncatchableSignal reports whether no handler can ever observe signo.
func uncatchableSignal(signo int) bool {
	return syscall.Signal(signo) == syscall.SIGKILL
}

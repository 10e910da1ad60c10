// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package coreloop

import (
	"golang.org/x/sys/unix"
)

// newWakeFds opens the descriptor a Wake writes to, and Wait watches. Linux
// uses a single non-blocking eventfd, returned as both ends.
func newWakeFds() (r, w int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

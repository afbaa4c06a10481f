// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package sem

import (
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// futexWait/futexWake follow the raw-syscall style the corpus uses for
// kernel interfaces without a golang.org/x/sys/unix wrapper (io_uring's
// SYS_io_uring_setup/SYS_io_uring_enter). There is no unix.Futex
// convenience function, so the syscall is issued directly.
const (
	sysFutex        = unix.SYS_FUTEX
	futexWaitOp     = 0 // FUTEX_WAIT
	futexWakeOp     = 1 // FUTEX_WAKE
)

// Post increments *w and wakes up to n waiters blocked in Wait on w.
func Post(w *Word, n int32) {
	atomic.AddUint32(w, 1)
	_, _, _ = syscall.Syscall6(sysFutex, uintptr(unsafe.Pointer(w)),
		uintptr(futexWakeOp), uintptr(n), 0, 0, 0)
}

// Wait blocks until *w's value differs from expected, or timeout elapses
// (timeout <= 0 means wait forever). Returns true if woken by a Post,
// false on timeout.
func Wait(w *Word, expected uint32, timeout time.Duration) bool {
	var ts *unix.Timespec
	if timeout > 0 {
		sec := int64(timeout / time.Second)
		nsec := int64(timeout % time.Second)
		t := unix.NsecToTimespec(sec*int64(time.Second) + nsec)
		ts = &t
	}
	_, _, errno := syscall.Syscall6(sysFutex, uintptr(unsafe.Pointer(w)),
		uintptr(futexWaitOp), uintptr(expected),
		uintptr(unsafe.Pointer(ts)), 0, 0)
	return errno != unix.ETIMEDOUT
}

// Load reads the current value with acquire semantics.
func Load(w *Word) uint32 {
	return atomic.LoadUint32(w)
}

// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shm provides the shared-segment provider abstraction spec §6
// requires: create-or-open a named POSIX shared-memory object, map it
// read-write, and unlink it. Built directly on golang.org/x/sys/unix
// rather than a higher-level wrapper, the same way the teacher pack's
// io_uring and ublk code reaches straight for unix.Mmap/unix.Syscall.
package shm

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"code.hybscloud.com/shmipc/internal/logging"
)

var log = logging.Component("shm")

// Error is the taxonomy spec §6/§7 requires callers to distinguish on.
type Error struct {
	Op   string
	Name string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("shm: %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind classifies Error for callers that branch on outcome rather than on
// the wrapped OS error.
type Kind int

const (
	KindUnknown Kind = iota
	KindAlreadyExists
	KindNotFound
	KindPermissionDenied
	KindOutOfSpace
	KindInvalid
)

func classify(err error) Kind {
	switch {
	case errors.Is(err, unix.EEXIST):
		return KindAlreadyExists
	case errors.Is(err, unix.ENOENT):
		return KindNotFound
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return KindPermissionDenied
	case errors.Is(err, unix.ENOSPC), errors.Is(err, unix.ENOMEM):
		return KindOutOfSpace
	case errors.Is(err, unix.EINVAL):
		return KindInvalid
	default:
		return KindUnknown
	}
}

// Segment is a mapped shared-memory region plus the handle needed to
// unmap/close/unlink it.
type Segment struct {
	Name string
	Data []byte
	file *os.File
}

// path turns a logical segment name into the /dev/shm path POSIX shm_open
// convention uses. Go's os package has no shm_open wrapper, so the
// segment is addressed directly under /dev/shm, which is exactly what
// glibc's shm_open does on Linux.
func path(name string) string {
	return "/dev/shm/" + name
}

// CreateOrOpen creates a shared-memory segment of exactly size bytes, or
// opens it if it already exists — regardless of whether this call or a
// previous one created it. This mirrors the Windows iox_shm_open shim's
// behavior (CreateFileMapping succeeds on an existing mapping unless the
// caller separately requests O_EXCL, which this abstraction never does):
// spec §9 resolves the analogous POSIX question the same way, so a
// concurrent CreateOrOpen from two processes naming the same segment
// never fails merely because the other process won the race.
func CreateOrOpen(name string, size int64) (*Segment, error) {
	f, err := os.OpenFile(path(name), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, &Error{Op: "create_or_open", Name: name, Kind: classify(err), Err: err}
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, &Error{Op: "truncate", Name: name, Kind: classify(err), Err: err}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, &Error{Op: "mmap", Name: name, Kind: classify(err), Err: err}
	}
	log.Info().Str("segment", name).Int64("size", size).Msg("segment created or opened")
	return &Segment{Name: name, Data: data, file: f}, nil
}

// Open maps an existing segment without creating it. Returns a
// KindNotFound Error if it does not exist.
func Open(name string, size int64) (*Segment, error) {
	f, err := os.OpenFile(path(name), os.O_RDWR, 0600)
	if err != nil {
		return nil, &Error{Op: "open", Name: name, Kind: classify(err), Err: err}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, &Error{Op: "mmap", Name: name, Kind: classify(err), Err: err}
	}
	return &Segment{Name: name, Data: data, file: f}, nil
}

// Unmap releases the process's mapping of the segment without destroying
// the underlying object; other processes may still have it mapped.
func (s *Segment) Unmap() error {
	if s.Data == nil {
		return nil
	}
	err := unix.Munmap(s.Data)
	s.Data = nil
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if err != nil {
		return &Error{Op: "munmap", Name: s.Name, Kind: classify(err), Err: err}
	}
	log.Info().Str("segment", s.Name).Msg("segment unmapped")
	return nil
}

// Unlink removes the named segment from the filesystem namespace; the
// underlying memory is freed once every process's mapping is unmapped.
func Unlink(name string) error {
	if err := os.Remove(path(name)); err != nil {
		if os.IsNotExist(err) {
			return &Error{Op: "unlink", Name: name, Kind: KindNotFound, Err: err}
		}
		return &Error{Op: "unlink", Name: name, Kind: classify(err), Err: err}
	}
	log.Info().Str("segment", name).Msg("segment unlinked")
	return nil
}

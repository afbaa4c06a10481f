// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sem implements the process-shareable counting semaphore that
// backs condvar's notification mechanism (spec §4.7). It has a futex-based
// implementation on Linux (sem_linux.go) and a generic fallback for other
// platforms (sem_generic.go) — the same arch-split the teacher uses for
// race detection (internal race.go/race_off.go) and for its indirect SPSC
// fast path (internal/asm's generic vs specialized builds).
//
// A Sem's state lives entirely in a single uint32 word, so it can be
// embedded directly inside a struct placed in shared memory: no pointers,
// no Go-runtime-owned auxiliary state.
package sem

// Word is the single 4-byte word of semaphore state. Place one inside a
// shared-memory region (condvar.Data embeds one) and pass its address to
// Post/Wait; never copy a Word once other processes may be waiting on it.
type Word = uint32

// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package delivery implements the bounded queue of relative pointers that
// sits between a publisher and one subscriber (spec §4.5): one producer
// (the publisher port, which serializes Send across its own callers) and
// one consumer (the subscriber's Take).
//
// Grounded on the teacher's SPSC ring buffer (cached head/tail indices to
// cut cross-core cache traffic), extended with the overflow policies the
// stock queue doesn't have: a full push either discards the oldest
// pending entry to make room, or is rejected outright. DiscardOldest's
// eviction advances head from the producer side, the same index Pop
// advances from the consumer side — head is therefore CAS-based, not a
// plain store, so the two sides never both believe they took ownership
// of the same slot.
package delivery

import (
	"errors"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"code.hybscloud.com/shmipc/relptr"
)

// ErrWouldBlock is returned by Pop when the queue is empty.
var ErrWouldBlock = errors.New("delivery: would block")

// Policy selects what TryPush does when the queue is full.
type Policy int

const (
	// DiscardOldest evicts the oldest pending entry to make room for the
	// new one. TryPush never fails under this policy.
	DiscardOldest Policy = iota
	// RejectNew refuses the new entry, leaving the queue unchanged.
	RejectNew
)

// PushOutcome reports what TryPush did, so the publisher port can balance
// the chunk refcount it optimistically incremented before calling in.
type PushOutcome struct {
	// Accepted is true if rp was stored in the queue.
	Accepted bool
	// Evicted is set if an older entry was discarded to make room; the
	// caller must release it to balance the refcount increment that
	// entry represented.
	Evicted   relptr.Pointer
	HasEvicted bool
}

type pad [64]byte

// Queue is a bounded SPSC ring buffer of relptr.Pointer values with an
// overflow policy, used as a subscriber's per-publisher delivery queue.
type Queue struct {
	_          pad
	head       atomix.Uint64
	_          pad
	cachedTail uint64
	_          pad
	tail       atomix.Uint64
	_          pad
	cachedHead uint64
	_          pad
	buffer     []relptr.Pointer
	mask       uint64
	policy     Policy
}

// New creates a Queue with room for capacity entries (rounded up to the
// next power of 2) and the given overflow policy.
func New(capacity int, policy Policy) *Queue {
	if capacity < 2 {
		panic("delivery: capacity must be >= 2")
	}
	n := uint64(roundToPow2(capacity))
	return &Queue{
		buffer: make([]relptr.Pointer, n),
		mask:   n - 1,
		policy: policy,
	}
}

// Cap returns the queue's capacity.
func (q *Queue) Cap() int {
	return int(q.mask + 1)
}

// TryPush attempts to add rp (producer only — serialized by the
// publisher port). Under DiscardOldest this always succeeds, evicting the
// oldest entry if the queue was full. Under RejectNew it fails (Accepted
// false) if the queue was full, leaving rp unstored.
func (q *Queue) TryPush(rp relptr.Pointer) PushOutcome {
	tail := q.tail.LoadRelaxed()
	if tail-q.cachedHead > q.mask {
		q.cachedHead = q.head.LoadAcquire()
	}
	if tail-q.cachedHead <= q.mask {
		q.buffer[tail&q.mask] = rp
		q.tail.StoreRelease(tail + 1)
		return PushOutcome{Accepted: true}
	}

	if q.policy == RejectNew {
		return PushOutcome{Accepted: false}
	}

	// DiscardOldest: the single consumer may be racing a Pop of the same
	// slot right now, so head is advanced with CAS rather than the
	// producer unilaterally claiming it — if the CAS loses, the
	// consumer already freed the slot we needed and we just retry the
	// capacity check instead of evicting anything.
	sw := spin.Wait{}
	for {
		head := q.head.LoadAcquire()
		if tail-head <= q.mask {
			q.cachedHead = head
			q.buffer[tail&q.mask] = rp
			q.tail.StoreRelease(tail + 1)
			return PushOutcome{Accepted: true}
		}
		oldest := q.buffer[head&q.mask]
		if q.head.CompareAndSwapAcqRel(head, head+1) {
			q.buffer[tail&q.mask] = rp
			q.tail.StoreRelease(tail + 1)
			return PushOutcome{Accepted: true, Evicted: oldest, HasEvicted: true}
		}
		sw.Once()
	}
}

// Pop removes and returns the oldest entry. Returns ErrWouldBlock if the
// queue is empty.
//
// head is advanced with a CAS rather than a plain store: under
// DiscardOldest, TryPush's eviction branch can be racing to advance this
// same head index out from under a concurrent Pop. Reading head&mask's
// entry before the CAS and only acting on it once the CAS has actually
// claimed that index (not merely observed it) ensures exactly one side
// ever takes ownership of a given slot — whichever side loses the race
// retries against the new head instead of also reporting the same
// pointer as taken, which would double-release its chunk reference.
func (q *Queue) Pop() (relptr.Pointer, error) {
	sw := spin.Wait{}
	for {
		head := q.head.LoadAcquire()
		if head >= q.cachedTail {
			q.cachedTail = q.tail.LoadAcquire()
			if head >= q.cachedTail {
				return relptr.Pointer{}, ErrWouldBlock
			}
		}
		elem := q.buffer[head&q.mask]
		if q.head.CompareAndSwapAcqRel(head, head+1) {
			return elem, nil
		}
		sw.Once()
	}
}

// Size returns a best-effort count of pending entries.
func (q *Queue) Size() int {
	tail := q.tail.LoadAcquire()
	head := q.head.LoadAcquire()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

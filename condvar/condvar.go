// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package condvar implements the shared condition-variable data that a
// publisher-subscriber pair (or a wait-set) use to signal "something is
// ready" across process boundaries (spec §4.7).
//
// Data embeds a sem.Word rather than a Go channel or sync.Cond: both of
// those are process-local runtime objects, unusable once the struct is
// placed in shared memory and mapped by a different process. Notify
// pushes an event id into a small ring buffer before posting the
// semaphore, so a listener woken up learns which trigger fired without a
// second round trip — the same job iceoryx's ConditionVariableData plus
// its notification-info array do together.
package condvar

import (
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"code.hybscloud.com/shmipc/internal/sem"
)

// MaxPending is the fixed capacity of the notification ring. Spec §4.7
// bounds it by the number of distinct events a single condition variable
// can represent (one per attached trigger in the worst case a wait-set
// sees), so a fixed small array is adequate; overflow collapses distinct
// ids rather than growing unboundedly (see Notify).
const MaxPending = 128

// Data is the condition-variable state, safe to place in shared memory:
// no pointers, no Go-managed slices, fixed-size throughout.
// write, read, and ring are carried as 64-bit atomics rather than 32-bit
// ones: atomix does not expose a 32-bit atomic with a compare-and-swap, so
// every counter and slot here is widened the same way ChunkHeader's
// refcount is.
type Data struct {
	word         sem.Word
	toBeDestroyed atomix.Bool
	write        atomix.Uint64
	read         atomix.Uint64
	ring         [MaxPending]atomix.Uint64
	ringValid    [MaxPending]atomix.Bool
}

// NewData returns a freshly initialized Data, ready to Notify/Wait.
func NewData() *Data {
	return &Data{}
}

// MarkToBeDestroyed flags the condition variable as being torn down, so
// listeners currently parked in Wait return promptly instead of blocking
// past the data's lifetime (mirrors WaitSet's destructor in wait_set.inl,
// which sets m_conditionVariableDataPtr->m_toBeDestroyed before removing
// triggers).
func (d *Data) MarkToBeDestroyed() {
	d.toBeDestroyed.StoreRelease(true)
	sem.Post(&d.word, 1<<30) // wake all waiters
}

// ToBeDestroyed reports whether MarkToBeDestroyed has been called.
func (d *Data) ToBeDestroyed() bool {
	return d.toBeDestroyed.LoadAcquire()
}

// Notify records eventID as pending and wakes every listener blocked in
// Wait. If the ring is full, the id is dropped from the ring (the
// listener still wakes, and WasNotified-style callers fall back to
// polling their own trigger state, so no wakeup is lost — only the
// "which one" hint is).
//
// The slot is reserved with a fetch-and-add on write before anything is
// written into it, since a single Data can be notified concurrently by
// more than one caller (e.g. distinct publishers fanning into the same
// subscriber's condition variable): two Notify calls must never land on
// the same slot, or one's eventID silently overwrites the other's while
// write is bumped twice, corrupting Drain.
func (d *Data) Notify(eventID uint32) {
	w := d.write.AddAcqRel(1) - 1
	slot := w % MaxPending
	d.ring[slot].StoreRelease(uint64(eventID))
	d.ringValid[slot].StoreRelease(true)
	sem.Post(&d.word, 1<<30) // wake all waiters
}

// Drain removes and returns every pending event id recorded since the
// last Drain, oldest first.
//
// Notify reserves its ring slot (by advancing write) before it writes
// the slot's id and sets ringValid, so a slot this call is owed by write
// having already passed it can briefly still be mid-write on another
// goroutine. Rather than skip such a slot — which would silently drop
// its id from the result — this spins until ringValid catches up,
// mirroring the corpus's own spin-until-slot-ready idiom for a
// concurrently reserved-but-not-yet-written slot (hayabusa-cloud-lfq's
// MPMC Enqueue/Dequeue spinning on a slot's cycle marker).
func (d *Data) Drain() []uint32 {
	var out []uint32
	sw := spin.Wait{}
	for {
		r := d.read.LoadAcquire()
		w := d.write.LoadAcquire()
		if r >= w {
			return out
		}
		slot := r % MaxPending
		if !d.ringValid[slot].LoadAcquire() {
			sw.Once()
			continue
		}
		out = append(out, uint32(d.ring[slot].LoadAcquire()))
		d.ringValid[slot].StoreRelease(false)
		d.read.CompareAndSwapAcqRel(r, r+1)
	}
}

// WasNotified peeks whether a Notify has arrived since the last Drain,
// without blocking.
func (d *Data) WasNotified() bool {
	return d.read.LoadAcquire() < d.write.LoadAcquire()
}

// Wait blocks until Notify is called, ToBeDestroyed becomes true, or
// timeout elapses (timeout <= 0 waits forever). Returns false only on
// timeout; returns true promptly if the data is already marked destroyed
// or a Notify is still pending (not yet drained).
func (d *Data) Wait(timeout time.Duration) bool {
	if d.toBeDestroyed.LoadAcquire() {
		return true
	}
	gen := sem.Load(&d.word)
	if d.WasNotified() {
		return true
	}
	woken := sem.Wait(&d.word, gen, timeout)
	return woken || d.toBeDestroyed.LoadAcquire()
}

// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package waitset implements the fixed-capacity event multiplexer spec
// §4.8 describes: a caller attaches origins it wants to know about, then
// blocks in Wait until at least one of them has actually triggered.
//
// Detach is a half-edge handshake (spec §9, grounded on iceoryx's
// Trigger): the wait-set never unilaterally forgets a trigger it handed
// out. The origin side must call back RemoveTrigger with the id it was
// given, exactly once, either because the caller asked it to (Detach) or
// because the trigger's owner is being torn down.
package waitset

import (
	"errors"
	"reflect"
	"sort"
	"time"

	"code.hybscloud.com/shmipc/condvar"
	"code.hybscloud.com/shmipc/idxqueue"
	"code.hybscloud.com/shmipc/internal/logging"
)

var log = logging.Component("waitset")

// Error values returned by Attach.
var (
	ErrCallbackUnset = errors.New("waitset: has_triggered callback is unset")
	ErrAlreadyAttached = errors.New("waitset: event already attached")
	ErrFull          = errors.New("waitset: full")
)

// HasTriggered reports whether the attached origin currently has a
// pending event. Must be non-nil; a nil callback is rejected by Attach.
type HasTriggered func() bool

// Attachable is implemented by origins that want Attach to wire their own
// notification path to this wait-set automatically, rather than requiring
// the caller to pre-arrange a condition variable and event id out of
// band. On a successful Attach, the origin's EnableEvent is called with a
// handle to the wait-set's shared condition variable and the slot's
// unique id (spec §4.8); on RemoveTrigger, DisableEvent is called so the
// origin stops notifying through a condition variable it no longer owns a
// slot on (port.Subscription implements this).
type Attachable interface {
	EnableEvent(cv *condvar.Data, uniqueID uint64)
	DisableEvent()
}

// EventInfo identifies a triggered attachment returned from Wait.
type EventInfo struct {
	Origin  any
	EventID uint64
	// Callback, if set, is invoked by the caller's event loop for this
	// trigger; Wait itself never calls it.
	Callback func(origin any)
}

type trigger struct {
	origin       any
	hasTriggered HasTriggered
	info         EventInfo
}

// WaitSet multiplexes up to capacity concurrently attached triggers over
// one shared condition variable.
type WaitSet struct {
	cv                 *condvar.Data
	triggers           []*trigger // index i corresponds to slot i; nil if empty
	freeSlots          *idxqueue.FreeList
	activeNotifications []uint64 // sorted unique slot indices
}

// New creates a WaitSet of the given capacity (must be >= 2), driven by
// cv's notifications.
func New(capacity int, cv *condvar.Data) *WaitSet {
	return &WaitSet{
		cv:        cv,
		triggers:  make([]*trigger, capacity),
		freeSlots: idxqueue.New(capacity),
	}
}

// Capacity returns the wait-set's fixed slot count.
func (w *WaitSet) Capacity() int { return len(w.triggers) }

// Size returns the number of currently attached triggers.
func (w *WaitSet) Size() int {
	return w.Capacity() - w.freeSlots.Size()
}

// Attach adds origin to the set, multiplexed under eventID (delivered
// back in EventInfo.EventID when it fires), invoking callback (optional)
// when the event loop processes it. Returns the slot's unique id, used
// later with RemoveTrigger.
func (w *WaitSet) Attach(origin any, hasTriggered HasTriggered, eventID uint64, callback func(origin any)) (uint64, error) {
	if hasTriggered == nil {
		return 0, ErrCallbackUnset
	}
	for _, t := range w.triggers {
		if t != nil && t.origin == origin && sameFunc(t.hasTriggered, hasTriggered) {
			return 0, ErrAlreadyAttached
		}
	}
	idx, err := w.freeSlots.Pop()
	if err != nil {
		log.Warn().Int("capacity", w.Capacity()).Msg("attach rejected: wait-set full")
		return 0, ErrFull
	}
	w.triggers[idx] = &trigger{
		origin:       origin,
		hasTriggered: hasTriggered,
		info:         EventInfo{Origin: origin, EventID: eventID, Callback: callback},
	}
	if en, ok := origin.(Attachable); ok {
		en.EnableEvent(w.cv, idx)
	}
	return idx, nil
}

// sameFunc approximates upstream's pointer-identity comparison of its
// callback wrapper: two HasTriggered values compare equal if they resolve
// to the same underlying function entry point. A method value bound to
// the same receiver method each time an attachment is built (the common
// case: origin.HasTriggered) satisfies this; closures from two different
// function literals never will, even if they happen to check the same
// condition, while closures built from the same literal share one entry
// point and do compare equal.
func sameFunc(a, b HasTriggered) bool {
	if a == nil || b == nil {
		return false
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// RemoveTrigger invalidates the slot uniqueID was assigned and returns it
// to the free pool. The origin side calls this exactly once per
// successful Attach, in response to Detach or its own teardown — the
// wait-set never calls this on its own initiative except in
// RemoveAllTriggers.
func (w *WaitSet) RemoveTrigger(uniqueID uint64) {
	if uniqueID >= uint64(len(w.triggers)) || w.triggers[uniqueID] == nil {
		return
	}
	if en, ok := w.triggers[uniqueID].origin.(Attachable); ok {
		en.DisableEvent()
	}
	w.triggers[uniqueID] = nil
	w.freeSlots.Push(uniqueID)
}

// RemoveAllTriggers invalidates every slot, e.g. when the WaitSet itself
// is being torn down, and marks the shared condition variable for
// destruction so any listener still blocked in Wait returns.
func (w *WaitSet) RemoveAllTriggers() {
	for i, t := range w.triggers {
		if t == nil {
			continue
		}
		if en, ok := t.origin.(Attachable); ok {
			en.DisableEvent()
		}
		w.triggers[i] = nil
	}
	w.activeNotifications = nil
	w.cv.MarkToBeDestroyed()
}

func (w *WaitSet) acquireNotifications(drain func() []uint32) {
	fresh := drain()
	if len(fresh) == 0 {
		return
	}
	merged := make(map[uint64]struct{}, len(w.activeNotifications)+len(fresh))
	for _, v := range w.activeNotifications {
		merged[v] = struct{}{}
	}
	for _, v := range fresh {
		merged[uint64(v)] = struct{}{}
	}
	out := make([]uint64, 0, len(merged))
	for v := range merged {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	w.activeNotifications = out
}

// createVectorWithTriggeredTriggers walks activeNotifications back to
// front, collecting EventInfo for every slot whose HasTriggered is still
// true and pruning slots that turned out stale or spurious — same order
// and pruning behavior as upstream's identically named method.
func (w *WaitSet) createVectorWithTriggeredTriggers() []EventInfo {
	if len(w.activeNotifications) == 0 {
		return nil
	}
	var triggered []EventInfo
	kept := w.activeNotifications[:0]
	// Iterate back-to-front as upstream does, but build the kept slice
	// forward afterward since we also need it sorted for next time.
	survive := make([]bool, len(w.activeNotifications))
	for i := len(w.activeNotifications) - 1; i >= 0; i-- {
		idx := w.activeNotifications[i]
		t := w.triggers[idx]
		if t != nil && t.hasTriggered() {
			triggered = append(triggered, t.info)
			survive[i] = true
		}
	}
	for i, ok := range survive {
		if ok {
			kept = append(kept, w.activeNotifications[i])
		}
	}
	w.activeNotifications = kept
	return triggered
}

// Wait is TimedWait with no timeout: it blocks until the condition
// variable is notified or marked for destruction, then returns the
// attached triggers that have fired. The result is empty when that
// wake-up found no attached trigger whose HasTriggered reports true.
func (w *WaitSet) Wait() []EventInfo {
	return w.TimedWait(0)
}

// TimedWait is Wait bounded by timeout (<=0 means wait forever). The
// two-pass acquire-then-scan protocol is required because a wake-up can
// be spurious with respect to any one trigger even though a real event is
// pending (the listener batches arrivals).
func (w *WaitSet) TimedWait(timeout time.Duration) []EventInfo {
	drainOnly := func() []uint32 { return w.cv.Drain() }
	blockThenDrain := func() []uint32 {
		w.cv.Wait(timeout)
		return w.cv.Drain()
	}

	if w.cv.WasNotified() {
		w.acquireNotifications(drainOnly)
	}
	if triggered := w.createVectorWithTriggeredTriggers(); len(triggered) > 0 {
		return triggered
	}
	w.acquireNotifications(blockThenDrain)
	return w.createVectorWithTriggeredTriggers()
}

// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package condvar

import (
	"sync"
	"time"
)

// CatchupPolicy controls what PeriodicTimer.Wait does when a tick was
// missed because the caller came back to Wait later than interval after
// the previous activation — ported from iceoryx's TimerCatchupPolicy.
type CatchupPolicy int

const (
	// ImmediateTick fires right away and schedules the next activation
	// one interval after now, permanently shifting phase forward by
	// however late the caller was (spec §9 open question: this drift is
	// accepted, not corrected).
	ImmediateTick CatchupPolicy = iota
	// SkipToNextTick fast-forwards past any fully-missed slots and waits
	// only for the remainder of the current one.
	SkipToNextTick
	// ReportDelay fires immediately and reports how late the tick was,
	// without adjusting future activation times.
	ReportDelay
)

// TimerState is the outcome of a single Wait call.
type TimerState int

const (
	// Tick means the timer fired normally (or per CatchupPolicy).
	Tick TimerState = iota
	// Delay means the timer fired late; see WaitResult.Delay.
	Delay
	// Stopped means Stop was called before this tick elapsed.
	Stopped
)

// WaitResult is returned by PeriodicTimer.Wait.
type WaitResult struct {
	State TimerState
	Delay time.Duration
}

// PeriodicTimer fires at a fixed interval, with configurable behavior when
// the caller is slow to call Wait again (CatchupPolicy). Grounded on
// iceoryx's posix_wrapper PeriodicTimer, which layers the same catch-up
// policies over a binary semaphore's timedWait.
type PeriodicTimer struct {
	mu            sync.Mutex
	interval      time.Duration
	nextActivation time.Time
	stopped       chan struct{}
}

// NewPeriodicTimer creates and starts a timer ticking every interval.
func NewPeriodicTimer(interval time.Duration) *PeriodicTimer {
	t := &PeriodicTimer{interval: interval, stopped: make(chan struct{})}
	t.nextActivation = time.Now().Add(interval)
	return t
}

// Stop halts the timer; any Wait blocked or subsequently called returns
// TimerState Stopped.
func (t *PeriodicTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.stopped:
	default:
		close(t.stopped)
	}
}

// Restart stops the timer and begins a fresh interval-length wait from now.
func (t *PeriodicTimer) Restart(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.stopped:
	default:
		close(t.stopped)
	}
	t.stopped = make(chan struct{})
	t.interval = interval
	t.nextActivation = time.Now().Add(interval)
}

// Wait blocks until the next activation per policy, or until Stop is
// called. See CatchupPolicy for the behavior when the caller is late.
func (t *PeriodicTimer) Wait(policy CatchupPolicy) WaitResult {
	t.mu.Lock()
	interval := t.interval
	next := t.nextActivation
	stopped := t.stopped
	t.mu.Unlock()

	select {
	case <-stopped:
		return WaitResult{State: Stopped}
	default:
	}

	now := time.Now()
	if now.After(next) {
		switch policy {
		case ImmediateTick:
			t.mu.Lock()
			t.nextActivation = now.Add(interval)
			t.mu.Unlock()
			return WaitResult{State: Tick}

		case SkipToNextTick:
			delay := now.Sub(next)
			missed := int64(delay / interval)
			newNext := next.Add(time.Duration(missed+1) * interval)
			t.mu.Lock()
			t.nextActivation = newNext
			t.mu.Unlock()
			remaining := time.Until(newNext)
			if remaining > 0 {
				select {
				case <-time.After(remaining):
				case <-stopped:
					return WaitResult{State: Stopped}
				}
			}
			return WaitResult{State: Tick}

		default: // ReportDelay
			return WaitResult{State: Delay, Delay: now.Sub(next)}
		}
	}

	select {
	case <-time.After(time.Until(next)):
		t.mu.Lock()
		t.nextActivation = next.Add(interval)
		t.mu.Unlock()
		return WaitResult{State: Tick}
	case <-stopped:
		return WaitResult{State: Stopped}
	}
}

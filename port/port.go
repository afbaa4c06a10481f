// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package port implements the publisher and subscriber endpoints (spec
// §4.6) that sit between a mempool set and a set of per-subscriber
// delivery queues: Send fans a chunk out to every attached subscriber's
// queue and notifies its condition variable; Take/Release move a chunk
// the other direction.
package port

import (
	"sync"
	"sync/atomic"

	"code.hybscloud.com/shmipc/chunk"
	"code.hybscloud.com/shmipc/condvar"
	"code.hybscloud.com/shmipc/delivery"
	"code.hybscloud.com/shmipc/mempool"
	"code.hybscloud.com/shmipc/relptr"
)

// Releaser is the subset of mempool.Set/mempool.Pool that ports need to
// balance refcounts; satisfied by both.
type Releaser interface {
	Release(rp relptr.Pointer) (chunk.ReleaseResult, error)
	Header(rp relptr.Pointer) (*chunk.Header, error)
}

// Subscription is one subscriber attached to a Publisher: its delivery
// queue and the condition variable it wakes via. CV/EventID can be wired
// directly by the caller, or left to a waitset.WaitSet's Attach to fill in
// via EnableEvent once this Subscription is also attached there (spec
// §4.8).
type Subscription struct {
	Queue  *delivery.Queue
	CV     *condvar.Data
	EventID uint32
}

// HasTriggered reports whether this subscription currently has a pending
// chunk, the predicate a waitset.WaitSet polls once notified (spec §4.8's
// has_triggered_callback). Satisfies waitset.HasTriggered.
func (s *Subscription) HasTriggered() bool {
	return s.Queue.Size() > 0
}

// EnableEvent implements waitset.Attachable: once a waitset.WaitSet
// attaches this Subscription, Publisher.Send notifies through the
// wait-set's own condition variable under its assigned unique slot id,
// instead of whatever CV/EventID the caller originally wired it with.
func (s *Subscription) EnableEvent(cv *condvar.Data, uniqueID uint64) {
	s.CV = cv
	s.EventID = uint32(uniqueID)
}

// DisableEvent implements waitset.Attachable: once the wait-set detaches
// this Subscription, Send stops notifying on its behalf.
func (s *Subscription) DisableEvent() {
	s.CV = nil
}

// Publisher fans chunks out to a dynamic set of subscriptions, matching
// the snapshot-then-push protocol spec §4.6 requires so a subscriber
// attaching or detaching mid-send never sees a torn fan-out.
type Publisher struct {
	mu            sync.RWMutex
	subs          []*Subscription
	originID      uint64
	nextSeq       uint64
	pool          Releaser
}

// NewPublisher creates a Publisher with the given origin identity,
// releasing unclaimed chunks through pool.
func NewPublisher(originID uint64, pool Releaser) *Publisher {
	return &Publisher{originID: originID, pool: pool}
}

// Attach adds a subscription to the publisher's fan-out set.
func (p *Publisher) Attach(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, s)
}

// Detach removes a subscription from the fan-out set.
func (p *Publisher) Detach(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.subs {
		if x == s {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

// snapshot copies the current subscriber list so Send's fan-out is stable
// against concurrent Attach/Detach (spec §4.6 step 1).
func (p *Publisher) snapshot() []*Subscription {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Subscription, len(p.subs))
	copy(out, p.subs)
	return out
}

// Send publishes chunkRP, transferring the publisher's own reference
// (started at 1 by mempool.Allocate) into the fan-out: step 3 increments
// by n-1 for n = len(snapshot), so the n queue entries hold exactly n
// references and the publisher retains none once Send returns (spec
// §4.6's default transfer-on-send).
func (p *Publisher) Send(h *chunk.Header, chunkRP relptr.Pointer) {
	snapshot := p.snapshot()

	h.SequenceNumber = atomic.AddUint64(&p.nextSeq, 1)
	h.OriginID = p.originID

	if len(snapshot) == 0 {
		// No subscribers: the publisher's own reference is simply
		// released since Send always transfers it away.
		p.pool.Release(chunkRP)
		return
	}

	h.IncrementRefcount(uint32(len(snapshot) - 1))

	notified := make(map[*condvar.Data]bool)
	for _, s := range snapshot {
		out := s.Queue.TryPush(chunkRP)
		if out.HasEvicted {
			p.pool.Release(out.Evicted)
		}
		if !out.Accepted {
			p.pool.Release(chunkRP)
			continue
		}
		if s.CV != nil && !notified[s.CV] {
			notified[s.CV] = true
			s.CV.Notify(s.EventID)
		}
	}
}

// Subscriber pops from its own delivery queue and releases chunks through
// its mempool set once done with them.
type Subscriber struct {
	queue *delivery.Queue
	pool  Releaser
}

// NewSubscriber creates a Subscriber reading from queue, releasing
// chunks through pool.
func NewSubscriber(queue *delivery.Queue, pool Releaser) *Subscriber {
	return &Subscriber{queue: queue, pool: pool}
}

// Take pops the oldest pending chunk pointer, or delivery.ErrWouldBlock
// if none is pending. The returned pointer is owned by the caller until
// Release.
func (s *Subscriber) Take() (relptr.Pointer, error) {
	return s.queue.Pop()
}

// Release returns rp's reference, recycling the chunk to its mempool
// once the last reference is dropped.
func (s *Subscriber) Release(rp relptr.Pointer) (chunk.ReleaseResult, error) {
	return s.pool.Release(rp)
}

// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mempool implements the size-segregated, lock-free chunk
// allocator (spec §3, §4.2, §4.3): a single size class of fixed-capacity
// chunks plus an ordered set of size classes that picks the smallest fit.
package mempool

import (
	"errors"
	"unsafe"

	"code.hybscloud.com/shmipc/chunk"
	"code.hybscloud.com/shmipc/idxqueue"
	"code.hybscloud.com/shmipc/relptr"
)

// headerAt reinterprets the bytes at mem[off:] as a *chunk.Header. Valid
// only for offsets that are the base of a chunk previously constructed by
// chunk.New, since a Header's identity is its address — never copied.
func headerAt(mem []byte, off uint64) *chunk.Header {
	return (*chunk.Header)(unsafe.Pointer(&mem[off]))
}

// ErrExhausted is returned by Allocate when the mempool has no free chunk.
var ErrExhausted = errors.New("mempool: exhausted")

// ErrNoFit is returned by Set.Allocate when no mempool's chunk_size is
// large enough for the requested size.
var ErrNoFit = errors.New("mempool: no mempool large enough")

// Pool owns a single size class: chunk_size, chunk_count fixed-size
// chunks carved from mem, and a lock-free free-list of their indices.
// Invariant (spec §4.2): exactly chunk_count - freeList.Size() chunks are
// live at any instant; every index appears at most once in the free list.
type Pool struct {
	mem       []byte
	chunkSize uint32
	count     int
	free      *idxqueue.FreeList
	segment   relptr.SegmentID
	base      uint64 // offset of mem[0] within the segment
}

// New carves count chunks of chunkSize bytes out of mem (mem must be at
// least count*chunkSize bytes, base address 32-byte aligned per
// chunk.Alignment) and starts all of them free.
//
// segment/baseOffset describe mem's position within a relptr.Registry's
// segment, used to translate allocated chunks to portable Pointers.
func New(mem []byte, chunkSize uint32, count int, segment relptr.SegmentID, baseOffset uint64) *Pool {
	if chunkSize%chunk.Alignment != 0 {
		panic("mempool: chunkSize must be a multiple of chunk.Alignment")
	}
	if len(mem) < int(chunkSize)*count {
		panic("mempool: mem too small for count chunks of chunkSize")
	}
	p := &Pool{
		mem:       mem,
		chunkSize: chunkSize,
		count:     count,
		segment:   segment,
		base:      baseOffset,
	}
	// A capacity-0 pool always reports "no chunk" (spec §8); idxqueue
	// requires capacity >= 2, so a zero-count pool simply carries no
	// free list at all, and a one-chunk pool gets a 2-slot list holding
	// only index 0.
	if count > 0 {
		p.free = idxqueue.Empty(max(count, 2))
		for i := 0; i < count; i++ {
			p.free.Push(uint64(i))
		}
	}
	return p
}

// ChunkSize returns the pool's fixed chunk size.
func (p *Pool) ChunkSize() uint32 { return p.chunkSize }

// Count returns the pool's total chunk count.
func (p *Pool) Count() int { return p.count }

// FreeCount returns a best-effort snapshot of how many chunks are free.
func (p *Pool) FreeCount() int {
	if p.free == nil {
		return 0
	}
	return p.free.Size()
}

// Allocate reserves a free chunk, constructs its Header in place per s,
// and returns the chunk's Header along with a portable Pointer to its
// base. Returns ErrExhausted if no chunk is free.
func (p *Pool) Allocate(s chunk.Settings) (*chunk.Header, relptr.Pointer, error) {
	if p.free == nil {
		return nil, relptr.Pointer{}, ErrExhausted
	}
	idx, err := p.free.Pop()
	if err != nil {
		return nil, relptr.Pointer{}, ErrExhausted
	}
	off := idx * uint64(p.chunkSize)
	region := p.mem[off : off+uint64(p.chunkSize)]
	h := chunk.New(region, p.chunkSize, s)
	return h, relptr.Pointer{Segment: p.segment, Offset: p.base + off}, nil
}

// chunkIndex recovers the slot index of a Pointer previously returned by
// Allocate, assuming it still points at this pool's region.
func (p *Pool) chunkIndex(rp relptr.Pointer) (uint64, bool) {
	if rp.Segment != p.segment || rp.Offset < p.base {
		return 0, false
	}
	rel := rp.Offset - p.base
	if rel >= uint64(p.count)*uint64(p.chunkSize) {
		return 0, false
	}
	return rel / uint64(p.chunkSize), true
}

// Release decrements the chunk's refcount and, if that was the last
// reference, returns its slot to the free list. Reports which happened.
func (p *Pool) Release(rp relptr.Pointer) (chunk.ReleaseResult, error) {
	idx, ok := p.chunkIndex(rp)
	if !ok {
		return 0, errors.New("mempool: pointer does not belong to this pool")
	}
	off := idx * uint64(p.chunkSize)
	hdr := headerAt(p.mem, off)
	result := hdr.Release()
	if result == chunk.LastReference {
		p.free.Push(idx)
	}
	return result, nil
}

// Header returns the Header of the chunk at rp without affecting its
// refcount, used by ports to read/increment before pushing into queues.
func (p *Pool) Header(rp relptr.Pointer) (*chunk.Header, error) {
	idx, ok := p.chunkIndex(rp)
	if !ok {
		return nil, errors.New("mempool: pointer does not belong to this pool")
	}
	return headerAt(p.mem, idx*uint64(p.chunkSize)), nil
}

// Payload returns the payload slice of the chunk at rp.
func (p *Pool) Payload(rp relptr.Pointer) ([]byte, error) {
	h, err := p.Header(rp)
	if err != nil {
		return nil, err
	}
	idx, _ := p.chunkIndex(rp)
	region := p.mem[idx*uint64(p.chunkSize) : (idx+1)*uint64(p.chunkSize)]
	return h.Payload(region), nil
}

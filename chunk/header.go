// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package chunk defines the self-describing header placed at the base of
// every mempool chunk (spec §3, §4.4): payload/custom-header offset math
// and the cross-process reference count that drives a chunk's lifecycle.
//
// A Header is never copied or moved — its identity is its address, fixed
// for the chunk's lifetime by the mempool that carved the chunk out of
// shared memory. Construct one with New, placed in-process, in a byte
// region the mempool owns; never declare a Header as a Go value.
package chunk

import (
	"encoding/binary"
	"errors"
	"unsafe"

	"code.hybscloud.com/atomix"

	"code.hybscloud.com/shmipc/internal/debug"
	"code.hybscloud.com/shmipc/internal/logging"
)

var log = logging.Component("chunk")

// Version is the current on-the-wire ChunkHeader layout version. Bump it
// for any incompatible change: member width, member order, or semantic
// meaning of an existing member.
const Version uint8 = 1

// ErrVersionMismatch identifies a Header read from shared memory whose
// version this build does not understand. No function in this package
// returns it: PeekVersion reports the raw version without comparing it
// against Version.
var ErrVersionMismatch = errors.New("chunk: header version mismatch")

// Alignment is the mandatory address alignment of every Header, matching
// the mempool guarantee that chunks are carved on 32-byte boundaries.
const Alignment = 32

// Header is the bit-stable metadata prefix of a chunk. Field order is
// part of the wire format — do not reorder without bumping Version.
//
// refcount is carried in a 64-bit atomic word rather than a 32-bit one:
// atomix does not expose a 32-bit atomic with a compare-and-swap, and a
// refcount never approaches even 32 bits of range, so the wider word
// costs nothing but 4 bytes of padding.
type Header struct {
	ChunkSize      uint32
	HeaderVersion  uint8
	reserved       [3]uint8
	OriginID       uint64
	SequenceNumber uint64
	PayloadSize    uint32
	PayloadOffset  uint32
	refcount       atomix.Uint64
}

// Size is sizeof(Header) as laid out by this build of the package. Callers
// computing required chunk sizes (Settings.RequiredChunkSize, used by
// mempool.Set.Allocate) use this, not a
// hardcoded constant, so it tracks the struct if Header ever grows.
var Size = uint32(unsafe.Sizeof(Header{}))

// Settings describes what New needs to carve a Header's trailing layout:
// an optional custom header of customHeaderSize bytes aligned to
// customHeaderAlign, followed by a payload of payloadSize bytes aligned
// to payloadAlign.
type Settings struct {
	PayloadSize      uint32
	PayloadAlign     uint32
	CustomHeaderSize uint32
	CustomHeaderAlign uint32
}

// RequiredChunkSize returns the minimum chunk size (including the Header
// itself) that satisfies s, rounded up to Alignment so the chunk's base
// — and hence every Header placed at it — stays 32-byte aligned even when
// chunks are packed back to back in a mempool (spec §3 invariant).
func (s Settings) RequiredChunkSize() uint32 {
	off := Size
	if s.CustomHeaderSize > 0 {
		off = alignUp(off, max32(s.CustomHeaderAlign, 1))
		off += s.CustomHeaderSize
	}
	payloadAlign := max32(s.PayloadAlign, 1)
	off = alignUp(off, payloadAlign)
	total := off + s.PayloadSize
	return alignUp(total, Alignment)
}

func alignUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// New constructs a Header in place at the base of mem (mem must be at
// least chunkSize bytes, base address 32-byte aligned) and returns a
// pointer into mem. reference_count starts at 1, representing the
// publisher's own handle (spec §4.2 allocate).
//
// mem's address MUST already be Alignment-aligned; New does not allocate.
func New(mem []byte, chunkSize uint32, s Settings) *Header {
	if len(mem) < int(chunkSize) {
		panic("chunk: mem shorter than chunkSize")
	}
	h := (*Header)(unsafe.Pointer(&mem[0]))
	*h = Header{}
	h.ChunkSize = chunkSize
	h.HeaderVersion = Version
	h.PayloadSize = s.PayloadSize

	off := Size
	if s.CustomHeaderSize > 0 {
		off = alignUp(off, max32(s.CustomHeaderAlign, 1))
		off += s.CustomHeaderSize
	}
	off = alignUp(off, max32(s.PayloadAlign, 1))
	h.PayloadOffset = off
	h.refcount.StoreRelease(1)
	return h
}

// Payload returns the slice of mem (the same backing chunk New was given)
// that carries the payload, sized h.PayloadSize.
func (h *Header) Payload(mem []byte) []byte {
	return mem[h.PayloadOffset : h.PayloadOffset+h.PayloadSize]
}

// CustomHeader reinterprets the bytes between the Header and the payload
// as a *T. Callers are responsible for T matching what the publisher used.
func CustomHeader[T any](h *Header, mem []byte) *T {
	off := Size
	return (*T)(unsafe.Pointer(&mem[off]))
}

// FromPayload recovers the Header owning a payload slice previously
// returned by Payload, given the chunk's base address. Returns nil if
// payload is nil (spec §4.4: from_payload(null) == null).
//
// base must be the address of byte 0 of the chunk mem Payload's slice was
// sliced from — callers typically get this from a relptr.Pointer resolved
// to a local address, not from payload itself, since payload's own address
// does not self-describe its offset without first reading payloadOffset.
func FromPayload(base unsafe.Pointer, payload []byte) *Header {
	if payload == nil {
		return nil
	}
	h := (*Header)(base)
	return h
}

// UsedSizeOfChunk returns payload_offset + payload_size, clamped to never
// exceed chunk_size, computed via a 64-bit intermediate so a corrupt
// header's u32 fields cannot overflow into a bogus small result.
func (h *Header) UsedSizeOfChunk() uint32 {
	used := uint64(h.PayloadOffset) + uint64(h.PayloadSize)
	if used > uint64(h.ChunkSize) {
		return h.ChunkSize
	}
	return uint32(used)
}

// IncrementRefcount adds n to the reference count with release ordering,
// used by the publisher port before fanning a chunk out to its delivery
// queues (spec §4.2 increment_refcount).
func (h *Header) IncrementRefcount(n uint32) {
	h.refcount.AddAcqRel(uint64(n))
}

// ReleaseResult is the outcome of Release, telling the caller whether the
// chunk became unreferenced and must be returned to its mempool.
type ReleaseResult int

const (
	// StillReferenced means other owners remain; do not free the chunk.
	StillReferenced ReleaseResult = iota
	// LastReference means this was the last reference; the caller must
	// return the chunk's slot to its originating mempool.
	LastReference
	// DoubleRelease means pre-decrement refcount was already 0 — a
	// programming error (spec §4.2, §7 fatal conditions).
	DoubleRelease
)

// Release atomically decrements the reference count. Ordering follows
// spec §5: the decrement uses release always, and additionally acquire
// when it observes the pre-decrement value was 1, to synchronize with
// every prior release on this chunk before the chunk is recycled.
func (h *Header) Release() ReleaseResult {
	pre := h.refcount.LoadAcquire()
	for {
		if pre == 0 {
			log.Error().Uint64("origin_id", h.OriginID).Uint64("sequence_number", h.SequenceNumber).
				Msg("double release of chunk detected")
			debug.Assert(false, "chunk: double release")
			return DoubleRelease
		}
		if h.refcount.CompareAndSwapAcqRel(pre, pre-1) {
			if pre == 1 {
				return LastReference
			}
			return StillReferenced
		}
		pre = h.refcount.LoadAcquire()
	}
}

// Refcount returns the current reference count. Intended for tests and
// diagnostics; racy by nature against concurrent Release/IncrementRefcount.
func (h *Header) Refcount() uint32 {
	return uint32(h.refcount.LoadAcquire())
}

// PeekVersion reads HeaderVersion straight out of raw shared-memory bytes
// without casting to *Header, so a reader scanning a mempool segment (e.g.
// introspection tooling walking chunks it does not otherwise trust yet)
// can sanity-check a candidate chunk's version before relying on the rest
// of the layout. mem must hold at least Size bytes at the candidate
// chunk's base address.
//
// HeaderVersion is a single byte, so it is read directly at its field
// offset with no byte-order decoding.
func PeekVersion(mem []byte) (uint8, error) {
	if len(mem) < int(Size) {
		return 0, errors.New("chunk: mem shorter than Header")
	}
	versionOffset := unsafe.Offsetof(Header{}.HeaderVersion)
	return mem[versionOffset], nil
}

// PeekChunkSize reads ChunkSize straight out of raw shared-memory bytes,
// the same way PeekVersion does, decoding the field's four bytes with
// binary.NativeEndian to mirror how the field sits in memory (Header is
// read by casting, never serialized across architectures).
func PeekChunkSize(mem []byte) (uint32, error) {
	if len(mem) < int(Size) {
		return 0, errors.New("chunk: mem shorter than Header")
	}
	chunkSizeOffset := unsafe.Offsetof(Header{}.ChunkSize)
	return binary.NativeEndian.Uint32(mem[chunkSizeOffset : chunkSizeOffset+4]), nil
}

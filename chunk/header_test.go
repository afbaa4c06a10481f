// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package chunk_test

import (
	"testing"
	"unsafe"

	"code.hybscloud.com/shmipc/chunk"
)

// alignedBuffer returns a slice of size n whose base address is aligned to
// align bytes, by over-allocating and slicing forward.
func alignedBuffer(n int, align uintptr) []byte {
	buf := make([]byte, n+int(align))
	addr := uintptr(unsafe.Pointer(&buf[0]))
	pad := (align - addr%align) % align
	return buf[pad : int(pad)+n]
}

func TestHeaderSelfConsistency(t *testing.T) {
	settings := chunk.Settings{PayloadSize: 100, PayloadAlign: 8}
	size := settings.RequiredChunkSize()
	mem := alignedBuffer(int(size), chunk.Alignment)

	h := chunk.New(mem, size, settings)
	base := unsafe.Pointer(&mem[0])

	payload := h.Payload(mem)
	got := chunk.FromPayload(base, payload)
	if got != h {
		t.Fatalf("FromPayload did not recover the same header: got %p, want %p", got, h)
	}
}

func TestHeaderRoundTripScenario(t *testing.T) {
	// Scenario 5: chunk_size carries a 16-byte custom header aligned to 8,
	// and a 100-byte payload aligned to 8.
	settings := chunk.Settings{
		PayloadSize:       100,
		PayloadAlign:      8,
		CustomHeaderSize:  16,
		CustomHeaderAlign: 8,
	}
	size := settings.RequiredChunkSize()
	if size%chunk.Alignment != 0 {
		t.Fatalf("RequiredChunkSize %d not a multiple of %d", size, chunk.Alignment)
	}
	mem := alignedBuffer(int(size), chunk.Alignment)

	h := chunk.New(mem, size, settings)
	if h.PayloadSize != 100 {
		t.Fatalf("PayloadSize: got %d, want 100", h.PayloadSize)
	}
	if h.PayloadOffset%8 != 0 {
		t.Fatalf("PayloadOffset %d not 8-byte aligned", h.PayloadOffset)
	}
	if h.PayloadOffset < chunk.Size+16 {
		t.Fatalf("PayloadOffset %d overlaps custom header (header %d + 16)", h.PayloadOffset, chunk.Size)
	}

	custom := chunk.CustomHeader[[2]uint64](h, mem)
	custom[0] = 0xdeadbeef
	if custom[0] != 0xdeadbeef {
		t.Fatalf("custom header write did not survive")
	}

	if got := h.UsedSizeOfChunk(); got > size {
		t.Fatalf("UsedSizeOfChunk %d exceeds chunk size %d", got, size)
	}
}

func TestUsedSizeOfChunkClampsOnCorruption(t *testing.T) {
	settings := chunk.Settings{PayloadSize: 32, PayloadAlign: 8}
	size := settings.RequiredChunkSize()
	mem := alignedBuffer(int(size), chunk.Alignment)
	h := chunk.New(mem, size, settings)

	h.PayloadSize = 0xFFFFFFFF // simulate corruption
	if got := h.UsedSizeOfChunk(); got != size {
		t.Fatalf("UsedSizeOfChunk on corrupt header: got %d, want clamp to %d", got, size)
	}
}

func TestPeekVersionAndChunkSizeMatchHeader(t *testing.T) {
	settings := chunk.Settings{PayloadSize: 64, PayloadAlign: 8}
	size := settings.RequiredChunkSize()
	mem := alignedBuffer(int(size), chunk.Alignment)
	h := chunk.New(mem, size, settings)

	gotVersion, err := chunk.PeekVersion(mem)
	if err != nil {
		t.Fatalf("PeekVersion: %v", err)
	}
	if gotVersion != h.HeaderVersion {
		t.Fatalf("PeekVersion: got %d, want %d", gotVersion, h.HeaderVersion)
	}

	gotSize, err := chunk.PeekChunkSize(mem)
	if err != nil {
		t.Fatalf("PeekChunkSize: %v", err)
	}
	if gotSize != h.ChunkSize {
		t.Fatalf("PeekChunkSize: got %d, want %d", gotSize, h.ChunkSize)
	}
}

func TestPeekVersionShortBuffer(t *testing.T) {
	if _, err := chunk.PeekVersion(make([]byte, 2)); err == nil {
		t.Fatal("PeekVersion on short buffer: got nil error, want error")
	}
	if _, err := chunk.PeekChunkSize(make([]byte, 2)); err == nil {
		t.Fatal("PeekChunkSize on short buffer: got nil error, want error")
	}
}

func TestFromPayloadNilIsNil(t *testing.T) {
	if got := chunk.FromPayload(nil, nil); got != nil {
		t.Fatalf("FromPayload(nil, nil): got %p, want nil", got)
	}
}

func TestRefcountLifecycle(t *testing.T) {
	settings := chunk.Settings{PayloadSize: 8, PayloadAlign: 8}
	size := settings.RequiredChunkSize()
	mem := alignedBuffer(int(size), chunk.Alignment)
	h := chunk.New(mem, size, settings)

	if h.Refcount() != 1 {
		t.Fatalf("initial Refcount: got %d, want 1", h.Refcount())
	}

	h.IncrementRefcount(2) // simulate fan-out to 2 subscribers
	if h.Refcount() != 3 {
		t.Fatalf("Refcount after IncrementRefcount(2): got %d, want 3", h.Refcount())
	}

	if r := h.Release(); r != chunk.StillReferenced {
		t.Fatalf("Release 1/3: got %v, want StillReferenced", r)
	}
	if r := h.Release(); r != chunk.StillReferenced {
		t.Fatalf("Release 2/3: got %v, want StillReferenced", r)
	}
	if r := h.Release(); r != chunk.LastReference {
		t.Fatalf("Release 3/3: got %v, want LastReference", r)
	}
	if r := h.Release(); r != chunk.DoubleRelease {
		t.Fatalf("Release after last: got %v, want DoubleRelease", r)
	}
}

// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mempool_test

import (
	"testing"
	"unsafe"

	"code.hybscloud.com/shmipc/chunk"
	"code.hybscloud.com/shmipc/mempool"
	"code.hybscloud.com/shmipc/relptr"
)

func alignedBuffer(n int, align uintptr) []byte {
	buf := make([]byte, n+int(align))
	addr := uintptr(unsafe.Pointer(&buf[0]))
	pad := (align - addr%align) % align
	return buf[pad : int(pad)+n]
}

func newTestPool(t *testing.T, chunkSize uint32, count int) *mempool.Pool {
	t.Helper()
	mem := alignedBuffer(int(chunkSize)*count, chunk.Alignment)
	return mempool.New(mem, chunkSize, count, 1, 0)
}

// TestAllocateReleaseRestoresFreeCount grounds spec §8's "allocate then
// immediate release restores mempool free count" invariant.
func TestAllocateReleaseRestoresFreeCount(t *testing.T) {
	p := newTestPool(t, 128, 4)
	if p.FreeCount() != 4 {
		t.Fatalf("initial FreeCount: got %d, want 4", p.FreeCount())
	}
	_, rp, err := p.Allocate(chunk.Settings{PayloadSize: 5, PayloadAlign: 1})
	if err != nil {
		t.Fatal(err)
	}
	if p.FreeCount() != 3 {
		t.Fatalf("FreeCount after Allocate: got %d, want 3", p.FreeCount())
	}
	if _, err := p.Release(rp); err != nil {
		t.Fatal(err)
	}
	if p.FreeCount() != 4 {
		t.Fatalf("FreeCount after Release: got %d, want 4", p.FreeCount())
	}
}

// TestSinglePubSubOneChunk grounds spec §8 scenario 1.
func TestSinglePubSubOneChunk(t *testing.T) {
	p := newTestPool(t, 128, 4)
	h, rp, err := p.Allocate(chunk.Settings{PayloadSize: 5, PayloadAlign: 1})
	if err != nil {
		t.Fatal(err)
	}
	h.SequenceNumber = 7

	payload, err := p.Payload(rp)
	if err != nil {
		t.Fatal(err)
	}
	copy(payload, "hello")

	got, err := p.Header(rp)
	if err != nil {
		t.Fatal(err)
	}
	if got.PayloadSize != 5 || got.SequenceNumber != 7 {
		t.Fatalf("Header: got payload_size=%d seq=%d, want 5/7", got.PayloadSize, got.SequenceNumber)
	}
	gotPayload, err := p.Payload(rp)
	if err != nil || string(gotPayload) != "hello" {
		t.Fatalf("Payload: got %q, err %v", gotPayload, err)
	}

	if _, err := p.Release(rp); err != nil {
		t.Fatal(err)
	}
	if p.FreeCount() != 4 {
		t.Fatalf("FreeCount after release: got %d, want 4", p.FreeCount())
	}
}

// TestZeroCapacityPoolAlwaysExhausted grounds spec §8's "Mempool with
// capacity 0 always returns no chunk" edge case.
func TestZeroCapacityPoolAlwaysExhausted(t *testing.T) {
	mem := alignedBuffer(0, chunk.Alignment)
	p := mempool.New(mem, 128, 0, 1, 0)
	if p.FreeCount() != 0 {
		t.Fatalf("FreeCount of zero-capacity pool: got %d, want 0", p.FreeCount())
	}
	if _, _, err := p.Allocate(chunk.Settings{PayloadSize: 1, PayloadAlign: 1}); err != mempool.ErrExhausted {
		t.Fatalf("Allocate on zero-capacity pool: got %v, want ErrExhausted", err)
	}
}

// TestRefcountFanOut grounds spec §8 scenario 4: only after every
// subscriber releases does the mempool free count return to baseline.
func TestRefcountFanOut(t *testing.T) {
	p := newTestPool(t, 128, 4)
	h, rp, err := p.Allocate(chunk.Settings{PayloadSize: 1, PayloadAlign: 1})
	if err != nil {
		t.Fatal(err)
	}
	h.IncrementRefcount(2) // total 3, as if fanned out to 3 subscribers

	if p.FreeCount() != 3 {
		t.Fatalf("FreeCount after single allocate: got %d, want 3", p.FreeCount())
	}
	for i := 0; i < 2; i++ {
		if _, err := p.Release(rp); err != nil {
			t.Fatal(err)
		}
		if p.FreeCount() != 3 {
			t.Fatalf("FreeCount after partial release %d: got %d, want 3 (still live)", i, p.FreeCount())
		}
	}
	if _, err := p.Release(rp); err != nil {
		t.Fatal(err)
	}
	if p.FreeCount() != 4 {
		t.Fatalf("FreeCount after final release: got %d, want 4", p.FreeCount())
	}
}

func TestExhaustedAllocate(t *testing.T) {
	p := newTestPool(t, 128, 2)
	for i := 0; i < 2; i++ {
		if _, _, err := p.Allocate(chunk.Settings{PayloadSize: 1, PayloadAlign: 1}); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := p.Allocate(chunk.Settings{PayloadSize: 1, PayloadAlign: 1}); err != mempool.ErrExhausted {
		t.Fatalf("Allocate on exhausted pool: got %v, want ErrExhausted", err)
	}
}

func TestSetPicksSmallestFit(t *testing.T) {
	small := newTestPool(t, 64, 2)
	big := newTestPool(t, 256, 2)
	set := mempool.NewSet(big, small) // intentionally unsorted input

	_, rp, err := set.Allocate(chunk.Settings{PayloadSize: 10, PayloadAlign: 1})
	if err != nil {
		t.Fatal(err)
	}
	h, err := set.Header(rp)
	if err != nil {
		t.Fatal(err)
	}
	if h.ChunkSize != 64 {
		t.Fatalf("ChunkSize: got %d, want 64 (smallest fit)", h.ChunkSize)
	}
}

func TestSetNoFit(t *testing.T) {
	small := newTestPool(t, 64, 2)
	set := mempool.NewSet(small)
	if _, _, err := set.Allocate(chunk.Settings{PayloadSize: 1000, PayloadAlign: 1}); err != mempool.ErrNoFit {
		t.Fatalf("Allocate oversized request: got %v, want ErrNoFit", err)
	}
}

var _ = relptr.Pointer{} // keep relptr imported for readers following Pointer usage above

// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mempool

import (
	"sort"

	"code.hybscloud.com/shmipc/chunk"
	"code.hybscloud.com/shmipc/relptr"
)

// Set is an ordered collection of Pools by ascending chunk size. Allocate
// picks the smallest pool whose chunk_size fits the request (spec §4.3).
type Set struct {
	pools []*Pool
}

// NewSet builds a Set from pools, sorting them by ascending ChunkSize.
// Ties (equal chunk_size) keep their relative input order, matching the
// spec's "tie-break on creation order is not observable" note: stable
// sort preserves whatever order the caller already considered canonical.
func NewSet(pools ...*Pool) *Set {
	sorted := make([]*Pool, len(pools))
	copy(sorted, pools)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ChunkSize() < sorted[j].ChunkSize()
	})
	return &Set{pools: sorted}
}

// Allocate computes the required chunk size for s (same formula as
// chunk.Settings.RequiredChunkSize) and delegates to the smallest pool
// whose chunk_size is large enough. Returns ErrNoFit if no pool is large
// enough, or ErrExhausted if the fitting pool has no free chunk.
func (set *Set) Allocate(s chunk.Settings) (*chunk.Header, relptr.Pointer, error) {
	required := s.RequiredChunkSize()
	for _, p := range set.pools {
		if p.ChunkSize() >= required {
			return p.Allocate(s)
		}
	}
	return nil, relptr.Pointer{}, ErrNoFit
}

// poolFor returns the pool owning rp, identified by matching its segment
// and offset range, so Release/Header/Payload don't require the caller
// to remember which size class a chunk came from.
func (set *Set) poolFor(rp relptr.Pointer) *Pool {
	for _, p := range set.pools {
		if _, ok := p.chunkIndex(rp); ok {
			return p
		}
	}
	return nil
}

// Release routes to the owning pool's Release.
func (set *Set) Release(rp relptr.Pointer) (chunk.ReleaseResult, error) {
	p := set.poolFor(rp)
	if p == nil {
		return 0, ErrNoFit
	}
	return p.Release(rp)
}

// Header routes to the owning pool's Header.
func (set *Set) Header(rp relptr.Pointer) (*chunk.Header, error) {
	p := set.poolFor(rp)
	if p == nil {
		return nil, ErrNoFit
	}
	return p.Header(rp)
}

// Payload routes to the owning pool's Payload.
func (set *Set) Payload(rp relptr.Pointer) ([]byte, error) {
	p := set.poolFor(rp)
	if p == nil {
		return nil, ErrNoFit
	}
	return p.Payload(rp)
}

// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package daemon defines the handshake contract the core consumes from a
// separate daemon process (spec §6): resolving a named resource to the
// shared-memory location backing it. The daemon's own registry and
// discovery protocol are out of scope here — this package is only the
// client-side shape of that conversation, plus an in-process Registry
// implementing it for tests and single-process deployments.
package daemon

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"code.hybscloud.com/shmipc/relptr"
)

// ErrNotFound is returned when no resource is registered under a name.
var ErrNotFound = errors.New("daemon: resource not found")

// Kind identifies what a named resource is, mirroring the three handle
// types spec §6 lists the daemon as granting.
type Kind int

const (
	KindMempoolSet Kind = iota
	KindConditionVariable
	KindDeliveryQueue
)

// Handle is what the daemon hands back for a named resource: where it
// lives in shared memory, translatable to a local address via a
// relptr.Registry bound to Segment.
type Handle struct {
	Kind    Kind
	Segment relptr.SegmentID
	Offset  uint64
	Size    uint64
}

// OriginID mints a fresh, process-unique publisher/subscriber identity
// for ChunkHeader.OriginID, using a random UUID's first 8 bytes so callers
// across independent processes practically never collide without
// needing a centrally coordinated counter.
func OriginID() uint64 {
	id := uuid.New()
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i])
	}
	return v
}

// Client is the interface the core depends on to resolve named resources
// to shared-memory handles; Registry below is the only implementation in
// this module, suitable for tests and single-process deployments where
// the "daemon" is just in-process bookkeeping.
type Client interface {
	Resolve(kind Kind, name string) (Handle, error)
}

// Registry is a trivial in-process Client: a name-to-Handle map, useful
// standing in for the real daemon's resolution protocol in tests.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Handle
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Handle)}
}

func key(kind Kind, name string) string {
	return fmt.Sprintf("%d:%s", kind, name)
}

// Register binds (kind, name) to h, as if the daemon had just granted it.
func (r *Registry) Register(kind Kind, name string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[key(kind, name)] = h
}

// Resolve implements Client.
func (r *Registry) Resolve(kind Kind, name string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byKey[key(kind, name)]
	if !ok {
		return Handle{}, ErrNotFound
	}
	return h, nil
}

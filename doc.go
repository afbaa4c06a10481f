// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shmipc is the data-plane core of a zero-copy shared-memory IPC
// middleware for latency-sensitive systems.
//
// Independent processes on one host exchange fixed-size-class memory
// chunks through shared memory without serialization or kernel copies.
// A daemon process (out of scope of this module; see package daemon for
// the consumed contract) mediates discovery and grants access to the
// underlying shared segments.
//
// # Subsystems
//
//   - [code.hybscloud.com/shmipc/mempool]: size-segregated, lock-free
//     allocation of fixed-capacity chunks from a pre-mapped shared segment.
//   - [code.hybscloud.com/shmipc/chunk]: the self-describing header carried
//     by every chunk, including its cross-process reference count.
//   - [code.hybscloud.com/shmipc/port]: publisher/subscriber endpoints and
//     the delivery queues between them.
//   - [code.hybscloud.com/shmipc/waitset]: blocking multi-wait over many
//     event sources via a shared condition variable.
//
// Surrounding functionality is external to the core: the daemon's process
// registry and discovery protocol, CLI tooling, and per-OS shared-memory
// shims beyond the abstract provider in package shm.
package shmipc

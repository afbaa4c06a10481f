// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package daemon_test

import (
	"testing"

	"code.hybscloud.com/shmipc/daemon"
)

func TestResolveUnknownIsNotFound(t *testing.T) {
	r := daemon.NewRegistry()
	if _, err := r.Resolve(daemon.KindMempoolSet, "missing"); err != daemon.ErrNotFound {
		t.Fatalf("Resolve unknown: got %v, want ErrNotFound", err)
	}
}

func TestRegisterThenResolve(t *testing.T) {
	r := daemon.NewRegistry()
	want := daemon.Handle{Kind: daemon.KindDeliveryQueue, Segment: 3, Offset: 128, Size: 4096}
	r.Register(daemon.KindDeliveryQueue, "sub-1", want)

	got, err := r.Resolve(daemon.KindDeliveryQueue, "sub-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("Resolve: got %+v, want %+v", got, want)
	}
}

func TestOriginIDsAreDistinct(t *testing.T) {
	a := daemon.OriginID()
	b := daemon.OriginID()
	if a == b {
		t.Fatal("two OriginID() calls returned the same id")
	}
}

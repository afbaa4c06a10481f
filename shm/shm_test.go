// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shm_test

import (
	"fmt"
	"os"
	"testing"

	"code.hybscloud.com/shmipc/shm"
)

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("shmipc-test-%s-%d", t.Name(), os.Getpid())
}

func TestCreateOrOpenMapsRequestedSize(t *testing.T) {
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skip("no /dev/shm on this platform")
	}
	name := uniqueName(t)
	defer shm.Unlink(name)

	seg, err := shm.CreateOrOpen(name, 4096)
	if err != nil {
		t.Fatal(err)
	}
	defer seg.Unmap()

	if len(seg.Data) != 4096 {
		t.Fatalf("mapped size: got %d, want 4096", len(seg.Data))
	}
	seg.Data[0] = 0x42
	if seg.Data[0] != 0x42 {
		t.Fatal("write to mapped segment did not stick")
	}
}

// TestCreateOrOpenSucceedsOnExistingSegment grounds spec §9's open
// question resolution: CreateOrOpen never fails merely because another
// caller already created the segment.
func TestCreateOrOpenSucceedsOnExistingSegment(t *testing.T) {
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skip("no /dev/shm on this platform")
	}
	name := uniqueName(t)
	defer shm.Unlink(name)

	first, err := shm.CreateOrOpen(name, 4096)
	if err != nil {
		t.Fatal(err)
	}
	first.Data[10] = 7
	first.Unmap()

	second, err := shm.CreateOrOpen(name, 4096)
	if err != nil {
		t.Fatalf("second CreateOrOpen on existing segment: %v", err)
	}
	defer second.Unmap()
	if second.Data[10] != 7 {
		t.Fatalf("second mapping did not observe first mapping's write")
	}
}

func TestOpenMissingSegmentIsNotFound(t *testing.T) {
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skip("no /dev/shm on this platform")
	}
	_, err := shm.Open("shmipc-test-definitely-absent-segment", 4096)
	if err == nil {
		t.Fatal("Open on missing segment: got nil error")
	}
	var shmErr *shm.Error
	if !asShmError(err, &shmErr) || shmErr.Kind != shm.KindNotFound {
		t.Fatalf("Open on missing segment: got %v, want KindNotFound", err)
	}
}

func asShmError(err error, target **shm.Error) bool {
	e, ok := err.(*shm.Error)
	if ok {
		*target = e
	}
	return ok
}

// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package partition

import (
	"testing"

	"github.com/flowclassd/classifier/flow"
)

func TestAddAndSkipTags(t *testing.T) {
	ix := New()
	ix.Add(42, 0x01)
	ix.Add(42, 0x02)

	tags := ix.SkipTags(42)
	if tags != 0x03 {
		t.Fatalf("SkipTags(42) = %#x, want 0x03", tags)
	}
	if ix.SkipTags(99) != 0 {
		t.Fatalf("unseen metadata value must report 0")
	}
}

func TestRemoveRetiresTagWhenLastRefGone(t *testing.T) {
	ix := New()
	ix.Add(42, 0x01)
	ix.Add(42, 0x01) // two rules contribute the same tag

	ix.Remove(42, 0x01)
	if ix.SkipTags(42) != 0x01 {
		t.Fatalf("tag must survive while a second contributor remains")
	}
	ix.Remove(42, 0x01)
	if ix.SkipTags(42) != 0 {
		t.Fatalf("tag must clear once every contributor is gone")
	}
	if ix.Len() != 0 {
		t.Fatalf("empty partition must be destroyed, Len() = %d", ix.Len())
	}
}

func TestTagAllNeverRecorded(t *testing.T) {
	ix := New()
	ix.Add(1, flow.TagAll)
	if ix.Len() != 0 {
		t.Fatalf("TagAll contributions must never be recorded, Len() = %d", ix.Len())
	}
}

func TestSkip(t *testing.T) {
	if Skip(flow.TagAll, 0) {
		t.Fatalf("a TagAll subtable must never be skipped")
	}
	if !Skip(0x04, 0x03) {
		t.Fatalf("a subtable sharing no bits with skipTags must be skipped")
	}
	if Skip(0x01, 0x03) {
		t.Fatalf("a subtable sharing a bit with skipTags must not be skipped")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	ix := New()
	ix.Add(1, 0x01)

	clone := ix.Clone()
	clone.Add(1, 0x02)

	if ix.SkipTags(1) != 0x01 {
		t.Fatalf("mutating the clone must not affect the original partition index")
	}
	if clone.SkipTags(1) != 0x03 {
		t.Fatalf("clone must observe its own addition")
	}
}

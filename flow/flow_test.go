// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package flow

import "testing"

func TestFlowSetGet(t *testing.T) {
	var f Flow
	f.Set(FieldIPDst, 0x0a010203)
	if got := f.Get(FieldIPDst); got != 0x0a010203 {
		t.Fatalf("Get(IPDst) = %#x, want %#x", got, 0x0a010203)
	}
	if got := f.Get(FieldIPSrc); got != 0 {
		t.Fatalf("Get(IPSrc) = %#x, want 0", got)
	}
}

func TestFlowPrefixBitsTopJustified(t *testing.T) {
	var f Flow
	f.Set(FieldIPDst, 0x0a000000)
	got := f.PrefixBits(FieldIPDst)
	want := uint64(0x0a000000) << 32
	if got != want {
		t.Fatalf("PrefixBits = %#x, want %#x", got, want)
	}
}

func TestMaskBuilderPrefix(t *testing.T) {
	mm := (&MaskBuilder{}).Prefix(FieldIPDst, 8).Build()
	n, ok := mm.PrefixLen(FieldIPDst)
	if !ok || n != 8 {
		t.Fatalf("PrefixLen = (%d, %v), want (8, true)", n, ok)
	}
	if _, ok := mm.PrefixLen(FieldIPSrc); !ok {
		t.Fatalf("unconstrained field must report ok=true with length 0")
	}
}

func TestMaskBuilderExactIsFullWidth(t *testing.T) {
	mm := (&MaskBuilder{}).Exact(FieldTCPDst).Build()
	n, ok := mm.PrefixLen(FieldTCPDst)
	if !ok || n != FieldTCPDst.Width() {
		t.Fatalf("PrefixLen = (%d, %v), want (%d, true)", n, ok, FieldTCPDst.Width())
	}
}

func TestNewMinimaskIsFullyWildcarded(t *testing.T) {
	mm := NewMinimask()
	if mm.Map.Count() != 0 || len(mm.Words) != 0 {
		t.Fatalf("fresh minimask must be fully wildcarded")
	}
}

func TestEqualUnderMask(t *testing.T) {
	var f1, f2 Flow
	f1.Set(FieldIPDst, 0x0a010203)
	f2.Set(FieldIPDst, 0x0a010299) // differs in low byte
	mm := (&MaskBuilder{}).Prefix(FieldIPDst, 24).Build()

	m1 := NewMatch(&f1, mm)
	mf2 := valueFromFlowUnderMask(&f2, mm)
	if !EqualUnderMask(m1.Value, mf2, mm) {
		t.Fatalf("expected /24 match to agree on top 24 bits")
	}

	mm32 := (&MaskBuilder{}).Exact(FieldIPDst).Build()
	m132 := NewMatch(&f1, mm32)
	mf232 := valueFromFlowUnderMask(&f2, mm32)
	if EqualUnderMask(m132.Value, mf232, mm32) {
		t.Fatalf("expected exact match to disagree on differing low byte")
	}
}

func TestMatchOverlaps(t *testing.T) {
	var f1, f2 Flow
	f1.Set(FieldIPDst, 0x0a010203) // 10.1.2.3
	f2.Set(FieldIPDst, 0x0a010002) // 10.1.0.2

	m1 := NewMatch(&f1, (&MaskBuilder{}).Prefix(FieldIPDst, 16).Build()) // 10.1.0.0/16
	m2 := NewMatch(&f2, (&MaskBuilder{}).Prefix(FieldIPDst, 24).Build()) // 10.1.0.0/24

	if !m1.Overlaps(m2) {
		t.Fatalf("10.1.0.0/16 and 10.1.0.0/24 must overlap")
	}

	var f3 Flow
	f3.Set(FieldIPDst, 0x0a020203) // 10.2.2.3
	m3 := NewMatch(&f3, (&MaskBuilder{}).Prefix(FieldIPDst, 24).Build())
	if m1.Overlaps(m3) {
		t.Fatalf("10.1.0.0/16 and 10.2.2.0/24 must not overlap")
	}
}

func TestComputeTagSentinel(t *testing.T) {
	unconstrained := NewMinimask()
	if tag := ComputeTag(unconstrained); tag != TagAll {
		t.Fatalf("mask not touching metadata must get TagAll, got %#x", tag)
	}

	constrained := (&MaskBuilder{}).Exact(FieldMetadata).Build()
	if tag := ComputeTag(constrained); tag == TagAll {
		t.Fatalf("metadata-constrained mask must never collide with TagAll")
	}
}

func TestWildcardsToMask(t *testing.T) {
	var w Wildcards
	mm := (&MaskBuilder{}).Prefix(FieldIPDst, 24).Build()
	w.OrMaskRange(mm, 0, FlowWords)
	out := w.ToMask()
	n, ok := out.PrefixLen(FieldIPDst)
	if !ok || n != 24 {
		t.Fatalf("round-tripped wildcard mask PrefixLen = (%d, %v), want (24, true)", n, ok)
	}
}

// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package flow

import "github.com/bits-and-blooms/bitset"

// Minimask is a miniflow whose values are bitmasks: bit i set in a word
// marks a bit of the flow that a rule constrains. A minimask never carries
// an all-zero word in its packed array — such words are dropped and their
// presence bit cleared, keeping the representation canonical.
type Minimask struct {
	Map   *bitset.BitSet
	Words []uint64
}

// NewMinimask returns a zero-value, ready-to-use, fully-wildcarded mask.
func NewMinimask() *Minimask {
	return &Minimask{Map: bitset.New(FlowWords)}
}

// packedIndex returns the index into Words for flow-vector word i, and
// whether word i is present at all. FlowWords is small (8), so a linear
// scan of the presence map is cheaper than it looks and avoids depending
// on the exact semantics of the library's Rank().
func packedIndex(m *bitset.BitSet, i int) (int, bool) {
	if !m.Test(uint(i)) {
		return 0, false
	}
	idx := 0
	for j := 0; j < i; j++ {
		if m.Test(uint(j)) {
			idx++
		}
	}
	return idx, true
}

// WordAt returns the mask value for flow-vector word i (0 if wildcarded).
func (mm *Minimask) WordAt(i int) uint64 {
	idx, ok := packedIndex(mm.Map, i)
	if !ok {
		return 0
	}
	return mm.Words[idx]
}

// compactMaskFrom builds a canonical Minimask from a dense [FlowWords]
// array, dropping zero words per the minimask invariant.
func compactMaskFrom(dense *[FlowWords]uint64) *Minimask {
	mm := NewMinimask()
	for i, w := range dense {
		if w != 0 {
			mm.Map.Set(uint(i))
			mm.Words = append(mm.Words, w)
		}
	}
	return mm
}

// MaskBuilder accumulates per-field mask bits before compaction. The zero
// value is ready to use.
type MaskBuilder struct {
	dense [FlowWords]uint64
}

// Exact marks field f as fully constrained (an exact-match field).
func (b *MaskBuilder) Exact(f FieldID) *MaskBuilder {
	return b.Prefix(f, f.Width())
}

// Prefix marks the top n bits of field f as constrained, leaving the
// remaining low-order bits of the field wildcarded. n must be in
// [0, f.Width()].
func (b *MaskBuilder) Prefix(f FieldID, n uint) *MaskBuilder {
	d := fields[f]
	if n > d.width {
		n = d.width
	}
	if n == 0 {
		return b
	}
	// top n bits of the field, right-justified; setField shifts them into
	// the field's position in its word.
	bits := (^uint64(0) << (d.width - n)) & ((uint64(1) << d.width) - 1)
	if d.width == 64 {
		bits = ^uint64(0) << (64 - n)
	}
	setField(&b.dense, f, (getField(&b.dense, f) | bits))
	return b
}

// Build finalizes the accumulated bits into a canonical Minimask.
func (b *MaskBuilder) Build() *Minimask {
	return compactMaskFrom(&b.dense)
}

// PrefixLen returns the number of MSB-anchored bits of a prefix-eligible
// field that this mask constrains, and whether the field is constrained at
// all by contiguous MSB bits (i.e. the mask is a valid CIDR-style prefix
// mask for that field, which is all prefix tries ever install).
func (mm *Minimask) PrefixLen(f FieldID) (uint, bool) {
	d := fields[f]
	w := mm.WordAt(d.word)
	v := (w & f.mask()) >> d.shift
	if v == 0 {
		return 0, true
	}
	// count leading ones within the field's width.
	n := uint(0)
	for n < d.width && (v>>(d.width-1-n))&1 == 1 {
		n++
	}
	// verify no more bits are set below position n (contiguous prefix).
	if n < d.width {
		rest := v & ((uint64(1) << (d.width - n)) - 1)
		if rest != 0 {
			return n, false
		}
	}
	return n, true
}

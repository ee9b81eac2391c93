// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package flow

import (
	"hash/maphash"

	"github.com/bits-and-blooms/bitset"
)

// miniflowSeed is process-local and stable for the life of the process, as
// required for hash/maphash: digests are never persisted or compared across
// processes, only used as in-memory hash-table keys.
var miniflowSeed = maphash.MakeSeed()

// Miniflow is a sparse view of a Flow: a bitmap over the fixed set of
// 64-bit slots indicating presence, plus a packed array of the present
// words. The count of set bits in Map always equals len(Words).
type Miniflow struct {
	Map   *bitset.BitSet
	Words []uint64
}

// FromFlow builds the sparse miniflow view of a full, concrete flow,
// dropping zero words as a size optimization.
func FromFlow(f *Flow) *Miniflow {
	mf := &Miniflow{Map: bitset.New(FlowWords)}
	for i, w := range f.Words {
		if w != 0 {
			mf.Map.Set(uint(i))
			mf.Words = append(mf.Words, w)
		}
	}
	return mf
}

// WordAt returns the flow value for flow-vector word i (0 if absent).
func (mf *Miniflow) WordAt(i int) uint64 {
	idx, ok := packedIndex(mf.Map, i)
	if !ok {
		return 0
	}
	return mf.Words[idx]
}

// valueFromFlowUnderMask builds the value half of a Match: present wherever
// the mask is present (mirroring the mask's presence bitmap, per the Match
// canonicalization invariant), masked so that wildcarded bits read as zero.
func valueFromFlowUnderMask(f *Flow, mm *Minimask) *Miniflow {
	mf := &Miniflow{Map: bitset.New(FlowWords)}
	for i := 0; i < FlowWords; i++ {
		if !mm.Map.Test(uint(i)) {
			continue
		}
		mf.Map.Set(uint(i))
		mf.Words = append(mf.Words, f.Words[i]&mm.WordAt(i))
	}
	return mf
}

// EqualUnderMask reports whether a and b agree on every bit set in mask's
// populated words: (a.value XOR b.value) AND mask.value == 0 over all
// populated words.
func EqualUnderMask(a, b *Miniflow, mm *Minimask) bool {
	for i := 0; i < FlowWords; i++ {
		mw := mm.WordAt(i)
		if mw == 0 {
			continue
		}
		if (a.WordAt(i)^b.WordAt(i))&mw != 0 {
			return false
		}
	}
	return true
}

// HashRange computes a digest of a miniflow's bits in flow-word range
// [lo, hi), restricted to the bits set in mask. The digest depends only on
// mask.Words[lo:hi] and flow.Words[lo:hi] — the contract the subtable and
// staged-index probes rely on.
func HashRange(mf *Miniflow, mm *Minimask, lo, hi int) uint64 {
	var h maphash.Hash
	h.SetSeed(miniflowSeed)
	var buf [8]byte
	for i := lo; i < hi && i < FlowWords; i++ {
		mw := mm.WordAt(i)
		if mw == 0 {
			continue
		}
		v := mf.WordAt(i) & mw
		putUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// PrefixOf extracts the n-bit MSB-anchored prefix of a miniflow's value on
// a prefix-eligible field, top-justified in the returned word (bit 63 is
// the field's MSB), for feeding into the per-field prefix trie.
func (mf *Miniflow) PrefixOf(f FieldID, n uint) uint64 {
	d := fields[f]
	v := (mf.WordAt(d.word) & f.mask()) >> d.shift
	var top uint64
	if d.width >= 64 {
		top = v
	} else {
		top = v << (64 - d.width)
	}
	if n >= 64 {
		return top
	}
	return top &^ (^uint64(0) >> n)
}

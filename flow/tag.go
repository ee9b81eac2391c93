// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package flow

import "hash/maphash"

// TagAll is the distinguished sentinel tag: a subtable whose mask does not
// constrain the metadata field carries this tag, and such a subtable must
// never be skipped by the partition index regardless of the flow's
// metadata value.
const TagAll uint64 = ^uint64(0)

var tagSeed = maphash.MakeSeed()

// ComputeTag derives a subtable's partition tag from its mask's metadata
// word. A subtable that does not constrain metadata gets TagAll. The
// result is otherwise an arbitrary but stable fingerprint: duplicate tags
// across distinct masks are legal (merely costly, per spec), so any hash
// suffices as long as it never collides with the reserved sentinel.
func ComputeTag(mm *Minimask) uint64 {
	metaWord := mm.WordAt(FieldMetadata.Word())
	if metaWord == 0 {
		return TagAll
	}
	var h maphash.Hash
	h.SetSeed(tagSeed)
	var buf [8]byte
	putUint64(buf[:], metaWord)
	_, _ = h.Write(buf[:])
	tag := h.Sum64()
	// never collide with the reserved all-ones sentinel.
	return tag &^ (uint64(1) << 63)
}

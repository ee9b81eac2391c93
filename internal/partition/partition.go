// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

// Package partition implements the classifier-wide metadata partition
// index (spec.md §4.4): a mapping from a metadata value to the set of
// subtable tags that must be consulted for flows bearing that value.
package partition

import "github.com/flowclassd/classifier/flow"

// entry is one metadata value's live tag set, reference-counted per tag so
// that the last rule contributing a given tag can retract it cleanly.
type entry struct {
	tags uint64
	refs map[uint64]int
}

// Index is the classifier-wide partition table.
type Index struct {
	byMetadata map[uint64]*entry
}

// New returns an empty partition index.
func New() *Index {
	return &Index{byMetadata: make(map[uint64]*entry)}
}

// Clone returns a deep copy, used by the classifier core to copy-on-write
// publish a new snapshot without mutating one a reader may still hold.
func (ix *Index) Clone() *Index {
	clone := &Index{byMetadata: make(map[uint64]*entry, len(ix.byMetadata))}
	for m, e := range ix.byMetadata {
		ne := &entry{tags: e.tags, refs: make(map[uint64]int, len(e.refs))}
		for k, v := range e.refs {
			ne.refs[k] = v
		}
		clone.byMetadata[m] = ne
	}
	return clone
}

// Add records that a rule matching metadata value m is installed in a
// subtable bearing tag. TagAll contributions are never recorded: a
// TagAll-tagged subtable is consulted unconditionally and needs no
// bookkeeping (spec: "ensuring it is never skipped").
func (ix *Index) Add(m uint64, tag uint64) {
	if tag == flow.TagAll {
		return
	}
	e := ix.byMetadata[m]
	if e == nil {
		e = &entry{refs: make(map[uint64]int)}
		ix.byMetadata[m] = e
	}
	e.refs[tag]++
	e.tags |= tag
}

// Remove retracts one contribution of tag to metadata value m. When the
// last rule contributing that tag for that metadata value is gone, the tag
// is cleared from the partition; when no tags remain, the partition itself
// is destroyed (spec: "Empty ... partitions are destroyed").
func (ix *Index) Remove(m uint64, tag uint64) {
	if tag == flow.TagAll {
		return
	}
	e := ix.byMetadata[m]
	if e == nil {
		return
	}
	e.refs[tag]--
	if e.refs[tag] <= 0 {
		delete(e.refs, tag)
		var t uint64
		for k := range e.refs {
			t |= k
		}
		e.tags = t
	}
	if len(e.refs) == 0 {
		delete(ix.byMetadata, m)
	}
}

// SkipTags returns the live tag set for metadata value m, or 0 if no rule
// constrains that value at all (meaning every metadata-sensitive subtable
// should be skipped for this lookup; TagAll subtables are exempt — see
// Skip).
func (ix *Index) SkipTags(m uint64) uint64 {
	e, ok := ix.byMetadata[m]
	if !ok {
		return 0
	}
	return e.tags
}

// Skip reports whether a subtable bearing tag should be skipped for a
// lookup whose partition tag set is skipTags. A TagAll subtable is never
// skipped; any other subtable is skipped unless it shares at least one tag
// bit with skipTags.
func Skip(tag, skipTags uint64) bool {
	if tag == flow.TagAll {
		return false
	}
	return tag&skipTags == 0
}

// Len reports the number of distinct metadata values with live partitions.
func (ix *Index) Len() int { return len(ix.byMetadata) }

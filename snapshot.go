// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package classifier

import (
	"github.com/google/btree"

	"github.com/flowclassd/classifier/flow"
	"github.com/flowclassd/classifier/internal/partition"
	"github.com/flowclassd/classifier/internal/subtable"
	"github.com/flowclassd/classifier/internal/trie"
)

// orderItem is one entry in the priority-ordered subtable vector (spec.md
// §4.3: "subtables are kept in a global vector ordered by their
// max_priority, descending"). seq breaks ties between equal-priority
// subtables by the order in which their positions were last updated
// (updateOrder assigns a fresh seq each time), so the btree never needs to
// compare subtable pointers directly.
type orderItem struct {
	sig      string
	priority uint32
	seq      uint64
}

func orderLess(a, b orderItem) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

// snapshot is the classifier's entire mutable state, published atomically.
// Every mutating operation builds a new snapshot by cloning only the
// pieces it touches and atomically swaps it in, per the copy-on-write
// discipline spec.md §5 delegates to "the container's deferred-reclamation
// read primitive" (here: atomic.Pointer[snapshot] plus Go's garbage
// collector standing in for epoch reclamation — a prior snapshot is kept
// alive for exactly as long as a reader holds its pointer).
type snapshot struct {
	subtables map[string]*subtable.Subtable[*installedMatch]
	order     *btree.BTreeG[orderItem]
	orderSeq  uint64
	orderIdx  map[string]orderItem

	trieFields  []flow.FieldID
	tries       map[flow.FieldID]*trie.Trie
	maxFieldLen map[flow.FieldID]uint

	partitions *partition.Index

	count int
}

func newSnapshot() *snapshot {
	return &snapshot{
		subtables:   make(map[string]*subtable.Subtable[*installedMatch]),
		order:       btree.NewG(32, orderLess),
		orderIdx:    make(map[string]orderItem),
		tries:       make(map[flow.FieldID]*trie.Trie),
		maxFieldLen: make(map[flow.FieldID]uint),
		partitions:  partition.New(),
	}
}

// clone returns a shallow copy suitable as the base for one write operation:
// the subtable and order maps are new maps sharing untouched values, the
// btree is cloned via its own internal copy-on-write (cheap: O(1)
// amortized), and the partition index is deep-copied since almost every
// write touches it. Callers replace individual map entries and trie
// pointers as they mutate them.
func (s *snapshot) clone() *snapshot {
	ns := &snapshot{
		subtables:   make(map[string]*subtable.Subtable[*installedMatch], len(s.subtables)),
		order:       s.order.Clone(),
		orderSeq:    s.orderSeq,
		orderIdx:    make(map[string]orderItem, len(s.orderIdx)),
		trieFields:  append([]flow.FieldID(nil), s.trieFields...),
		tries:       make(map[flow.FieldID]*trie.Trie, len(s.tries)),
		maxFieldLen: make(map[flow.FieldID]uint, len(s.maxFieldLen)),
		partitions:  s.partitions.Clone(),
		count:       s.count,
	}
	for k, v := range s.subtables {
		ns.subtables[k] = v
	}
	for k, v := range s.orderIdx {
		ns.orderIdx[k] = v
	}
	for k, v := range s.tries {
		ns.tries[k] = v
	}
	for k, v := range s.maxFieldLen {
		ns.maxFieldLen[k] = v
	}
	return ns
}

// touchSubtable returns a writable clone of the subtable for sig, creating
// one from scratch if sig is new, and installs it into ns.subtables.
func (ns *snapshot) touchSubtable(sig string, mask *flow.Minimask, segments []int) *subtable.Subtable[*installedMatch] {
	st, ok := ns.subtables[sig]
	if !ok {
		st = subtable.New[*installedMatch](mask, segments)
		ns.subtables[sig] = st
		return st
	}
	clone := st.Clone()
	ns.subtables[sig] = clone
	return clone
}

// touchTrie returns a writable clone of the trie for field f (creating an
// empty one if absent) and installs it into ns.tries.
func (ns *snapshot) touchTrie(f flow.FieldID) *trie.Trie {
	tr, ok := ns.tries[f]
	if !ok {
		tr = trie.New()
		ns.tries[f] = tr
		return tr
	}
	clone := tr.Clone()
	ns.tries[f] = clone
	return clone
}

// updateOrder re-positions sig in the priority-ordered vector to reflect
// st's current max priority, removing any stale entry first.
func (ns *snapshot) updateOrder(sig string, st *subtable.Subtable[*installedMatch]) {
	if old, ok := ns.orderIdx[sig]; ok {
		ns.order.Delete(old)
	}
	ns.orderSeq++
	item := orderItem{sig: sig, priority: st.MaxPriority(), seq: ns.orderSeq}
	ns.order.ReplaceOrInsert(item)
	ns.orderIdx[sig] = item
}

// dropFromOrder removes sig from the priority-ordered vector entirely, for
// a subtable that has just become empty and is being destroyed.
func (ns *snapshot) dropFromOrder(sig string) {
	if old, ok := ns.orderIdx[sig]; ok {
		ns.order.Delete(old)
		delete(ns.orderIdx, sig)
	}
}

// recomputeMaxFieldLen rescans every subtable to find, per configured trie
// field, the longest prefix length any subtable's mask constrains that
// field to. This bounds how deep a lookup ever needs to descend a trie
// (spec.md §4.5 step 2). It is a writer-only O(subtables × trieFields)
// pass, never on the lookup path.
func (ns *snapshot) recomputeMaxFieldLen() {
	m := make(map[flow.FieldID]uint, len(ns.trieFields))
	for _, f := range ns.trieFields {
		var max uint
		for _, st := range ns.subtables {
			if n, ok := st.Mask.PrefixLen(f); ok && n > max {
				max = n
			}
		}
		m[f] = max
	}
	ns.maxFieldLen = m
}

// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

// Package subtable implements the classifier's tuple-space cell: a hash
// table of rules sharing one mask, augmented with up to 3 secondary staged
// indices (spec.md §4.3). It is generic over the payload type so the
// classifier core can attach its own installed-rule bookkeeping without
// this package importing it back.
package subtable

import (
	"iter"

	"github.com/flowclassd/classifier/flow"
)

// Entry is one installed match inside a subtable's hash bucket: either the
// head of an equivalence-class chain or a lower-priority member reachable
// via next. Chains are kept strictly decreasing by priority.
type Entry[T any] struct {
	Match    *flow.Match
	Priority uint32
	Payload  T

	next *Entry[T]
}

// Next returns the next-lower-priority entry in this equivalence class, or
// nil at the end of the chain.
func (e *Entry[T]) Next() *Entry[T] {
	if e == nil {
		return nil
	}
	return e.next
}

// Subtable is one tuple-space cell: every installed entry shares Mask.
//
// A hash bucket holds a small slice of equivalence-class heads rather than
// a single head: distinct (value, mask) pairs can share a masked digest on
// a genuine hash collision, and each class must still keep its own
// strictly-decreasing priority chain.
type Subtable[T any] struct {
	Mask        *flow.Minimask
	Tag         uint64
	maxPriority uint32
	count       int

	buckets map[uint64][]*Entry[T]
	indices [3]*stagedIndex
	segEnds [3]int // flow-word end offset each populated index covers; 0 = unused slot
}

// New creates an empty subtable for the given mask. segments are the
// classifier-wide staged-lookup boundaries (up to 3 ascending flow-word
// offsets); an index is created for boundary i only if mask constrains at
// least one bit in the range that boundary adds over the previous one.
func New[T any](mask *flow.Minimask, segments []int) *Subtable[T] {
	st := &Subtable[T]{
		Mask:    mask,
		Tag:     flow.ComputeTag(mask),
		buckets: make(map[uint64][]*Entry[T]),
	}
	prev := 0
	for i, end := range segments {
		if i >= 3 {
			break
		}
		constrained := false
		for w := prev; w < end && w < flow.FlowWords; w++ {
			if mask.WordAt(w) != 0 {
				constrained = true
				break
			}
		}
		if constrained {
			st.indices[i] = newStagedIndex()
			st.segEnds[i] = end
		}
		prev = end
	}
	return st
}

// Clone returns a deep copy of the subtable: every bucket, equivalence
// chain and staged-index count table is copied so that mutating the clone
// can never be observed through the original. This is the building block
// the classifier core uses to copy-on-write publish a new snapshot while
// readers hold the prior one (spec.md §5).
func (st *Subtable[T]) Clone() *Subtable[T] {
	clone := &Subtable[T]{
		Mask:        st.Mask,
		Tag:         st.Tag,
		maxPriority: st.maxPriority,
		count:       st.count,
		buckets:     make(map[uint64][]*Entry[T], len(st.buckets)),
		segEnds:     st.segEnds,
	}
	for digest, classes := range st.buckets {
		newClasses := make([]*Entry[T], len(classes))
		for i, head := range classes {
			newClasses[i] = cloneChain(head)
		}
		clone.buckets[digest] = newClasses
	}
	for i, ix := range st.indices {
		if ix == nil {
			continue
		}
		nix := newStagedIndex()
		for d, c := range ix.counts {
			nix.counts[d] = c
		}
		clone.indices[i] = nix
	}
	return clone
}

func cloneChain[T any](head *Entry[T]) *Entry[T] {
	if head == nil {
		return nil
	}
	e := &Entry[T]{Match: head.Match, Priority: head.Priority, Payload: head.Payload}
	e.next = cloneChain(head.next)
	return e
}

// MaxPriority returns the highest priority of any entry currently in the
// subtable, or 0 if empty.
func (st *Subtable[T]) MaxPriority() uint32 { return st.maxPriority }

// Count returns the number of installed entries (all chain members
// counted).
func (st *Subtable[T]) Count() int { return st.count }

// IsEmpty reports whether the subtable holds no entries.
func (st *Subtable[T]) IsEmpty() bool { return st.count == 0 }

// All iterates every installed entry in the subtable: every chain member of
// every equivalence class, in unspecified bucket order (spec.md §4.6:
// "order within a subtable is the container's hash order").
func (st *Subtable[T]) All() iter.Seq[*Entry[T]] {
	return func(yield func(*Entry[T]) bool) {
		for _, classes := range st.buckets {
			for _, head := range classes {
				for e := head; e != nil; e = e.next {
					if !yield(e) {
						return
					}
				}
			}
		}
	}
}

func digestFull(m *flow.Match) uint64 {
	return flow.HashRange(m.Value, m.Mask, 0, flow.FlowWords)
}

func classIndex[T any](classes []*Entry[T], m *flow.Match, mask *flow.Minimask) int {
	for i, head := range classes {
		if flow.EqualUnderMask(head.Match.Value, m.Value, mask) {
			return i
		}
	}
	return -1
}

// insertChain splices e into the priority-ordered chain rooted at head,
// returning the new head, the entry displaced by an identical-priority
// duplicate (if any), and whether a duplicate was found.
func insertChain[T any](head *Entry[T], e *Entry[T]) (newHead, displaced *Entry[T], found bool) {
	var prev *Entry[T]
	cur := head
	for cur != nil {
		if cur.Priority == e.Priority {
			e.next = cur.next
			if prev == nil {
				return e, cur, true
			}
			prev.next = e
			return head, cur, true
		}
		if cur.Priority < e.Priority {
			break
		}
		prev = cur
		cur = cur.next
	}
	e.next = cur
	if prev == nil {
		return e, nil, false
	}
	prev.next = e
	return head, nil, false
}

// removeChain removes the entry with the given priority from the chain
// rooted at head, returning the new head and the removed entry.
func removeChain[T any](head *Entry[T], priority uint32) (newHead, removed *Entry[T]) {
	var prev *Entry[T]
	cur := head
	for cur != nil {
		if cur.Priority == priority {
			if prev == nil {
				return cur.next, cur
			}
			prev.next = cur.next
			return head, cur
		}
		prev = cur
		cur = cur.next
	}
	return head, nil
}

// bumpIndices updates every configured staged index for m by delta
// (+1 on insert, -1 on remove).
func (st *Subtable[T]) bumpIndices(m *flow.Match, delta int) {
	for i, ix := range st.indices {
		if ix == nil {
			continue
		}
		digest := flow.HashRange(m.Value, m.Mask, 0, st.segEnds[i])
		ix.bump(digest, delta)
	}
}

// Insert installs payload under match/priority. If an entry with the exact
// same priority already occupies this match's equivalence class, it is
// displaced and returned (the caller owns destroying it); otherwise the ok
// return is false and the zero value is returned for displaced.
func (st *Subtable[T]) Insert(m *flow.Match, priority uint32, payload T) (displaced T, ok bool) {
	digest := digestFull(m)
	classes := st.buckets[digest]
	e := &Entry[T]{Match: m, Priority: priority, Payload: payload}

	if i := classIndex(classes, m, st.Mask); i >= 0 {
		newHead, disp, found := insertChain(classes[i], e)
		classes[i] = newHead
		st.buckets[digest] = classes
		if priority > st.maxPriority {
			st.maxPriority = priority
		}
		if found {
			return disp.Payload, true
		}
		st.count++
		st.bumpIndices(m, +1)
		var zero T
		return zero, false
	}

	st.buckets[digest] = append(classes, e)
	if priority > st.maxPriority {
		st.maxPriority = priority
	}
	st.count++
	st.bumpIndices(m, +1)
	var zero T
	return zero, false
}

// Remove deletes the entry with the exact (match, priority) pair, updating
// indices and count. The max-priority is intentionally NOT recomputed
// here — per spec.md §5's publication order, the caller must call
// RecomputeMaxPriority (or know the removed entry wasn't the max) before
// unlinking becomes externally visible.
func (st *Subtable[T]) Remove(m *flow.Match, priority uint32) (payload T, ok bool) {
	digest := digestFull(m)
	classes := st.buckets[digest]
	i := classIndex(classes, m, st.Mask)
	if i < 0 {
		var zero T
		return zero, false
	}
	newHead, removed := removeChain(classes[i], priority)
	if removed == nil {
		var zero T
		return zero, false
	}
	if newHead == nil {
		classes = append(classes[:i], classes[i+1:]...)
	} else {
		classes[i] = newHead
	}
	if len(classes) == 0 {
		delete(st.buckets, digest)
	} else {
		st.buckets[digest] = classes
	}
	st.count--
	st.bumpIndices(m, -1)
	return removed.Payload, true
}

// RecomputeMaxPriority rescans every equivalence-class head and resets
// maxPriority. This is an O(buckets) writer-side operation, never on the
// read path.
func (st *Subtable[T]) RecomputeMaxPriority() {
	var max uint32
	for _, classes := range st.buckets {
		for _, head := range classes {
			if head.Priority > max {
				max = head.Priority
			}
		}
	}
	st.maxPriority = max
}

// FindExact returns the installed entry with an identical match and
// priority, or nil.
func (st *Subtable[T]) FindExact(m *flow.Match, priority uint32) *Entry[T] {
	classes := st.buckets[digestFull(m)]
	i := classIndex(classes, m, st.Mask)
	if i < 0 {
		return nil
	}
	for cur := classes[i]; cur != nil; cur = cur.next {
		if cur.Priority == priority {
			return cur
		}
	}
	return nil
}

// Lookup probes the subtable for mf, the flow's (or megaflow's) miniflow
// value. It returns the head of the matching equivalence class (the
// highest-priority rule in it) or nil, and always ORs the bits it actually
// consulted into w.
func (st *Subtable[T]) Lookup(mf *flow.Miniflow, w *flow.Wildcards) *Entry[T] {
	for i, ix := range st.indices {
		if ix == nil {
			continue
		}
		end := st.segEnds[i]
		digest := flow.HashRange(mf, st.Mask, 0, end)
		if !ix.probe(digest) {
			w.OrMaskRange(st.Mask, 0, end)
			return nil
		}
	}

	digest := flow.HashRange(mf, st.Mask, 0, flow.FlowWords)
	w.OrMaskRange(st.Mask, 0, flow.FlowWords)

	for _, head := range st.buckets[digest] {
		if flow.EqualUnderMask(mf, head.Match.Value, st.Mask) {
			return head
		}
	}
	return nil
}

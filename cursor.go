// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package classifier

import (
	"iter"

	"github.com/flowclassd/classifier/flow"
	"github.com/flowclassd/classifier/internal/subtable"
)

// Cursor produces every installed rule (cls_cursor), optionally filtered to
// only those whose match is a loose match of a target: the target's
// constraints are a subset of the visited rule's. Order across subtables
// follows the classifier's priority-ordered vector; order within a
// subtable is unspecified (its hash bucket order).
//
// A locked cursor (safe=false) holds the classifier's writer exclusion for
// its entire traversal: no insert/remove may interleave. A safe cursor
// (safe=true) holds no lock across Next calls, so its body may remove the
// just-yielded rule; Next always pre-advances its internal position before
// returning, so that removal can never invalidate the cursor's next step —
// it was already computed from the immutable snapshot captured at Start.
type Cursor struct {
	cls    *Classifier
	target *flow.Match
	safe   bool

	snap   *snapshot
	sigs   []string
	sigIdx int

	next func() (*subtable.Entry[*installedMatch], bool)
	stop func()

	pending   *Rule
	exhausted bool
}

// StartCursor begins a traversal (cls_cursor_start). A nil target visits
// every installed rule.
func (c *Classifier) StartCursor(target *flow.Match, safe bool) *Cursor {
	if !safe {
		c.writer.Lock()
	}
	cur := &Cursor{cls: c, target: target, safe: safe}
	cur.snap = c.snap.Load()
	cur.snap.order.Ascend(func(item orderItem) bool {
		cur.sigs = append(cur.sigs, item.sig)
		return true
	})
	cur.advance()
	return cur
}

// Next returns the next rule in the traversal (cls_cursor_advance), or
// (nil, false) when exhausted.
func (cur *Cursor) Next() (*Rule, bool) {
	if cur.exhausted {
		return nil, false
	}
	r := cur.pending
	cur.advance()
	return r, true
}

// Close releases any resources held by the cursor, including the writer
// exclusion for a locked cursor. Safe to call after exhaustion or more
// than once.
func (cur *Cursor) Close() {
	if cur.stop != nil {
		cur.stop()
		cur.stop = nil
	}
	if !cur.safe {
		cur.cls.writer.Unlock()
		cur.safe = true // guard against double-unlock on a second Close
	}
}

func (cur *Cursor) advance() {
	for {
		if cur.next == nil && !cur.openNextSubtable() {
			cur.pending = nil
			cur.exhausted = true
			return
		}
		e, ok := cur.next()
		if !ok {
			cur.stop()
			cur.next, cur.stop = nil, nil
			continue
		}
		if cur.target != nil && !looseMatches(e.Match, cur.target) {
			continue
		}
		cur.pending = e.Payload.rule
		return
	}
}

func (cur *Cursor) openNextSubtable() bool {
	for cur.sigIdx < len(cur.sigs) {
		sig := cur.sigs[cur.sigIdx]
		cur.sigIdx++
		st := cur.snap.subtables[sig]
		if st == nil {
			continue
		}
		cur.next, cur.stop = iter.Pull(st.All())
		return true
	}
	return false
}

// looseMatches reports whether entry is a loose match of target: every bit
// target's mask constrains is also constrained by entry's mask, and the
// two agree on those bits. entry may constrain additional bits target
// leaves wildcarded.
func looseMatches(entry, target *flow.Match) bool {
	for i := 0; i < flow.FlowWords; i++ {
		if target.Mask.WordAt(i)&^entry.Mask.WordAt(i) != 0 {
			return false
		}
	}
	return flow.EqualUnderMask(entry.Value, target.Value, target.Mask)
}

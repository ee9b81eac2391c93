// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

// Package classifier implements an in-memory, tuple-space flow classifier:
// a set of prioritized rules matching on packet header fields with
// per-bit wildcards, returning the highest-priority matching rule for a
// concrete flow and, as a side effect, the set of header bits that
// actually influenced the decision (the "un-wildcard mask").
//
// Lookup, overlap testing and exact-match probing never block and never
// take a lock: they read an immutable snapshot published by whichever
// mutating call (Insert/Replace/Remove/SetPrefixFields) most recently
// completed. At most one writer mutates the classifier at a time:
// concurrent mutating calls are serialized internally by a mutex.
package classifier

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/flowclassd/classifier/flow"
	"github.com/flowclassd/classifier/internal/subtable"
	"github.com/flowclassd/classifier/internal/trie"
	"github.com/flowclassd/classifier/internal/xerrors"
)

// Classifier is the top-level handle (cls_classifier). The zero value is
// not usable; construct with New.
type Classifier struct {
	segments []int // immutable after construction, ascending field-offsets

	writer sync.Mutex
	snap   atomic.Pointer[snapshot]

	pool   *matchPool
	logger *zap.Logger
}

// New constructs an empty classifier with the given staged-lookup segment
// boundaries (classifier_init): up to 3 ascending flow-word offsets. A nil
// logger is replaced with a no-op logger.
func New(segments []int, logger *zap.Logger) (*Classifier, error) {
	if len(segments) > 3 {
		return nil, fmt.Errorf("%w: at most 3 segment boundaries, got %d", xerrors.ErrContractViolation, len(segments))
	}
	for i := 1; i < len(segments); i++ {
		if segments[i] <= segments[i-1] {
			return nil, fmt.Errorf("%w: segment boundaries must be strictly ascending", xerrors.ErrContractViolation)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{
		segments: append([]int(nil), segments...),
		pool:     newMatchPool(),
		logger:   logger,
	}
	c.snap.Store(newSnapshot())
	return c, nil
}

// Destroy asserts the classifier is empty (classifier_destroy requires
// empty; a non-empty destroy is a contract violation, never a silent
// leak).
func (c *Classifier) Destroy() error {
	if !c.IsEmpty() {
		return fmt.Errorf("%w: destroy of non-empty classifier", xerrors.ErrContractViolation)
	}
	return nil
}

// Len reports the total number of installed rules.
func (c *Classifier) Len() int { return c.snap.Load().count }

// IsEmpty reports whether the classifier holds no rules.
func (c *Classifier) IsEmpty() bool { return c.Len() == 0 }

// maskSignature returns a canonical, fixed-width string key identifying a
// minimask's equivalence class (the set of populated words and their
// values) for subtable lookup by mask.
func maskSignature(mm *flow.Minimask) string {
	var b strings.Builder
	b.Grow(flow.FlowWords * 16)
	for i := 0; i < flow.FlowWords; i++ {
		fmt.Fprintf(&b, "%016x", mm.WordAt(i))
	}
	return b.String()
}

func sameFieldSet(a, b []flow.FieldID) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[flow.FieldID]bool, len(a))
	for _, f := range a {
		seen[f] = true
	}
	for _, f := range b {
		if !seen[f] {
			return false
		}
	}
	return true
}

// SetPrefixFields atomically replaces the active trie-field set
// (classifier_set_prefix_fields), rebuilding every trie from the currently
// installed rules. It reports whether the field set actually changed.
func (c *Classifier) SetPrefixFields(fields []flow.FieldID) (bool, error) {
	if len(fields) > flow.MaxTrieFields {
		return false, fmt.Errorf("%w: at most %d trie fields, got %d", xerrors.ErrContractViolation, flow.MaxTrieFields, len(fields))
	}
	for _, f := range fields {
		if !f.PrefixEligible() {
			return false, fmt.Errorf("%w: field %s is not prefix-eligible", xerrors.ErrContractViolation, f)
		}
	}

	c.writer.Lock()
	defer c.writer.Unlock()

	old := c.snap.Load()
	if sameFieldSet(old.trieFields, fields) {
		return false, nil
	}

	ns := old.clone()
	ns.trieFields = append([]flow.FieldID(nil), fields...)
	ns.tries = make(map[flow.FieldID]*trie.Trie, len(fields))
	for _, f := range fields {
		tr := trie.New()
		for _, st := range ns.subtables {
			length, ok := st.Mask.PrefixLen(f)
			if !ok || length == 0 {
				continue
			}
			for e := range st.All() {
				tr.Insert(e.Match.Value.PrefixOf(f, length), uint8(length))
			}
		}
		ns.tries[f] = tr
	}
	ns.recomputeMaxFieldLen()

	c.snap.Store(ns)
	c.logger.Debug("trie fields rebuilt", zap.Int("field_count", len(fields)))
	return true, nil
}

// Insert installs rule r (classifier_insert). If an identical (value,
// mask, priority) rule is already installed, it is displaced and returned;
// otherwise nil is returned.
func (c *Classifier) Insert(r *Rule) *Rule {
	return c.writeInsert(r)
}

// Replace is Insert under a name that makes the always-return-displaced
// contract explicit at call sites (classifier_replace). Since a subtable
// equivalence class only ever displaces an exact (value, mask, priority)
// duplicate, Insert and Replace are behaviorally identical; both exist to
// match the external operation table.
func (c *Classifier) Replace(r *Rule) *Rule {
	return c.writeInsert(r)
}

func (c *Classifier) writeInsert(r *Rule) *Rule {
	c.writer.Lock()
	defer c.writer.Unlock()

	old := c.snap.Load()
	ns := old.clone()

	sig := maskSignature(r.Match.Mask)
	st := ns.touchSubtable(sig, r.Match.Mask, c.segments)

	im := c.pool.get()
	im.rule = r
	im.subtable = st

	prev, dup := st.Insert(r.Match, r.Priority, im)

	var displaced *Rule
	if dup {
		displaced = prev.rule
		displaced.installed = nil
		c.pool.put(prev)
	} else {
		ns.count++
	}
	r.installed = im

	if !dup {
		// A duplicate (value, mask, priority) replace leaves this exact
		// prefix/tag already indexed from the original insert; only a
		// genuinely new entry needs trie/partition membership added.
		c.reindexTries(ns, r, true)
		c.reindexPartition(ns, st, r, true)
	}
	ns.updateOrder(sig, st)
	ns.recomputeMaxFieldLen()

	c.snap.Store(ns)
	c.logger.Debug("rule inserted", zap.Uint32("priority", r.Priority), zap.Bool("displaced_duplicate", dup))
	return displaced
}

// Remove unlinks rule r (classifier_remove), destroying now-empty
// subtables and partitions, and returns the detached rule (nil if r was
// not installed or already removed).
func (c *Classifier) Remove(r *Rule) *Rule {
	if r == nil || r.installed == nil {
		return nil
	}

	c.writer.Lock()
	defer c.writer.Unlock()

	old := c.snap.Load()
	ns := old.clone()

	sig := maskSignature(r.Match.Mask)
	st, ok := ns.subtables[sig]
	if !ok {
		return nil
	}
	st = st.Clone()
	ns.subtables[sig] = st

	_, removed := st.Remove(r.Match, r.Priority)
	if !removed {
		return nil
	}
	ns.count--

	// Publication order (spec.md §5): recompute max-priority before the
	// unlink becomes visible to readers, which happens atomically at Store
	// below, never before.
	st.RecomputeMaxPriority()

	c.reindexTries(ns, r, false)
	c.reindexPartition(ns, st, r, false)

	if st.IsEmpty() {
		delete(ns.subtables, sig)
		ns.dropFromOrder(sig)
	} else {
		ns.updateOrder(sig, st)
	}
	ns.recomputeMaxFieldLen()

	im := r.installed
	r.installed = nil
	c.pool.put(im)

	c.snap.Store(ns)
	c.logger.Debug("rule removed", zap.Uint32("priority", r.Priority))
	return r
}

// reindexTries updates every configured trie for a rule being installed
// (inserting=true) or removed (inserting=false).
func (c *Classifier) reindexTries(ns *snapshot, r *Rule, inserting bool) {
	for _, f := range ns.trieFields {
		length, ok := r.Match.Mask.PrefixLen(f)
		if !ok || length == 0 {
			continue
		}
		tr := ns.touchTrie(f)
		v := r.Match.Value.PrefixOf(f, length)
		if inserting {
			tr.Insert(v, uint8(length))
		} else {
			tr.Remove(v, uint8(length))
		}
	}
}

// reindexPartition updates the metadata partition index for a rule being
// installed (adding=true) or removed (adding=false) into subtable st.
func (c *Classifier) reindexPartition(ns *snapshot, st *subtable.Subtable[*installedMatch], r *Rule, adding bool) {
	if st.Tag == flow.TagAll {
		return
	}
	m := r.Match.Value.WordAt(flow.FieldMetadata.Word())
	if adding {
		ns.partitions.Add(m, st.Tag)
	} else {
		ns.partitions.Remove(m, st.Tag)
	}
}

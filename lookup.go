// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package classifier

import (
	"github.com/flowclassd/classifier/flow"
	"github.com/flowclassd/classifier/internal/partition"
)

// trieHit records what a single field's trie lookup found, for reuse
// across the priority-ordered subtable walk.
type trieHit struct {
	found    uint8
	examined uint8
}

// Lookup returns the highest-priority installed rule matching f
// (classifier_lookup), and accumulates into w every header bit that
// actually influenced the decision. A nil return means no rule matched;
// w is still updated (e.g. S5: a metadata-partition miss un-wildcards
// only the metadata bits).
func (c *Classifier) Lookup(f *flow.Flow, w *flow.Wildcards) *Rule {
	snap := c.snap.Load()
	mf := flow.FromFlow(f)

	hits := make(map[flow.FieldID]trieHit, len(snap.trieFields))
	for _, fld := range snap.trieFields {
		tr := snap.tries[fld]
		if tr == nil {
			continue
		}
		maxLen := snap.maxFieldLen[fld]
		if maxLen == 0 {
			continue
		}
		v := mf.PrefixOf(fld, fld.Width())
		found, examined := tr.Lookup(v, uint8(maxLen))
		w.OrWord(fld.Word(), fld.PrefixMask(uint(examined)))
		hits[fld] = trieHit{found: found, examined: examined}
	}

	// The partition probe is itself metadata-value-exact, not prefix-based:
	// deciding which subtables to skip consumes the whole metadata word,
	// regardless of whether any installed rule's mask is a proper prefix of
	// it (spec.md S5: "W includes only the metadata bits"). When no installed
	// rule constrains metadata the partition index is empty, no subtable can
	// be skipped by it, and the metadata word is left wildcarded.
	metaWord := mf.WordAt(flow.FieldMetadata.Word())
	if snap.partitions.Len() > 0 {
		w.OrWord(flow.FieldMetadata.Word(), ^uint64(0))
	}
	skipTags := snap.partitions.SkipTags(metaWord)

	var best *Rule
	var bestPrio uint32
	haveBest := false

	snap.order.Ascend(func(item orderItem) bool {
		if haveBest && bestPrio >= item.priority {
			return false
		}
		st := snap.subtables[item.sig]
		if st == nil {
			return true
		}
		if partition.Skip(st.Tag, skipTags) {
			return true
		}
		for _, fld := range snap.trieFields {
			length, ok := st.Mask.PrefixLen(fld)
			if !ok || length == 0 {
				continue
			}
			hit, ok := hits[fld]
			if !ok {
				continue
			}
			if uint(hit.found) < length {
				return true
			}
		}
		e := st.Lookup(mf, w)
		if e != nil && (!haveBest || e.Priority > bestPrio) {
			best = e.Payload.rule
			bestPrio = e.Priority
			haveBest = true
		}
		return true
	})

	return best
}

// RuleOverlaps reports whether some concrete flow could match both r and
// some installed rule of the same priority (classifier_rule_overlaps).
// Rules of differing priority never overlap by this definition, even if
// their matches intersect.
func (c *Classifier) RuleOverlaps(r *Rule) bool {
	snap := c.snap.Load()
	for _, st := range snap.subtables {
		if st.MaxPriority() < r.Priority {
			continue
		}
		for e := range st.All() {
			if e.Priority == r.Priority && e.Match.Overlaps(r.Match) {
				return true
			}
		}
	}
	return false
}

// FindRuleExactly returns the installed rule with an identical (value,
// mask, priority) to r, or nil (classifier_find_rule_exactly).
func (c *Classifier) FindRuleExactly(r *Rule) *Rule {
	return c.FindMatchExactly(r.Match, r.Priority)
}

// FindMatchExactly is the convenience wrapper classifier_find_rule_exactly
// is built on: it probes directly with a match and priority, without
// requiring the caller to construct a throwaway Rule.
func (c *Classifier) FindMatchExactly(m *flow.Match, priority uint32) *Rule {
	snap := c.snap.Load()
	sig := maskSignature(m.Mask)
	st, ok := snap.subtables[sig]
	if !ok {
		return nil
	}
	e := st.FindExact(m, priority)
	if e == nil {
		return nil
	}
	return e.Payload.rule
}

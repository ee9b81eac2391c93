// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package classifier

import (
	"github.com/flowclassd/classifier/flow"
	"github.com/flowclassd/classifier/internal/subtable"
)

// Rule is a classifier rule (cls_rule): a match plus a priority, owned by
// the caller for its lifetime. Ownership of the struct itself never
// transfers to the classifier; only a shadow (installedMatch) is created
// on insert. A Rule must not be mutated while installed.
type Rule struct {
	Match    *flow.Match
	Priority uint32

	installed *installedMatch
}

// NewRule builds a rule matching f's header fields under mm, at the given
// priority.
func NewRule(f *flow.Flow, mm *flow.Minimask, priority uint32) *Rule {
	return &Rule{Match: flow.NewMatch(f, mm), Priority: priority}
}

// IsInstalled reports whether this rule currently belongs to a classifier.
func (r *Rule) IsInstalled() bool { return r.installed != nil }

// installedMatch is the classifier's internal shadow of a Rule (cls_match):
// a back-pointer to the user rule, plus a pointer to the owning subtable.
// The equivalence-class chain itself lives in the subtable package's
// Entry[*installedMatch]; installedMatch is the payload type threaded
// through it.
type installedMatch struct {
	rule     *Rule
	subtable *subtable.Subtable[*installedMatch]
}

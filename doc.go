// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

// Package classifier implements an in-memory, OpenFlow-style tuple-space
// flow classifier: a set of prioritized rules matching on packet header
// fields with per-bit wildcards, returning for a concrete flow the
// highest-priority matching rule and the set of header bits that actually
// influenced the decision.
//
// Four techniques compose to make lookup fast without sacrificing
// correctness of the returned un-wildcard mask:
//
//   - tuple-space search over one hash-keyed subtable per distinct mask
//   - staged lookup, slicing each subtable by flow-word range
//   - per-field compressed prefix tries that prune subtables too long to
//     possibly match, without over-consulting header bits
//   - a metadata partition index skipping subtables whose tag cannot
//     apply to the flow's metadata value
//
// The classifier supports any number of concurrent lock-free readers
// (Lookup, RuleOverlaps, FindRuleExactly, and safe-mode Cursors) against
// at most one writer (Insert, Replace, Remove, SetPrefixFields) at a time,
// via copy-on-write snapshot publication. A locked Cursor (safe=false)
// holds the writer mutex until it is closed.
package classifier

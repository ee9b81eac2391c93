// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

// Package flow defines the canonical flow vector and its compressed
// miniflow/minimask representations used throughout the classifier.
//
// The field universe is a closed enumeration: every field has a fixed
// 64-bit word offset, bit shift and width within the flow vector, and an
// is-prefix-eligible flag consulted by the prefix tries. This table is the
// only "type" the classifier core understands; there is no inheritance
// hierarchy, only lookups into this descriptor array.
package flow

// FieldID identifies one header field in the canonical flow vector.
type FieldID int

const (
	FieldMetadata FieldID = iota
	FieldEthDst
	FieldEthSrc
	FieldEthType
	FieldVlanTCI
	FieldIPSrc
	FieldIPDst
	FieldIPProto
	FieldIPTos
	FieldTCPSrc
	FieldTCPDst
	numFields
)

// FlowWords is the fixed number of 64-bit slots in the canonical flow
// vector. Word boundaries double as the classifier's staged-lookup segment
// granularity (spec: "metadata, then L2, L3, L4").
const FlowWords = 8

// fieldDesc is an immutable field descriptor: which word it lives in, its
// bit shift from the LSB of that word, its width, and whether contiguous
// MSB-anchored prefixes of it are meaningful for trie lookups.
type fieldDesc struct {
	word           int
	shift          uint
	width          uint
	prefixEligible bool
	name           string
}

// fields is the closed, immutable field universe. Never mutated after
// package init.
var fields = [numFields]fieldDesc{
	FieldMetadata: {word: 0, shift: 0, width: 64, prefixEligible: false, name: "metadata"},
	FieldEthDst:   {word: 1, shift: 16, width: 48, prefixEligible: true, name: "eth_dst"},
	FieldEthSrc:   {word: 2, shift: 16, width: 48, prefixEligible: true, name: "eth_src"},
	FieldEthType:  {word: 3, shift: 48, width: 16, prefixEligible: false, name: "eth_type"},
	FieldVlanTCI:  {word: 3, shift: 32, width: 16, prefixEligible: false, name: "vlan_tci"},
	FieldIPSrc:    {word: 4, shift: 32, width: 32, prefixEligible: true, name: "ip_src"},
	FieldIPDst:    {word: 5, shift: 32, width: 32, prefixEligible: true, name: "ip_dst"},
	FieldIPProto:  {word: 6, shift: 56, width: 8, prefixEligible: false, name: "ip_proto"},
	FieldIPTos:    {word: 6, shift: 48, width: 8, prefixEligible: false, name: "ip_tos"},
	FieldTCPSrc:   {word: 7, shift: 48, width: 16, prefixEligible: false, name: "tcp_src"},
	FieldTCPDst:   {word: 7, shift: 32, width: 16, prefixEligible: false, name: "tcp_dst"},
}

// Word returns the 64-bit slot index a field lives in.
func (f FieldID) Word() int { return fields[f].word }

// Shift returns the bit offset of a field's value from the LSB of its word.
func (f FieldID) Shift() uint { return fields[f].shift }

// Width returns a field's bit width.
func (f FieldID) Width() uint { return fields[f].width }

// PrefixEligible reports whether contiguous MSB-anchored prefixes of this
// field are meaningful, i.e. whether it may be configured as a trie field.
func (f FieldID) PrefixEligible() bool { return fields[f].prefixEligible }

// String returns the field's canonical name.
func (f FieldID) String() string { return fields[f].name }

// ParseFieldID resolves a field's canonical name (as returned by String)
// back to its FieldID, for configuration surfaces that name fields as
// strings (flag values, JSON rule dumps).
func ParseFieldID(name string) (FieldID, bool) {
	for id := FieldID(0); id < numFields; id++ {
		if fields[id].name == name {
			return id, true
		}
	}
	return 0, false
}

// mask returns a word-local bitmask covering exactly this field's bits.
func (f FieldID) mask() uint64 {
	d := fields[f]
	if d.width == 64 {
		return ^uint64(0)
	}
	return ((uint64(1) << d.width) - 1) << d.shift
}

// MaxTrieFields is the maximum number of fields that may be configured as
// trie fields on a single classifier (spec: "at most 3 fields per
// classifier are configured as trie fields").
const MaxTrieFields = 3

// PrefixMask returns a word-local mask, shifted into this field's position,
// covering the top n bits of the field. It is the translation between a
// trie's bits-examined count (a plain bit count over the field's
// top-justified value) and the flow-vector word bits that count actually
// corresponds to, for OR-ing into a Wildcards accumulator.
func (f FieldID) PrefixMask(n uint) uint64 {
	d := fields[f]
	if n > d.width {
		n = d.width
	}
	if n == 0 {
		return 0
	}
	var bits uint64
	if d.width == 64 {
		bits = ^uint64(0) << (64 - n)
	} else {
		bits = (^uint64(0) << (d.width - n)) & ((uint64(1) << d.width) - 1)
	}
	return bits << d.shift
}

// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

// Package config holds the classifier's control-plane-chosen
// configuration: staged-lookup segment boundaries and the active
// prefix-trie field set, both validated before being handed to
// classifier.New / classifier.Classifier.SetPrefixFields.
package config

import (
	"fmt"
	"strings"

	"github.com/flowclassd/classifier/flow"
	"github.com/flowclassd/classifier/internal/xerrors"
)

// Config is the classifier's static (segments) and dynamic (trie fields)
// configuration surface (spec.md §6: "prefix-field selection ... segment
// boundaries are supplied at init and immutable thereafter").
type Config struct {
	// Segments are ascending flow-word offsets bounding the up to 4
	// staged-lookup ranges. Fixed at construction.
	Segments []int

	// TrieFields are the at most 3 prefix-eligible fields to build prefix
	// tries over. May be changed at runtime via SetPrefixFields.
	TrieFields []flow.FieldID
}

// Default returns the configuration used when none is supplied: segment
// boundaries at flow words 1, 4 and 6, separating the metadata word, the
// L2 words, the IP address words, and the words holding IP protocol/ToS
// and the transport ports; no trie fields configured.
func Default() Config {
	return Config{Segments: []int{1, 4, 6}}
}

// Validate checks the segment boundaries and trie field list for the
// contract violations spec.md §7 calls out: non-ascending boundaries, more
// than 3 boundaries, more than 3 trie fields, or a trie field that isn't
// prefix-eligible.
func (c Config) Validate() error {
	if len(c.Segments) > 3 {
		return fmt.Errorf("%w: at most 3 segment boundaries, got %d", xerrors.ErrContractViolation, len(c.Segments))
	}
	for i := 1; i < len(c.Segments); i++ {
		if c.Segments[i] <= c.Segments[i-1] {
			return fmt.Errorf("%w: segment boundaries must be strictly ascending", xerrors.ErrContractViolation)
		}
	}
	if len(c.Segments) > 0 && c.Segments[0] <= 0 {
		return fmt.Errorf("%w: segment boundaries must be positive", xerrors.ErrContractViolation)
	}
	if len(c.TrieFields) > flow.MaxTrieFields {
		return fmt.Errorf("%w: at most %d trie fields, got %d", xerrors.ErrContractViolation, flow.MaxTrieFields, len(c.TrieFields))
	}
	for _, f := range c.TrieFields {
		if !f.PrefixEligible() {
			return fmt.Errorf("%w: field %s is not prefix-eligible", xerrors.ErrContractViolation, f)
		}
	}
	return nil
}

// ParseTrieFields resolves a comma-separated field name list (as taken
// from a CLI flag) into field IDs.
func ParseTrieFields(csv string) ([]flow.FieldID, error) {
	if csv == "" {
		return nil, nil
	}
	names := strings.Split(csv, ",")
	fields := make([]flow.FieldID, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		f, ok := flow.ParseFieldID(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", xerrors.ErrContractViolation, name)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

// Package xerrors defines the classifier's error kinds (spec.md §7).
// NotFound is deliberately absent here: it is represented as a typed
// "none" (a nil pointer or an (T, bool) pair), never an error value.
package xerrors

import "errors"

// ErrOutOfMemory names the out-of-memory error kind. No operation in this
// module returns it: Insert and Replace have no error result, and
// SetPrefixFields returns only ErrContractViolation.
var ErrOutOfMemory = errors.New("classifier: out of memory")

// ErrContractViolation marks a programmer bug: an invalid flow vector
// layout, a mask with value bits outside the mask, non-ascending segment
// boundaries, more than the allowed number of trie fields, or destroying a
// non-empty classifier. Debug builds should treat this as fatal; it is
// returned here rather than panicking so callers can choose.
var ErrContractViolation = errors.New("classifier: contract violation")

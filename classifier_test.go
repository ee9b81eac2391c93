// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package classifier

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowclassd/classifier/flow"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New([]int{1, 4, 6}, nil)
	require.NoError(t, err)
	return c
}

func ipRule(ipDst uint32, prefixLen uint, priority uint32) *Rule {
	var f flow.Flow
	f.Set(flow.FieldIPDst, uint64(ipDst))
	mm := (&flow.MaskBuilder{}).Prefix(flow.FieldIPDst, prefixLen).Build()
	return NewRule(&f, mm, priority)
}

func lookupIP(c *Classifier, ipDst uint32) (*Rule, flow.Wildcards) {
	var f flow.Flow
	f.Set(flow.FieldIPDst, uint64(ipDst))
	var w flow.Wildcards
	return c.Lookup(&f, &w), w
}

// S1: empty classifier returns no match and leaves wildcards unchanged.
func TestEmptyClassifierMisses(t *testing.T) {
	c := newTestClassifier(t)
	r, w := lookupIP(c, 0x0a010203)
	require.Nil(t, r)
	require.Equal(t, flow.Wildcards{}, w)
}

// S2: a single /8 rule matches and un-wildcards exactly its 8 bits.
func TestSingleRuleUnwildcardsExactlyItsMask(t *testing.T) {
	c := newTestClassifier(t)
	r1 := ipRule(0x0a000000, 8, 100)
	c.Insert(r1)

	got, w := lookupIP(c, 0x0a010203)
	require.Same(t, r1, got)

	wantWord := flow.FieldIPDst.PrefixMask(8)
	require.Equal(t, wantWord, w.Words[flow.FieldIPDst.Word()])
}

// S3: a more specific higher-priority rule wins within its range; the
// broader rule still matches outside it.
func TestMoreSpecificRuleWinsWithinItsRange(t *testing.T) {
	c := newTestClassifier(t)
	r1 := ipRule(0x0a000000, 8, 100)  // 10.0.0.0/8
	r2 := ipRule(0x0a010000, 16, 200) // 10.1.0.0/16
	c.Insert(r1)
	c.Insert(r2)

	got, _ := lookupIP(c, 0x0a010203) // 10.1.2.3: inside /16
	require.Same(t, r2, got)

	got2, _ := lookupIP(c, 0x0a020203) // 10.2.2.3: only inside /8
	require.Same(t, r1, got2)
}

// S4: two rules overlapping at equal priority report overlap; at differing
// priority they do not.
func TestRuleOverlapsRespectsPriority(t *testing.T) {
	c := newTestClassifier(t)
	c.Insert(ipRule(0x0a010000, 16, 200)) // 10.1.0.0/16 @ 200

	// A same-priority probe overlapping 10.1.0.0/16 must report overlap,
	// whether or not it is itself installed.
	probeSamePriority := ipRule(0x0a000000, 8, 200) // 10.0.0.0/8 @ 200
	require.True(t, c.RuleOverlaps(probeSamePriority))

	// The identical range at a different priority must not.
	probeDifferentPriority := ipRule(0x0a000000, 8, 100)
	require.False(t, c.RuleOverlaps(probeDifferentPriority))
}

// S5: metadata partitioning — an unrecognized metadata value misses and
// un-wildcards only the metadata bits.
func TestMetadataPartitionMissOnlyUnwildcardsMetadata(t *testing.T) {
	c := newTestClassifier(t)

	var fa flow.Flow
	fa.Set(flow.FieldMetadata, 1)
	fa.Set(flow.FieldTCPDst, 80)
	maskA := (&flow.MaskBuilder{}).Exact(flow.FieldMetadata).Exact(flow.FieldTCPDst).Build()
	ra := NewRule(&fa, maskA, 100)
	c.Insert(ra)

	var fb flow.Flow
	fb.Set(flow.FieldMetadata, 2)
	fb.Set(flow.FieldTCPDst, 53)
	maskB := (&flow.MaskBuilder{}).Exact(flow.FieldMetadata).Exact(flow.FieldTCPDst).Build()
	rb := NewRule(&fb, maskB, 100)
	c.Insert(rb)

	var query flow.Flow
	query.Set(flow.FieldMetadata, 3)
	query.Set(flow.FieldTCPDst, 80)
	var w flow.Wildcards
	got := c.Lookup(&query, &w)

	require.Nil(t, got)
	require.Equal(t, ^uint64(0), w.Words[flow.FieldMetadata.Word()])
	require.Zero(t, w.Words[flow.FieldTCPDst.Word()], "a partition miss must not inspect any other header bits")
}

// S6: the safe cursor can remove every visited rule mid-iteration, ending
// with an empty classifier.
func TestSafeCursorRemovesAllVisited(t *testing.T) {
	c := newTestClassifier(t)
	r1 := ipRule(0x0a000000, 8, 100)
	r2 := ipRule(0x0b000000, 8, 200)
	r3 := ipRule(0x0c000000, 8, 300)
	c.Insert(r1)
	c.Insert(r2)
	c.Insert(r3)
	require.Equal(t, 3, c.Len())

	cur := c.StartCursor(nil, true)
	defer cur.Close()

	seen := 0
	for {
		r, ok := cur.Next()
		if !ok {
			break
		}
		seen++
		c.Remove(r)
	}
	require.Equal(t, 3, seen)
	require.True(t, c.IsEmpty())
}

// Property 8 (spec.md §8): lock-free readers must observe a consistent
// snapshot at every instant, even while a writer concurrently inserts,
// removes, and runs a safe cursor over the same classifier. Run under
// -race: readers walk rule shadows published in old snapshots while the
// writer displaces and retires them, the scenario matchPool's refusal to
// recycle retired shadows guards against.
func TestConcurrentReadersDuringWrites(t *testing.T) {
	c := newTestClassifier(t)

	const numRules = 20
	rules := make([]*Rule, numRules)
	for i := 0; i < numRules; i++ {
		rules[i] = ipRule(0x0a000000+uint32(i)<<16, 24, uint32(100+i))
	}
	for _, r := range rules {
		c.Insert(r)
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup

	for g := 0; g < 4; g++ {
		readers.Add(1)
		go func(seed uint32) {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = lookupIP(c, 0x0a000000+seed)
				cur := c.StartCursor(nil, true)
				for {
					_, ok := cur.Next()
					if !ok {
						break
					}
				}
				cur.Close()
			}
		}(uint32(g) << 16)
	}

	for round := 0; round < 50; round++ {
		idx := round % numRules
		c.Remove(rules[idx])
		rules[idx] = ipRule(0x0a000000+uint32(idx)<<16, 24, uint32(100+idx))
		c.Insert(rules[idx])
	}

	close(stop)
	readers.Wait()

	require.Equal(t, numRules, c.Len())
}

func TestInsertDuplicateDisplacesPriorRule(t *testing.T) {
	c := newTestClassifier(t)
	r1 := ipRule(0x0a000000, 8, 100)
	r2 := ipRule(0x0a000000, 8, 100) // identical value, mask, priority
	c.Insert(r1)
	displaced := c.Insert(r2)

	require.Same(t, r1, displaced)
	require.False(t, r1.IsInstalled())
	require.True(t, r2.IsInstalled())

	got, _ := lookupIP(c, 0x0a010203)
	require.Same(t, r2, got)
}

func TestRemoveRestoresEmptyState(t *testing.T) {
	c := newTestClassifier(t)
	r1 := ipRule(0x0a000000, 8, 100)
	c.Insert(r1)
	require.Equal(t, 1, c.Len())

	removed := c.Remove(r1)
	require.Same(t, r1, removed)
	require.True(t, c.IsEmpty())
	require.False(t, r1.IsInstalled())

	got, _ := lookupIP(c, 0x0a010203)
	require.Nil(t, got)
}

func TestFindRuleExactly(t *testing.T) {
	c := newTestClassifier(t)
	r1 := ipRule(0x0a000000, 8, 100)
	c.Insert(r1)

	require.Same(t, r1, c.FindRuleExactly(r1))

	probe := ipRule(0x0a000000, 8, 101) // same match, different priority
	require.Nil(t, c.FindRuleExactly(probe))
}

func TestSetPrefixFieldsPrunesImpossibleSubtable(t *testing.T) {
	c := newTestClassifier(t)
	_, err := c.SetPrefixFields([]flow.FieldID{flow.FieldIPDst})
	require.NoError(t, err)

	r1 := ipRule(0x0a000000, 8, 100)  // 10.0.0.0/8
	r2 := ipRule(0x0b000000, 16, 200) // 11.0.0.0/16, disjoint from query below
	c.Insert(r1)
	c.Insert(r2)

	got, w := lookupIP(c, 0x0a010203) // matches only r1's /8
	require.Same(t, r1, got)
	// r2's subtable requires a 16-bit prefix match that the trie already
	// proved impossible, so its mask bits must never be consulted.
	require.Equal(t, flow.FieldIPDst.PrefixMask(8), w.Words[flow.FieldIPDst.Word()])
}

// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package classifier

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/flowclassd/classifier/flow"
	"github.com/flowclassd/classifier/internal/xerrors"
)

// MaxBatchFlows is the largest slice LookupMiniflowBatch accepts in one
// call (classifier_lookup_miniflow_batch: "count ≤ 256").
const MaxBatchFlows = 256

// batchCacheSize bounds the per-call digest memoizer. It exists purely to
// skip redundant subtable walks when a batch contains repeated flows (a
// common pattern when many packets in a burst share a 5-tuple); a miss
// always falls through to a real Lookup, so cache sizing never affects
// correctness, only how much duplicate work is avoided.
const batchCacheSize = 64

type batchHit struct {
	rule *Rule
	w    flow.Wildcards
}

// flowKey builds a memoizer key from a flow's raw words. The key is the
// flow's complete word array, so two flows share a key only if they are
// identical, and a cached entry is the result Lookup returned for that
// very flow within this batch call.
func flowKey(f *flow.Flow) [flow.FlowWords]uint64 {
	return f.Words
}

// LookupMiniflowBatch performs Lookup for every flow in flows, writing the
// matching rule (or nil) into out[i] and OR-ing the consulted bits into
// wildcards[i], as Lookup does. It is semantically equivalent to calling Lookup once per
// flow — concurrency and memoization here are pure performance hints, the
// per-flow result is never allowed to depend on what else is in the batch.
// It reports whether every slot matched.
func (c *Classifier) LookupMiniflowBatch(ctx context.Context, flows []*flow.Flow, wildcards []*flow.Wildcards, out []*Rule) (bool, error) {
	n := len(flows)
	if n > MaxBatchFlows {
		return false, fmt.Errorf("%w: batch of %d exceeds MaxBatchFlows", xerrors.ErrContractViolation, n)
	}
	if len(wildcards) != n || len(out) != n {
		return false, fmt.Errorf("%w: flows/wildcards/out length mismatch", xerrors.ErrContractViolation)
	}
	if n == 0 {
		return true, nil
	}

	cache, _ := lru.New[[flow.FlowWords]uint64, batchHit](batchCacheSize)
	var cacheMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, runtime.GOMAXPROCS(0)))

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			key := flowKey(flows[i])

			cacheMu.Lock()
			hit, ok := cache.Get(key)
			cacheMu.Unlock()
			if ok {
				out[i] = hit.rule
				for j, bits := range hit.w.Words {
					wildcards[i].Words[j] |= bits
				}
				return nil
			}

			var w flow.Wildcards
			r := c.Lookup(flows[i], &w)
			out[i] = r
			for j, bits := range w.Words {
				wildcards[i].Words[j] |= bits
			}

			cacheMu.Lock()
			cache.Add(key, batchHit{rule: r, w: w})
			cacheMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return false, err
	}

	allMatched := true
	for _, r := range out {
		if r == nil {
			allMatched = false
			break
		}
	}
	return allMatched, nil
}

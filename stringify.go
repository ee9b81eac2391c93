// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

package classifier

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/flowclassd/classifier/flow"
)

// String returns a human-readable summary of the classifier: one line per
// subtable, in priority order, followed by its installed rule count. It is
// a debug aid, not a stable serialization format (spec.md explicitly puts
// serialization out of scope).
func (c *Classifier) String() string {
	w := new(strings.Builder)
	if err := c.Fprint(w); err != nil {
		panic(err)
	}
	return w.String()
}

// Fprint writes the same summary String returns to w.
func (c *Classifier) Fprint(w io.Writer) error {
	snap := c.snap.Load()

	type row struct {
		priority uint32
		count    int
		tag      uint64
	}
	rows := make([]row, 0, len(snap.subtables))
	snap.order.Ascend(func(item orderItem) bool {
		st := snap.subtables[item.sig]
		if st == nil {
			return true
		}
		rows = append(rows, row{priority: st.MaxPriority(), count: st.Count(), tag: st.Tag})
		return true
	})
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].priority > rows[j].priority })

	if _, err := fmt.Fprintf(w, "classifier: %d rule(s) in %d subtable(s)\n", snap.count, len(snap.subtables)); err != nil {
		return err
	}
	for _, r := range rows {
		tag := "TAG_ALL"
		if r.tag != flow.TagAll {
			tag = fmt.Sprintf("%#016x", r.tag)
		}
		if _, err := fmt.Fprintf(w, "  max_priority=%d rules=%d tag=%s\n", r.priority, r.count, tag); err != nil {
			return err
		}
	}
	return nil
}

// String renders a rule's priority and masked value/mask words, for use in
// logs and test failure messages.
func (r *Rule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "priority=%d mask=[", r.Priority)
	for i := 0; i < flow.FlowWords; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%016x", r.Match.Mask.WordAt(i))
	}
	b.WriteString("] value=[")
	for i := 0; i < flow.FlowWords; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%016x", r.Match.Value.WordAt(i))
	}
	b.WriteByte(']')
	return b.String()
}

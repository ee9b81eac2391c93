// Copyright (c) 2025 The flowclassd Authors
// SPDX-License-Identifier: MIT

// Command flowclassd-inspect loads a JSON rule dump, builds a classifier
// from it, looks up one flow against it, and prints the matching rule (if
// any) and the accumulated wildcard mask. It is a debugging aid; it owns
// no wire protocol or persistence format of its own.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/flowclassd/classifier"
	"github.com/flowclassd/classifier/config"
	"github.com/flowclassd/classifier/flow"
)

// fieldSpec is one field's value in a JSON rule or flow dump. PrefixLen is
// only meaningful for prefix-eligible fields; its absence means an exact
// match on the whole field width.
type fieldSpec struct {
	Value     uint64 `json:"value"`
	PrefixLen *uint  `json:"prefix_len,omitempty"`
}

type ruleSpec struct {
	Priority uint32               `json:"priority"`
	Fields   map[string]fieldSpec `json:"fields"`
}

type rulesDump struct {
	Segments   []int    `json:"segments"`
	TrieFields []string `json:"trie_fields"`
	Rules      []ruleSpec `json:"rules"`
}

type flowDump struct {
	Fields map[string]uint64 `json:"fields"`
}

func buildMatch(spec map[string]fieldSpec) (*flow.Flow, *flow.Minimask, error) {
	var f flow.Flow
	var b flow.MaskBuilder
	for name, fs := range spec {
		id, ok := flow.ParseFieldID(name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown field %q", name)
		}
		f.Set(id, fs.Value)
		if fs.PrefixLen != nil {
			b.Prefix(id, *fs.PrefixLen)
		} else {
			b.Exact(id)
		}
	}
	return &f, b.Build(), nil
}

func loadRulesDump(path string) (rulesDump, error) {
	var d rulesDump
	data, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("parsing %s: %w", path, err)
	}
	return d, nil
}

func loadFlowDump(path string) (*flow.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d flowDump
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	var f flow.Flow
	for name, v := range d.Fields {
		id, ok := flow.ParseFieldID(name)
		if !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		f.Set(id, v)
	}
	return &f, nil
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func run(rulesPath, lookupPath, logLevel string) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	dump, err := loadRulesDump(rulesPath)
	if err != nil {
		return err
	}

	trieFields, err := config.ParseTrieFields(joinNames(dump.TrieFields))
	if err != nil {
		return err
	}
	cfg := config.Config{Segments: dump.Segments, TrieFields: trieFields}
	if len(cfg.Segments) == 0 {
		cfg = config.Config{Segments: config.Default().Segments, TrieFields: trieFields}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	cls, err := classifier.New(cfg.Segments, logger)
	if err != nil {
		return err
	}
	if len(cfg.TrieFields) > 0 {
		if _, err := cls.SetPrefixFields(cfg.TrieFields); err != nil {
			return err
		}
	}

	for _, rs := range dump.Rules {
		f, mm, err := buildMatch(rs.Fields)
		if err != nil {
			return err
		}
		cls.Insert(classifier.NewRule(f, mm, rs.Priority))
	}
	logger.Info("classifier built", zap.Int("rules", cls.Len()))

	f, err := loadFlowDump(lookupPath)
	if err != nil {
		return err
	}

	var w flow.Wildcards
	match := cls.Lookup(f, &w)
	if match == nil {
		fmt.Println("no match")
	} else {
		fmt.Printf("match: %s\n", match)
	}
	fmt.Printf("wildcards: %v\n", w.Words)
	return nil
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

func main() {
	var rulesPath, lookupPath, logLevel string

	root := &cobra.Command{
		Use:   "flowclassd-inspect",
		Short: "Build a flow classifier from a JSON rule dump and inspect one lookup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(rulesPath, lookupPath, logLevel)
		},
	}
	root.Flags().StringVar(&rulesPath, "rules", "", "path to a JSON rule dump")
	root.Flags().StringVar(&lookupPath, "lookup", "", "path to a JSON flow to look up")
	root.Flags().StringVar(&logLevel, "log-level", "info", "zap log level (debug, info, warn, error)")
	_ = root.MarkFlagRequired("rules")
	_ = root.MarkFlagRequired("lookup")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

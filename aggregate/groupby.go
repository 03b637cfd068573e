//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoSquash.
//
// GoSquash is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoSquash is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoSquash. If not, see https://www.gnu.org/licenses/.

package aggregate

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/gosquash/core"
)

// GroupBy implements grouping and aggregation over a record stream.
//
// Records are grouped by the configured key fields and fed to per-group
// aggregator instances in arrival order. Revision order within a group is the
// caller's contract; GroupBy preserves it and never reorders records, even
// when folding groups in parallel. Output records appear in first-seen group
// order and carry the group's real key values plus one field per aggregator.
type GroupBy struct {
	groupFields []string
	aggregators map[string]Aggregator
	workers     int
	err         error
}

// groupState holds one group's raw key values and its aggregator instances.
type groupState struct {
	keys        core.Record
	aggregators map[string]Aggregator
}

// NewGroupBy creates a new GroupBy engine keyed on the given fields.
// Values with identical string forms fall into the same group.
func NewGroupBy(groupFields ...string) *GroupBy {
	return &GroupBy{
		groupFields: groupFields,
		aggregators: make(map[string]Aggregator),
		workers:     1,
	}
}

// Coalesce adds a coalesce aggregator for the specified field: the output
// field carries the group's most recent non-null value, or nil if the field
// was null in every record.
func (g *GroupBy) Coalesce(field, outputField string) *GroupBy {
	g.aggregators[outputField] = &CoalesceAggregator{Field: field}
	return g
}

// First adds a first-non-null aggregator for the specified field.
func (g *GroupBy) First(field, outputField string) *GroupBy {
	g.aggregators[outputField] = &FirstAggregator{Field: field}
	return g
}

// Last adds a last-value aggregator for the specified field. Unlike Coalesce,
// a trailing null in the group erases earlier values.
func (g *GroupBy) Last(field, outputField string) *GroupBy {
	g.aggregators[outputField] = &LastAggregator{Field: field}
	return g
}

// Count adds a count aggregator for the specified output field.
func (g *GroupBy) Count(outputField string) *GroupBy {
	g.aggregators[outputField] = &CountAggregator{}
	return g
}

// Sum adds a sum aggregator for the specified field.
func (g *GroupBy) Sum(field, outputField string) *GroupBy {
	g.aggregators[outputField] = &SumAggregator{Field: field}
	return g
}

// Avg adds an average aggregator for the specified field.
func (g *GroupBy) Avg(field, outputField string) *GroupBy {
	g.aggregators[outputField] = &AvgAggregator{Field: field}
	return g
}

// Min adds a minimum aggregator for the specified field.
func (g *GroupBy) Min(field, outputField string) *GroupBy {
	g.aggregators[outputField] = &MinAggregator{Field: field}
	return g
}

// Max adds a maximum aggregator for the specified field.
func (g *GroupBy) Max(field, outputField string) *GroupBy {
	g.aggregators[outputField] = &MaxAggregator{Field: field}
	return g
}

// Agg adds an aggregator by registered name (see Register). Unknown names
// surface as an error from Process.
func (g *GroupBy) Agg(name, field, outputField string) *GroupBy {
	aggregator, err := New(name, field)
	if err != nil {
		if g.err == nil {
			g.err = err
		}
		return g
	}
	g.aggregators[outputField] = aggregator
	return g
}

// Custom adds a caller-supplied aggregator prototype for the output field.
// The prototype must implement Cloner so the engine can stamp out one
// instance per group.
func (g *GroupBy) Custom(outputField string, prototype Aggregator) *GroupBy {
	g.aggregators[outputField] = prototype
	return g
}

// WithWorkers sets the number of parallel fold workers. Groups are sharded
// across workers by key hash; each group is always folded by a single worker
// in arrival order, so per-group ordering is unaffected. Values below 2
// select the sequential engine.
func (g *GroupBy) WithWorkers(n int) *GroupBy {
	if n < 1 {
		n = 1
	}
	g.workers = n
	return g
}

// Process consumes the record channel until it is closed and returns one
// output record per group, in first-seen group order.
func (g *GroupBy) Process(ctx context.Context, records <-chan core.Record) ([]core.Record, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	if g.workers > 1 {
		return g.processParallel(ctx, records)
	}

	groups := make(map[string]*groupState)
	var order []string

loop:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case record, ok := <-records:
			if !ok {
				break loop
			}
			key := g.encodeGroupKey(record)
			state, exists := groups[key]
			if !exists {
				state = g.newGroupState(record)
				groups[key] = state
				order = append(order, key)
			}
			if err := addToGroup(ctx, state, record); err != nil {
				return nil, err
			}
		}
	}

	results := make([]core.Record, 0, len(order))
	for _, key := range order {
		result, err := g.emitGroup(groups[key])
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// processParallel shards groups across workers by key hash. The dispatcher
// assigns first-seen order centrally so the merged output matches the
// sequential engine record for record.
func (g *GroupBy) processParallel(ctx context.Context, records <-chan core.Record) ([]core.Record, error) {
	type keyedRecord struct {
		key    string
		record core.Record
	}

	workers := g.workers
	shardChans := make([]chan keyedRecord, workers)
	shardGroups := make([]map[string]*groupState, workers)
	for i := range shardChans {
		shardChans[i] = make(chan keyedRecord, 64)
		shardGroups[i] = make(map[string]*groupState)
	}

	var order []string

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		defer func() {
			for _, ch := range shardChans {
				close(ch)
			}
		}()
		// The dispatcher records first-seen order centrally; group state
		// itself is created and owned by the shard workers.
		seen := make(map[string]struct{})
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case record, ok := <-records:
				if !ok {
					return nil
				}
				key := g.encodeGroupKey(record)
				if _, exists := seen[key]; !exists {
					seen[key] = struct{}{}
					order = append(order, key)
				}
				shard := shardIndex(key, workers)
				select {
				case shardChans[shard] <- keyedRecord{key: key, record: record}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
	})

	for i := 0; i < workers; i++ {
		i := i
		grp.Go(func() error {
			for kr := range shardChans[i] {
				state, exists := shardGroups[i][kr.key]
				if !exists {
					state = g.newGroupState(kr.record)
					shardGroups[i][kr.key] = state
				}
				if err := addToGroup(gctx, state, kr.record); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]*groupState, len(order))
	for _, groups := range shardGroups {
		for key, state := range groups {
			merged[key] = state
		}
	}

	results := make([]core.Record, 0, len(order))
	for _, key := range order {
		result, err := g.emitGroup(merged[key])
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func addToGroup(ctx context.Context, state *groupState, record core.Record) error {
	for outputField, aggregator := range state.aggregators {
		if err := aggregator.Add(ctx, record); err != nil {
			return fmt.Errorf("aggregation error for field %s: %w", outputField, err)
		}
	}
	return nil
}

func (g *GroupBy) validate() error {
	if g.err != nil {
		return g.err
	}
	for outputField, prototype := range g.aggregators {
		if _, ok := prototype.(Cloner); !ok {
			return fmt.Errorf("aggregator for output field %s does not implement Clone", outputField)
		}
	}
	return nil
}

func (g *GroupBy) newGroupState(record core.Record) *groupState {
	state := &groupState{
		keys:        make(core.Record, len(g.groupFields)),
		aggregators: make(map[string]Aggregator, len(g.aggregators)),
	}
	for _, field := range g.groupFields {
		if value, exists := record[field]; exists {
			state.keys[field] = value
		}
	}
	for outputField, prototype := range g.aggregators {
		state.aggregators[outputField] = prototype.(Cloner).Clone()
	}
	return state
}

// emitGroup builds one output record from a group's retained key values and
// aggregator results. Single-value results land directly under the output
// field; multi-value results (custom aggregators) are suffixed per value key.
func (g *GroupBy) emitGroup(state *groupState) (core.Record, error) {
	result := make(core.Record, len(state.keys)+len(state.aggregators))
	for field, value := range state.keys {
		result[field] = value
	}
	for outputField, aggregator := range state.aggregators {
		value, err := aggregator.Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get result for field %s: %w", outputField, err)
		}
		if len(value) == 1 {
			for _, v := range value {
				result[outputField] = v
			}
		} else {
			for k, v := range value {
				result[outputField+"_"+k] = v
			}
		}
	}
	return result, nil
}

// Group key encoding. Parts are tagged so null, missing, and empty string
// stay distinct, then escape-joined so distinct key tuples never collide.
const (
	groupKeySep    = "\x1f"
	groupKeyEscape = "\x1b"
)

// GroupKey encodes a record's values for the given key fields into a single
// string. Distinct key tuples always encode to distinct strings; values with
// identical string forms encode identically. Both the GroupBy engine and the
// Squasher derive their group identity from this encoding.
func GroupKey(record core.Record, fields []string) string {
	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteString(groupKeySep)
		}
		value, exists := record[field]
		switch {
		case !exists:
			b.WriteString("m")
		case value == nil:
			b.WriteString("n")
		default:
			b.WriteString("v")
			b.WriteString(escapeKeyPart(fmt.Sprintf("%v", value)))
		}
	}
	return b.String()
}

func (g *GroupBy) encodeGroupKey(record core.Record) string {
	return GroupKey(record, g.groupFields)
}

func escapeKeyPart(s string) string {
	if !strings.ContainsAny(s, groupKeySep+groupKeyEscape) {
		return s
	}
	s = strings.ReplaceAll(s, groupKeyEscape, groupKeyEscape+groupKeyEscape)
	s = strings.ReplaceAll(s, groupKeySep, groupKeyEscape+groupKeySep)
	return s
}

func shardIndex(key string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(workers))
}

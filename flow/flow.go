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

// flow.go - Flow definition, validation, and the fluent builder
package flow

import (
	"fmt"
	"sort"

	"github.com/aaronlmathis/gosquash"
	"github.com/aaronlmathis/gosquash/aggregate"
	"github.com/aaronlmathis/gosquash/core"
	"github.com/aaronlmathis/gosquash/validators"
)

// Package flow orchestrates multi-stage squash jobs. A Flow is a set of
// named stages wired by dependencies; a Runner executes it level by
// level with bounded parallelism, per-stage retries, and trigger rules
// for failure paths. Stages exchange record batches and nothing in a
// flow reorders records within a batch, so the ordering contract of the
// squash fold holds end to end.

// FlowError wraps structured error information for flow construction
// and execution. Stage is empty for flow-level failures.
type FlowError struct {
	Op    string
	Stage string
	Err   error
}

func (e *FlowError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("flow %s stage %s: %v", e.Op, e.Stage, e.Err)
	}
	return fmt.Sprintf("flow %s: %v", e.Op, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Flow is a validated set of stages wired by dependencies. Build one
// through a Builder; the zero value is not usable.
type Flow struct {
	id     string
	name   string
	stages map[string]Stage
	deps   map[string][]string
}

// ID returns the flow identifier.
func (f *Flow) ID() string { return f.id }

// Name returns the human-readable flow name.
func (f *Flow) Name() string { return f.name }

// StageIDs returns every stage identifier in sorted order.
func (f *Flow) StageIDs() []string {
	ids := make([]string, 0, len(f.stages))
	for id := range f.stages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependencies returns the declared dependencies of a stage.
func (f *Flow) Dependencies(id string) []string {
	return append([]string(nil), f.deps[id]...)
}

// Validate checks that every dependency names an existing stage and
// that the dependency graph is acyclic.
func (f *Flow) Validate() error {
	for id, deps := range f.deps {
		for _, dep := range deps {
			if _, exists := f.stages[dep]; !exists {
				return &FlowError{Op: "validate", Stage: id, Err: fmt.Errorf("depends on unknown stage %s", dep)}
			}
		}
	}
	if _, err := f.sortStages(); err != nil {
		return err
	}
	return nil
}

// sortStages returns the stages in topological order using Kahn's
// algorithm, breaking ties by stage ID so the order is deterministic.
func (f *Flow) sortStages() ([]string, error) {
	inDegree := make(map[string]int, len(f.stages))
	for id := range f.stages {
		inDegree[id] = 0
	}

	dependents := make(map[string][]string)
	for id, deps := range f.deps {
		for _, dep := range deps {
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(f.stages))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(f.stages) {
		return nil, &FlowError{Op: "sort", Err: fmt.Errorf("dependency cycle among %d stages", len(f.stages)-len(order))}
	}
	return order, nil
}

// levels groups stages so that every stage lands one level below its
// deepest dependency. Stages within a level share no dependency chain
// and can run concurrently. order must be a topological order.
func (f *Flow) levels(order []string) [][]string {
	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, id := range order {
		d := 0
		for _, dep := range f.deps[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, id := range order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

// Builder assembles a Flow through a fluent API. The first error
// encountered is carried through and returned by Build.
type Builder struct {
	flow *Flow
	err  error
}

// NewFlow creates a Builder for a flow with the given identifier and
// human-readable name.
func NewFlow(id, name string) *Builder {
	return &Builder{
		flow: &Flow{
			id:     id,
			name:   name,
			stages: make(map[string]Stage),
			deps:   make(map[string][]string),
		},
	}
}

// AddStage registers a Stage implementation under its own ID and
// dependencies. The typed Add methods below cover the built-in stages;
// AddStage is the hook for custom ones.
func (b *Builder) AddStage(stage Stage) *Builder {
	if b.err != nil {
		return b
	}
	id := stage.ID()
	if id == "" {
		b.err = &FlowError{Op: "build", Err: fmt.Errorf("stage has empty id")}
		return b
	}
	if _, exists := b.flow.stages[id]; exists {
		b.err = &FlowError{Op: "build", Stage: id, Err: fmt.Errorf("duplicate stage id")}
		return b
	}
	b.flow.stages[id] = stage
	b.flow.deps[id] = append([]string(nil), stage.Dependencies()...)
	return b
}

// AddSource adds a stage reading all records from a DataSource.
func (b *Builder) AddSource(id string, source core.DataSource, opts ...StageOption) *Builder {
	return b.AddStage(NewSourceStage(id, source, opts...))
}

// AddTransform adds a per-record transformation stage.
func (b *Builder) AddTransform(id string, transformer core.Transformer, deps []string, opts ...StageOption) *Builder {
	return b.AddStage(NewTransformStage(id, transformer, deps, opts...))
}

// AddFilter adds a filtering stage.
func (b *Builder) AddFilter(id string, filter core.Filter, deps []string, opts ...StageOption) *Builder {
	return b.AddStage(NewFilterStage(id, filter, deps, opts...))
}

// AddSquash adds a squash fold stage.
func (b *Builder) AddSquash(id string, squasher *gosquash.Squasher, deps []string, opts ...StageOption) *Builder {
	return b.AddStage(NewSquashStage(id, squasher, deps, opts...))
}

// AddGroupBy adds a grouped-aggregation stage.
func (b *Builder) AddGroupBy(id string, groupBy *aggregate.GroupBy, deps []string, opts ...StageOption) *Builder {
	return b.AddStage(NewGroupByStage(id, groupBy, deps, opts...))
}

// AddGate adds a batch quality gate stage.
func (b *Builder) AddGate(id string, validator *validators.DataQualityValidator, deps []string, opts ...StageOption) *Builder {
	return b.AddStage(NewGateStage(id, validator, deps, opts...))
}

// AddSink adds a stage writing records to a DataSink.
func (b *Builder) AddSink(id string, sink core.DataSink, deps []string, opts ...StageOption) *Builder {
	return b.AddStage(NewSinkStage(id, sink, deps, opts...))
}

// AddFunc adds a stage running a batch function.
func (b *Builder) AddFunc(id string, fn StageFunc, deps []string, opts ...StageOption) *Builder {
	return b.AddStage(NewFuncStage(id, fn, deps, opts...))
}

// Build validates and returns the flow.
func (b *Builder) Build() (*Flow, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.flow.stages) == 0 {
		return nil, &FlowError{Op: "build", Err: fmt.Errorf("flow has no stages")}
	}
	if err := b.flow.Validate(); err != nil {
		return nil, err
	}
	return b.flow, nil
}

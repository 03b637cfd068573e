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

// stages.go - Stage interface and the built-in stage implementations
package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aaronlmathis/gosquash"
	"github.com/aaronlmathis/gosquash/aggregate"
	"github.com/aaronlmathis/gosquash/core"
	"github.com/aaronlmathis/gosquash/validators"
)

// TriggerRule decides whether a stage runs based on its dependencies'
// outcomes. A skipped dependency counts as done but neither succeeded
// nor failed.
type TriggerRule string

const (
	// TriggerAllSuccess runs the stage only when every dependency
	// succeeded. This is the default.
	TriggerAllSuccess TriggerRule = "all_success"
	// TriggerAllDone runs the stage once every dependency finished,
	// regardless of outcome.
	TriggerAllDone TriggerRule = "all_done"
	// TriggerOneSuccess runs the stage when at least one dependency
	// succeeded.
	TriggerOneSuccess TriggerRule = "one_success"
	// TriggerOneFailed runs the stage when at least one dependency
	// failed. Pairs with a quarantine or alerting sink.
	TriggerOneFailed TriggerRule = "one_failed"
	// TriggerNoneFailed runs the stage when no dependency failed,
	// accepting skipped dependencies.
	TriggerNoneFailed TriggerRule = "none_failed"
)

// StageConfig carries the execution knobs shared by every stage.
type StageConfig struct {
	Retry   *RetryConfig
	Timeout time.Duration
	Trigger TriggerRule
}

// StageOption configures a stage at construction.
type StageOption func(*StageConfig)

// WithRetries sets a simple retry policy: up to max retries with a
// fixed delay between attempts. Stages that write to external systems
// should only retry when the target tolerates replay.
func WithRetries(max int, backoff time.Duration) StageOption {
	return func(cfg *StageConfig) {
		cfg.Retry = &RetryConfig{MaxRetries: max, Backoff: backoff}
	}
}

// WithRetryConfig sets a full retry policy, including a backoff
// strategy and an error allowlist.
func WithRetryConfig(rc *RetryConfig) StageOption {
	return func(cfg *StageConfig) {
		cfg.Retry = rc
	}
}

// WithTimeout bounds a single attempt of the stage. A timed-out attempt
// counts as a failure and is retried under the stage's retry policy.
func WithTimeout(d time.Duration) StageOption {
	return func(cfg *StageConfig) {
		cfg.Timeout = d
	}
}

// WithTrigger sets the stage's trigger rule.
func WithTrigger(rule TriggerRule) StageOption {
	return func(cfg *StageConfig) {
		cfg.Trigger = rule
	}
}

// StageInput carries the records and run context a stage executes
// against. Records concatenates dependency outputs in declared
// dependency order; BySource keeps them separate for stages that care
// which dependency produced what. Failed and skipped dependencies
// contribute no records.
type StageInput struct {
	RunID    string
	Records  []core.Record
	BySource map[string][]core.Record
	Results  map[string]StageResult
}

// StageOutput carries the records a stage hands downstream.
type StageOutput struct {
	Records []core.Record
}

// Stage is one node of a Flow. Implementations other than the built-in
// stages can be registered through Builder.AddStage.
type Stage interface {
	ID() string
	Dependencies() []string
	Config() StageConfig
	Run(ctx context.Context, input StageInput) (StageOutput, error)
}

// baseStage carries the identity and config shared by the built-in
// stages.
type baseStage struct {
	id   string
	deps []string
	cfg  StageConfig
}

func newBaseStage(id string, deps []string, opts []StageOption) baseStage {
	b := baseStage{id: id, deps: append([]string(nil), deps...)}
	for _, opt := range opts {
		opt(&b.cfg)
	}
	return b
}

func (b *baseStage) ID() string             { return b.id }
func (b *baseStage) Dependencies() []string { return b.deps }
func (b *baseStage) Config() StageConfig    { return b.cfg }

// SourceStage reads every record from a DataSource. The source's
// lifecycle stays with its creator; the stage never closes it.
type SourceStage struct {
	baseStage
	source core.DataSource
}

// NewSourceStage creates a stage reading all records from source.
func NewSourceStage(id string, source core.DataSource, opts ...StageOption) *SourceStage {
	return &SourceStage{baseStage: newBaseStage(id, nil, opts), source: source}
}

func (s *SourceStage) Run(ctx context.Context, input StageInput) (StageOutput, error) {
	var records []core.Record
	for {
		select {
		case <-ctx.Done():
			return StageOutput{}, ctx.Err()
		default:
		}

		record, err := s.source.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return StageOutput{}, fmt.Errorf("source read: %w", err)
		}
		records = append(records, record)
	}
	return StageOutput{Records: records}, nil
}

// TransformStage applies a Transformer to each record in input order.
// Empty transformed records are dropped, matching Pipeline semantics.
type TransformStage struct {
	baseStage
	transformer core.Transformer
}

// NewTransformStage creates a per-record transformation stage.
func NewTransformStage(id string, transformer core.Transformer, deps []string, opts ...StageOption) *TransformStage {
	return &TransformStage{baseStage: newBaseStage(id, deps, opts), transformer: transformer}
}

func (s *TransformStage) Run(ctx context.Context, input StageInput) (StageOutput, error) {
	records := make([]core.Record, 0, len(input.Records))
	for _, record := range input.Records {
		select {
		case <-ctx.Done():
			return StageOutput{}, ctx.Err()
		default:
		}

		transformed, err := s.transformer.Transform(ctx, record)
		if err != nil {
			return StageOutput{}, fmt.Errorf("transform: %w", err)
		}
		if len(transformed) == 0 {
			continue
		}
		records = append(records, transformed)
	}
	return StageOutput{Records: records}, nil
}

// FilterStage keeps the records its Filter includes, preserving order.
type FilterStage struct {
	baseStage
	filter core.Filter
}

// NewFilterStage creates a filtering stage.
func NewFilterStage(id string, filter core.Filter, deps []string, opts ...StageOption) *FilterStage {
	return &FilterStage{baseStage: newBaseStage(id, deps, opts), filter: filter}
}

func (s *FilterStage) Run(ctx context.Context, input StageInput) (StageOutput, error) {
	var records []core.Record
	for _, record := range input.Records {
		select {
		case <-ctx.Done():
			return StageOutput{}, ctx.Err()
		default:
		}

		include, err := s.filter.ShouldInclude(ctx, record)
		if err != nil {
			return StageOutput{}, fmt.Errorf("filter: %w", err)
		}
		if include {
			records = append(records, record)
		}
	}
	return StageOutput{Records: records}, nil
}

// SquashStage folds its input through a Squasher and emits the squashed
// current state. Records are folded in input order, preserving the
// ordering contract. The stage snapshots rather than drains, so a
// squasher backed by a persistent store accumulates state across runs
// and each run emits the full current state.
type SquashStage struct {
	baseStage
	squasher *gosquash.Squasher
}

// NewSquashStage creates a stage folding records through squasher.
func NewSquashStage(id string, squasher *gosquash.Squasher, deps []string, opts ...StageOption) *SquashStage {
	return &SquashStage{baseStage: newBaseStage(id, deps, opts), squasher: squasher}
}

func (s *SquashStage) Run(ctx context.Context, input StageInput) (StageOutput, error) {
	for _, record := range input.Records {
		select {
		case <-ctx.Done():
			return StageOutput{}, ctx.Err()
		default:
		}

		if err := s.squasher.Write(ctx, record); err != nil {
			return StageOutput{}, fmt.Errorf("squash: %w", err)
		}
	}

	records, err := s.squasher.Snapshot(ctx)
	if err != nil {
		return StageOutput{}, fmt.Errorf("squash snapshot: %w", err)
	}
	return StageOutput{Records: records}, nil
}

// GroupByStage runs its input through a GroupBy aggregation and emits
// one record per group.
type GroupByStage struct {
	baseStage
	groupBy *aggregate.GroupBy
}

// NewGroupByStage creates a grouped-aggregation stage.
func NewGroupByStage(id string, groupBy *aggregate.GroupBy, deps []string, opts ...StageOption) *GroupByStage {
	return &GroupByStage{baseStage: newBaseStage(id, deps, opts), groupBy: groupBy}
}

func (s *GroupByStage) Run(ctx context.Context, input StageInput) (StageOutput, error) {
	ch := make(chan core.Record, len(input.Records))
	for _, record := range input.Records {
		ch <- record
	}
	close(ch)

	records, err := s.groupBy.Process(ctx, ch)
	if err != nil {
		return StageOutput{}, fmt.Errorf("group by: %w", err)
	}
	return StageOutput{Records: records}, nil
}

// GateStage evaluates a batch quality validator against its input and
// fails when the batch is rejected. On success records pass through
// unchanged, so a gate sits between a squash stage and its sinks.
// Downstream stages with TriggerOneFailed form the failure path.
type GateStage struct {
	baseStage
	validator *validators.DataQualityValidator
}

// NewGateStage creates a quality gate stage.
func NewGateStage(id string, validator *validators.DataQualityValidator, deps []string, opts ...StageOption) *GateStage {
	return &GateStage{baseStage: newBaseStage(id, deps, opts), validator: validator}
}

func (s *GateStage) Run(ctx context.Context, input StageInput) (StageOutput, error) {
	ok, err := s.validator.Evaluate(ctx, input.Records)
	if err != nil {
		return StageOutput{}, fmt.Errorf("quality gate: %w", err)
	}
	if !ok {
		return StageOutput{}, errors.New("quality gate rejected batch")
	}
	return StageOutput{Records: input.Records}, nil
}

// SinkStage writes every input record to a DataSink and flushes it.
// The sink is not closed; its lifecycle stays with its creator. Sinks
// produce no output records.
type SinkStage struct {
	baseStage
	sink core.DataSink
}

// NewSinkStage creates a stage writing records to sink.
func NewSinkStage(id string, sink core.DataSink, deps []string, opts ...StageOption) *SinkStage {
	return &SinkStage{baseStage: newBaseStage(id, deps, opts), sink: sink}
}

func (s *SinkStage) Run(ctx context.Context, input StageInput) (StageOutput, error) {
	for _, record := range input.Records {
		select {
		case <-ctx.Done():
			return StageOutput{}, ctx.Err()
		default:
		}

		if err := s.sink.Write(ctx, record); err != nil {
			return StageOutput{}, fmt.Errorf("sink write: %w", err)
		}
	}
	if err := s.sink.Flush(); err != nil {
		return StageOutput{}, fmt.Errorf("sink flush: %w", err)
	}
	return StageOutput{}, nil
}

// StageFunc is a batch-level function usable as a stage body. It
// receives the full StageInput, so it can inspect per-dependency
// batches through BySource.
type StageFunc func(ctx context.Context, input StageInput) ([]core.Record, error)

// FuncStage runs an arbitrary batch function. It is the extension point
// for one-off steps such as diffing a fresh snapshot against the
// previous one or enriching records from a lookup table.
type FuncStage struct {
	baseStage
	fn StageFunc
}

// NewFuncStage creates a stage from a batch function.
func NewFuncStage(id string, fn StageFunc, deps []string, opts ...StageOption) *FuncStage {
	return &FuncStage{baseStage: newBaseStage(id, deps, opts), fn: fn}
}

func (s *FuncStage) Run(ctx context.Context, input StageInput) (StageOutput, error) {
	records, err := s.fn(ctx, input)
	if err != nil {
		return StageOutput{}, err
	}
	return StageOutput{Records: records}, nil
}

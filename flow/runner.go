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

// runner.go - Level-parallel flow execution with retries and trigger rules
package flow

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/gosquash/core"
)

// StageStatus is the terminal state of one stage within a run.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	// StageSkipped marks a stage whose trigger rule was not satisfied.
	StageSkipped StageStatus = "skipped"
)

// StageResult records the outcome of one stage.
type StageResult struct {
	StageID    string
	Status     StageStatus
	StartTime  time.Time
	EndTime    time.Time
	Attempts   int
	RecordsIn  int64
	RecordsOut int64
	Err        error
}

// RunResult records the outcome of one flow run. Stages holds a result
// for every stage the run reached.
type RunResult struct {
	RunID     string
	FlowID    string
	Success   bool
	StartTime time.Time
	EndTime   time.Time
	Stages    map[string]StageResult
	Err       error
}

// Runner executes flows level by level. A single Runner can execute any
// number of flows; per-run state never leaks between executions.
type Runner struct {
	maxWorkers int
	backoff    BackoffStrategy
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxWorkers bounds how many stages of one level run concurrently.
func WithMaxWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxWorkers = n
		}
	}
}

// WithBackoffStrategy sets the retry delay strategy used for stages
// whose own retry config does not carry one.
func WithBackoffStrategy(strategy BackoffStrategy) RunnerOption {
	return func(r *Runner) {
		if strategy != nil {
			r.backoff = strategy
		}
	}
}

// NewRunner creates a Runner defaulting to one worker per CPU and
// exponential backoff from one second up to one minute.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		maxWorkers: runtime.NumCPU(),
		backoff:    &ExponentialBackoff{BaseDelay: time.Second, MaxDelay: time.Minute},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// runState holds the shared outputs and results of one run.
type runState struct {
	runID   string
	outputs map[string][]core.Record
	results map[string]StageResult
	mu      sync.RWMutex
}

func (st *runState) finish(res StageResult, output []core.Record) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.results[res.StageID] = res
	if res.Status == StageSucceeded {
		st.outputs[res.StageID] = output
	}
}

// Execute runs the flow to completion. A stage failure does not stop
// the run: later levels still execute so failure-path stages can fire,
// and the returned error is the first failure in topological order.
// Only context cancellation aborts the run early.
func (r *Runner) Execute(ctx context.Context, f *Flow) (*RunResult, error) {
	order, err := f.sortStages()
	if err != nil {
		return nil, err
	}

	st := &runState{
		runID:   uuid.NewString(),
		outputs: make(map[string][]core.Record, len(order)),
		results: make(map[string]StageResult, len(order)),
	}
	result := &RunResult{
		RunID:     st.runID,
		FlowID:    f.id,
		StartTime: time.Now(),
		Stages:    st.results,
	}

	for _, level := range f.levels(order) {
		if err := r.runLevel(ctx, st, f, level); err != nil {
			result.EndTime = time.Now()
			result.Err = err
			return result, err
		}
	}

	result.EndTime = time.Now()
	for _, id := range order {
		if res, ok := st.results[id]; ok && res.Status == StageFailed {
			result.Err = res.Err
			break
		}
	}
	result.Success = result.Err == nil
	return result, result.Err
}

func (r *Runner) runLevel(ctx context.Context, st *runState, f *Flow, level []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxWorkers)
	for _, id := range level {
		stage := f.stages[id]
		g.Go(func() error {
			return r.runStage(gctx, st, stage)
		})
	}
	return g.Wait()
}

// runStage executes one stage with retries. Stage errors are recorded
// in the run state rather than returned; the returned error is non-nil
// only when the run should abort.
func (r *Runner) runStage(ctx context.Context, st *runState, stage Stage) error {
	id := stage.ID()
	cfg := stage.Config()

	if !r.shouldRun(st, stage) {
		st.finish(StageResult{StageID: id, Status: StageSkipped}, nil)
		return nil
	}

	input := r.prepareInput(st, stage)

	res := StageResult{
		StageID:   id,
		StartTime: time.Now(),
		RecordsIn: int64(len(input.Records)),
	}

	maxRetries := 0
	if cfg.Retry != nil {
		maxRetries = cfg.Retry.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		res.Attempts = attempt + 1

		output, err := r.runOnce(ctx, stage, cfg, input)
		if err == nil {
			res.Status = StageSucceeded
			res.EndTime = time.Now()
			res.RecordsOut = int64(len(output.Records))
			st.finish(res, output.Records)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == maxRetries || !shouldRetry(err, cfg.Retry) {
			break
		}

		select {
		case <-time.After(r.retryDelay(cfg, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	res.Status = StageFailed
	res.EndTime = time.Now()
	res.Err = &FlowError{Op: "run", Stage: id, Err: lastErr}
	st.finish(res, nil)
	return nil
}

// runOnce performs a single attempt under the stage's timeout.
func (r *Runner) runOnce(ctx context.Context, stage Stage, cfg StageConfig, input StageInput) (StageOutput, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	return stage.Run(ctx, input)
}

// shouldRun evaluates the stage's trigger rule against its
// dependencies' results. Level ordering guarantees every dependency
// already has a result by the time the stage is considered.
func (r *Runner) shouldRun(st *runState, stage Stage) bool {
	deps := stage.Dependencies()
	if len(deps) == 0 {
		return true
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	succeeded, failed := 0, 0
	for _, dep := range deps {
		switch st.results[dep].Status {
		case StageSucceeded:
			succeeded++
		case StageFailed:
			failed++
		}
	}

	switch stage.Config().Trigger {
	case TriggerAllDone:
		return true
	case TriggerOneSuccess:
		return succeeded > 0
	case TriggerOneFailed:
		return failed > 0
	case TriggerNoneFailed:
		return failed == 0
	default:
		return succeeded == len(deps)
	}
}

// prepareInput gathers dependency outputs in declared dependency order.
func (r *Runner) prepareInput(st *runState, stage Stage) StageInput {
	st.mu.RLock()
	defer st.mu.RUnlock()

	input := StageInput{
		RunID:    st.runID,
		BySource: make(map[string][]core.Record),
		Results:  make(map[string]StageResult),
	}
	for _, dep := range stage.Dependencies() {
		if output, exists := st.outputs[dep]; exists {
			input.Records = append(input.Records, output...)
			input.BySource[dep] = output
		}
		if res, exists := st.results[dep]; exists {
			input.Results[dep] = res
		}
	}
	return input
}

// retryDelay prefers the stage's own backoff and falls back to the
// runner's strategy.
func (r *Runner) retryDelay(cfg StageConfig, attempt int) time.Duration {
	if cfg.Retry != nil && (cfg.Retry.Strategy != nil || cfg.Retry.Backoff > 0) {
		return cfg.Retry.GetDelay(attempt)
	}
	return r.backoff.Delay(attempt)
}

// shouldRetry reports whether the error is retryable under the config.
// An empty RetryOn list retries every error.
func shouldRetry(err error, rc *RetryConfig) bool {
	if rc == nil || len(rc.RetryOn) == 0 {
		return true
	}
	for _, target := range rc.RetryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

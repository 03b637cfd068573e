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

package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gosquash/core"
)

// passthrough builds a no-op stage for wiring tests.
func passthrough(id string, deps ...string) Stage {
	return NewFuncStage(id, func(ctx context.Context, input StageInput) ([]core.Record, error) {
		return input.Records, nil
	}, deps)
}

func TestFlowBuilder_BuildValidFlow(t *testing.T) {
	f, err := NewFlow("squash-pages", "Squash page revisions").
		AddStage(passthrough("extract")).
		AddStage(passthrough("fold", "extract")).
		AddStage(passthrough("load", "fold")).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "squash-pages", f.ID())
	assert.Equal(t, "Squash page revisions", f.Name())
	assert.Equal(t, []string{"extract", "fold", "load"}, f.StageIDs())
	assert.Equal(t, []string{"fold"}, f.Dependencies("load"))
	assert.Empty(t, f.Dependencies("extract"))
}

func TestFlowBuilder_DuplicateStageID(t *testing.T) {
	_, err := NewFlow("dup", "duplicate ids").
		AddStage(passthrough("extract")).
		AddStage(passthrough("extract")).
		Build()
	require.Error(t, err)

	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, "build", flowErr.Op)
	assert.Equal(t, "extract", flowErr.Stage)
}

func TestFlowBuilder_UnknownDependency(t *testing.T) {
	_, err := NewFlow("missing", "missing dependency").
		AddStage(passthrough("load", "fold")).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage fold")
}

func TestFlowBuilder_CycleDetected(t *testing.T) {
	_, err := NewFlow("cycle", "cyclic flow").
		AddStage(passthrough("a", "b")).
		AddStage(passthrough("b", "a")).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestFlowBuilder_EmptyFlow(t *testing.T) {
	_, err := NewFlow("empty", "no stages").Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stages")
}

func TestFlow_SortStagesDeterministic(t *testing.T) {
	// Diamond: extract feeds two parallel branches joined by load.
	f, err := NewFlow("diamond", "diamond shape").
		AddStage(passthrough("load", "left", "right")).
		AddStage(passthrough("right", "extract")).
		AddStage(passthrough("left", "extract")).
		AddStage(passthrough("extract")).
		Build()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		order, err := f.sortStages()
		require.NoError(t, err)
		assert.Equal(t, []string{"extract", "left", "right", "load"}, order)
	}
}

func TestFlow_Levels(t *testing.T) {
	f, err := NewFlow("diamond", "diamond shape").
		AddStage(passthrough("extract")).
		AddStage(passthrough("left", "extract")).
		AddStage(passthrough("right", "extract")).
		AddStage(passthrough("load", "left", "right")).
		Build()
	require.NoError(t, err)

	order, err := f.sortStages()
	require.NoError(t, err)

	levels := f.levels(order)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"extract"}, levels[0])
	assert.ElementsMatch(t, []string{"left", "right"}, levels[1])
	assert.Equal(t, []string{"load"}, levels[2])
}

func TestBackoffStrategies(t *testing.T) {
	t.Run("exponential doubles and caps", func(t *testing.T) {
		eb := &ExponentialBackoff{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
		assert.Equal(t, time.Second, eb.Delay(0))
		assert.Equal(t, 2*time.Second, eb.Delay(1))
		assert.Equal(t, 4*time.Second, eb.Delay(2))
		assert.Equal(t, 5*time.Second, eb.Delay(3))
	})

	t.Run("linear waits on the first retry", func(t *testing.T) {
		lb := &LinearBackoff{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
		assert.Equal(t, time.Second, lb.Delay(0))
		assert.Equal(t, 2*time.Second, lb.Delay(1))
		assert.Equal(t, 3*time.Second, lb.Delay(2))
		assert.Equal(t, 3*time.Second, lb.Delay(5))
	})

	t.Run("fixed is constant", func(t *testing.T) {
		fb := &FixedBackoff{FixedDelay: 250 * time.Millisecond}
		assert.Equal(t, 250*time.Millisecond, fb.Delay(0))
		assert.Equal(t, 250*time.Millisecond, fb.Delay(7))
	})

	t.Run("jittered stays within bounds", func(t *testing.T) {
		jb := &JitteredBackoff{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.5}
		for i := 0; i < 20; i++ {
			delay := jb.Delay(0)
			assert.GreaterOrEqual(t, delay, 75*time.Millisecond)
			assert.LessOrEqual(t, delay, 125*time.Millisecond)
		}
	})

	t.Run("no backoff is immediate", func(t *testing.T) {
		nb := &NoBackoff{}
		assert.Equal(t, time.Duration(0), nb.Delay(3))
	})

	t.Run("retry config prefers its strategy", func(t *testing.T) {
		rc := &RetryConfig{
			Backoff:  time.Minute,
			Strategy: &FixedBackoff{FixedDelay: time.Millisecond},
		}
		assert.Equal(t, time.Millisecond, rc.GetDelay(0))

		rc.Strategy = nil
		assert.Equal(t, time.Minute, rc.GetDelay(0))
	})
}

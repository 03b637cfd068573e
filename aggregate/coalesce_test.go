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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gosquash/core"
)

// TestCoalesceAggregator_LastNonNullWins tests the core folding rule over a
// revision stream: non-null values overwrite, nulls are no-ops.
func TestCoalesceAggregator_LastNonNullWins(t *testing.T) {
	ctx := context.Background()
	agg := &CoalesceAggregator{Field: "title"}

	records := []core.Record{
		{"title": nil},
		{"title": "Draft"},
		{"other": "no title key at all"},
		{"title": "Final"},
		{"title": nil},
	}
	for _, record := range records {
		require.NoError(t, agg.Add(ctx, record))
	}

	result, err := agg.Result()
	require.NoError(t, err)
	assert.Equal(t, core.Record{"coalesce": "Final"}, result)
}

func TestCoalesceAggregator_AllNullYieldsNil(t *testing.T) {
	ctx := context.Background()
	agg := &CoalesceAggregator{Field: "content"}

	require.NoError(t, agg.Add(ctx, core.Record{"content": nil}))
	require.NoError(t, agg.Add(ctx, core.Record{}))

	result, err := agg.Result()
	require.NoError(t, err)
	assert.Equal(t, core.Record{"coalesce": nil}, result)
}

func TestCoalesceAggregator_EmptyGroupYieldsNil(t *testing.T) {
	agg := &CoalesceAggregator{Field: "content"}

	result, err := agg.Result()
	require.NoError(t, err)
	assert.Nil(t, result["coalesce"])
}

func TestCoalesceAggregator_Reset(t *testing.T) {
	ctx := context.Background()
	agg := &CoalesceAggregator{Field: "v"}

	require.NoError(t, agg.Add(ctx, core.Record{"v": 42}))
	agg.Reset()

	result, err := agg.Result()
	require.NoError(t, err)
	assert.Nil(t, result["coalesce"])
}

func TestCoalesceAggregator_CloneIsIndependent(t *testing.T) {
	ctx := context.Background()
	prototype := &CoalesceAggregator{Field: "v"}
	require.NoError(t, prototype.Add(ctx, core.Record{"v": "seen"}))

	clone := prototype.Clone()
	result, err := clone.Result()
	require.NoError(t, err)
	assert.Nil(t, result["coalesce"], "clone must start from empty state")

	require.NoError(t, clone.Add(ctx, core.Record{"v": "other"}))
	protoResult, err := prototype.Result()
	require.NoError(t, err)
	assert.Equal(t, "seen", protoResult["coalesce"], "clone state must not leak into prototype")
}

// TestCoalesceAggregator_FalseyValuesArePresent guards against truthiness
// bugs: zero, false, and empty string are real values, only nil is null.
func TestCoalesceAggregator_FalseyValuesArePresent(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
	}{
		{"zero_int", 0},
		{"false_bool", false},
		{"empty_string", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			agg := &CoalesceAggregator{Field: "v"}
			require.NoError(t, agg.Add(ctx, core.Record{"v": "before"}))
			require.NoError(t, agg.Add(ctx, core.Record{"v": tt.value}))

			result, err := agg.Result()
			require.NoError(t, err)
			assert.Equal(t, tt.value, result["coalesce"])
		})
	}
}

func TestFirstAggregator_KeepsFirstNonNull(t *testing.T) {
	ctx := context.Background()
	agg := &FirstAggregator{Field: "editor"}

	require.NoError(t, agg.Add(ctx, core.Record{"editor": nil}))
	require.NoError(t, agg.Add(ctx, core.Record{"editor": "alice"}))
	require.NoError(t, agg.Add(ctx, core.Record{"editor": "bob"}))

	result, err := agg.Result()
	require.NoError(t, err)
	assert.Equal(t, "alice", result["first"])
}

func TestLastAggregator_TrailingNullErases(t *testing.T) {
	ctx := context.Background()
	last := &LastAggregator{Field: "v"}
	coalesce := &CoalesceAggregator{Field: "v"}

	records := []core.Record{{"v": "kept"}, {"v": nil}}
	for _, record := range records {
		require.NoError(t, last.Add(ctx, record))
		require.NoError(t, coalesce.Add(ctx, record))
	}

	lastResult, err := last.Result()
	require.NoError(t, err)
	assert.Nil(t, lastResult["last"], "last treats null as a real revision")

	coalesceResult, err := coalesce.Result()
	require.NoError(t, err)
	assert.Equal(t, "kept", coalesceResult["coalesce"], "coalesce skips the null")
}

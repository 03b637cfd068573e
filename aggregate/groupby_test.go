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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gosquash/core"
)

func recordChan(records ...core.Record) <-chan core.Record {
	ch := make(chan core.Record, len(records))
	for _, record := range records {
		ch <- record
	}
	close(ch)
	return ch
}

// revisionLog is a small page-revision history shared by several tests.
// Page 1 sees its title revised and content nulled-then-set; page 2 only
// ever has null content.
func revisionLog() []core.Record {
	return []core.Record{
		{"page_id": 1, "title": "Home", "content": nil},
		{"page_id": 2, "title": "About", "content": nil},
		{"page_id": 1, "title": nil, "content": "Welcome!"},
		{"page_id": 1, "title": "Home v2", "content": nil},
		{"page_id": 2, "title": nil, "content": nil},
	}
}

func TestGroupBy_CoalesceRevisions(t *testing.T) {
	ctx := context.Background()

	results, err := NewGroupBy("page_id").
		Coalesce("title", "title").
		Coalesce("content", "content").
		Count("revisions").
		Process(ctx, recordChan(revisionLog()...))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, core.Record{
		"page_id":   1,
		"title":     "Home v2",
		"content":   "Welcome!",
		"revisions": 3,
	}, results[0])

	assert.Equal(t, core.Record{
		"page_id":   2,
		"title":     "About",
		"content":   nil,
		"revisions": 2,
	}, results[1])
}

// TestGroupBy_RestoresRealKeyValues ensures emitted records carry the actual
// group key values, including non-string and null keys.
func TestGroupBy_RestoresRealKeyValues(t *testing.T) {
	ctx := context.Background()

	results, err := NewGroupBy("tenant", "page_id").
		Count("n").
		Process(ctx, recordChan(
			core.Record{"tenant": "acme", "page_id": 7},
			core.Record{"tenant": "acme", "page_id": 7},
			core.Record{"tenant": nil, "page_id": 7},
		))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "acme", results[0]["tenant"])
	assert.Equal(t, 7, results[0]["page_id"])
	assert.Equal(t, 2, results[0]["n"])

	assert.Nil(t, results[1]["tenant"])
	assert.Equal(t, 7, results[1]["page_id"])
	assert.Equal(t, 1, results[1]["n"])
}

func TestGroupBy_FirstSeenOrder(t *testing.T) {
	ctx := context.Background()

	results, err := NewGroupBy("k").
		Count("n").
		Process(ctx, recordChan(
			core.Record{"k": "c"},
			core.Record{"k": "a"},
			core.Record{"k": "c"},
			core.Record{"k": "b"},
		))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "c", results[0]["k"])
	assert.Equal(t, "a", results[1]["k"])
	assert.Equal(t, "b", results[2]["k"])
}

// TestGroupBy_KeyEncodingKeepsTuplesDistinct guards the escape-join encoding:
// key values containing separator bytes, nulls, missing fields, and empty
// strings must never merge distinct groups.
func TestGroupBy_KeyEncodingKeepsTuplesDistinct(t *testing.T) {
	ctx := context.Background()

	results, err := NewGroupBy("a", "b").
		Count("n").
		Process(ctx, recordChan(
			core.Record{"a": "x" + groupKeySep + "y", "b": "z"},
			core.Record{"a": "x", "b": "y" + groupKeySep + "z"},
			core.Record{"a": "", "b": ""},
			core.Record{"a": nil, "b": ""},
			core.Record{"b": ""},
		))
	require.NoError(t, err)
	assert.Len(t, results, 5, "every record forms its own group")
}

func TestGroupBy_NumericAggregators(t *testing.T) {
	ctx := context.Background()

	results, err := NewGroupBy("page_id").
		Sum("bytes", "total_bytes").
		Avg("bytes", "avg_bytes").
		Min("bytes", "min_bytes").
		Max("bytes", "max_bytes").
		Process(ctx, recordChan(
			core.Record{"page_id": 1, "bytes": 100},
			core.Record{"page_id": 1, "bytes": 300},
			core.Record{"page_id": 1, "bytes": nil},
		))
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, float64(400), results[0]["total_bytes"])
	assert.Equal(t, float64(200), results[0]["avg_bytes"])
	assert.Equal(t, 100, results[0]["min_bytes"])
	assert.Equal(t, 300, results[0]["max_bytes"])
}

func TestGroupBy_EmptyInput(t *testing.T) {
	ctx := context.Background()

	results, err := NewGroupBy("k").Count("n").Process(ctx, recordChan())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGroupBy_AggByRegisteredName(t *testing.T) {
	ctx := context.Background()

	results, err := NewGroupBy("page_id").
		Agg("coalesce", "title", "title").
		Agg("count", "", "n").
		Process(ctx, recordChan(
			core.Record{"page_id": 1, "title": "A"},
			core.Record{"page_id": 1, "title": nil},
		))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0]["title"])
	assert.Equal(t, 2, results[0]["n"])
}

func TestGroupBy_AggUnknownNameFailsProcess(t *testing.T) {
	ctx := context.Background()

	_, err := NewGroupBy("k").
		Agg("median", "v", "out").
		Process(ctx, recordChan(core.Record{"k": 1, "v": 2}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "median")
}

type noCloneAggregator struct{}

func (n *noCloneAggregator) Add(ctx context.Context, record core.Record) error { return nil }

func (n *noCloneAggregator) Result() (core.Record, error) { return core.Record{}, nil }

func (n *noCloneAggregator) Reset() {}

func TestGroupBy_CustomRequiresCloner(t *testing.T) {
	ctx := context.Background()

	_, err := NewGroupBy("k").
		Custom("out", &noCloneAggregator{}).
		Process(ctx, recordChan(core.Record{"k": 1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Clone")
}

func TestGroupBy_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unclosed channel: only cancellation can end Process.
	ch := make(chan core.Record)
	_, err := NewGroupBy("k").Count("n").Process(ctx, ch)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestGroupBy_ParallelMatchesSequential folds the same revision stream with
// 1, 2, 4, and 8 workers and requires identical output: per-group order is
// preserved across shards and group emit order stays first-seen.
func TestGroupBy_ParallelMatchesSequential(t *testing.T) {
	var log []core.Record
	for i := 0; i < 200; i++ {
		page := i % 17
		var title interface{}
		if i%3 != 0 {
			title = fmt.Sprintf("title-%d-%d", page, i)
		}
		log = append(log, core.Record{"page_id": page, "title": title, "n": i})
	}

	build := func(workers int) ([]core.Record, error) {
		return NewGroupBy("page_id").
			WithWorkers(workers).
			Coalesce("title", "title").
			Count("revisions").
			Max("n", "last_n").
			Process(context.Background(), recordChan(log...))
	}

	want, err := build(1)
	require.NoError(t, err)
	require.Len(t, want, 17)

	for _, workers := range []int{2, 4, 8} {
		t.Run(fmt.Sprintf("workers_%d", workers), func(t *testing.T) {
			got, err := build(workers)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestGroupBy_ParallelContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan core.Record)
	_, err := NewGroupBy("k").WithWorkers(4).Count("n").Process(ctx, ch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_BuiltinsPresent(t *testing.T) {
	names := Aggregates()
	for _, want := range []string{"avg", "coalesce", "count", "first", "last", "max", "min", "sum"} {
		assert.Contains(t, names, want)
	}
}

func TestRegistry_NewUnknown(t *testing.T) {
	_, err := New("nope", "field")
	require.Error(t, err)
}

func TestRegistry_RegisterCustom(t *testing.T) {
	Register("always42", func(field string) Aggregator {
		return &constAggregator{value: 42}
	})

	agg, err := New("always42", "ignored")
	require.NoError(t, err)

	result, err := agg.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, result["value"])
}

type constAggregator struct {
	value int
}

func (c *constAggregator) Add(ctx context.Context, record core.Record) error { return nil }

func (c *constAggregator) Result() (core.Record, error) {
	return core.Record{"value": c.value}, nil
}

func (c *constAggregator) Reset() {}

func (c *constAggregator) Clone() Aggregator { return &constAggregator{value: c.value} }

func BenchmarkGroupBy_CoalesceSequential(b *testing.B) {
	var log []core.Record
	for i := 0; i < 5000; i++ {
		log = append(log, core.Record{"page_id": i % 100, "title": fmt.Sprintf("t%d", i)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := NewGroupBy("page_id").
			Coalesce("title", "title").
			Process(context.Background(), recordChan(log...))
		if err != nil {
			b.Fatal(err)
		}
	}
}

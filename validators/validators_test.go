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

package validators

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gosquash/core"
)

func TestRequiredFields_RejectsAbsentAndNull(t *testing.T) {
	v := RequiredFields("page_id", "seq")
	ctx := context.Background()

	out, err := v.Transform(ctx, core.Record{"page_id": 1, "seq": 2, "title": nil})
	require.NoError(t, err)
	assert.Equal(t, 1, out["page_id"])

	_, err = v.Transform(ctx, core.Record{"page_id": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field seq")

	_, err = v.Transform(ctx, core.Record{"page_id": nil, "seq": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null required field page_id")
}

func TestMonotonicSequence_PerKey(t *testing.T) {
	v := MonotonicSequence("seq", "page_id")
	ctx := context.Background()

	// Independent sequences per page.
	_, err := v.Transform(ctx, core.Record{"page_id": 1, "seq": 1})
	require.NoError(t, err)
	_, err = v.Transform(ctx, core.Record{"page_id": 2, "seq": 1})
	require.NoError(t, err)
	_, err = v.Transform(ctx, core.Record{"page_id": 1, "seq": 2})
	require.NoError(t, err)

	// Regression within a page fails.
	_, err = v.Transform(ctx, core.Record{"page_id": 1, "seq": 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSequenceRegression)

	// Other pages are unaffected by the failure.
	_, err = v.Transform(ctx, core.Record{"page_id": 2, "seq": 5})
	require.NoError(t, err)
}

func TestMonotonicSequence_Global(t *testing.T) {
	v := MonotonicSequence("seq")
	ctx := context.Background()

	_, err := v.Transform(ctx, core.Record{"seq": int64(10)})
	require.NoError(t, err)
	_, err = v.Transform(ctx, core.Record{"seq": int64(7)})
	assert.ErrorIs(t, err, ErrSequenceRegression)
}

func TestMonotonicSequence_Timestamps(t *testing.T) {
	v := MonotonicSequence("edited_at", "page_id")
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := v.Transform(ctx, core.Record{"page_id": 1, "edited_at": base})
	require.NoError(t, err)
	_, err = v.Transform(ctx, core.Record{"page_id": 1, "edited_at": base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = v.Transform(ctx, core.Record{"page_id": 1, "edited_at": base.Add(-time.Hour)})
	assert.ErrorIs(t, err, ErrSequenceRegression)
}

func TestMonotonicSequence_MissingSequenceField(t *testing.T) {
	v := MonotonicSequence("seq")

	_, err := v.Transform(context.Background(), core.Record{"page_id": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null or missing")
}

func TestNullRate_EnforcesAfterMinSample(t *testing.T) {
	v := NullRate("content", 0.4)
	ctx := context.Background()

	// Absent and null both count, but nothing trips before the
	// minimum sample is reached.
	for i := 0; i < 9; i++ {
		record := core.Record{"page_id": i}
		if i%2 == 0 {
			record["content"] = nil
		}
		_, err := v.Transform(ctx, record)
		require.NoError(t, err)
	}

	// The tenth record crosses the sample threshold at rate 1.0.
	_, err := v.Transform(ctx, core.Record{"page_id": 9, "content": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null rate")
}

func TestNullRate_HealthyStreamPasses(t *testing.T) {
	v := NullRate("content", 0.4)
	ctx := context.Background()

	// One null in four keeps the running rate under the bound.
	for i := 0; i < 20; i++ {
		record := core.Record{"page_id": i, "content": "text"}
		if i%4 == 0 {
			record["content"] = nil
		}
		_, err := v.Transform(ctx, record)
		require.NoError(t, err)
	}
}

func TestDataQualityValidator_RecordCounts(t *testing.T) {
	dqv := NewDataQualityValidator(2, nil, WithMaxRecords(3))
	ctx := context.Background()

	ok, err := dqv.Evaluate(ctx, []core.Record{{"a": 1}})
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "insufficient records")

	ok, err = dqv.Evaluate(ctx, []core.Record{{"a": 1}, {"a": 2}})
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, _ = dqv.Evaluate(ctx, []core.Record{{"a": 1}, {"a": 2}, {"a": 3}, {"a": 4}})
	assert.False(t, ok)
}

func TestDataQualityValidator_NullRate(t *testing.T) {
	dqv := NewDataQualityValidator(0, nil, WithMaxNullRate(0.5))
	ctx := context.Background()

	// title null in 3 of 4 records: rate 0.75 exceeds 0.5.
	records := []core.Record{
		{"page_id": 1, "title": "Home"},
		{"page_id": 2, "title": nil},
		{"page_id": 3, "title": nil},
		{"page_id": 4},
	}
	ok, err := dqv.Evaluate(ctx, records)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null rate")
}

func TestDataQualityValidator_RequiredFieldsNonNull(t *testing.T) {
	dqv := NewDataQualityValidator(0, []string{"page_id"})
	ctx := context.Background()

	ok, err := dqv.Evaluate(ctx, []core.Record{{"page_id": nil}})
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "null required field")

	ok, err = dqv.Evaluate(ctx, []core.Record{{"page_id": 1}})
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestDataQualityValidator_FieldRules(t *testing.T) {
	dqv := NewDataQualityValidator(0, nil,
		WithFieldValidator("slug", FieldValidator{
			DataType: FieldTypeString,
			Pattern:  regexp.MustCompile(`^[a-z0-9-]+$`),
		}),
		WithFieldValidator("seq", FieldValidator{
			DataType: FieldTypeInt,
			MinValue: 1,
		}),
		WithFieldValidator("run_id", FieldValidator{DataType: FieldTypeUUID}),
	)
	ctx := context.Background()

	good := []core.Record{{
		"slug":   "getting-started",
		"seq":    3,
		"run_id": "2b1a8c1e-42f5-4d28-9f0d-bb1f60a1c7a4",
	}}
	ok, err := dqv.Evaluate(ctx, good)
	assert.True(t, ok)
	assert.NoError(t, err)

	badSlug := []core.Record{{"slug": "Not A Slug"}}
	ok, err = dqv.Evaluate(ctx, badSlug)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "does not match pattern")

	badSeq := []core.Record{{"seq": 0}}
	ok, _ = dqv.Evaluate(ctx, badSeq)
	assert.False(t, ok)

	badUUID := []core.Record{{"run_id": "not-a-uuid"}}
	ok, _ = dqv.Evaluate(ctx, badUUID)
	assert.False(t, ok)

	// Nulls skip field rules; only null rate constrains them.
	nullSlug := []core.Record{{"slug": nil}}
	ok, err = dqv.Evaluate(ctx, nullSlug)
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestDataQualityValidator_CustomValidator(t *testing.T) {
	dqv := NewDataQualityValidator(0, nil,
		WithCustomValidator(func(records []core.Record) (bool, error) {
			seen := make(map[interface{}]bool)
			for _, r := range records {
				if seen[r["page_id"]] {
					return false, nil
				}
				seen[r["page_id"]] = true
			}
			return true, nil
		}),
	)
	ctx := context.Background()

	ok, err := dqv.Evaluate(ctx, []core.Record{{"page_id": 1}, {"page_id": 2}})
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, err = dqv.Evaluate(ctx, []core.Record{{"page_id": 1}, {"page_id": 1}})
	assert.False(t, ok)
	require.Error(t, err)
}

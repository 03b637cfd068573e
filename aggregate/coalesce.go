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

	"github.com/aaronlmathis/gosquash/core"
	"github.com/aaronlmathis/gosquash/optional"
	"github.com/aaronlmathis/gosquash/reduce"
)

// CoalesceAggregator folds a field's revision stream into its most recent
// non-null value. A missing key or nil value is a null input and never
// overwrites an earlier value; the result is nil only when no record in the
// group ever carried a non-null value for the field.
//
// Add is total: every input is valid and no data error is ever returned.
type CoalesceAggregator struct {
	Field string
	state optional.Value[any]
}

// Add folds the record's field value into the held state.
func (c *CoalesceAggregator) Add(ctx context.Context, record core.Record) error {
	c.state = reduce.Coalesce[any]{}.Step(c.state, optional.FromAny[any](record[c.Field]))
	return nil
}

// Result returns the most recent non-null value under the key "coalesce",
// or nil when every input was null.
func (c *CoalesceAggregator) Result() (core.Record, error) {
	return core.Record{"coalesce": c.state.Interface()}, nil
}

// Reset clears the state back to absent.
func (c *CoalesceAggregator) Reset() {
	c.state = optional.None[any]()
}

// Clone returns a fresh CoalesceAggregator for the same field.
func (c *CoalesceAggregator) Clone() Aggregator {
	return &CoalesceAggregator{Field: c.Field}
}

// FirstAggregator keeps the first non-null value seen for a field.
// Later inputs, null or not, never change the result.
type FirstAggregator struct {
	Field string
	state optional.Value[any]
}

func (f *FirstAggregator) Add(ctx context.Context, record core.Record) error {
	f.state = reduce.First[any]{}.Step(f.state, optional.FromAny[any](record[f.Field]))
	return nil
}

func (f *FirstAggregator) Result() (core.Record, error) {
	return core.Record{"first": f.state.Interface()}, nil
}

func (f *FirstAggregator) Reset() {
	f.state = optional.None[any]()
}

func (f *FirstAggregator) Clone() Aggregator {
	return &FirstAggregator{Field: f.Field}
}

// LastAggregator keeps the field value of the final record in the group,
// null or not. Unlike CoalesceAggregator, a trailing null erases an earlier
// value: Last treats null as a real revision rather than a no-op.
type LastAggregator struct {
	Field string
	state optional.Value[any]
}

func (l *LastAggregator) Add(ctx context.Context, record core.Record) error {
	l.state = reduce.Last[any]{}.Step(l.state, optional.FromAny[any](record[l.Field]))
	return nil
}

func (l *LastAggregator) Result() (core.Record, error) {
	return core.Record{"last": l.state.Interface()}, nil
}

func (l *LastAggregator) Reset() {
	l.state = optional.None[any]()
}

func (l *LastAggregator) Clone() Aggregator {
	return &LastAggregator{Field: l.Field}
}

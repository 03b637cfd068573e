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

	"github.com/aaronlmathis/gosquash/core"
)

// CountAggregator counts the number of records in the group.
type CountAggregator struct {
	count int
}

func (c *CountAggregator) Add(ctx context.Context, record core.Record) error {
	c.count++
	return nil
}

func (c *CountAggregator) Result() (core.Record, error) {
	return core.Record{"count": c.count}, nil
}

func (c *CountAggregator) Reset() {
	c.count = 0
}

func (c *CountAggregator) Clone() Aggregator {
	return &CountAggregator{}
}

// SumAggregator sums numeric values of a field.
// Null and non-numeric values are skipped.
type SumAggregator struct {
	Field string
	sum   float64
}

func (s *SumAggregator) Add(ctx context.Context, record core.Record) error {
	if value, exists := record[s.Field]; exists && value != nil {
		if num, err := convertToFloat64(value); err == nil {
			s.sum += num
		}
	}
	return nil
}

func (s *SumAggregator) Result() (core.Record, error) {
	return core.Record{"sum": s.sum}, nil
}

func (s *SumAggregator) Reset() {
	s.sum = 0
}

func (s *SumAggregator) Clone() Aggregator {
	return &SumAggregator{Field: s.Field}
}

// AvgAggregator calculates the average of a field's numeric values.
// Null and non-numeric values are skipped; an all-null group averages to nil.
type AvgAggregator struct {
	Field string
	sum   float64
	count int
}

func (a *AvgAggregator) Add(ctx context.Context, record core.Record) error {
	if value, exists := record[a.Field]; exists && value != nil {
		if num, err := convertToFloat64(value); err == nil {
			a.sum += num
			a.count++
		}
	}
	return nil
}

func (a *AvgAggregator) Result() (core.Record, error) {
	if a.count == 0 {
		return core.Record{"avg": nil}, nil
	}
	return core.Record{"avg": a.sum / float64(a.count)}, nil
}

func (a *AvgAggregator) Reset() {
	a.sum = 0
	a.count = 0
}

func (a *AvgAggregator) Clone() Aggregator {
	return &AvgAggregator{Field: a.Field}
}

// MinAggregator finds the minimum value of a field.
// Null values are skipped; an all-null group yields nil.
type MinAggregator struct {
	Field string
	min   interface{}
	set   bool
}

func (m *MinAggregator) Add(ctx context.Context, record core.Record) error {
	if value, exists := record[m.Field]; exists && value != nil {
		if !m.set || compareValues(value, m.min) < 0 {
			m.min = value
			m.set = true
		}
	}
	return nil
}

func (m *MinAggregator) Result() (core.Record, error) {
	return core.Record{"min": m.min}, nil
}

func (m *MinAggregator) Reset() {
	m.min = nil
	m.set = false
}

func (m *MinAggregator) Clone() Aggregator {
	return &MinAggregator{Field: m.Field}
}

// MaxAggregator finds the maximum value of a field.
// Null values are skipped; an all-null group yields nil.
type MaxAggregator struct {
	Field string
	max   interface{}
	set   bool
}

func (m *MaxAggregator) Add(ctx context.Context, record core.Record) error {
	if value, exists := record[m.Field]; exists && value != nil {
		if !m.set || compareValues(value, m.max) > 0 {
			m.max = value
			m.set = true
		}
	}
	return nil
}

func (m *MaxAggregator) Result() (core.Record, error) {
	return core.Record{"max": m.max}, nil
}

func (m *MaxAggregator) Reset() {
	m.max = nil
	m.set = false
}

func (m *MaxAggregator) Clone() Aggregator {
	return &MaxAggregator{Field: m.Field}
}

// Helper functions

func convertToFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

// compareValues orders two field values. Numeric values compare numerically
// across widths; strings compare lexicographically. Incomparable values
// compare equal so Min and Max keep their current candidate.
func compareValues(a, b interface{}) int {
	af, aerr := convertToFloat64(a)
	bf, berr := convertToFloat64(b)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}

	return 0
}

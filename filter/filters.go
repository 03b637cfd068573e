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

package filter

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/aaronlmathis/gosquash/core"
)

// Package filter provides composable record filters for squash
// pipelines. A filter decides inclusion only; records are never
// modified. Null is distinct from empty here: NotNull passes a field
// holding "", and only nil or absent fields fail it.

// NotNull includes records where the field is present and non-null.
// An empty string is a value, not a null.
func NotNull(field string) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		value, exists := record[field]
		return exists && value != nil, nil
	})
}

// HasField includes records where the field is present, even as an
// explicit null. Useful for isolating revisions that deliberately
// cleared a field.
func HasField(field string) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		_, exists := record[field]
		return exists, nil
	})
}

// AnyPresent includes records where at least one of the listed fields
// is present and non-null. Revisions that carry no information in any
// of the listed fields cannot change squashed state, so dropping them
// early with this filter is safe.
func AnyPresent(fields ...string) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, field := range fields {
			if value, exists := record[field]; exists && value != nil {
				return true, nil
			}
		}
		return false, nil
	})
}

// Equals includes records where the field equals the expected value.
func Equals(field string, expectedValue interface{}) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		value, exists := record[field]
		if !exists {
			return false, nil
		}
		return reflect.DeepEqual(value, expectedValue), nil
	})
}

// Contains includes records where the string field contains the substring.
func Contains(field, substring string) core.Filter {
	return stringFilter(field, func(s string) bool { return strings.Contains(s, substring) })
}

// StartsWith includes records where the string field starts with the prefix.
func StartsWith(field, prefix string) core.Filter {
	return stringFilter(field, func(s string) bool { return strings.HasPrefix(s, prefix) })
}

// EndsWith includes records where the string field ends with the suffix.
func EndsWith(field, suffix string) core.Filter {
	return stringFilter(field, func(s string) bool { return strings.HasSuffix(s, suffix) })
}

// MatchesRegex includes records where the string field matches the
// pattern. The pattern must compile or MatchesRegex panics, matching
// regexp.MustCompile.
func MatchesRegex(field, pattern string) core.Filter {
	regex := regexp.MustCompile(pattern)
	return stringFilter(field, regex.MatchString)
}

func stringFilter(field string, match func(string) bool) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		value, exists := record[field]
		if !exists {
			return false, nil
		}
		if str, ok := value.(string); ok {
			return match(str), nil
		}
		return false, nil
	})
}

// GreaterThan includes records where the numeric field exceeds the
// threshold. Null, absent, and non-numeric fields are excluded.
func GreaterThan(field string, threshold float64) core.Filter {
	return numericFilter(field, func(n float64) bool { return n > threshold })
}

// LessThan includes records where the numeric field is below the threshold.
func LessThan(field string, threshold float64) core.Filter {
	return numericFilter(field, func(n float64) bool { return n < threshold })
}

// Between includes records where the numeric field is within [min, max].
func Between(field string, min, max float64) core.Filter {
	return numericFilter(field, func(n float64) bool { return n >= min && n <= max })
}

func numericFilter(field string, match func(float64) bool) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		value, exists := record[field]
		if !exists {
			return false, nil
		}

		num, err := toFloat64(value)
		if err != nil {
			return false, nil
		}
		return match(num), nil
	})
}

// In includes records where the field value is one of the given values.
func In(field string, values ...interface{}) core.Filter {
	valueSet := make(map[interface{}]bool, len(values))
	for _, v := range values {
		valueSet[v] = true
	}

	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		value, exists := record[field]
		if !exists {
			return false, nil
		}
		return valueSet[value], nil
	})
}

// And requires every filter to pass.
func And(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if !include {
				return false, nil
			}
		}
		return true, nil
	})
}

// Or requires at least one filter to pass.
func Or(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if include {
				return true, nil
			}
		}
		return false, nil
	})
}

// Not negates a filter.
func Not(filter core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		return !include, nil
	})
}

// Custom wraps a plain predicate as a filter.
func Custom(predicate func(core.Record) bool) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		return predicate(record), nil
	})
}

// CustomWithContext wraps a context-aware predicate as a filter.
func CustomWithContext(predicate func(context.Context, core.Record) (bool, error)) core.Filter {
	return core.FilterFunc(predicate)
}

func toFloat64(value interface{}) (float64, error) {
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
		return 0, fmt.Errorf("value %v is not numeric", value)
	}
}

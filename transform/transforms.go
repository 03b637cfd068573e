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

package transform

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/gosquash/core"
)

// Package transform provides composable record transformers for squash
// pipelines. Transformers run per record, either on revisions before
// squashing or on snapshots after. Null fields pass through every
// transformer unchanged: a conversion never turns a null into a zero
// value, and string helpers skip nulls.

// Select keeps only the listed fields. Present-but-null fields are
// kept as nulls; absent fields stay absent.
func Select(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(fields))
		for _, field := range fields {
			if value, exists := record[field]; exists {
				result[field] = value
			}
		}
		return result, nil
	})
}

// Rename renames fields according to the mapping. Keys are original
// names, values are new names. Unmapped fields are kept as is.
func Rename(mapping map[string]string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for key, value := range record {
			if newKey, exists := mapping[key]; exists {
				result[newKey] = value
			} else {
				result[key] = value
			}
		}
		return result, nil
	})
}

// AddField adds a computed field to each record.
func AddField(field string, fn func(core.Record) interface{}) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record)+1)
		for k, v := range record {
			result[k] = v
		}
		result[field] = fn(record)
		return result, nil
	})
}

// CoalesceFields writes the first non-null value among fields into out.
// If every field is null or absent, out is set to an explicit null.
// Typical use is folding legacy column variants into one, for example
// CoalesceFields("editor", "updated_by", "modified_by", "author").
func CoalesceFields(out string, fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record)+1)
		for k, v := range record {
			result[k] = v
		}

		result[out] = nil
		for _, field := range fields {
			if value, exists := record[field]; exists && value != nil {
				result[out] = value
				break
			}
		}
		return result, nil
	})
}

// Nullify replaces sentinel values with explicit nulls in the listed
// fields. Useful ahead of squashing when an upstream export encodes
// missing data as "" or "N/A" instead of null.
func Nullify(literals []string, fields ...string) core.Transformer {
	sentinels := make(map[string]bool, len(literals))
	for _, literal := range literals {
		sentinels[literal] = true
	}

	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for k, v := range record {
			result[k] = v
		}

		for _, field := range fields {
			value, exists := record[field]
			if !exists || value == nil {
				continue
			}
			if str, ok := value.(string); ok && sentinels[str] {
				result[field] = nil
			}
		}
		return result, nil
	})
}

// Default fills a null or absent field with a fallback value. Runs
// after squashing when a snapshot column should never be null.
func Default(field string, fallback interface{}) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record)+1)
		for k, v := range record {
			result[k] = v
		}

		if value, exists := result[field]; !exists || value == nil {
			result[field] = fallback
		}
		return result, nil
	})
}

// ConvertType converts a field to the given reflect.Type. Null and
// absent fields are left untouched. A failed conversion aborts the
// record with an error.
func ConvertType(field string, targetType reflect.Type) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for k, v := range record {
			result[k] = v
		}

		if value, exists := record[field]; exists && value != nil {
			converted, err := convertValue(value, targetType)
			if err != nil {
				return nil, fmt.Errorf("failed to convert field %s: %w", field, err)
			}
			result[field] = converted
		}

		return result, nil
	})
}

// ToString converts a field to a string.
func ToString(field string) core.Transformer {
	return ConvertType(field, reflect.TypeOf(""))
}

// ToInt converts a field to an int.
func ToInt(field string) core.Transformer {
	return ConvertType(field, reflect.TypeOf(0))
}

// ToFloat converts a field to a float64.
func ToFloat(field string) core.Transformer {
	return ConvertType(field, reflect.TypeOf(0.0))
}

// TrimSpace trims whitespace from the listed string fields.
func TrimSpace(fields ...string) core.Transformer {
	return stringTransform(fields, strings.TrimSpace)
}

// ToUpper uppercases the listed string fields.
func ToUpper(fields ...string) core.Transformer {
	return stringTransform(fields, strings.ToUpper)
}

// ToLower lowercases the listed string fields.
func ToLower(fields ...string) core.Transformer {
	return stringTransform(fields, strings.ToLower)
}

func stringTransform(fields []string, fn func(string) string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for k, v := range record {
			result[k] = v
		}

		for _, field := range fields {
			if value, exists := record[field]; exists {
				if str, ok := value.(string); ok {
					result[field] = fn(str)
				}
			}
		}
		return result, nil
	})
}

// ParseTime parses a string field into a time.Time using the layout.
// Revision logs exported as CSV usually need this on their timestamp
// column before ordering validation.
func ParseTime(field, layout string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for k, v := range record {
			result[k] = v
		}

		if value, exists := record[field]; exists {
			if str, ok := value.(string); ok {
				parsed, err := time.Parse(layout, str)
				if err != nil {
					return nil, fmt.Errorf("failed to parse time field %s: %w", field, err)
				}
				result[field] = parsed
			}
		}

		return result, nil
	})
}

// RemoveField removes a field from each record.
func RemoveField(field string) core.Transformer {
	return RemoveFields(field)
}

// RemoveFields removes the listed fields from each record. Absent
// fields are ignored.
func RemoveFields(fields ...string) core.Transformer {
	fieldsToRemove := make(map[string]bool, len(fields))
	for _, field := range fields {
		fieldsToRemove[field] = true
	}

	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for k, v := range record {
			if !fieldsToRemove[k] {
				result[k] = v
			}
		}
		return result, nil
	})
}

// convertValue converts a non-nil value to the target type.
func convertValue(value interface{}, targetType reflect.Type) (interface{}, error) {
	sourceValue := reflect.ValueOf(value)
	if sourceValue.Type() == targetType {
		return value, nil
	}

	switch targetType.Kind() {
	case reflect.String:
		return fmt.Sprintf("%v", value), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return convertToInt(value)
	case reflect.Float32, reflect.Float64:
		return convertToFloat(value)
	case reflect.Bool:
		return convertToBool(value)
	default:
		return nil, fmt.Errorf("unsupported target type: %s", targetType)
	}
}

func convertToInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int", value)
	}
}

func convertToFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

func convertToBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", value)
	}
}

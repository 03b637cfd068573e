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
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aaronlmathis/gosquash/core"
)

// Package validators provides input and output quality checks for
// squash pipelines. Streaming validators are core.Transformer
// implementations that pass records through unchanged and fail the
// pipeline on the first contract violation. The batch
// DataQualityValidator evaluates a full snapshot set, typically as a
// gate before loading.

// ErrSequenceRegression reports that revisions arrived out of order.
// Squashing is order-sensitive, so a regression means the result would
// be wrong rather than merely reshuffled.
var ErrSequenceRegression = errors.New("sequence regression")

// RequiredFields returns a streaming validator that rejects records
// where any listed field is absent or null. Group key and ordering
// fields are the usual candidates.
func RequiredFields(fields ...string) core.Transformer {
	var (
		mu  sync.Mutex
		num int64
	)
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		mu.Lock()
		num++
		n := num
		mu.Unlock()

		for _, field := range fields {
			value, exists := record[field]
			if !exists {
				return nil, fmt.Errorf("record %d missing required field %s", n, field)
			}
			if value == nil {
				return nil, fmt.Errorf("record %d has null required field %s", n, field)
			}
		}
		return record, nil
	})
}

// MonotonicSequence returns a streaming validator that enforces a
// strictly increasing sequence per group. With no key fields the
// sequence is checked globally. The sequence field may be numeric or a
// time.Time. Violations wrap ErrSequenceRegression.
func MonotonicSequence(seqField string, keyFields ...string) core.Transformer {
	var mu sync.Mutex
	lastSeen := make(map[string]float64)

	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		value, exists := record[seqField]
		if !exists || value == nil {
			return nil, fmt.Errorf("sequence field %s is null or missing", seqField)
		}

		seq, ok := sequenceValue(value)
		if !ok {
			return nil, fmt.Errorf("sequence field %s has non-orderable value %v", seqField, value)
		}

		key := groupKey(record, keyFields)

		mu.Lock()
		defer mu.Unlock()

		if last, seen := lastSeen[key]; seen && seq <= last {
			return nil, fmt.Errorf("%w: %s %v after %v for key %q",
				ErrSequenceRegression, seqField, value, last, key)
		}
		lastSeen[key] = seq
		return record, nil
	})
}

func groupKey(record core.Record, keyFields []string) string {
	if len(keyFields) == 0 {
		return ""
	}
	var b strings.Builder
	for i, field := range keyFields {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		fmt.Fprintf(&b, "%v", record[field])
	}
	return b.String()
}

func sequenceValue(value interface{}) (float64, bool) {
	if t, ok := value.(time.Time); ok {
		return float64(t.UnixNano()), true
	}
	return toFloat64(value)
}

// nullRateMinSample is the number of records NullRate observes before it
// starts enforcing the bound.
const nullRateMinSample = 10

// NullRate returns a streaming validator that tracks the running null
// rate of one field and fails once the rate exceeds max. Absent fields
// count as null. Enforcement starts after nullRateMinSample records so
// a sparse head of the stream cannot trip the bound on its own.
func NullRate(field string, max float64) core.Transformer {
	var (
		mu    sync.Mutex
		seen  int64
		nulls int64
	)
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		mu.Lock()
		defer mu.Unlock()

		seen++
		if value, exists := record[field]; !exists || value == nil {
			nulls++
		}

		if seen >= nullRateMinSample {
			rate := float64(nulls) / float64(seen)
			if rate > max {
				return nil, fmt.Errorf("field %s null rate %.2f exceeds maximum %.2f after %d records",
					field, rate, max, seen)
			}
		}
		return record, nil
	})
}

// DataQualityValidator evaluates a batch of records against quality
// constraints. Zero values disable the corresponding check.
type DataQualityValidator struct {
	MinRecords       int
	MaxRecords       int
	MaxNullRate      float64
	RequiredFields   []string
	ForbiddenFields  []string
	FieldValidators  map[string]FieldValidator
	CustomValidators []func([]core.Record) (bool, error)
}

// FieldValidator defines validation rules for a single field.
// Null values skip every rule; null handling belongs to MaxNullRate.
type FieldValidator struct {
	DataType      FieldDataType
	Pattern       *regexp.Regexp
	MinValue      interface{}
	MaxValue      interface{}
	AllowedValues []interface{}
	CustomFunc    func(interface{}) (bool, error)
}

// FieldDataType represents expected data types for validation.
type FieldDataType string

const (
	FieldTypeString FieldDataType = "string"
	FieldTypeInt    FieldDataType = "int"
	FieldTypeFloat  FieldDataType = "float"
	FieldTypeBool   FieldDataType = "bool"
	FieldTypeDate   FieldDataType = "date"
	FieldTypeEmail  FieldDataType = "email"
	FieldTypeURL    FieldDataType = "url"
	FieldTypeUUID   FieldDataType = "uuid"
	FieldTypeAny    FieldDataType = "any"
)

// DataQualityOption configures a DataQualityValidator.
type DataQualityOption func(*DataQualityValidator)

// WithMaxRecords sets the maximum record count.
func WithMaxRecords(max int) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		dqv.MaxRecords = max
	}
}

// WithMaxNullRate sets the maximum per-field null rate (0.0 to 1.0).
func WithMaxNullRate(rate float64) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		dqv.MaxNullRate = rate
	}
}

// WithForbiddenFields sets fields that must not appear in any record.
func WithForbiddenFields(fields []string) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		dqv.ForbiddenFields = fields
	}
}

// WithFieldValidator adds a per-field rule.
func WithFieldValidator(fieldName string, validator FieldValidator) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		if dqv.FieldValidators == nil {
			dqv.FieldValidators = make(map[string]FieldValidator)
		}
		dqv.FieldValidators[fieldName] = validator
	}
}

// WithCustomValidator adds a batch-level validation function.
func WithCustomValidator(validator func([]core.Record) (bool, error)) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		dqv.CustomValidators = append(dqv.CustomValidators, validator)
	}
}

// NewDataQualityValidator creates a batch validator requiring at least
// minRecords records, each carrying the required fields non-null.
func NewDataQualityValidator(minRecords int, requiredFields []string, options ...DataQualityOption) *DataQualityValidator {
	dqv := &DataQualityValidator{
		MinRecords:      minRecords,
		RequiredFields:  requiredFields,
		FieldValidators: make(map[string]FieldValidator),
	}
	for _, option := range options {
		option(dqv)
	}
	return dqv
}

// Evaluate checks a batch of records against every configured
// constraint. It returns false with a descriptive error on the first
// violation.
func (dqv *DataQualityValidator) Evaluate(ctx context.Context, records []core.Record) (bool, error) {
	recordCount := len(records)

	if recordCount < dqv.MinRecords {
		return false, fmt.Errorf("insufficient records: got %d, need at least %d", recordCount, dqv.MinRecords)
	}
	if dqv.MaxRecords > 0 && recordCount > dqv.MaxRecords {
		return false, fmt.Errorf("too many records: got %d, maximum allowed %d", recordCount, dqv.MaxRecords)
	}
	if recordCount == 0 {
		return true, nil
	}

	if err := dqv.validateFieldPresence(records); err != nil {
		return false, err
	}
	if err := dqv.validateNullRates(records); err != nil {
		return false, err
	}
	if err := dqv.validateFieldValues(records); err != nil {
		return false, err
	}

	for i, validator := range dqv.CustomValidators {
		valid, err := validator(records)
		if err != nil {
			return false, fmt.Errorf("custom validator %d failed: %w", i, err)
		}
		if !valid {
			return false, fmt.Errorf("custom validator %d failed validation", i)
		}
	}

	return true, nil
}

func (dqv *DataQualityValidator) validateFieldPresence(records []core.Record) error {
	if len(dqv.RequiredFields) == 0 && len(dqv.ForbiddenFields) == 0 {
		return nil
	}

	for recordIdx, record := range records {
		for _, field := range dqv.RequiredFields {
			value, exists := record[field]
			if !exists {
				return fmt.Errorf("record %d missing required field: %s", recordIdx, field)
			}
			if value == nil {
				return fmt.Errorf("record %d has null required field: %s", recordIdx, field)
			}
		}

		for _, field := range dqv.ForbiddenFields {
			if _, exists := record[field]; exists {
				return fmt.Errorf("record %d contains forbidden field: %s", recordIdx, field)
			}
		}
	}

	return nil
}

// validateNullRates measures per-field null rates across the batch.
// Absent fields count as nulls here: a snapshot set is expected to be
// rectangular.
func (dqv *DataQualityValidator) validateNullRates(records []core.Record) error {
	if dqv.MaxNullRate <= 0 {
		return nil
	}

	fieldNames := make(map[string]bool)
	for _, record := range records {
		for field := range record {
			fieldNames[field] = true
		}
	}

	for field := range fieldNames {
		nullCount := 0
		for _, record := range records {
			if value, exists := record[field]; !exists || value == nil {
				nullCount++
			}
		}

		nullRate := float64(nullCount) / float64(len(records))
		if nullRate > dqv.MaxNullRate {
			return fmt.Errorf("field %s has null rate %.2f, exceeds maximum %.2f",
				field, nullRate, dqv.MaxNullRate)
		}
	}

	return nil
}

func (dqv *DataQualityValidator) validateFieldValues(records []core.Record) error {
	if len(dqv.FieldValidators) == 0 {
		return nil
	}

	for recordIdx, record := range records {
		for fieldName, validator := range dqv.FieldValidators {
			value, exists := record[fieldName]
			if !exists || value == nil {
				continue
			}

			if err := validateSingleFieldValue(fieldName, value, validator, recordIdx); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateSingleFieldValue(fieldName string, value interface{}, validator FieldValidator, recordIdx int) error {
	if !validateDataType(value, validator.DataType) {
		return fmt.Errorf("record %d field %s has invalid type, expected %s",
			recordIdx, fieldName, validator.DataType)
	}

	if validator.Pattern != nil {
		if str, ok := value.(string); ok {
			if !validator.Pattern.MatchString(str) {
				return fmt.Errorf("record %d field %s value '%s' does not match pattern",
					recordIdx, fieldName, str)
			}
		}
	}

	if err := validateRange(value, validator.MinValue, validator.MaxValue, fieldName, recordIdx); err != nil {
		return err
	}

	if len(validator.AllowedValues) > 0 {
		valid := false
		for _, allowedValue := range validator.AllowedValues {
			if value == allowedValue {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("record %d field %s value '%v' not in allowed values",
				recordIdx, fieldName, value)
		}
	}

	if validator.CustomFunc != nil {
		valid, err := validator.CustomFunc(value)
		if err != nil {
			return fmt.Errorf("record %d field %s custom validation failed: %w",
				recordIdx, fieldName, err)
		}
		if !valid {
			return fmt.Errorf("record %d field %s failed custom validation", recordIdx, fieldName)
		}
	}

	return nil
}

func validateDataType(value interface{}, expectedType FieldDataType) bool {
	switch expectedType {
	case FieldTypeAny, "":
		return true
	case FieldTypeString:
		_, ok := value.(string)
		return ok
	case FieldTypeInt:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case FieldTypeFloat:
		switch value.(type) {
		case float32, float64:
			return true
		}
		return false
	case FieldTypeBool:
		_, ok := value.(bool)
		return ok
	case FieldTypeDate:
		_, ok := value.(time.Time)
		return ok
	case FieldTypeEmail:
		if str, ok := value.(string); ok {
			return strings.Contains(str, "@") && strings.Contains(str, ".")
		}
		return false
	case FieldTypeURL:
		if str, ok := value.(string); ok {
			return strings.HasPrefix(str, "http://") || strings.HasPrefix(str, "https://")
		}
		return false
	case FieldTypeUUID:
		if str, ok := value.(string); ok {
			_, err := uuid.Parse(str)
			return err == nil
		}
		return false
	default:
		return true
	}
}

func validateRange(value, minValue, maxValue interface{}, fieldName string, recordIdx int) error {
	if minValue == nil && maxValue == nil {
		return nil
	}

	val, ok := toFloat64(value)
	if !ok {
		return nil
	}

	if minValue != nil {
		if min, ok := toFloat64(minValue); ok && val < min {
			return fmt.Errorf("record %d field %s value %v below minimum %v",
				recordIdx, fieldName, value, minValue)
		}
	}

	if maxValue != nil {
		if max, ok := toFloat64(maxValue); ok && val > max {
			return fmt.Errorf("record %d field %s value %v above maximum %v",
				recordIdx, fieldName, value, maxValue)
		}
	}

	return nil
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

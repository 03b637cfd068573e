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

package writers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/gosquash"
)

// This file implements a batching Parquet writer for squashed snapshot
// output. It supports Arrow schema inference from the first record,
// compression, explicit field ordering, per-field dictionary encoding,
// file metadata, and optional strict schema validation. All Parquet
// columns are nullable so coalesced fields that stayed null survive
// the round trip.

// ParquetWriterError wraps Parquet-specific write errors with context
// about the operation.
type ParquetWriterError struct {
	Op  string
	Err error
}

func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// WriterStats holds statistics about the Parquet writer.
type WriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	BytesWritten    int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	ErrorCount      int64
	NullValueCounts map[string]int64
}

// ParquetWriterOptions configures the Parquet writer.
type ParquetWriterOptions struct {
	BatchSize      int64
	Schema         *arrow.Schema
	Compression    compress.Compression
	FieldOrder     []string
	RowGroupSize   int64
	PageSize       int64
	Dictionary     map[string]bool
	Metadata       map[string]string
	ValidateSchema bool
}

// WriterOption represents a configuration function for ParquetWriterOptions.
type WriterOption func(*ParquetWriterOptions)

// WithBatchSize sets the number of records to buffer before writing a batch.
func WithBatchSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCompression sets the Parquet compression codec.
func WithCompression(compression compress.Compression) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = compression
	}
}

// WithFieldOrder sets the column order of the output file. Without it,
// columns are the sorted field names of the first record.
func WithFieldOrder(fields []string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.FieldOrder = append([]string(nil), fields...)
	}
}

// WithSchema sets a pre-defined Arrow schema instead of inferring one
// from the first record.
func WithSchema(schema *arrow.Schema) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Schema = schema
	}
}

// WithSchemaValidation enables strict type checking of each record
// against the schema before buffering.
func WithSchemaValidation(validate bool) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.ValidateSchema = validate
	}
}

// WithRowGroupSize sets the maximum row group length of the output file.
func WithRowGroupSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.RowGroupSize = size
	}
}

// WithPageSize sets the Parquet data page size in bytes.
func WithPageSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.PageSize = size
	}
}

// WithDictionary sets dictionary encoding for a single column. Useful
// for low-cardinality columns such as editor names or page slugs.
func WithDictionary(field string, enabled bool) WriterOption {
	return func(opts *ParquetWriterOptions) {
		if opts.Dictionary == nil {
			opts.Dictionary = make(map[string]bool)
		}
		opts.Dictionary[field] = enabled
	}
}

// WithMetadata sets file-level key-value metadata, stored in the Arrow
// schema metadata of the output file.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string)
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// ParquetWriter implements DataSink for Parquet files.
type ParquetWriter struct {
	file          *os.File
	writer        *pqarrow.FileWriter
	schema        *arrow.Schema
	closed        bool
	batchSize     int64
	recordBuffer  []gosquash.Record
	fieldOrder    []string
	fieldIndexMap map[string]int
	stats         WriterStats
	errorState    bool
	builders      []array.Builder
	allocator     memory.Allocator
	opts          *ParquetWriterOptions
	mu            sync.Mutex
}

// NewParquetWriter creates a new Parquet writer for a file.
// Parent directories are created as needed.
func NewParquetWriter(filename string, options ...WriterOption) (*ParquetWriter, error) {
	opts := (&ParquetWriterOptions{}).withDefaults()

	for _, option := range options {
		option(opts)
	}

	return createParquetWriter(filename, opts)
}

func createParquetWriter(filename string, opts *ParquetWriterOptions) (*ParquetWriter, error) {
	dir := filepath.Dir(filename)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &ParquetWriterError{
				Op:  "create_directory",
				Err: fmt.Errorf("failed to create directory %s: %w", dir, err),
			}
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return nil, &ParquetWriterError{
			Op:  "open_file",
			Err: fmt.Errorf("failed to create parquet file %s: %w", filename, err),
		}
	}

	writer := &ParquetWriter{
		file:         file,
		batchSize:    opts.BatchSize,
		schema:       opts.Schema,
		fieldOrder:   opts.FieldOrder,
		recordBuffer: make([]gosquash.Record, 0, opts.BatchSize),
		stats:        WriterStats{NullValueCounts: make(map[string]int64)},
		allocator:    memory.NewGoAllocator(),
		opts:         opts,
	}

	return writer, nil
}

// withDefaults applies default values to ParquetWriterOptions.
func (opts *ParquetWriterOptions) withDefaults() *ParquetWriterOptions {
	result := &ParquetWriterOptions{}
	if opts != nil {
		*result = *opts
	}

	if result.BatchSize <= 0 {
		result.BatchSize = 1000
	}
	if result.RowGroupSize <= 0 {
		result.RowGroupSize = 10000
	}
	if result.PageSize <= 0 {
		result.PageSize = 1024 * 1024
	}
	if result.Compression == 0 {
		result.Compression = compress.Codecs.Snappy
	}
	if result.Dictionary == nil {
		result.Dictionary = make(map[string]bool)
	}
	if result.Metadata == nil {
		result.Metadata = make(map[string]string)
	}

	return result
}

// Write implements the DataSink interface. Records are buffered and
// written in batches of BatchSize.
func (p *ParquetWriter) Write(ctx context.Context, record gosquash.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("parquet writer is closed")}
	}
	if p.errorState {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}

	select {
	case <-ctx.Done():
		return &ParquetWriterError{Op: "write", Err: ctx.Err()}
	default:
	}

	if p.writer == nil {
		if err := p.initializeWriter(record); err != nil {
			p.errorState = true
			p.stats.ErrorCount++
			return err
		}
	}

	if p.opts.ValidateSchema {
		if err := p.validateRecord(record); err != nil {
			p.errorState = true
			p.stats.ErrorCount++
			return err
		}
	}

	p.recordBuffer = append(p.recordBuffer, record)
	p.stats.RecordsWritten++

	if int64(len(p.recordBuffer)) >= p.batchSize {
		if err := p.flushBatch(); err != nil {
			p.errorState = true
			p.stats.ErrorCount++
			return err
		}
	}

	return nil
}

// Flush implements the DataSink interface.
func (p *ParquetWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushBatch()
}

// Close implements the DataSink interface. It flushes buffered records,
// writes the file footer, and closes the file.
func (p *ParquetWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.flushBatch(); err != nil {
		return &ParquetWriterError{
			Op:  "flush_remaining",
			Err: fmt.Errorf("failed to flush remaining records: %w", err),
		}
	}

	for _, builder := range p.builders {
		if builder != nil {
			builder.Release()
		}
	}
	p.builders = nil

	if p.writer != nil {
		// FileWriter.Close writes the footer and closes the underlying file.
		if err := p.writer.Close(); err != nil {
			return &ParquetWriterError{
				Op:  "close_writer",
				Err: fmt.Errorf("failed to close parquet writer: %w", err),
			}
		}
		p.writer = nil
	}

	if p.file != nil {
		if fi, err := os.Stat(p.file.Name()); err == nil {
			p.stats.BytesWritten = fi.Size()
		}
		p.file = nil
	}

	return nil
}

// Stats returns a copy of the writer statistics.
func (p *ParquetWriter) Stats() WriterStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	statsCopy := p.stats
	statsCopy.NullValueCounts = make(map[string]int64)
	for k, v := range p.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// initializeWriter resolves the schema, builds writer properties, and
// opens the pqarrow file writer. Called on the first Write.
func (p *ParquetWriter) initializeWriter(record gosquash.Record) error {
	if p.schema == nil {
		if err := p.inferSchemaFromRecord(record); err != nil {
			return err
		}
	}

	if len(p.fieldOrder) == 0 {
		for _, f := range p.schema.Fields() {
			p.fieldOrder = append(p.fieldOrder, f.Name)
		}
	}
	p.fieldIndexMap = make(map[string]int, len(p.fieldOrder))
	for i, name := range p.fieldOrder {
		p.fieldIndexMap[name] = i
	}

	propOpts := []parquet.WriterProperty{
		parquet.WithCompression(p.opts.Compression),
		parquet.WithMaxRowGroupLength(p.opts.RowGroupSize),
		parquet.WithDataPageSize(p.opts.PageSize),
	}
	for field, enabled := range p.opts.Dictionary {
		propOpts = append(propOpts, parquet.WithDictionaryFor(field, enabled))
	}
	props := parquet.NewWriterProperties(propOpts...)

	writer, err := pqarrow.NewFileWriter(p.schema, p.file, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return &ParquetWriterError{
			Op:  "create_writer",
			Err: fmt.Errorf("failed to create parquet file writer: %w", err),
		}
	}
	p.writer = writer

	return p.initializeBuilders()
}

// inferSchemaFromRecord creates an Arrow schema from the first record.
// Missing or null fields default to nullable strings.
func (p *ParquetWriter) inferSchemaFromRecord(record gosquash.Record) error {
	fieldNames := p.fieldOrder
	if len(fieldNames) == 0 {
		fieldNames = make([]string, 0, len(record))
		for name := range record {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)
		p.fieldOrder = fieldNames
	}

	fields := make([]arrow.Field, 0, len(fieldNames))
	for _, name := range fieldNames {
		value, exists := record[name]

		var dataType arrow.DataType
		if exists && value != nil {
			inferred, err := inferArrowType(value)
			if err != nil {
				return &ParquetWriterError{
					Op:  "schema",
					Err: fmt.Errorf("failed to infer arrow type for field %s: %w", name, err),
				}
			}
			dataType = inferred
		} else {
			dataType = arrow.BinaryTypes.String
		}

		fields = append(fields, arrow.Field{Name: name, Type: dataType, Nullable: true})
	}

	if len(p.opts.Metadata) > 0 {
		md := arrow.MetadataFrom(p.opts.Metadata)
		p.schema = arrow.NewSchema(fields, &md)
	} else {
		p.schema = arrow.NewSchema(fields, nil)
	}
	return nil
}

// inferArrowType maps a Go value to an Arrow data type.
func inferArrowType(value interface{}) (arrow.DataType, error) {
	switch v := value.(type) {
	case bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case int8:
		return arrow.PrimitiveTypes.Int8, nil
	case int16:
		return arrow.PrimitiveTypes.Int16, nil
	case int32:
		return arrow.PrimitiveTypes.Int32, nil
	case int64:
		return arrow.PrimitiveTypes.Int64, nil
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return arrow.PrimitiveTypes.Int32, nil
		}
		return arrow.PrimitiveTypes.Int64, nil
	case float32:
		return arrow.PrimitiveTypes.Float32, nil
	case float64:
		return arrow.PrimitiveTypes.Float64, nil
	case string:
		return arrow.BinaryTypes.String, nil
	case time.Time:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case []byte:
		return arrow.BinaryTypes.Binary, nil
	case json.RawMessage:
		return arrow.BinaryTypes.String, nil
	default:
		return nil, fmt.Errorf("unsupported type %T for value %v", value, value)
	}
}

// initializeBuilders creates one Arrow array builder per column.
func (p *ParquetWriter) initializeBuilders() error {
	p.builders = make([]array.Builder, len(p.fieldOrder))
	for i, fieldName := range p.fieldOrder {
		indices := p.schema.FieldIndices(fieldName)
		if len(indices) == 0 {
			return &ParquetWriterError{
				Op:  "initialize_builders",
				Err: fmt.Errorf("field %s not found in schema", fieldName),
			}
		}
		p.builders[i] = array.NewBuilder(p.allocator, p.schema.Field(indices[0]).Type)
	}
	return nil
}

// flushBatch converts the buffer to an Arrow record and writes it as
// one batch. On failure the writer enters error state.
func (p *ParquetWriter) flushBatch() (err error) {
	if len(p.recordBuffer) == 0 {
		return nil
	}

	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.errorState = true
			p.stats.ErrorCount++
			err = &ParquetWriterError{
				Op:  "flush_batch",
				Err: fmt.Errorf("panic during batch flush: %v", r),
			}
		}
	}()

	record, err := p.createArrowRecord(p.recordBuffer)
	if err != nil {
		return &ParquetWriterError{
			Op:  "create_arrow_record",
			Err: fmt.Errorf("failed to create arrow record: %w", err),
		}
	}
	defer record.Release()

	if err := p.writer.Write(record); err != nil {
		return &ParquetWriterError{
			Op:  "write_batch",
			Err: fmt.Errorf("failed to write record batch: %w", err),
		}
	}

	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(startTime)
	p.stats.LastFlushTime = time.Now()
	p.recordBuffer = p.recordBuffer[:0]

	return nil
}

// createArrowRecord converts buffered records to a single Arrow record.
// Missing and null fields both become Arrow nulls.
func (p *ParquetWriter) createArrowRecord(records []gosquash.Record) (arrow.Record, error) {
	for _, record := range records {
		for i, fieldName := range p.fieldOrder {
			value, exists := record[fieldName]

			if !exists || value == nil {
				p.appendNull(i, fieldName)
				continue
			}

			if err := p.appendValue(p.builders[i], value, fieldName); err != nil {
				return nil, err
			}
		}
	}

	arrays := make([]arrow.Array, len(p.builders))
	for i, builder := range p.builders {
		arrays[i] = builder.NewArray()
		defer arrays[i].Release()
	}

	return array.NewRecord(p.schema, arrays, int64(len(records))), nil
}

func (p *ParquetWriter) appendNull(builderIdx int, fieldName string) {
	p.builders[builderIdx].AppendNull()
	p.stats.NullValueCounts[fieldName]++
}

// appendValue appends a value to the column builder. Type mismatches
// become nulls unless schema validation is enabled, which rejects them
// before buffering.
func (p *ParquetWriter) appendValue(builder array.Builder, value interface{}, fieldName string) error {
	idx := p.fieldIndexMap[fieldName]

	switch b := builder.(type) {
	case *array.BooleanBuilder:
		if v, ok := value.(bool); ok {
			b.Append(v)
		} else {
			p.appendNull(idx, fieldName)
		}
	case *array.Int8Builder:
		if v, ok := value.(int8); ok {
			b.Append(v)
		} else {
			p.appendNull(idx, fieldName)
		}
	case *array.Int16Builder:
		if v, ok := value.(int16); ok {
			b.Append(v)
		} else {
			p.appendNull(idx, fieldName)
		}
	case *array.Int32Builder:
		switch v := value.(type) {
		case int32:
			b.Append(v)
		case int:
			if v < math.MinInt32 || v > math.MaxInt32 {
				return &ParquetWriterError{
					Op:  "append_value",
					Err: fmt.Errorf("int value %d out of range for int32 field %s", v, fieldName),
				}
			}
			b.Append(int32(v))
		default:
			p.appendNull(idx, fieldName)
		}
	case *array.Int64Builder:
		switch v := value.(type) {
		case int64:
			b.Append(v)
		case int:
			b.Append(int64(v))
		default:
			p.appendNull(idx, fieldName)
		}
	case *array.Float32Builder:
		switch v := value.(type) {
		case float32:
			b.Append(v)
		case float64:
			b.Append(float32(v))
		default:
			p.appendNull(idx, fieldName)
		}
	case *array.Float64Builder:
		switch v := value.(type) {
		case float64:
			b.Append(v)
		case float32:
			b.Append(float64(v))
		default:
			p.appendNull(idx, fieldName)
		}
	case *array.StringBuilder:
		switch v := value.(type) {
		case string:
			b.Append(v)
		case []byte:
			b.Append(string(v))
		case json.RawMessage:
			b.Append(string(v))
		default:
			b.Append(fmt.Sprintf("%v", value))
		}
	case *array.BinaryBuilder:
		switch v := value.(type) {
		case []byte:
			b.Append(v)
		case string:
			b.Append([]byte(v))
		default:
			p.appendNull(idx, fieldName)
		}
	case *array.TimestampBuilder:
		v, ok := value.(time.Time)
		if !ok {
			p.appendNull(idx, fieldName)
			break
		}
		unit := arrow.Microsecond
		if indices := p.schema.FieldIndices(fieldName); len(indices) > 0 {
			if tt, ok := p.schema.Field(indices[0]).Type.(*arrow.TimestampType); ok {
				unit = tt.Unit
			}
		}
		switch unit {
		case arrow.Second:
			b.Append(arrow.Timestamp(v.Unix()))
		case arrow.Millisecond:
			b.Append(arrow.Timestamp(v.UnixMilli()))
		case arrow.Nanosecond:
			b.Append(arrow.Timestamp(v.UnixNano()))
		default:
			b.Append(arrow.Timestamp(v.UnixMicro()))
		}
	default:
		return &ParquetWriterError{
			Op:  "append_value",
			Err: fmt.Errorf("unsupported builder type for field %s", fieldName),
		}
	}
	return nil
}

// validateRecord checks each present field of a record against the schema.
// Missing fields are allowed and become nulls.
func (p *ParquetWriter) validateRecord(record gosquash.Record) error {
	for _, field := range p.schema.Fields() {
		value, exists := record[field.Name]
		if !exists || value == nil {
			continue
		}

		if err := validateFieldType(field, value); err != nil {
			return &ParquetWriterError{
				Op:  "validate",
				Err: fmt.Errorf("field %s: %w", field.Name, err),
			}
		}
	}
	return nil
}

func validateFieldType(field arrow.Field, value interface{}) error {
	switch field.Type.ID() {
	case arrow.BOOL:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
	case arrow.INT8:
		if _, ok := value.(int8); !ok {
			return fmt.Errorf("expected int8, got %T", value)
		}
	case arrow.INT16:
		if _, ok := value.(int16); !ok {
			return fmt.Errorf("expected int16, got %T", value)
		}
	case arrow.INT32:
		switch value.(type) {
		case int, int32:
		default:
			return fmt.Errorf("expected int/int32, got %T", value)
		}
	case arrow.INT64:
		switch value.(type) {
		case int, int64:
		default:
			return fmt.Errorf("expected int/int64, got %T", value)
		}
	case arrow.FLOAT32, arrow.FLOAT64:
		switch value.(type) {
		case float32, float64:
		default:
			return fmt.Errorf("expected float32/float64, got %T", value)
		}
	case arrow.STRING:
		switch value.(type) {
		case string, []byte, json.RawMessage:
		default:
			return fmt.Errorf("expected string, got %T", value)
		}
	case arrow.BINARY:
		switch value.(type) {
		case []byte, string:
		default:
			return fmt.Errorf("expected bytes, got %T", value)
		}
	case arrow.TIMESTAMP:
		if _, ok := value.(time.Time); !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
	default:
		return fmt.Errorf("unsupported arrow type %s for validation", field.Type.String())
	}
	return nil
}

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

package gosquash

import (
	"github.com/aaronlmathis/gosquash/aggregate"
	"github.com/aaronlmathis/gosquash/core"
)

// Package gosquash defines the public interface surface of the GoSquash library.
//
// GoSquash is a high-performance, interface-driven library for folding ordered
// streams of versioned records ("revisions") into their effective current values,
// designed for streaming large revision logs efficiently with extensibility and type safety.
//
// The canonical definitions live in the core package; the root package re-exports
// them as aliases so that sources, sinks, transformers, and aggregators built
// against either import path are interchangeable.

// Record represents a single data record in the pipeline.
// Each record is a map from field names to values, supporting heterogeneous data.
// A nil value means the field is null for this record.
type Record = core.Record

// DataSource defines the interface for record extraction.
// Implementations stream records from a source (e.g., CSV, Parquet, PostgreSQL).
type DataSource = core.DataSource

// DataSink defines the interface for record loading.
// Implementations write records to a destination (e.g., CSV, Parquet, PostgreSQL).
type DataSink = core.DataSink

// Transformer defines the interface for record transformation operations.
// Transformers modify or enrich records as they pass through the pipeline.
type Transformer = core.Transformer

// TransformFunc is a function adapter for the Transformer interface.
// Allows ordinary functions to be used as Transformers.
type TransformFunc = core.TransformFunc

// Filter defines the interface for record filtering.
// Filters determine whether a record should be included in the output.
type Filter = core.Filter

// FilterFunc is a function adapter for the Filter interface.
// Allows ordinary functions to be used as Filters.
type FilterFunc = core.FilterFunc

// Aggregator defines the interface for record aggregation operations.
// Aggregators fold multiple records and produce a summary or grouped result.
type Aggregator = aggregate.Aggregator

// ErrorStrategy defines how to handle transformation errors in the pipeline.
type ErrorStrategy = core.ErrorStrategy

const (
	// FailFast stops processing on the first error encountered.
	FailFast = core.FailFast
	// SkipErrors continues processing, skipping failed records.
	SkipErrors = core.SkipErrors
	// CollectErrors continues processing, collecting all errors for later inspection.
	CollectErrors = core.CollectErrors
)

// ErrorHandler defines how errors are handled during processing.
// Custom error handlers can be used to log, collect, or transform errors.
type ErrorHandler = core.ErrorHandler

// ErrorHandlerFunc is a function adapter for the ErrorHandler interface.
// Allows ordinary functions to be used as error handlers.
type ErrorHandlerFunc = core.ErrorHandlerFunc

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
)

// Package aggregate provides the grouped aggregation engine and the built-in
// aggregators, including the coalesce aggregator that folds revision streams
// into their most recent non-null values.
//
// Aggregators are fed records one at a time in arrival order. Within a group
// that order is the caller's contract; the engine never reorders records.

// Aggregator defines the interface for record aggregation operations.
// Aggregators fold multiple records and produce a summary result.
//
// An Aggregator instance holds fold state for exactly one group and is not
// safe for concurrent use; the engine clones one instance per group and feeds
// each from a single goroutine.
type Aggregator interface {
	// Add folds a record into the aggregation state.
	Add(ctx context.Context, record core.Record) error
	// Result returns the aggregated result as a Record.
	Result() (core.Record, error)
	// Reset clears the aggregator state for reuse.
	Reset()
}

// Cloner is implemented by aggregators that can produce a fresh instance of
// themselves with the same configuration and empty state. GroupBy uses it to
// stamp out one aggregator per group from the registered prototypes.
type Cloner interface {
	Clone() Aggregator
}

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

package state

import (
	"context"
	"fmt"

	"github.com/aaronlmathis/gosquash/core"
)

// Package state provides durable backends for per-group fold state.
//
// A Squasher keeps one current-state record per group. The Store interface
// abstracts where those records live: in memory for bounded workloads, or in
// an embedded key-value database when group cardinality exceeds memory or a
// fold must survive restarts.

// StoreError wraps structured error information for a state store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("state store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store persists per-group state records keyed by encoded group key.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the state for key, a flag reporting whether it exists,
	// and any backend error. A missing key is not an error.
	Load(ctx context.Context, key string) (core.Record, bool, error)
	// Save persists the state for key, replacing any previous state.
	Save(ctx context.Context, key string, state core.Record) error
	// Delete removes the state for key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
	// Range calls fn for every stored key and state, in store iteration
	// order. An error from fn aborts the iteration and is returned.
	Range(ctx context.Context, fn func(key string, state core.Record) error) error
	// Len reports the number of stored groups. Backends that must scan to
	// count report 0 on backend errors.
	Len() int
	// Close releases backend resources.
	Close() error
}

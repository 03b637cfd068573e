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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aaronlmathis/gosquash/aggregate"
	"github.com/aaronlmathis/gosquash/core"
	"github.com/aaronlmathis/gosquash/state"
)

// ErrSquasherClosed is returned by Write after the squasher has been closed.
var ErrSquasherClosed = errors.New("squasher is closed")

// SquashError wraps structured error information for the Squasher.
type SquashError struct {
	Op  string
	Err error
}

func (e *SquashError) Error() string {
	return fmt.Sprintf("squasher %s: %v", e.Op, e.Err)
}

func (e *SquashError) Unwrap() error {
	return e.Err
}

// SquasherStats holds statistics about the squasher's activity.
type SquasherStats struct {
	RecordsIn       int64
	Groups          int64
	FieldsCoalesced int64
	NullInputs      int64
	WriteDuration   time.Duration
	LastWriteTime   time.Time
}

// SquasherOptions configures a Squasher.
type SquasherOptions struct {
	// Store holds per-group state. Defaults to an in-memory store.
	Store state.Store
	// SequenceField, when set, makes the squasher retain the highest value
	// of that field seen per group in the emitted record. It is provenance
	// only; it never causes reordering.
	SequenceField string
}

// SquasherOption configures a Squasher.
type SquasherOption func(*SquasherOptions)

// WithStore sets the state backend. The store's lifecycle stays with its
// creator: closing the squasher does not close the store.
func WithStore(store state.Store) SquasherOption {
	return func(o *SquasherOptions) {
		o.Store = store
	}
}

// WithSequenceField names a revision-sequence field to carry through to the
// emitted records.
func WithSequenceField(name string) SquasherOption {
	return func(o *SquasherOptions) {
		o.SequenceField = name
	}
}

// Squasher folds an ordered revision stream into one current-state record per
// group: within a group the most recent non-null value of each field wins,
// and null values never overwrite earlier ones.
//
// Squasher implements DataSink, so it terminates a Pipeline. Unlike the
// GroupBy engine it never needs the whole input before emitting; state lives
// in a state.Store and can be snapshot or drained at any point, which makes
// it the unbounded-stream form of the coalesce fold.
//
// Revision order within a group is the caller's contract. The squasher folds
// records exactly in the order Write is called and never reorders them.
type Squasher struct {
	keyFields []string
	store     state.Store
	seqField  string
	stats     SquasherStats
	closed    bool
	mu        sync.Mutex
}

// NewSquasher creates a Squasher grouping records by the given key fields.
func NewSquasher(keyFields []string, options ...SquasherOption) (*Squasher, error) {
	if len(keyFields) == 0 {
		return nil, &SquashError{Op: "new", Err: errors.New("at least one key field is required")}
	}

	opts := SquasherOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Store == nil {
		opts.Store = state.NewMemoryStore()
	}

	s := &Squasher{
		keyFields: append([]string(nil), keyFields...),
		store:     opts.Store,
		seqField:  opts.SequenceField,
	}
	return s, nil
}

// Write implements the DataSink interface: it folds one revision into its
// group's state. A nil field value counts as null and is a no-op; a missing
// field carries no information and leaves state untouched.
func (s *Squasher) Write(ctx context.Context, record core.Record) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &SquashError{Op: "write", Err: ErrSquasherClosed}
	}

	key := aggregate.GroupKey(record, s.keyFields)

	current, found, err := s.store.Load(ctx, key)
	if err != nil {
		return &SquashError{Op: "write", Err: err}
	}
	if !found {
		current = make(core.Record, len(record))
		for _, field := range s.keyFields {
			if value, exists := record[field]; exists {
				current[field] = value
			}
		}
		s.stats.Groups++
	}

	for field, value := range record {
		if s.isKeyField(field) || field == s.seqField {
			continue
		}
		if value == nil {
			s.stats.NullInputs++
			continue
		}
		current[field] = value
		s.stats.FieldsCoalesced++
	}

	if s.seqField != "" {
		if value, exists := record[s.seqField]; exists && value != nil {
			current[s.seqField] = maxSequence(current[s.seqField], value)
		}
	}

	if err := s.store.Save(ctx, key, current); err != nil {
		return &SquashError{Op: "write", Err: err}
	}

	s.stats.RecordsIn++
	s.stats.WriteDuration += time.Since(start)
	s.stats.LastWriteTime = time.Now()
	return nil
}

// Flush implements the DataSink interface. State is saved on every write, so
// there is nothing buffered to flush.
func (s *Squasher) Flush() error {
	return nil
}

// Close implements the DataSink interface. It stops further writes but keeps
// the state store open so the squashed result can still be snapshot or
// drained; the store is closed by whoever created it.
func (s *Squasher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Snapshot returns the current-state record of every group, leaving the
// store intact. Order follows the store's iteration order: first-seen for
// the in-memory store, lexicographic by group key for Badger.
func (s *Squasher) Snapshot(ctx context.Context) ([]core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]core.Record, 0, s.store.Len())
	err := s.store.Range(ctx, func(key string, current core.Record) error {
		records = append(records, current)
		return nil
	})
	if err != nil {
		return nil, &SquashError{Op: "snapshot", Err: err}
	}
	return records, nil
}

// Drain writes every group's current-state record to the sink and removes it
// from the store, returning the number of groups emitted. If the sink fails
// partway, already-written groups remain in the store; a retried drain
// re-emits them.
func (s *Squasher) Drain(ctx context.Context, sink core.DataSink) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	err := s.store.Range(ctx, func(key string, current core.Record) error {
		if err := sink.Write(ctx, current); err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return 0, &SquashError{Op: "drain", Err: err}
	}

	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			return len(keys), &SquashError{Op: "drain", Err: err}
		}
	}
	return len(keys), nil
}

// Groups reports the number of groups currently held in the state store.
func (s *Squasher) Groups() int {
	return s.store.Len()
}

// Stats returns a snapshot of squasher statistics.
func (s *Squasher) Stats() SquasherStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Squasher) isKeyField(field string) bool {
	for _, key := range s.keyFields {
		if key == field {
			return true
		}
	}
	return false
}

// maxSequence keeps the larger of two sequence values, comparing numerically
// when both convert and lexicographically for strings. When values are
// incomparable the incoming value wins, matching the ordering contract that
// later writes carry later sequences.
func maxSequence(current, incoming interface{}) interface{} {
	if current == nil {
		return incoming
	}

	cf, cerr := toFloat(current)
	nf, nerr := toFloat(incoming)
	if cerr == nil && nerr == nil {
		if cf > nf {
			return current
		}
		return incoming
	}

	cs, cok := current.(string)
	ns, nok := incoming.(string)
	if cok && nok {
		if cs > ns {
			return current
		}
		return incoming
	}

	return incoming
}

func toFloat(value interface{}) (float64, error) {
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

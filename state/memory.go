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
	"sync"

	"github.com/aaronlmathis/gosquash/core"
)

// MemoryStore is the default Store: a mutex-guarded map holding every group's
// state in process memory. Range iterates in insertion order, so emit order
// matches group first-seen order.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]core.Record
	order  []string
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]core.Record),
	}
}

// Load implements the Store interface. The returned record is a copy; callers
// may mutate it freely.
func (m *MemoryStore) Load(ctx context.Context, key string) (core.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, &StoreError{Op: "load", Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	state, exists := m.states[key]
	if !exists {
		return nil, false, nil
	}
	return copyRecord(state), true, nil
}

// Save implements the Store interface. The record is copied on the way in so
// later caller mutations cannot alias stored state.
func (m *MemoryStore) Save(ctx context.Context, key string, state core.Record) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "save", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.states[key]; !exists {
		m.order = append(m.order, key)
	}
	m.states[key] = copyRecord(state)
	return nil
}

// Delete implements the Store interface.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.states[key]; !exists {
		return nil
	}
	delete(m.states, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Range implements the Store interface, iterating in insertion order.
func (m *MemoryStore) Range(ctx context.Context, fn func(key string, state core.Record) error) error {
	m.mu.RLock()
	keys := make([]string, len(m.order))
	copy(keys, m.order)
	m.mu.RUnlock()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return &StoreError{Op: "range", Err: err}
		}

		m.mu.RLock()
		state, exists := m.states[key]
		var snapshot core.Record
		if exists {
			snapshot = copyRecord(state)
		}
		m.mu.RUnlock()

		// Deleted concurrently since the key snapshot was taken.
		if !exists {
			continue
		}
		if err := fn(key, snapshot); err != nil {
			return err
		}
	}
	return nil
}

// Len implements the Store interface.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// Close implements the Store interface and releases the held states.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]core.Record)
	m.order = nil
	return nil
}

func copyRecord(record core.Record) core.Record {
	out := make(core.Record, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}

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
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/aaronlmathis/gosquash/core"
)

// BadgerStore persists group state in an embedded Badger key-value database.
// It serves squash runs whose group cardinality exceeds memory and folds that
// must be resumable across process restarts.
//
// States are JSON-encoded, which normalizes numeric values: integers come
// back as float64 after a round-trip. Range iterates in lexicographic key
// order, not insertion order.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
}

// BadgerStoreOptions configures the Badger-backed store.
type BadgerStoreOptions struct {
	// InMemory runs Badger without disk persistence; the path is ignored.
	InMemory bool
	// SyncWrites makes every save durable before returning.
	SyncWrites bool
	// Prefix namespaces this store's keys within the database.
	Prefix string
	// Logger receives Badger's internal logging. Defaults to nil, which
	// keeps the library silent.
	Logger badger.Logger
}

// BadgerStoreOption configures a BadgerStore.
type BadgerStoreOption func(*BadgerStoreOptions)

// WithInMemory runs the store without disk persistence.
func WithInMemory() BadgerStoreOption {
	return func(o *BadgerStoreOptions) {
		o.InMemory = true
	}
}

// WithSyncWrites controls whether saves sync to disk before returning.
func WithSyncWrites(sync bool) BadgerStoreOption {
	return func(o *BadgerStoreOptions) {
		o.SyncWrites = sync
	}
}

// WithPrefix sets the key namespace for this store.
func WithPrefix(prefix string) BadgerStoreOption {
	return func(o *BadgerStoreOptions) {
		o.Prefix = prefix
	}
}

// WithBadgerLogger routes Badger's internal logging to the given logger.
func WithBadgerLogger(logger badger.Logger) BadgerStoreOption {
	return func(o *BadgerStoreOptions) {
		o.Logger = logger
	}
}

func badgerDefaults() BadgerStoreOptions {
	return BadgerStoreOptions{
		Prefix: "squash:",
	}
}

// NewBadgerStore opens (or creates) a Badger database at path and returns a
// Store backed by it. With WithInMemory the path is ignored.
func NewBadgerStore(path string, options ...BadgerStoreOption) (*BadgerStore, error) {
	opts := badgerDefaults()
	for _, opt := range options {
		opt(&opts)
	}

	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(path)
	}
	badgerOpts = badgerOpts.WithSyncWrites(opts.SyncWrites)
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}

	return &BadgerStore{
		db:     db,
		prefix: []byte(opts.Prefix),
	}, nil
}

// Load implements the Store interface.
func (b *BadgerStore) Load(ctx context.Context, key string) (core.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, &StoreError{Op: "load", Err: err}
	}

	var state core.Record
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.storeKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &state); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, false, &StoreError{Op: "load", Err: err}
	}
	if !found {
		return nil, false, nil
	}
	return state, true, nil
}

// Save implements the Store interface.
func (b *BadgerStore) Save(ctx context.Context, key string, state core.Record) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "save", Err: err}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return &StoreError{Op: "save", Err: err}
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.storeKey(key), data)
	})
	if err != nil {
		return &StoreError{Op: "save", Err: err}
	}
	return nil
}

// Delete implements the Store interface.
func (b *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.storeKey(key))
	})
	if err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// Range implements the Store interface, iterating keys under this store's
// prefix in lexicographic order.
func (b *BadgerStore) Range(ctx context.Context, fn func(key string, state core.Record) error) error {
	var fnErr error
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = b.prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			key := string(item.Key()[len(b.prefix):])
			var state core.Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			}); err != nil {
				return err
			}
			if err := fn(key, state); err != nil {
				fnErr = err
				return err
			}
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return &StoreError{Op: "range", Err: err}
	}
	return nil
}

// Len implements the Store interface by scanning keys under the prefix.
// Returns 0 if the scan fails.
func (b *BadgerStore) Len() int {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = b.prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0
	}
	return count
}

// Close implements the Store interface.
func (b *BadgerStore) Close() error {
	if err := b.db.Close(); err != nil {
		return &StoreError{Op: "close", Err: err}
	}
	return nil
}

func (b *BadgerStore) storeKey(key string) []byte {
	out := make([]byte, 0, len(b.prefix)+len(key))
	out = append(out, b.prefix...)
	out = append(out, key...)
	return out
}

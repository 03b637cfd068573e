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

// Package optional provides the Value[T] carrier used throughout GoSquash to
// distinguish "a value of type T is present" from "no value" (null).
//
// Records in a pipeline store nil for SQL NULL and JSON null; reducers and the
// squash engine operate on Value[T] so that absence is explicit in the type
// rather than encoded as a sentinel. A Value is immutable once constructed.
package optional

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value carries either a present value of type T or nothing at all.
// The zero Value is absent.
type Value[T any] struct {
	value   T
	present bool
}

// Of returns a present Value carrying v.
func Of[T any](v T) Value[T] {
	return Value[T]{value: v, present: true}
}

// None returns an absent Value of type T.
func None[T any]() Value[T] {
	return Value[T]{}
}

// FromAny converts an untyped pipeline value into a Value[T].
// A nil input, or an input that is not assignable to T, yields an absent
// Value; anything else is carried as present.
func FromAny[T any](v any) Value[T] {
	if v == nil {
		return None[T]()
	}
	typed, ok := v.(T)
	if !ok {
		return None[T]()
	}
	return Of(typed)
}

// FromPointer converts a possibly-nil pointer into a Value[T].
func FromPointer[T any](p *T) Value[T] {
	if p == nil {
		return None[T]()
	}
	return Of(*p)
}

// Present reports whether the Value carries data.
func (v Value[T]) Present() bool {
	return v.present
}

// Absent reports whether the Value carries no data.
func (v Value[T]) Absent() bool {
	return !v.present
}

// Get returns the carried value and whether it is present.
// When absent, the returned value is the zero value of T.
func (v Value[T]) Get() (T, bool) {
	return v.value, v.present
}

// OrElse returns the carried value when present, otherwise fallback.
func (v Value[T]) OrElse(fallback T) T {
	if v.present {
		return v.value
	}
	return fallback
}

// Interface returns the carried value as an untyped pipeline value:
// nil when absent, the value itself when present. This is the inverse of
// FromAny for values that were assignable to T.
func (v Value[T]) Interface() any {
	if !v.present {
		return nil
	}
	return v.value
}

// Equal reports whether two Values are equal: both absent, or both present
// and carrying equal values. Intended for comparable T; for other types it
// falls back to formatted comparison.
func Equal[T comparable](a, b Value[T]) bool {
	if a.present != b.present {
		return false
	}
	if !a.present {
		return true
	}
	return a.value == b.value
}

// String renders the Value for logs and test failures.
func (v Value[T]) String() string {
	if !v.present {
		return "absent"
	}
	return fmt.Sprintf("present(%v)", v.value)
}

var jsonNull = []byte("null")

// MarshalJSON encodes the carried value, or null when absent. Used by the
// durable state store to persist fold state.
func (v Value[T]) MarshalJSON() ([]byte, error) {
	if !v.present {
		return jsonNull, nil
	}
	return json.Marshal(v.value)
}

// UnmarshalJSON decodes null as absent and anything else as a present T.
func (v *Value[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*v = None[T]()
		return nil
	}
	var decoded T
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*v = Of(decoded)
	return nil
}

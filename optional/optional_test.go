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

package optional

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_PresenceAccessors(t *testing.T) {
	present := Of(42)
	assert.True(t, present.Present())
	assert.False(t, present.Absent())

	got, ok := present.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, got)

	absent := None[int]()
	assert.False(t, absent.Present())
	assert.True(t, absent.Absent())

	got, ok = absent.Get()
	assert.False(t, ok)
	assert.Zero(t, got)
}

func TestValue_ZeroValueIsAbsent(t *testing.T) {
	var v Value[string]
	assert.True(t, v.Absent())
	assert.Nil(t, v.Interface())
}

func TestValue_OrElse(t *testing.T) {
	assert.Equal(t, "kept", Of("kept").OrElse("fallback"))
	assert.Equal(t, "fallback", None[string]().OrElse("fallback"))
}

func TestFromAny(t *testing.T) {
	t.Run("nil_is_absent", func(t *testing.T) {
		assert.True(t, FromAny[int](nil).Absent())
	})

	t.Run("matching_type_is_present", func(t *testing.T) {
		v := FromAny[string]("hello")
		got, ok := v.Get()
		assert.True(t, ok)
		assert.Equal(t, "hello", got)
	})

	t.Run("mismatched_type_is_absent", func(t *testing.T) {
		assert.True(t, FromAny[int]("not an int").Absent())
	})
}

func TestFromPointer(t *testing.T) {
	n := 7
	assert.Equal(t, Of(7), FromPointer(&n))
	assert.True(t, FromPointer[int](nil).Absent())
}

func TestValue_Interface(t *testing.T) {
	assert.Equal(t, 5, Of(5).Interface())
	assert.Nil(t, None[int]().Interface())

	// A present zero value is still present, not nil.
	assert.Equal(t, 0, Of(0).Interface())
	assert.Equal(t, "", Of("").Interface())
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Of(1), Of(1)))
	assert.False(t, Equal(Of(1), Of(2)))
	assert.True(t, Equal(None[int](), None[int]()))
	assert.False(t, Equal(Of(0), None[int]()))
}

func TestValue_String(t *testing.T) {
	assert.Equal(t, "present(5)", Of(5).String())
	assert.Equal(t, "absent", None[int]().String())
}

func TestValue_JSONRoundTrip(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		data, err := json.Marshal(Of("alice"))
		require.NoError(t, err)
		assert.Equal(t, `"alice"`, string(data))

		var decoded Value[string]
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, Of("alice"), decoded)
	})

	t.Run("absent_is_null", func(t *testing.T) {
		data, err := json.Marshal(None[float64]())
		require.NoError(t, err)
		assert.Equal(t, "null", string(data))

		var decoded Value[float64]
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.True(t, decoded.Absent())
	})

	t.Run("inside_struct", func(t *testing.T) {
		type snapshot struct {
			Email Value[string] `json:"email"`
			Age   Value[int]    `json:"age"`
		}
		in := snapshot{Email: Of("a@b.c"), Age: None[int]()}

		data, err := json.Marshal(in)
		require.NoError(t, err)
		assert.JSONEq(t, `{"email":"a@b.c","age":null}`, string(data))

		var out snapshot
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, in, out)
	})
}

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
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gosquash"
	"github.com/aaronlmathis/gosquash/readers"
)

func TestJSONWriter_WritesOneLinePerRecord(t *testing.T) {
	mock := newMockWriteCloser()
	writer := NewJSONWriter(mock)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 1, "title": "Home"}))
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 2, "title": "FAQ"}))
	require.NoError(t, writer.Close())

	lines := strings.Split(strings.TrimSpace(mock.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "Home", first["title"])
	assert.True(t, mock.IsClosed())
}

func TestJSONWriter_KeepsExplicitNulls(t *testing.T) {
	mock := newMockWriteCloser()
	writer := NewJSONWriter(mock)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 1, "title": nil}))
	require.NoError(t, writer.Close())

	line := strings.TrimSpace(mock.String())
	assert.Contains(t, line, `"title":null`)
}

func TestJSONWriter_RoundTripThroughReader(t *testing.T) {
	mock := newMockWriteCloser()
	writer := NewJSONWriter(mock)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 1, "title": "Home", "content": nil}))
	require.NoError(t, writer.Close())

	reader := readers.NewJSONReader(io.NopCloser(strings.NewReader(mock.String())))
	defer reader.Close()

	record, err := reader.Read(ctx)
	require.NoError(t, err)

	// JSON numbers decode as float64.
	assert.Equal(t, float64(1), record["page_id"])
	assert.Equal(t, "Home", record["title"])
	val, present := record["content"]
	assert.True(t, present)
	assert.Nil(t, val)

	_, err = reader.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestJSONWriter_ContextCancellation(t *testing.T) {
	mock := newMockWriteCloser()
	writer := NewJSONWriter(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := writer.Write(ctx, gosquash.Record{"page_id": 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJSONWriter_PropagatesWriteErrors(t *testing.T) {
	mock := newMockWriteCloser()
	mock.failWrite = true
	writer := NewJSONWriter(mock)

	err := writer.Write(context.Background(), gosquash.Record{"page_id": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

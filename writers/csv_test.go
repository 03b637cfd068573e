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
	"encoding/csv"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gosquash"
	"github.com/aaronlmathis/gosquash/readers"
)

type mockWriteCloser struct {
	*strings.Builder
	closed    bool
	failWrite bool
	mu        sync.Mutex
}

func newMockWriteCloser() *mockWriteCloser {
	return &mockWriteCloser{Builder: &strings.Builder{}}
}

func (m *mockWriteCloser) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return 0, io.ErrUnexpectedEOF
	}
	return m.Builder.Write(p)
}

func (m *mockWriteCloser) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockWriteCloser) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Builder.String()
}

func (m *mockWriteCloser) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func parseCSV(t *testing.T, output string) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(output)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVWriter_HeaderFromFirstRecord(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock)
	require.NoError(t, err)

	ctx := context.Background()
	err = writer.Write(ctx, gosquash.Record{
		"title":   "Getting Started",
		"page_id": 1,
		"content": "hello",
	})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	rows := parseCSV(t, mock.String())
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"content", "page_id", "title"}, rows[0])
	assert.Equal(t, []string{"hello", "1", "Getting Started"}, rows[1])
	assert.True(t, mock.IsClosed())
}

func TestCSVWriter_ExplicitHeaderOrder(t *testing.T) {
	mock := newMockWriteCloser()
	headers := []string{"page_id", "title", "updated_by"}
	writer, err := NewCSVWriter(mock, WithHeaders(headers))
	require.NoError(t, err)

	ctx := context.Background()
	err = writer.Write(ctx, gosquash.Record{
		"page_id":    7,
		"title":      "FAQ",
		"updated_by": "alice",
	})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	rows := parseCSV(t, mock.String())
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, []string{"7", "FAQ", "alice"}, rows[1])
}

func TestCSVWriter_NullsBecomeEmptyCells(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock, WithHeaders([]string{"page_id", "title", "content"}))
	require.NoError(t, err)

	ctx := context.Background()
	// Explicit null title, content absent entirely.
	err = writer.Write(ctx, gosquash.Record{
		"page_id": 1,
		"title":   nil,
	})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	rows := parseCSV(t, mock.String())
	assert.Equal(t, []string{"1", "", ""}, rows[1])
}

func TestCSVWriter_NullLiteral(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock,
		WithHeaders([]string{"page_id", "title"}),
		WithNullLiteral("NULL"),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 1, "title": nil}))
	require.NoError(t, writer.Close())

	rows := parseCSV(t, mock.String())
	assert.Equal(t, []string{"1", "NULL"}, rows[1])
}

func TestCSVWriter_RoundTripNullsThroughReader(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock,
		WithHeaders([]string{"page_id", "title"}),
		WithNullLiteral("NULL"),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 1, "title": "Home"}))
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 2, "title": nil}))
	require.NoError(t, writer.Close())

	reader, err := readers.NewCSVReader(
		io.NopCloser(strings.NewReader(mock.String())),
		readers.WithCSVNullLiterals("NULL"),
	)
	require.NoError(t, err)
	defer reader.Close()

	first, err := reader.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", first["title"])

	second, err := reader.Read(ctx)
	require.NoError(t, err)
	val, present := second["title"]
	assert.True(t, present)
	assert.Nil(t, val)
}

func TestCSVWriter_BatchFlushMakesRowsVisible(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock, WithCSVBatchSize(2))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 1}))
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 2}))

	// Batch of 2 is full, rows are flushed before Close.
	rows := parseCSV(t, mock.String())
	require.Len(t, rows, 3)

	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 3}))
	require.NoError(t, writer.Close())

	rows = parseCSV(t, mock.String())
	assert.Len(t, rows, 4)
}

func TestCSVWriter_CustomDelimiter(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock,
		WithHeaders([]string{"page_id", "title"}),
		WithComma('\t'),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 1, "title": "Home"}))
	require.NoError(t, writer.Close())

	lines := strings.Split(strings.TrimSpace(mock.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "page_id\ttitle", lines[0])
	assert.Equal(t, "1\tHome", lines[1])
}

func TestCSVWriter_Stats(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock, WithHeaders([]string{"page_id", "title"}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 1, "title": "Home"}))
	require.NoError(t, writer.Write(ctx, gosquash.Record{"page_id": 2, "title": nil}))
	require.NoError(t, writer.Close())

	stats := writer.Stats()
	assert.Equal(t, int64(2), stats.RecordsWritten)
	assert.Equal(t, int64(1), stats.NullValueCounts["title"])

	// Mutating the returned map must not affect the writer.
	stats.NullValueCounts["title"] = 99
	assert.Equal(t, int64(1), writer.Stats().NullValueCounts["title"])
}

func TestCSVWriter_ErrorStatePersists(t *testing.T) {
	mock := newMockWriteCloser()
	mock.failWrite = true
	writer, err := NewCSVWriter(mock, WithCSVBatchSize(1))
	require.NoError(t, err)

	ctx := context.Background()
	err = writer.Write(ctx, gosquash.Record{"page_id": 1})
	require.Error(t, err)

	var writerErr *CSVWriterError
	require.ErrorAs(t, err, &writerErr)

	err = writer.Write(ctx, gosquash.Record{"page_id": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error state")
}

func TestCSVWriter_ContextCancellation(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = writer.Write(ctx, gosquash.Record{"page_id": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

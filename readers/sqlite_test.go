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

package readers

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedRevisionDB creates a SQLite file with a small revision table
func seedRevisionDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "revisions.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE revisions (
		rev_id INTEGER PRIMARY KEY,
		page_id INTEGER NOT NULL,
		title TEXT,
		content TEXT
	)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO revisions (rev_id, page_id, title, content) VALUES
		(1, 10, 'Home', 'v1'),
		(2, 10, NULL, 'v2'),
		(3, 11, 'About', NULL)`)
	require.NoError(t, err)

	return path
}

func TestSQLiteReader_StreamsRowsInQueryOrder(t *testing.T) {
	path := seedRevisionDB(t)

	reader, err := NewSQLiteReader(
		WithSQLitePath(path),
		WithSQLiteQuery("SELECT rev_id, page_id, title, content FROM revisions ORDER BY rev_id"),
	)
	require.NoError(t, err)
	defer reader.Close()

	ctx := context.Background()

	first, err := reader.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first["rev_id"])
	assert.Equal(t, "Home", first["title"])

	second, err := reader.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second["rev_id"])
	// NULL column is present with nil, not missing
	val, exists := second["title"]
	assert.True(t, exists)
	assert.Nil(t, val)

	third, err := reader.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), third["rev_id"])
	assert.Nil(t, third["content"])

	_, err = reader.Read(ctx)
	assert.Equal(t, io.EOF, err)

	stats := reader.Stats()
	assert.Equal(t, int64(3), stats.RecordsRead)
	assert.Equal(t, int64(1), stats.NullValueCounts["title"])
	assert.Equal(t, int64(1), stats.NullValueCounts["content"])
}

func TestSQLiteReader_QueryParameters(t *testing.T) {
	path := seedRevisionDB(t)

	reader, err := NewSQLiteReader(
		WithSQLitePath(path),
		WithSQLiteQuery("SELECT rev_id FROM revisions WHERE page_id = ? ORDER BY rev_id", 10),
	)
	require.NoError(t, err)
	defer reader.Close()

	ctx := context.Background()
	var ids []int64
	for {
		record, err := reader.Read(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		ids = append(ids, record["rev_id"].(int64))
	}
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestSQLiteReader_Validation(t *testing.T) {
	_, err := NewSQLiteReader(WithSQLiteQuery("SELECT 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")

	_, err = NewSQLiteReader(WithSQLitePath(":memory:"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query is required")
}

func TestSQLiteReader_ContextCancellation(t *testing.T) {
	path := seedRevisionDB(t)

	reader, err := NewSQLiteReader(
		WithSQLitePath(path),
		WithSQLiteQuery("SELECT rev_id FROM revisions"),
	)
	require.NoError(t, err)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = reader.Read(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

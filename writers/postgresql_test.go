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
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gosquash"
)

func TestPostgresWriterOptionValidation(t *testing.T) {
	_, err := NewPostgresWriter(WithTableName("page_state"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is required")

	_, err = NewPostgresWriter(WithPostgresDSN("postgres://localhost/test"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table name is required")

	_, err = NewPostgresWriter(
		WithPostgresDSN("postgres://localhost/test"),
		WithTableName("page_state"),
		WithConflictResolution(ConflictUpdate, nil, nil),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict columns required")
}

func TestQuoteQualified(t *testing.T) {
	assert.Equal(t, `"page_state"`, quoteQualified("page_state"))
	assert.Equal(t, `"audit"."page_state"`, quoteQualified("audit.page_state"))
	assert.Equal(t, `"weird""name"`, quoteQualified(`weird"name`))
}

func TestInferSQLType(t *testing.T) {
	assert.Equal(t, "BIGINT", inferSQLType(int64(1)))
	assert.Equal(t, "BIGINT", inferSQLType(7))
	assert.Equal(t, "DOUBLE PRECISION", inferSQLType(3.14))
	assert.Equal(t, "BOOLEAN", inferSQLType(true))
	assert.Equal(t, "TIMESTAMPTZ", inferSQLType(time.Now()))
	assert.Equal(t, "BYTEA", inferSQLType([]byte{0x1}))
	assert.Equal(t, "JSONB", inferSQLType(json.RawMessage(`{}`)))
	assert.Equal(t, "TEXT", inferSQLType("hello"))
	assert.Equal(t, "TEXT", inferSQLType(nil))
}

func TestConvertSQLParam(t *testing.T) {
	assert.Nil(t, convertSQLParam(nil))
	assert.Equal(t, int64(7), convertSQLParam(7))
	assert.Equal(t, int64(7), convertSQLParam(int32(7)))
	assert.Equal(t, int64(7), convertSQLParam(uint16(7)))
	assert.Equal(t, float64(float32(1.5)), convertSQLParam(float32(1.5)))
	assert.Equal(t, "hi", convertSQLParam("hi"))
	assert.Equal(t, []byte(`{"a":1}`), convertSQLParam(json.RawMessage(`{"a":1}`)))
}

func TestPostgresWriterError(t *testing.T) {
	inner := fmt.Errorf("duplicate key")
	err := &PostgresWriterError{Op: "flush_batch", Err: inner}
	assert.Equal(t, "postgres writer flush_batch: duplicate key", err.Error())
	assert.ErrorIs(t, err, inner)
}

// TestPostgresWriterIntegration exercises snapshot upserts against a
// live database. Set POSTGRES_TEST_DSN to run.
func TestPostgresWriterIntegration(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	table := fmt.Sprintf("gosquash_writer_test_%d", time.Now().UnixNano())
	writer, err := NewPostgresSnapshotWriter(dsn, table, []string{"page_id"},
		WithPostgresBatchSize(2),
	)
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer func() {
		db.Exec("DROP TABLE IF EXISTS " + quoteQualified(table))
		db.Close()
	}()

	ctx := context.Background()
	records := []gosquash.Record{
		{"page_id": int64(1), "title": "Home", "content": "v1"},
		{"page_id": int64(2), "title": "FAQ", "content": nil},
		// Same key again: the row must be overwritten, not duplicated.
		{"page_id": int64(1), "title": "Home v2", "content": "v2"},
	}
	for _, rec := range records {
		require.NoError(t, writer.Write(ctx, rec))
	}
	require.NoError(t, writer.Close())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+quoteQualified(table)).Scan(&count))
	assert.Equal(t, 2, count)

	var title string
	require.NoError(t, db.QueryRow(
		"SELECT title FROM "+quoteQualified(table)+" WHERE page_id = 1").Scan(&title))
	assert.Equal(t, "Home v2", title)

	var content sql.NullString
	require.NoError(t, db.QueryRow(
		"SELECT content FROM "+quoteQualified(table)+" WHERE page_id = 2").Scan(&content))
	assert.False(t, content.Valid)
}

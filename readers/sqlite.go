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
	"fmt"
	"io"
	"time"

	"github.com/aaronlmathis/gosquash/core"
	_ "modernc.org/sqlite" // SQLite driver, pure Go
)

// SQLiteReader implements core.DataSource for SQLite databases. Local
// revision logs often live in a single .db file; this reader streams a
// query over one without cgo.
type SQLiteReader struct {
	db          *sql.DB
	rows        *sql.Rows
	columnNames []string
	columnTypes []*sql.ColumnType
	scanBuffer  []interface{}
	values      []interface{}
	stats       SQLiteReaderStats
	isFinished  bool
}

// SQLiteReaderError provides structured error information for SQLite reader operations
type SQLiteReaderError struct {
	Op  string
	Err error
}

func (e *SQLiteReaderError) Error() string {
	return fmt.Sprintf("sqlite reader %s: %v", e.Op, e.Err)
}

func (e *SQLiteReaderError) Unwrap() error {
	return e.Err
}

// SQLiteReaderStats holds statistics about the SQLite reader's progress
type SQLiteReaderStats struct {
	RecordsRead     int64
	QueryDuration   time.Duration
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// SQLiteReaderOptions configures the SQLite reader
type SQLiteReaderOptions struct {
	Path   string        // Database file path, or ":memory:"
	Query  string        // SQL query to execute
	Params []interface{} // Optional query parameters
}

// SQLiteReaderOption represents a configuration function for SQLiteReaderOptions
type SQLiteReaderOption func(*SQLiteReaderOptions)

// WithSQLitePath sets the database file path.
func WithSQLitePath(path string) SQLiteReaderOption {
	return func(opts *SQLiteReaderOptions) {
		opts.Path = path
	}
}

// WithSQLiteQuery sets the SQL query and optional parameters.
func WithSQLiteQuery(query string, params ...interface{}) SQLiteReaderOption {
	return func(opts *SQLiteReaderOptions) {
		opts.Query = query
		if len(params) > 0 {
			opts.Params = make([]interface{}, len(params))
			copy(opts.Params, params)
		}
	}
}

// NewSQLiteReader opens the database and executes the query, ready for
// streaming reads. Row order follows the query; squashing revisions needs
// an ORDER BY on the sequence column.
func NewSQLiteReader(options ...SQLiteReaderOption) (*SQLiteReader, error) {
	opts := &SQLiteReaderOptions{}
	for _, option := range options {
		option(opts)
	}

	if opts.Path == "" {
		return nil, &SQLiteReaderError{Op: "validate", Err: fmt.Errorf("path is required")}
	}
	if opts.Query == "" {
		return nil, &SQLiteReaderError{Op: "validate", Err: fmt.Errorf("query is required")}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, &SQLiteReaderError{Op: "open", Err: err}
	}

	reader := &SQLiteReader{
		db:    db,
		stats: SQLiteReaderStats{NullValueCounts: make(map[string]int64)},
	}

	startTime := time.Now()
	reader.rows, err = db.Query(opts.Query, opts.Params...)
	if err != nil {
		db.Close()
		return nil, &SQLiteReaderError{Op: "query", Err: err}
	}
	reader.stats.QueryDuration = time.Since(startTime)

	reader.columnNames, err = reader.rows.Columns()
	if err != nil {
		reader.Close()
		return nil, &SQLiteReaderError{Op: "columns", Err: err}
	}
	reader.columnTypes, err = reader.rows.ColumnTypes()
	if err != nil {
		reader.Close()
		return nil, &SQLiteReaderError{Op: "column_types", Err: err}
	}

	numCols := len(reader.columnNames)
	reader.scanBuffer = make([]interface{}, numCols)
	reader.values = make([]interface{}, numCols)
	for i := range reader.scanBuffer {
		reader.scanBuffer[i] = &reader.values[i]
	}

	return reader, nil
}

// Read implements the core.DataSource interface
func (s *SQLiteReader) Read(ctx context.Context) (core.Record, error) {
	startTime := time.Now()
	defer func() {
		s.stats.ReadDuration += time.Since(startTime)
		s.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return nil, &SQLiteReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if s.isFinished || s.rows == nil {
		return nil, io.EOF
	}

	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, &SQLiteReaderError{Op: "read", Err: err}
		}
		s.isFinished = true
		return nil, io.EOF
	}

	if err := s.rows.Scan(s.scanBuffer...); err != nil {
		return nil, &SQLiteReaderError{Op: "scan", Err: err}
	}

	record := make(core.Record)
	for i, columnName := range s.columnNames {
		value := s.values[i]
		if value == nil {
			s.stats.NullValueCounts[columnName]++
			record[columnName] = nil
			continue
		}
		if b, ok := value.([]byte); ok {
			// SQLite TEXT can surface as []byte through database/sql
			if s.columnTypes[i].DatabaseTypeName() != "BLOB" {
				record[columnName] = string(b)
				continue
			}
		}
		record[columnName] = value
	}

	s.stats.RecordsRead++
	return record, nil
}

// Close releases the rows iterator and the database handle
func (s *SQLiteReader) Close() error {
	var errs []error
	if s.rows != nil {
		if err := s.rows.Close(); err != nil {
			errs = append(errs, err)
		}
		s.rows = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
		s.db = nil
	}
	if len(errs) > 0 {
		return &SQLiteReaderError{Op: "close", Err: fmt.Errorf("multiple errors: %v", errs)}
	}
	return nil
}

// Stats returns statistics about the SQLite reader's progress
func (s *SQLiteReader) Stats() SQLiteReaderStats {
	return s.stats
}

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
	"sync"
	"time"

	"github.com/aaronlmathis/gosquash/core"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// This file implements a streaming PostgreSQL reader for revision tables.
// It supports connection pooling, query parameterization, and server-side
// cursors for result sets too large to hold in a single rows iterator.
// Rows arrive in query order; a squash over revisions needs the query to
// ORDER BY its sequence column.

// PostgresReaderError provides structured error information for Postgres reader operations
type PostgresReaderError struct {
	Op  string // Operation that failed (e.g., "connect", "query", "scan", "read")
	Err error  // Underlying error
}

func (e *PostgresReaderError) Error() string {
	return fmt.Sprintf("postgres reader %s: %v", e.Op, e.Err)
}

func (e *PostgresReaderError) Unwrap() error {
	return e.Err
}

// PostgresReader implements core.DataSource for PostgreSQL databases.
type PostgresReader struct {
	mu          sync.Mutex
	db          *sql.DB
	tx          *sql.Tx
	rows        *sql.Rows
	columnNames []string
	columnTypes []*sql.ColumnType
	scanBuffer  []interface{}
	values      []interface{}
	query       string
	params      []interface{}
	batchSize   int
	usingCursor bool
	cursorName  string
	rowsInBatch int
	stats       PostgresReaderStats
	isFinished  bool
}

// PostgresReaderStats holds statistics about the Postgres reader's performance
type PostgresReaderStats struct {
	RecordsRead     int64
	BatchesFetched  int64
	QueryDuration   time.Duration
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
	ConnectionTime  time.Duration
}

// PostgresReaderOptions configures the Postgres reader
type PostgresReaderOptions struct {
	DSN             string        // Database connection string
	Query           string        // SQL query to execute
	Params          []interface{} // Optional query parameters
	BatchSize       int           // Rows per FETCH when using a cursor
	ConnMaxLifetime time.Duration // Maximum connection lifetime
	ConnMaxIdleTime time.Duration // Maximum connection idle time
	MaxOpenConns    int           // Maximum open connections
	MaxIdleConns    int           // Maximum idle connections
	QueryTimeout    time.Duration // Query execution timeout
	UseCursor       bool          // Use server-side cursor for large results
	CursorName      string        // Name for the cursor (if UseCursor is true)
}

// PostgresReaderOption represents a configuration function for PostgresReaderOptions
type PostgresReaderOption func(*PostgresReaderOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.DSN = dsn
	}
}

// WithPostgresQuery sets the SQL query and optional parameters.
func WithPostgresQuery(query string, params ...interface{}) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.Query = query
		if len(params) > 0 {
			opts.Params = make([]interface{}, len(params))
			copy(opts.Params, params)
		}
	}
}

// WithPostgresBatchSize sets the number of rows fetched per cursor batch.
func WithPostgresBatchSize(size int) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.BatchSize = size
	}
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen, maxIdle int) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
	}
}

// WithPostgresConnectionTimeout sets connection and idle timeouts.
func WithPostgresConnectionTimeout(lifetime, idleTime time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.ConnMaxLifetime = lifetime
		opts.ConnMaxIdleTime = idleTime
	}
}

// WithPostgresQueryTimeout sets the query execution timeout.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.QueryTimeout = timeout
	}
}

// WithPostgresCursor enables server-side cursor streaming for large results.
func WithPostgresCursor(useCursor bool, cursorName string) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.UseCursor = useCursor
		opts.CursorName = cursorName
	}
}

// NewPostgresReader creates a new PostgreSQL reader with the given options.
// Returns a ready-to-use reader or an error.
func NewPostgresReader(options ...PostgresReaderOption) (*PostgresReader, error) {
	opts := (&PostgresReaderOptions{}).withDefaults()
	for _, option := range options {
		option(opts)
	}
	return createPostgresReader(opts)
}

// createPostgresReader initializes the PostgreSQL reader with the given options
func createPostgresReader(opts *PostgresReaderOptions) (*PostgresReader, error) {
	if opts.DSN == "" {
		return nil, &PostgresReaderError{Op: "validate", Err: fmt.Errorf("dsn is required")}
	}
	if opts.Query == "" {
		return nil, &PostgresReaderError{Op: "validate", Err: fmt.Errorf("query is required")}
	}

	startTime := time.Now()
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, &PostgresReaderError{Op: "connect", Err: err}
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	ctx := context.Background()
	if opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.QueryTimeout)
		defer cancel()
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &PostgresReaderError{Op: "ping", Err: err}
	}

	connectionTime := time.Since(startTime)

	reader := &PostgresReader{
		db:          db,
		query:       opts.Query,
		params:      opts.Params,
		batchSize:   opts.BatchSize,
		usingCursor: opts.UseCursor,
		cursorName:  opts.CursorName,
		stats: PostgresReaderStats{
			NullValueCounts: make(map[string]int64),
			ConnectionTime:  connectionTime,
		},
	}

	if err := reader.executeQuery(ctx); err != nil {
		reader.Close()
		return nil, err
	}

	return reader, nil
}

// Stats returns a copy of the reader's statistics
func (p *PostgresReader) Stats() PostgresReaderStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	statsCopy := p.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// Read implements the core.DataSource interface. Thread-safe.
func (p *PostgresReader) Read(ctx context.Context) (core.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime := time.Now()
	defer func() {
		p.stats.ReadDuration += time.Since(startTime)
		p.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return nil, &PostgresReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if p.db == nil {
		return nil, &PostgresReaderError{Op: "read", Err: fmt.Errorf("reader is closed")}
	}
	if p.isFinished || p.rows == nil {
		return nil, io.EOF
	}

	for !p.rows.Next() {
		if err := p.rows.Err(); err != nil {
			return nil, &PostgresReaderError{Op: "read", Err: err}
		}
		// A cursor batch shorter than batchSize means the cursor is drained
		if !p.usingCursor || p.rowsInBatch < p.batchSize {
			p.isFinished = true
			return nil, io.EOF
		}
		if err := p.fetchNextBatch(ctx); err != nil {
			return nil, err
		}
	}

	if err := p.rows.Scan(p.scanBuffer...); err != nil {
		return nil, &PostgresReaderError{Op: "scan", Err: err}
	}

	record := p.convertRowToRecord()
	p.rowsInBatch++
	p.stats.RecordsRead++

	return record, nil
}

// Close releases all resources held by the PostgreSQL reader
func (p *PostgresReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error

	p.scanBuffer = nil
	p.values = nil

	if p.rows != nil {
		if err := p.rows.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing rows: %w", err))
		}
		p.rows = nil
	}

	if p.tx != nil {
		if err := p.tx.Rollback(); err != nil {
			errs = append(errs, fmt.Errorf("rolling back transaction: %w", err))
		}
		p.tx = nil
	}

	if p.db != nil {
		if err := p.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
		p.db = nil
	}

	if len(errs) > 0 {
		return &PostgresReaderError{Op: "close", Err: fmt.Errorf("multiple errors: %v", errs)}
	}

	return nil
}

// Schema returns a map of column name to database type name.
func (p *PostgresReader) Schema() map[string]string {
	schema := make(map[string]string)
	for i, name := range p.columnNames {
		if i < len(p.columnTypes) {
			schema[name] = p.columnTypes[i].DatabaseTypeName()
		}
	}
	return schema
}

// withDefaults applies default values to PostgresReaderOptions
func (opts *PostgresReaderOptions) withDefaults() *PostgresReaderOptions {
	result := &PostgresReaderOptions{}
	if opts != nil {
		*result = *opts
	}

	if result.BatchSize <= 0 {
		result.BatchSize = 1000
	}
	if result.QueryTimeout <= 0 {
		result.QueryTimeout = 30 * time.Second
	}
	if result.ConnMaxLifetime <= 0 {
		result.ConnMaxLifetime = 5 * time.Minute
	}
	if result.ConnMaxIdleTime <= 0 {
		result.ConnMaxIdleTime = 1 * time.Minute
	}
	if result.MaxOpenConns <= 0 {
		result.MaxOpenConns = 10
	}
	if result.MaxIdleConns <= 0 {
		result.MaxIdleConns = 5
	}

	return result
}

// executeQuery runs the SQL query and prepares the reader for streaming results
func (p *PostgresReader) executeQuery(ctx context.Context) error {
	startTime := time.Now()

	var err error
	if p.usingCursor {
		err = p.openCursor(ctx)
	} else {
		p.rows, err = p.db.QueryContext(ctx, p.query, p.params...)
	}
	if err != nil {
		return err
	}

	p.stats.QueryDuration = time.Since(startTime)

	columnNames, err := p.rows.Columns()
	if err != nil {
		return &PostgresReaderError{Op: "columns", Err: err}
	}
	p.columnNames = columnNames

	columnTypes, err := p.rows.ColumnTypes()
	if err != nil {
		return &PostgresReaderError{Op: "column_types", Err: err}
	}
	p.columnTypes = columnTypes

	p.prepareScanBuffers()
	return nil
}

// openCursor begins a transaction and declares a server-side cursor,
// then fetches the first batch.
func (p *PostgresReader) openCursor(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return &PostgresReaderError{Op: "begin_transaction", Err: err}
	}
	p.tx = tx

	if p.cursorName == "" {
		p.cursorName = "gosquash_cursor"
	}
	if !isValidCursorName(p.cursorName) {
		p.tx.Rollback()
		p.tx = nil
		return &PostgresReaderError{Op: "validate_cursor",
			Err: fmt.Errorf("invalid cursor name: %s", p.cursorName)}
	}

	declareSQL := fmt.Sprintf("DECLARE %s CURSOR FOR %s", p.cursorName, p.query)
	if _, err := tx.ExecContext(ctx, declareSQL, p.params...); err != nil {
		tx.Rollback()
		p.tx = nil
		return &PostgresReaderError{Op: "declare_cursor", Err: err}
	}

	fetchSQL := fmt.Sprintf("FETCH %d FROM %s", p.batchSize, p.cursorName)
	p.rows, err = tx.QueryContext(ctx, fetchSQL)
	if err != nil {
		p.tx.Rollback()
		p.tx = nil
		return &PostgresReaderError{Op: "fetch_cursor", Err: err}
	}
	p.stats.BatchesFetched++
	return nil
}

// fetchNextBatch advances the cursor by one batch
func (p *PostgresReader) fetchNextBatch(ctx context.Context) error {
	if err := p.rows.Close(); err != nil {
		return &PostgresReaderError{Op: "fetch_cursor", Err: err}
	}
	p.rows = nil

	fetchSQL := fmt.Sprintf("FETCH %d FROM %s", p.batchSize, p.cursorName)
	rows, err := p.tx.QueryContext(ctx, fetchSQL)
	if err != nil {
		return &PostgresReaderError{Op: "fetch_cursor", Err: err}
	}

	p.rows = rows
	p.rowsInBatch = 0
	p.stats.BatchesFetched++
	return nil
}

// isValidCursorName restricts cursor names to PostgreSQL identifier characters
func isValidCursorName(name string) bool {
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return len(name) > 0 && len(name) <= 63 // PostgreSQL identifier limit
}

// prepareScanBuffers prepares the buffers needed for scanning SQL rows
func (p *PostgresReader) prepareScanBuffers() {
	numCols := len(p.columnNames)
	p.scanBuffer = make([]interface{}, numCols)
	p.values = make([]interface{}, numCols)
	for i := range p.scanBuffer {
		p.scanBuffer[i] = &p.values[i]
	}
}

// convertSQLValue converts SQL driver values to plain Go types
func (p *PostgresReader) convertSQLValue(value interface{}, colType *sql.ColumnType) interface{} {
	if b, ok := value.([]byte); ok {
		switch colType.DatabaseTypeName() {
		case "TEXT", "VARCHAR", "CHAR", "BPCHAR", "NAME", "JSON", "JSONB", "UUID", "NUMERIC":
			return string(b)
		default:
			// Binary types like BYTEA stay as bytes
			return b
		}
	}
	return value
}

// convertRowToRecord converts the scanned SQL row values to a core.Record.
// SQL NULL becomes nil, preserving the null-vs-missing distinction for
// downstream coalescing.
func (p *PostgresReader) convertRowToRecord() core.Record {
	record := make(core.Record)
	for i, columnName := range p.columnNames {
		value := p.values[i]
		if value == nil {
			p.stats.NullValueCounts[columnName]++
			record[columnName] = nil
			continue
		}
		record[columnName] = p.convertSQLValue(value, p.columnTypes[i])
	}
	return record
}

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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/aaronlmathis/gosquash"
)

// This file implements a batching PostgreSQL writer. Its main use in a
// squash pipeline is maintaining a current-state table: with
// ConflictUpdate, each squashed record upserts on the group key columns
// so re-running a pipeline converges to the same table contents.

// PostgresWriterError wraps PostgreSQL-specific write errors with
// context about the operation.
type PostgresWriterError struct {
	Op  string
	Err error
}

func (e *PostgresWriterError) Error() string {
	return fmt.Sprintf("postgres writer %s: %v", e.Op, e.Err)
}

func (e *PostgresWriterError) Unwrap() error {
	return e.Err
}

// PostgresWriterStats holds PostgreSQL write statistics.
type PostgresWriterStats struct {
	RecordsWritten   int64
	BatchesWritten   int64
	TransactionCount int64
	LastWriteTime    time.Time
	WriteDuration    time.Duration
	ConnectionTime   time.Duration
	NullValueCounts  map[string]int64
	ConflictCount    int64
}

// ConflictResolution defines how INSERT conflicts are handled.
type ConflictResolution int

const (
	// ConflictError surfaces conflicts as errors.
	ConflictError ConflictResolution = iota
	// ConflictIgnore skips conflicting rows (ON CONFLICT DO NOTHING).
	ConflictIgnore
	// ConflictUpdate overwrites conflicting rows (ON CONFLICT DO UPDATE).
	// This is the mode for maintaining current-state tables.
	ConflictUpdate
)

// PostgresWriterOptions configures the PostgreSQL writer.
type PostgresWriterOptions struct {
	DSN           string
	TableName     string
	Columns       []string
	BatchSize     int
	CreateTable   bool
	TruncateTable bool
	// ConflictColumns identify a row. With CreateTable they become the
	// primary key so the ON CONFLICT target exists.
	ConflictResolution ConflictResolution
	ConflictColumns    []string
	// UpdateColumns lists the columns rewritten on conflict. Empty means
	// every column except the conflict columns.
	UpdateColumns   []string
	TransactionMode bool
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	QueryTimeout    time.Duration
}

// PostgresWriterOption represents a configuration function.
type PostgresWriterOption func(*PostgresWriterOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.DSN = dsn
	}
}

// WithTableName sets the target table name. A schema-qualified name
// such as "audit.page_state" is accepted.
func WithTableName(tableName string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TableName = tableName
	}
}

// WithColumns sets the columns to write. Without it, columns are the
// sorted field names of the first record.
func WithColumns(columns []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// WithPostgresBatchSize sets the batch size for writes.
func WithPostgresBatchSize(size int) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCreateTable enables table creation if the table does not exist.
func WithCreateTable(create bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.CreateTable = create
	}
}

// WithTruncateTable truncates the table before the first write.
func WithTruncateTable(truncate bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TruncateTable = truncate
	}
}

// WithConflictResolution sets the conflict strategy, the columns that
// identify a row, and the columns to rewrite on conflict.
func WithConflictResolution(resolution ConflictResolution, conflictCols, updateCols []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.ConflictResolution = resolution
		opts.ConflictColumns = append([]string(nil), conflictCols...)
		opts.UpdateColumns = append([]string(nil), updateCols...)
	}
}

// WithTransactionMode wraps each batch in a transaction.
func WithTransactionMode(enabled bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TransactionMode = enabled
	}
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen, maxIdle int, maxLifetime, maxIdleTime time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
		opts.ConnMaxLifetime = maxLifetime
		opts.ConnMaxIdleTime = maxIdleTime
	}
}

// WithPostgresQueryTimeout sets the query timeout.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.QueryTimeout = timeout
	}
}

// PostgresWriter implements DataSink for PostgreSQL output.
type PostgresWriter struct {
	db          *sql.DB
	options     PostgresWriterOptions
	columns     []string
	recordBuf   []gosquash.Record
	stats       PostgresWriterStats
	prepared    *sql.Stmt
	initialized bool
	errorState  bool
	mu          sync.Mutex
}

// NewPostgresWriter creates a new PostgreSQL writer and verifies the
// connection.
func NewPostgresWriter(opts ...PostgresWriterOption) (*PostgresWriter, error) {
	options := (&PostgresWriterOptions{}).withDefaults()

	for _, opt := range opts {
		opt(options)
	}

	if err := validateWriterOptions(options); err != nil {
		return nil, &PostgresWriterError{Op: "validate", Err: err}
	}

	writer := &PostgresWriter{
		options:   *options,
		columns:   append([]string(nil), options.Columns...),
		recordBuf: make([]gosquash.Record, 0, options.BatchSize),
		stats:     PostgresWriterStats{NullValueCounts: make(map[string]int64)},
	}

	if err := writer.connect(); err != nil {
		return nil, &PostgresWriterError{Op: "connect", Err: err}
	}

	return writer, nil
}

// NewPostgresSnapshotWriter creates a writer that maintains a
// current-state table keyed by keyColumns. Each record upserts, rows
// are created on first sight, and later records for the same key
// overwrite every non-key column. The table is created with keyColumns
// as its primary key if it does not exist.
func NewPostgresSnapshotWriter(dsn, table string, keyColumns []string, opts ...PostgresWriterOption) (*PostgresWriter, error) {
	base := []PostgresWriterOption{
		WithPostgresDSN(dsn),
		WithTableName(table),
		WithCreateTable(true),
		WithTransactionMode(true),
		WithConflictResolution(ConflictUpdate, keyColumns, nil),
	}
	return NewPostgresWriter(append(base, opts...)...)
}

// Stats returns a copy of the current write statistics.
func (w *PostgresWriter) Stats() PostgresWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	statsCopy := w.stats
	statsCopy.NullValueCounts = make(map[string]int64)
	for k, v := range w.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// Write implements the DataSink interface. Records are buffered and
// written in batches of BatchSize.
func (w *PostgresWriter) Write(ctx context.Context, record gosquash.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.errorState {
		return &PostgresWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}

	select {
	case <-ctx.Done():
		return &PostgresWriterError{Op: "write", Err: ctx.Err()}
	default:
	}

	if !w.initialized {
		if err := w.initializeUnsafe(ctx, record); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "initialize", Err: err}
		}
	}

	for k, v := range record {
		if v == nil {
			w.stats.NullValueCounts[k]++
		}
	}

	w.recordBuf = append(w.recordBuf, record)
	w.stats.RecordsWritten++

	if len(w.recordBuf) >= w.options.BatchSize {
		if err := w.flushBufferUnsafe(ctx); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "flush_batch", Err: err}
		}
	}

	return nil
}

// Flush implements the DataSink interface.
func (w *PostgresWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.options.QueryTimeout)
	defer cancel()

	return w.flushBufferUnsafe(ctx)
}

// Close implements the DataSink interface.
func (w *PostgresWriter) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.prepared != nil {
		w.prepared.Close()
	}
	if w.db != nil {
		return w.db.Close()
	}
	return nil
}

// withDefaults applies default values to PostgresWriterOptions.
func (opts *PostgresWriterOptions) withDefaults() *PostgresWriterOptions {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	if opts.ConnMaxIdleTime == 0 {
		opts.ConnMaxIdleTime = 1 * time.Minute
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	return opts
}

// validateWriterOptions validates the PostgreSQL writer options.
func validateWriterOptions(opts *PostgresWriterOptions) error {
	if opts.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if opts.TableName == "" {
		return fmt.Errorf("table name is required")
	}
	if opts.ConflictResolution != ConflictError && len(opts.ConflictColumns) == 0 {
		return fmt.Errorf("conflict columns required for conflict resolution")
	}
	return nil
}

// connect establishes the database connection and configures the pool.
func (w *PostgresWriter) connect() error {
	start := time.Now()

	db, err := sql.Open("postgres", w.options.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(w.options.MaxOpenConns)
	db.SetMaxIdleConns(w.options.MaxIdleConns)
	db.SetConnMaxLifetime(w.options.ConnMaxLifetime)
	db.SetConnMaxIdleTime(w.options.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), w.options.QueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	w.db = db
	w.stats.ConnectionTime = time.Since(start)

	return nil
}

// initializeUnsafe performs one-time setup on the first write (must
// hold mutex).
func (w *PostgresWriter) initializeUnsafe(ctx context.Context, firstRecord gosquash.Record) error {
	if len(w.columns) == 0 {
		for key := range firstRecord {
			w.columns = append(w.columns, key)
		}
		sort.Strings(w.columns)
	}

	if w.options.ConflictResolution != ConflictError {
		for _, key := range w.options.ConflictColumns {
			if !contains(w.columns, key) {
				return fmt.Errorf("conflict column %q not present in record columns", key)
			}
		}
	}

	if w.options.CreateTable {
		if err := w.createTableUnsafe(ctx, firstRecord); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if w.options.TruncateTable {
		if err := w.truncateTableUnsafe(ctx); err != nil {
			return fmt.Errorf("failed to truncate table: %w", err)
		}
	}

	if err := w.prepareStatementUnsafe(ctx); err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}

	w.initialized = true
	return nil
}

// createTableUnsafe creates the target table from the first record
// (must hold mutex). Conflict columns become the primary key so the
// ON CONFLICT target exists on the created table.
func (w *PostgresWriter) createTableUnsafe(ctx context.Context, record gosquash.Record) error {
	defs := make([]string, 0, len(w.columns)+1)
	for _, col := range w.columns {
		defs = append(defs, fmt.Sprintf("%s %s", pq.QuoteIdentifier(col), inferSQLType(record[col])))
	}

	if w.options.ConflictResolution != ConflictError && len(w.options.ConflictColumns) > 0 {
		keys := make([]string, len(w.options.ConflictColumns))
		for i, col := range w.options.ConflictColumns {
			keys[i] = pq.QuoteIdentifier(col)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(keys, ", ")))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		quoteQualified(w.options.TableName), strings.Join(defs, ", "))
	_, err := w.db.ExecContext(ctx, query)
	return err
}

// truncateTableUnsafe truncates the target table (must hold mutex).
func (w *PostgresWriter) truncateTableUnsafe(ctx context.Context) error {
	query := fmt.Sprintf("TRUNCATE TABLE %s", quoteQualified(w.options.TableName))
	_, err := w.db.ExecContext(ctx, query)
	return err
}

// prepareStatementUnsafe builds and prepares the INSERT statement
// (must hold mutex).
func (w *PostgresWriter) prepareStatementUnsafe(ctx context.Context) error {
	cols := make([]string, len(w.columns))
	placeholders := make([]string, len(w.columns))
	for i, col := range w.columns {
		cols[i] = pq.QuoteIdentifier(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	table := quoteQualified(w.options.TableName)
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	var query string
	switch w.options.ConflictResolution {
	case ConflictIgnore:
		query = fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", insert, w.conflictTarget())
	case ConflictUpdate:
		updateCols := w.options.UpdateColumns
		if len(updateCols) == 0 {
			for _, col := range w.columns {
				if !contains(w.options.ConflictColumns, col) {
					updateCols = append(updateCols, col)
				}
			}
		}
		updateClauses := make([]string, len(updateCols))
		for i, col := range updateCols {
			q := pq.QuoteIdentifier(col)
			updateClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
		}
		query = fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
			insert, w.conflictTarget(), strings.Join(updateClauses, ", "))
	default:
		query = insert
	}

	stmt, err := w.db.PrepareContext(ctx, query)
	if err != nil {
		return err
	}

	w.prepared = stmt
	return nil
}

func (w *PostgresWriter) conflictTarget() string {
	keys := make([]string, len(w.options.ConflictColumns))
	for i, col := range w.options.ConflictColumns {
		keys[i] = pq.QuoteIdentifier(col)
	}
	return strings.Join(keys, ", ")
}

// flushBufferUnsafe writes buffered records to PostgreSQL (must hold
// mutex).
func (w *PostgresWriter) flushBufferUnsafe(ctx context.Context) error {
	if len(w.recordBuf) == 0 {
		return nil
	}

	start := time.Now()

	var tx *sql.Tx
	var err error

	if w.options.TransactionMode {
		tx, err = w.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if err != nil {
				tx.Rollback()
			}
		}()
	}

	for _, record := range w.recordBuf {
		values := make([]interface{}, len(w.columns))
		for i, col := range w.columns {
			if val, ok := record[col]; ok {
				values[i] = convertSQLParam(val)
			} else {
				values[i] = nil
			}
		}

		var result sql.Result
		if tx != nil {
			stmt := tx.StmtContext(ctx, w.prepared)
			result, err = stmt.ExecContext(ctx, values...)
			stmt.Close()
		} else {
			result, err = w.prepared.ExecContext(ctx, values...)
		}

		if err != nil {
			return fmt.Errorf("failed to execute insert: %w", err)
		}

		if rowsAffected, raErr := result.RowsAffected(); raErr == nil && rowsAffected == 0 {
			w.stats.ConflictCount++
		}
	}

	if tx != nil {
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		w.stats.TransactionCount++
	}

	w.stats.BatchesWritten++
	w.stats.LastWriteTime = time.Now()
	w.stats.WriteDuration += time.Since(start)
	w.recordBuf = w.recordBuf[:0]

	return nil
}

// quoteQualified quotes a possibly schema-qualified table name.
func quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// inferSQLType infers a PostgreSQL column type from a Go value.
func inferSQLType(value interface{}) string {
	if value == nil {
		return "TEXT"
	}

	switch value.(type) {
	case bool:
		return "BOOLEAN"
	case int, int8, int16, int32, int64:
		return "BIGINT"
	case uint, uint8, uint16, uint32, uint64:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE PRECISION"
	case time.Time:
		return "TIMESTAMPTZ"
	case []byte:
		return "BYTEA"
	case json.RawMessage:
		return "JSONB"
	default:
		return "TEXT"
	}
}

// convertSQLParam converts Go values to driver-compatible types.
func convertSQLParam(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time, bool, int64, float64, string, []byte:
		return v
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	case json.RawMessage:
		return []byte(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

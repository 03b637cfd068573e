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
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aaronlmathis/gosquash/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// This file implements a streaming MongoDB reader for revision collections.
// Find mode streams stored revisions; watch mode tails a change stream so a
// squash can fold live edits as they land.

// MongoReaderError provides structured error information for MongoDB reader operations
type MongoReaderError struct {
	Op         string // Operation that failed (e.g., "connect", "query", "decode")
	Collection string // Collection being accessed when error occurred
	Err        error  // Underlying error
}

func (e *MongoReaderError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("mongo reader %s [%s]: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("mongo reader %s: %v", e.Op, e.Err)
}

func (e *MongoReaderError) Unwrap() error {
	return e.Err
}

// MongoReaderStats holds statistics about the MongoDB reader's progress
type MongoReaderStats struct {
	RecordsRead     int64
	QueriesExecuted int64
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
	ErrorCount      int64
}

// MongoReadMode defines how documents are read from MongoDB
type MongoReadMode string

const (
	ModeFind      MongoReadMode = "find"      // Standard find query
	ModeAggregate MongoReadMode = "aggregate" // Aggregation pipeline
	ModeWatch     MongoReadMode = "watch"     // Change stream
)

// MongoReaderOptions configures the MongoDB reader
type MongoReaderOptions struct {
	URI             string        // MongoDB connection URI
	Database        string        // Database name
	Collection      string        // Collection name
	Mode            MongoReadMode // Read mode
	Filter          bson.M        // Query filter for find operations
	Projection      bson.M        // Field projection
	Sort            bson.D        // Sort specification; ordered, unlike bson.M
	Pipeline        []bson.M      // Aggregation pipeline stages
	BatchSize       int32         // Batch size for cursor
	Limit           int64         // Maximum number of documents to read
	Skip            int64         // Number of documents to skip
	Timeout         time.Duration // Connect timeout
	MaxPoolSize     uint64        // Connection pool size
	MinPoolSize     uint64        // Minimum connections in pool
	MaxConnIdleTime time.Duration // Max idle time for connections
	ReadPreference  string        // primary, secondary, nearest, ...
	ReadConcern     string        // local, majority, ...
	AuthDatabase    string        // Authentication database
	Username        string        // Authentication username
	Password        string        // Authentication password
	TLS             bool          // Enable TLS
	TLSInsecure     bool          // Skip TLS verification
	ReplicaSetName  string        // Replica set name
	AllowDiskUse    bool          // Allow aggregation to spill to disk
}

// ReaderOptionMongo is a functional option for MongoReaderOptions
type ReaderOptionMongo func(*MongoReaderOptions)

func WithMongoURI(uri string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.URI = uri
	}
}

func WithMongoDB(database string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Database = database
	}
}

func WithMongoCollection(collection string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Collection = collection
	}
}

func WithMongoFilter(filter bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Filter = filter
	}
}

func WithMongoProjection(projection bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Projection = projection
	}
}

// WithMongoSort sets the sort order for find mode. Squashing revisions
// needs an ascending sort on the sequence field.
func WithMongoSort(sort bson.D) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Sort = sort
	}
}

func WithMongoPipeline(pipeline []bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Pipeline = pipeline
		opts.Mode = ModeAggregate
	}
}

func WithMongoChangeStream() ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Mode = ModeWatch
	}
}

func WithMongoLimit(limit int64) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Limit = limit
	}
}

func WithMongoSkip(skip int64) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Skip = skip
	}
}

func WithMongoBatchSize(batchSize int32) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.BatchSize = batchSize
	}
}

func WithMongoTimeout(timeout time.Duration) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Timeout = timeout
	}
}

func WithMongoPoolSize(min, max uint64) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.MinPoolSize = min
		opts.MaxPoolSize = max
	}
}

func WithMongoReadPreference(preference string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.ReadPreference = preference
	}
}

func WithMongoReadConcern(concern string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.ReadConcern = concern
	}
}

func WithMongoAuth(username, password, authDB string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Username = username
		opts.Password = password
		opts.AuthDatabase = authDB
	}
}

func WithMongoTLS(enabled, insecure bool) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.TLS = enabled
		opts.TLSInsecure = insecure
	}
}

func WithMongoAllowDiskUse(allow bool) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.AllowDiskUse = allow
	}
}

// MongoReader implements core.DataSource for MongoDB collections
type MongoReader struct {
	client       *mongo.Client
	collection   *mongo.Collection
	cursor       *mongo.Cursor
	changeStream *mongo.ChangeStream
	opts         *MongoReaderOptions
	stats        MongoReaderStats
	connected    bool
}

// NewMongoReader creates a new MongoDB reader with configurable options.
// The connection is established lazily on the first Read.
func NewMongoReader(options ...ReaderOptionMongo) (*MongoReader, error) {
	opts := &MongoReaderOptions{
		URI:             "mongodb://localhost:27017",
		Mode:            ModeFind,
		BatchSize:       1000,
		Timeout:         30 * time.Second,
		MaxPoolSize:     100,
		MinPoolSize:     5,
		MaxConnIdleTime: 10 * time.Minute,
		ReadPreference:  "primary",
		ReadConcern:     "local",
	}

	for _, option := range options {
		option(opts)
	}

	if opts.Database == "" {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("database name is required")}
	}
	if opts.Collection == "" {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("collection name is required")}
	}

	return &MongoReader{
		opts:  opts,
		stats: MongoReaderStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// NewMongoRevisionReader streams a revision collection in ascending sequence
// order, ready to feed a squash.
func NewMongoRevisionReader(uri, database, collection, seqField string) (*MongoReader, error) {
	return NewMongoReader(
		WithMongoURI(uri),
		WithMongoDB(database),
		WithMongoCollection(collection),
		WithMongoSort(bson.D{{Key: seqField, Value: 1}}),
	)
}

// Connect establishes the MongoDB connection
func (mr *MongoReader) Connect(ctx context.Context) error {
	if mr.connected {
		return nil
	}

	clientOpts, err := mr.buildClientOptions()
	if err != nil {
		return &MongoReaderError{Op: "build_options", Err: err}
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return &MongoReaderError{Op: "connect", Err: err}
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return &MongoReaderError{Op: "ping", Err: err}
	}

	mr.client = client
	mr.collection = client.Database(mr.opts.Database).Collection(mr.opts.Collection)
	mr.connected = true
	return nil
}

// buildClientOptions constructs MongoDB client options from reader configuration
func (mr *MongoReader) buildClientOptions() (*options.ClientOptions, error) {
	clientOpts := options.Client().ApplyURI(mr.opts.URI)

	if mr.opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(mr.opts.MaxPoolSize)
	}
	if mr.opts.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(mr.opts.MinPoolSize)
	}
	if mr.opts.MaxConnIdleTime > 0 {
		clientOpts.SetMaxConnIdleTime(mr.opts.MaxConnIdleTime)
	}
	if mr.opts.Timeout > 0 {
		clientOpts.SetConnectTimeout(mr.opts.Timeout)
	}

	if mr.opts.Username != "" && mr.opts.Password != "" {
		auth := options.Credential{
			Username:   mr.opts.Username,
			Password:   mr.opts.Password,
			AuthSource: mr.opts.AuthDatabase,
		}
		if auth.AuthSource == "" {
			auth.AuthSource = mr.opts.Database
		}
		clientOpts.SetAuth(auth)
	}

	if mr.opts.TLS {
		clientOpts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: mr.opts.TLSInsecure,
		})
	}

	if mr.opts.ReadPreference != "" {
		var readPref *readpref.ReadPref
		switch mr.opts.ReadPreference {
		case "primary":
			readPref = readpref.Primary()
		case "primaryPreferred":
			readPref = readpref.PrimaryPreferred()
		case "secondary":
			readPref = readpref.Secondary()
		case "secondaryPreferred":
			readPref = readpref.SecondaryPreferred()
		case "nearest":
			readPref = readpref.Nearest()
		default:
			return nil, fmt.Errorf("invalid read preference: %s", mr.opts.ReadPreference)
		}
		clientOpts.SetReadPreference(readPref)
	}

	if mr.opts.ReadConcern != "" {
		var rc *readconcern.ReadConcern
		switch mr.opts.ReadConcern {
		case "local":
			rc = readconcern.Local()
		case "available":
			rc = readconcern.Available()
		case "majority":
			rc = readconcern.Majority()
		case "linearizable":
			rc = readconcern.Linearizable()
		case "snapshot":
			rc = readconcern.Snapshot()
		default:
			return nil, fmt.Errorf("invalid read concern: %s", mr.opts.ReadConcern)
		}
		clientOpts.SetReadConcern(rc)
	}

	if mr.opts.ReplicaSetName != "" {
		clientOpts.SetReplicaSet(mr.opts.ReplicaSetName)
	}

	return clientOpts, nil
}

// Read implements the core.DataSource interface
func (mr *MongoReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()
	defer func() {
		mr.stats.ReadDuration += time.Since(start)
		mr.stats.LastReadTime = time.Now()
	}()

	if !mr.connected {
		if err := mr.Connect(ctx); err != nil {
			return nil, err
		}
	}

	if mr.cursor == nil && mr.changeStream == nil {
		if err := mr.initializeCursor(ctx); err != nil {
			return nil, &MongoReaderError{Op: "init_cursor", Collection: mr.opts.Collection, Err: err}
		}
	}

	select {
	case <-ctx.Done():
		return nil, &MongoReaderError{Op: "read", Collection: mr.opts.Collection, Err: ctx.Err()}
	default:
	}

	var doc bson.M

	if mr.opts.Mode == ModeWatch && mr.changeStream != nil {
		if !mr.changeStream.Next(ctx) {
			if err := mr.changeStream.Err(); err != nil {
				mr.stats.ErrorCount++
				return nil, &MongoReaderError{Op: "changestream_next", Collection: mr.opts.Collection, Err: err}
			}
			return nil, io.EOF
		}
		if err := mr.changeStream.Decode(&doc); err != nil {
			mr.stats.ErrorCount++
			return nil, &MongoReaderError{Op: "changestream_decode", Collection: mr.opts.Collection, Err: err}
		}
	} else {
		if !mr.cursor.Next(ctx) {
			if err := mr.cursor.Err(); err != nil {
				mr.stats.ErrorCount++
				return nil, &MongoReaderError{Op: "cursor_next", Collection: mr.opts.Collection, Err: err}
			}
			return nil, io.EOF
		}
		if err := mr.cursor.Decode(&doc); err != nil {
			mr.stats.ErrorCount++
			return nil, &MongoReaderError{Op: "decode", Collection: mr.opts.Collection, Err: err}
		}
	}

	record := mr.convertBSONToRecord(doc)
	mr.stats.RecordsRead++

	for key, val := range record {
		if val == nil {
			mr.stats.NullValueCounts[key]++
		}
	}

	return record, nil
}

// Close implements the core.DataSource interface
func (mr *MongoReader) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []string

	if mr.cursor != nil {
		if err := mr.cursor.Close(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("cursor close: %v", err))
		}
		mr.cursor = nil
	}

	if mr.changeStream != nil {
		if err := mr.changeStream.Close(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("changestream close: %v", err))
		}
		mr.changeStream = nil
	}

	if mr.client != nil {
		if err := mr.client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("client disconnect: %v", err))
		}
		mr.client = nil
	}

	mr.connected = false

	if len(errs) > 0 {
		return &MongoReaderError{Op: "close", Err: fmt.Errorf("multiple errors: %s", strings.Join(errs, "; "))}
	}
	return nil
}

// Stats returns MongoDB reader statistics
func (mr *MongoReader) Stats() MongoReaderStats {
	return mr.stats
}

// initializeCursor creates the cursor for the configured read mode
func (mr *MongoReader) initializeCursor(ctx context.Context) error {
	mr.stats.QueriesExecuted++

	switch mr.opts.Mode {
	case ModeFind:
		return mr.initializeFindCursor(ctx)
	case ModeAggregate:
		return mr.initializeAggregateCursor(ctx)
	case ModeWatch:
		return mr.initializeWatchCursor(ctx)
	default:
		return fmt.Errorf("unsupported read mode: %s", mr.opts.Mode)
	}
}

func (mr *MongoReader) initializeFindCursor(ctx context.Context) error {
	findOpts := options.Find()

	if mr.opts.BatchSize > 0 {
		findOpts.SetBatchSize(mr.opts.BatchSize)
	}
	if mr.opts.Limit > 0 {
		findOpts.SetLimit(mr.opts.Limit)
	}
	if mr.opts.Skip > 0 {
		findOpts.SetSkip(mr.opts.Skip)
	}
	if mr.opts.Projection != nil {
		findOpts.SetProjection(mr.opts.Projection)
	}
	if mr.opts.Sort != nil {
		findOpts.SetSort(mr.opts.Sort)
	}

	filter := mr.opts.Filter
	if filter == nil {
		filter = bson.M{}
	}

	cursor, err := mr.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return err
	}
	mr.cursor = cursor
	return nil
}

func (mr *MongoReader) initializeAggregateCursor(ctx context.Context) error {
	if len(mr.opts.Pipeline) == 0 {
		return fmt.Errorf("pipeline is required for aggregate mode")
	}

	aggOpts := options.Aggregate()
	if mr.opts.BatchSize > 0 {
		aggOpts.SetBatchSize(mr.opts.BatchSize)
	}
	if mr.opts.AllowDiskUse {
		aggOpts.SetAllowDiskUse(mr.opts.AllowDiskUse)
	}

	cursor, err := mr.collection.Aggregate(ctx, mr.opts.Pipeline, aggOpts)
	if err != nil {
		return err
	}
	mr.cursor = cursor
	return nil
}

func (mr *MongoReader) initializeWatchCursor(ctx context.Context) error {
	opts := options.ChangeStream()
	if mr.opts.BatchSize > 0 {
		opts.SetBatchSize(mr.opts.BatchSize)
	}

	var pipeline interface{}
	if len(mr.opts.Pipeline) > 0 {
		pipeline = mr.opts.Pipeline
	} else {
		pipeline = mongo.Pipeline{} // Watch all changes
	}

	changeStream, err := mr.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("failed to create change stream: %w", err)
	}
	mr.changeStream = changeStream
	return nil
}

// convertBSONToRecord converts a BSON document to a core.Record
func (mr *MongoReader) convertBSONToRecord(doc bson.M) core.Record {
	record := make(core.Record, len(doc))
	for key, value := range doc {
		record[key] = mr.convertBSONValue(value)
	}
	return record
}

// convertBSONValue converts BSON values to plain Go types. BSON null and
// undefined both become nil.
func (mr *MongoReader) convertBSONValue(value interface{}) interface{} {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time()
	case primitive.Decimal128:
		return v.String()
	case primitive.Binary:
		return v.Data
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0)
	case primitive.Undefined:
		return nil
	case primitive.Null:
		return nil
	case bson.M:
		result := make(map[string]interface{}, len(v))
		for k, val := range v {
			result[k] = mr.convertBSONValue(val)
		}
		return result
	case bson.A:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = mr.convertBSONValue(val)
		}
		return result
	default:
		return v
	}
}

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
//

// Package types maps snapshot destinations to sinks. A location plus a
// format yields a DataSink ready to receive squashed current-state
// records.
package types

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/gosquash"
	"github.com/aaronlmathis/gosquash/writers"
)

// OutputFormat represents a supported snapshot format.
type OutputFormat int

const (
	FormatCSV OutputFormat = iota
	FormatJSON
	FormatParquet
	FormatPostgres
)

// OutputLocation creates a DataSink for a given format.
type OutputLocation interface {
	NewSink(format OutputFormat) (gosquash.DataSink, error)
}

// Publish drains the squasher's current state into a sink created for the
// location and returns the number of groups written. A successful Publish
// consumes the squasher's state; on failure the store keeps every group
// and a retried Publish emits the full snapshot again.
func Publish(ctx context.Context, squasher *gosquash.Squasher, location OutputLocation, format OutputFormat) (int, error) {
	sink, err := location.NewSink(format)
	if err != nil {
		return 0, err
	}

	groups, err := squasher.Drain(ctx, sink)
	if err != nil {
		sink.Close()
		return groups, err
	}
	if err := sink.Flush(); err != nil {
		sink.Close()
		return groups, err
	}
	return groups, sink.Close()
}

// FileLocation writes the snapshot to a local filesystem path.
type FileLocation struct {
	Path string
}

// NewSink instantiates a writer for the file location.
func (f FileLocation) NewSink(format OutputFormat) (gosquash.DataSink, error) {
	switch format {
	case FormatCSV:
		file, err := os.Create(f.Path)
		if err != nil {
			return nil, err
		}
		return writers.NewCSVWriter(file)
	case FormatJSON:
		file, err := os.Create(f.Path)
		if err != nil {
			return nil, err
		}
		return writers.NewJSONWriter(file), nil
	case FormatParquet:
		return writers.NewParquetWriter(f.Path)
	default:
		return nil, fmt.Errorf("unsupported format for FileLocation")
	}
}

// S3Location writes the snapshot as a single object in an S3 bucket.
// Leave Client nil to build one from the default credential chain with
// the optional Region and Profile applied.
type S3Location struct {
	Bucket  string
	Key     string
	Region  string
	Profile string
	Client  *s3.Client
}

type s3WriteCloser struct {
	buf    bytes.Buffer
	client *s3.Client
	bucket string
	key    string
}

func (s *s3WriteCloser) Write(p []byte) (int, error) { return s.buf.Write(p) }

// Close uploads the buffered object. Nothing reaches the bucket until the
// sink is closed, so a failed run leaves no partial snapshot behind.
func (s *s3WriteCloser) Close() error {
	_, err := s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   bytes.NewReader(s.buf.Bytes()),
	})
	return err
}

type parquetS3Sink struct {
	*writers.ParquetWriter
	client   *s3.Client
	bucket   string
	key      string
	filename string
}

func (p *parquetS3Sink) Close() error {
	if err := p.ParquetWriter.Close(); err != nil {
		return err
	}
	file, err := os.Open(p.filename)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = p.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key),
		Body:   file,
	})
	if err != nil {
		return err
	}
	os.Remove(p.filename)
	return nil
}

func (s S3Location) newClient() (*s3.Client, error) {
	if s.Client != nil {
		return s.Client, nil
	}

	configOpts := []func(*awsconfig.LoadOptions) error{}
	if s.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(s.Region))
	}
	if s.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(s.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

// NewSink creates a writer that uploads the snapshot object on Close.
func (s S3Location) NewSink(format OutputFormat) (gosquash.DataSink, error) {
	client, err := s.newClient()
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatCSV:
		return writers.NewCSVWriter(&s3WriteCloser{client: client, bucket: s.Bucket, key: s.Key})
	case FormatJSON:
		return writers.NewJSONWriter(&s3WriteCloser{client: client, bucket: s.Bucket, key: s.Key}), nil
	case FormatParquet:
		// Parquet needs a seekable file, so stage locally and upload on Close.
		tmp, err := os.CreateTemp("", "gosquash-*.parquet")
		if err != nil {
			return nil, err
		}
		filename := tmp.Name()
		tmp.Close()
		pw, err := writers.NewParquetWriter(filename)
		if err != nil {
			os.Remove(filename)
			return nil, err
		}
		return &parquetS3Sink{
			ParquetWriter: pw,
			client:        client,
			bucket:        s.Bucket,
			key:           s.Key,
			filename:      filename,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format for S3Location")
	}
}

// PostgresLocation directs the snapshot to a PostgreSQL table. With
// KeyColumns set the sink upserts on those columns, so repeated publishes
// converge the table on current state instead of appending rows.
type PostgresLocation struct {
	DSN        string
	Table      string
	KeyColumns []string
}

// NewSink instantiates a PostgreSQL writer for the location.
func (p PostgresLocation) NewSink(format OutputFormat) (gosquash.DataSink, error) {
	if format != FormatPostgres {
		return nil, fmt.Errorf("unsupported format for PostgresLocation")
	}
	if len(p.KeyColumns) > 0 {
		return writers.NewPostgresSnapshotWriter(p.DSN, p.Table, p.KeyColumns)
	}
	return writers.NewPostgresWriter(
		writers.WithPostgresDSN(p.DSN),
		writers.WithTableName(p.Table),
	)
}

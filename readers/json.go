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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aaronlmathis/gosquash"
)

// JSONReader implements DataSource for JSON Lines revision logs. JSON null
// values unmarshal to nil, which the squash semantics treat as null revisions.
type JSONReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// JSONReaderOptions configures the JSON reader.
type JSONReaderOptions struct {
	// MaxLineSize bounds a single line in bytes. Revision content fields can
	// be large; the default allows 16 MiB.
	MaxLineSize int
}

// ReaderOptionJSON allows functional customization of JSONReader.
type ReaderOptionJSON func(*JSONReaderOptions)

func WithJSONMaxLineSize(n int) ReaderOptionJSON {
	return func(o *JSONReaderOptions) { o.MaxLineSize = n }
}

// NewJSONReader creates a new JSON reader for line-delimited JSON
func NewJSONReader(r io.ReadCloser, options ...ReaderOptionJSON) *JSONReader {
	opts := JSONReaderOptions{
		MaxLineSize: 16 << 20,
	}
	for _, opt := range options {
		opt(&opts)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), opts.MaxLineSize)
	return &JSONReader{
		scanner: scanner,
		closer:  r,
	}
}

// Read implements the DataSource interface. Blank lines are skipped.
func (j *JSONReader) Read(ctx context.Context) (gosquash.Record, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !j.scanner.Scan() {
			if err := j.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		j.line++

		line := j.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var record gosquash.Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("json reader line %d: %w", j.line, err)
		}
		return record, nil
	}
}

// Close implements the DataSource interface
func (j *JSONReader) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

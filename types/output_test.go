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

package types

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gosquash"
)

func TestFileLocation_CSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.csv")
	sink, err := FileLocation{Path: path}.NewSink(FormatCSV)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, gosquash.Record{"page_id": 1, "rev": 3, "title": "Home v2"}))
	require.NoError(t, sink.Write(ctx, gosquash.Record{"page_id": 2, "rev": 1, "title": "About"}))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "page_id,rev,title", lines[0])
	assert.Contains(t, lines[1], "Home v2")
	assert.Contains(t, lines[2], "About")
}

func TestPublish_JSONSnapshot(t *testing.T) {
	squasher, err := gosquash.NewSquasher([]string{"page_id"})
	require.NoError(t, err)

	ctx := context.Background()
	revisions := []gosquash.Record{
		{"page_id": 1, "rev": 1, "title": "Home", "content": nil},
		{"page_id": 2, "rev": 1, "title": "About", "content": "First!"},
		{"page_id": 1, "rev": 2, "title": nil, "content": "Welcome"},
		{"page_id": 1, "rev": 3, "title": "Home v2", "content": nil},
	}
	for _, revision := range revisions {
		require.NoError(t, squasher.Write(ctx, revision))
	}

	path := filepath.Join(t.TempDir(), "state.jsonl")
	groups, err := Publish(ctx, squasher, FileLocation{Path: path}, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 2, groups)
	assert.Equal(t, 0, squasher.Groups(), "publish drains the store")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	byPage := make(map[float64]map[string]interface{})
	for _, line := range lines {
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		byPage[record["page_id"].(float64)] = record
	}

	assert.Equal(t, "Home v2", byPage[1]["title"])
	assert.Equal(t, "Welcome", byPage[1]["content"])
	assert.Equal(t, "About", byPage[2]["title"])
}

func TestLocation_FormatMismatch(t *testing.T) {
	_, err := FileLocation{Path: "out"}.NewSink(FormatPostgres)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")

	_, err = PostgresLocation{DSN: "postgres://localhost/wiki", Table: "pages"}.NewSink(FormatCSV)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

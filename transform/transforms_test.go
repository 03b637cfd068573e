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

package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gosquash/core"
)

func TestCoalesceFields_FirstNonNullWins(t *testing.T) {
	tr := CoalesceFields("editor", "updated_by", "modified_by", "author")

	out, err := tr.Transform(context.Background(), core.Record{
		"updated_by":  nil,
		"modified_by": "alice",
		"author":      "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", out["editor"])
}

func TestCoalesceFields_AllNullYieldsExplicitNull(t *testing.T) {
	tr := CoalesceFields("editor", "updated_by", "modified_by")

	out, err := tr.Transform(context.Background(), core.Record{
		"updated_by": nil,
		"page_id":    1,
	})
	require.NoError(t, err)

	val, present := out["editor"]
	assert.True(t, present)
	assert.Nil(t, val)
	assert.Equal(t, 1, out["page_id"])
}

func TestNullify_ReplacesSentinels(t *testing.T) {
	tr := Nullify([]string{"", "N/A"}, "title", "content")

	out, err := tr.Transform(context.Background(), core.Record{
		"title":   "N/A",
		"content": "real text",
		"other":   "N/A",
	})
	require.NoError(t, err)

	val, present := out["title"]
	assert.True(t, present)
	assert.Nil(t, val)
	assert.Equal(t, "real text", out["content"])
	// Fields outside the list are untouched.
	assert.Equal(t, "N/A", out["other"])
}

func TestDefault_FillsNullAndAbsent(t *testing.T) {
	tr := Default("status", "draft")

	out, err := tr.Transform(context.Background(), core.Record{"status": nil})
	require.NoError(t, err)
	assert.Equal(t, "draft", out["status"])

	out, err = tr.Transform(context.Background(), core.Record{"page_id": 1})
	require.NoError(t, err)
	assert.Equal(t, "draft", out["status"])

	out, err = tr.Transform(context.Background(), core.Record{"status": "published"})
	require.NoError(t, err)
	assert.Equal(t, "published", out["status"])
}

func TestSelect_KeepsNullsDropsAbsent(t *testing.T) {
	tr := Select("page_id", "title", "missing")

	out, err := tr.Transform(context.Background(), core.Record{
		"page_id": 1,
		"title":   nil,
		"noise":   "x",
	})
	require.NoError(t, err)

	assert.Len(t, out, 2)
	val, present := out["title"]
	assert.True(t, present)
	assert.Nil(t, val)
	_, present = out["missing"]
	assert.False(t, present)
}

func TestRename(t *testing.T) {
	tr := Rename(map[string]string{"body": "content"})

	out, err := tr.Transform(context.Background(), core.Record{
		"body":    "text",
		"page_id": 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "text", out["content"])
	assert.Equal(t, 1, out["page_id"])
	_, present := out["body"]
	assert.False(t, present)
}

func TestConvertType_NullPassesThrough(t *testing.T) {
	tr := ToInt("page_id")

	out, err := tr.Transform(context.Background(), core.Record{"page_id": nil})
	require.NoError(t, err)

	val, present := out["page_id"]
	assert.True(t, present)
	assert.Nil(t, val)
}

func TestConvertType_StringToInt(t *testing.T) {
	tr := ToInt("page_id")

	out, err := tr.Transform(context.Background(), core.Record{"page_id": " 42 "})
	require.NoError(t, err)
	assert.Equal(t, 42, out["page_id"])

	_, err = tr.Transform(context.Background(), core.Record{"page_id": "not a number"})
	require.Error(t, err)
}

func TestParseTime(t *testing.T) {
	tr := ParseTime("edited_at", time.RFC3339)

	out, err := tr.Transform(context.Background(), core.Record{
		"edited_at": "2024-03-01T10:30:00Z",
	})
	require.NoError(t, err)

	parsed, ok := out["edited_at"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2024, parsed.Year())
}

func TestTrimSpace_SkipsNulls(t *testing.T) {
	tr := TrimSpace("title")

	out, err := tr.Transform(context.Background(), core.Record{"title": "  Home  "})
	require.NoError(t, err)
	assert.Equal(t, "Home", out["title"])

	out, err = tr.Transform(context.Background(), core.Record{"title": nil})
	require.NoError(t, err)
	assert.Nil(t, out["title"])
}

func TestRemoveFields(t *testing.T) {
	tr := RemoveFields("internal_id", "checksum")

	out, err := tr.Transform(context.Background(), core.Record{
		"page_id":     1,
		"internal_id": "x",
		"checksum":    "y",
	})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 1, out["page_id"])
}

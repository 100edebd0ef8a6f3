// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"

	"github.com/kraklabs/ragex/pkg/storage"
)

// QueryResult is re-exported from pkg/storage so tool implementations don't
// need to import both packages just to pass results around.
type QueryResult = storage.QueryResult

// Querier is the minimal read-only surface every tool needs: run a
// CozoScript query and get rows back. EmbeddedBackend satisfies this, and
// tests substitute a mock.
type Querier interface {
	Query(ctx context.Context, script string) (*QueryResult, error)
}

// ToolResult is the uniform response shape every MCP tool handler returns:
// a Markdown-formatted Text body, and IsError set when the tool failed in a
// way the caller (an LLM agent) should react to rather than a hard Go error.
type ToolResult struct {
	Text    string
	IsError bool
}

// NewResult wraps a successful tool response.
func NewResult(text string) *ToolResult {
	return &ToolResult{Text: text}
}

// NewError wraps a tool-level failure (bad input, not found, etc.) that
// should be reported back to the calling agent as text, not a transport
// error.
func NewError(text string) *ToolResult {
	return &ToolResult{Text: text, IsError: true}
}

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
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// AnyToString renders a CozoDB column value (string, float64, bool, nil,
// or a JSON-decoded slice/map) as a display string. Numbers come back from
// the JSON wire format as float64; integral values are rendered without a
// trailing ".0".
func AnyToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// EscapeRegex escapes regex metacharacters so a literal string search can be
// sent through CozoDB's regex_matches().
func EscapeRegex(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '.', '(', ')', '[', ']', '{', '}', '*', '+', '?', '^', '$', '|', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// QuoteCozoPattern renders a string as a CozoScript double-quoted string
// literal, escaping embedded quotes and backslashes.
func QuoteCozoPattern(s string) string {
	return strconv.Quote(s)
}

// ContainsStr reports whether substr occurs within s, case-insensitively.
func ContainsStr(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// ExtractDir returns the directory portion of a file path, "." if the path
// has no directory component.
func ExtractDir(path string) string {
	dir := filepath.Dir(filepath.ToSlash(path))
	if dir == "" {
		return "."
	}
	return dir
}

// ExtractFileName returns the base name of a file path.
func ExtractFileName(path string) string {
	return filepath.Base(filepath.ToSlash(path))
}

// ExtractTopDir returns the first path segment of a relative file path, or
// "." for a path with no directory component (used to bucket files by
// top-level package/module for directory summaries).
func ExtractTopDir(path string) string {
	clean := filepath.ToSlash(filepath.Clean(path))
	clean = strings.TrimPrefix(clean, "/")
	idx := strings.Index(clean, "/")
	if idx < 0 {
		return "."
	}
	return clean[:idx]
}

// detectLanguage detects the programming language from a file extension,
// for syntax-highlighting fences in tool output.
func detectLanguage(filePath string) string {
	filePath = strings.ToLower(filePath)
	switch {
	case strings.HasSuffix(filePath, ".go"):
		return "go"
	case strings.HasSuffix(filePath, ".py"):
		return "python"
	case strings.HasSuffix(filePath, ".ts"), strings.HasSuffix(filePath, ".tsx"):
		return "typescript"
	case strings.HasSuffix(filePath, ".js"), strings.HasSuffix(filePath, ".jsx"):
		return "javascript"
	case strings.HasSuffix(filePath, ".ex"), strings.HasSuffix(filePath, ".exs"):
		return "elixir"
	case strings.HasSuffix(filePath, ".rb"):
		return "ruby"
	default:
		return "unknown"
	}
}

// FormatQueryResult renders a raw QueryResult as a Markdown table, falling
// back to a "no rows" message. script is echoed back so callers can debug a
// surprising empty result.
func FormatQueryResult(result *QueryResult, script string) string {
	if result == nil || len(result.Rows) == 0 {
		return fmt.Sprintf("No results.\n\nQuery:\n```\n%s\n```", script)
	}

	var sb strings.Builder
	sb.WriteString("| " + strings.Join(result.Headers, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(result.Headers)) + "\n")
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = AnyToString(v)
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	fmt.Fprintf(&sb, "\n%d row(s)\n", len(result.Rows))
	return sb.String()
}

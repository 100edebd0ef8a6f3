// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"strings"
)

// GrepArgs are the arguments for the indexed text search tool.
type GrepArgs struct {
	// Text is a single exact string to search for.
	Text string

	// Texts searches several patterns in one call; any match reports.
	Texts []string

	// Path restricts matches to file paths containing this substring.
	Path string

	// ExcludePattern drops file paths containing this substring.
	ExcludePattern string

	// CaseSensitive disables the default case-insensitive matching.
	CaseSensitive bool

	// ContextLines includes this many lines around each match.
	ContextLines int

	// Limit caps the number of reported matches (default 30).
	Limit int
}

// Grep searches indexed function bodies for exact text. Unlike filesystem
// grep it only sees indexed code, which makes it fast and scoped, and it
// reports the enclosing function for every hit.
func Grep(ctx context.Context, client Querier, args GrepArgs) (*ToolResult, error) {
	patterns := args.Texts
	if args.Text != "" {
		patterns = append([]string{args.Text}, patterns...)
	}
	if len(patterns) == 0 {
		return NewError("Error: 'text' or 'texts' is required"), nil
	}
	if args.Limit <= 0 {
		args.Limit = 30
	}

	var sb strings.Builder
	total := 0
	for _, pattern := range patterns {
		matches, err := grepPattern(ctx, client, pattern, args)
		if err != nil {
			return NewError(fmt.Sprintf("Search failed for %q: %v", pattern, err)), nil
		}
		if len(patterns) > 1 {
			sb.WriteString(fmt.Sprintf("## Pattern: `%s` (%d match(es))\n\n", pattern, len(matches)))
		}
		for _, m := range matches {
			sb.WriteString(m)
			total++
			if total >= args.Limit {
				break
			}
		}
		if total >= args.Limit {
			sb.WriteString(fmt.Sprintf("\n(truncated at %d matches)\n", args.Limit))
			break
		}
	}

	if total == 0 {
		return NewResult(fmt.Sprintf("No matches for %s in indexed code.", quotedList(patterns))), nil
	}
	header := fmt.Sprintf("🔎 **Grep** %s — %d match(es)\n\n", quotedList(patterns), total)
	return NewResult(header + sb.String()), nil
}

func quotedList(patterns []string) string {
	quoted := make([]string, len(patterns))
	for i, p := range patterns {
		quoted[i] = fmt.Sprintf("`%s`", p)
	}
	return strings.Join(quoted, ", ")
}

// grepPattern finds functions whose code contains the pattern and renders
// per-match snippets.
func grepPattern(ctx context.Context, client Querier, pattern string, args GrepArgs) ([]string, error) {
	regex := EscapeRegex(pattern)
	if !args.CaseSensitive {
		regex = "(?i)" + regex
	}

	script := fmt.Sprintf(`?[name, file_path, start_line, code_text] :=
  *ragex_function { id, name, file_path, start_line },
  *ragex_function_code { function_id: id, code_text },
  regex_matches(code_text, %s)
:limit %d`, QuoteCozoPattern(regex), args.Limit*3)

	result, err := client.Query(ctx, script)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, row := range result.Rows {
		if len(row) < 4 {
			continue
		}
		path := AnyToString(row[1])
		if args.Path != "" && !strings.Contains(path, args.Path) {
			continue
		}
		if args.ExcludePattern != "" && strings.Contains(path, args.ExcludePattern) {
			continue
		}
		startLine := 0
		if f, ok := toFloat(row[2]); ok {
			startLine = int(f)
		}
		snippet := matchSnippet(AnyToString(row[3]), pattern, args.CaseSensitive, args.ContextLines, startLine)
		out = append(out, fmt.Sprintf("**%s** — %s:%d\n```\n%s\n```\n", AnyToString(row[0]), path, startLine, snippet))
	}
	return out, nil
}

// matchSnippet extracts the matching line(s) with context, prefixed by
// absolute line numbers.
func matchSnippet(code, pattern string, caseSensitive bool, contextLines, startLine int) string {
	needle := pattern
	haystackTransform := func(s string) string { return s }
	if !caseSensitive {
		needle = strings.ToLower(pattern)
		haystackTransform = strings.ToLower
	}

	lines := strings.Split(code, "\n")
	var parts []string
	for i, line := range lines {
		if !strings.Contains(haystackTransform(line), needle) {
			continue
		}
		lo := max(0, i-contextLines)
		hi := min(len(lines)-1, i+contextLines)
		for j := lo; j <= hi; j++ {
			marker := "  "
			if j == i {
				marker = "> "
			}
			parts = append(parts, fmt.Sprintf("%s%d: %s", marker, startLine+j, lines[j]))
		}
		if len(parts) > 30 {
			break
		}
	}
	return strings.Join(parts, "\n")
}

// VerifyAbsenceArgs are the arguments for the absence-check tool.
type VerifyAbsenceArgs struct {
	// Patterns are the strings that must not appear in indexed code.
	Patterns []string

	// Path restricts the check to file paths containing this substring.
	Path string

	// ExcludePattern exempts file paths containing this substring.
	ExcludePattern string

	// CaseSensitive disables the default case-insensitive matching.
	CaseSensitive bool

	// Severity labels the report ("error" fails loudly, default "warning").
	Severity string
}

// VerifyAbsence confirms that none of the given patterns occur in indexed
// code — the audit counterpart of Grep, used to prove dead references,
// removed flags, or banned APIs are really gone.
func VerifyAbsence(ctx context.Context, client Querier, args VerifyAbsenceArgs) (*ToolResult, error) {
	if len(args.Patterns) == 0 {
		return NewError("Error: 'patterns' is required"), nil
	}
	severity := args.Severity
	if severity == "" {
		severity = "warning"
	}

	grepArgs := GrepArgs{
		Path:           args.Path,
		ExcludePattern: args.ExcludePattern,
		CaseSensitive:  args.CaseSensitive,
		Limit:          10,
	}

	var sb strings.Builder
	clean := true
	for _, pattern := range args.Patterns {
		matches, err := grepPattern(ctx, client, pattern, grepArgs)
		if err != nil {
			return NewError(fmt.Sprintf("Absence check failed for %q: %v", pattern, err)), nil
		}
		if len(matches) == 0 {
			sb.WriteString(fmt.Sprintf("✅ `%s` — absent\n", pattern))
			continue
		}
		clean = false
		sb.WriteString(fmt.Sprintf("❌ `%s` — %d occurrence(s) found:\n", pattern, len(matches)))
		for _, m := range matches {
			sb.WriteString(m)
		}
	}

	if clean {
		return NewResult("✅ **All patterns absent**\n\n" + sb.String()), nil
	}
	result := NewResult(fmt.Sprintf("⚠️ **Patterns still present** (severity: %s)\n\n%s", severity, sb.String()))
	if severity == "error" {
		result.IsError = true
	}
	return result, nil
}

// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// AnalyzeArgs are the arguments for the architectural analysis tool.
type AnalyzeArgs struct {
	// Question is a natural-language architectural question.
	Question string

	// PathPattern restricts the analysis to matching file paths.
	PathPattern string

	// Role filters results ("source" excludes tests).
	Role string
}

// Analyze answers architectural questions by routing the question's intent
// to the matching structural query: entry points, endpoints, module layout,
// or a general structure overview. It is keyword routing, not language
// understanding — the calling agent does the reasoning on top.
func Analyze(ctx context.Context, client Querier, args AnalyzeArgs) (*ToolResult, error) {
	if strings.TrimSpace(args.Question) == "" {
		return NewError("Error: 'question' is required"), nil
	}
	q := strings.ToLower(args.Question)

	switch {
	case containsAny(q, "entry point", "entrypoint", "main function", "where does execution start"):
		return analyzeEntryPoints(ctx, client, args.PathPattern)
	case containsAny(q, "endpoint", "route", "http", "api surface"):
		return ListEndpoints(ctx, client, ListEndpointsArgs{PathPattern: args.PathPattern})
	case containsAny(q, "organiz", "structure", "module", "architect", "layout", "directory"):
		return ListServices(ctx, client, args.PathPattern, "")
	case containsAny(q, "depend", "import"):
		return analyzeImports(ctx, client, args.PathPattern)
	default:
		return analyzeOverview(ctx, client, args)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// analyzeEntryPoints finds conventional program entry points per language.
func analyzeEntryPoints(ctx context.Context, client Querier, pathPattern string) (*ToolResult, error) {
	script := `?[name, file_path, start_line] :=
  *ragex_function { name, file_path, start_line },
  regex_matches(name, '^(main|Main|__main__|index|app|handler|serve)$')
:limit 50`
	result, err := client.Query(ctx, script)
	if err != nil {
		return NewError(fmt.Sprintf("Entry point scan failed: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("🚪 **Entry points**\n\n")
	count := 0
	for _, row := range result.Rows {
		if len(row) < 3 {
			continue
		}
		path := AnyToString(row[1])
		if pathPattern != "" && !strings.Contains(path, pathPattern) {
			continue
		}
		if isTestFilePath(path) {
			continue
		}
		count++
		sb.WriteString(fmt.Sprintf("- **%s** — %s:%s\n", AnyToString(row[0]), path, AnyToString(row[2])))
	}
	if count == 0 {
		sb.WriteString("No conventional entry points found (main, index, __main__).\n")
	}
	return NewResult(sb.String()), nil
}

// analyzeImports summarizes the most-imported packages.
func analyzeImports(ctx context.Context, client Querier, pathPattern string) (*ToolResult, error) {
	result, err := client.Query(ctx, `?[file_path, import_path] := *ragex_import { file_path, import_path } :limit 50000`)
	if err != nil {
		return NewError(fmt.Sprintf("Import scan failed: %v", err)), nil
	}

	counts := make(map[string]int)
	for _, row := range result.Rows {
		if len(row) < 2 {
			continue
		}
		if pathPattern != "" && !strings.Contains(AnyToString(row[0]), pathPattern) {
			continue
		}
		counts[AnyToString(row[1])]++
	}

	type entry struct {
		path  string
		count int
	}
	var entries []entry
	for p, c := range counts {
		entries = append(entries, entry{p, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].path < entries[j].path
	})
	if len(entries) > 30 {
		entries = entries[:30]
	}

	var sb strings.Builder
	sb.WriteString("📦 **Most-imported packages**\n\n")
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("- %s (%d imports)\n", e.path, e.count))
	}
	if len(entries) == 0 {
		sb.WriteString("No imports indexed.\n")
	}
	return NewResult(sb.String()), nil
}

// analyzeOverview is the fallback: index-wide counts plus the directory map.
func analyzeOverview(ctx context.Context, client Querier, args AnalyzeArgs) (*ToolResult, error) {
	services, err := ListServices(ctx, client, args.PathPattern, "")
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🧭 **Overview** (question: %q)\n\n", args.Question))
	sb.WriteString(services.Text)
	sb.WriteString("\nUse ragex_list_endpoints, ragex_trace_path, or ragex_semantic_search for a deeper look at a specific area.\n")
	return NewResult(sb.String()), nil
}

// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ListEndpointsArgs are the arguments for the endpoint discovery tool.
type ListEndpointsArgs struct {
	// PathPattern restricts the scan to file paths containing this substring.
	PathPattern string

	// PathFilter keeps only endpoints whose route contains this substring.
	PathFilter string

	// Method keeps only endpoints registered with this HTTP method.
	Method string

	// Limit caps the number of endpoints returned (default 100).
	Limit int
}

// endpointPatterns recognize route registrations across common frameworks:
// Go net/http and gin/echo-style routers, Express, Flask/FastAPI.
var endpointPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.(GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS)\s*\(\s*["'` + "`" + `]([^"'` + "`" + `]+)`),
	regexp.MustCompile(`HandleFunc\s*\(\s*["'` + "`" + `]([^"'` + "`" + `]+)`),
	regexp.MustCompile(`\.(get|post|put|delete|patch)\s*\(\s*["'` + "`" + `](/[^"'` + "`" + `]*)`),
	regexp.MustCompile(`@(?:app|router)\.(?:route|get|post|put|delete|patch)\s*\(\s*["']([^"']+)`),
}

type endpointInfo struct {
	method   string
	route    string
	function string
	file     string
	line     int
}

// ListEndpoints scans indexed code for HTTP route registrations and lists
// them with their handler locations.
func ListEndpoints(ctx context.Context, client Querier, args ListEndpointsArgs) (*ToolResult, error) {
	if args.Limit <= 0 {
		args.Limit = 100
	}

	script := `?[name, file_path, start_line, code_text] :=
  *ragex_function { id, name, file_path, start_line },
  *ragex_function_code { function_id: id, code_text },
  regex_matches(code_text, '(?i)(HandleFunc|\\.(get|post|put|delete|patch|head|options)\\s*\\(|@(app|router)\\.)')
:limit 2000`

	result, err := client.Query(ctx, script)
	if err != nil {
		return NewError(fmt.Sprintf("Endpoint scan failed: %v", err)), nil
	}

	var endpoints []endpointInfo
	for _, row := range result.Rows {
		if len(row) < 4 {
			continue
		}
		path := AnyToString(row[1])
		if args.PathPattern != "" && !strings.Contains(path, args.PathPattern) {
			continue
		}
		line := 0
		if f, ok := toFloat(row[2]); ok {
			line = int(f)
		}
		endpoints = append(endpoints, extractEndpoints(AnyToString(row[3]), AnyToString(row[0]), path, line)...)
	}

	endpoints = filterEndpoints(endpoints, args)
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].route != endpoints[j].route {
			return endpoints[i].route < endpoints[j].route
		}
		return endpoints[i].method < endpoints[j].method
	})
	if len(endpoints) > args.Limit {
		endpoints = endpoints[:args.Limit]
	}

	if len(endpoints) == 0 {
		return NewResult("No HTTP endpoints found in indexed code."), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🌐 **Endpoints** (%d)\n\n", len(endpoints)))
	for _, e := range endpoints {
		sb.WriteString(fmt.Sprintf("- `%-6s %s` — %s (%s:%d)\n", e.method, e.route, e.function, e.file, e.line))
	}
	return NewResult(sb.String()), nil
}

func extractEndpoints(code, function, file string, line int) []endpointInfo {
	var out []endpointInfo
	seen := make(map[string]bool)
	for _, pattern := range endpointPatterns {
		for _, m := range pattern.FindAllStringSubmatch(code, -1) {
			var method, route string
			switch len(m) {
			case 3:
				method, route = strings.ToUpper(m[1]), m[2]
			case 2:
				method, route = "ANY", m[1]
			default:
				continue
			}
			key := method + " " + route
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, endpointInfo{method: method, route: route, function: function, file: file, line: line})
		}
	}
	return out
}

func filterEndpoints(endpoints []endpointInfo, args ListEndpointsArgs) []endpointInfo {
	var out []endpointInfo
	for _, e := range endpoints {
		if args.PathFilter != "" && !strings.Contains(e.route, args.PathFilter) {
			continue
		}
		if args.Method != "" && !strings.EqualFold(e.method, args.Method) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ListServices summarizes the top-level directories of the indexed tree:
// file and function counts per directory, a quick architectural map.
func ListServices(ctx context.Context, client Querier, pathPattern, serviceName string) (*ToolResult, error) {
	result, err := client.Query(ctx, `?[path] := *ragex_file { path } :limit 20000`)
	if err != nil {
		return NewError(fmt.Sprintf("Service scan failed: %v", err)), nil
	}

	fileCounts := make(map[string]int)
	for _, row := range result.Rows {
		if len(row) < 1 {
			continue
		}
		path := AnyToString(row[0])
		if pathPattern != "" && !strings.Contains(path, pathPattern) {
			continue
		}
		fileCounts[ExtractTopDir(path)]++
	}

	fnResult, err := client.Query(ctx, `?[file_path] := *ragex_function { file_path } :limit 100000`)
	fnCounts := make(map[string]int)
	if err == nil {
		for _, row := range fnResult.Rows {
			if len(row) < 1 {
				continue
			}
			fnCounts[ExtractTopDir(AnyToString(row[0]))]++
		}
	}

	var dirs []string
	for dir := range fileCounts {
		if serviceName != "" && !ContainsStr(dir, serviceName) {
			continue
		}
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	if len(dirs) == 0 {
		return NewResult("No indexed directories found."), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🏗️ **Services / top-level directories** (%d)\n\n", len(dirs)))
	sb.WriteString("| directory | files | functions |\n| --- | --- | --- |\n")
	for _, dir := range dirs {
		sb.WriteString(fmt.Sprintf("| %s | %d | %d |\n", dir, fileCounts[dir], fnCounts[dir]))
	}
	return NewResult(sb.String()), nil
}

// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"strings"
)

// FindImplementationsArgs are the arguments for the implementation lookup
// tool.
type FindImplementationsArgs struct {
	// InterfaceName is the interface whose implementations are wanted.
	InterfaceName string

	// PathPattern restricts results to matching file paths.
	PathPattern string

	// Limit caps the number of results (default 20).
	Limit int
}

// FindImplementations lists concrete types implementing an interface, from
// the implements edges built during indexing by method-set matching.
func FindImplementations(ctx context.Context, client Querier, args FindImplementationsArgs) (*ToolResult, error) {
	if strings.TrimSpace(args.InterfaceName) == "" {
		return NewError("Error: 'interface_name' is required"), nil
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}

	script := fmt.Sprintf(`?[type_name, file_path] :=
  *ragex_implements { type_name, interface_name, file_path },
  interface_name = %s
:limit %d`, QuoteCozoPattern(args.InterfaceName), args.Limit*3)

	result, err := client.Query(ctx, script)
	if err != nil {
		return NewError(fmt.Sprintf("Implementation lookup failed: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔌 **Implementations of %s**\n\n", args.InterfaceName))
	count := 0
	for _, row := range result.Rows {
		if len(row) < 2 {
			continue
		}
		path := AnyToString(row[1])
		if args.PathPattern != "" && !strings.Contains(path, args.PathPattern) {
			continue
		}
		count++
		sb.WriteString(fmt.Sprintf("- **%s** — %s\n", AnyToString(row[0]), path))
		if count >= args.Limit {
			break
		}
	}
	if count == 0 {
		sb.WriteString("No implementations found. The interface may be unindexed or implemented outside this repository.\n")
	}
	return NewResult(sb.String()), nil
}

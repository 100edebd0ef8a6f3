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
	"fmt"
	"strings"
)

// GetFunctionCodeArgs holds arguments for fetching a function's source.
type GetFunctionCodeArgs struct {
	FunctionName string
	FullCode     bool
}

// GetFunctionCode returns the source body of a function, resolving
// ambiguous matches by listing the candidates instead of guessing.
func GetFunctionCode(ctx context.Context, client Querier, args GetFunctionCodeArgs) (*ToolResult, error) {
	if args.FunctionName == "" {
		return NewError("Error: 'function_name' is required"), nil
	}

	condition := fmt.Sprintf("(name = %q or ends_with(name, %q))", args.FunctionName, "."+args.FunctionName)
	script := fmt.Sprintf(
		`?[name, file_path, signature, start_line, end_line, code_text] :=
  *ragex_function { id, name, file_path, signature, start_line, end_line },
  *ragex_function_code { function_id: id, code_text },
  %s`,
		condition,
	)

	result, err := client.Query(ctx, script)
	if err != nil {
		return NewError(fmt.Sprintf("Query error: %v\n\nGenerated query:\n%s", err, script)), nil
	}

	if len(result.Rows) == 0 {
		return NewError(fmt.Sprintf("Function `%s` not found.", args.FunctionName)), nil
	}

	if len(result.Rows) > 1 {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Multiple functions match `%s`:\n\n", args.FunctionName)
		for _, row := range result.Rows {
			fmt.Fprintf(&sb, "- `%s` (%s:%s)\n", AnyToString(row[0]), AnyToString(row[1]), AnyToString(row[3]))
		}
		sb.WriteString("\nPass the fully qualified name (e.g. `Receiver.Method`) to disambiguate.\n")
		return NewResult(sb.String()), nil
	}

	row := result.Rows[0]
	code := AnyToString(row[5])
	if !args.FullCode {
		code = truncateCodeLines(code, 60)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n", AnyToString(row[0]))
	fmt.Fprintf(&sb, "File: %s:%s-%s\n\n", AnyToString(row[1]), AnyToString(row[3]), AnyToString(row[4]))
	lang := detectLanguage(AnyToString(row[1]))
	fmt.Fprintf(&sb, "```%s\n%s\n```\n", lang, code)
	return NewResult(sb.String()), nil
}

// ListFunctionsInFileArgs holds arguments for listing all functions in a file.
type ListFunctionsInFileArgs struct {
	FilePath string
}

// ListFunctionsInFile lists every function defined in one file, ordered by
// line number.
func ListFunctionsInFile(ctx context.Context, client Querier, args ListFunctionsInFileArgs) (*ToolResult, error) {
	if args.FilePath == "" {
		return NewError("Error: 'file_path' is required"), nil
	}

	script := fmt.Sprintf(
		`?[name, signature, start_line, end_line] := *ragex_function { file_path, name, signature, start_line, end_line }, file_path = %q :order start_line`,
		args.FilePath,
	)
	result, err := client.Query(ctx, script)
	if err != nil {
		return NewError(fmt.Sprintf("Query error: %v\n\nGenerated query:\n%s", err, script)), nil
	}

	return NewResult(FormatQueryResult(result, script)), nil
}

// GetCallGraphArgs holds arguments for a one-hop call graph query.
type GetCallGraphArgs struct {
	FunctionName string
}

// GetCallGraph shows both the callers and the callees of a function in a
// single response, a quick neighborhood view before a deeper trace.
func GetCallGraph(ctx context.Context, client Querier, args GetCallGraphArgs) (*ToolResult, error) {
	if args.FunctionName == "" {
		return NewError("Error: 'function_name' is required"), nil
	}

	callers, err := FindCallers(ctx, client, FindCallersArgs{FunctionName: args.FunctionName})
	if err != nil {
		return nil, err
	}
	callees, err := FindCallees(ctx, client, FindCalleesArgs{FunctionName: args.FunctionName})
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Call graph for `%s`\n\n", args.FunctionName)
	sb.WriteString("### Callers\n")
	sb.WriteString(callers.Text)
	sb.WriteString("\n### Callees\n")
	sb.WriteString(callees.Text)

	return NewResult(sb.String()), nil
}

// FindSimilarFunctionsArgs holds arguments for name-pattern similarity search.
type FindSimilarFunctionsArgs struct {
	Pattern string
	Limit   int
}

// FindSimilarFunctions finds functions whose name matches a regex pattern,
// for cases where the caller knows a naming convention but not an exact name.
func FindSimilarFunctions(ctx context.Context, client Querier, args FindSimilarFunctionsArgs) (*ToolResult, error) {
	if args.Pattern == "" {
		return NewError("Error: 'pattern' is required"), nil
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}

	script := fmt.Sprintf(
		`?[name, file_path, start_line] := *ragex_function { name, file_path, start_line }, regex_matches(name, "(?i)%s") :limit %d`,
		args.Pattern, args.Limit,
	)
	result, err := client.Query(ctx, script)
	if err != nil {
		return NewError(fmt.Sprintf("Query error: %v\n\nGenerated query:\n%s", err, script)), nil
	}

	return NewResult(FormatQueryResult(result, script)), nil
}

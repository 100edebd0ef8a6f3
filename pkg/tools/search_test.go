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
	"testing"
)

// ============================================================================
// UNIT TESTS (no CozoDB required - use mocks)
// ============================================================================

// Mock result builders for unit tests

// mockSearchResult creates a QueryResult for search operations with the specified function names.
func mockSearchResult(names ...string) *QueryResult {
	rows := make([][]any, len(names))
	for i, name := range names {
		rows[i] = []any{"/pkg/file.go", name, "func " + name + "()", 10, 20}
	}
	return &QueryResult{
		Headers: []string{"file_path", "name", "signature", "start_line", "end_line"},
		Rows:    rows,
	}
}

// mockFunctionResult creates a QueryResult for FindFunction operations.
func mockFunctionResult(names ...string) *QueryResult {
	rows := make([][]any, len(names))
	for i, name := range names {
		rows[i] = []any{"/pkg/file.go", name, "func " + name + "()", 10, 20}
	}
	return &QueryResult{
		Headers: []string{"file_path", "name", "signature", "start_line", "end_line"},
		Rows:    rows,
	}
}

// mockFunctionResultWithCode creates a QueryResult for FindFunction with IncludeCode=true.
func mockFunctionResultWithCode(name, code string) *QueryResult {
	return &QueryResult{
		Headers: []string{"file_path", "name", "signature", "start_line", "end_line", "code_text"},
		Rows: [][]any{
			{"/pkg/file.go", name, "func " + name + "()", 10, 20, code},
		},
	}
}

// mockCallerResult creates a QueryResult for FindCallers operations.
func mockCallerResult(callerName, calleeName string) *QueryResult {
	return &QueryResult{
		Headers: []string{"caller_file", "caller_name", "caller_line", "callee_name"},
		Rows: [][]any{
			{"/pkg/caller.go", callerName, 15, calleeName},
		},
	}
}

// mockCalleeResult creates a QueryResult for FindCallees operations.
func mockCalleeResult(callerName, calleeName string) *QueryResult {
	return &QueryResult{
		Headers: []string{"caller_name", "callee_file", "callee_name", "callee_line"},
		Rows: [][]any{
			{callerName, "/pkg/callee.go", calleeName, 25},
		},
	}
}

// mockFileResult creates a QueryResult for ListFiles operations.
func mockFileResult(paths ...string) *QueryResult {
	rows := make([][]any, len(paths))
	for i, path := range paths {
		rows[i] = []any{path, "go", 1024}
	}
	return &QueryResult{
		Headers: []string{"path", "language", "size"},
		Rows:    rows,
	}
}

func TestSearchText(t *testing.T) {
	tests := []struct {
		name       string
		args       SearchTextArgs
		mockClient *MockRagexClient
		wantErr    bool
		wantText   string
	}{
		// Success cases
		{
			name: "basic regex search in all",
			args: SearchTextArgs{Pattern: "Handle.*", SearchIn: "all", Limit: 10},
			mockClient: NewMockClientWithResults(
				mockSearchResult("HandleRequest", "HandleResponse").Headers,
				mockSearchResult("HandleRequest", "HandleResponse").Rows,
			),
			wantText: "HandleRequest",
		},
		{
			name: "search in code only",
			args: SearchTextArgs{Pattern: "TODO", SearchIn: "code", Limit: 10},
			mockClient: NewMockClientWithResults(
				mockSearchResult("ProcessData").Headers,
				mockSearchResult("ProcessData").Rows,
			),
			wantText: "ProcessData",
		},
		{
			name: "search in signature",
			args: SearchTextArgs{Pattern: "ctx context.Context", SearchIn: "signature", Limit: 10},
			mockClient: NewMockClientWithResults(
				mockSearchResult("HandleRequest").Headers,
				mockSearchResult("HandleRequest").Rows,
			),
			wantText: "HandleRequest",
		},
		{
			name: "search in name",
			args: SearchTextArgs{Pattern: "^Handle", SearchIn: "name", Limit: 10},
			mockClient: NewMockClientWithResults(
				mockSearchResult("HandleRequest").Headers,
				mockSearchResult("HandleRequest").Rows,
			),
			wantText: "HandleRequest",
		},
		{
			name: "literal mode escapes regex chars",
			args: SearchTextArgs{Pattern: ".GET(", Literal: true, Limit: 10},
			mockClient: NewMockClientWithResults(
				mockSearchResult("RegisterRoutes").Headers,
				mockSearchResult("RegisterRoutes").Rows,
			),
			wantText: "RegisterRoutes",
		},
		{
			name: "with file pattern",
			args: SearchTextArgs{Pattern: "error", FilePattern: "internal/.*", Limit: 10},
			mockClient: NewMockClientWithResults(
				mockSearchResult("HandleError").Headers,
				mockSearchResult("HandleError").Rows,
			),
			wantText: "HandleError",
		},
		{
			name: "with exclude pattern",
			args: SearchTextArgs{Pattern: "test", ExcludePattern: "_test.go", Limit: 10},
			mockClient: NewMockClientWithResults(
				mockSearchResult("TestHelper").Headers,
				mockSearchResult("TestHelper").Rows,
			),
			wantText: "TestHelper",
		},
		{
			name:       "no results found",
			args:       SearchTextArgs{Pattern: "NonExistent", SearchIn: "all", Limit: 10},
			mockClient: NewMockClientEmpty(),
			wantText:   "Found 0",
		},
		// Error cases
		{
			name:     "empty pattern error",
			args:     SearchTextArgs{Pattern: ""},
			wantErr:  true,
			wantText: "pattern' is required",
		},
		{
			name:     "invalid regex pattern",
			args:     SearchTextArgs{Pattern: "[invalid"},
			wantErr:  true,
			wantText: "Invalid Regex Pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := setupTest(t)
			result, err := SearchText(ctx, tt.mockClient, tt.args)
			assertNoError(t, err)

			if tt.wantErr {
				if !result.IsError {
					t.Error("expected error result, got success")
				}
				if tt.wantText != "" {
					assertContains(t, result.Text, tt.wantText)
				}
				return
			}

			if result.IsError {
				t.Errorf("unexpected error result: %s", result.Text)
				return
			}

			if tt.wantText != "" {
				assertContains(t, result.Text, tt.wantText)
			}
		})
	}
}

func TestFindFunction(t *testing.T) {
	tests := []struct {
		name       string
		args       FindFunctionArgs
		mockClient *MockRagexClient
		wantErr    bool
		wantText   string
	}{
		{
			name: "exact match",
			args: FindFunctionArgs{Name: "NewRagexClient", ExactMatch: true},
			mockClient: NewMockClientWithResults(
				mockFunctionResult("NewRagexClient").Headers,
				mockFunctionResult("NewRagexClient").Rows,
			),
			wantText: "NewRagexClient",
		},
		{
			name: "partial match includes methods",
			args: FindFunctionArgs{Name: "Handle", ExactMatch: false},
			mockClient: NewMockClientWithResults(
				mockFunctionResult("Handle", "Service.Handle").Headers,
				mockFunctionResult("Handle", "Service.Handle").Rows,
			),
			wantText: "Service.Handle",
		},
		{
			name: "with receiver method",
			args: FindFunctionArgs{Name: "Client.Query"},
			mockClient: NewMockClientWithResults(
				mockFunctionResult("Client.Query").Headers,
				mockFunctionResult("Client.Query").Rows,
			),
			wantText: "Client.Query",
		},
		{
			name: "include code",
			args: FindFunctionArgs{Name: "main", IncludeCode: true},
			mockClient: NewMockClientWithResults(
				mockFunctionResultWithCode("main", "func main() { fmt.Println(\"hello\") }").Headers,
				mockFunctionResultWithCode("main", "func main() { fmt.Println(\"hello\") }").Rows,
			),
			wantText: "func main()",
		},
		{
			name:     "empty name error",
			args:     FindFunctionArgs{Name: ""},
			wantErr:  true,
			wantText: "name' is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := setupTest(t)
			result, err := FindFunction(ctx, tt.mockClient, tt.args)
			assertNoError(t, err)

			if tt.wantErr {
				if !result.IsError {
					t.Error("expected error result, got success")
				}
				if tt.wantText != "" {
					assertContains(t, result.Text, tt.wantText)
				}
				return
			}

			if result.IsError {
				t.Errorf("unexpected error result: %s", result.Text)
				return
			}

			if tt.wantText != "" {
				assertContains(t, result.Text, tt.wantText)
			}
		})
	}
}

func TestFindCallers(t *testing.T) {
	tests := []struct {
		name       string
		args       FindCallersArgs
		mockClient *MockRagexClient
		wantErr    bool
		wantText   string
	}{
		{
			name: "find callers of function",
			args: FindCallersArgs{FunctionName: "handleRequest"},
			mockClient: NewMockClientWithResults(
				mockCallerResult("main", "handleRequest").Headers,
				mockCallerResult("main", "handleRequest").Rows,
			),
			wantText: "main",
		},
		{
			name: "find callers with method receiver",
			args: FindCallersArgs{FunctionName: "Service.Process"},
			mockClient: NewMockClientWithResults(
				mockCallerResult("Controller.Handle", "Service.Process").Headers,
				mockCallerResult("Controller.Handle", "Service.Process").Rows,
			),
			wantText: "Controller.Handle",
		},
		{
			name:     "empty function name error",
			args:     FindCallersArgs{FunctionName: ""},
			wantErr:  true,
			wantText: "function_name' is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := setupTest(t)
			result, err := FindCallers(ctx, tt.mockClient, tt.args)
			assertNoError(t, err)

			if tt.wantErr {
				if !result.IsError {
					t.Error("expected error result, got success")
				}
				if tt.wantText != "" {
					assertContains(t, result.Text, tt.wantText)
				}
				return
			}

			if result.IsError {
				t.Errorf("unexpected error result: %s", result.Text)
				return
			}

			if tt.wantText != "" {
				assertContains(t, result.Text, tt.wantText)
			}
		})
	}
}

func TestFindCallees(t *testing.T) {
	tests := []struct {
		name       string
		args       FindCalleesArgs
		mockClient *MockRagexClient
		wantErr    bool
		wantText   string
	}{
		{
			name: "find callees of function",
			args: FindCalleesArgs{FunctionName: "main"},
			mockClient: NewMockClientWithResults(
				mockCalleeResult("main", "handleRequest").Headers,
				mockCalleeResult("main", "handleRequest").Rows,
			),
			wantText: "handleRequest",
		},
		{
			name: "find callees with method receiver",
			args: FindCalleesArgs{FunctionName: "Controller.Handle"},
			mockClient: NewMockClientWithResults(
				mockCalleeResult("Controller.Handle", "Service.Process").Headers,
				mockCalleeResult("Controller.Handle", "Service.Process").Rows,
			),
			wantText: "Service.Process",
		},
		{
			name:     "empty function name error",
			args:     FindCalleesArgs{FunctionName: ""},
			wantErr:  true,
			wantText: "function_name' is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := setupTest(t)
			result, err := FindCallees(ctx, tt.mockClient, tt.args)
			assertNoError(t, err)

			if tt.wantErr {
				if !result.IsError {
					t.Error("expected error result, got success")
				}
				if tt.wantText != "" {
					assertContains(t, result.Text, tt.wantText)
				}
				return
			}

			if result.IsError {
				t.Errorf("unexpected error result: %s", result.Text)
				return
			}

			if tt.wantText != "" {
				assertContains(t, result.Text, tt.wantText)
			}
		})
	}
}

// Test FindCallees with concrete field dispatch
func TestFindCallees_ConcreteFieldDispatch(t *testing.T) {
	queryCount := 0
	client := NewMockClientCustom(
		func(ctx context.Context, script string) (*QueryResult, error) {
			queryCount++
			// Phase 1: Direct callees (ragex_calls)
			if strings.Contains(script, "ragex_calls") {
				return &QueryResult{
					Headers: []string{"caller_name", "callee_file", "callee_name", "callee_line"},
					Rows:    [][]any{},
				}, nil
			}
			// Phase 2: Interface dispatch (ragex_field + ragex_implements) — none
			if strings.Contains(script, "ragex_field") && strings.Contains(script, "ragex_implements") {
				return &QueryResult{
					Headers: []string{"caller_name", "callee_file", "callee_name", "callee_line"},
					Rows:    [][]any{},
				}, nil
			}
			// Phase 2b: Concrete field dispatch (ragex_field + field_prefix)
			if strings.Contains(script, "ragex_field") && strings.Contains(script, "field_prefix") {
				return &QueryResult{
					Headers: []string{"caller_name", "callee_file", "callee_name", "callee_line"},
					Rows: [][]any{
						{"EmbeddedBackend.Execute", "pkg/cozodb/cozodb.go", "CozoDB.Run", 42},
					},
				}, nil
			}
			return &QueryResult{Headers: []string{}, Rows: [][]any{}}, nil
		},
		nil,
	)
	ctx := setupTest(t)

	result, err := FindCallees(ctx, client, FindCalleesArgs{FunctionName: "EmbeddedBackend.Execute"})
	assertNoError(t, err)

	if result.IsError {
		t.Errorf("unexpected error: %s", result.Text)
	}
	assertContains(t, result.Text, "CozoDB.Run")
}

// Test FindCallees with param-based dispatch
func TestFindCallees_ParamDispatch(t *testing.T) {
	client := NewMockClientCustom(
		func(ctx context.Context, script string) (*QueryResult, error) {
			// Phase 1: Direct callees (ragex_calls) — none
			if strings.Contains(script, "ragex_calls") {
				return &QueryResult{
					Headers: []string{"caller_name", "callee_file", "callee_name", "callee_line"},
					Rows:    [][]any{},
				}, nil
			}
			// Signature query
			if strings.Contains(script, "signature") && !strings.Contains(script, "ragex_implements") {
				return &QueryResult{
					Headers: []string{"signature"},
					Rows:    [][]any{{"func storeFact(client Querier, fact string) error"}},
				}, nil
			}
			// Implementation query for Querier
			if strings.Contains(script, "ragex_implements") {
				return &QueryResult{
					Headers: []string{"caller_name", "callee_file", "callee_name", "callee_line"},
					Rows: [][]any{
						{"storeFact", "pkg/tools/client.go", "RagexClient.StoreFact", 50},
					},
				}, nil
			}
			return &QueryResult{Headers: []string{}, Rows: [][]any{}}, nil
		},
		nil,
	)
	ctx := setupTest(t)

	result, err := FindCallees(ctx, client, FindCalleesArgs{FunctionName: "storeFact"})
	assertNoError(t, err)

	if result.IsError {
		t.Errorf("unexpected error: %s", result.Text)
	}
	assertContains(t, result.Text, "RagexClient.StoreFact")
}

// Test FindFunction surfaces matching types when no functions match
func TestFindFunction_SuggestsType(t *testing.T) {
	queryCount := 0
	client := NewMockClientCustom(
		func(ctx context.Context, script string) (*QueryResult, error) {
			queryCount++
			// First query: FindFunction — returns 0 results
			if strings.Contains(script, "ragex_function") && !strings.Contains(script, "ragex_type") {
				return &QueryResult{
					Headers: []string{"file_path", "name", "signature", "start_line", "end_line"},
					Rows:    [][]any{},
				}, nil
			}
			// Second query: type check — returns matches
			if strings.Contains(script, "ragex_type") {
				return &QueryResult{
					Headers: []string{"name", "kind"},
					Rows: [][]any{
						{"Querier", "interface"},
					},
				}, nil
			}
			return &QueryResult{Headers: []string{}, Rows: [][]any{}}, nil
		},
		nil,
	)
	ctx := setupTest(t)

	result, err := FindFunction(ctx, client, FindFunctionArgs{Name: "Querier"})
	assertNoError(t, err)

	assertContains(t, result.Text, "Did you mean a type?")
	assertContains(t, result.Text, "Querier")
	assertContains(t, result.Text, "interface")
}

func TestListFiles(t *testing.T) {
	tests := []struct {
		name       string
		args       ListFilesArgs
		mockClient *MockRagexClient
		wantText   string
	}{
		{
			name: "list all files",
			args: ListFilesArgs{Limit: 50},
			mockClient: NewMockClientWithResults(
				mockFileResult("handler.go", "service.go").Headers,
				mockFileResult("handler.go", "service.go").Rows,
			),
			wantText: "handler.go",
		},
		{
			name: "filter by path pattern",
			args: ListFilesArgs{PathPattern: "internal/.*", Limit: 50},
			mockClient: NewMockClientWithResults(
				mockFileResult("internal/handler.go").Headers,
				mockFileResult("internal/handler.go").Rows,
			),
			wantText: "internal",
		},
		{
			name: "filter by language",
			args: ListFilesArgs{Language: "python", Limit: 50},
			mockClient: NewMockClientWithResults(
				mockFileResult("script.py").Headers,
				mockFileResult("script.py").Rows,
			),
			wantText: "script.py",
		},
		{
			name: "both filters",
			args: ListFilesArgs{PathPattern: "test/.*", Language: "go", Limit: 50},
			mockClient: NewMockClientWithResults(
				mockFileResult("test/handler_test.go").Headers,
				mockFileResult("test/handler_test.go").Rows,
			),
			wantText: "test/handler_test.go",
		},
		{
			name: "default limit applied",
			args: ListFilesArgs{},
			mockClient: NewMockClientWithResults(
				mockFileResult("file.go").Headers,
				mockFileResult("file.go").Rows,
			),
			wantText: "file.go",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := setupTest(t)
			result, err := ListFiles(ctx, tt.mockClient, tt.args)
			assertNoError(t, err)

			if result.IsError {
				t.Errorf("unexpected error result: %s", result.Text)
				return
			}

			if tt.wantText != "" {
				assertContains(t, result.Text, tt.wantText)
			}
		})
	}
}

func TestRawQuery(t *testing.T) {
	tests := []struct {
		name       string
		args       RawQueryArgs
		mockClient *MockRagexClient
		wantErr    bool
		wantText   string
	}{
		{
			name: "valid query",
			args: RawQueryArgs{Script: "?[name] := *ragex_function {name}"},
			mockClient: NewMockClientWithResults(
				mockSearchResult("HandleRequest").Headers,
				mockSearchResult("HandleRequest").Rows,
			),
			wantText: "HandleRequest",
		},
		{
			name: "complex query",
			args: RawQueryArgs{Script: "?[caller, callee] := *ragex_calls {caller_id, callee_id}"},
			mockClient: NewMockClientWithResults(
				mockCallerResult("main", "init").Headers,
				mockCallerResult("main", "init").Rows,
			),
			wantText: "main",
		},
		{
			name:     "empty script error",
			args:     RawQueryArgs{Script: ""},
			wantErr:  true,
			wantText: "script' is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := setupTest(t)
			result, err := RawQuery(ctx, tt.mockClient, tt.args)
			assertNoError(t, err)

			if tt.wantErr {
				if !result.IsError {
					t.Error("expected error result, got success")
				}
				if tt.wantText != "" {
					assertContains(t, result.Text, tt.wantText)
				}
				return
			}

			if result.IsError {
				t.Errorf("unexpected error result: %s", result.Text)
				return
			}

			if tt.wantText != "" {
				assertContains(t, result.Text, tt.wantText)
			}
		})
	}
}

func TestSearchText_QueryError(t *testing.T) {
	ctx := setupTest(t)
	mockErr := fmt.Errorf("database connection failed")
	client := NewMockClientWithError(mockErr)

	result, err := SearchText(ctx, client, SearchTextArgs{Pattern: "test", Limit: 10})
	assertNoError(t, err)

	if !result.IsError {
		t.Error("expected error result when query fails")
	}
	assertContains(t, result.Text, "Query error")
}

func TestFindFunction_QueryError(t *testing.T) {
	ctx := setupTest(t)
	mockErr := fmt.Errorf("database connection failed")
	client := NewMockClientWithError(mockErr)

	result, err := FindFunction(ctx, client, FindFunctionArgs{Name: "test"})
	assertNoError(t, err)

	if !result.IsError {
		t.Error("expected error result when query fails")
	}
	assertContains(t, result.Text, "Query error")
	assertContains(t, result.Text, "Generated query")
}

// Test FindFunction case-insensitive matching uses regex
func TestFindFunction_CaseInsensitive(t *testing.T) {
	var capturedScript string
	client := NewMockClientCustom(
		func(ctx context.Context, script string) (*QueryResult, error) {
			capturedScript = script
			return &QueryResult{
				Headers: []string{"file_path", "name", "signature", "start_line", "end_line"},
				Rows:    [][]any{{"pkg/db.go", "CozoDB.runQuery", "func (c *CozoDB) runQuery()", 42, 60}},
			}, nil
		},
		nil,
	)
	ctx := setupTest(t)

	result, err := FindFunction(ctx, client, FindFunctionArgs{Name: "runQuery", ExactMatch: false})
	assertNoError(t, err)

	if result.IsError {
		t.Errorf("unexpected error: %s", result.Text)
	}
	// The query should use case-insensitive regex
	assertContains(t, capturedScript, "regex_matches")
	assertContains(t, capturedScript, "(?i)")
	assertContains(t, result.Text, "CozoDB.runQuery")
}

// Test FindFunction exact match still uses direct comparison
func TestFindFunction_ExactMatchStillExact(t *testing.T) {
	var capturedScript string
	client := NewMockClientCustom(
		func(ctx context.Context, script string) (*QueryResult, error) {
			capturedScript = script
			return &QueryResult{
				Headers: []string{"file_path", "name", "signature", "start_line", "end_line"},
				Rows:    [][]any{{"pkg/db.go", "RunQuery", "func RunQuery()", 10, 20}},
			}, nil
		},
		nil,
	)
	ctx := setupTest(t)

	_, err := FindFunction(ctx, client, FindFunctionArgs{Name: "RunQuery", ExactMatch: true})
	assertNoError(t, err)

	// Exact match should use name = "...", not regex
	if !strings.Contains(capturedScript, "name = ") {
		t.Error("exact_match=true should use direct name comparison")
	}
}

// Test FindBySignature with param type
func TestFindBySignature_ParamType(t *testing.T) {
	client := NewMockClientWithResults(
		[]string{"name", "file_path", "signature", "start_line"},
		[][]any{
			{"Writer.StoreFact", "pkg/tools/writer.go", "func (w *Writer) StoreFact(backend storage.Backend, fact string) error", 45},
			{"ProcessBatch", "pkg/ingestion/batch.go", "func ProcessBatch(b *storage.Backend, items []Item) error", 23},
		},
	)
	ctx := setupTest(t)

	result, err := FindBySignature(ctx, client, FindBySignatureArgs{
		ParamType: "Backend",
		Limit:     20,
	})
	assertNoError(t, err)

	if result.IsError {
		t.Errorf("unexpected error: %s", result.Text)
	}
	assertContains(t, result.Text, "parameter type `Backend`")
	assertContains(t, result.Text, "Writer.StoreFact")
	assertContains(t, result.Text, "ProcessBatch")
}

// Test FindBySignature with return type
func TestFindBySignature_ReturnType(t *testing.T) {
	client := NewMockClientWithResults(
		[]string{"name", "file_path", "signature", "start_line"},
		[][]any{
			{"NewClient", "pkg/client.go", "func NewClient(url string) *Client", 10},
		},
	)
	ctx := setupTest(t)

	result, err := FindBySignature(ctx, client, FindBySignatureArgs{
		ReturnType: "Client",
		Limit:      20,
	})
	assertNoError(t, err)

	if result.IsError {
		t.Errorf("unexpected error: %s", result.Text)
	}
	assertContains(t, result.Text, "return type `Client`")
	assertContains(t, result.Text, "NewClient")
}

// Test FindBySignature with no results
func TestFindBySignature_NoResults(t *testing.T) {
	client := NewMockClientEmpty()
	ctx := setupTest(t)

	result, err := FindBySignature(ctx, client, FindBySignatureArgs{
		ParamType: "NonExistentType",
		Limit:     20,
	})
	assertNoError(t, err)

	assertContains(t, result.Text, "No matching functions found")
}

// Test FindBySignature requires at least one filter
func TestFindBySignature_RequiresFilter(t *testing.T) {
	ctx := setupTest(t)

	result, err := FindBySignature(ctx, nil, FindBySignatureArgs{})
	assertNoError(t, err)

	if !result.IsError {
		t.Error("expected error when both param_type and return_type are empty")
	}
	assertContains(t, result.Text, "required")
}

// Test extractReturnPart helper
func TestExtractReturnPart(t *testing.T) {
	tests := []struct {
		sig  string
		want string
	}{
		{"func Foo() error", "error"},
		{"func (s *Server) Run(ctx Context) error", "error"},
		{"func NewClient(url string) *Client", "*Client"},
		{"func Process(x int) (int, error)", "(int, error)"},
		{"func NoReturn()", ""},
	}

	for _, tt := range tests {
		got := extractReturnPart(tt.sig)
		if got != tt.want {
			t.Errorf("extractReturnPart(%q) = %q, want %q", tt.sig, got, tt.want)
		}
	}
}

// Test containsCaseInsensitive helper
func TestContainsCaseInsensitive(t *testing.T) {
	tests := []struct {
		s, substr string
		want      bool
	}{
		{"Hello World", "hello", true},
		{"func() error", "Error", true},
		{"*Client", "client", true},
		{"nothing", "xyz", false},
	}

	for _, tt := range tests {
		got := containsCaseInsensitive(tt.s, tt.substr)
		if got != tt.want {
			t.Errorf("containsCaseInsensitive(%q, %q) = %v, want %v", tt.s, tt.substr, got, tt.want)
		}
	}
}

// Test FindCallers with include_indirect=true (BFS expansion)
func TestFindCallers_IncludeIndirect(t *testing.T) {
	// Build a chain: Gamma -> Beta -> Alpha (Alpha is the target)
	// FindCallers("Alpha") should return Beta (direct), then with include_indirect=true also Gamma
	client := NewMockClientCustom(
		func(ctx context.Context, script string) (*QueryResult, error) {
			// Direct callers of Alpha
			if strings.Contains(script, `callee_name = "Alpha"`) {
				return &QueryResult{
					Headers: []string{"caller_file", "caller_name", "caller_line", "callee_name"},
					Rows: [][]any{
						{"pkg/b.go", "Beta", 10, "Alpha"},
					},
				}, nil
			}
			// Direct callers of Beta
			if strings.Contains(script, `callee_name = "Beta"`) {
				return &QueryResult{
					Headers: []string{"caller_file", "caller_name", "caller_line", "callee_name"},
					Rows: [][]any{
						{"pkg/c.go", "Gamma", 20, "Beta"},
					},
				}, nil
			}
			// Direct callers of Gamma — none
			if strings.Contains(script, `callee_name = "Gamma"`) {
				return &QueryResult{
					Headers: []string{"caller_file", "caller_name", "caller_line", "callee_name"},
					Rows:    [][]any{},
				}, nil
			}
			return &QueryResult{Headers: []string{}, Rows: [][]any{}}, nil
		},
		nil,
	)
	ctx := setupTest(t)

	// Without include_indirect — only direct caller Beta
	result, err := FindCallers(ctx, client, FindCallersArgs{FunctionName: "Alpha"})
	assertNoError(t, err)
	assertContains(t, result.Text, "Beta")
	assertNotContains(t, result.Text, "Gamma")

	// With include_indirect — should also find Gamma
	result, err = FindCallers(ctx, client, FindCallersArgs{FunctionName: "Alpha", IncludeIndirect: true})
	assertNoError(t, err)
	assertContains(t, result.Text, "Beta")
	assertContains(t, result.Text, "Gamma")
}

// Test FindCallees with include_indirect=true (BFS expansion)
func TestFindCallees_IncludeIndirect(t *testing.T) {
	// Build a chain: Alpha -> Beta -> Gamma (Alpha is the caller)
	// FindCallees("Alpha") should return Beta (direct), then with include_indirect=true also Gamma
	client := NewMockClientCustom(
		func(ctx context.Context, script string) (*QueryResult, error) {
			// Direct callees of Alpha
			if strings.Contains(script, `caller_name = "Alpha"`) {
				return &QueryResult{
					Headers: []string{"caller_name", "callee_file", "callee_name", "callee_line"},
					Rows: [][]any{
						{"Alpha", "pkg/b.go", "Beta", 10},
					},
				}, nil
			}
			// Direct callees of Beta
			if strings.Contains(script, `caller_name = "Beta"`) {
				return &QueryResult{
					Headers: []string{"caller_name", "callee_file", "callee_name", "callee_line"},
					Rows: [][]any{
						{"Beta", "pkg/c.go", "Gamma", 20},
					},
				}, nil
			}
			// Direct callees of Gamma — none
			if strings.Contains(script, `caller_name = "Gamma"`) {
				return &QueryResult{
					Headers: []string{"caller_name", "callee_file", "callee_name", "callee_line"},
					Rows:    [][]any{},
				}, nil
			}
			return &QueryResult{Headers: []string{}, Rows: [][]any{}}, nil
		},
		nil,
	)
	ctx := setupTest(t)

	// Without include_indirect — only direct callee Beta
	result, err := FindCallees(ctx, client, FindCalleesArgs{FunctionName: "Alpha"})
	assertNoError(t, err)
	assertContains(t, result.Text, "Beta")
	assertNotContains(t, result.Text, "Gamma")

	// With include_indirect — should also find Gamma
	result, err = FindCallees(ctx, client, FindCalleesArgs{FunctionName: "Alpha", IncludeIndirect: true})
	assertNoError(t, err)
	assertContains(t, result.Text, "Beta")
	assertContains(t, result.Text, "Gamma")
}

// Test BFS cycle detection — ensure cycles don't cause infinite loops
func TestFindCallers_IndirectCycleDetection(t *testing.T) {
	// Alpha -> Beta -> Alpha (cycle)
	client := NewMockClientCustom(
		func(ctx context.Context, script string) (*QueryResult, error) {
			if strings.Contains(script, `callee_name = "Alpha"`) {
				return &QueryResult{
					Headers: []string{"caller_file", "caller_name", "caller_line", "callee_name"},
					Rows: [][]any{
						{"pkg/b.go", "Beta", 10, "Alpha"},
					},
				}, nil
			}
			if strings.Contains(script, `callee_name = "Beta"`) {
				return &QueryResult{
					Headers: []string{"caller_file", "caller_name", "caller_line", "callee_name"},
					Rows: [][]any{
						{"pkg/a.go", "Alpha", 5, "Beta"},
					},
				}, nil
			}
			return &QueryResult{Headers: []string{}, Rows: [][]any{}}, nil
		},
		nil,
	)
	ctx := setupTest(t)

	// Should not hang — cycle detection via visited set
	result, err := FindCallers(ctx, client, FindCallersArgs{FunctionName: "Alpha", IncludeIndirect: true})
	assertNoError(t, err)
	assertContains(t, result.Text, "Beta")
}

// Test that test file callers are excluded from FindCallers Phase 1
func TestFindCallers_ExcludesTestFiles(t *testing.T) {
	var capturedScript string
	client := NewMockClientCustom(
		func(ctx context.Context, script string) (*QueryResult, error) {
			capturedScript = script
			return &QueryResult{
				Headers: []string{"caller_file", "caller_name", "caller_line", "callee_name"},
				Rows:    [][]any{},
			}, nil
		},
		nil,
	)
	ctx := setupTest(t)

	_, err := FindCallers(ctx, client, FindCallersArgs{FunctionName: "Query"})
	assertNoError(t, err)

	// Verify the query includes the _test.go exclusion filter
	assertContains(t, capturedScript, `_test[.]go`)
}

// Test that test file callees are excluded from FindCallees Phase 1
func TestFindCallees_ExcludesTestFiles(t *testing.T) {
	var phase1Script string
	client := NewMockClientCustom(
		func(ctx context.Context, script string) (*QueryResult, error) {
			// Capture the first ragex_calls query (Phase 1)
			if strings.Contains(script, "ragex_calls") && phase1Script == "" {
				phase1Script = script
			}
			return &QueryResult{
				Headers: []string{"caller_name", "callee_file", "callee_name", "callee_line"},
				Rows:    [][]any{},
			}, nil
		},
		nil,
	)
	ctx := setupTest(t)

	_, err := FindCallees(ctx, client, FindCalleesArgs{FunctionName: "Query"})
	assertNoError(t, err)

	// Verify the Phase 1 query includes the _test.go exclusion filter
	if phase1Script == "" {
		t.Fatal("expected Phase 1 ragex_calls query to be executed")
	}
	assertContains(t, phase1Script, `_test[.]go`)
}

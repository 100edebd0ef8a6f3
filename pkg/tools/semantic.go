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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SemanticSearchArgs are the arguments for the semantic search tool.
type SemanticSearchArgs struct {
	// Query is the natural-language search text.
	Query string

	// Limit caps the number of results (default 10, max 50).
	Limit int

	// Role filters results: "source" (default) excludes test files,
	// "test" returns only tests, "any" returns everything.
	Role string

	// PathPattern restricts results to file paths containing this substring.
	PathPattern string

	// ExcludePaths is a comma-separated list of path substrings to exclude.
	ExcludePaths string

	// ExcludeAnonymous drops anonymous/closure functions from results.
	ExcludeAnonymous bool

	// MinSimilarity filters out results below this cosine similarity (0-1).
	MinSimilarity float64

	// EmbeddingURL is the base URL of the embedding server.
	EmbeddingURL string

	// EmbeddingModel selects the query-embedding model and its prompt format.
	EmbeddingModel string
}

// SemanticSearch searches functions by meaning: it embeds the query, runs a
// kNN lookup over the HNSW index, and formats the ranked results. When
// embedding generation fails or the index is empty it degrades to a plain
// text search so the caller always gets something useful.
func SemanticSearch(ctx context.Context, client Querier, args SemanticSearchArgs) (*ToolResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return NewError("Error: 'query' is required"), nil
	}
	args = normalizeSemanticArgs(args)

	queryText := preprocessQueryForCode(args.Query, args.EmbeddingModel)
	embedding, err := generateEmbedding(ctx, args.EmbeddingURL, args.EmbeddingModel, queryText)
	if err != nil {
		return semanticSearchFallback(ctx, client, args.Query, args.Limit, args.Role, args.PathPattern, args.ExcludePaths,
			fmt.Sprintf("embedding generation failed: %v", err))
	}

	result, err := executeHNSWQuery(ctx, client, embedding, args)
	if err != nil {
		return semanticSearchFallback(ctx, client, args.Query, args.Limit, args.Role, args.PathPattern, args.ExcludePaths,
			fmt.Sprintf("vector query failed: %v", err))
	}
	if result == nil || len(result.Rows) == 0 {
		return semanticSearchFallback(ctx, client, args.Query, args.Limit, args.Role, args.PathPattern, args.ExcludePaths,
			"no vectors found in HNSW index")
	}

	rows := filterSemanticRows(result.Rows, args)
	rows = filterByMinSimilarity(rows, args.MinSimilarity)
	return NewResult(formatSemanticResults(rows, args)), nil
}

// normalizeSemanticArgs applies defaults and caps to the raw arguments.
func normalizeSemanticArgs(args SemanticSearchArgs) SemanticSearchArgs {
	if args.Limit <= 0 {
		args.Limit = 10
	}
	if args.Limit > 50 {
		args.Limit = 50
	}
	if args.Role == "" {
		args.Role = "source"
	}
	return args
}

// isQodoModel reports whether the model is a Qodo-Embed variant, which wants
// an instruction-formatted query.
func isQodoModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "qodo")
}

// preprocessQueryForCode wraps the raw query in the prompt format the
// embedding model was trained with. Code-search retrieval quality degrades
// noticeably without the right prefix.
func preprocessQueryForCode(query, embeddingModel string) string {
	if embeddingModel == "" || isQodoModel(embeddingModel) {
		return "Instruct: Given a code search query, retrieve relevant code snippets\nQuery: " + query
	}
	return "search_query: " + query
}

// generateEmbedding fetches a query embedding from the configured server.
// The endpoint and response shape are derived from the URL and model:
//   - URLs ending in /v1 speak the OpenAI embeddings API
//   - an empty model targets a llama.cpp /embedding server
//   - anything else targets Ollama's /api/embeddings
func generateEmbedding(ctx context.Context, baseURL, model, text string) ([]float64, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	var endpoint string
	var reqBody map[string]any
	switch {
	case strings.HasSuffix(strings.TrimSuffix(baseURL, "/"), "/v1"):
		endpoint = strings.TrimSuffix(baseURL, "/") + "/embeddings"
		reqBody = map[string]any{"model": model, "input": text}
	case model == "":
		endpoint = strings.TrimSuffix(baseURL, "/") + "/embedding"
		reqBody = map[string]any{"content": text}
	default:
		endpoint = strings.TrimSuffix(baseURL, "/") + "/api/embeddings"
		reqBody = map[string]any{"model": model, "prompt": text}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error: status %d: %s", resp.StatusCode, truncateForError(string(body)))
	}

	embedding, err := parseEmbeddingResponse(body)
	if err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return embedding, nil
}

// parseEmbeddingResponse handles the three response shapes:
// Ollama {"embedding":[...]}, OpenAI {"data":[{"embedding":[...]}]}, and
// llama.cpp [{"index":0,"embedding":[[...]]}].
func parseEmbeddingResponse(body []byte) ([]float64, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var llama []struct {
			Embedding [][]float64 `json:"embedding"`
		}
		if err := json.Unmarshal(trimmed, &llama); err != nil {
			return nil, fmt.Errorf("parse embedding response: %w", err)
		}
		if len(llama) == 0 || len(llama[0].Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding in response")
		}
		return llama[0].Embedding[0], nil
	}

	var parsed struct {
		Embedding []float64 `json:"embedding"`
		Data      []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(parsed.Embedding) > 0 {
		return parsed.Embedding, nil
	}
	if len(parsed.Data) > 0 {
		return parsed.Data[0].Embedding, nil
	}
	return nil, fmt.Errorf("empty embedding in response")
}

func truncateForError(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// executeHNSWQuery runs the kNN lookup against the function embedding index
// and joins in metadata and code text.
func executeHNSWQuery(ctx context.Context, client Querier, embedding []float64, args SemanticSearchArgs) (*QueryResult, error) {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}

	k := args.Limit
	if k < 10 {
		// Over-fetch so post-filters (role, paths, similarity) still leave
		// enough results.
		k = 10
	}
	k *= 3

	script := fmt.Sprintf(`?[name, file_path, signature, start_line, distance, code_text] :=
  ~ragex_function_embedding:embedding_idx { function_id | query: vec([%s]), k: %d, ef: 50, bind_distance: distance },
  *ragex_function { id: function_id, name, signature, file_path, start_line },
  *ragex_function_code { function_id, code_text }
:order distance
:limit %d`, strings.Join(parts, ", "), k, k)

	return client.Query(ctx, script)
}

// filterSemanticRows applies role, path, and anonymity filters.
func filterSemanticRows(rows [][]any, args SemanticSearchArgs) [][]any {
	var excludes []string
	for _, p := range strings.Split(args.ExcludePaths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			excludes = append(excludes, p)
		}
	}

	var out [][]any
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		name := AnyToString(row[0])
		path := AnyToString(row[1])

		if args.Role == "source" && isTestFilePath(path) {
			continue
		}
		if args.Role == "test" && !isTestFilePath(path) {
			continue
		}
		if args.PathPattern != "" && !strings.Contains(path, args.PathPattern) {
			continue
		}
		if args.ExcludeAnonymous && isAnonymousFunction(name) {
			continue
		}
		skip := false
		for _, ex := range excludes {
			if strings.Contains(path, ex) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		out = append(out, row)
		if args.Limit > 0 && len(out) >= args.Limit {
			break
		}
	}
	return out
}

func isTestFilePath(path string) bool {
	base := ExtractFileName(path)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasSuffix(base, ".test.ts") ||
		strings.HasSuffix(base, ".test.js") ||
		strings.HasSuffix(base, ".spec.ts") ||
		strings.HasSuffix(base, ".spec.js") ||
		strings.HasPrefix(base, "test_") ||
		strings.Contains(path, "/__tests__/")
}

func isAnonymousFunction(name string) bool {
	return name == "" || name == "anonymous" || strings.HasPrefix(name, "func@") || strings.HasPrefix(name, "lambda@")
}

// filterByMinSimilarity keeps rows whose cosine similarity passes the
// threshold. HNSW returns cosine distance in [0, 2]; similarity is
// 1 - distance/2. Rows without a distance column are dropped.
func filterByMinSimilarity(rows [][]any, minSimilarity float64) [][]any {
	var out [][]any
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		dist, ok := toFloat(row[4])
		if !ok {
			continue
		}
		if 1.0-dist/2.0 >= minSimilarity {
			out = append(out, row)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// getConfidenceIcon maps similarity to a traffic-light icon.
func getConfidenceIcon(similarity float64) string {
	switch {
	case similarity >= 0.75:
		return "🟢"
	case similarity >= 0.5:
		return "🟡"
	default:
		return "🔴"
	}
}

// extractCodeSnippet returns up to maxLines non-empty lines of code, with
// long lines shortened for display.
func extractCodeSnippet(code string, maxLines int) string {
	const maxLineLen = 80
	var lines []string
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) > maxLineLen {
			line = line[:maxLineLen-3] + "..."
		}
		lines = append(lines, line)
		if len(lines) >= maxLines {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// formatSemanticResults renders the ranked rows as Markdown.
func formatSemanticResults(rows [][]any, args SemanticSearchArgs) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔍 **Semantic search** for '%s'", args.Query))
	if args.PathPattern != "" {
		sb.WriteString(fmt.Sprintf(" in '%s'", args.PathPattern))
	}
	sb.WriteString("\n\n")

	if len(rows) == 0 {
		sb.WriteString("No results above the similarity threshold.\n")
		return sb.String()
	}

	for i, row := range rows {
		formatSemanticResultRow(&sb, i+1, row)
	}
	sb.WriteString(fmt.Sprintf("\n%d result(s)\n", len(rows)))
	return sb.String()
}

// formatSemanticResultRow renders one result entry.
func formatSemanticResultRow(sb *strings.Builder, index int, row []any) {
	if len(row) < 5 {
		return
	}
	name := AnyToString(row[0])
	path := AnyToString(row[1])
	signature := AnyToString(row[2])
	line := AnyToString(row[3])
	dist, _ := toFloat(row[4])
	similarity := 1.0 - dist/2.0

	sb.WriteString(fmt.Sprintf("%d. %s **%s** (%.1f%% match)\n", index, getConfidenceIcon(similarity), name, similarity*100))
	sb.WriteString(fmt.Sprintf("   📍 %s:%s\n", path, line))
	if signature != "" {
		sb.WriteString(fmt.Sprintf("   📝 `%s`\n", signature))
	}
	if len(row) >= 6 {
		if snippet := extractCodeSnippet(AnyToString(row[5]), 3); snippet != "" {
			sb.WriteString("   ```\n")
			for _, l := range strings.Split(snippet, "\n") {
				sb.WriteString("   " + l + "\n")
			}
			sb.WriteString("   ```\n")
		}
	}
	sb.WriteString("\n")
}

// semanticSearchFallback is the degraded path: a case-insensitive name
// search against the function table, clearly labeled so the caller knows
// vectors were not used.
func semanticSearchFallback(ctx context.Context, client Querier, query string, limit int, role, pathPattern, excludePaths, reason string) (*ToolResult, error) {
	if limit <= 0 {
		limit = 10
	}

	pattern := QuoteCozoPattern("(?i)" + EscapeRegex(strings.TrimSpace(query)))
	script := fmt.Sprintf(`?[name, file_path, signature, start_line, code_text] :=
  *ragex_function { id, name, signature, file_path, start_line },
  *ragex_function_code { function_id: id, code_text },
  regex_matches(name, %s)
:limit %d`, pattern, limit*3)

	result, err := client.Query(ctx, script)
	if err != nil {
		return NewError(fmt.Sprintf("⚠️ **Text search fallback** (%s) also failed: %v", reason, err)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⚠️ **Text search fallback** (%s)\n\n", reason))
	sb.WriteString(fmt.Sprintf("🔍 Name matches for '%s'", query))
	if pathPattern != "" {
		sb.WriteString(fmt.Sprintf(" in '%s'", pathPattern))
	}
	sb.WriteString("\n\n")

	count := 0
	for _, row := range result.Rows {
		if len(row) < 4 {
			continue
		}
		path := AnyToString(row[1])
		if role == "source" && isTestFilePath(path) {
			continue
		}
		if pathPattern != "" && !strings.Contains(path, pathPattern) {
			continue
		}
		if excluded(path, excludePaths) {
			continue
		}
		count++
		sb.WriteString(fmt.Sprintf("%d. **%s**\n   📍 %s:%s\n", count, AnyToString(row[0]), path, AnyToString(row[3])))
		if count >= limit {
			break
		}
	}
	if count == 0 {
		sb.WriteString("No matches.\n")
	}
	return NewResult(sb.String()), nil
}

func excluded(path, excludePaths string) bool {
	for _, ex := range strings.Split(excludePaths, ",") {
		if ex = strings.TrimSpace(ex); ex != "" && strings.Contains(path, ex) {
			return true
		}
	}
	return false
}

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

import "context"

// GetSchema returns the Ragex database schema documentation.
func GetSchema(ctx context.Context) (*ToolResult, error) {
	return NewResult(SchemaDocumentation), nil
}

// SchemaDocumentation contains the Ragex schema docs (Schema v4).
const SchemaDocumentation = `# Ragex Database Schema (v4)

Schema v4 uses vertical partitioning for performance: heavy columns (code_text, embedding) are in separate tables.
v4 additions over v3: ragex_module (one module entity per source file), ragex_module_import (module -> module
import edges, typed import/require/use/alias), ragex_embedding_meta (entity_id -> text_hash fingerprints for
skip-unchanged embedding regeneration), and module_id/arity/visibility columns on ragex_function.

## Core Tables

### ragex_file
Stores indexed source files.
| Field    | Type   | Description |
|----------|--------|-------------|
| id       | string | Unique file ID (hash) |
| path     | string | File path relative to repo root |
| hash     | string | Content hash |
| language | string | Programming language (go, typescript, python, etc.) |
| size     | int    | File size in bytes |

### ragex_function
Stores function/method metadata (lightweight, ~500 bytes/row).
| Field      | Type   | Description |
|------------|--------|-------------|
| id         | string | Unique function ID (hash) |
| name       | string | Function name (includes receiver for methods, e.g., "Batcher.Batch") |
| signature  | string | Full function signature |
| file_path  | string | Path to containing file |
| module_id  | string | Containing module entity id |
| arity      | int    | Declared parameter count |
| visibility | string | public or private |
| start_line | int    | Starting line number |
| end_line   | int    | Ending line number |
| start_col  | int    | Starting column |
| end_col    | int    | Ending column |

### ragex_function_code
Stores function source code (JOIN with ragex_function when needed).
| Field       | Type   | Description |
|-------------|--------|-------------|
| function_id | string | Function ID (foreign key) |
| code_text   | string | Function source code (may be truncated) |

### ragex_function_embedding
Stores function embeddings for semantic search (HNSW index here).
| Field       | Type       | Description |
|-------------|------------|-------------|
| function_id | string     | Function ID (foreign key) |
| embedding   | <F32; 1536> | Vector embedding (1536 dimensions) |

### ragex_type
Stores type/struct/interface metadata.
| Field      | Type   | Description |
|------------|--------|-------------|
| id         | string | Unique type ID (hash) |
| name       | string | Type name |
| kind       | string | Type kind (struct, interface, class, type_alias) |
| file_path  | string | Path to containing file |
| start_line | int    | Starting line number |
| end_line   | int    | Ending line number |
| start_col  | int    | Starting column |
| end_col    | int    | Ending column |

### ragex_type_code
Stores type source code.
| Field    | Type   | Description |
|----------|--------|-------------|
| type_id  | string | Type ID (foreign key) |
| code_text| string | Type source code |

### ragex_type_embedding
Stores type embeddings for semantic search.
| Field    | Type       | Description |
|----------|------------|-------------|
| type_id  | string     | Type ID (foreign key) |
| embedding| <F32; 1536> | Vector embedding |

## Edge Tables

### ragex_defines
Links files to their functions.
| Field       | Type   | Description |
|-------------|--------|-------------|
| file_id     | string | File ID |
| function_id | string | Function ID |

### ragex_defines_type
Links files to their types.
| Field   | Type   | Description |
|---------|--------|-------------|
| file_id | string | File ID |
| type_id | string | Type ID |

### ragex_calls
Function call relationships.
| Field     | Type   | Description |
|-----------|--------|-------------|
| caller_id | string | ID of calling function |
| callee_id | string | ID of called function |
| call_line | int    | Line number where the call occurs in the caller (0 = unknown) |

### ragex_import
Import statements.
| Field       | Type   | Description |
|-------------|--------|-------------|
| id          | string | Import ID |
| file_path   | string | File containing import |
| import_path | string | Imported package/module |
| alias       | string | Import alias (if any) |
| start_line  | int    | Line number |

## CozoScript Operators

### String Operations
- ` + "`starts_with(str, prefix)`" + ` - Check if string starts with prefix
- ` + "`ends_with(str, suffix)`" + ` - Check if string ends with suffix
- ` + "`regex_matches(str, pattern)`" + ` - Regex match (use (?i) for case-insensitive)
- ` + "`length(str)`" + ` - String length

### Comparison
- ` + "`=`" + `, ` + "`!=`" + `, ` + "`<`" + `, ` + "`>`" + `, ` + "`<=`" + `, ` + "`>=`" + ` - Standard comparisons

### Aggregation
- ` + "`count(field)`" + ` - Count occurrences
- ` + "`min(field)`" + `, ` + "`max(field)`" + ` - Min/max values

## Example Queries

### Find functions by name pattern (metadata only - fast)
` + "```" + `
?[file_path, name, start_line] := *ragex_function { file_path, name, start_line },
  regex_matches(name, "(?i)batch")
` + "```" + `

### Get function with code (JOIN required)
` + "```" + `
?[name, file_path, code_text] :=
  *ragex_function { id, name, file_path },
  *ragex_function_code { function_id: id, code_text },
  name = "BuildMutations"
` + "```" + `

### Search in code text
` + "```" + `
?[name, file_path] :=
  *ragex_function { id, name, file_path },
  *ragex_function_code { function_id: id, code_text },
  regex_matches(code_text, "(?i)http\\.Get")
` + "```" + `

### Semantic search (HNSW on embedding table)
` + "```" + `
?[name, file_path, distance] :=
  ~ragex_function_embedding:embedding_idx { function_id | query: q, k: 10, ef: 50, bind_distance: distance },
  q = vec([...1536 floats...]),
  *ragex_function { id: function_id, name, file_path }
` + "```" + `

### Find callers of a function
` + "```" + `
?[caller_file, caller_name, callee_name] :=
  *ragex_calls { caller_id, callee_id },
  *ragex_function { id: callee_id, name: callee_name },
  *ragex_function { id: caller_id, file_path: caller_file, name: caller_name },
  ends_with(callee_name, "Batch")
` + "```" + `

### List files by language
` + "```" + `
?[path, size] := *ragex_file { path, language, size }, language = "go" :limit 20
` + "```" + `

## Important Notes

1. **Schema v3 Performance**: Most queries only need ragex_function (metadata). JOIN with ragex_function_code only when you need code_text.
2. **Go methods include receiver**: Function named "Batch" on type "Batcher" is stored as "Batcher.Batch"
3. **IDs are hashes**: Use joins via ragex_defines and ragex_calls to connect entities
4. **No LIKE operator**: Use regex_matches() instead
5. **No CONTAINS**: Use regex_matches() with pattern
6. **Limit results**: Always use :limit N for large result sets
7. **HNSW indices**: Located on ragex_function_embedding:embedding_idx and ragex_type_embedding:embedding_idx

---

## Ragex Tools Quick Reference (v1.4.0)

### Search Tools

| Tool | Use Case | Key Parameters |
|------|----------|----------------|
| ` + "`ragex_grep`" + ` | Fast literal text search | ` + "`text`" + ` OR ` + "`texts[]`" + ` for multi-pattern |
| ` + "`ragex_search_text`" + ` | Regex search in code | ` + "`pattern`" + `, ` + "`literal=true`" + ` for exact match |
| ` + "`ragex_semantic_search`" + ` | Natural language search | ` + "`query`" + `, ` + "`min_similarity`" + ` |
| ` + "`ragex_find_function`" + ` | Find by function name | ` + "`name`" + `, ` + "`include_code`" + ` |

### Analysis Tools

| Tool | Use Case | Key Parameters |
|------|----------|----------------|
| ` + "`ragex_analyze`" + ` | Architecture questions | ` + "`question`" + ` (natural language) |
| ` + "`ragex_list_endpoints`" + ` | HTTP API routes | ` + "`path_pattern`" + `, ` + "`method`" + ` |
| ` + "`ragex_find_callers`" + ` | Who calls this function? | ` + "`function_name`" + ` |
| ` + "`ragex_find_callees`" + ` | What does this call? | ` + "`function_name`" + ` |
| ` + "`ragex_trace_path`" + ` | Call path from A to B | ` + "`target`" + `, ` + "`source`" + ` |
| ` + "`ragex_find_implementations`" + ` | Interface implementations | ` + "`interface_name`" + ` |

### Audit Tools

| Tool | Use Case | Key Parameters |
|------|----------|----------------|
| ` + "`ragex_verify_absence`" + ` | Verify patterns DON'T exist | ` + "`patterns[]`" + `, ` + "`severity`" + ` |
| ` + "`ragex_grep`" + ` (multi) | Batch pattern search | ` + "`texts[]`" + ` returns grouped counts |

### Exploration Tools

| Tool | Use Case | Key Parameters |
|------|----------|----------------|
| ` + "`ragex_list_files`" + ` | Browse indexed files | ` + "`path_pattern`" + `, ` + "`language`" + ` |

### Tips

1. **Multi-pattern search**: Use ` + "`ragex_grep texts=[\"a\",\"b\",\"c\"]`" + ` instead of 3 separate calls
2. **Security audits**: Use ` + "`ragex_verify_absence`" + ` to check for secrets/tokens
3. **API discovery**: ` + "`ragex_list_endpoints`" + ` shows summary by method, path, and file
4. **Always start with**: ` + "`ragex_graph_stats`" + ` to verify the index has data`

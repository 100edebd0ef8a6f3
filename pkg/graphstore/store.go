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

// Package graphstore presents the code knowledge graph as typed node and
// edge tables over the CozoDB relations the indexer writes. Modules and
// functions are nodes; defines, calls, and imports are edges, indexed in
// both directions so callers and callees resolve in O(degree).
package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/ragexerr"
	"github.com/kraklabs/ragex/pkg/storage"
)

// Store is the graph facade. Reads go through the backend's read path;
// mutations are serialized by the backend's write lock.
type Store struct {
	backend storage.Backend
	logger  *slog.Logger
}

// NewStore creates a graph store over an open backend.
func NewStore(backend storage.Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger}
}

// Node is the generic node view shared by modules and functions.
type Node struct {
	Type graphmodel.NodeType
	ID   string
	Name string
	File string
	Line int

	// QualifiedName is set for modules; for functions it is the module
	// qualified name joined with name/arity.
	QualifiedName string

	// Arity and Visibility are function-only.
	Arity      int
	Visibility string

	// Doc carries the doc comment when indexed.
	Doc string

	// Kind is module-only ("file", "module", "class", "namespace").
	Kind string

	// ModuleID links a function to its defining module.
	ModuleID string

	// EndLine is the last source line of a function's definition.
	EndLine int
}

// Edge is a directed typed edge between two node ids.
type Edge struct {
	From string
	To   string
	Type graphmodel.EdgeType
	Line int
}

// Stats summarizes table sizes.
type Stats struct {
	Nodes  int
	Edges  int
	ByType map[string]int
}

// FindNode returns a node by type and id, or nil when absent.
func (s *Store) FindNode(ctx context.Context, nodeType graphmodel.NodeType, id string) (*Node, error) {
	switch nodeType {
	case graphmodel.NodeModule:
		return s.findModule(ctx, id)
	case graphmodel.NodeFunction:
		return s.findFunction(ctx, id)
	default:
		// Unknown node types yield no results, never an error.
		return nil, nil
	}
}

func (s *Store) findModule(ctx context.Context, id string) (*Node, error) {
	script := fmt.Sprintf(`?[id, name, qualified_name, language, file_path, line, doc, kind] :=
  *ragex_module { id, name, qualified_name, language, file_path, line, doc, kind }, id = %s`, quote(id))
	result, err := s.backend.Query(ctx, script)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "graphstore.FindNode", "query module", err)
	}
	if len(result.Rows) == 0 {
		return nil, nil
	}
	return moduleRowToNode(result.Rows[0]), nil
}

func (s *Store) findFunction(ctx context.Context, id string) (*Node, error) {
	script := fmt.Sprintf(`?[id, name, file_path, module_id, arity, visibility, start_line, end_line] :=
  *ragex_function { id, name, file_path, module_id, arity, visibility, start_line, end_line }, id = %s`, quote(id))
	result, err := s.backend.Query(ctx, script)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "graphstore.FindNode", "query function", err)
	}
	if len(result.Rows) == 0 {
		return nil, nil
	}
	return functionRowToNode(result.Rows[0]), nil
}

// ListNodes returns nodes of the given type (or all types when empty),
// capped at limit, in deterministic id order. total is the matching count
// before the limit was applied.
func (s *Store) ListNodes(ctx context.Context, nodeType graphmodel.NodeType, limit int) (nodes []*Node, total int, err error) {
	if limit <= 0 {
		limit = 100
	}

	if nodeType == "" || nodeType == graphmodel.NodeModule {
		mods, n, err := s.listModules(ctx, limit)
		if err != nil {
			return nil, 0, err
		}
		nodes = append(nodes, mods...)
		total += n
	}
	if nodeType == "" || nodeType == graphmodel.NodeFunction {
		remaining := limit - len(nodes)
		if remaining < 0 {
			remaining = 0
		}
		fns, n, err := s.listFunctions(ctx, remaining)
		if err != nil {
			return nil, 0, err
		}
		nodes = append(nodes, fns...)
		total += n
	}
	return nodes, total, nil
}

func (s *Store) listModules(ctx context.Context, limit int) ([]*Node, int, error) {
	countRes, err := s.backend.Query(ctx, `?[count(id)] := *ragex_module { id }`)
	if err != nil {
		return nil, 0, ragexerr.Wrap(ragexerr.Io, "graphstore.ListNodes", "count modules", err)
	}
	total := firstCount(countRes)
	if limit == 0 {
		return nil, total, nil
	}

	script := fmt.Sprintf(`?[id, name, qualified_name, language, file_path, line, doc, kind] :=
  *ragex_module { id, name, qualified_name, language, file_path, line, doc, kind }
:sort id
:limit %d`, limit)
	result, err := s.backend.Query(ctx, script)
	if err != nil {
		return nil, 0, ragexerr.Wrap(ragexerr.Io, "graphstore.ListNodes", "list modules", err)
	}
	nodes := make([]*Node, 0, len(result.Rows))
	for _, row := range result.Rows {
		nodes = append(nodes, moduleRowToNode(row))
	}
	return nodes, total, nil
}

func (s *Store) listFunctions(ctx context.Context, limit int) ([]*Node, int, error) {
	countRes, err := s.backend.Query(ctx, `?[count(id)] := *ragex_function { id }`)
	if err != nil {
		return nil, 0, ragexerr.Wrap(ragexerr.Io, "graphstore.ListNodes", "count functions", err)
	}
	total := firstCount(countRes)
	if limit == 0 {
		return nil, total, nil
	}

	script := fmt.Sprintf(`?[id, name, file_path, module_id, arity, visibility, start_line, end_line] :=
  *ragex_function { id, name, file_path, module_id, arity, visibility, start_line, end_line }
:sort id
:limit %d`, limit)
	result, err := s.backend.Query(ctx, script)
	if err != nil {
		return nil, 0, ragexerr.Wrap(ragexerr.Io, "graphstore.ListNodes", "list functions", err)
	}
	nodes := make([]*Node, 0, len(result.Rows))
	for _, row := range result.Rows {
		nodes = append(nodes, functionRowToNode(row))
	}
	return nodes, total, nil
}

// Outgoing returns edges leaving a node, optionally filtered by type.
func (s *Store) Outgoing(ctx context.Context, nodeID string, edgeType graphmodel.EdgeType) ([]Edge, error) {
	var edges []Edge

	if edgeType == "" || edgeType == graphmodel.EdgeCalls {
		result, err := s.backend.Query(ctx, fmt.Sprintf(
			`?[callee_id, call_line] := *ragex_calls { caller_id, callee_id, call_line }, caller_id = %s`, quote(nodeID)))
		if err != nil {
			return nil, ragexerr.Wrap(ragexerr.Io, "graphstore.Outgoing", "query calls", err)
		}
		for _, row := range result.Rows {
			edges = append(edges, Edge{From: nodeID, To: str(row, 0), Type: graphmodel.EdgeCalls, Line: integer(row, 1)})
		}
	}

	if edgeType == "" || edgeType == graphmodel.EdgeDefines {
		result, err := s.backend.Query(ctx, fmt.Sprintf(
			`?[id] := *ragex_function { id, module_id }, module_id = %s`, quote(nodeID)))
		if err != nil {
			return nil, ragexerr.Wrap(ragexerr.Io, "graphstore.Outgoing", "query defines", err)
		}
		for _, row := range result.Rows {
			edges = append(edges, Edge{From: nodeID, To: str(row, 0), Type: graphmodel.EdgeDefines})
		}
	}

	if edgeType == "" || edgeType == graphmodel.EdgeImports {
		result, err := s.backend.Query(ctx, fmt.Sprintf(
			`?[to_module] := *ragex_module_import { from_module, to_module }, from_module = %s`, quote(nodeID)))
		if err != nil {
			return nil, ragexerr.Wrap(ragexerr.Io, "graphstore.Outgoing", "query imports", err)
		}
		for _, row := range result.Rows {
			edges = append(edges, Edge{From: nodeID, To: str(row, 0), Type: graphmodel.EdgeImports})
		}
	}

	return edges, nil
}

// Incoming returns edges arriving at a node, optionally filtered by type.
func (s *Store) Incoming(ctx context.Context, nodeID string, edgeType graphmodel.EdgeType) ([]Edge, error) {
	var edges []Edge

	if edgeType == "" || edgeType == graphmodel.EdgeCalls {
		result, err := s.backend.Query(ctx, fmt.Sprintf(
			`?[caller_id, call_line] := *ragex_calls { caller_id, callee_id, call_line }, callee_id = %s`, quote(nodeID)))
		if err != nil {
			return nil, ragexerr.Wrap(ragexerr.Io, "graphstore.Incoming", "query calls", err)
		}
		for _, row := range result.Rows {
			edges = append(edges, Edge{From: str(row, 0), To: nodeID, Type: graphmodel.EdgeCalls, Line: integer(row, 1)})
		}
	}

	if edgeType == "" || edgeType == graphmodel.EdgeDefines {
		result, err := s.backend.Query(ctx, fmt.Sprintf(
			`?[module_id] := *ragex_function { id, module_id }, id = %s`, quote(nodeID)))
		if err != nil {
			return nil, ragexerr.Wrap(ragexerr.Io, "graphstore.Incoming", "query defines", err)
		}
		for _, row := range result.Rows {
			if from := str(row, 0); from != "" {
				edges = append(edges, Edge{From: from, To: nodeID, Type: graphmodel.EdgeDefines})
			}
		}
	}

	if edgeType == "" || edgeType == graphmodel.EdgeImports {
		result, err := s.backend.Query(ctx, fmt.Sprintf(
			`?[from_module] := *ragex_module_import { from_module, to_module }, to_module = %s`, quote(nodeID)))
		if err != nil {
			return nil, ragexerr.Wrap(ragexerr.Io, "graphstore.Incoming", "query imports", err)
		}
		for _, row := range result.Rows {
			edges = append(edges, Edge{From: str(row, 0), To: nodeID, Type: graphmodel.EdgeImports})
		}
	}

	return edges, nil
}

// AddEdge records an edge. The same (from, to, type) triple is stored under
// a deterministic id, so re-adding is idempotent. Endpoints are not
// required to exist yet: streaming analysis may add edges first.
func (s *Store) AddEdge(ctx context.Context, from, to string, edgeType graphmodel.EdgeType, line int) error {
	switch edgeType {
	case graphmodel.EdgeCalls:
		id := "call:" + from + "|" + to
		script := fmt.Sprintf(`?[id, caller_id, callee_id, call_line] <- [[%s, %s, %s, %d]] :put ragex_calls { id, caller_id, callee_id, call_line }`,
			quote(id), quote(from), quote(to), line)
		return s.exec(ctx, "graphstore.AddEdge", script)
	case graphmodel.EdgeImports:
		id := "modimp:" + graphmodel.Sha256Hex(from+"|"+to)[:16]
		script := fmt.Sprintf(`?[id, from_module, to_module, kind] <- [[%s, %s, %s, 'import']] :put ragex_module_import { id, from_module, to_module, kind }`,
			quote(id), quote(from), quote(to))
		return s.exec(ctx, "graphstore.AddEdge", script)
	case graphmodel.EdgeDefines:
		// Defines is materialized as the function's module_id column.
		script := fmt.Sprintf(`?[id, name, signature, file_path, module_id, arity, visibility, start_line, end_line, start_col, end_col] :=
  *ragex_function { id, name, signature, file_path, arity, visibility, start_line, end_line, start_col, end_col },
  id = %s, module_id = %s
:put ragex_function { id, name, signature, file_path, module_id, arity, visibility, start_line, end_line, start_col, end_col }`,
			quote(to), quote(from))
		return s.exec(ctx, "graphstore.AddEdge", script)
	default:
		return ragexerr.New(ragexerr.Invalid, "graphstore.AddEdge", fmt.Sprintf("unknown edge type %q", edgeType))
	}
}

// RemoveEntitiesForFile removes every node rooted in a file, its incident
// edges, and its embeddings as one backend call.
func (s *Store) RemoveEntitiesForFile(ctx context.Context, path string) error {
	type deleter interface {
		DeleteEntitiesForFile(filePath string) error
	}
	if d, ok := s.backend.(deleter); ok {
		if err := d.DeleteEntitiesForFile(path); err != nil {
			return ragexerr.Wrap(ragexerr.Io, "graphstore.RemoveEntitiesForFile", "delete entities", err).WithPath(path)
		}
		return nil
	}
	return ragexerr.New(ragexerr.Invalid, "graphstore.RemoveEntitiesForFile", "backend does not support file deletion")
}

// Stats counts nodes and edges by type.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByType: make(map[string]int)}
	counts := []struct {
		key    string
		script string
		node   bool
	}{
		{"module", `?[count(id)] := *ragex_module { id }`, true},
		{"function", `?[count(id)] := *ragex_function { id }`, true},
		{"calls", `?[count(id)] := *ragex_calls { id }`, false},
		{"imports", `?[count(id)] := *ragex_module_import { id }`, false},
		{"defines", `?[count(id)] := *ragex_function { id, module_id }, module_id != ''`, false},
	}
	for _, c := range counts {
		result, err := s.backend.Query(ctx, c.script)
		if err != nil {
			// A missing table on a fresh database is a zero, not a failure.
			s.logger.Debug("graphstore.stats.count_failed", "key", c.key, "err", err)
			continue
		}
		n := firstCount(result)
		stats.ByType[c.key] = n
		if c.node {
			stats.Nodes += n
		} else {
			stats.Edges += n
		}
	}
	return stats, nil
}

// Clear wipes all graph tables.
func (s *Store) Clear(ctx context.Context) error {
	deletions := []string{
		`?[id] := *ragex_calls { id } :rm ragex_calls { id }`,
		`?[id] := *ragex_module_import { id } :rm ragex_module_import { id }`,
		`?[function_id] := *ragex_function_code { function_id } :rm ragex_function_code { function_id }`,
		`?[function_id] := *ragex_function_embedding { function_id } :rm ragex_function_embedding { function_id }`,
		`?[entity_id] := *ragex_embedding_meta { entity_id } :rm ragex_embedding_meta { entity_id }`,
		`?[id] := *ragex_function { id } :rm ragex_function { id }`,
		`?[id] := *ragex_module { id } :rm ragex_module { id }`,
		`?[id] := *ragex_file { id } :rm ragex_file { id }`,
	}
	for _, script := range deletions {
		if err := s.exec(ctx, "graphstore.Clear", script); err != nil {
			return err
		}
	}
	return nil
}

// ResolveFunction finds functions by module qualified name, function name,
// and arity. arity < 0 matches every arity.
func (s *Store) ResolveFunction(ctx context.Context, moduleQName, name string, arity int) ([]*Node, error) {
	var conds []string
	conds = append(conds, fmt.Sprintf("name = %s", quote(name)))
	if arity >= 0 {
		conds = append(conds, fmt.Sprintf("arity = %d", arity))
	}

	script := fmt.Sprintf(`?[id, name, file_path, module_id, arity, visibility, start_line, end_line] :=
  *ragex_function { id, name, file_path, module_id, arity, visibility, start_line, end_line }, %s
:sort id`, strings.Join(conds, ", "))
	result, err := s.backend.Query(ctx, script)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "graphstore.ResolveFunction", "query", err)
	}

	var nodes []*Node
	for _, row := range result.Rows {
		node := functionRowToNode(row)
		if moduleQName != "" {
			mod, err := s.findModule(ctx, node.ModuleID)
			if err != nil {
				return nil, err
			}
			if mod == nil || !moduleMatches(mod, moduleQName) {
				continue
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// ModulesByName finds modules whose name or qualified name equals name.
func (s *Store) ModulesByName(ctx context.Context, name string) ([]*Node, error) {
	script := fmt.Sprintf(`?[id, name, qualified_name, language, file_path, line, doc, kind] :=
  *ragex_module { id, name, qualified_name, language, file_path, line, doc, kind },
  or(name = %s, qualified_name = %s)
:sort id`, quote(name), quote(name))
	result, err := s.backend.Query(ctx, script)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "graphstore.ModulesByName", "query", err)
	}
	var nodes []*Node
	for _, row := range result.Rows {
		nodes = append(nodes, moduleRowToNode(row))
	}
	return nodes, nil
}

// FunctionsInModule lists functions defined by the module with the given
// name or qualified name, in id order.
func (s *Store) FunctionsInModule(ctx context.Context, moduleName string) ([]*Node, error) {
	mods, err := s.ModulesByName(ctx, moduleName)
	if err != nil {
		return nil, err
	}
	var fns []*Node
	for _, mod := range mods {
		result, err := s.backend.Query(ctx, fmt.Sprintf(
			`?[id, name, file_path, module_id, arity, visibility, start_line, end_line] :=
  *ragex_function { id, name, file_path, module_id, arity, visibility, start_line, end_line }, module_id = %s
:sort id`, quote(mod.ID)))
		if err != nil {
			return nil, ragexerr.Wrap(ragexerr.Io, "graphstore.FunctionsInModule", "query", err)
		}
		for _, row := range result.Rows {
			fns = append(fns, functionRowToNode(row))
		}
	}
	return fns, nil
}

func moduleMatches(mod *Node, wanted string) bool {
	return mod.Name == wanted || mod.QualifiedName == wanted
}

func (s *Store) exec(ctx context.Context, op, script string) error {
	if err := s.backend.Execute(ctx, script); err != nil {
		return ragexerr.Wrap(ragexerr.Io, op, "execute", err)
	}
	return nil
}

func moduleRowToNode(row []any) *Node {
	return &Node{
		Type:          graphmodel.NodeModule,
		ID:            str(row, 0),
		Name:          str(row, 1),
		QualifiedName: str(row, 2),
		File:          str(row, 4),
		Line:          integer(row, 5),
		Doc:           str(row, 6),
		Kind:          str(row, 7),
	}
}

func functionRowToNode(row []any) *Node {
	return &Node{
		Type:       graphmodel.NodeFunction,
		ID:         str(row, 0),
		Name:       str(row, 1),
		File:       str(row, 2),
		ModuleID:   str(row, 3),
		Arity:      integer(row, 4),
		Visibility: str(row, 5),
		Line:       integer(row, 6),
		EndLine:    integer(row, 7),
	}
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case 0:
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func str(row []any, i int) string {
	if i >= len(row) {
		return ""
	}
	s, _ := row[i].(string)
	return s
}

func integer(row []any, i int) int {
	if i >= len(row) {
		return 0
	}
	switch v := row[i].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func firstCount(result *storage.QueryResult) int {
	if result == nil || len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return 0
	}
	switch v := result.Rows[0][0].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graphstore

import (
	"context"
	"fmt"

	"github.com/kraklabs/ragex/pkg/graphmodel"
)

// Snapshot is an immutable adjacency view of the graph, materialized for
// the algorithms package so traversals never hold database locks.
type Snapshot struct {
	Nodes []*Node

	// Out and In index edges by endpoint id.
	Out map[string][]Edge
	In  map[string][]Edge

	byID map[string]*Node
}

// Node returns the snapshot node with the given id, or nil.
func (sn *Snapshot) Node(id string) *Node {
	return sn.byID[id]
}

// NewSnapshot builds a snapshot directly from nodes and edges, for callers
// (and tests) that assemble graphs without a backing store.
func NewSnapshot(nodes []*Node, edges []Edge) *Snapshot {
	sn := &Snapshot{
		Nodes: nodes,
		Out:   make(map[string][]Edge),
		In:    make(map[string][]Edge),
		byID:  make(map[string]*Node, len(nodes)),
	}
	for _, node := range nodes {
		sn.byID[node.ID] = node
	}
	for _, edge := range edges {
		sn.Out[edge.From] = append(sn.Out[edge.From], edge)
		sn.In[edge.To] = append(sn.In[edge.To], edge)
	}
	return sn
}

// Snapshot materializes all nodes and edges. The copy is taken under the
// backend's read path; callers traverse it lock-free afterwards.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	sn := &Snapshot{
		Out:  make(map[string][]Edge),
		In:   make(map[string][]Edge),
		byID: make(map[string]*Node),
	}

	modResult, err := s.backend.Query(ctx, `?[id, name, qualified_name, language, file_path, line, doc, kind] :=
  *ragex_module { id, name, qualified_name, language, file_path, line, doc, kind }`)
	if err == nil {
		for _, row := range modResult.Rows {
			node := moduleRowToNode(row)
			sn.Nodes = append(sn.Nodes, node)
			sn.byID[node.ID] = node
		}
	}

	fnResult, err := s.backend.Query(ctx, `?[id, name, file_path, module_id, arity, visibility, start_line, end_line] :=
  *ragex_function { id, name, file_path, module_id, arity, visibility, start_line, end_line }`)
	if err != nil {
		return nil, fmt.Errorf("snapshot functions: %w", err)
	}
	for _, row := range fnResult.Rows {
		node := functionRowToNode(row)
		sn.Nodes = append(sn.Nodes, node)
		sn.byID[node.ID] = node

		if node.ModuleID != "" {
			edge := Edge{From: node.ModuleID, To: node.ID, Type: graphmodel.EdgeDefines}
			sn.Out[edge.From] = append(sn.Out[edge.From], edge)
			sn.In[edge.To] = append(sn.In[edge.To], edge)
		}
	}

	callResult, err := s.backend.Query(ctx, `?[caller_id, callee_id, call_line] := *ragex_calls { caller_id, callee_id, call_line }`)
	if err != nil {
		return nil, fmt.Errorf("snapshot calls: %w", err)
	}
	for _, row := range callResult.Rows {
		edge := Edge{From: str(row, 0), To: str(row, 1), Type: graphmodel.EdgeCalls, Line: integer(row, 2)}
		sn.Out[edge.From] = append(sn.Out[edge.From], edge)
		sn.In[edge.To] = append(sn.In[edge.To], edge)
	}

	impResult, err := s.backend.Query(ctx, `?[from_module, to_module] := *ragex_module_import { from_module, to_module }`)
	if err == nil {
		for _, row := range impResult.Rows {
			edge := Edge{From: str(row, 0), To: str(row, 1), Type: graphmodel.EdgeImports}
			sn.Out[edge.From] = append(sn.Out[edge.From], edge)
			sn.In[edge.To] = append(sn.In[edge.To], edge)
		}
	}

	return sn, nil
}

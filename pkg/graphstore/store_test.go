// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graphstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/storage"
)

// fakeBackend routes scripts to canned results and records mutations.
type fakeBackend struct {
	results  map[string]*storage.QueryResult
	executed []string
}

func (b *fakeBackend) Query(_ context.Context, script string) (*storage.QueryResult, error) {
	for key, result := range b.results {
		if strings.Contains(script, key) {
			return result, nil
		}
	}
	return &storage.QueryResult{}, nil
}

func (b *fakeBackend) Execute(_ context.Context, script string) error {
	b.executed = append(b.executed, script)
	return nil
}

func (b *fakeBackend) Close() error { return nil }

func TestFindNode_DecodesFunctionRow(t *testing.T) {
	backend := &fakeBackend{results: map[string]*storage.QueryResult{
		"*ragex_function": {Rows: [][]any{
			{"func:1", "handle", "srv/h.go", "mod:1", float64(2), "public", float64(10), float64(20)},
		}},
	}}
	store := NewStore(backend, nil)

	node, err := store.FindNode(context.Background(), graphmodel.NodeFunction, "func:1")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "handle", node.Name)
	assert.Equal(t, 2, node.Arity)
	assert.Equal(t, "public", node.Visibility)
	assert.Equal(t, 10, node.Line)
	assert.Equal(t, 20, node.EndLine)
	assert.Equal(t, "mod:1", node.ModuleID)
}

func TestFindNode_UnknownTypeIsNilNotError(t *testing.T) {
	store := NewStore(&fakeBackend{}, nil)
	node, err := store.FindNode(context.Background(), "mystery", "x")
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestFindNode_AbsentIsNil(t *testing.T) {
	store := NewStore(&fakeBackend{}, nil)
	node, err := store.FindNode(context.Background(), graphmodel.NodeFunction, "func:missing")
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestOutgoing_FiltersByEdgeType(t *testing.T) {
	backend := &fakeBackend{results: map[string]*storage.QueryResult{
		"*ragex_calls": {Rows: [][]any{{"func:2", float64(14)}}},
	}}
	store := NewStore(backend, nil)

	edges, err := store.Outgoing(context.Background(), "func:1", graphmodel.EdgeCalls)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "func:1", edges[0].From)
	assert.Equal(t, "func:2", edges[0].To)
	assert.Equal(t, 14, edges[0].Line)
	assert.Equal(t, graphmodel.EdgeCalls, edges[0].Type)
}

func TestIncoming_Calls(t *testing.T) {
	backend := &fakeBackend{results: map[string]*storage.QueryResult{
		"*ragex_calls": {Rows: [][]any{{"func:9", float64(3)}}},
	}}
	store := NewStore(backend, nil)

	edges, err := store.Incoming(context.Background(), "func:1", graphmodel.EdgeCalls)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "func:9", edges[0].From)
	assert.Equal(t, "func:1", edges[0].To)
}

func TestAddEdge_IdempotentIDs(t *testing.T) {
	backend := &fakeBackend{}
	store := NewStore(backend, nil)

	require.NoError(t, store.AddEdge(context.Background(), "func:a", "func:b", graphmodel.EdgeCalls, 5))
	require.NoError(t, store.AddEdge(context.Background(), "func:a", "func:b", graphmodel.EdgeCalls, 5))
	require.Len(t, backend.executed, 2)
	// Same deterministic id both times: a :put overwrite, not a duplicate.
	assert.Equal(t, backend.executed[0], backend.executed[1])
	assert.Contains(t, backend.executed[0], "call:func:a|func:b")
}

func TestAddEdge_UnknownTypeRejected(t *testing.T) {
	store := NewStore(&fakeBackend{}, nil)
	err := store.AddEdge(context.Background(), "a", "b", "teleports", 0)
	require.Error(t, err)
}

func TestListNodes_ReportsTotalsBeyondLimit(t *testing.T) {
	backend := &fakeBackend{results: map[string]*storage.QueryResult{
		"count(id)] := *ragex_function": {Rows: [][]any{{float64(42)}}},
		"*ragex_function { id, name,": {Rows: [][]any{
			{"func:1", "a", "f.go", "", float64(0), "public", float64(1), float64(2)},
			{"func:2", "b", "f.go", "", float64(0), "public", float64(3), float64(4)},
		}},
	}}
	store := NewStore(backend, nil)

	nodes, total, err := store.ListNodes(context.Background(), graphmodel.NodeFunction, 2)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Equal(t, 42, total)
}

func TestStats_CountsByType(t *testing.T) {
	backend := &fakeBackend{results: map[string]*storage.QueryResult{
		"ragex_module { id }":        {Rows: [][]any{{float64(3)}}},
		"ragex_function { id }":      {Rows: [][]any{{float64(7)}}},
		"ragex_calls { id }":         {Rows: [][]any{{float64(11)}}},
		"ragex_module_import { id }": {Rows: [][]any{{float64(2)}}},
		"module_id != ''":            {Rows: [][]any{{float64(6)}}},
	}}
	store := NewStore(backend, nil)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Nodes)
	assert.Equal(t, 19, stats.Edges)
	assert.Equal(t, 11, stats.ByType["calls"])
	assert.Equal(t, 2, stats.ByType["imports"])
	assert.Equal(t, 6, stats.ByType["defines"])
}

func TestClear_WipesEveryTable(t *testing.T) {
	backend := &fakeBackend{}
	store := NewStore(backend, nil)
	require.NoError(t, store.Clear(context.Background()))

	joined := strings.Join(backend.executed, "\n")
	for _, table := range []string{
		"ragex_calls", "ragex_module_import", "ragex_function_code",
		"ragex_function_embedding", "ragex_embedding_meta",
		"ragex_function", "ragex_module", "ragex_file",
	} {
		assert.Contains(t, joined, table)
	}
}

func TestSnapshot_NewSnapshotIndexesBothDirections(t *testing.T) {
	nodes := []*Node{
		{ID: "a", Type: graphmodel.NodeFunction},
		{ID: "b", Type: graphmodel.NodeFunction},
	}
	edges := []Edge{{From: "a", To: "b", Type: graphmodel.EdgeCalls}}
	sn := NewSnapshot(nodes, edges)

	assert.Len(t, sn.Out["a"], 1)
	assert.Len(t, sn.In["b"], 1)
	assert.NotNil(t, sn.Node("a"))
	assert.Nil(t, sn.Node("ghost"))
}

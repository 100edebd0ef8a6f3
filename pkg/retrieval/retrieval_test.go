// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/graphstore"
	"github.com/kraklabs/ragex/pkg/storage"
	"github.com/kraklabs/ragex/pkg/vectorstore"
)

// tableBackend serves canned rows per relation so graphstore queries work
// without a database.
type tableBackend struct {
	moduleRows   [][]any
	functionRows [][]any
}

func (b *tableBackend) Query(_ context.Context, script string) (*storage.QueryResult, error) {
	switch {
	case strings.Contains(script, "count(id)") && strings.Contains(script, "ragex_module"):
		return &storage.QueryResult{Rows: [][]any{{float64(len(b.moduleRows))}}}, nil
	case strings.Contains(script, "count(id)") && strings.Contains(script, "ragex_function"):
		return &storage.QueryResult{Rows: [][]any{{float64(len(b.functionRows))}}}, nil
	case strings.Contains(script, "*ragex_module {"):
		return &storage.QueryResult{Rows: b.moduleRows}, nil
	case strings.Contains(script, "*ragex_function {"):
		return &storage.QueryResult{Rows: b.functionRows}, nil
	default:
		return &storage.QueryResult{}, nil
	}
}

func (b *tableBackend) Execute(_ context.Context, _ string) error { return nil }
func (b *tableBackend) Close() error                              { return nil }

func moduleRow(id, name, qualified string) []any {
	return []any{id, name, qualified, "elixir", "lib/" + name + ".ex", float64(1), "", "module"}
}

func functionRow(id, name string) []any {
	return []any{id, name, "lib/a.ex", "mod:a", float64(1), "public", float64(10), float64(12)}
}

func newGraphEngine(t *testing.T, backend storage.Backend) *Engine {
	t.Helper()
	store := graphstore.NewStore(backend, nil)
	vectors := vectorstore.NewStore(backend, 4, "mock", nil)
	return NewEngine(store, vectors, nil, nil)
}

func node(id string, t graphmodel.NodeType) *graphstore.Node {
	return &graphstore.Node{ID: id, Type: t, Name: id}
}

func TestGraphSearch_RankingOrder(t *testing.T) {
	backend := &tableBackend{
		moduleRows: [][]any{
			moduleRow("mod:parse_helper", "helper", "lib/helper"),
		},
		functionRows: [][]any{
			functionRow("func:1", "parse_config"), // prefix match
			functionRow("func:2", "reparse"),      // contains match
			functionRow("func:3", "unrelated"),
		},
	}
	engine := newGraphEngine(t, backend)

	results, err := engine.GraphSearch(context.Background(), "parse", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "parse_config", results[0].Node.Name)
	assert.Equal(t, "reparse", results[1].Node.Name)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestGraphSearch_EmptyQuery(t *testing.T) {
	engine := newGraphEngine(t, &tableBackend{})
	results, err := engine.GraphSearch(context.Background(), "   ", "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGraphSearch_FunctionBeatsModuleOnTie(t *testing.T) {
	backend := &tableBackend{
		moduleRows:   [][]any{moduleRow("mod:x", "cache", "lib/cache")},
		functionRows: [][]any{functionRow("func:x", "cache")},
	}
	engine := newGraphEngine(t, backend)

	results, err := engine.GraphSearch(context.Background(), "cache", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, graphmodel.NodeFunction, results[0].Node.Type)
	assert.Equal(t, graphmodel.NodeModule, results[1].Node.Type)
}

func TestFuseRRF_CombinesRanks(t *testing.T) {
	a := node("a", graphmodel.NodeFunction)
	b := node("b", graphmodel.NodeFunction)
	c := node("c", graphmodel.NodeFunction)

	semantic := []Result{{Node: a}, {Node: b}}
	structural := []Result{{Node: b}, {Node: c}}

	fused := FuseRRF([][]Result{semantic, structural}, 60)
	require.Len(t, fused, 3)

	// b appears in both lists (ranks 2 and 1), so it wins.
	assert.Equal(t, "b", fused[0].Node.ID)
	expectedB := 1.0/62.0 + 1.0/61.0
	assert.InDelta(t, expectedB, fused[0].Score, 1e-12)

	// a (rank 1, one list) beats c (rank 2, one list).
	assert.Equal(t, "a", fused[1].Node.ID)
	assert.Equal(t, "c", fused[2].Node.ID)
}

func TestFuseRRF_SingleListPreservesOrder(t *testing.T) {
	only := []Result{
		{Node: node("first", graphmodel.NodeFunction)},
		{Node: node("second", graphmodel.NodeFunction)},
		{Node: node("third", graphmodel.NodeFunction)},
	}
	fused := FuseRRF([][]Result{nil, only}, 60)
	require.Len(t, fused, 3)
	assert.Equal(t, "first", fused[0].Node.ID)
	assert.Equal(t, "second", fused[1].Node.ID)
	assert.Equal(t, "third", fused[2].Node.ID)
	for _, r := range fused {
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestFuseRRF_TieBreaksByID(t *testing.T) {
	x := node("x", graphmodel.NodeFunction)
	y := node("y", graphmodel.NodeFunction)
	// Same rank in parallel lists: identical scores.
	fused := FuseRRF([][]Result{{{Node: y}}, {{Node: x}}}, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, "x", fused[0].Node.ID)
	assert.Equal(t, "y", fused[1].Node.ID)
}

func TestSemanticSearch_NoEmbedderIsEmpty(t *testing.T) {
	engine := newGraphEngine(t, &tableBackend{})
	results, err := engine.SemanticSearch(context.Background(), "anything", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHybridSearch_EmptyQuery(t *testing.T) {
	engine := newGraphEngine(t, &tableBackend{})
	results, err := engine.HybridSearch(context.Background(), "", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHybridSearch_StructuralOnlyDegradation(t *testing.T) {
	backend := &tableBackend{
		functionRows: [][]any{functionRow("func:1", "index_files")},
	}
	engine := newGraphEngine(t, backend)

	results, err := engine.HybridSearch(context.Background(), "index", 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "index_files", results[0].Node.Name)
	assert.Greater(t, results[0].Score, 0.0)
}

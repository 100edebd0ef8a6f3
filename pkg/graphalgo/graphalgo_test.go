// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graphalgo

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/graphstore"
)

func fn(id string) *graphstore.Node {
	return &graphstore.Node{Type: graphmodel.NodeFunction, ID: id, Name: id}
}

func calls(from, to string) graphstore.Edge {
	return graphstore.Edge{From: from, To: to, Type: graphmodel.EdgeCalls}
}

func buildSnapshot(nodeIDs []string, edges []graphstore.Edge) *graphstore.Snapshot {
	nodes := make([]*graphstore.Node, len(nodeIDs))
	for i, id := range nodeIDs {
		nodes[i] = fn(id)
	}
	return graphstore.NewSnapshot(nodes, edges)
}

func TestPageRank_SumsToOne(t *testing.T) {
	sn := buildSnapshot([]string{"a", "b", "c", "d"}, []graphstore.Edge{
		calls("a", "b"), calls("b", "c"), calls("c", "a"), calls("d", "a"),
	})
	scores := PageRank(sn, DefaultPageRankOptions())
	require.Len(t, scores, 4)

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestPageRank_EmptyGraph(t *testing.T) {
	sn := buildSnapshot(nil, nil)
	assert.Empty(t, PageRank(sn, DefaultPageRankOptions()))
}

func TestPageRank_SinkDistributesUniformly(t *testing.T) {
	// b is a sink; its mass must not vanish, so the sum still converges
	// to 1 and a (pointed to by nothing) keeps a nonzero score.
	sn := buildSnapshot([]string{"a", "b"}, []graphstore.Edge{calls("a", "b")})
	scores := PageRank(sn, DefaultPageRankOptions())
	sum := scores["a"] + scores["b"]
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Greater(t, scores["b"], scores["a"])
}

func TestPageRank_HigherInDegreeRanksHigher(t *testing.T) {
	sn := buildSnapshot([]string{"hub", "x", "y", "z"}, []graphstore.Edge{
		calls("x", "hub"), calls("y", "hub"), calls("z", "hub"), calls("hub", "x"),
	})
	scores := PageRank(sn, DefaultPageRankOptions())
	assert.Greater(t, scores["hub"], scores["y"])
	assert.Greater(t, scores["hub"], scores["z"])
}

func TestPageRank_IgnoresDanglingEdgeTargets(t *testing.T) {
	// Edge to a node that was never added: algorithms treat missing
	// endpoints as absent.
	sn := buildSnapshot([]string{"a", "b"}, []graphstore.Edge{
		calls("a", "b"), calls("a", "ghost"),
	})
	scores := PageRank(sn, DefaultPageRankOptions())
	require.Len(t, scores, 2)
	sum := scores["a"] + scores["b"]
	assert.InDelta(t, 1.0, sum, 1e-6)
	_, hasGhost := scores["ghost"]
	assert.False(t, hasGhost)
}

func TestDegreeCentrality(t *testing.T) {
	sn := buildSnapshot([]string{"a", "b", "c"}, []graphstore.Edge{
		calls("a", "b"), calls("a", "c"), calls("b", "c"),
	})
	degrees := DegreeCentrality(sn)
	assert.Equal(t, Degree{In: 0, Out: 2, Total: 2}, degrees["a"])
	assert.Equal(t, Degree{In: 1, Out: 1, Total: 2}, degrees["b"])
	assert.Equal(t, Degree{In: 2, Out: 0, Total: 2}, degrees["c"])
}

func TestFindPaths_BasicProperties(t *testing.T) {
	sn := buildSnapshot([]string{"a", "b", "c", "d"}, []graphstore.Edge{
		calls("a", "b"), calls("b", "d"), calls("a", "c"), calls("c", "d"),
	})
	paths := FindPaths(sn, "a", "d", DefaultPathOptions(), nil)
	require.Len(t, paths, 2)
	for _, path := range paths {
		assert.Equal(t, "a", path[0])
		assert.Equal(t, "d", path[len(path)-1])
		seen := map[string]bool{}
		for _, node := range path {
			assert.False(t, seen[node], "node repeated in path")
			seen[node] = true
		}
		// Every consecutive pair must be an existing calls edge.
		for i := 0; i+1 < len(path); i++ {
			found := false
			for _, edge := range sn.Out[path[i]] {
				if edge.To == path[i+1] {
					found = true
				}
			}
			assert.True(t, found)
		}
	}
}

func TestFindPaths_SelfIsZeroLengthPath(t *testing.T) {
	sn := buildSnapshot([]string{"x"}, nil)
	paths := FindPaths(sn, "x", "x", DefaultPathOptions(), nil)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"x"}, paths[0])
}

func TestFindPaths_MissingEndpoint(t *testing.T) {
	sn := buildSnapshot([]string{"x"}, nil)
	assert.Empty(t, FindPaths(sn, "x", "ghost", DefaultPathOptions(), nil))
	assert.Empty(t, FindPaths(sn, "ghost", "x", DefaultPathOptions(), nil))
}

func TestFindPaths_CyclesGuardedPerPath(t *testing.T) {
	sn := buildSnapshot([]string{"a", "b", "c"}, []graphstore.Edge{
		calls("a", "b"), calls("b", "a"), calls("b", "c"),
	})
	paths := FindPaths(sn, "a", "c", DefaultPathOptions(), nil)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"a", "b", "c"}, paths[0])
}

func TestFindPaths_MaxDepthRespected(t *testing.T) {
	// Chain a -> b -> c -> d needs 3 edges.
	sn := buildSnapshot([]string{"a", "b", "c", "d"}, []graphstore.Edge{
		calls("a", "b"), calls("b", "c"), calls("c", "d"),
	})
	opts := DefaultPathOptions()
	opts.MaxDepth = 2
	assert.Empty(t, FindPaths(sn, "a", "d", opts, nil))

	opts.MaxDepth = 3
	assert.Len(t, FindPaths(sn, "a", "d", opts, nil), 1)
}

func TestFindPaths_DenseNodeBoundedAndWarned(t *testing.T) {
	// Node h fans out to 25 intermediates, each reaching x.
	ids := []string{"h", "x"}
	var edges []graphstore.Edge
	for i := 0; i < 25; i++ {
		mid := fmt.Sprintf("m%02d", i)
		ids = append(ids, mid)
		edges = append(edges, calls("h", mid), calls(mid, "x"))
	}
	sn := buildSnapshot(ids, edges)

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	opts := DefaultPathOptions()
	opts.MaxPaths = 50
	opts.MaxDepth = 5
	paths := FindPaths(sn, "h", "x", opts, logger)

	assert.LessOrEqual(t, len(paths), 50)
	for _, path := range paths {
		assert.LessOrEqual(t, len(path), 6)
	}
	assert.Contains(t, logBuf.String(), "dense_start_node")
}

func TestFindPaths_MaxPathsTruncates(t *testing.T) {
	ids := []string{"s", "t"}
	var edges []graphstore.Edge
	for i := 0; i < 10; i++ {
		mid := fmt.Sprintf("m%d", i)
		ids = append(ids, mid)
		edges = append(edges, calls("s", mid), calls(mid, "t"))
	}
	sn := buildSnapshot(ids, edges)

	opts := DefaultPathOptions()
	opts.MaxPaths = 3
	opts.WarnDense = false
	paths := FindPaths(sn, "s", "t", opts, nil)
	assert.Len(t, paths, 3)
}

func TestStats_EmptyGraphZeros(t *testing.T) {
	stats := Stats(buildSnapshot(nil, nil))
	assert.Zero(t, stats.NodeCount)
	assert.Zero(t, stats.EdgeCount)
	assert.Zero(t, stats.AverageDegree)
	assert.Zero(t, stats.Density)
	assert.Empty(t, stats.TopNodes)
}

func TestStats_CountsAndDensity(t *testing.T) {
	sn := buildSnapshot([]string{"a", "b", "c"}, []graphstore.Edge{
		calls("a", "b"), calls("b", "c"),
	})
	stats := Stats(sn)
	assert.Equal(t, 3, stats.NodeCount)
	assert.Equal(t, 2, stats.EdgeCount)
	assert.InDelta(t, 4.0/3.0, stats.AverageDegree, 1e-9)
	assert.InDelta(t, 2.0/6.0, stats.Density, 1e-9)
	assert.Equal(t, 3, stats.NodeCountsByType["function"])
	require.NotEmpty(t, stats.TopNodes)

	// Top nodes sorted by descending score.
	for i := 1; i < len(stats.TopNodes); i++ {
		assert.False(t, math.IsNaN(stats.TopNodes[i].Score))
		assert.GreaterOrEqual(t, stats.TopNodes[i-1].Score, stats.TopNodes[i].Score)
	}
}

// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graphalgo

import (
	"log/slog"

	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/graphstore"
)

// Dense-node thresholds for the fan-out warnings.
const (
	denseWarnDegree = 20
	denseInfoDegree = 10
)

// PathOptions bound the DFS.
type PathOptions struct {
	// MaxDepth is the maximum path length in edges (default 10). A path
	// of N nodes has N-1 edges.
	MaxDepth int

	// MaxPaths stops the search once this many complete paths are found
	// (default 100). Truncation is not annotated in the result.
	MaxPaths int

	// WarnDense controls the fan-out warning on the start node.
	WarnDense bool

	// EdgeType restricts traversal; empty means calls edges.
	EdgeType graphmodel.EdgeType
}

// DefaultPathOptions mirror the documented defaults.
func DefaultPathOptions() PathOptions {
	return PathOptions{MaxDepth: 10, MaxPaths: 100, WarnDense: true}
}

// FindPaths enumerates simple paths from one node to another by depth-first
// search. Cycles are guarded per-path (a node may appear in many paths but
// never twice in one). Result order is DFS traversal order; the search
// halts as soon as MaxPaths complete paths exist, so without MaxPaths the
// cost can be exponential, with it the work is bounded by
// MaxPaths × MaxDepth.
//
// from == to returns the single zero-length path [[from]] when the node
// exists. Missing endpoints return no paths, not an error.
func FindPaths(sn *graphstore.Snapshot, from, to string, opts PathOptions, logger *slog.Logger) [][]string {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 10
	}
	if opts.MaxPaths <= 0 {
		opts.MaxPaths = 100
	}
	edgeType := opts.EdgeType
	if edgeType == "" {
		edgeType = graphmodel.EdgeCalls
	}

	if sn.Node(from) == nil || sn.Node(to) == nil {
		return nil
	}
	if from == to {
		return [][]string{{from}}
	}

	if opts.WarnDense {
		degree := len(sn.Out[from])
		switch {
		case degree >= denseWarnDegree:
			logger.Warn("graphalgo.find_paths.dense_start_node", "node", from, "out_degree", degree)
		case degree >= denseInfoDegree:
			logger.Info("graphalgo.find_paths.dense_start_node", "node", from, "out_degree", degree)
		}
	}

	search := &pathSearch{
		sn:       sn,
		to:       to,
		opts:     opts,
		edgeType: edgeType,
		onPath:   map[string]bool{from: true},
	}
	search.dfs(from, []string{from})
	return search.paths
}

type pathSearch struct {
	sn       *graphstore.Snapshot
	to       string
	opts     PathOptions
	edgeType graphmodel.EdgeType
	onPath   map[string]bool
	paths    [][]string
}

func (ps *pathSearch) dfs(node string, path []string) {
	if len(ps.paths) >= ps.opts.MaxPaths {
		return
	}
	if len(path)-1 >= ps.opts.MaxDepth {
		return
	}
	for _, edge := range ps.sn.Out[node] {
		if edge.Type != ps.edgeType {
			continue
		}
		next := edge.To
		if ps.sn.Node(next) == nil || ps.onPath[next] {
			continue
		}

		if next == ps.to {
			complete := make([]string, len(path)+1)
			copy(complete, path)
			complete[len(path)] = next
			ps.paths = append(ps.paths, complete)
			if len(ps.paths) >= ps.opts.MaxPaths {
				return
			}
			continue
		}

		ps.onPath[next] = true
		ps.dfs(next, append(path, next))
		delete(ps.onPath, next)

		if len(ps.paths) >= ps.opts.MaxPaths {
			return
		}
	}
}

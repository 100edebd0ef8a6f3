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

// Package graphalgo runs graph algorithms over an immutable snapshot of the
// knowledge graph: PageRank, degree centrality, bounded path finding, and
// summary statistics. It only observes — nothing here mutates the store,
// and no database locks are held during traversal.
package graphalgo

import (
	"math"

	"github.com/kraklabs/ragex/pkg/graphstore"
)

// PageRankOptions tune the iteration.
type PageRankOptions struct {
	// Damping is the probability of following an edge vs teleporting.
	Damping float64

	// Tolerance stops iteration when the max per-node change drops below
	// it.
	Tolerance float64

	// MaxIterations bounds the loop regardless of convergence.
	MaxIterations int
}

// DefaultPageRankOptions mirror the conventional parameters.
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{Damping: 0.85, Tolerance: 1e-4, MaxIterations: 100}
}

// PageRank computes the stationary importance of every node. Sink nodes
// distribute their mass uniformly; teleportation is uniform. The returned
// scores sum to 1 (within float tolerance). An empty graph returns an empty
// map.
func PageRank(sn *graphstore.Snapshot, opts PageRankOptions) map[string]float64 {
	n := len(sn.Nodes)
	if n == 0 {
		return map[string]float64{}
	}
	if opts.Damping <= 0 || opts.Damping >= 1 {
		opts.Damping = 0.85
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-4
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 100
	}

	ids := make([]string, 0, n)
	for _, node := range sn.Nodes {
		ids = append(ids, node.ID)
	}

	scores := make(map[string]float64, n)
	for _, id := range ids {
		scores[id] = 1.0 / float64(n)
	}

	for iter := 0; iter < opts.MaxIterations; iter++ {
		next := make(map[string]float64, n)
		base := (1.0 - opts.Damping) / float64(n)
		for _, id := range ids {
			next[id] = base
		}

		// Sinks spread their score uniformly over all nodes.
		var sinkMass float64
		for _, id := range ids {
			out := outEdgesWithin(sn, id)
			if len(out) == 0 {
				sinkMass += scores[id]
				continue
			}
			share := opts.Damping * scores[id] / float64(len(out))
			for _, edge := range out {
				next[edge.To] += share
			}
		}
		if sinkMass > 0 {
			share := opts.Damping * sinkMass / float64(n)
			for _, id := range ids {
				next[id] += share
			}
		}

		maxDelta := 0.0
		for _, id := range ids {
			if d := math.Abs(next[id] - scores[id]); d > maxDelta {
				maxDelta = d
			}
		}
		scores = next
		if maxDelta < opts.Tolerance {
			break
		}
	}
	return scores
}

// outEdgesWithin filters out edges whose target is not a snapshot node.
// Dangling edges (targets added before their nodes) are legal in the store
// but invisible to the algorithms.
func outEdgesWithin(sn *graphstore.Snapshot, id string) []graphstore.Edge {
	raw := sn.Out[id]
	edges := make([]graphstore.Edge, 0, len(raw))
	for _, e := range raw {
		if sn.Node(e.To) != nil {
			edges = append(edges, e)
		}
	}
	return edges
}

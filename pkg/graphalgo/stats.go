// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graphalgo

import (
	"sort"

	"github.com/kraklabs/ragex/pkg/graphstore"
)

// RankedNode pairs a node id with its PageRank score.
type RankedNode struct {
	ID    string
	Score float64
}

// GraphStats summarizes the whole graph.
type GraphStats struct {
	NodeCount        int
	NodeCountsByType map[string]int
	EdgeCount        int
	AverageDegree    float64 // 2E / V
	Density          float64 // E / (V * (V - 1))
	TopNodes         []RankedNode
}

// Stats computes structural statistics plus the top 10 nodes by PageRank.
// An empty graph returns zeros.
func Stats(sn *graphstore.Snapshot) *GraphStats {
	stats := &GraphStats{NodeCountsByType: make(map[string]int)}
	stats.NodeCount = len(sn.Nodes)
	for _, node := range sn.Nodes {
		stats.NodeCountsByType[string(node.Type)]++
	}
	for _, edges := range sn.Out {
		stats.EdgeCount += len(edges)
	}

	if stats.NodeCount > 0 {
		stats.AverageDegree = 2 * float64(stats.EdgeCount) / float64(stats.NodeCount)
	}
	if stats.NodeCount > 1 {
		stats.Density = float64(stats.EdgeCount) / (float64(stats.NodeCount) * float64(stats.NodeCount-1))
	}

	if stats.NodeCount > 0 {
		ranks := PageRank(sn, DefaultPageRankOptions())
		ranked := make([]RankedNode, 0, len(ranks))
		for id, score := range ranks {
			ranked = append(ranked, RankedNode{ID: id, Score: score})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].Score != ranked[j].Score {
				return ranked[i].Score > ranked[j].Score
			}
			return ranked[i].ID < ranked[j].ID
		})
		if len(ranked) > 10 {
			ranked = ranked[:10]
		}
		stats.TopNodes = ranked
	}
	return stats
}

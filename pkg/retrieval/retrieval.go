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

// Package retrieval combines the two halves of the index into ranked
// answers: vector kNN for meaning, graph lookups for structure, and
// reciprocal-rank fusion when both should weigh in.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/graphstore"
	"github.com/kraklabs/ragex/pkg/vectorstore"
)

// rrfK is the standard reciprocal-rank-fusion constant.
const rrfK = 60

// QueryEmbedder embeds query text. The indexing-side provider satisfies it.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Engine serves search queries. It only reads from the stores.
type Engine struct {
	graph    *graphstore.Store
	vectors  *vectorstore.Store
	embedder QueryEmbedder
	logger   *slog.Logger
}

// Result is one ranked entity.
type Result struct {
	Node  *graphstore.Node
	Score float64
}

// NewEngine creates a retrieval engine. embedder may be nil, in which case
// semantic search returns no results and hybrid search degrades to graph
// ranking.
func NewEngine(graph *graphstore.Store, vectors *vectorstore.Store, embedder QueryEmbedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{graph: graph, vectors: vectors, embedder: embedder, logger: logger}
}

// SemanticSearch embeds the query and runs vector kNN. An empty query is an
// empty result.
func (e *Engine) SemanticSearch(ctx context.Context, query string, limit int, threshold float64) ([]Result, error) {
	if strings.TrimSpace(query) == "" || e.embedder == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		e.logger.Warn("retrieval.semantic.embed_failed", "err", err)
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	matches, err := e.vectors.Search(ctx, vectors[0], limit, threshold)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		node, err := e.graph.FindNode(ctx, graphmodel.NodeFunction, m.EntityID)
		if err != nil {
			return nil, err
		}
		if node == nil {
			// Embeddings for types are searchable too, but only function
			// entities are graph nodes today.
			continue
		}
		results = append(results, Result{Node: node, Score: m.Score})
	}
	return results, nil
}

// Graph-search match quality, strongest first.
const (
	scorePrefix      = 3
	scoreContains    = 2
	scoreDocContains = 1
)

// GraphSearch matches the query as a substring of entity names and
// qualified names. Ranking: name-prefix > name-contains > doc-contains;
// ties break by entity type (function before module) then ascending id.
func (e *Engine) GraphSearch(ctx context.Context, query string, nodeType graphmodel.NodeType, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	// Substring search over the node tables; over-fetch so ranking has
	// enough candidates.
	candidates, _, err := e.graph.ListNodes(ctx, nodeType, limit*20)
	if err != nil {
		return nil, err
	}

	lowered := strings.ToLower(query)
	var results []Result
	for _, node := range candidates {
		score := matchScore(node, lowered)
		if score == 0 {
			continue
		}
		results = append(results, Result{Node: node, Score: float64(score)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		pi, pj := typePriority(results[i].Node.Type), typePriority(results[j].Node.Type)
		if pi != pj {
			return pi < pj
		}
		return results[i].Node.ID < results[j].Node.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func matchScore(node *graphstore.Node, loweredQuery string) int {
	name := strings.ToLower(node.Name)
	qualified := strings.ToLower(node.QualifiedName)
	switch {
	case strings.HasPrefix(name, loweredQuery) || (qualified != "" && strings.HasPrefix(qualified, loweredQuery)):
		return scorePrefix
	case strings.Contains(name, loweredQuery) || strings.Contains(qualified, loweredQuery):
		return scoreContains
	case node.Doc != "" && strings.Contains(strings.ToLower(node.Doc), loweredQuery):
		return scoreDocContains
	default:
		return 0
	}
}

func typePriority(t graphmodel.NodeType) int {
	if t == graphmodel.NodeFunction {
		return 0
	}
	return 1
}

// HybridSearch fuses the semantic and graph rankings with reciprocal-rank
// fusion: score(e) = Σ 1/(k + rank_i(e)) over the lists e appears in.
// When one side is empty the result reduces to RRF over the other list,
// preserving its order. Ties break by ascending id.
func (e *Engine) HybridSearch(ctx context.Context, query string, limit int, k int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	if k <= 0 {
		k = rrfK
	}

	semantic, err := e.SemanticSearch(ctx, query, limit*2, 0)
	if err != nil {
		// Semantic failure degrades to structural-only ranking.
		e.logger.Warn("retrieval.hybrid.semantic_failed", "err", err)
		semantic = nil
	}
	structural, err := e.GraphSearch(ctx, query, "", limit*2)
	if err != nil {
		return nil, err
	}

	fused := FuseRRF([][]Result{semantic, structural}, k)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// FuseRRF merges ranked lists by reciprocal-rank fusion. Ranks are
// 1-based; entities absent from a list simply contribute nothing for it.
func FuseRRF(lists [][]Result, k int) []Result {
	type fusion struct {
		node  *graphstore.Node
		score float64
	}
	byID := make(map[string]*fusion)
	for _, list := range lists {
		for rank, r := range list {
			if r.Node == nil {
				continue
			}
			f, ok := byID[r.Node.ID]
			if !ok {
				f = &fusion{node: r.Node}
				byID[r.Node.ID] = f
			}
			f.score += 1.0 / float64(k+rank+1)
		}
	}

	fused := make([]Result, 0, len(byID))
	for _, f := range byID {
		fused = append(fused, Result{Node: f.node, Score: f.score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].Node.ID < fused[j].Node.ID
	})
	return fused
}

// FindCallers lists the functions calling the given function id, in
// deterministic order.
func (e *Engine) FindCallers(ctx context.Context, functionID string) ([]*graphstore.Node, error) {
	edges, err := e.graph.Incoming(ctx, functionID, graphmodel.EdgeCalls)
	if err != nil {
		return nil, err
	}
	return e.resolveEndpoints(ctx, edges, func(edge graphstore.Edge) string { return edge.From })
}

// FindCallees lists the functions called by the given function id, in
// deterministic order.
func (e *Engine) FindCallees(ctx context.Context, functionID string) ([]*graphstore.Node, error) {
	edges, err := e.graph.Outgoing(ctx, functionID, graphmodel.EdgeCalls)
	if err != nil {
		return nil, err
	}
	return e.resolveEndpoints(ctx, edges, func(edge graphstore.Edge) string { return edge.To })
}

// FunctionsInModule lists a module's functions in id order.
func (e *Engine) FunctionsInModule(ctx context.Context, moduleName string) ([]*graphstore.Node, error) {
	return e.graph.FunctionsInModule(ctx, moduleName)
}

func (e *Engine) resolveEndpoints(ctx context.Context, edges []graphstore.Edge, pick func(graphstore.Edge) string) ([]*graphstore.Node, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, edge := range edges {
		id := pick(edge)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var nodes []*graphstore.Node
	for _, id := range ids {
		node, err := e.graph.FindNode(ctx, graphmodel.NodeFunction, id)
		if err != nil {
			return nil, err
		}
		if node != nil {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

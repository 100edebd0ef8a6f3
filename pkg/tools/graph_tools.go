// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kraklabs/ragex/pkg/graphalgo"
	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/graphstore"
	"github.com/kraklabs/ragex/pkg/retrieval"
)

// GraphStats renders whole-graph statistics: node/edge counts by type,
// density, and the top nodes by PageRank.
func GraphStats(ctx context.Context, store *graphstore.Store) (*ToolResult, error) {
	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		return NewError(fmt.Sprintf("Graph snapshot failed: %v", err)), nil
	}
	stats := graphalgo.Stats(snapshot)

	var sb strings.Builder
	sb.WriteString("📊 **Graph statistics**\n\n")
	sb.WriteString(fmt.Sprintf("- nodes: %d\n", stats.NodeCount))
	for t, n := range stats.NodeCountsByType {
		sb.WriteString(fmt.Sprintf("  - %s: %d\n", t, n))
	}
	sb.WriteString(fmt.Sprintf("- edges: %d\n", stats.EdgeCount))
	sb.WriteString(fmt.Sprintf("- average degree: %.2f\n", stats.AverageDegree))
	sb.WriteString(fmt.Sprintf("- density: %.6f\n", stats.Density))

	if len(stats.TopNodes) > 0 {
		sb.WriteString("\n**Top nodes by PageRank**\n\n")
		for i, ranked := range stats.TopNodes {
			label := ranked.ID
			if node := snapshot.Node(ranked.ID); node != nil && node.Name != "" {
				label = fmt.Sprintf("%s (%s)", node.Name, node.File)
			}
			sb.WriteString(fmt.Sprintf("%d. %s — %.5f\n", i+1, label, ranked.Score))
		}
	}
	return NewResult(sb.String()), nil
}

// ListNodesArgs are the arguments for the node listing tool.
type ListNodesArgs struct {
	// Type filters to "module" or "function"; empty lists both.
	Type string

	// Limit caps returned nodes (default 100).
	Limit int
}

// ListNodes lists graph nodes with counts: count is the number returned,
// total_count the number matching before the limit.
func ListNodes(ctx context.Context, store *graphstore.Store, args ListNodesArgs) (*ToolResult, error) {
	nodes, total, err := store.ListNodes(ctx, graphmodel.NodeType(args.Type), args.Limit)
	if err != nil {
		return NewError(fmt.Sprintf("List nodes failed: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🗂️ **Nodes** (count: %d, total_count: %d)\n\n", len(nodes), total))
	for _, node := range nodes {
		switch node.Type {
		case graphmodel.NodeModule:
			sb.WriteString(fmt.Sprintf("- [module] %s (%s) — %s\n", node.Name, node.QualifiedName, node.File))
		default:
			sb.WriteString(fmt.Sprintf("- [function] %s/%d (%s) — %s:%d\n", node.Name, node.Arity, node.Visibility, node.File, node.Line))
		}
	}
	if len(nodes) == 0 {
		sb.WriteString("No nodes indexed yet. Run ragex index first.\n")
	}
	return NewResult(sb.String()), nil
}

// FindPathsArgs are the arguments for the path finding tool.
type FindPathsArgs struct {
	From     string
	To       string
	MaxDepth int
	MaxPaths int
}

// FindPaths enumerates call paths between two functions. From and To may
// be node ids or function names (unique names resolve automatically).
func FindPaths(ctx context.Context, store *graphstore.Store, args FindPathsArgs, logger *slog.Logger) (*ToolResult, error) {
	if args.From == "" || args.To == "" {
		return NewError("Error: 'from' and 'to' are required"), nil
	}

	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		return NewError(fmt.Sprintf("Graph snapshot failed: %v", err)), nil
	}

	fromID, err := resolveNodeRef(ctx, store, snapshot, args.From)
	if err != nil {
		return NewError(err.Error()), nil
	}
	toID, err := resolveNodeRef(ctx, store, snapshot, args.To)
	if err != nil {
		return NewError(err.Error()), nil
	}

	opts := graphalgo.DefaultPathOptions()
	if args.MaxDepth > 0 {
		opts.MaxDepth = args.MaxDepth
	}
	if args.MaxPaths > 0 {
		opts.MaxPaths = args.MaxPaths
	}

	paths := graphalgo.FindPaths(snapshot, fromID, toID, opts, logger)
	if len(paths) == 0 {
		return NewResult(fmt.Sprintf("No call paths from %s to %s within depth %d.", args.From, args.To, opts.MaxDepth)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🛤️ **Call paths** %s → %s (%d found)\n\n", args.From, args.To, len(paths)))
	for i, path := range paths {
		labels := make([]string, len(path))
		for j, id := range path {
			labels[j] = nodeLabel(snapshot, id)
		}
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, strings.Join(labels, " → ")))
	}
	return NewResult(sb.String()), nil
}

// resolveNodeRef accepts a node id or a unique function name.
func resolveNodeRef(ctx context.Context, store *graphstore.Store, snapshot *graphstore.Snapshot, ref string) (string, error) {
	if snapshot.Node(ref) != nil {
		return ref, nil
	}
	nodes, err := store.ResolveFunction(ctx, "", ref, -1)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %v", ref, err)
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("Error: no function named %q in the graph", ref)
	}
	if len(nodes) > 1 {
		return "", fmt.Errorf("Error: %q is ambiguous (%d matches); pass a node id", ref, len(nodes))
	}
	return nodes[0].ID, nil
}

func nodeLabel(snapshot *graphstore.Snapshot, id string) string {
	if node := snapshot.Node(id); node != nil && node.Name != "" {
		return node.Name
	}
	return id
}

// HybridSearchArgs are the arguments for the fused search tool.
type HybridSearchArgs struct {
	Query string
	Limit int

	// K is the reciprocal-rank-fusion constant (default 60).
	K int
}

// HybridSearch runs semantic and structural search and fuses the rankings.
func HybridSearch(ctx context.Context, engine *retrieval.Engine, args HybridSearchArgs) (*ToolResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return NewError("Error: 'query' is required"), nil
	}

	results, err := engine.HybridSearch(ctx, args.Query, args.Limit, args.K)
	if err != nil {
		return NewError(fmt.Sprintf("Hybrid search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return NewResult(fmt.Sprintf("No results for '%s'.", args.Query)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔀 **Hybrid search** for '%s' (%d results)\n\n", args.Query, len(results)))
	for i, r := range results {
		switch r.Node.Type {
		case graphmodel.NodeModule:
			sb.WriteString(fmt.Sprintf("%d. [module] **%s** — %s (rrf %.4f)\n", i+1, r.Node.Name, r.Node.File, r.Score))
		default:
			sb.WriteString(fmt.Sprintf("%d. **%s/%d** — %s:%d (rrf %.4f)\n", i+1, r.Node.Name, r.Node.Arity, r.Node.File, r.Node.Line, r.Score))
		}
	}
	return NewResult(sb.String()), nil
}

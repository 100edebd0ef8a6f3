// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kraklabs/ragex/pkg/editor"
	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/graphstore"
	"github.com/kraklabs/ragex/pkg/ingestion"
	"github.com/kraklabs/ragex/pkg/persistence"
	"github.com/kraklabs/ragex/pkg/refactor"
	"github.com/kraklabs/ragex/pkg/retrieval"
	"github.com/kraklabs/ragex/pkg/tools"
	"github.com/kraklabs/ragex/pkg/txn"
	"github.com/kraklabs/ragex/pkg/undo"
	"github.com/kraklabs/ragex/pkg/vectorstore"
)

// setupCoreEngines wires the graph store, retrieval, editor, refactoring,
// undo, and persistence layers over the embedded backend. Remote mode
// leaves them nil and the corresponding tools report unavailability.
func (s *mcpServer) setupCoreEngines() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s.logger = logger

	s.graphStore = graphstore.NewStore(s.backend, logger)

	dims := 768
	if s.cfg != nil && s.cfg.Embedding.Dimensions > 0 {
		dims = s.cfg.Embedding.Dimensions
	}
	providerName := "mock"
	if s.cfg != nil && s.cfg.Embedding.Provider != "" {
		providerName = mapEmbeddingProvider(s.cfg.Embedding.Provider)
	}
	embedder, err := ingestion.CreateEmbeddingProvider(providerName, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: embedding provider unavailable, hybrid search degrades to structural: %v\n", err)
		embedder = nil
	}
	modelID := providerName
	if embedder != nil {
		modelID = embedder.ModelID()
	}
	vectors := vectorstore.NewStore(s.backend, dims, modelID, logger)
	if embedder != nil {
		s.retrievalEngine = retrieval.NewEngine(s.graphStore, vectors, embedder, logger)
	} else {
		s.retrievalEngine = retrieval.NewEngine(s.graphStore, vectors, nil, logger)
	}

	backups, err := editor.NewBackupStore("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: backup store unavailable, edit tools disabled: %v\n", err)
		return
	}
	s.fileEditor = editor.NewEditor(backups, editor.NewCommandValidator(nil), editor.NewCommandFormatter(nil), logger)

	history, err := undo.NewHistory(s.repoPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: undo history unavailable: %v\n", err)
	} else {
		s.undoHistory = history
	}

	s.refactorEngine = refactor.NewEngine(s.graphStore, s.fileEditor, s.undoHistory, s.repoPath, logger)

	if mgr, err := persistence.NewManager(s.backend.DB(), s.repoPath, "", logger); err == nil {
		s.persistMgr = mgr
	}
}

// coreTools describes the graph, edit, and refactoring tool surface.
func (s *mcpServer) coreTools() []mcpTool {
	changeSchema := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"type":       map[string]any{"type": "string", "enum": []string{"replace", "insert", "delete"}},
				"line_start": map[string]any{"type": "integer", "description": "1-based first line"},
				"line_end":   map[string]any{"type": "integer", "description": "1-based last line (inclusive); defaults to line_start"},
				"content":    map[string]any{"type": "string", "description": "Replacement or inserted text (may span lines)"},
			},
			"required": []string{"type", "line_start"},
		},
	}

	return []mcpTool{
		{
			Name:        "ragex_analyze_file",
			Description: "Re-analyze one source file and update the graph: the file's old entities, edges, and embeddings are removed and the fresh analysis inserted.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "File path relative to the repository root"},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "ragex_analyze_directory",
			Description: "Trigger a background (incremental) reindex of the repository. Returns immediately; check ragex_graph_stats or the index log for progress.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"full": map[string]any{"type": "boolean", "description": "Force a full reindex instead of incremental", "default": false},
				},
				"required": []string{},
			},
		},
		{
			Name:        "ragex_graph_stats",
			Description: "Whole-graph statistics: node and edge counts by type, average degree, density, and the top functions by PageRank importance.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}},
		},
		{
			Name:        "ragex_list_nodes",
			Description: "List graph nodes (modules and functions) with total counts. Useful for verifying what the index contains.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":  map[string]any{"type": "string", "enum": []string{"module", "function"}, "description": "Node type filter; omit for both"},
					"limit": map[string]any{"type": "integer", "description": "Maximum nodes returned (default 100)"},
				},
				"required": []string{},
			},
		},
		{
			Name:        "ragex_hybrid_search",
			Description: "Search combining semantic similarity and structural name matching via reciprocal-rank fusion. Better than either alone when you half-know the name.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer", "description": "Maximum results (default 10)"},
					"k":     map[string]any{"type": "integer", "description": "RRF constant (default 60)"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "ragex_find_paths",
			Description: "Enumerate call paths between two functions through the call graph (bounded DFS). Warns when the start node fans out densely.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from":      map[string]any{"type": "string", "description": "Start function name or node id"},
					"to":        map[string]any{"type": "string", "description": "Target function name or node id"},
					"max_depth": map[string]any{"type": "integer", "description": "Maximum path length in edges (default 10)"},
					"max_paths": map[string]any{"type": "integer", "description": "Stop after this many paths (default 100)"},
				},
				"required": []string{"from", "to"},
			},
		},
		{
			Name:        "ragex_edit_file",
			Description: "Apply line-range changes (replace/insert/delete) to one file with validation, automatic backup, and atomic write.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":          map[string]any{"type": "string"},
					"changes":       changeSchema,
					"validate":      map[string]any{"type": "boolean", "default": true},
					"create_backup": map[string]any{"type": "boolean", "default": true},
					"format":        map[string]any{"type": "boolean", "default": false},
					"language":      map[string]any{"type": "string", "description": "Override extension-based language detection"},
				},
				"required": []string{"path", "changes"},
			},
		},
		{
			Name:        "ragex_edit_files",
			Description: "Apply changes to several files as one transaction: everything validates first, edits apply in order, and any failure rolls the already-edited files back.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"files": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"path":    map[string]any{"type": "string"},
								"changes": changeSchema,
							},
							"required": []string{"path", "changes"},
						},
					},
					"validate":      map[string]any{"type": "boolean", "default": true},
					"create_backup": map[string]any{"type": "boolean", "default": true},
					"format":        map[string]any{"type": "boolean", "default": false},
				},
				"required": []string{"files"},
			},
		},
		{
			Name:        "ragex_validate_edit",
			Description: "Dry-run a change list against a file: range checks plus syntax validation of the resulting content. No writes.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"changes": changeSchema,
				},
				"required": []string{"path", "changes"},
			},
		},
		{
			Name:        "ragex_rollback_edit",
			Description: "Restore a file from a backup created by ragex_edit_file. Omit backup_id for the most recent.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":      map[string]any{"type": "string"},
					"backup_id": map[string]any{"type": "string"},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "ragex_edit_history",
			Description: "List the stored backups for a file, most recent first.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":  map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer", "description": "Maximum entries (default 20)"},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "ragex_refactor_code",
			Description: "Run a graph-guided refactoring: rename_function, rename_module, rename_parameter, convert_visibility, extract_function, inline_function, move_function, change_signature, extract_module, modify_attributes. All affected files are discovered through the call graph and edited as one rollbackable transaction with an undo entry.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"operation": map[string]any{"type": "string"},
					"params":    map[string]any{"type": "object", "description": "Operation-specific parameters (module, old_name, new_name, arity, ...)"},
				},
				"required": []string{"operation"},
			},
		},
		{
			Name:        "ragex_undo",
			Description: "Reverse the most recent refactoring operation, restoring every touched file from its snapshot.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}},
		},
		{
			Name:        "ragex_snapshot",
			Description: "Export the knowledge graph and embeddings to compressed snapshot files in the cache directory, for backup or transport.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}},
		},
	}
}

func init() {
	toolHandlers["ragex_analyze_file"] = handleAnalyzeFile
	toolHandlers["ragex_analyze_directory"] = handleAnalyzeDirectory
	toolHandlers["ragex_graph_stats"] = handleGraphStats
	toolHandlers["ragex_list_nodes"] = handleListNodes
	toolHandlers["ragex_hybrid_search"] = handleHybridSearch
	toolHandlers["ragex_find_paths"] = handleFindPaths
	toolHandlers["ragex_edit_file"] = handleEditFile
	toolHandlers["ragex_edit_files"] = handleEditFiles
	toolHandlers["ragex_validate_edit"] = handleValidateEdit
	toolHandlers["ragex_rollback_edit"] = handleRollbackEdit
	toolHandlers["ragex_edit_history"] = handleEditHistory
	toolHandlers["ragex_refactor_code"] = handleRefactorCode
	toolHandlers["ragex_undo"] = handleUndo
	toolHandlers["ragex_snapshot"] = handleSnapshot
}

func handleSnapshot(_ context.Context, s *mcpServer, _ map[string]any) (*tools.ToolResult, error) {
	if s.persistMgr == nil {
		return coreUnavailable()
	}
	dims := 768
	model := ""
	if s.cfg != nil {
		if s.cfg.Embedding.Dimensions > 0 {
			dims = s.cfg.Embedding.Dimensions
		}
		model = s.cfg.Embedding.Model
	}
	graphPath, embPath, err := s.persistMgr.Save(graphmodel.CacheMetadata{
		ModelID:    model,
		Dimensions: uint16(dims),
	})
	if err != nil {
		return tools.NewError(fmt.Sprintf("Snapshot failed: %v", err)), nil
	}
	return tools.NewResult(fmt.Sprintf("💾 Snapshot written:\n- %s\n- %s", graphPath, embPath)), nil
}

func handleAnalyzeFile(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.backend == nil {
		return coreUnavailable()
	}
	rel, _ := args["path"].(string)
	if rel == "" {
		return tools.NewError("Error: 'path' is required"), nil
	}

	abs := rel
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.repoPath, rel)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return tools.NewError(fmt.Sprintf("Error: cannot stat %s: %v", rel, err)), nil
	}
	language := ingestion.DetectLanguage(rel)
	if language == "" {
		return tools.NewError(fmt.Sprintf("Error: unsupported file type: %s", rel)), nil
	}

	parser := ingestion.NewTreeSitterParser(s.logger)
	parseResult, err := parser.ParseFile(ingestion.FileInfo{
		Path:     rel,
		FullPath: abs,
		Language: language,
		Size:     info.Size(),
		Mtime:    info.ModTime().Unix(),
	})
	if err != nil {
		return tools.NewError(fmt.Sprintf("Analysis failed for %s: %v", rel, err)), nil
	}

	// Replace the file's old entity set atomically from the store's view:
	// delete, then insert the fresh analysis.
	if err := s.backend.DeleteEntitiesForFile(rel); err != nil {
		return tools.NewError(fmt.Sprintf("Error removing old entities: %v", err)), nil
	}

	languageByPath := map[string]string{rel: language}
	ingestion.EnrichFunctions(parseResult.Functions, languageByPath)
	builder := ingestion.NewDatalogBuilder()
	mutations := builder.BuildMutationsWithTypes(
		[]ingestion.FileEntity{parseResult.File},
		parseResult.Functions, parseResult.Types,
		parseResult.Defines, parseResult.DefinesTypes,
		parseResult.Calls, parseResult.Imports,
	)
	mutations += builder.BuildModuleMutations(
		ingestion.DeriveModules([]ingestion.FileEntity{parseResult.File}, map[string]string{rel: parseResult.PackageName}),
		ingestion.DeriveModuleImports(parseResult.Imports, languageByPath),
	)
	if err := s.backend.Execute(ctx, mutations); err != nil {
		return tools.NewError(fmt.Sprintf("Error writing analysis: %v", err)), nil
	}

	return tools.NewResult(fmt.Sprintf("✅ Analyzed %s: %d function(s), %d type(s), %d call edge(s). Embeddings regenerate on the next reindex.",
		rel, len(parseResult.Functions), len(parseResult.Types), len(parseResult.Calls))), nil
}

func handleAnalyzeDirectory(_ context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.backend == nil {
		return coreUnavailable()
	}
	full := boolArg(args, "full", false)
	if !tryStartReindex(s, full) {
		return tools.NewResult("Reindex already in progress: " + s.reindexStatusLine()), nil
	}
	return tools.NewResult("🔄 Reindex started in the background. " + s.reindexStatusLine()), nil
}

func coreUnavailable() (*tools.ToolResult, error) {
	return tools.NewError("This tool requires embedded mode (local database). Remote mode serves read-only queries."), nil
}

func handleGraphStats(ctx context.Context, s *mcpServer, _ map[string]any) (*tools.ToolResult, error) {
	if s.graphStore == nil {
		return coreUnavailable()
	}
	return tools.GraphStats(ctx, s.graphStore)
}

func handleListNodes(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.graphStore == nil {
		return coreUnavailable()
	}
	nodeType, _ := args["type"].(string)
	limit, _ := getIntArg(args, "limit", 100)
	return tools.ListNodes(ctx, s.graphStore, tools.ListNodesArgs{Type: nodeType, Limit: limit})
}

func handleHybridSearch(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.retrievalEngine == nil {
		return coreUnavailable()
	}
	query, _ := args["query"].(string)
	limit, _ := getIntArg(args, "limit", 10)
	k, _ := getIntArg(args, "k", 0)
	return tools.HybridSearch(ctx, s.retrievalEngine, tools.HybridSearchArgs{Query: query, Limit: limit, K: k})
}

func handleFindPaths(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.graphStore == nil {
		return coreUnavailable()
	}
	from, _ := args["from"].(string)
	to, _ := args["to"].(string)
	maxDepth, _ := getIntArg(args, "max_depth", 0)
	maxPaths, _ := getIntArg(args, "max_paths", 0)
	return tools.FindPaths(ctx, s.graphStore, tools.FindPathsArgs{
		From: from, To: to, MaxDepth: maxDepth, MaxPaths: maxPaths,
	}, s.logger)
}

func decodeChangesArg(args map[string]any) ([]editor.Change, error) {
	raw, _ := args["changes"].([]any)
	return tools.DecodeChanges(raw)
}

func handleEditFile(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.fileEditor == nil {
		return coreUnavailable()
	}
	changes, err := decodeChangesArg(args)
	if err != nil {
		return tools.NewError(fmt.Sprintf("Error: %v", err)), nil
	}
	path, _ := args["path"].(string)
	validate := boolArg(args, "validate", true)
	createBackup := boolArg(args, "create_backup", true)
	format := boolArg(args, "format", false)
	language, _ := args["language"].(string)
	return tools.EditFile(ctx, s.fileEditor, tools.EditFileArgs{
		Path: path, Changes: changes,
		Validate: validate, CreateBackup: createBackup, Format: format, Language: language,
	})
}

func handleEditFiles(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.fileEditor == nil {
		return coreUnavailable()
	}
	rawFiles, _ := args["files"].([]any)
	var files []txn.FileEdit
	for _, raw := range rawFiles {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rawChanges, _ := m["changes"].([]any)
		changes, err := tools.DecodeChanges(rawChanges)
		if err != nil {
			return tools.NewError(fmt.Sprintf("Error: %v", err)), nil
		}
		path, _ := m["path"].(string)
		files = append(files, txn.FileEdit{Path: path, Changes: changes})
	}
	return tools.EditFiles(ctx, s.fileEditor, tools.EditFilesArgs{
		Files:        files,
		Validate:     boolArg(args, "validate", true),
		CreateBackup: boolArg(args, "create_backup", true),
		Format:       boolArg(args, "format", false),
	}, s.logger)
}

func handleValidateEdit(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.fileEditor == nil {
		return coreUnavailable()
	}
	changes, err := decodeChangesArg(args)
	if err != nil {
		return tools.NewError(fmt.Sprintf("Error: %v", err)), nil
	}
	path, _ := args["path"].(string)
	return tools.ValidateEdit(ctx, s.fileEditor, path, changes, "")
}

func handleRollbackEdit(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.fileEditor == nil {
		return coreUnavailable()
	}
	path, _ := args["path"].(string)
	backupID, _ := args["backup_id"].(string)
	return tools.RollbackEdit(ctx, s.fileEditor, path, backupID)
}

func handleEditHistory(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.fileEditor == nil {
		return coreUnavailable()
	}
	path, _ := args["path"].(string)
	limit, _ := getIntArg(args, "limit", 20)
	return tools.EditHistory(ctx, s.fileEditor, path, limit)
}

func handleRefactorCode(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.refactorEngine == nil {
		return coreUnavailable()
	}
	operation, _ := args["operation"].(string)
	params, _ := args["params"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	return tools.RefactorCode(ctx, s.refactorEngine, operation, params)
}

func handleUndo(ctx context.Context, s *mcpServer, _ map[string]any) (*tools.ToolResult, error) {
	if s.undoHistory == nil {
		return coreUnavailable()
	}
	return tools.UndoLast(ctx, s.undoHistory)
}

// boolArg reads a boolean argument with a default.
func boolArg(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

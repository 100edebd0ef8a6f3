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

// Package refactor implements graph-guided source transformations: the
// knowledge graph discovers every affected site, the rewrite runs on
// working copies of the touched files, and the result is committed as one
// validated multi-file transaction with an undo entry.
package refactor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kraklabs/ragex/pkg/editor"
	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/graphstore"
	"github.com/kraklabs/ragex/pkg/ingestion"
	"github.com/kraklabs/ragex/pkg/ragexerr"
	"github.com/kraklabs/ragex/pkg/txn"
	"github.com/kraklabs/ragex/pkg/undo"
)

// Graph is the discovery surface operators consult. *graphstore.Store
// satisfies it; tests substitute fakes.
type Graph interface {
	ResolveFunction(ctx context.Context, moduleQName, name string, arity int) ([]*graphstore.Node, error)
	ModulesByName(ctx context.Context, name string) ([]*graphstore.Node, error)
	FunctionsInModule(ctx context.Context, moduleName string) ([]*graphstore.Node, error)
	Incoming(ctx context.Context, nodeID string, edgeType graphmodel.EdgeType) ([]graphstore.Edge, error)
	FindNode(ctx context.Context, nodeType graphmodel.NodeType, id string) (*graphstore.Node, error)
}

// Engine runs refactoring operations.
type Engine struct {
	graph   Graph
	editor  *editor.Editor
	history *undo.History
	root    string
	logger  *slog.Logger
}

// Result pairs the transaction outcome with the undo entry recorded for a
// successful commit.
type Result struct {
	Operation   string      `json:"operation"`
	Txn         *txn.Result `json:"txn"`
	UndoID      string      `json:"undo_id,omitempty"`
	Description string      `json:"description"`
}

// NewEngine creates a refactoring engine rooted at the project directory
// the graph's file paths are relative to.
func NewEngine(graph Graph, ed *editor.Editor, history *undo.History, root string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{graph: graph, editor: ed, history: history, root: root, logger: logger}
}

// Apply dispatches a named operation with loosely-typed parameters (the
// tool-call surface). Unknown operations fail with Invalid.
func (e *Engine) Apply(ctx context.Context, operation string, params map[string]any) (*Result, error) {
	switch operation {
	case "rename_function", "rename-function":
		return e.RenameFunction(ctx, RenameFunctionParams{
			Module:  strParam(params, "module"),
			OldName: strParam(params, "old_name"),
			NewName: strParam(params, "new_name"),
			Arity:   intParam(params, "arity", -1),
			Scope:   strParam(params, "scope"),
		})
	case "rename_module", "rename-module":
		return e.RenameModule(ctx, strParam(params, "old_name"), strParam(params, "new_name"))
	case "rename_parameter", "rename-parameter":
		return e.RenameParameter(ctx, RenameParameterParams{
			Module:   strParam(params, "module"),
			Function: strParam(params, "function"),
			Arity:    intParam(params, "arity", -1),
			OldName:  strParam(params, "old_name"),
			NewName:  strParam(params, "new_name"),
		})
	case "convert_visibility", "convert-visibility":
		return e.ConvertVisibility(ctx, ConvertVisibilityParams{
			Module:     strParam(params, "module"),
			Function:   strParam(params, "function"),
			Arity:      intParam(params, "arity", -1),
			Visibility: strParam(params, "visibility"),
			AddDoc:     boolParam(params, "add_doc"),
		})
	case "extract_function", "extract-function":
		return e.ExtractFunction(ctx, ExtractFunctionParams{
			Module:    strParam(params, "module"),
			Function:  strParam(params, "function"),
			Arity:     intParam(params, "arity", -1),
			NewName:   strParam(params, "new_name"),
			LineStart: intParam(params, "line_start", 0),
			LineEnd:   intParam(params, "line_end", 0),
			Placement: strParam(params, "placement"),
			Private:   strParam(params, "visibility") != "public",
			AddDoc:    boolParam(params, "add_doc"),
		})
	case "inline_function", "inline-function":
		return e.InlineFunction(ctx, InlineFunctionParams{
			Module:   strParam(params, "module"),
			Function: strParam(params, "function"),
			Arity:    intParam(params, "arity", -1),
		})
	case "move_function", "move-function":
		return e.MoveFunction(ctx, MoveFunctionParams{
			SourceModule: strParam(params, "source_module"),
			TargetModule: strParam(params, "target_module"),
			TargetFile:   strParam(params, "target_file"),
			Function:     strParam(params, "function"),
			Arity:        intParam(params, "arity", -1),
		})
	case "change_signature", "change-signature":
		return e.ChangeSignature(ctx, changeSignatureParamsFromMap(params))
	case "extract_module", "extract-module":
		return e.ExtractModule(ctx, ExtractModuleParams{
			SourceModule: strParam(params, "source_module"),
			NewModule:    strParam(params, "new_module"),
			NewFile:      strParam(params, "new_file"),
			Functions:    strSliceParam(params, "functions"),
			AddAlias:     boolParam(params, "add_alias"),
		})
	case "modify_attributes", "modify-attributes":
		return e.ModifyAttributes(ctx, modifyAttributesParamsFromMap(params))
	default:
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.Apply", fmt.Sprintf("unknown operation %q", operation))
	}
}

// commit runs the accumulated file rewrites as one transaction and, on
// success, records the undo entry (snapshots were taken before apply).
func (e *Engine) commit(ctx context.Context, operation, description string, params map[string]any, files []*sourceFile) (*Result, error) {
	var touched []*sourceFile
	for _, sf := range files {
		if sf.modified() || len(sf.original) == 0 {
			touched = append(touched, sf)
		}
	}
	if len(touched) == 0 {
		return nil, ragexerr.New(ragexerr.NotFound, "refactor."+operation, "no affected sites found")
	}

	// Snapshot before any write so undo restores pre-operation bytes.
	paths := make([]string, 0, len(touched))
	for _, sf := range touched {
		paths = append(paths, sf.absPath)
	}
	sort.Strings(paths)

	undoID := ""
	if e.history != nil {
		id, err := e.history.Push(operation, params, paths, "pending", description)
		if err != nil {
			return nil, err
		}
		undoID = id
	}

	transaction := txn.New(e.editor, txn.Options{Validate: true, CreateBackup: true, Format: true}, e.logger)
	for _, sf := range touched {
		if len(sf.original) == 0 {
			if err := e.createFile(sf); err != nil {
				return nil, err
			}
			continue
		}
		if err := transaction.AddEdit(txn.FileEdit{Path: sf.absPath, Changes: sf.changes(), Language: sf.language}); err != nil {
			return nil, err
		}
	}

	var txnResult *txn.Result
	if len(transaction.Files()) > 0 {
		var err error
		txnResult, err = transaction.Commit(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		txnResult = &txn.Result{Status: "success"}
	}

	e.logger.Info("refactor.commit",
		"operation", operation,
		"status", txnResult.Status,
		"files", len(touched),
		"undo_id", undoID,
	)
	return &Result{Operation: operation, Txn: txnResult, UndoID: undoID, Description: description}, nil
}

// createFile writes a brand-new file produced by an operator (move/extract
// targets). New files bypass the editor (there is nothing to range-edit)
// but still participate in undo via the recorded affected paths.
func (e *Engine) createFile(sf *sourceFile) error {
	content := strings.Join(sf.lines, "\n") + "\n"
	return writeNewFile(sf.absPath, []byte(content))
}

// resolveSingleFunction finds one matching function or fails with NotFound,
// or with Invalid when a specific arity matches more than once. With arity
// -1 the first of several matches is returned.
func (e *Engine) resolveSingleFunction(ctx context.Context, module, name string, arity int) (*graphstore.Node, error) {
	nodes, err := e.graph.ResolveFunction(ctx, module, name, arity)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ragexerr.New(ragexerr.NotFound, "refactor.resolve",
			fmt.Sprintf("function %s.%s/%s not found", module, name, arityLabel(arity)))
	}
	if len(nodes) > 1 && arity >= 0 {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.resolve",
			fmt.Sprintf("function %s.%s/%d is ambiguous (%d matches)", module, name, arity, len(nodes)))
	}
	return nodes[0], nil
}

// callerFiles collects the distinct files containing callers of any of the
// target function nodes, excluding the definition file.
func (e *Engine) callerFiles(ctx context.Context, targets []*graphstore.Node) ([]string, error) {
	defFiles := make(map[string]bool)
	for _, t := range targets {
		defFiles[t.File] = true
	}
	seen := make(map[string]bool)
	var files []string
	for _, t := range targets {
		edges, err := e.graph.Incoming(ctx, t.ID, graphmodel.EdgeCalls)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			caller, err := e.graph.FindNode(ctx, graphmodel.NodeFunction, edge.From)
			if err != nil {
				return nil, err
			}
			if caller == nil || caller.File == "" || defFiles[caller.File] || seen[caller.File] {
				continue
			}
			seen[caller.File] = true
			files = append(files, caller.File)
		}
	}
	sort.Strings(files)
	return files, nil
}

// spanEnd returns the function's end line, preferring the graph's record
// and falling back to block matching.
func spanEnd(sf *sourceFile, node *graphstore.Node) int {
	if node.EndLine >= node.Line && node.EndLine <= sf.lineCount() && node.EndLine > 0 {
		return node.EndLine
	}
	return functionSpan(sf, node.Line)
}

func arityLabel(arity int) string {
	if arity < 0 {
		return "*"
	}
	return fmt.Sprint(arity)
}

func languageOf(path string) string {
	if lang := ingestion.DetectLanguage(path); lang != "" {
		return lang
	}
	return "elixir"
}

func strParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func boolParam(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func strSliceParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

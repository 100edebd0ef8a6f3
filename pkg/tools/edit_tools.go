// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kraklabs/ragex/pkg/editor"
	"github.com/kraklabs/ragex/pkg/ragexerr"
	"github.com/kraklabs/ragex/pkg/refactor"
	"github.com/kraklabs/ragex/pkg/txn"
	"github.com/kraklabs/ragex/pkg/undo"
)

// DecodeChanges converts the wire representation of a change list into
// editor changes.
func DecodeChanges(raw []any) ([]editor.Change, error) {
	var changes []editor.Change
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("change %d: expected object", i)
		}
		change := editor.Change{
			Type:    editor.ChangeType(stringField(m, "type")),
			Content: stringField(m, "content"),
		}
		change.LineStart = intField(m, "line_start")
		change.LineEnd = intField(m, "line_end")
		if change.LineEnd == 0 {
			change.LineEnd = change.LineStart
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// EditFileArgs are the arguments for the single-file edit tool.
type EditFileArgs struct {
	Path         string
	Changes      []editor.Change
	Validate     bool
	CreateBackup bool
	Format       bool
	Language     string
}

// EditFile applies a change list to one file.
func EditFile(ctx context.Context, ed *editor.Editor, args EditFileArgs) (*ToolResult, error) {
	if args.Path == "" || len(args.Changes) == 0 {
		return NewError("Error: 'path' and 'changes' are required"), nil
	}

	result, err := ed.EditFile(ctx, args.Path, args.Changes, editor.Options{
		Validate:     args.Validate,
		CreateBackup: args.CreateBackup,
		Format:       args.Format,
		Language:     args.Language,
	})
	if err != nil {
		return editErrorResult(err), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("✅ **Edited %s**\n\n", result.Path))
	sb.WriteString(fmt.Sprintf("- changes applied: %d\n- lines changed: %d\n", result.ChangesApplied, result.LinesChanged))
	if result.BackupID != "" {
		sb.WriteString(fmt.Sprintf("- backup: %s\n", result.BackupID))
	}
	sb.WriteString(fmt.Sprintf("- validated: %v\n", result.ValidationPerformed))
	return NewResult(sb.String()), nil
}

// ValidateEdit dry-runs a change list: range checks plus content
// validation, no writes.
func ValidateEdit(ctx context.Context, ed *editor.Editor, path string, changes []editor.Change, language string) (*ToolResult, error) {
	if path == "" || len(changes) == 0 {
		return NewError("Error: 'path' and 'changes' are required"), nil
	}
	issues, err := ed.ValidateChanges(ctx, path, changes, language)
	if err != nil {
		return editErrorResult(err), nil
	}
	if len(issues) == 0 {
		return NewResult("✅ status: valid"), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("❌ status: invalid (%d issue(s))\n\n", len(issues)))
	for _, issue := range issues {
		sb.WriteString(fmt.Sprintf("- %d:%d [%s] %s\n", issue.Line, issue.Column, issue.Severity, issue.Message))
	}
	return &ToolResult{Text: sb.String(), IsError: true}, nil
}

// RollbackEdit restores a file from a backup (the most recent when id is
// empty).
func RollbackEdit(ctx context.Context, ed *editor.Editor, path, backupID string) (*ToolResult, error) {
	if path == "" {
		return NewError("Error: 'path' is required"), nil
	}
	info, err := ed.Rollback(ctx, path, backupID)
	if err != nil {
		return editErrorResult(err), nil
	}
	return NewResult(fmt.Sprintf("↩️ Restored %s from backup %s (%d bytes)", info.Path, info.ID, info.Size)), nil
}

// EditHistory lists a file's backups, most recent first.
func EditHistory(_ context.Context, ed *editor.Editor, path string, limit int) (*ToolResult, error) {
	if path == "" {
		return NewError("Error: 'path' is required"), nil
	}
	infos, err := ed.History(path, limit)
	if err != nil {
		return editErrorResult(err), nil
	}
	if len(infos) == 0 {
		return NewResult(fmt.Sprintf("No backups recorded for %s.", path)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🕘 **Backups for %s** (%d)\n\n", path, len(infos)))
	for _, info := range infos {
		sb.WriteString(fmt.Sprintf("- %s (%d bytes, %s)\n", info.ID, info.Size, info.CreatedAt.Format("2006-01-02 15:04:05")))
	}
	return NewResult(sb.String()), nil
}

// EditFilesArgs are the arguments for the multi-file transaction tool.
type EditFilesArgs struct {
	Files        []txn.FileEdit
	Validate     bool
	CreateBackup bool
	Format       bool
}

// EditFiles runs a multi-file transaction: validate everything, apply in
// order, roll back on failure.
func EditFiles(ctx context.Context, ed *editor.Editor, args EditFilesArgs, logger *slog.Logger) (*ToolResult, error) {
	if len(args.Files) == 0 {
		return NewError("Error: 'files' is required"), nil
	}

	transaction := txn.New(ed, txn.Options{
		Validate:     args.Validate,
		CreateBackup: args.CreateBackup,
		Format:       args.Format,
	}, logger)
	for _, file := range args.Files {
		if err := transaction.AddEdit(file); err != nil {
			return NewError(fmt.Sprintf("Error: %v", err)), nil
		}
	}

	result, err := transaction.Commit(ctx)
	if err != nil {
		return NewError(fmt.Sprintf("Transaction failed: %v", err)), nil
	}
	return NewResult(formatTxnResult(result)), nil
}

func formatTxnResult(result *txn.Result) string {
	var sb strings.Builder
	if result.Status == "success" {
		sb.WriteString(fmt.Sprintf("✅ **Transaction committed** — %d file(s) edited\n\n", result.FilesEdited))
		for _, r := range result.Results {
			sb.WriteString(fmt.Sprintf("- %s (%d lines, backup %s)\n", r.Path, r.LinesChanged, r.BackupID))
		}
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("❌ **Transaction failed** — files_edited: %d, rolled_back: %v\n\n", result.FilesEdited, result.RolledBack))
	for _, fe := range result.Errors {
		sb.WriteString(fmt.Sprintf("- %s", fe.Path))
		if fe.Err != "" {
			sb.WriteString(": " + fe.Err)
		}
		sb.WriteString("\n")
		for _, issue := range fe.Issues {
			sb.WriteString(fmt.Sprintf("  - %d:%d [%s] %s\n", issue.Line, issue.Column, issue.Severity, issue.Message))
		}
	}
	if !result.RolledBack && result.FilesEdited > 0 {
		sb.WriteString("\n⚠️ Rollback incomplete: inspect backups before retrying.\n")
	}
	return sb.String()
}

// RefactorCode dispatches a named refactoring operation and reports the
// transaction plus undo id.
func RefactorCode(ctx context.Context, engine *refactor.Engine, operation string, params map[string]any) (*ToolResult, error) {
	if operation == "" {
		return NewError("Error: 'operation' is required"), nil
	}
	result, err := engine.Apply(ctx, operation, params)
	if err != nil {
		return editErrorResult(err), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔧 **%s** — %s\n\n", result.Operation, result.Description))
	sb.WriteString(formatTxnResult(result.Txn))
	if result.UndoID != "" {
		sb.WriteString(fmt.Sprintf("\nUndo id: %s (ragex_undo reverses this operation)\n", result.UndoID))
	}
	return NewResult(sb.String()), nil
}

// UndoLast reverses the most recent refactoring operation.
func UndoLast(_ context.Context, history *undo.History) (*ToolResult, error) {
	entry, err := history.Undo()
	if err != nil {
		return editErrorResult(err), nil
	}
	return NewResult(fmt.Sprintf("↩️ Undid %s (%s) — %d file(s) restored", entry.Operation, entry.ID, len(entry.AffectedFiles))), nil
}

// editErrorResult renders a core error with its kind tag so the calling
// agent can react to not_found vs conflict vs validation_failed.
func editErrorResult(err error) *ToolResult {
	var re *ragexerr.Error
	if errors.As(err, &re) {
		msg := fmt.Sprintf("Error [%s]: %s", re.Kind, re.Message)
		if re.Path != "" {
			msg += fmt.Sprintf(" (path: %s)", re.Path)
		}
		if re.BackupID != "" {
			msg += fmt.Sprintf(" (backup: %s)", re.BackupID)
		}
		var ve *editor.ValidationError
		if errors.As(err, &ve) {
			for _, issue := range ve.Issues {
				msg += fmt.Sprintf("\n- %d:%d [%s] %s", issue.Line, issue.Column, issue.Severity, issue.Message)
			}
		}
		return NewError(msg)
	}
	return NewError(fmt.Sprintf("Error: %v", err))
}

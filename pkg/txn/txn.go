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

// Package txn coordinates multi-file edits with validate-then-apply-then-
// rollback semantics. This is write-serial with best-effort rollback, not a
// true cross-file transaction: a failed restore is surfaced, never hidden.
package txn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kraklabs/ragex/pkg/editor"
	"github.com/kraklabs/ragex/pkg/ragexerr"
)

// State is the transaction lifecycle.
type State string

const (
	StateEmpty      State = "empty"
	StateBuilt      State = "built"
	StateApplying   State = "applying"
	StateApplied    State = "applied"
	StateRolledBack State = "rolled_back"
	StateFailed     State = "failed"
)

// Options apply to every file unless overridden per file.
type Options struct {
	Validate     bool
	CreateBackup bool
	Format       bool
}

// DefaultOptions mirror the editor's defaults.
func DefaultOptions() Options {
	return Options{Validate: true, CreateBackup: true}
}

// FileEdit is one file's change set within the transaction.
type FileEdit struct {
	Path    string
	Changes []editor.Change

	// Opts overrides the transaction options for this file when non-nil.
	Opts *Options

	// Language overrides extension-based detection for validation.
	Language string
}

// FileError pairs a path with its validation issues.
type FileError struct {
	Path   string         `json:"path"`
	Issues []editor.Issue `json:"issues,omitempty"`
	Err    string         `json:"error,omitempty"`
}

// Result reports a commit.
type Result struct {
	Status      string           `json:"status"` // "success" or "failure"
	FilesEdited int              `json:"files_edited"`
	RolledBack  bool             `json:"rolled_back"`
	Results     []*editor.Result `json:"results,omitempty"`
	Errors      []FileError      `json:"errors,omitempty"`
}

// Transaction is a single-use multi-file edit unit.
type Transaction struct {
	editor *editor.Editor
	logger *slog.Logger
	opts   Options
	edits  []FileEdit
	state  State
}

// New creates an empty transaction with the given defaults.
func New(ed *editor.Editor, opts Options, logger *slog.Logger) *Transaction {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transaction{editor: ed, logger: logger, opts: opts, state: StateEmpty}
}

// State returns the current lifecycle state.
func (t *Transaction) State() State { return t.state }

// Files returns the paths added so far, in add order.
func (t *Transaction) Files() []string {
	paths := make([]string, len(t.edits))
	for i, e := range t.edits {
		paths[i] = e.Path
	}
	return paths
}

// Add appends a file's changes. Per-file options override the transaction
// defaults.
func (t *Transaction) Add(path string, changes []editor.Change, perFile *Options) error {
	if t.state != StateEmpty && t.state != StateBuilt {
		return ragexerr.New(ragexerr.Invalid, "txn.Add", fmt.Sprintf("cannot add in state %q", t.state))
	}
	if path == "" || len(changes) == 0 {
		return ragexerr.New(ragexerr.Invalid, "txn.Add", "path and changes are required")
	}
	t.edits = append(t.edits, FileEdit{Path: path, Changes: changes, Opts: perFile})
	t.state = StateBuilt
	return nil
}

// AddEdit appends a fully-specified file edit.
func (t *Transaction) AddEdit(edit FileEdit) error {
	if t.state != StateEmpty && t.state != StateBuilt {
		return ragexerr.New(ragexerr.Invalid, "txn.Add", fmt.Sprintf("cannot add in state %q", t.state))
	}
	if edit.Path == "" || len(edit.Changes) == 0 {
		return ragexerr.New(ragexerr.Invalid, "txn.Add", "path and changes are required")
	}
	t.edits = append(t.edits, edit)
	t.state = StateBuilt
	return nil
}

// Validate dry-runs every file's changes without writing. Returns the
// per-file failures, or nil when everything passes.
func (t *Transaction) Validate(ctx context.Context) []FileError {
	var failures []FileError
	for _, edit := range t.edits {
		issues, err := t.editor.ValidateChanges(ctx, edit.Path, edit.Changes, edit.Language)
		if err != nil {
			failures = append(failures, FileError{Path: edit.Path, Err: err.Error()})
			continue
		}
		if len(issues) > 0 {
			failures = append(failures, FileError{Path: edit.Path, Issues: issues})
		}
	}
	return failures
}

// Commit validates (unless disabled), then applies the edits in add order.
// On the first apply failure the already-edited files are restored in
// reverse order from their backups; RolledBack reports whether every
// restore succeeded. RolledBack=false on a failure result means the tree
// may be inconsistent and the backups should be inspected.
func (t *Transaction) Commit(ctx context.Context) (*Result, error) {
	if t.state != StateBuilt {
		return nil, ragexerr.New(ragexerr.Invalid, "txn.Commit", fmt.Sprintf("cannot commit in state %q", t.state))
	}

	if t.opts.Validate {
		if failures := t.Validate(ctx); len(failures) > 0 {
			t.state = StateFailed
			return &Result{Status: "failure", FilesEdited: 0, RolledBack: false, Errors: failures}, nil
		}
	}

	t.state = StateApplying
	var applied []*editor.Result

	for _, edit := range t.edits {
		opts := t.editorOptions(edit)
		res, err := t.editor.EditFile(ctx, edit.Path, edit.Changes, opts)
		if err != nil {
			t.logger.Warn("txn.apply.failed", "path", edit.Path, "err", err)
			rolledBack := t.rollback(ctx, applied)
			t.state = StateRolledBack
			if !rolledBack {
				t.state = StateFailed
			}
			return &Result{
				Status:      "failure",
				FilesEdited: len(applied),
				RolledBack:  rolledBack,
				Results:     applied,
				Errors:      []FileError{{Path: edit.Path, Err: err.Error()}},
			}, nil
		}
		applied = append(applied, res)
	}

	t.state = StateApplied
	return &Result{Status: "success", FilesEdited: len(applied), Results: applied}, nil
}

// rollback restores edited files in reverse order. Returns true when every
// restore succeeded.
func (t *Transaction) rollback(ctx context.Context, applied []*editor.Result) bool {
	ok := true
	for i := len(applied) - 1; i >= 0; i-- {
		res := applied[i]
		if res.BackupID == "" {
			t.logger.Error("txn.rollback.no_backup", "path", res.Path)
			ok = false
			continue
		}
		if _, err := t.editor.Rollback(ctx, res.Path, res.BackupID); err != nil {
			t.logger.Error("txn.rollback.failed", "path", res.Path, "backup_id", res.BackupID, "err", err)
			ok = false
		}
	}
	return ok
}

// editorOptions merges transaction defaults with the per-file override.
// Backups are forced on whenever validation will be followed by an apply,
// because rollback depends on them.
func (t *Transaction) editorOptions(edit FileEdit) editor.Options {
	base := t.opts
	if edit.Opts != nil {
		base = *edit.Opts
	}
	return editor.Options{
		// Per-file content was validated in the pre-commit pass; skip the
		// second validation during apply. Backups are always taken:
		// rollback depends on them.
		Validate:     false,
		CreateBackup: true,
		Format:       base.Format,
		Language:     edit.Language,
	}
}

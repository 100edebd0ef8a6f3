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

// Package editor applies line-range changes to single files with backup,
// validation, atomic replacement, and rollback. It is the bottom layer of
// every mutation the refactoring engine makes; the transaction engine
// composes it across files.
package editor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kraklabs/ragex/pkg/ingestion"
	"github.com/kraklabs/ragex/pkg/ragexerr"
)

// ChangeType tags the three change variants.
type ChangeType string

const (
	ChangeReplace ChangeType = "replace"
	ChangeInsert  ChangeType = "insert"
	ChangeDelete  ChangeType = "delete"
)

// Change is one line-range edit. Line numbers are 1-based and inclusive.
//   - replace: lines [LineStart, LineEnd] become Content (any line count)
//   - insert: Content is inserted before LineStart; LineStart may be
//     line_count+1 to append
//   - delete: lines [LineStart, LineEnd] are removed
type Change struct {
	Type      ChangeType `json:"type"`
	LineStart int        `json:"line_start"`
	LineEnd   int        `json:"line_end,omitempty"`
	Content   string     `json:"content,omitempty"`
}

// Options control a single edit.
type Options struct {
	// Validate runs the external validator on the result before writing.
	Validate bool

	// CreateBackup snapshots the original content first.
	CreateBackup bool

	// Format runs the external formatter after a successful write.
	Format bool

	// Language overrides extension-based detection.
	Language string

	// ExpectedMtime, when non-zero, aborts with a conflict if the file
	// was modified since the caller read it (unix seconds).
	ExpectedMtime int64
}

// DefaultOptions mirror the documented defaults.
func DefaultOptions() Options {
	return Options{Validate: true, CreateBackup: true}
}

// Issue is one validator finding.
type Issue struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// ValidationError carries the validator's findings.
type ValidationError struct {
	Path   string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s with %d issue(s)", e.Path, len(e.Issues))
}

// Validator checks candidate content for a language. A nil issue list
// means valid.
type Validator interface {
	Validate(ctx context.Context, content []byte, language string) ([]Issue, error)
}

// Formatter normalizes a file in place after an edit. Format failures are
// logged, never fatal.
type Formatter interface {
	Format(ctx context.Context, path, language string) error
}

// Result reports a completed edit.
type Result struct {
	Path                string `json:"path"`
	ChangesApplied      int    `json:"changes_applied"`
	LinesChanged        int    `json:"lines_changed"`
	BackupID            string `json:"backup_id,omitempty"`
	ValidationPerformed bool   `json:"validation_performed"`
}

// Editor is the single-file edit engine.
type Editor struct {
	backups   *BackupStore
	validator Validator
	formatter Formatter
	logger    *slog.Logger
}

// NewEditor creates an editor. validator and formatter may be nil; the
// corresponding steps are then skipped (and noted in the result).
func NewEditor(backups *BackupStore, validator Validator, formatter Formatter, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{backups: backups, validator: validator, formatter: formatter, logger: logger}
}

// Backups exposes the underlying backup store.
func (e *Editor) Backups() *BackupStore { return e.backups }

// EditFile applies changes to one file: canonicalize, check for concurrent
// modification, validate ranges, apply in descending line order, validate
// content, back up, write atomically, format.
func (e *Editor) EditFile(ctx context.Context, path string, changes []Change, opts Options) (*Result, error) {
	const op = "editor.EditFile"

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, op, "canonicalize path", err).WithPath(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	content, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return nil, ragexerr.New(ragexerr.NotFound, op, "file absent").WithPath(abs)
	}
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, op, "read file", err).WithPath(abs)
	}
	stat, err := os.Stat(abs)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, op, "stat file", err).WithPath(abs)
	}
	if opts.ExpectedMtime != 0 && stat.ModTime().Unix() != opts.ExpectedMtime {
		return nil, ragexerr.New(ragexerr.Conflict, op,
			fmt.Sprintf("file modified since read (mtime %d, expected %d)", stat.ModTime().Unix(), opts.ExpectedMtime)).WithPath(abs)
	}

	newContent, linesChanged, err := ApplyChanges(content, changes)
	if err != nil {
		if re, ok := err.(*ragexerr.Error); ok {
			return nil, re.WithPath(abs)
		}
		return nil, err
	}

	language := opts.Language
	if language == "" {
		language = ingestion.DetectLanguage(abs)
	}

	validated := false
	if opts.Validate && e.validator != nil {
		issues, err := e.validator.Validate(ctx, newContent, language)
		if err != nil {
			return nil, ragexerr.Wrap(ragexerr.Upstream, op, "validator failed", err).WithPath(abs)
		}
		if len(issues) > 0 {
			return nil, ragexerr.Wrap(ragexerr.ValidationFailed, op, "validator rejected content",
				&ValidationError{Path: abs, Issues: issues}).WithPath(abs)
		}
		validated = true
	}

	backupID := ""
	if opts.CreateBackup && e.backups != nil {
		info, err := e.backups.Save(abs, content)
		if err != nil {
			return nil, err
		}
		backupID = info.ID
	}

	if err := atomicWriteFile(abs, newContent, stat.Mode()); err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, op, "write file", err).WithPath(abs).WithBackup(backupID)
	}

	if opts.Format && e.formatter != nil {
		if err := e.formatter.Format(ctx, abs, language); err != nil {
			// The written content stands; formatting is best-effort.
			e.logger.Warn("editor.format.failed", "path", abs, "err", err)
		}
	}

	return &Result{
		Path:                abs,
		ChangesApplied:      len(changes),
		LinesChanged:        linesChanged,
		BackupID:            backupID,
		ValidationPerformed: validated,
	}, nil
}

// ValidateChanges dry-runs a change list against the file's current
// content: range checks plus (when a validator is wired) content
// validation, with no writes.
func (e *Editor) ValidateChanges(ctx context.Context, path string, changes []Change, language string) ([]Issue, error) {
	const op = "editor.ValidateChanges"

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, op, "canonicalize path", err).WithPath(path)
	}
	content, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return nil, ragexerr.New(ragexerr.NotFound, op, "file absent").WithPath(abs)
	}
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, op, "read file", err).WithPath(abs)
	}

	newContent, _, err := ApplyChanges(content, changes)
	if err != nil {
		return nil, err
	}
	if e.validator == nil {
		return nil, nil
	}
	if language == "" {
		language = ingestion.DetectLanguage(abs)
	}
	issues, err := e.validator.Validate(ctx, newContent, language)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Upstream, op, "validator failed", err).WithPath(abs)
	}
	return issues, nil
}

// Rollback restores a file from the given (or most recent) backup using
// the same atomic write.
func (e *Editor) Rollback(ctx context.Context, path, backupID string) (*BackupInfo, error) {
	const op = "editor.Rollback"

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, op, "canonicalize path", err).WithPath(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	content, info, err := e.backups.Load(abs, backupID)
	if err != nil {
		return nil, err
	}

	mode := os.FileMode(0644)
	if stat, err := os.Stat(abs); err == nil {
		mode = stat.Mode()
	}
	if err := atomicWriteFile(abs, content, mode); err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, op, "restore file", err).WithPath(abs).WithBackup(info.ID)
	}
	e.logger.Info("editor.rollback", "path", abs, "backup_id", info.ID)
	return info, nil
}

// History lists a file's backups, most recent first.
func (e *Editor) History(path string, limit int) ([]*BackupInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "editor.History", "canonicalize path", err).WithPath(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return e.backups.List(abs, limit)
}

// ApplyChanges validates a change list against content and applies it.
// Changes are applied in descending LineStart order so earlier edits don't
// shift the line numbers of later ones. Returns the new content and the
// number of source lines touched.
func ApplyChanges(content []byte, changes []Change) ([]byte, int, error) {
	const op = "editor.ApplyChanges"
	if len(changes) == 0 {
		return nil, 0, ragexerr.New(ragexerr.Invalid, op, "empty change list")
	}

	// Preserve the presence/absence of a trailing newline.
	text := string(content)
	hadTrailingNewline := strings.HasSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	if hadTrailingNewline {
		lines = lines[:len(lines)-1]
	}
	lineCount := len(lines)

	if err := validateRanges(changes, lineCount); err != nil {
		return nil, 0, err
	}

	ordered := make([]Change, len(changes))
	copy(ordered, changes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LineStart > ordered[j].LineStart
	})

	linesChanged := 0
	for _, change := range ordered {
		switch change.Type {
		case ChangeReplace:
			replacement := splitContent(change.Content)
			linesChanged += change.LineEnd - change.LineStart + 1
			lines = splice(lines, change.LineStart-1, change.LineEnd, replacement)
		case ChangeInsert:
			insertion := splitContent(change.Content)
			linesChanged += len(insertion)
			lines = splice(lines, change.LineStart-1, change.LineStart-1, insertion)
		case ChangeDelete:
			linesChanged += change.LineEnd - change.LineStart + 1
			lines = splice(lines, change.LineStart-1, change.LineEnd, nil)
		}
	}

	out := strings.Join(lines, "\n")
	if hadTrailingNewline && out != "" {
		out += "\n"
	}
	return []byte(out), linesChanged, nil
}

// validateRanges enforces the pre-apply contract: known types, ranges in
// [1, line_count+1], start <= end, and no overlaps when sorted by start.
func validateRanges(changes []Change, lineCount int) error {
	const op = "editor.ApplyChanges"

	type span struct{ start, end int }
	spans := make([]span, 0, len(changes))

	for i, change := range changes {
		switch change.Type {
		case ChangeReplace, ChangeDelete:
			if change.LineStart < 1 || change.LineEnd > lineCount {
				return ragexerr.New(ragexerr.Invalid, op,
					fmt.Sprintf("change %d: range %d-%d outside file (1-%d)", i, change.LineStart, change.LineEnd, lineCount))
			}
			if change.LineStart > change.LineEnd {
				return ragexerr.New(ragexerr.Invalid, op,
					fmt.Sprintf("change %d: line_start %d > line_end %d", i, change.LineStart, change.LineEnd))
			}
			spans = append(spans, span{change.LineStart, change.LineEnd})
		case ChangeInsert:
			if change.LineStart < 1 || change.LineStart > lineCount+1 {
				return ragexerr.New(ragexerr.Invalid, op,
					fmt.Sprintf("change %d: insert at %d outside file (1-%d)", i, change.LineStart, lineCount+1))
			}
			// Inserts occupy no source lines; they only need a distinct
			// anchor relative to replaced/deleted spans.
			spans = append(spans, span{change.LineStart, change.LineStart - 1})
		default:
			return ragexerr.New(ragexerr.Invalid, op, fmt.Sprintf("change %d: unknown type %q", i, change.Type))
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start <= spans[i-1].end {
			return ragexerr.New(ragexerr.Invalid, op,
				fmt.Sprintf("overlapping changes at lines %d and %d", spans[i-1].start, spans[i].start))
		}
	}
	return nil
}

// splitContent turns change content into lines. Empty content yields a
// single empty line, for inserts and replaces alike.
func splitContent(content string) []string {
	if content == "" {
		return []string{""}
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

// splice replaces lines[start:end] (0-based, end exclusive) with
// replacement.
func splice(lines []string, start, end int, replacement []string) []string {
	out := make([]string, 0, len(lines)-(end-start)+len(replacement))
	out = append(out, lines[:start]...)
	out = append(out, replacement...)
	out = append(out, lines[end:]...)
	return out
}

// atomicWriteFile writes via a temp file in the same directory, fsync,
// rename.
func atomicWriteFile(path string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	tmpPath := filepath.Join(dir, fmt.Sprintf("%s.ragex_tmp.%s", filepath.Base(path), hex.EncodeToString(suffix)))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

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

// Package undo records completed refactoring operations with before-state
// snapshots of every touched file, so a whole multi-file operation can be
// reversed in one step. Entries are plain files under the user's home
// directory and survive process restarts. Redo is deliberately absent.
package undo

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kraklabs/ragex/pkg/persistence"
	"github.com/kraklabs/ragex/pkg/ragexerr"
)

// Entry is one recorded operation.
type Entry struct {
	ID            string            `json:"id"`
	Operation     string            `json:"operation"`
	Params        map[string]any    `json:"params,omitempty"`
	AffectedFiles []string          `json:"affected_files"`
	// BeforeSnapshots maps path to the file bytes captured before the
	// operation ran.
	BeforeSnapshots map[string][]byte `json:"before_snapshots"`
	AfterStatus     string            `json:"after_status"`
	Timestamp       time.Time         `json:"timestamp"`
	Undone          bool              `json:"undone"`
	Description     string            `json:"description,omitempty"`
}

// History is the per-project undo store.
type History struct {
	dir    string
	logger *slog.Logger

	// maxSnapshotBytes caps the inline snapshot size per entry; larger
	// entries are rejected rather than silently truncated.
	maxSnapshotBytes int64
}

// DefaultMaxSnapshotBytes bounds one entry's inline snapshots (16 MiB).
const DefaultMaxSnapshotBytes = 16 << 20

// NewHistory opens (creating if needed) the undo directory for a project:
// <home>/.ragex/undo/<project_hash>/.
func NewHistory(projectPath string, logger *slog.Logger) (*History, error) {
	if logger == nil {
		logger = slog.Default()
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "undo.NewHistory", "resolve home dir", err)
	}
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "undo.NewHistory", "resolve project path", err).WithPath(projectPath)
	}
	dir := filepath.Join(home, ".ragex", "undo", persistence.ProjectHash(abs))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "undo.NewHistory", "create undo dir", err).WithPath(dir)
	}
	return &History{dir: dir, logger: logger, maxSnapshotBytes: DefaultMaxSnapshotBytes}, nil
}

// SetMaxSnapshotBytes overrides the per-entry snapshot cap.
func (h *History) SetMaxSnapshotBytes(n int64) { h.maxSnapshotBytes = n }

// Dir returns the history directory.
func (h *History) Dir() string { return h.dir }

// Push snapshots the affected files' CURRENT contents and records the
// entry. Call it before applying the operation, so the snapshots hold the
// pre-operation state. Missing files snapshot as absent and are deleted on
// undo.
func (h *History) Push(operation string, params map[string]any, affectedFiles []string, status, description string) (string, error) {
	const op = "undo.Push"

	entry := &Entry{
		ID:              newEntryID(),
		Operation:       operation,
		Params:          params,
		AffectedFiles:   affectedFiles,
		BeforeSnapshots: make(map[string][]byte, len(affectedFiles)),
		AfterStatus:     status,
		Timestamp:       time.Now(),
		Description:     description,
	}

	var total int64
	for _, path := range affectedFiles {
		content, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			// The operation creates this file; undo removes it.
			continue
		}
		if err != nil {
			return "", ragexerr.Wrap(ragexerr.Io, op, "snapshot file", err).WithPath(path)
		}
		total += int64(len(content))
		if h.maxSnapshotBytes > 0 && total > h.maxSnapshotBytes {
			return "", ragexerr.New(ragexerr.Invalid, op,
				fmt.Sprintf("snapshots exceed %d bytes; raise the cap to undo operations this large", h.maxSnapshotBytes))
		}
		entry.BeforeSnapshots[path] = content
	}

	if err := h.writeEntry(entry); err != nil {
		return "", err
	}
	h.logger.Info("undo.push", "id", entry.ID, "operation", operation, "files", len(affectedFiles))
	return entry.ID, nil
}

// Undo reverses the newest not-yet-undone entry: every snapshotted file is
// restored by atomic write, files the operation created are removed, and
// the entry is marked undone. Undoing is not itself recorded.
func (h *History) Undo() (*Entry, error) {
	const op = "undo.Undo"

	entries, err := h.List(0, false)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ragexerr.New(ragexerr.NotFound, op, "nothing to undo")
	}
	entry := entries[0]

	for _, path := range entry.AffectedFiles {
		content, hadSnapshot := entry.BeforeSnapshots[path]
		if !hadSnapshot {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, ragexerr.Wrap(ragexerr.Io, op, "remove created file", err).WithPath(path)
			}
			continue
		}
		if err := atomicRestore(path, content); err != nil {
			return nil, ragexerr.Wrap(ragexerr.Io, op, "restore file", err).WithPath(path)
		}
	}

	entry.Undone = true
	if err := h.writeEntry(entry); err != nil {
		return nil, err
	}
	h.logger.Info("undo.undone", "id", entry.ID, "operation", entry.Operation)
	return entry, nil
}

// List returns entries most-recent-first. limit <= 0 returns all;
// includeUndone keeps already-undone entries in the listing.
func (h *History) List(limit int, includeUndone bool) ([]*Entry, error) {
	files, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "undo.List", "read undo dir", err).WithPath(h.dir)
	}

	var entries []*Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		entry, err := h.readEntry(filepath.Join(h.dir, f.Name()))
		if err != nil {
			h.logger.Warn("undo.list.corrupt_entry", "file", f.Name(), "err", err)
			continue
		}
		if entry.Undone && !includeUndone {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Clear deletes history entries, keeping the keepLast most recent.
func (h *History) Clear(keepLast int) error {
	entries, err := h.List(0, true)
	if err != nil {
		return err
	}
	for i, entry := range entries {
		if i < keepLast {
			continue
		}
		if err := os.Remove(h.entryPath(entry.ID)); err != nil && !os.IsNotExist(err) {
			return ragexerr.Wrap(ragexerr.Io, "undo.Clear", "remove entry", err).WithPath(h.entryPath(entry.ID))
		}
	}
	return nil
}

func (h *History) entryPath(id string) string {
	return filepath.Join(h.dir, id+".json")
}

func (h *History) writeEntry(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return ragexerr.Wrap(ragexerr.Io, "undo.writeEntry", "marshal entry", err)
	}
	tmp := h.entryPath(entry.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return ragexerr.Wrap(ragexerr.Io, "undo.writeEntry", "write entry", err).WithPath(tmp)
	}
	if err := os.Rename(tmp, h.entryPath(entry.ID)); err != nil {
		return ragexerr.Wrap(ragexerr.Io, "undo.writeEntry", "rename entry", err).WithPath(tmp)
	}
	return nil
}

func (h *History) readEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// newEntryID is time-ordered so lexicographic descending is newest-first.
func newEntryID() string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102T150405.000000000"), hex.EncodeToString(suffix))
}

func atomicRestore(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".ragex_undo.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

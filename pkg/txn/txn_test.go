// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package txn

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ragex/pkg/editor"
)

// failSecondValidator rejects content containing a marker, simulating an
// external validator that fails one file of a batch.
type failSecondValidator struct{}

func (failSecondValidator) Validate(_ context.Context, content []byte, _ string) ([]editor.Issue, error) {
	if strings.Contains(string(content), "INVALID") {
		return []editor.Issue{{Line: 1, Column: 1, Message: "rejected", Severity: "error"}}, nil
	}
	return nil, nil
}

func newTestEditor(t *testing.T, validator editor.Validator) *editor.Editor {
	t.Helper()
	backups, err := editor.NewBackupStore(filepath.Join(t.TempDir(), "backups"))
	require.NoError(t, err)
	return editor.NewEditor(backups, validator, nil, nil)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCommit_Success(t *testing.T) {
	dir := t.TempDir()
	file1 := writeFile(t, dir, "a.txt", "a1\na2\n")
	file2 := writeFile(t, dir, "b.txt", "b1\nb2\n")

	tx := New(newTestEditor(t, failSecondValidator{}), DefaultOptions(), nil)
	require.NoError(t, tx.Add(file1, []editor.Change{{Type: editor.ChangeReplace, LineStart: 1, LineEnd: 1, Content: "A1"}}, nil))
	require.NoError(t, tx.Add(file2, []editor.Change{{Type: editor.ChangeReplace, LineStart: 2, LineEnd: 2, Content: "B2"}}, nil))

	result, err := tx.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 2, result.FilesEdited)
	assert.Equal(t, StateApplied, tx.State())

	c1, _ := os.ReadFile(file1)
	c2, _ := os.ReadFile(file2)
	assert.Equal(t, "A1\na2\n", string(c1))
	assert.Equal(t, "b1\nB2\n", string(c2))
}

func TestCommit_ValidationFailureStopsBeforeAnyApply(t *testing.T) {
	dir := t.TempDir()
	file1 := writeFile(t, dir, "a.txt", "a1\n")
	file2 := writeFile(t, dir, "b.txt", "b1\n")

	tx := New(newTestEditor(t, failSecondValidator{}), DefaultOptions(), nil)
	require.NoError(t, tx.Add(file1, []editor.Change{{Type: editor.ChangeReplace, LineStart: 1, LineEnd: 1, Content: "ok"}}, nil))
	require.NoError(t, tx.Add(file2, []editor.Change{{Type: editor.ChangeReplace, LineStart: 1, LineEnd: 1, Content: "INVALID"}}, nil))

	result, err := tx.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "failure", result.Status)
	assert.Equal(t, 0, result.FilesEdited)
	assert.False(t, result.RolledBack)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, file2, result.Errors[0].Path)

	// Validation ran before any apply: both files untouched.
	c1, _ := os.ReadFile(file1)
	c2, _ := os.ReadFile(file2)
	assert.Equal(t, "a1\n", string(c1))
	assert.Equal(t, "b1\n", string(c2))
}

func TestCommit_MidApplyFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	file1 := writeFile(t, dir, "a.txt", "a1\n")
	file2 := writeFile(t, dir, "b.txt", "b1\n")

	tx := New(newTestEditor(t, nil), DefaultOptions(), nil)
	require.NoError(t, tx.Add(file1, []editor.Change{{Type: editor.ChangeReplace, LineStart: 1, LineEnd: 1, Content: "A1"}}, nil))
	// File2's change is out of range, failing during apply after file1
	// was already written.
	require.NoError(t, tx.Add(file2, []editor.Change{{Type: editor.ChangeReplace, LineStart: 9, LineEnd: 9, Content: "x"}}, nil))

	// Range validation also runs in the pre-commit pass, so disable it to
	// force the mid-apply path.
	tx.opts.Validate = false

	result, err := tx.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "failure", result.Status)
	assert.Equal(t, 1, result.FilesEdited)
	assert.True(t, result.RolledBack)

	// File1 was edited then restored; file2 never touched.
	c1, _ := os.ReadFile(file1)
	c2, _ := os.ReadFile(file2)
	assert.Equal(t, "a1\n", string(c1))
	assert.Equal(t, "b1\n", string(c2))
	assert.Equal(t, StateRolledBack, tx.State())
}

func TestAdd_AfterCommitRejected(t *testing.T) {
	dir := t.TempDir()
	file1 := writeFile(t, dir, "a.txt", "a1\n")

	tx := New(newTestEditor(t, nil), DefaultOptions(), nil)
	require.NoError(t, tx.Add(file1, []editor.Change{{Type: editor.ChangeReplace, LineStart: 1, LineEnd: 1, Content: "x"}}, nil))
	_, err := tx.Commit(context.Background())
	require.NoError(t, err)

	err = tx.Add(file1, []editor.Change{{Type: editor.ChangeDelete, LineStart: 1, LineEnd: 1}}, nil)
	require.Error(t, err)
}

func TestValidate_ReportsPerFileIssues(t *testing.T) {
	dir := t.TempDir()
	file1 := writeFile(t, dir, "a.txt", "fine\n")

	tx := New(newTestEditor(t, failSecondValidator{}), DefaultOptions(), nil)
	require.NoError(t, tx.Add(file1, []editor.Change{{Type: editor.ChangeReplace, LineStart: 1, LineEnd: 1, Content: "INVALID"}}, nil))

	failures := tx.Validate(context.Background())
	require.Len(t, failures, 1)
	require.Len(t, failures[0].Issues, 1)
	assert.Equal(t, "rejected", failures[0].Issues[0].Message)
}

// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ragex/pkg/ragexerr"
)

func newTestEditor(t *testing.T) *Editor {
	t.Helper()
	backups, err := NewBackupStore(filepath.Join(t.TempDir(), "backups"))
	require.NoError(t, err)
	return NewEditor(backups, nil, nil, nil)
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestApplyChanges_ReplaceSingleLine(t *testing.T) {
	out, changed, err := ApplyChanges([]byte("a\nb\nc\n"), []Change{
		{Type: ChangeReplace, LineStart: 2, LineEnd: 2, Content: "B"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\n", string(out))
	assert.Equal(t, 1, changed)
}

func TestApplyChanges_ReplaceWithMultipleLines(t *testing.T) {
	out, _, err := ApplyChanges([]byte("a\nb\nc\n"), []Change{
		{Type: ChangeReplace, LineStart: 2, LineEnd: 3, Content: "x\ny\nz"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a\nx\ny\nz\n", string(out))
}

func TestApplyChanges_InsertBefore(t *testing.T) {
	out, _, err := ApplyChanges([]byte("a\nb\n"), []Change{
		{Type: ChangeInsert, LineStart: 2, Content: "middle"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a\nmiddle\nb\n", string(out))
}

func TestApplyChanges_InsertAppend(t *testing.T) {
	// line_start == line_count+1 appends.
	out, _, err := ApplyChanges([]byte("a\nb\n"), []Change{
		{Type: ChangeInsert, LineStart: 3, Content: "tail"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a\nb\ntail\n", string(out))
}

func TestApplyChanges_Delete(t *testing.T) {
	out, changed, err := ApplyChanges([]byte("a\nb\nc\nd\n"), []Change{
		{Type: ChangeDelete, LineStart: 2, LineEnd: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "a\nd\n", string(out))
	assert.Equal(t, 2, changed)
}

func TestApplyChanges_DescendingOrderApplication(t *testing.T) {
	// Two changes on the same file: the later-line change must not be
	// invalidated by the earlier one.
	out, _, err := ApplyChanges([]byte("1\n2\n3\n4\n5\n"), []Change{
		{Type: ChangeReplace, LineStart: 1, LineEnd: 1, Content: "one\nextra"},
		{Type: ChangeDelete, LineStart: 4, LineEnd: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, "one\nextra\n2\n3\n5\n", string(out))
}

func TestApplyChanges_RangeErrors(t *testing.T) {
	content := []byte("a\nb\n")
	cases := []struct {
		name    string
		changes []Change
	}{
		{"start beyond file", []Change{{Type: ChangeReplace, LineStart: 5, LineEnd: 5, Content: "x"}}},
		{"start after end", []Change{{Type: ChangeReplace, LineStart: 2, LineEnd: 1, Content: "x"}}},
		{"insert beyond append point", []Change{{Type: ChangeInsert, LineStart: 4, Content: "x"}}},
		{"overlap", []Change{
			{Type: ChangeReplace, LineStart: 1, LineEnd: 2, Content: "x"},
			{Type: ChangeDelete, LineStart: 2, LineEnd: 2},
		}},
		{"unknown type", []Change{{Type: "merge", LineStart: 1, LineEnd: 1}}},
		{"empty list", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ApplyChanges(content, tc.changes)
			require.Error(t, err)
			assert.True(t, ragexerr.Is(err, ragexerr.Invalid))
		})
	}
}

func TestEditFile_RollbackRestoresExactBytes(t *testing.T) {
	ed := newTestEditor(t)
	original := "alpha\nbeta\ngamma\n"
	path := writeTemp(t, original)

	res, err := ed.EditFile(context.Background(), path, []Change{
		{Type: ChangeReplace, LineStart: 2, LineEnd: 2, Content: "BETA"},
	}, DefaultOptions())
	require.NoError(t, err)
	require.NotEmpty(t, res.BackupID)

	edited, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nBETA\ngamma\n", string(edited))

	_, err = ed.Rollback(context.Background(), path, res.BackupID)
	require.NoError(t, err)

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(restored))
}

func TestEditFile_ConcurrentModificationDetected(t *testing.T) {
	ed := newTestEditor(t)
	path := writeTemp(t, "a\n")

	_, err := ed.EditFile(context.Background(), path, []Change{
		{Type: ChangeReplace, LineStart: 1, LineEnd: 1, Content: "b"},
	}, Options{ExpectedMtime: 12345, CreateBackup: true})
	require.Error(t, err)
	assert.True(t, ragexerr.Is(err, ragexerr.Conflict))

	// Aborted before write: content unchanged.
	content, _ := os.ReadFile(path)
	assert.Equal(t, "a\n", string(content))
}

func TestEditFile_MissingFile(t *testing.T) {
	ed := newTestEditor(t)
	_, err := ed.EditFile(context.Background(), filepath.Join(t.TempDir(), "absent.txt"), []Change{
		{Type: ChangeInsert, LineStart: 1, Content: "x"},
	}, DefaultOptions())
	require.Error(t, err)
	assert.True(t, ragexerr.Is(err, ragexerr.NotFound))
}

type rejectingValidator struct{}

func (rejectingValidator) Validate(_ context.Context, _ []byte, _ string) ([]Issue, error) {
	return []Issue{{Line: 1, Column: 1, Message: "syntax error", Severity: "error"}}, nil
}

func TestEditFile_ValidationAbortsBeforeWrite(t *testing.T) {
	backups, err := NewBackupStore(filepath.Join(t.TempDir(), "backups"))
	require.NoError(t, err)
	ed := NewEditor(backups, rejectingValidator{}, nil, nil)

	path := writeTemp(t, "a\n")
	_, err = ed.EditFile(context.Background(), path, []Change{
		{Type: ChangeReplace, LineStart: 1, LineEnd: 1, Content: "broken"},
	}, DefaultOptions())
	require.Error(t, err)
	assert.True(t, ragexerr.Is(err, ragexerr.ValidationFailed))

	content, _ := os.ReadFile(path)
	assert.Equal(t, "a\n", string(content))
}

func TestRollback_NoBackupIsNotFound(t *testing.T) {
	ed := newTestEditor(t)
	path := writeTemp(t, "a\n")
	_, err := ed.Rollback(context.Background(), path, "")
	require.Error(t, err)
	assert.True(t, ragexerr.Is(err, ragexerr.NotFound))
}

func TestHistory_MostRecentFirst(t *testing.T) {
	ed := newTestEditor(t)
	path := writeTemp(t, "v1\n")

	for _, content := range []string{"v2", "v3"} {
		_, err := ed.EditFile(context.Background(), path, []Change{
			{Type: ChangeReplace, LineStart: 1, LineEnd: 1, Content: content},
		}, DefaultOptions())
		require.NoError(t, err)
	}

	infos, err := ed.History(path, 10)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.GreaterOrEqual(t, infos[0].ID, infos[1].ID)
}

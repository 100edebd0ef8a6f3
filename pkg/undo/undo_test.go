// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package undo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistory(t *testing.T) (*History, string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	project := t.TempDir()
	h, err := NewHistory(project, nil)
	require.NoError(t, err)
	return h, project
}

func TestPushAndUndo_RestoresSnapshots(t *testing.T) {
	h, project := newTestHistory(t)

	file := filepath.Join(project, "lib.ex")
	require.NoError(t, os.WriteFile(file, []byte("before\n"), 0644))

	id, err := h.Push("rename_function", map[string]any{"old": "a"}, []string{file}, "pending", "rename a -> b")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// The operation mutates the file after the snapshot was taken.
	require.NoError(t, os.WriteFile(file, []byte("after\n"), 0644))

	entry, err := h.Undo()
	require.NoError(t, err)
	assert.Equal(t, id, entry.ID)
	assert.True(t, entry.Undone)

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "before\n", string(content))
}

func TestUndo_RemovesCreatedFiles(t *testing.T) {
	h, project := newTestHistory(t)

	created := filepath.Join(project, "new_module.ex")
	_, err := h.Push("extract_module", nil, []string{created}, "pending", "")
	require.NoError(t, err)

	// The operation creates the file.
	require.NoError(t, os.WriteFile(created, []byte("defmodule New do\nend\n"), 0644))

	_, err = h.Undo()
	require.NoError(t, err)
	_, statErr := os.Stat(created)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUndo_NothingToUndo(t *testing.T) {
	h, _ := newTestHistory(t)
	_, err := h.Undo()
	require.Error(t, err)
}

func TestList_OrderAndFiltering(t *testing.T) {
	h, project := newTestHistory(t)
	file := filepath.Join(project, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x\n"), 0644))

	id1, err := h.Push("op1", nil, []string{file}, "ok", "")
	require.NoError(t, err)
	id2, err := h.Push("op2", nil, []string{file}, "ok", "")
	require.NoError(t, err)

	entries, err := h.List(0, true)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, id2, entries[0].ID)
	assert.Equal(t, id1, entries[1].ID)

	// Undo pops the newest; by default it disappears from the listing.
	_, err = h.Undo()
	require.NoError(t, err)

	remaining, err := h.List(0, false)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, id1, remaining[0].ID)

	all, err := h.List(0, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestClear_KeepsMostRecent(t *testing.T) {
	h, project := newTestHistory(t)
	file := filepath.Join(project, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x\n"), 0644))

	for i := 0; i < 4; i++ {
		_, err := h.Push("op", nil, []string{file}, "ok", "")
		require.NoError(t, err)
	}

	require.NoError(t, h.Clear(2))
	entries, err := h.List(0, true)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPush_SnapshotCapEnforced(t *testing.T) {
	h, project := newTestHistory(t)
	h.SetMaxSnapshotBytes(4)

	file := filepath.Join(project, "big.txt")
	require.NoError(t, os.WriteFile(file, []byte("way past the cap\n"), 0644))

	_, err := h.Push("op", nil, []string{file}, "pending", "")
	require.Error(t, err)
}

func TestHistory_SurvivesReopen(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	project := t.TempDir()

	h1, err := NewHistory(project, nil)
	require.NoError(t, err)
	file := filepath.Join(project, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("persist\n"), 0644))
	_, err = h1.Push("op", nil, []string{file}, "ok", "")
	require.NoError(t, err)

	h2, err := NewHistory(project, nil)
	require.NoError(t, err)
	entries, err := h2.List(0, true)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

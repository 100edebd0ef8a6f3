// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/ragexerr"
)

// fakePorter stands in for the embedded database: export returns canned
// relation data, import records what came back.
type fakePorter struct {
	data     map[string]any
	imported []string
	exportFn func(string) (string, error)
}

func (f *fakePorter) ExportRelations(payload string) (string, error) {
	if f.exportFn != nil {
		return f.exportFn(payload)
	}
	resp := map[string]any{"ok": true, "data": f.data}
	b, _ := json.Marshal(resp)
	return string(b), nil
}

func (f *fakePorter) ImportRelations(payload string) error {
	f.imported = append(f.imported, payload)
	return nil
}

func newTestManager(t *testing.T, porter RelationPorter) *Manager {
	t.Helper()
	mgr, err := NewManager(porter, t.TempDir(), filepath.Join(t.TempDir(), "cache"), nil)
	require.NoError(t, err)
	return mgr
}

func sampleData() map[string]any {
	return map[string]any{
		"ragex_function": map[string]any{
			"headers": []string{"id", "name"},
			"rows":    [][]any{{"func:1", "hello"}},
		},
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	porter := &fakePorter{data: sampleData()}
	mgr := newTestManager(t, porter)

	graphPath, embPath, err := mgr.Save(graphmodel.CacheMetadata{ModelID: "mock", Dimensions: 768})
	require.NoError(t, err)
	assert.FileExists(t, graphPath)
	assert.FileExists(t, embPath)

	require.NoError(t, mgr.Load(768))
	// Both snapshots imported back.
	require.Len(t, porter.imported, 2)

	var roundTripped map[string]any
	require.NoError(t, json.Unmarshal([]byte(porter.imported[0]), &roundTripped))
	assert.Contains(t, roundTripped, "ragex_function")
}

func TestLoad_ModelIncompatibleKeepsGraph(t *testing.T) {
	porter := &fakePorter{data: sampleData()}
	mgr := newTestManager(t, porter)

	_, _, err := mgr.Save(graphmodel.CacheMetadata{ModelID: "small", Dimensions: 384})
	require.NoError(t, err)

	// Restart with a 768-dim embedder configured.
	err = mgr.Load(768)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelIncompatible)
	assert.True(t, ragexerr.Is(err, ragexerr.Integrity))

	// The dimensionless graph snapshot still imported.
	require.Len(t, porter.imported, 1)
}

func TestLoad_MissingSnapshotIsNotFound(t *testing.T) {
	mgr := newTestManager(t, &fakePorter{data: sampleData()})
	err := mgr.Load(768)
	require.Error(t, err)
	assert.True(t, ragexerr.Is(err, ragexerr.NotFound))
}

func TestLoad_CorruptSnapshotIsIntegrity(t *testing.T) {
	porter := &fakePorter{data: sampleData()}
	mgr := newTestManager(t, porter)
	_, _, err := mgr.Save(graphmodel.CacheMetadata{ModelID: "mock", Dimensions: 768})
	require.NoError(t, err)

	// Flip bytes in the compressed payload.
	content, err := os.ReadFile(mgr.GraphPath())
	require.NoError(t, err)
	content[len(content)-1] ^= 0xFF
	content[len(content)-2] ^= 0xFF
	require.NoError(t, os.WriteFile(mgr.GraphPath(), content, 0640))

	err = mgr.Load(768)
	require.Error(t, err)
	assert.True(t, ragexerr.Is(err, ragexerr.Integrity))
}

func TestLoad_BadMagicRejected(t *testing.T) {
	porter := &fakePorter{data: sampleData()}
	mgr := newTestManager(t, porter)
	require.NoError(t, os.MkdirAll(mgr.CacheDir(), 0750))
	require.NoError(t, os.WriteFile(mgr.GraphPath(), []byte("NOPE-not-a-snapshot"), 0640))

	err := mgr.Load(768)
	require.Error(t, err)
	assert.True(t, ragexerr.Is(err, ragexerr.Integrity))
	assert.False(t, mgr.CacheValid())
}

func TestCacheValid_HeaderOnly(t *testing.T) {
	porter := &fakePorter{data: sampleData()}
	mgr := newTestManager(t, porter)
	assert.False(t, mgr.CacheValid())

	_, _, err := mgr.Save(graphmodel.CacheMetadata{ModelID: "mock", Dimensions: 768})
	require.NoError(t, err)
	assert.True(t, mgr.CacheValid())
}

func TestStats_ReportsMetadataAndSize(t *testing.T) {
	porter := &fakePorter{data: sampleData()}
	mgr := newTestManager(t, porter)
	_, _, err := mgr.Save(graphmodel.CacheMetadata{ModelID: "mock", ModelRepo: "local", Dimensions: 768})
	require.NoError(t, err)

	stats, err := mgr.Stats()
	require.NoError(t, err)
	require.Len(t, stats, 2)
	for _, st := range stats {
		assert.Greater(t, st.Size, int64(0))
		assert.Equal(t, "mock", st.Metadata.ModelID)
		assert.Equal(t, uint16(768), st.Metadata.Dimensions)
	}
}

func TestClear_RemovesCacheDir(t *testing.T) {
	porter := &fakePorter{data: sampleData()}
	mgr := newTestManager(t, porter)
	_, _, err := mgr.Save(graphmodel.CacheMetadata{ModelID: "mock", Dimensions: 768})
	require.NoError(t, err)

	require.NoError(t, mgr.Clear())
	_, statErr := os.Stat(mgr.CacheDir())
	assert.True(t, os.IsNotExist(statErr))
}

func TestProjectHash_StableAndScoped(t *testing.T) {
	h1 := ProjectHash("/home/dev/project-a")
	h2 := ProjectHash("/home/dev/project-b")
	assert.Len(t, h1, 16)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, h1, ProjectHash("/home/dev/project-a"))
}

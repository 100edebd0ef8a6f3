// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package vectorstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ragex/pkg/ragexerr"
	"github.com/kraklabs/ragex/pkg/storage"
)

// scriptBackend is a test double that routes queries through a callback
// and records executed mutations.
type scriptBackend struct {
	queryFn  func(script string) (*storage.QueryResult, error)
	executed []string
}

func (b *scriptBackend) Query(_ context.Context, script string) (*storage.QueryResult, error) {
	if b.queryFn != nil {
		return b.queryFn(script)
	}
	return &storage.QueryResult{}, nil
}

func (b *scriptBackend) Execute(_ context.Context, script string) error {
	b.executed = append(b.executed, script)
	return nil
}

func (b *scriptBackend) Close() error { return nil }

func TestPut_RejectsDimensionMismatch(t *testing.T) {
	store := NewStore(&scriptBackend{}, 4, "mock", nil)
	err := store.Put(context.Background(), "func:1", []float32{1, 2})
	require.Error(t, err)
	assert.True(t, ragexerr.Is(err, ragexerr.Invalid))
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestPut_NormalizesAndRoutesByPrefix(t *testing.T) {
	backend := &scriptBackend{}
	store := NewStore(backend, 2, "mock", nil)

	require.NoError(t, store.Put(context.Background(), "func:1", []float32{3, 4}))
	require.NoError(t, store.Put(context.Background(), "typ:9", []float32{0, 2}))
	require.Len(t, backend.executed, 2)

	// 3-4-5 triangle normalizes to 0.6, 0.8.
	assert.Contains(t, backend.executed[0], "ragex_function_embedding")
	assert.Contains(t, backend.executed[0], "0.6")
	assert.Contains(t, backend.executed[0], "0.8")
	assert.Contains(t, backend.executed[1], "ragex_type_embedding")
}

func TestPut_UnknownPrefixRejected(t *testing.T) {
	store := NewStore(&scriptBackend{}, 2, "mock", nil)
	err := store.Put(context.Background(), "mystery:1", []float32{1, 0})
	require.Error(t, err)
	assert.True(t, ragexerr.Is(err, ragexerr.Invalid))
}

func TestDelete_MissingEntityIsNoop(t *testing.T) {
	backend := &scriptBackend{}
	store := NewStore(backend, 2, "mock", nil)
	require.NoError(t, store.Delete(context.Background(), "func:ghost"))
	require.NoError(t, store.Delete(context.Background(), "weird-id"))
	// Only the recognized prefix produced a mutation.
	assert.Len(t, backend.executed, 1)
}

func TestSearch_MergesSortsAndTruncates(t *testing.T) {
	backend := &scriptBackend{
		queryFn: func(script string) (*storage.QueryResult, error) {
			if strings.Contains(script, "ragex_function_embedding") {
				return &storage.QueryResult{Rows: [][]any{
					{"func:b", 0.1}, // similarity 0.9
					{"func:a", 0.5}, // similarity 0.5
				}}, nil
			}
			return &storage.QueryResult{Rows: [][]any{
				{"typ:z", 0.1}, // similarity 0.9, ties with func:b
				{"typ:y", 1.8}, // similarity -0.8
			}}, nil
		},
	}
	store := NewStore(backend, 2, "mock", nil)

	matches, err := store.Search(context.Background(), []float32{1, 0}, 3, 0)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// Ties break by ascending entity id: func:b before typ:z.
	assert.Equal(t, "func:b", matches[0].EntityID)
	assert.Equal(t, "typ:z", matches[1].EntityID)
	assert.Equal(t, "func:a", matches[2].EntityID)
	// The negative-similarity row was filtered by the k truncation order,
	// not the threshold; with threshold it disappears entirely.
	matches, err = store.Search(context.Background(), []float32{1, 0}, 10, 0.0)
	require.NoError(t, err)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.0)
	}
}

func TestSearch_ThresholdFilters(t *testing.T) {
	backend := &scriptBackend{
		queryFn: func(script string) (*storage.QueryResult, error) {
			if strings.Contains(script, "ragex_function_embedding") {
				return &storage.QueryResult{Rows: [][]any{
					{"func:hi", 0.1}, // 0.9
					{"func:lo", 1.0}, // 0.0
				}}, nil
			}
			return &storage.QueryResult{}, nil
		},
	}
	store := NewStore(backend, 2, "mock", nil)
	matches, err := store.Search(context.Background(), []float32{1, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "func:hi", matches[0].EntityID)
}

func TestSearch_DimensionMismatch(t *testing.T) {
	store := NewStore(&scriptBackend{}, 4, "mock", nil)
	_, err := store.Search(context.Background(), []float32{1}, 5, 0)
	require.Error(t, err)
	assert.True(t, ragexerr.Is(err, ragexerr.Invalid))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
}

func TestNormalize_ZeroVectorUntouched(t *testing.T) {
	v := []float32{0, 0, 0}
	assert.Equal(t, v, normalize(v))
}

func TestClear_WipesAllEmbeddingTables(t *testing.T) {
	backend := &scriptBackend{}
	store := NewStore(backend, 2, "mock", nil)
	require.NoError(t, store.Clear(context.Background()))
	require.Len(t, backend.executed, 3)
	joined := strings.Join(backend.executed, "\n")
	assert.Contains(t, joined, "ragex_function_embedding")
	assert.Contains(t, joined, "ragex_type_embedding")
	assert.Contains(t, joined, "ragex_embedding_meta")
}

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

// Package vectorstore is the dense-vector side of the index: embeddings
// keyed by entity id with top-k cosine search. Function and type embeddings
// live in separate HNSW-indexed relations; this package presents them as
// one entity-keyed table and routes by id prefix ("func:", "typ:").
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kraklabs/ragex/pkg/ragexerr"
	"github.com/kraklabs/ragex/pkg/storage"
)

// Store is the embedding table facade.
type Store struct {
	backend   storage.Backend
	dimension int
	modelID   string
	logger    *slog.Logger
}

// Match is one kNN result.
type Match struct {
	EntityID string
	Score    float64 // cosine similarity in [-1, 1]
}

// Stats summarizes the store.
type Stats struct {
	Count     int
	Dimension int
	ModelID   string
}

// NewStore creates a vector store with a fixed dimension and model id.
func NewStore(backend storage.Backend, dimension int, modelID string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, dimension: dimension, modelID: modelID, logger: logger}
}

// Dimension returns the configured vector size.
func (s *Store) Dimension() int { return s.dimension }

// ModelID returns the embedding model the store was built with.
func (s *Store) ModelID() string { return s.modelID }

// Put stores (or overwrites) an entity's vector. The vector is normalized
// to unit length on insertion so search reduces to a dot product. A vector
// of the wrong dimension fails with a dimension-mismatch error; callers
// switching models must Clear first.
func (s *Store) Put(ctx context.Context, entityID string, vector []float32) error {
	if len(vector) != s.dimension {
		return ragexerr.New(ragexerr.Invalid, "vectorstore.Put",
			fmt.Sprintf("dimension mismatch: store is %d, vector is %d", s.dimension, len(vector)))
	}

	table, keyCol, ok := tableFor(entityID)
	if !ok {
		return ragexerr.New(ragexerr.Invalid, "vectorstore.Put",
			fmt.Sprintf("unrecognized entity id %q (expected func: or typ: prefix)", entityID))
	}

	normalized := normalize(vector)
	script := fmt.Sprintf("?[%s, embedding] <- [[%s, %s]] :put %s { %s, embedding }",
		keyCol, quote(entityID), formatVector(normalized), table, keyCol)
	if err := s.backend.Execute(ctx, script); err != nil {
		return ragexerr.Wrap(ragexerr.Io, "vectorstore.Put", "write embedding", err)
	}
	return nil
}

// Get returns an entity's stored vector, or nil when absent.
func (s *Store) Get(ctx context.Context, entityID string) ([]float32, error) {
	table, keyCol, ok := tableFor(entityID)
	if !ok {
		return nil, nil
	}
	script := fmt.Sprintf("?[embedding] := *%s { %s, embedding }, %s = %s",
		table, keyCol, keyCol, quote(entityID))
	result, err := s.backend.Query(ctx, script)
	if err != nil {
		return nil, ragexerr.Wrap(ragexerr.Io, "vectorstore.Get", "read embedding", err)
	}
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return nil, nil
	}
	return decodeVector(result.Rows[0][0]), nil
}

// Delete removes an entity's vector. Deleting a missing entity is a no-op.
func (s *Store) Delete(ctx context.Context, entityID string) error {
	table, keyCol, ok := tableFor(entityID)
	if !ok {
		return nil
	}
	script := fmt.Sprintf("?[%s] <- [[%s]] :rm %s { %s }", keyCol, quote(entityID), table, keyCol)
	if err := s.backend.Execute(ctx, script); err != nil {
		return ragexerr.Wrap(ragexerr.Io, "vectorstore.Delete", "remove embedding", err)
	}
	return nil
}

// Search returns the k entities most similar to the query vector, scored
// by cosine similarity, filtered by threshold, sorted descending. Ties
// break by ascending entity id for determinism. Both embedding relations
// are searched via their HNSW indices and the results merged.
func (s *Store) Search(ctx context.Context, query []float32, k int, threshold float64) ([]Match, error) {
	if len(query) != s.dimension {
		return nil, ragexerr.New(ragexerr.Invalid, "vectorstore.Search",
			fmt.Sprintf("dimension mismatch: store is %d, query is %d", s.dimension, len(query)))
	}
	if k <= 0 {
		k = 10
	}

	normalized := normalize(query)
	var matches []Match
	for _, spec := range []struct{ table, keyCol string }{
		{"ragex_function_embedding", "function_id"},
		{"ragex_type_embedding", "type_id"},
	} {
		found, err := s.searchIndex(ctx, spec.table, spec.keyCol, normalized, k)
		if err != nil {
			// A missing index on an empty store is not fatal; log and
			// continue with the other relation.
			s.logger.Debug("vectorstore.search.index_failed", "table", spec.table, "err", err)
			continue
		}
		matches = append(matches, found...)
	}

	var filtered []Match
	for _, m := range matches {
		if m.Score >= threshold {
			filtered = append(filtered, m)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].EntityID < filtered[j].EntityID
	})
	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered, nil
}

// searchIndex runs one HNSW lookup. Cosine distance in [0, 2] maps to
// similarity as 1 - d/2 scaled back to the cosine range via 1 - d.
func (s *Store) searchIndex(ctx context.Context, table, keyCol string, query []float32, k int) ([]Match, error) {
	script := fmt.Sprintf(`?[%s, distance] :=
  ~%s:embedding_idx { %s | query: vec(%s), k: %d, ef: 50, bind_distance: distance }`,
		keyCol, table, keyCol, formatVector(query), k)
	result, err := s.backend.Query(ctx, script)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) < 2 {
			continue
		}
		id, _ := row[0].(string)
		dist, _ := row[1].(float64)
		matches = append(matches, Match{EntityID: id, Score: 1.0 - dist})
	}
	return matches, nil
}

// Stats counts stored vectors.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Dimension: s.dimension, ModelID: s.modelID}
	for _, spec := range []struct{ table, keyCol string }{
		{"ragex_function_embedding", "function_id"},
		{"ragex_type_embedding", "type_id"},
	} {
		result, err := s.backend.Query(ctx, fmt.Sprintf("?[count(%s)] := *%s { %s }", spec.keyCol, spec.table, spec.keyCol))
		if err != nil {
			continue
		}
		if len(result.Rows) > 0 && len(result.Rows[0]) > 0 {
			if n, ok := result.Rows[0][0].(float64); ok {
				stats.Count += int(n)
			}
		}
	}
	return stats, nil
}

// Clear removes every stored vector and fingerprint.
func (s *Store) Clear(ctx context.Context) error {
	deletions := []string{
		`?[function_id] := *ragex_function_embedding { function_id } :rm ragex_function_embedding { function_id }`,
		`?[type_id] := *ragex_type_embedding { type_id } :rm ragex_type_embedding { type_id }`,
		`?[entity_id] := *ragex_embedding_meta { entity_id } :rm ragex_embedding_meta { entity_id }`,
	}
	for _, script := range deletions {
		if err := s.backend.Execute(ctx, script); err != nil {
			return ragexerr.Wrap(ragexerr.Io, "vectorstore.Clear", "remove embeddings", err)
		}
	}
	return nil
}

// tableFor routes an entity id to its embedding relation by prefix.
func tableFor(entityID string) (table, keyCol string, ok bool) {
	switch {
	case strings.HasPrefix(entityID, "func:"):
		return "ragex_function_embedding", "function_id", true
	case strings.HasPrefix(entityID, "typ:"):
		return "ragex_type_embedding", "type_id", true
	default:
		return "", "", false
	}
}

// normalize returns a unit-length copy of v. The zero vector is returned
// unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Cosine computes the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func formatVector(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			f = 0
		}
		parts[i] = strconv.FormatFloat(f, 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func decodeVector(v any) []float32 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, x := range raw {
		if f, ok := x.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case 0:
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

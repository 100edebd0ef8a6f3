// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleQualifiedName(t *testing.T) {
	assert.Equal(t, "pkg/ingestion/loader", ModuleQualifiedName("pkg/ingestion/loader.go"))
	assert.Equal(t, "lib/my_app/store", ModuleQualifiedName("lib/my_app/store.ex"))
	assert.Equal(t, "main", ModuleQualifiedName("main.py"))
}

func TestGenerateModuleID_Deterministic(t *testing.T) {
	id1 := GenerateModuleID("lib/a.ex")
	id2 := GenerateModuleID("lib/a.ex")
	id3 := GenerateModuleID("lib/b.ex")
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.True(t, strings.HasPrefix(id1, "mod:"))
}

func TestDeriveModules_UsesPackageNameWhenKnown(t *testing.T) {
	files := []FileEntity{
		{ID: "file:1", Path: "pkg/storage/embedded.go", Language: "go"},
		{ID: "file:2", Path: "scripts/tool.py", Language: "python"},
	}
	modules := DeriveModules(files, map[string]string{"pkg/storage/embedded.go": "storage"})
	require.Len(t, modules, 2)

	assert.Equal(t, "storage", modules[0].Name)
	assert.Equal(t, "module", modules[0].Kind)
	assert.Equal(t, "pkg/storage/embedded", modules[0].QualifiedName)

	// No declared package: base name, kind file.
	assert.Equal(t, "tool", modules[1].Name)
	assert.Equal(t, "file", modules[1].Kind)
}

func TestDeriveModuleImports_Kinds(t *testing.T) {
	imports := []ImportEntity{
		{ID: "imp:1", FilePath: "a.go", ImportPath: "fmt"},
		{ID: "imp:2", FilePath: "a.go", ImportPath: "github.com/x/y", Alias: "yy"},
		{ID: "imp:3", FilePath: "b.rb", ImportPath: "json"},
	}
	langs := map[string]string{"a.go": "go", "b.rb": "ruby"}
	edges := DeriveModuleImports(imports, langs)
	require.Len(t, edges, 3)
	assert.Equal(t, "import", edges[0].Kind)
	assert.Equal(t, "alias", edges[1].Kind)
	assert.Equal(t, "require", edges[2].Kind)
	assert.Equal(t, GenerateModuleID("a.go"), edges[0].FromModule)
	assert.Equal(t, "fmt", edges[0].ToModule)
}

func TestFunctionArity(t *testing.T) {
	cases := []struct {
		sig      string
		language string
		want     int
	}{
		{"func Add(a int, b int) int", "go", 2},
		{"func Run()", "go", 0},
		{"def add(a, b)", "python", 2},
		{"def add(a, {b, c})", "elixir", 2},
		{"def zero()", "elixir", 0},
		{"function f(x, y, z)", "javascript", 3},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FunctionArity(tc.sig, tc.language), tc.sig)
	}
}

func TestFunctionVisibility(t *testing.T) {
	assert.Equal(t, "public", FunctionVisibility("Exported", "go"))
	assert.Equal(t, "private", FunctionVisibility("internal", "go"))
	assert.Equal(t, "private", FunctionVisibility("_hidden", "python"))
	assert.Equal(t, "public", FunctionVisibility("visible", "python"))
	assert.Equal(t, "public", FunctionVisibility("anything", "elixir"))
}

func TestEnrichFunctions_FillsDerivedFields(t *testing.T) {
	fns := []FunctionEntity{
		{ID: "func:1", Name: "Handle", Signature: "func Handle(w http.ResponseWriter, r *http.Request)", FilePath: "srv/h.go"},
		{ID: "func:2", Name: "helper", Signature: "def helper(x)", FilePath: "lib/a.py", Visibility: "private"},
	}
	EnrichFunctions(fns, map[string]string{"srv/h.go": "go", "lib/a.py": "python"})

	assert.Equal(t, GenerateModuleID("srv/h.go"), fns[0].ModuleID)
	assert.Equal(t, 2, fns[0].Arity)
	assert.Equal(t, "public", fns[0].Visibility)

	// Parser-supplied visibility wins.
	assert.Equal(t, "private", fns[1].Visibility)
	assert.Equal(t, 1, fns[1].Arity)
}

func TestMatchesGlob(t *testing.T) {
	cases := []struct {
		path, glob string
		want       bool
	}{
		{"node_modules/x/y.js", "node_modules/**", true},
		{"src/node_modules/x.js", "**/bin/**", false},
		{"app/bin/run", "**/bin/**", true},
		{"dist/app.js", "dist/**", true},
		{"distx/app.js", "dist/**", false},
		{"a/b.min.js", "*.min.js", true},
		{"package-lock.json", "package-lock.json", true},
		{"src/main.go", "node_modules/**", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchesGlob(tc.path, tc.glob), "%s ~ %s", tc.path, tc.glob)
	}
}

func TestEmbeddingGenerator_SkipsUnchangedFingerprints(t *testing.T) {
	provider := NewMockEmbeddingProvider(768)
	gen := NewEmbeddingGenerator(provider, 1, nil)

	fns := []FunctionEntity{
		{ID: "func:1", Name: "a", Signature: "def a(x)", FilePath: "lib/a.ex", CodeText: "def a(x), do: x"},
		{ID: "func:2", Name: "b", Signature: "def b(x)", FilePath: "lib/a.ex", CodeText: "def b(x), do: x"},
	}

	// First run embeds both (one batched provider call).
	result, err := gen.EmbedFunctions(context.Background(), fns)
	require.NoError(t, err)
	assert.Zero(t, result.ErrorCount)
	assert.Equal(t, 1, provider.CallCount)
	require.NotEmpty(t, fns[0].Embedding)
	require.NotEmpty(t, fns[0].TextHash)

	// Second run with stored hashes: unchanged entities skip the provider.
	known := map[string]string{
		fns[0].ID: fns[0].TextHash,
		fns[1].ID: fns[1].TextHash,
	}
	fresh := []FunctionEntity{
		{ID: "func:1", Name: "a", Signature: "def a(x)", FilePath: "lib/a.ex", CodeText: "def a(x), do: x"},
		{ID: "func:2", Name: "b", Signature: "def b(x)", FilePath: "lib/a.ex", CodeText: "def b(x), do: x + 1"},
	}
	gen.SetKnownTextHashes(known)
	result, err = gen.EmbedFunctions(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedCount)
	// Exactly one more provider call, carrying only the changed function.
	assert.Equal(t, 2, provider.CallCount)
	assert.Empty(t, fresh[0].Embedding)
	assert.NotEmpty(t, fresh[1].Embedding)
}

func TestMockEmbeddingProvider_DeterministicUnitVectors(t *testing.T) {
	provider := NewMockEmbeddingProvider(64)
	v1, err := provider.Embed(context.Background(), []string{"same text"})
	require.NoError(t, err)
	v2, err := provider.Embed(context.Background(), []string{"same text"})
	require.NoError(t, err)
	assert.Equal(t, v1[0], v2[0])

	var norm float64
	for _, x := range v1[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

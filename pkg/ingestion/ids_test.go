// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateFileID(t *testing.T) {
	cases := []struct {
		name   string
		a, b   string
		equal  bool
	}{
		{"deterministic", "test/path/to/file.go", "test/path/to/file.go", true},
		{"normalizes dot prefix", "./test/path/to/file.go", "test/path/to/file.go", true},
		{"normalizes backslashes", `test\path\file.go`, "test/path/file.go", true},
		{"distinct paths differ", "test/path/to/file1.go", "test/path/to/file2.go", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			idA, idB := GenerateFileID(tc.a), GenerateFileID(tc.b)
			assert.True(t, strings.HasPrefix(idA, "file:"))
			if tc.equal {
				assert.Equal(t, idA, idB)
			} else {
				assert.NotEqual(t, idA, idB)
			}
		})
	}
}

func TestGenerateFunctionID(t *testing.T) {
	base := func() (string, string, string, int, int, int, int) {
		return "test.go", "testFunction", "func testFunction()", 10, 15, 1, 20
	}

	t.Run("deterministic with func prefix", func(t *testing.T) {
		path, name, sig, sl, el, sc, ec := base()
		id1 := GenerateFunctionID(path, name, sig, sl, el, sc, ec)
		id2 := GenerateFunctionID(path, name, sig, sl, el, sc, ec)
		assert.Equal(t, id1, id2)
		assert.True(t, strings.HasPrefix(id1, "func:"))
	})

	t.Run("name is part of identity", func(t *testing.T) {
		path, _, sig, sl, el, sc, ec := base()
		assert.NotEqual(t,
			GenerateFunctionID(path, "first", sig, sl, el, sc, ec),
			GenerateFunctionID(path, "second", sig, sl, el, sc, ec),
		)
	})

	t.Run("source range is part of identity", func(t *testing.T) {
		path, name, sig, _, _, sc, ec := base()
		assert.NotEqual(t,
			GenerateFunctionID(path, name, sig, 10, 15, sc, ec),
			GenerateFunctionID(path, name, sig, 20, 25, sc, ec),
		)
	})

	t.Run("columns disambiguate same-line definitions", func(t *testing.T) {
		path, name, sig, sl, el, _, _ := base()
		assert.NotEqual(t,
			GenerateFunctionID(path, name, sig, sl, el, 1, 20),
			GenerateFunctionID(path, name, sig, sl, el, 5, 25),
		)
	})

	t.Run("signature is excluded from identity", func(t *testing.T) {
		// Parser improvements that refine signature extraction must not
		// change entity identity, so different signatures with the same
		// name and range produce the SAME id.
		path, name, _, sl, el, sc, ec := base()
		assert.Equal(t,
			GenerateFunctionID(path, name, "func testFunction()", sl, el, sc, ec),
			GenerateFunctionID(path, name, "func testFunction(x int)", sl, el, sc, ec),
		)
	})
}

func TestGenerateFieldID(t *testing.T) {
	id := GenerateFieldID("internal/store/builder.go", "Builder", "writer")
	assert.Equal(t, id, GenerateFieldID("internal/store/builder.go", "Builder", "writer"))
	assert.True(t, strings.HasPrefix(id, "fld:"))

	assert.NotEqual(t, id, GenerateFieldID("internal/store/builder.go", "Builder", "reader"))
	assert.NotEqual(t, id, GenerateFieldID("internal/store/builder.go", "Server", "writer"))
}

func TestGenerateModuleID_AlignsWithFilePath(t *testing.T) {
	// Functions derive their module from the file path alone, so the
	// module id of a file must equal the module id its functions get.
	fns := []FunctionEntity{{Name: "run", FilePath: "lib/app/worker.ex"}}
	EnrichFunctions(fns, map[string]string{"lib/app/worker.ex": "elixir"})
	assert.Equal(t, GenerateModuleID("lib/app/worker.ex"), fns[0].ModuleID)
}

// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package refactor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ragex/pkg/editor"
	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/graphstore"
	"github.com/kraklabs/ragex/pkg/undo"
)

// fakeGraph is a hand-assembled discovery surface: function nodes, module
// nodes, and call edges, keyed the way the store would key them.
type fakeGraph struct {
	functions []*graphstore.Node
	modules   []*graphstore.Node
	incoming  map[string][]graphstore.Edge
}

func (g *fakeGraph) ResolveFunction(_ context.Context, module, name string, arity int) ([]*graphstore.Node, error) {
	var out []*graphstore.Node
	for _, fn := range g.functions {
		if fn.Name != name {
			continue
		}
		if arity >= 0 && fn.Arity != arity {
			continue
		}
		if module != "" && fn.QualifiedName != module {
			continue
		}
		out = append(out, fn)
	}
	return out, nil
}

func (g *fakeGraph) ModulesByName(_ context.Context, name string) ([]*graphstore.Node, error) {
	var out []*graphstore.Node
	for _, m := range g.modules {
		if m.Name == name || m.QualifiedName == name {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *fakeGraph) FunctionsInModule(_ context.Context, moduleName string) ([]*graphstore.Node, error) {
	var out []*graphstore.Node
	for _, fn := range g.functions {
		if fn.QualifiedName == moduleName {
			out = append(out, fn)
		}
	}
	return out, nil
}

func (g *fakeGraph) Incoming(_ context.Context, nodeID string, _ graphmodel.EdgeType) ([]graphstore.Edge, error) {
	return g.incoming[nodeID], nil
}

func (g *fakeGraph) FindNode(_ context.Context, _ graphmodel.NodeType, id string) (*graphstore.Node, error) {
	for _, fn := range g.functions {
		if fn.ID == id {
			return fn, nil
		}
	}
	for _, m := range g.modules {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

// fakeGraph stores the owning module's name in QualifiedName for easy
// matching; the engine only compares, never parses it.

func newTestEngine(t *testing.T, graph Graph, root string) *Engine {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	backups, err := editor.NewBackupStore(filepath.Join(t.TempDir(), "backups"))
	require.NoError(t, err)
	ed := editor.NewEditor(backups, nil, nil, nil)

	history, err := undo.NewHistory(root, nil)
	require.NoError(t, err)

	return NewEngine(graph, ed, history, root, nil)
}

func writeSource(t *testing.T, root, rel, content string) string {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
	return abs
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

// twoFileFixture builds the canonical cross-file scenario: module M
// defines foo/1, module N calls M.foo(1).
func twoFileFixture(t *testing.T, root string) (*fakeGraph, string, string) {
	t.Helper()
	aPath := writeSource(t, root, "lib/m.ex", `defmodule M do
  def foo(x), do: x + 1
end
`)
	bPath := writeSource(t, root, "lib/n.ex", `defmodule N do
  def bar, do: M.foo(1)
end
`)

	foo := &graphstore.Node{
		Type: graphmodel.NodeFunction, ID: "func:foo", Name: "foo", Arity: 1,
		File: "lib/m.ex", Line: 2, EndLine: 2, QualifiedName: "M",
	}
	bar := &graphstore.Node{
		Type: graphmodel.NodeFunction, ID: "func:bar", Name: "bar", Arity: 0,
		File: "lib/n.ex", Line: 2, EndLine: 2, QualifiedName: "N",
	}
	graph := &fakeGraph{
		functions: []*graphstore.Node{foo, bar},
		modules: []*graphstore.Node{
			{Type: graphmodel.NodeModule, ID: "mod:m", Name: "M", QualifiedName: "M", File: "lib/m.ex"},
			{Type: graphmodel.NodeModule, ID: "mod:n", Name: "N", QualifiedName: "N", File: "lib/n.ex"},
		},
		incoming: map[string][]graphstore.Edge{
			"func:foo": {{From: "func:bar", To: "func:foo", Type: graphmodel.EdgeCalls, Line: 2}},
		},
	}
	return graph, aPath, bPath
}

func TestRenameFunction_AcrossFilesWithUndo(t *testing.T) {
	root := t.TempDir()
	graph, aPath, bPath := twoFileFixture(t, root)
	engine := newTestEngine(t, graph, root)

	originalA := readFile(t, aPath)
	originalB := readFile(t, bPath)

	result, err := engine.RenameFunction(context.Background(), RenameFunctionParams{
		Module: "M", OldName: "foo", NewName: "baz", Arity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Txn.Status)
	require.NotEmpty(t, result.UndoID)

	assert.Contains(t, readFile(t, aPath), "def baz(x), do: x + 1")
	assert.Contains(t, readFile(t, bPath), "M.baz(1)")
	assert.NotContains(t, readFile(t, bPath), "M.foo")

	// Undo restores both files byte-for-byte.
	history := engine.history
	_, err = history.Undo()
	require.NoError(t, err)
	assert.Equal(t, originalA, readFile(t, aPath))
	assert.Equal(t, originalB, readFile(t, bPath))
}

func TestRenameFunction_IsItsOwnInverse(t *testing.T) {
	root := t.TempDir()
	graph, aPath, bPath := twoFileFixture(t, root)
	engine := newTestEngine(t, graph, root)

	originalA := readFile(t, aPath)
	originalB := readFile(t, bPath)

	_, err := engine.RenameFunction(context.Background(), RenameFunctionParams{
		Module: "M", OldName: "foo", NewName: "baz", Arity: 1,
	})
	require.NoError(t, err)

	// The graph would normally reindex; patch the fake in place.
	graph.functions[0].Name = "baz"

	_, err = engine.RenameFunction(context.Background(), RenameFunctionParams{
		Module: "M", OldName: "baz", NewName: "foo", Arity: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, originalA, readFile(t, aPath))
	assert.Equal(t, originalB, readFile(t, bPath))
}

func TestRenameFunction_ArityFilter(t *testing.T) {
	root := t.TempDir()
	aPath := writeSource(t, root, "lib/m.ex", `defmodule M do
  def foo(x), do: x
  def foo(x, y), do: x + y
  def use_both, do: foo(1) + foo(1, 2)
end
`)
	graph := &fakeGraph{
		functions: []*graphstore.Node{
			{Type: graphmodel.NodeFunction, ID: "func:foo1", Name: "foo", Arity: 1, File: "lib/m.ex", Line: 2, EndLine: 2, QualifiedName: "M"},
			{Type: graphmodel.NodeFunction, ID: "func:foo2", Name: "foo", Arity: 2, File: "lib/m.ex", Line: 3, EndLine: 3, QualifiedName: "M"},
		},
		incoming: map[string][]graphstore.Edge{},
	}
	engine := newTestEngine(t, graph, root)

	_, err := engine.RenameFunction(context.Background(), RenameFunctionParams{
		Module: "M", OldName: "foo", NewName: "first", Arity: 1,
	})
	require.NoError(t, err)

	content := readFile(t, aPath)
	assert.Contains(t, content, "def first(x), do: x")
	assert.Contains(t, content, "def foo(x, y), do: x + y")
	assert.Contains(t, content, "first(1) + foo(1, 2)")
}

func TestRenameFunction_MissingFunction(t *testing.T) {
	root := t.TempDir()
	graph := &fakeGraph{}
	engine := newTestEngine(t, graph, root)

	_, err := engine.RenameFunction(context.Background(), RenameFunctionParams{
		Module: "M", OldName: "ghost", NewName: "spirit", Arity: 1,
	})
	require.Error(t, err)
}

func TestRenameModule_SegmentEqualMatching(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "lib/m.ex", `defmodule My.Store do
  alias My.Store
  def get, do: Store.fetch()
end

defmodule My.StoreHelper do
  def help, do: My.Store.get()
end
`)
	graph := &fakeGraph{
		modules: []*graphstore.Node{
			{Type: graphmodel.NodeModule, ID: "mod:store", Name: "My.Store", QualifiedName: "My.Store", File: "lib/m.ex"},
		},
	}
	engine := newTestEngine(t, graph, root)

	_, err := engine.RenameModule(context.Background(), "My.Store", "My.Cache")
	require.NoError(t, err)

	content := readFile(t, path)
	assert.Contains(t, content, "defmodule My.Cache do")
	assert.Contains(t, content, "alias My.Cache")
	assert.Contains(t, content, "My.Cache.get()")
	// Substring of a longer module name stays intact.
	assert.Contains(t, content, "defmodule My.StoreHelper do")
}

func TestRenameParameter_BodyOnly(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "lib/m.ex", `defmodule M do
  def add(count, step) do
    count + step
  end

  def other(count), do: count
end
`)
	graph := &fakeGraph{
		functions: []*graphstore.Node{
			{Type: graphmodel.NodeFunction, ID: "func:add", Name: "add", Arity: 2, File: "lib/m.ex", Line: 2, EndLine: 4, QualifiedName: "M"},
		},
	}
	engine := newTestEngine(t, graph, root)

	_, err := engine.RenameParameter(context.Background(), RenameParameterParams{
		Module: "M", Function: "add", Arity: 2, OldName: "count", NewName: "total",
	})
	require.NoError(t, err)

	content := readFile(t, path)
	assert.Contains(t, content, "def add(total, step) do")
	assert.Contains(t, content, "total + step")
	// The other function's parameter named count is untouched.
	assert.Contains(t, content, "def other(count), do: count")
}

func TestConvertVisibility_FlipsAndRoundTrips(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "lib/m.ex", `defmodule M do
  def helper(x) do
    x
  end
end
`)
	node := &graphstore.Node{
		Type: graphmodel.NodeFunction, ID: "func:helper", Name: "helper", Arity: 1,
		File: "lib/m.ex", Line: 2, EndLine: 4, QualifiedName: "M",
	}
	graph := &fakeGraph{functions: []*graphstore.Node{node}}
	engine := newTestEngine(t, graph, root)

	original := readFile(t, path)

	_, err := engine.ConvertVisibility(context.Background(), ConvertVisibilityParams{
		Module: "M", Function: "helper", Arity: 1, Visibility: "private",
	})
	require.NoError(t, err)
	assert.Contains(t, readFile(t, path), "defp helper(x) do")

	_, err = engine.ConvertVisibility(context.Background(), ConvertVisibilityParams{
		Module: "M", Function: "helper", Arity: 1, Visibility: "public",
	})
	require.NoError(t, err)
	assert.Equal(t, original, readFile(t, path))
}

func TestInlineFunction_RefusesMultiClause(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "lib/m.ex", `defmodule M do
  def pick(0), do: :zero
  def pick(_), do: :other
end
`)
	graph := &fakeGraph{
		functions: []*graphstore.Node{
			{Type: graphmodel.NodeFunction, ID: "func:pick", Name: "pick", Arity: 1, File: "lib/m.ex", Line: 2, EndLine: 2, QualifiedName: "M"},
		},
	}
	engine := newTestEngine(t, graph, root)

	_, err := engine.InlineFunction(context.Background(), InlineFunctionParams{
		Module: "M", Function: "pick", Arity: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clauses")
}

func TestInlineFunction_SingleClause(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "lib/m.ex", `defmodule M do
  def double(x), do: x * 2

  def use_it(n) do
    double(n) + 1
  end
end
`)
	graph := &fakeGraph{
		functions: []*graphstore.Node{
			{Type: graphmodel.NodeFunction, ID: "func:double", Name: "double", Arity: 1, File: "lib/m.ex", Line: 2, EndLine: 2, QualifiedName: "M"},
		},
		incoming: map[string][]graphstore.Edge{},
	}
	engine := newTestEngine(t, graph, root)

	_, err := engine.InlineFunction(context.Background(), InlineFunctionParams{
		Module: "M", Function: "double", Arity: 1,
	})
	require.NoError(t, err)

	content := readFile(t, path)
	assert.NotContains(t, content, "def double")
	assert.Contains(t, content, "(n * 2) + 1")
}

func TestExtractFunction_FreeVariablesBecomeParams(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "lib/m.ex", `defmodule M do
  def calc(a, b) do
    c = a + b
    d = c * 2
    d
  end
end
`)
	graph := &fakeGraph{
		functions: []*graphstore.Node{
			{Type: graphmodel.NodeFunction, ID: "func:calc", Name: "calc", Arity: 2, File: "lib/m.ex", Line: 2, EndLine: 6, QualifiedName: "M"},
		},
	}
	engine := newTestEngine(t, graph, root)

	_, err := engine.ExtractFunction(context.Background(), ExtractFunctionParams{
		Module: "M", Function: "calc", Arity: 2, NewName: "scale",
		LineStart: 4, LineEnd: 4, Private: true,
	})
	require.NoError(t, err)

	content := readFile(t, path)
	// "d = c * 2" uses c freely and binds d: the new function takes c.
	assert.Contains(t, content, "defp scale(c) do")
	assert.Contains(t, content, "scale(c)")
}

func TestChangeSignature_AddParamWithDefault(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "lib/m.ex", `defmodule M do
  def greet(name) do
    name
  end

  def caller, do: greet("ada")
end
`)
	graph := &fakeGraph{
		functions: []*graphstore.Node{
			{Type: graphmodel.NodeFunction, ID: "func:greet", Name: "greet", Arity: 1, File: "lib/m.ex", Line: 2, EndLine: 4, QualifiedName: "M"},
		},
		incoming: map[string][]graphstore.Edge{},
	}
	engine := newTestEngine(t, graph, root)

	_, err := engine.ChangeSignature(context.Background(), ChangeSignatureParams{
		Module: "M", Function: "greet", OldArity: 1,
		AddParams: []AddedParam{{Name: "greeting", Position: 1, Default: `"hello"`}},
	})
	require.NoError(t, err)

	content := readFile(t, path)
	assert.Contains(t, content, "def greet(name, greeting) do")
	assert.Contains(t, content, `greet("ada", "hello")`)
}

func TestApplySignatureSteps_FixedOrder(t *testing.T) {
	params := ChangeSignatureParams{
		RenameParams:  []RenamedParam{{Old: "a", New: "alpha"}},
		RemoveParams:  []int{2},
		ReorderParams: []int{1, 0},
		AddParams:     []AddedParam{{Name: "tail", Position: 2}},
	}
	// Start: [a b c]. rename -> [alpha b c]; remove pos 2 -> [alpha b];
	// reorder [1 0] -> [b alpha]; add tail at 2 -> [b alpha tail].
	out, err := applySignatureSteps([]string{"a", "b", "c"}, params, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "alpha", "tail"}, out)
}

func TestModifyAttributeContent_OrderingPreserved(t *testing.T) {
	content := `defmodule M do
  @moduledoc "docs"
  @timeout 5_000
  @retries 3

  def run, do: :ok
end`

	out, err := ModifyAttributeContent(content,
		[]AttributeChange{{Name: "version", Value: `"2.0"`}},
		[]string{"retries"},
		[]AttributeChange{{Name: "timeout", Value: "10_000"}},
	)
	require.NoError(t, err)

	assert.Contains(t, out, `@version "2.0"`)
	assert.Contains(t, out, "@timeout 10_000")
	assert.NotContains(t, out, "@retries")
	// New attributes insert before existing ones.
	assert.Less(t, indexOf(out, "@version"), indexOf(out, "@moduledoc"))
}

func TestModifyAttributeContent_UpdateMissingFails(t *testing.T) {
	_, err := ModifyAttributeContent("defmodule M do\nend",
		nil, nil, []AttributeChange{{Name: "ghost", Value: "1"}})
	require.Error(t, err)
}

func TestMoveFunction_CreatesTargetFile(t *testing.T) {
	root := t.TempDir()
	srcPath := writeSource(t, root, "lib/m.ex", `defmodule M do
  def util(x) do
    x
  end

  def keep, do: :ok
end
`)
	graph := &fakeGraph{
		functions: []*graphstore.Node{
			{Type: graphmodel.NodeFunction, ID: "func:util", Name: "util", Arity: 1, File: "lib/m.ex", Line: 2, EndLine: 4, QualifiedName: "M"},
		},
		incoming: map[string][]graphstore.Edge{},
	}
	engine := newTestEngine(t, graph, root)

	_, err := engine.MoveFunction(context.Background(), MoveFunctionParams{
		SourceModule: "M", TargetModule: "Util", Function: "util", Arity: 1,
	})
	require.NoError(t, err)

	srcContent := readFile(t, srcPath)
	assert.NotContains(t, srcContent, "def util")
	assert.Contains(t, srcContent, "def keep")

	dstContent := readFile(t, filepath.Join(root, "lib/util.ex"))
	assert.Contains(t, dstContent, "defmodule Util do")
	assert.Contains(t, dstContent, "def util(x) do")
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

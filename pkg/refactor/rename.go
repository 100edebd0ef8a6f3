// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package refactor

import (
	"context"
	"fmt"
	"strings"

	"github.com/kraklabs/ragex/pkg/ragexerr"
)

// RenameFunctionParams identify a function and its new name.
type RenameFunctionParams struct {
	Module  string
	OldName string
	NewName string

	// Arity selects one arity; -1 renames every arity of the name.
	Arity int

	// Scope is "project" (default) or "module" (defining file only).
	Scope string
}

// RenameFunction rewrites the definition, every direct call of the
// matching arity, every module-qualified call, and every capture
// reference. Call sites are discovered through the call graph, so files
// never read by the operator are never touched.
func (e *Engine) RenameFunction(ctx context.Context, p RenameFunctionParams) (*Result, error) {
	const op = "rename_function"
	if p.OldName == "" || p.NewName == "" {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.RenameFunction", "old_name and new_name are required")
	}

	targets, err := e.graph.ResolveFunction(ctx, p.Module, p.OldName, p.Arity)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ragexerr.New(ragexerr.NotFound, "refactor.RenameFunction",
			fmt.Sprintf("function %s.%s/%s not found", p.Module, p.OldName, arityLabel(p.Arity)))
	}

	defFile := targets[0].File
	defSource, err := loadSource(e.root, defFile, languageOf(defFile))
	if err != nil {
		return nil, err
	}

	// Definition file: heads, local calls, capture refs, and qualified
	// self-references.
	renameFunctionRefs(defSource, refRename{
		old: p.OldName, new: p.NewName, arity: p.Arity,
		mode: renameUnqualified,
	})
	renameFunctionRefs(defSource, refRename{
		old: p.OldName, new: p.NewName, arity: p.Arity,
		mode: renameQualified, qualifiers: moduleSpellings(p.Module),
	})

	files := []*sourceFile{defSource}
	if p.Scope != "module" {
		callerPaths, err := e.callerFiles(ctx, targets)
		if err != nil {
			return nil, err
		}
		for _, path := range callerPaths {
			sf, err := loadSource(e.root, path, languageOf(path))
			if err != nil {
				if ragexerr.Is(err, ragexerr.NotFound) {
					e.logger.Warn("refactor.rename_function.caller_file_missing", "path", path)
					continue
				}
				return nil, err
			}
			// Other files may only reference the function qualified, or
			// unqualified via an import of the module.
			renameFunctionRefs(sf, refRename{
				old: p.OldName, new: p.NewName, arity: p.Arity,
				mode: renameQualified, qualifiers: moduleSpellings(p.Module),
			})
			renameFunctionRefs(sf, refRename{
				old: p.OldName, new: p.NewName, arity: p.Arity,
				mode: renameUnqualified,
			})
			files = append(files, sf)
		}
	}

	description := fmt.Sprintf("rename %s.%s/%s -> %s", p.Module, p.OldName, arityLabel(p.Arity), p.NewName)
	return e.commit(ctx, op, description, map[string]any{
		"module": p.Module, "old_name": p.OldName, "new_name": p.NewName,
		"arity": p.Arity, "scope": p.Scope,
	}, files)
}

// RenameModule rewrites a module's definition name, aliases, and every
// qualified-call prefix. Nested module paths match segment-equal, never by
// substring.
func (e *Engine) RenameModule(ctx context.Context, oldName, newName string) (*Result, error) {
	const op = "rename_module"
	if oldName == "" || newName == "" {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.RenameModule", "old_name and new_name are required")
	}

	mods, err := e.graph.ModulesByName(ctx, oldName)
	if err != nil {
		return nil, err
	}
	if len(mods) == 0 {
		return nil, ragexerr.New(ragexerr.NotFound, "refactor.RenameModule", fmt.Sprintf("module %s not found", oldName))
	}

	// Affected files: the defining file plus every file whose functions
	// call into the module.
	fileSet := map[string]bool{}
	var paths []string
	addPath := func(p string) {
		if p != "" && !fileSet[p] {
			fileSet[p] = true
			paths = append(paths, p)
		}
	}
	for _, mod := range mods {
		addPath(mod.File)
		fns, err := e.graph.FunctionsInModule(ctx, oldName)
		if err != nil {
			return nil, err
		}
		callerPaths, err := e.callerFiles(ctx, fns)
		if err != nil {
			return nil, err
		}
		for _, p := range callerPaths {
			addPath(p)
		}
	}

	var files []*sourceFile
	for _, path := range paths {
		sf, err := loadSource(e.root, path, languageOf(path))
		if err != nil {
			if ragexerr.Is(err, ragexerr.NotFound) {
				continue
			}
			return nil, err
		}
		renameModuleName(sf, oldName, newName)
		files = append(files, sf)
	}

	description := fmt.Sprintf("rename module %s -> %s", oldName, newName)
	return e.commit(ctx, op, description, map[string]any{"old_name": oldName, "new_name": newName}, files)
}

// renameModuleName rewrites segment-equal occurrences of a dotted module
// name: definitions (defmodule/class/module keywords), aliases, and
// qualified-call prefixes.
func renameModuleName(sf *sourceFile, oldName, newName string) {
	for n := 1; n <= sf.lineCount(); n++ {
		line := sf.line(n)
		rewritten := replaceModuleToken(line, oldName, newName)
		if rewritten != line {
			sf.setLine(n, rewritten)
		}
	}
}

// replaceModuleToken replaces oldName where it stands as a complete dotted
// name segment sequence: "A.B" matches in "A.B.f()" and "alias A.B" but
// not in "XA.B" or "A.BC".
func replaceModuleToken(line, oldName, newName string) string {
	var b strings.Builder
	last := 0
	for idx := 0; ; {
		rel := strings.Index(line[idx:], oldName)
		if rel < 0 {
			break
		}
		start := idx + rel
		end := start + len(oldName)
		idx = start + 1

		// Segment-equal: the char before must not extend an identifier or
		// a dotted path; after may be ".", punctuation, or end.
		if start > 0 {
			prev := line[start-1]
			if isWordByte(prev) || prev == '.' {
				continue
			}
		}
		if end < len(line) && isWordByte(line[end]) {
			continue
		}

		b.WriteString(line[last:start])
		b.WriteString(newName)
		last = end
		idx = end
	}
	if last == 0 {
		return line
	}
	b.WriteString(line[last:])
	return b.String()
}

// RenameParameterParams identify a parameter within one function.
type RenameParameterParams struct {
	Module   string
	Function string
	Arity    int
	OldName  string
	NewName  string
}

// RenameParameter renames a parameter and every reference inside the
// function body. Call sites are untouched: the arity does not change.
func (e *Engine) RenameParameter(ctx context.Context, p RenameParameterParams) (*Result, error) {
	const op = "rename_parameter"
	if p.OldName == "" || p.NewName == "" {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.RenameParameter", "old_name and new_name are required")
	}

	target, err := e.resolveSingleFunction(ctx, p.Module, p.Function, p.Arity)
	if err != nil {
		return nil, err
	}

	sf, err := loadSource(e.root, target.File, languageOf(target.File))
	if err != nil {
		return nil, err
	}
	end := spanEnd(sf, target)
	for n := target.Line; n <= end; n++ {
		line := sf.line(n)
		rewritten := renameIdentInLine(line, p.OldName, p.NewName, renameUnqualified, "")
		if rewritten != line {
			sf.setLine(n, rewritten)
		}
	}

	description := fmt.Sprintf("rename parameter %s -> %s in %s.%s/%s", p.OldName, p.NewName, p.Module, p.Function, arityLabel(p.Arity))
	return e.commit(ctx, op, description, map[string]any{
		"module": p.Module, "function": p.Function, "arity": p.Arity,
		"old_name": p.OldName, "new_name": p.NewName,
	}, []*sourceFile{sf})
}

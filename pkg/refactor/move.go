// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package refactor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kraklabs/ragex/pkg/ragexerr"
)

// MoveFunctionParams describe a function relocation.
type MoveFunctionParams struct {
	SourceModule string
	TargetModule string

	// TargetFile is the file created with a fresh module shell when the
	// target module does not exist yet; derived from the module name when
	// empty.
	TargetFile string

	Function string
	Arity    int
}

// MoveFunction extracts a function's definition from the source file,
// appends it to the target module's file (creating the file when the
// module is new), and rewrites every qualified call from the source module
// to the target.
func (e *Engine) MoveFunction(ctx context.Context, p MoveFunctionParams) (*Result, error) {
	const op = "move_function"
	if p.TargetModule == "" {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.MoveFunction", "target_module is required")
	}

	targets, err := e.graph.ResolveFunction(ctx, p.SourceModule, p.Function, p.Arity)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ragexerr.New(ragexerr.NotFound, "refactor.MoveFunction",
			fmt.Sprintf("function %s.%s/%s not found", p.SourceModule, p.Function, arityLabel(p.Arity)))
	}

	src, err := loadSource(e.root, targets[0].File, languageOf(targets[0].File))
	if err != nil {
		return nil, err
	}

	// Cut every matching clause, bottom-up.
	type span struct{ start, end int }
	var spans []span
	for _, t := range targets {
		spans = append(spans, span{t.Line, spanEnd(src, t)})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })

	var moved []string
	for _, s := range spans {
		block := make([]string, 0, s.end-s.start+1)
		for n := s.start; n <= s.end; n++ {
			block = append(block, src.line(n))
		}
		moved = append(append(block, ""), moved...)
		src.replaceRange(s.start, s.end, nil)
		trimBlankRun(src, s.start)
	}
	if len(moved) > 0 && moved[len(moved)-1] == "" {
		moved = moved[:len(moved)-1]
	}

	// Destination: existing module file, or a new shell.
	var dst *sourceFile
	dstMods, err := e.graph.ModulesByName(ctx, p.TargetModule)
	if err != nil {
		return nil, err
	}
	if len(dstMods) > 0 {
		dst, err = loadSource(e.root, dstMods[0].File, languageOf(dstMods[0].File))
		if err != nil {
			return nil, err
		}
		insertAt := moduleBodyEnd(dst)
		dst.insertAfter(insertAt, append([]string{""}, indentBlock(moved, dst.language)...))
	} else {
		file := p.TargetFile
		if file == "" {
			file = derivedModulePath(targets[0].File, p.TargetModule)
		}
		dst = newSource(e.root, file, languageOf(file))
		dst.lines = buildModuleFile(dst.language, p.TargetModule, moved)
	}

	// Rewrite qualified calls everywhere a caller lives.
	targetLast := p.TargetModule
	if idx := strings.LastIndex(targetLast, "."); idx >= 0 {
		targetLast = targetLast[idx+1:]
	}
	files := []*sourceFile{src, dst}
	rewriteQualified := func(sf *sourceFile) {
		for _, q := range moduleSpellings(p.SourceModule) {
			for n := 1; n <= sf.lineCount(); n++ {
				line := sf.line(n)
				rewritten := strings.ReplaceAll(line, q+"."+p.Function, targetLast+"."+p.Function)
				if rewritten != line {
					sf.setLine(n, rewritten)
				}
			}
		}
	}
	rewriteQualified(src)

	callerPaths, err := e.callerFiles(ctx, targets)
	if err != nil {
		return nil, err
	}
	for _, path := range callerPaths {
		if path == dst.relPath {
			continue
		}
		callerSf, err := loadSource(e.root, path, languageOf(path))
		if err != nil {
			continue
		}
		rewriteQualified(callerSf)
		files = append(files, callerSf)
	}

	description := fmt.Sprintf("move %s.%s/%s to %s", p.SourceModule, p.Function, arityLabel(p.Arity), p.TargetModule)
	return e.commit(ctx, op, description, map[string]any{
		"source_module": p.SourceModule, "target_module": p.TargetModule,
		"function": p.Function, "arity": p.Arity,
	}, files)
}

// indentBlock re-indents moved function lines one level into an existing
// module body.
func indentBlock(lines []string, language string) []string {
	indent := "  "
	if language == "go" {
		indent = "\t"
	}
	// Preserve relative indentation: strip the block's common prefix,
	// then prepend one level.
	common := ""
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lead := leadingWhitespace(line)
		if common == "" || len(lead) < len(common) {
			common = lead
		}
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			out[i] = ""
			continue
		}
		out[i] = indent + strings.TrimPrefix(line, common)
	}
	return out
}

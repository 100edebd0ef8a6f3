// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package refactor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kraklabs/ragex/pkg/ragexerr"
)

// ExtractFunctionParams describe a body range to lift into a new function.
type ExtractFunctionParams struct {
	Module   string
	Function string
	Arity    int
	NewName  string

	// LineStart and LineEnd are absolute 1-based file lines inside the
	// source function's body.
	LineStart int
	LineEnd   int

	// Placement is "after_source" (default), "before_source", or
	// "end_of_module".
	Placement string

	// Private controls def vs defp for the new function (default private).
	Private bool

	// AddDoc prepends a TODO docstring.
	AddDoc bool
}

// ExtractFunction lifts an inclusive line range out of a function into a
// fresh function. The new function's parameters are the range's free
// variables: identifiers used in the range minus anything bound inside
// the range itself, sorted lexicographically so extraction is
// deterministic.
func (e *Engine) ExtractFunction(ctx context.Context, p ExtractFunctionParams) (*Result, error) {
	const op = "extract_function"
	if p.NewName == "" {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.ExtractFunction", "new_name is required")
	}

	target, err := e.resolveSingleFunction(ctx, p.Module, p.Function, p.Arity)
	if err != nil {
		return nil, err
	}
	sf, err := loadSource(e.root, target.File, languageOf(target.File))
	if err != nil {
		return nil, err
	}

	fnStart := target.Line
	fnEnd := spanEnd(sf, target)
	if p.LineStart <= fnStart || p.LineEnd >= fnEnd+1 || p.LineStart > p.LineEnd {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.ExtractFunction",
			fmt.Sprintf("range %d-%d is not inside the body of %s (%d-%d)", p.LineStart, p.LineEnd, p.Function, fnStart, fnEnd))
	}

	body := make([]string, 0, p.LineEnd-p.LineStart+1)
	for n := p.LineStart; n <= p.LineEnd; n++ {
		body = append(body, sf.line(n))
	}

	params := freeVariables(body, sf.line(fnStart))
	callArgs := strings.Join(params, ", ")

	indent := leadingWhitespace(sf.line(fnStart))
	bodyIndent := indent + "  "
	if len(body) > 0 {
		bodyIndent = leadingWhitespace(body[0])
	}

	newFn := buildFunction(sf.language, indent, p.NewName, params, dedent(body, bodyIndent), p.Private, p.AddDoc)
	call := bodyIndent + callExpr(sf.language, p.NewName, callArgs)

	// Replace the range with the call first (it shifts nothing above),
	// then place the new function.
	sf.replaceRange(p.LineStart, p.LineEnd, []string{call})
	shiftedEnd := fnEnd - (p.LineEnd - p.LineStart + 1) + 1

	switch p.Placement {
	case "before_source":
		sf.insertAfter(fnStart-1, append(newFn, ""))
	case "end_of_module":
		sf.insertAfter(moduleBodyEnd(sf), append([]string{""}, newFn...))
	default: // after_source
		sf.insertAfter(shiftedEnd, append([]string{""}, newFn...))
	}

	description := fmt.Sprintf("extract lines %d-%d of %s.%s into %s/%d", p.LineStart, p.LineEnd, p.Module, p.Function, p.NewName, len(params))
	return e.commit(ctx, op, description, map[string]any{
		"module": p.Module, "function": p.Function, "new_name": p.NewName,
		"line_start": p.LineStart, "line_end": p.LineEnd,
	}, []*sourceFile{sf})
}

var identifierPattern = regexp.MustCompile(`[a-z_][A-Za-z0-9_]*`)

// languageKeywords are never free variables.
var languageKeywords = map[string]bool{
	"def": true, "defp": true, "do": true, "end": true, "fn": true, "when": true,
	"if": true, "else": true, "unless": true, "case": true, "cond": true, "with": true,
	"for": true, "true": true, "false": true, "nil": true, "and": true, "or": true,
	"not": true, "in": true, "receive": true, "after": true, "rescue": true, "try": true,
	"return": true, "var": true, "let": true, "const": true, "func": true, "range": true,
	"while": true, "elif": true, "import": true, "from": true, "pass": true, "raise": true,
	"lambda": true, "print": true, "self": true, "super": true, "new": true,
}

// freeVariables computes (identifiers used in range) − (identifiers bound
// in range) − (anything that's a call rather than a value use), sorted for
// determinism. The defining head's parameters stay free when referenced:
// they become the new function's parameters.
func freeVariables(body []string, _ string) []string {
	bound := map[string]bool{}
	used := map[string]bool{}

	for _, line := range body {
		// Left side of a match/assignment binds.
		if eq := strings.Index(line, "="); eq > 0 && !strings.Contains("=<>!+-*/", string(line[eq-1])) && (eq+1 >= len(line) || line[eq+1] != '=') {
			for _, m := range identifierPattern.FindAllString(line[:eq], -1) {
				if !languageKeywords[m] {
					bound[m] = true
				}
			}
		}
		for _, loc := range identifierPattern.FindAllStringIndex(line, -1) {
			name := line[loc[0]:loc[1]]
			if languageKeywords[name] {
				continue
			}
			// Skip qualified references (Mod.fun) and direct calls.
			if loc[0] > 0 && (line[loc[0]-1] == '.' || line[loc[0]-1] == ':' || line[loc[0]-1] == '@') {
				continue
			}
			if loc[1] < len(line) && line[loc[1]] == '(' {
				continue
			}
			used[name] = true
		}
	}

	var out []string
	for name := range used {
		if !bound[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// buildFunction renders a new function definition in the file's language.
func buildFunction(language, indent, name string, params []string, body []string, private, addDoc bool) []string {
	paramList := strings.Join(params, ", ")
	var out []string

	switch language {
	case "elixir":
		if addDoc && !private {
			out = append(out, indent+`@doc """`, indent+"TODO: document "+name+".", indent+`"""`)
		}
		keyword := "def"
		if private {
			keyword = "defp"
		}
		head := fmt.Sprintf("%s%s %s(%s) do", indent, keyword, name, paramList)
		out = append(out, head)
		for _, line := range body {
			out = append(out, indent+"  "+line)
		}
		out = append(out, indent+"end")
	case "python":
		out = append(out, fmt.Sprintf("%sdef %s(%s):", indent, pyName(name, private), paramList))
		if addDoc {
			out = append(out, indent+`    """TODO: document `+name+`."""`)
		}
		for _, line := range body {
			out = append(out, indent+"    "+line)
		}
	case "go":
		out = append(out, fmt.Sprintf("%sfunc %s(%s) {", indent, name, paramList))
		for _, line := range body {
			out = append(out, indent+"\t"+line)
		}
		out = append(out, indent+"}")
	default: // javascript, typescript, ruby fall back to js-style
		out = append(out, fmt.Sprintf("%sfunction %s(%s) {", indent, name, paramList))
		for _, line := range body {
			out = append(out, indent+"  "+line)
		}
		out = append(out, indent+"}")
	}
	return out
}

func pyName(name string, private bool) string {
	if private && !strings.HasPrefix(name, "_") {
		return "_" + name
	}
	return name
}

func callExpr(language, name, args string) string {
	switch language {
	case "python":
		return fmt.Sprintf("%s(%s)", name, args)
	default:
		return fmt.Sprintf("%s(%s)", name, args)
	}
}

// dedent strips the common body indentation so re-indenting under the new
// head is uniform.
func dedent(body []string, indent string) []string {
	out := make([]string, len(body))
	for i, line := range body {
		out[i] = strings.TrimPrefix(line, indent)
	}
	return out
}

// moduleBodyEnd finds the line before the module's closing "end" (or the
// last line for brace/indent languages).
func moduleBodyEnd(sf *sourceFile) int {
	if sf.language == "elixir" || sf.language == "ruby" {
		for n := sf.lineCount(); n >= 1; n-- {
			if strings.TrimSpace(sf.line(n)) == "end" {
				return n - 1
			}
		}
	}
	return sf.lineCount()
}

// ExtractModuleParams describe functions to pull into a new module.
type ExtractModuleParams struct {
	SourceModule string
	NewModule    string

	// NewFile is the path for the new module; derived from the module
	// name when empty.
	NewFile string

	// Functions are the names to move (every arity of each).
	Functions []string

	// AddAlias inserts an alias of the new module into the source.
	AddAlias bool
}

// ExtractModule removes the named functions from the source module,
// creates a new module file containing them, and rewrites references —
// unqualified inside the source, qualified everywhere — to target the new
// module.
func (e *Engine) ExtractModule(ctx context.Context, p ExtractModuleParams) (*Result, error) {
	const op = "extract_module"
	if p.NewModule == "" || len(p.Functions) == 0 {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.ExtractModule", "new_module and functions are required")
	}

	mods, err := e.graph.ModulesByName(ctx, p.SourceModule)
	if err != nil {
		return nil, err
	}
	if len(mods) == 0 {
		return nil, ragexerr.New(ragexerr.NotFound, "refactor.ExtractModule", fmt.Sprintf("module %s not found", p.SourceModule))
	}
	srcMod := mods[0]

	sf, err := loadSource(e.root, srcMod.File, languageOf(srcMod.File))
	if err != nil {
		return nil, err
	}

	// Collect each function's span (all arities), bottom-up so removals
	// don't shift later spans.
	type span struct{ start, end int }
	var spans []span
	var movedTargets []*nodeRef
	for _, name := range p.Functions {
		nodes, err := e.graph.ResolveFunction(ctx, p.SourceModule, name, -1)
		if err != nil {
			return nil, err
		}
		if len(nodes) == 0 {
			return nil, ragexerr.New(ragexerr.NotFound, "refactor.ExtractModule",
				fmt.Sprintf("function %s not found in %s", name, p.SourceModule))
		}
		for _, node := range nodes {
			spans = append(spans, span{node.Line, spanEnd(sf, node)})
			movedTargets = append(movedTargets, &nodeRef{name: name, id: node.ID, file: node.File})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })

	var moved []string
	for _, s := range spans {
		block := make([]string, 0, s.end-s.start+1)
		for n := s.start; n <= s.end; n++ {
			block = append(block, sf.line(n))
		}
		moved = append(append(block, ""), moved...)
		sf.replaceRange(s.start, s.end, nil)
	}

	// New module file.
	newFile := p.NewFile
	if newFile == "" {
		newFile = derivedModulePath(srcMod.File, p.NewModule)
	}
	target := newSource(e.root, newFile, languageOf(newFile))
	target.lines = buildModuleFile(target.language, p.NewModule, moved)

	// Source rewrites: unqualified references become qualified, and an
	// optional alias is added.
	lastSegment := p.NewModule
	if idx := strings.LastIndex(lastSegment, "."); idx >= 0 {
		lastSegment = lastSegment[idx+1:]
	}
	for _, name := range p.Functions {
		renameFunctionRefs(sf, refRename{
			old: name, new: lastSegment + "." + name, arity: -1, mode: renameUnqualified,
		})
	}
	if p.AddAlias && sf.language == "elixir" {
		insertAliasLine(sf, p.NewModule)
	}

	files := []*sourceFile{sf, target}

	// Qualified references elsewhere: SrcModule.fn -> NewModule.fn.
	callerSeen := map[string]bool{srcMod.File: true, newFile: true}
	for _, ref := range movedTargets {
		edges, err := e.graph.Incoming(ctx, ref.id, "calls")
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			caller, err := e.graph.FindNode(ctx, "function", edge.From)
			if err != nil {
				return nil, err
			}
			if caller == nil || caller.File == "" || callerSeen[caller.File] {
				continue
			}
			callerSeen[caller.File] = true
			callerSf, err := loadSource(e.root, caller.File, languageOf(caller.File))
			if err != nil {
				continue
			}
			for _, name := range p.Functions {
				for _, q := range moduleSpellings(p.SourceModule) {
					for n := 1; n <= callerSf.lineCount(); n++ {
						line := callerSf.line(n)
						rewritten := strings.ReplaceAll(line, q+"."+name, lastSegment+"."+name)
						if rewritten != line {
							callerSf.setLine(n, rewritten)
						}
					}
				}
			}
			files = append(files, callerSf)
		}
	}

	description := fmt.Sprintf("extract %s from %s into %s", strings.Join(p.Functions, ", "), p.SourceModule, p.NewModule)
	return e.commit(ctx, op, description, map[string]any{
		"source_module": p.SourceModule, "new_module": p.NewModule, "functions": p.Functions,
	}, files)
}

type nodeRef struct {
	name string
	id   string
	file string
}

// derivedModulePath places the new module next to its source, snake-cased.
func derivedModulePath(sourceFile, moduleName string) string {
	dir := ""
	if idx := strings.LastIndex(sourceFile, "/"); idx >= 0 {
		dir = sourceFile[:idx+1]
	}
	base := moduleName
	if idx := strings.LastIndex(base, "."); idx >= 0 {
		base = base[idx+1:]
	}
	ext := ".ex"
	if idx := strings.LastIndex(sourceFile, "."); idx >= 0 {
		ext = sourceFile[idx:]
	}
	return dir + toSnake(base) + ext
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// buildModuleFile wraps moved function bodies in a module shell.
func buildModuleFile(language, moduleName string, body []string) []string {
	switch language {
	case "elixir":
		out := []string{"defmodule " + moduleName + " do"}
		for _, line := range body {
			if line == "" {
				out = append(out, "")
				continue
			}
			out = append(out, "  "+strings.TrimPrefix(line, "  "))
		}
		out = append(out, "end")
		return out
	case "python":
		return append([]string{}, body...)
	default:
		return append([]string{}, body...)
	}
}

// insertAliasLine adds "alias Mod" after the defmodule line, after any
// existing aliases.
func insertAliasLine(sf *sourceFile, moduleName string) {
	insertAt := 1
	for n := 1; n <= sf.lineCount(); n++ {
		trimmed := strings.TrimSpace(sf.line(n))
		if strings.HasPrefix(trimmed, "defmodule ") {
			insertAt = n
			continue
		}
		if strings.HasPrefix(trimmed, "alias ") || strings.HasPrefix(trimmed, "use ") || strings.HasPrefix(trimmed, "import ") {
			insertAt = n
		}
	}
	sf.insertAfter(insertAt, []string{"  alias " + moduleName})
}

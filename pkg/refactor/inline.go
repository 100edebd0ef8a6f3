// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package refactor

import (
	"context"
	"fmt"
	"strings"

	"github.com/kraklabs/ragex/pkg/graphstore"
	"github.com/kraklabs/ragex/pkg/ragexerr"
	"github.com/kraklabs/ragex/pkg/sigparse"
)

// InlineFunctionParams identify the function to inline away.
type InlineFunctionParams struct {
	Module   string
	Function string
	Arity    int
}

// InlineFunction substitutes a function's body at every call site and
// removes the definition. Multi-clause functions are refused: choosing the
// right clause per call site would require evaluating pattern matches.
func (e *Engine) InlineFunction(ctx context.Context, p InlineFunctionParams) (*Result, error) {
	const op = "inline_function"

	target, err := e.resolveSingleFunction(ctx, p.Module, p.Function, p.Arity)
	if err != nil {
		return nil, err
	}

	sf, err := loadSource(e.root, target.File, languageOf(target.File))
	if err != nil {
		return nil, err
	}

	if clauses := findDefLines(sf, p.Function); len(clauses) > 1 {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.InlineFunction",
			fmt.Sprintf("%s.%s has %d clauses; inlining multi-clause functions is not supported", p.Module, p.Function, len(clauses)))
	}

	defStart := target.Line
	defEnd := spanEnd(sf, target)
	params := extractParamNames(sf.line(defStart), sf.language)
	body := functionBodyLines(sf, defStart, defEnd)
	if len(body) == 0 {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.InlineFunction",
			fmt.Sprintf("%s.%s has no extractable body", p.Module, p.Function))
	}

	// Rewrite call sites in the defining file and in every caller file.
	inlineCalls(sf, p.Function, params, body, defStart, defEnd)

	files := []*sourceFile{sf}
	callerPaths, err := e.callerFiles(ctx, []*graphstore.Node{target})
	if err != nil {
		return nil, err
	}
	for _, path := range callerPaths {
		callerSf, err := loadSource(e.root, path, languageOf(path))
		if err != nil {
			continue
		}
		inlineCalls(callerSf, p.Function, params, body, 0, 0)
		// Qualified calls need the module prefix stripped too.
		for _, q := range moduleSpellings(p.Module) {
			inlineQualifiedCalls(callerSf, q, p.Function, params, body)
		}
		files = append(files, callerSf)
	}

	// Remove the definition last so call-site line numbers above were
	// computed against intact content.
	sf.replaceRange(defStart, defEnd, nil)
	trimBlankRun(sf, defStart)

	description := fmt.Sprintf("inline %s.%s/%s", p.Module, p.Function, arityLabel(p.Arity))
	return e.commit(ctx, op, description, map[string]any{
		"module": p.Module, "function": p.Function, "arity": p.Arity,
	}, files)
}

// inlineCalls replaces direct calls "name(args)" with the substituted
// body expression. Only single-expression bodies inline into expression
// position; longer bodies replace statement-position calls line by line.
func inlineCalls(sf *sourceFile, name string, params, body []string, skipStart, skipEnd int) {
	single := len(body) == 1
	for n := sf.lineCount(); n >= 1; n-- {
		if skipStart > 0 && n >= skipStart && n <= skipEnd {
			continue
		}
		line := sf.line(n)
		idx := findCallStart(line, name)
		if idx < 0 {
			continue
		}
		open := idx + len(name)
		for open < len(line) && isSpaceByte(line[open]) {
			open++
		}
		if open >= len(line) || line[open] != '(' {
			continue
		}
		closeIdx := matchParen(line, open)
		if closeIdx < 0 {
			continue
		}
		args := splitTopLevelArgs(line[open+1 : closeIdx])
		if len(args) != len(params) {
			continue
		}

		substituted := substituteAll(body, params, args)
		if single {
			sf.setLine(n, line[:idx]+parenthesize(substituted[0])+line[closeIdx+1:])
			continue
		}
		// Statement position: the call must be the whole line.
		if strings.TrimSpace(line[:idx]) == "" && strings.TrimSpace(line[closeIdx+1:]) == "" {
			indent := leadingWhitespace(line)
			replacement := make([]string, len(substituted))
			for i, b := range substituted {
				replacement[i] = indent + b
			}
			sf.replaceRange(n, n, replacement)
		}
	}
}

// inlineQualifiedCalls handles "Mod.name(args)" call sites.
func inlineQualifiedCalls(sf *sourceFile, qualifier, name string, params, body []string) {
	inlineCalls(sf, qualifier+"."+name, params, body, 0, 0)
}

// findCallStart locates a standalone call of name in the line, or -1.
func findCallStart(line, name string) int {
	for idx := 0; ; {
		rel := strings.Index(line[idx:], name)
		if rel < 0 {
			return -1
		}
		start := idx + rel
		idx = start + 1
		if start > 0 && (isWordByte(line[start-1]) || line[start-1] == '.' || line[start-1] == '&' || line[start-1] == '@') {
			// Qualified and capture forms are handled separately; defs
			// were excluded by the caller's skip range.
			if line[start-1] != '.' || !strings.Contains(name, ".") {
				continue
			}
		}
		end := start + len(name)
		if end < len(line) && isWordByte(line[end]) {
			continue
		}
		return start
	}
}

func matchParen(line string, open int) int {
	depth := 0
	for i := open; i < len(line); i++ {
		switch line[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// substituteAll replaces parameter identifiers with argument expressions
// in every body line.
func substituteAll(body, params, args []string) []string {
	out := make([]string, len(body))
	for i, line := range body {
		for j, param := range params {
			line = renameIdentInLine(line, param, args[j], renameUnqualified, "")
		}
		out[i] = line
	}
	return out
}

// parenthesize wraps multi-token expressions so precedence survives
// substitution into expression position.
func parenthesize(expr string) string {
	trimmed := strings.TrimSpace(expr)
	if !strings.ContainsAny(trimmed, " +-*/|<>=") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "(") && matchParen(trimmed, 0) == len(trimmed)-1 {
		return trimmed
	}
	return "(" + trimmed + ")"
}

// extractParamNames pulls the parameter names out of a definition head.
func extractParamNames(defLine, language string) []string {
	if language == "go" {
		var names []string
		for _, p := range sigparse.ParseGoParams(defLine) {
			if p.Name != "" {
				names = append(names, p.Name)
			}
		}
		return names
	}

	open := strings.Index(defLine, "(")
	if open < 0 {
		return nil
	}
	closeIdx := matchParen(defLine, open)
	if closeIdx < 0 {
		return nil
	}
	raw := defLine[open+1 : closeIdx]
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var names []string
	for _, part := range splitTopLevelArgs(raw) {
		name := part
		// Strip defaults ("x \\ 1", "x = 1") and type annotations.
		for _, sep := range []string{"\\\\", "=", ":"} {
			if i := strings.Index(name, sep); i >= 0 {
				name = name[:i]
			}
		}
		name = strings.TrimSpace(name)
		if m := identifierPattern.FindString(name); m != "" {
			names = append(names, m)
		}
	}
	return names
}

// functionBodyLines returns the body between the head and terminator,
// dedented. Single-line ", do:" definitions yield the inline expression.
func functionBodyLines(sf *sourceFile, defStart, defEnd int) []string {
	head := sf.line(defStart)
	if i := strings.Index(head, "do:"); i >= 0 {
		return []string{strings.TrimSpace(head[i+len("do:"):])}
	}
	if defEnd <= defStart {
		return nil
	}
	bodyEnd := defEnd
	switch sf.language {
	case "python":
		// No terminator line.
	default:
		bodyEnd = defEnd - 1
	}
	if bodyEnd < defStart+1 {
		return nil
	}
	lines := make([]string, 0, bodyEnd-defStart)
	for n := defStart + 1; n <= bodyEnd; n++ {
		lines = append(lines, sf.line(n))
	}
	if len(lines) == 0 {
		return nil
	}
	indent := leadingWhitespace(lines[0])
	return dedent(lines, indent)
}

// trimBlankRun collapses consecutive blank lines left behind at n.
func trimBlankRun(sf *sourceFile, n int) {
	for n >= 1 && n <= sf.lineCount() && strings.TrimSpace(sf.line(n)) == "" {
		if n > 1 && strings.TrimSpace(sf.line(n-1)) == "" {
			sf.replaceRange(n, n, nil)
			continue
		}
		break
	}
}

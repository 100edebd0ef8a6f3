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
)

// AddedParam is one parameter added by a signature change.
type AddedParam struct {
	Name     string `json:"name"`
	Position int    `json:"position"` // 0-based insertion index
	Default  string `json:"default,omitempty"`
}

// RenamedParam maps an old parameter name to a new one.
type RenamedParam struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// ChangeSignatureParams describe a signature transformation. The four
// change kinds are applied in a fixed order (rename, remove, reorder,
// add), so positions in later steps refer to the list produced by the
// earlier ones.
type ChangeSignatureParams struct {
	Module   string
	Function string
	OldArity int

	RenameParams  []RenamedParam
	RemoveParams  []int // 0-based positions
	ReorderParams []int // permutation of 0-based positions
	AddParams     []AddedParam
}

func changeSignatureParamsFromMap(params map[string]any) ChangeSignatureParams {
	p := ChangeSignatureParams{
		Module:   strParam(params, "module"),
		Function: strParam(params, "function"),
		OldArity: intParam(params, "old_arity", -1),
	}
	if renames, ok := params["rename_params"].([]any); ok {
		for _, r := range renames {
			if m, ok := r.(map[string]any); ok {
				p.RenameParams = append(p.RenameParams, RenamedParam{Old: strParam(m, "old"), New: strParam(m, "new")})
			}
		}
	}
	if removes, ok := params["remove_params"].([]any); ok {
		for _, r := range removes {
			if f, ok := r.(float64); ok {
				p.RemoveParams = append(p.RemoveParams, int(f))
			}
		}
	}
	if reorder, ok := params["reorder_params"].([]any); ok {
		for _, r := range reorder {
			if f, ok := r.(float64); ok {
				p.ReorderParams = append(p.ReorderParams, int(f))
			}
		}
	}
	if adds, ok := params["add_params"].([]any); ok {
		for _, a := range adds {
			if m, ok := a.(map[string]any); ok {
				p.AddParams = append(p.AddParams, AddedParam{
					Name:     strParam(m, "name"),
					Position: intParam(m, "position", 0),
					Default:  strParam(m, "default"),
				})
			}
		}
	}
	return p
}

// ChangeSignature updates a function's definition head and every call site.
// Added parameters receive their declared default (or nil) at each call
// site; removed positions drop the argument; reorders permute arguments.
func (e *Engine) ChangeSignature(ctx context.Context, p ChangeSignatureParams) (*Result, error) {
	const op = "change_signature"

	target, err := e.resolveSingleFunction(ctx, p.Module, p.Function, p.OldArity)
	if err != nil {
		return nil, err
	}
	sf, err := loadSource(e.root, target.File, languageOf(target.File))
	if err != nil {
		return nil, err
	}

	// Definition head.
	defLine := sf.line(target.Line)
	newDef, err := transformDefLine(defLine, sf.language, p)
	if err != nil {
		return nil, err
	}
	sf.setLine(target.Line, newDef)

	// Parameter renames also touch the body.
	bodyEnd := spanEnd(sf, target)
	for _, r := range p.RenameParams {
		for n := target.Line + 1; n <= bodyEnd; n++ {
			line := sf.line(n)
			rewritten := renameIdentInLine(line, r.Old, r.New, renameUnqualified, "")
			if rewritten != line {
				sf.setLine(n, rewritten)
			}
		}
	}

	// Call sites: defining file plus every caller file. Renames don't
	// touch call sites; remove/reorder/add do.
	argsChange := len(p.RemoveParams) > 0 || len(p.ReorderParams) > 0 || len(p.AddParams) > 0
	files := []*sourceFile{sf}
	if argsChange {
		rewriteCallArgs(sf, p, target.Line)
		callerPaths, err := e.callerFiles(ctx, []*graphstore.Node{target})
		if err != nil {
			return nil, err
		}
		for _, path := range callerPaths {
			callerSf, err := loadSource(e.root, path, languageOf(path))
			if err != nil {
				continue
			}
			rewriteCallArgs(callerSf, p, 0)
			files = append(files, callerSf)
		}
	}

	description := fmt.Sprintf("change signature of %s.%s/%s", p.Module, p.Function, arityLabel(p.OldArity))
	return e.commit(ctx, op, description, map[string]any{
		"module": p.Module, "function": p.Function, "old_arity": p.OldArity,
	}, files)
}

// transformDefLine rewrites the parameter list in a definition head.
func transformDefLine(defLine, language string, p ChangeSignatureParams) (string, error) {
	open := strings.Index(defLine, "(")
	if open < 0 {
		// Zero-arity head without parens (Elixir); adding params needs a
		// paren list.
		if len(p.AddParams) == 0 {
			return defLine, nil
		}
		names := make([]string, len(p.AddParams))
		for i, a := range p.AddParams {
			names[i] = a.Name
		}
		return defLine + "(" + strings.Join(names, ", ") + ")", nil
	}
	closeIdx := matchParen(defLine, open)
	if closeIdx < 0 {
		return "", ragexerr.New(ragexerr.Invalid, "refactor.ChangeSignature", "definition head spans multiple lines; not supported")
	}

	params := splitTopLevelArgs(defLine[open+1 : closeIdx])
	params, err := applySignatureSteps(params, p, true)
	if err != nil {
		return "", err
	}
	return defLine[:open+1] + strings.Join(params, ", ") + defLine[closeIdx:], nil
}

// rewriteCallArgs updates every direct and qualified call's argument list.
func rewriteCallArgs(sf *sourceFile, p ChangeSignatureParams, defLineNo int) {
	names := append(moduleSpellings(p.Module), "")
	for n := 1; n <= sf.lineCount(); n++ {
		if n == defLineNo {
			continue
		}
		line := sf.line(n)
		for _, q := range names {
			callName := p.Function
			if q != "" {
				callName = q + "." + p.Function
			}
			idx := findCallStart(line, callName)
			if idx < 0 {
				continue
			}
			open := idx + len(callName)
			if open >= len(line) || line[open] != '(' {
				continue
			}
			closeIdx := matchParen(line, open)
			if closeIdx < 0 {
				continue
			}
			args := splitTopLevelArgs(line[open+1 : closeIdx])
			if p.OldArity >= 0 && len(args) != p.OldArity {
				continue
			}
			newArgs, err := applySignatureSteps(args, p, false)
			if err != nil {
				continue
			}
			line = line[:open+1] + strings.Join(newArgs, ", ") + line[closeIdx:]
			sf.setLine(n, line)
		}
	}
}

// applySignatureSteps runs rename → remove → reorder → add over a
// parameter or argument list. atDefinition controls what "add" inserts:
// the parameter name at the definition, the default expression at a call.
func applySignatureSteps(list []string, p ChangeSignatureParams, atDefinition bool) ([]string, error) {
	// 1. rename (definitions only; call arguments are expressions)
	if atDefinition {
		for _, r := range p.RenameParams {
			for i, item := range list {
				if strings.TrimSpace(item) == r.Old {
					list[i] = r.New
				}
			}
		}
	}

	// 2. remove, highest position first
	removes := append([]int(nil), p.RemoveParams...)
	sortDesc(removes)
	for _, pos := range removes {
		if pos < 0 || pos >= len(list) {
			return nil, ragexerr.New(ragexerr.Invalid, "refactor.ChangeSignature",
				fmt.Sprintf("remove position %d out of range", pos))
		}
		list = append(list[:pos], list[pos+1:]...)
	}

	// 3. reorder
	if len(p.ReorderParams) > 0 {
		if len(p.ReorderParams) != len(list) {
			return nil, ragexerr.New(ragexerr.Invalid, "refactor.ChangeSignature",
				fmt.Sprintf("reorder permutation has %d entries for %d parameters", len(p.ReorderParams), len(list)))
		}
		reordered := make([]string, len(list))
		for newPos, oldPos := range p.ReorderParams {
			if oldPos < 0 || oldPos >= len(list) {
				return nil, ragexerr.New(ragexerr.Invalid, "refactor.ChangeSignature",
					fmt.Sprintf("reorder position %d out of range", oldPos))
			}
			reordered[newPos] = list[oldPos]
		}
		list = reordered
	}

	// 4. add
	for _, add := range p.AddParams {
		value := add.Name
		if !atDefinition {
			value = add.Default
			if value == "" {
				value = "nil"
			}
		}
		pos := add.Position
		if pos < 0 || pos > len(list) {
			pos = len(list)
		}
		list = append(list[:pos], append([]string{value}, list[pos:]...)...)
	}
	return list, nil
}

func sortDesc(xs []int) {
	for i := 0; i < len(xs); i++ {
		for j := i + 1; j < len(xs); j++ {
			if xs[j] > xs[i] {
				xs[i], xs[j] = xs[j], xs[i]
			}
		}
	}
}

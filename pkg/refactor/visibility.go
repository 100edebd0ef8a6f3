// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package refactor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kraklabs/ragex/pkg/ragexerr"
)

// ConvertVisibilityParams identify a function and its target visibility.
type ConvertVisibilityParams struct {
	Module     string
	Function   string
	Arity      int
	Visibility string // "public" or "private"
	AddDoc     bool
}

var visibilityKeyword = regexp.MustCompile(`^(\s*)(defmacrop|defmacro|defp|def)(\s+)`)

// ConvertVisibility flips a function between def and defp (and the macro
// equivalents). Only do/end-family languages carry an explicit visibility
// keyword; for everything else visibility is encoded in the name and this
// operation is rejected — use rename_function instead.
func (e *Engine) ConvertVisibility(ctx context.Context, p ConvertVisibilityParams) (*Result, error) {
	const op = "convert_visibility"
	if p.Visibility != "public" && p.Visibility != "private" {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.ConvertVisibility", `visibility must be "public" or "private"`)
	}

	target, err := e.resolveSingleFunction(ctx, p.Module, p.Function, p.Arity)
	if err != nil {
		return nil, err
	}

	language := languageOf(target.File)
	if language != "elixir" {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.ConvertVisibility",
			fmt.Sprintf("visibility keywords are not a %s concept; rename the function to change its convention", language))
	}

	sf, err := loadSource(e.root, target.File, language)
	if err != nil {
		return nil, err
	}

	// Rewrite every clause head of the function (multi-clause functions
	// share one visibility).
	defLines := findDefLines(sf, p.Function)
	if len(defLines) == 0 {
		return nil, ragexerr.New(ragexerr.NotFound, "refactor.ConvertVisibility",
			fmt.Sprintf("no definition of %s found in %s", p.Function, target.File)).WithPath(target.File)
	}

	flipped := 0
	for _, n := range defLines {
		line := sf.line(n)
		m := visibilityKeyword.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		replacement := flipKeyword(m[2], p.Visibility)
		if replacement == m[2] {
			continue
		}
		sf.setLine(n, m[1]+replacement+m[3]+line[len(m[0]):])
		flipped++
	}
	if flipped == 0 {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.ConvertVisibility",
			fmt.Sprintf("%s.%s is already %s", p.Module, p.Function, p.Visibility))
	}

	if p.AddDoc && p.Visibility == "public" {
		first := defLines[0]
		indent := leadingWhitespace(sf.line(first))
		sf.insertAfter(first-1, []string{
			indent + `@doc """`,
			indent + `TODO: document ` + p.Function + `.`,
			indent + `"""`,
		})
	}

	description := fmt.Sprintf("convert %s.%s/%s to %s", p.Module, p.Function, arityLabel(p.Arity), p.Visibility)
	return e.commit(ctx, op, description, map[string]any{
		"module": p.Module, "function": p.Function, "arity": p.Arity, "visibility": p.Visibility,
	}, []*sourceFile{sf})
}

func flipKeyword(keyword, visibility string) string {
	switch keyword {
	case "def":
		if visibility == "private" {
			return "defp"
		}
	case "defp":
		if visibility == "public" {
			return "def"
		}
	case "defmacro":
		if visibility == "private" {
			return "defmacrop"
		}
	case "defmacrop":
		if visibility == "public" {
			return "defmacro"
		}
	}
	return keyword
}

func leadingWhitespace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

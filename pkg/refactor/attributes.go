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

// AttributeChange names a module attribute and its value.
type AttributeChange struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// ModifyAttributesParams describe attribute edits on a module.
type ModifyAttributesParams struct {
	Module string

	Add    []AttributeChange
	Remove []string
	Update []AttributeChange
}

func modifyAttributesParamsFromMap(params map[string]any) ModifyAttributesParams {
	p := ModifyAttributesParams{Module: strParam(params, "module")}
	decode := func(key string) []AttributeChange {
		var out []AttributeChange
		if items, ok := params[key].([]any); ok {
			for _, item := range items {
				if m, ok := item.(map[string]any); ok {
					out = append(out, AttributeChange{Name: strParam(m, "name"), Value: strParam(m, "value")})
				}
			}
		}
		return out
	}
	p.Add = decode("add")
	p.Update = decode("update")
	p.Remove = strSliceParam(params, "remove")
	return p
}

// ModifyAttributes adds, removes, or replaces module-level attributes in a
// module's file and commits the rewrite.
func (e *Engine) ModifyAttributes(ctx context.Context, p ModifyAttributesParams) (*Result, error) {
	const op = "modify_attributes"

	mods, err := e.graph.ModulesByName(ctx, p.Module)
	if err != nil {
		return nil, err
	}
	if len(mods) == 0 {
		return nil, ragexerr.New(ragexerr.NotFound, "refactor.ModifyAttributes", fmt.Sprintf("module %s not found", p.Module))
	}

	sf, err := loadSource(e.root, mods[0].File, languageOf(mods[0].File))
	if err != nil {
		return nil, err
	}
	if sf.language != "elixir" {
		return nil, ragexerr.New(ragexerr.Invalid, "refactor.ModifyAttributes",
			fmt.Sprintf("module attributes are not a %s concept", sf.language))
	}

	content := strings.Join(sf.lines, "\n")
	modified, err := ModifyAttributeContent(content, p.Add, p.Remove, p.Update)
	if err != nil {
		return nil, err
	}
	sf.lines = strings.Split(modified, "\n")

	description := fmt.Sprintf("modify attributes of %s (+%d -%d ~%d)", p.Module, len(p.Add), len(p.Remove), len(p.Update))
	return e.commit(ctx, op, description, map[string]any{"module": p.Module}, []*sourceFile{sf})
}

var attributeLinePattern = regexp.MustCompile(`^(\s*)@([a-z_][A-Za-z0-9_]*)\b`)

// ModifyAttributeContent is the pure transformation: adds go before the
// first existing attribute (or after the module head when none exist),
// updates replace in place, removals collapse the line. Relative order of
// untouched attributes is preserved.
func ModifyAttributeContent(content string, add []AttributeChange, remove []string, update []AttributeChange) (string, error) {
	lines := strings.Split(content, "\n")

	removeSet := make(map[string]bool, len(remove))
	for _, name := range remove {
		removeSet[name] = true
	}
	updates := make(map[string]string, len(update))
	for _, u := range update {
		updates[u.Name] = u.Value
	}

	firstAttrLine := -1
	moduleHeadLine := -1
	var out []string
	for i, line := range lines {
		if moduleHeadLine < 0 && strings.HasPrefix(strings.TrimSpace(line), "defmodule ") {
			moduleHeadLine = i
		}
		m := attributeLinePattern.FindStringSubmatch(line)
		if m == nil {
			out = append(out, line)
			continue
		}
		indent, name := m[1], m[2]
		if firstAttrLine < 0 {
			firstAttrLine = len(out)
		}
		if removeSet[name] {
			continue // collapsed
		}
		if value, ok := updates[name]; ok {
			out = append(out, fmt.Sprintf("%s@%s %s", indent, name, value))
			delete(updates, name)
			continue
		}
		out = append(out, line)
	}

	for name := range updates {
		return "", ragexerr.New(ragexerr.NotFound, "refactor.ModifyAttributeContent",
			fmt.Sprintf("attribute @%s not present; use add", name))
	}

	if len(add) > 0 {
		indent := "  "
		insertAt := firstAttrLine
		if insertAt < 0 {
			insertAt = moduleHeadLine + 1
			if moduleHeadLine < 0 {
				insertAt = 0
			}
		}
		added := make([]string, len(add))
		for i, a := range add {
			added[i] = fmt.Sprintf("%s@%s %s", indent, a.Name, a.Value)
		}
		out = append(out[:insertAt], append(added, out[insertAt:]...)...)
	}

	return strings.Join(out, "\n"), nil
}

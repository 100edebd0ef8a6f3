// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// JavaScript/TypeScript analyzer. Declared functions, class methods, and
// named arrow/function expressions become Function entities; classes (and
// for TypeScript, interfaces and type aliases) become Type entities.
// Arity counts declared parameters; visibility follows the #private field
// convention plus TypeScript's private keyword when present in the
// signature.

// jsExtractor carries the per-file extraction state through one AST walk.
type jsExtractor struct {
	parser     *TreeSitterParser
	content    []byte
	filePath   string
	typescript bool

	functions []FunctionEntity
	types     []TypeEntity
	nameToID  map[string]string
	anonymous int
}

// parseJavaScriptAST extracts entities from JavaScript source.
func (p *TreeSitterParser) parseJavaScriptAST(parser *sitter.Parser, content []byte, filePath string) ([]FunctionEntity, []TypeEntity, []CallsEdge, error) {
	return p.parseECMAScript(parser, content, filePath, false)
}

// parseTypeScriptAST extracts entities from TypeScript source: the
// JavaScript walk plus interface and type-alias declarations.
func (p *TreeSitterParser) parseTypeScriptAST(parser *sitter.Parser, content []byte, filePath string) ([]FunctionEntity, []TypeEntity, []CallsEdge, error) {
	return p.parseECMAScript(parser, content, filePath, true)
}

func (p *TreeSitterParser) parseECMAScript(parser *sitter.Parser, content []byte, filePath string, typescript bool) ([]FunctionEntity, []TypeEntity, []CallsEdge, error) {
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		if n := countErrors(root); n > 0 {
			p.logger.Warn("parser.treesitter.js.syntax_errors", "path", filePath, "error_count", n)
		}
	}

	ex := &jsExtractor{
		parser:     p,
		content:    content,
		filePath:   filePath,
		typescript: typescript,
		nameToID:   make(map[string]string),
	}
	ex.walk(root, "")

	var calls []CallsEdge
	for _, fn := range ex.functions {
		calls = append(calls, ex.callsWithin(root, fn)...)
	}
	return ex.functions, ex.types, calls, nil
}

// walk descends the tree collecting definitions. enclosingClass qualifies
// method names ("Class.method").
func (ex *jsExtractor) walk(node *sitter.Node, enclosingClass string) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "function_declaration", "generator_function_declaration":
		ex.addNamedFunction(node, enclosingClass)
	case "method_definition":
		ex.addMethod(node, enclosingClass)
	case "variable_declarator":
		ex.addDeclaratorFunction(node)
	case "class_declaration":
		ex.addType(node, "class")
		className := ex.fieldText(node, "name")
		for i := 0; i < int(node.ChildCount()); i++ {
			ex.walk(node.Child(i), className)
		}
		return
	case "interface_declaration":
		if ex.typescript {
			ex.addType(node, "interface")
		}
	case "type_alias_declaration":
		if ex.typescript {
			ex.addType(node, "type_alias")
		}
	case "arrow_function", "function_expression":
		// Named forms were claimed by their declarator/property parent;
		// anything reached here is anonymous.
		if !ex.isClaimedByParent(node) {
			ex.anonymous++
			ex.addAnonymous(node, ex.anonymous)
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		ex.walk(node.Child(i), enclosingClass)
	}
}

// isClaimedByParent reports whether a function expression is the value of
// a named declarator or property, which records it under its name instead.
func (ex *jsExtractor) isClaimedByParent(node *sitter.Node) bool {
	parent := node.Parent()
	if parent == nil {
		return false
	}
	switch parent.Type() {
	case "variable_declarator", "pair", "assignment_expression", "method_definition":
		return true
	}
	return false
}

func (ex *jsExtractor) addNamedFunction(node *sitter.Node, enclosingClass string) {
	name := ex.fieldText(node, "name")
	if name == "" {
		return
	}
	qualified := name
	if enclosingClass != "" {
		qualified = enclosingClass + "." + name
	}
	params := ex.fieldText(node, "parameters")
	ex.record(node, qualified, "function "+name+params, params, "public")
}

func (ex *jsExtractor) addMethod(node *sitter.Node, enclosingClass string) {
	name := ex.fieldText(node, "name")
	if name == "" {
		return
	}
	visibility := "public"
	if strings.HasPrefix(name, "#") {
		visibility = "private"
		name = strings.TrimPrefix(name, "#")
	}
	head := headOf(ex.text(node))
	if ex.typescript && strings.HasPrefix(head, "private ") {
		visibility = "private"
	}

	qualified := name
	if enclosingClass != "" {
		qualified = enclosingClass + "." + name
	}
	params := ex.fieldText(node, "parameters")
	ex.record(node, qualified, head, params, visibility)
}

// addDeclaratorFunction records `const name = () => ...` and
// `const name = function(...)` forms under the declared name.
func (ex *jsExtractor) addDeclaratorFunction(node *sitter.Node) {
	value := node.ChildByFieldName("value")
	if value == nil {
		return
	}
	if t := value.Type(); t != "arrow_function" && t != "function_expression" && t != "function" {
		return
	}
	name := ex.fieldText(node, "name")
	if name == "" {
		return
	}
	params := ex.fieldText(value, "parameters")
	if params == "" {
		// Single-parameter arrows may omit parens.
		if p := value.ChildByFieldName("parameter"); p != nil {
			params = "(" + ex.text(p) + ")"
		}
	}
	ex.record(value, name, "const "+name+" = "+headOf(ex.text(value)), params, "public")
}

func (ex *jsExtractor) addAnonymous(node *sitter.Node, index int) {
	name := fmt.Sprintf("$anonymous_%d", index)
	params := ex.fieldText(node, "parameters")
	ex.record(node, name, headOf(ex.text(node)), params, "private")
}

// record appends one function entity from a definition node.
func (ex *jsExtractor) record(node *sitter.Node, name, signature, params, visibility string) {
	start, end, startCol, endCol := nodeRange(node)
	entity := FunctionEntity{
		ID:         GenerateFunctionID(ex.filePath, name, signature, start, end, startCol, endCol),
		Name:       name,
		Signature:  signature,
		FilePath:   ex.filePath,
		ModuleID:   GenerateModuleID(ex.filePath),
		Arity:      FunctionArity("f"+params, "javascript"),
		Visibility: visibility,
		CodeText:   ex.parser.truncateCodeText(ex.text(node)),
		StartLine:  start,
		EndLine:    end,
		StartCol:   startCol,
		EndCol:     endCol,
	}
	ex.functions = append(ex.functions, entity)
	if _, taken := ex.nameToID[name]; !taken {
		ex.nameToID[name] = entity.ID
	}
	// Methods also resolve by bare name within the file.
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		leaf := name[idx+1:]
		if _, taken := ex.nameToID[leaf]; !taken {
			ex.nameToID[leaf] = entity.ID
		}
	}
}

func (ex *jsExtractor) addType(node *sitter.Node, kind string) {
	name := ex.fieldText(node, "name")
	if name == "" {
		return
	}
	start, end, startCol, endCol := nodeRange(node)
	ex.types = append(ex.types, TypeEntity{
		ID:        GenerateTypeID(ex.filePath, name, start, end),
		Name:      name,
		Kind:      kind,
		FilePath:  ex.filePath,
		CodeText:  ex.parser.truncateCodeText(ex.text(node)),
		StartLine: start,
		EndLine:   end,
		StartCol:  startCol,
		EndCol:    endCol,
	})
}

// callsWithin collects edges for calls made inside one function's span.
func (ex *jsExtractor) callsWithin(root *sitter.Node, caller FunctionEntity) []CallsEdge {
	fnNode := findNodeAtPosition(root, uint32(caller.StartLine-1), uint32(caller.StartCol-1)) //nolint:gosec // G115: line/col from parsed source are bounded
	if fnNode == nil {
		return nil
	}

	var calls []CallsEdge
	var visit func(node *sitter.Node)
	visit = func(node *sitter.Node) {
		if node == nil {
			return
		}
		if node.Type() == "call_expression" {
			if callee := ex.calleeName(node.ChildByFieldName("function")); callee != "" {
				if calleeID, ok := ex.nameToID[callee]; ok && calleeID != caller.ID {
					calls = append(calls, CallsEdge{
						CallerID: caller.ID,
						CalleeID: calleeID,
						CallLine: int(node.StartPoint().Row) + 1,
					})
				}
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			visit(node.Child(i))
		}
	}
	visit(fnNode)
	return calls
}

// calleeName resolves the called name: identifiers directly, member
// expressions (obj.method()) by their property.
func (ex *jsExtractor) calleeName(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	switch node.Type() {
	case "identifier":
		return ex.text(node)
	case "member_expression":
		if prop := node.ChildByFieldName("property"); prop != nil {
			return ex.text(prop)
		}
	}
	return ""
}

func (ex *jsExtractor) text(node *sitter.Node) string {
	return string(ex.content[node.StartByte():node.EndByte()])
}

func (ex *jsExtractor) fieldText(node *sitter.Node, field string) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return ex.text(child)
}

// headOf truncates a definition's text to a one-line signature.
func headOf(code string) string {
	if idx := strings.IndexAny(code, "{\n"); idx > 0 {
		code = code[:idx]
	}
	code = strings.TrimSpace(code)
	if len(code) > 100 {
		code = code[:100] + "..."
	}
	return code
}

// ---------------------------------------------------------------------------
// Simplified JS/TS analyzer (no Tree-sitter): line scanning for function
// and arrow declarations, brace matching for spans, comment/string-aware
// call detection.
// ---------------------------------------------------------------------------

// parseJSFile extracts functions from JavaScript/TypeScript source with
// pattern matching. Class methods and deeply nested expressions may be
// missed.
func (p *Parser) parseJSFile(content, filePath string) ([]FunctionEntity, []CallsEdge) {
	lines := strings.Split(content, "\n")
	var functions []FunctionEntity

	for i, line := range lines {
		name, signature := jsDeclarationOn(strings.TrimSpace(line))
		if name == "" {
			continue
		}
		endLine := jsBlockEnd(lines, i)
		code := strings.Join(lines[i:endLine], "\n")
		functions = append(functions, FunctionEntity{
			ID:         GenerateFunctionID(filePath, name, signature, i+1, endLine, 1, len(line)),
			Name:       name,
			Signature:  signature,
			FilePath:   filePath,
			ModuleID:   GenerateModuleID(filePath),
			Arity:      FunctionArity(signature, "javascript"),
			Visibility: "public",
			CodeText:   p.truncateCodeText(code),
			StartLine:  i + 1,
			EndLine:    endLine,
			StartCol:   1,
			EndCol:     len(line),
		})
	}

	return functions, sameFileCalls(functions, scanJSCalls)
}

// jsDeclarationOn recognizes the common single-line declaration heads:
// "function name(...)", "export function name(...)",
// "const name = (...) =>", "let name = function(...)".
func jsDeclarationOn(trimmed string) (name, signature string) {
	rest := strings.TrimPrefix(trimmed, "export ")
	rest = strings.TrimPrefix(rest, "default ")
	rest = strings.TrimPrefix(rest, "async ")

	if strings.HasPrefix(rest, "function ") {
		head := strings.TrimPrefix(rest, "function ")
		paren := strings.Index(head, "(")
		if paren <= 0 {
			return "", ""
		}
		name = strings.TrimSpace(strings.TrimSuffix(head[:paren], "*"))
		if !validJSIdentifier(name) {
			return "", ""
		}
		return name, headOf(trimmed)
	}

	for _, kw := range []string{"const ", "let ", "var "} {
		if !strings.HasPrefix(rest, kw) {
			continue
		}
		decl := strings.TrimPrefix(rest, kw)
		eq := strings.Index(decl, "=")
		if eq <= 0 {
			return "", ""
		}
		candidate := strings.TrimSpace(decl[:eq])
		// Strip a TypeScript type annotation from the declared name.
		if colon := strings.Index(candidate, ":"); colon > 0 {
			candidate = strings.TrimSpace(candidate[:colon])
		}
		value := strings.TrimSpace(decl[eq+1:])
		isFunc := strings.Contains(value, "=>") || strings.HasPrefix(value, "function")
		if isFunc && validJSIdentifier(candidate) {
			return candidate, headOf(trimmed)
		}
	}
	return "", ""
}

func validJSIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if i == 0 && !(isIdentStartByte(c) || c == '$') {
			return false
		}
		if i > 0 && !(isIdentByte(c) || c == '$') {
			return false
		}
	}
	return !jsReserved[name]
}

// jsBlockEnd matches the declaration's braces; single-expression arrows
// end on their own line.
func jsBlockEnd(lines []string, startIdx int) int {
	if strings.Contains(lines[startIdx], "=>") && !strings.Contains(lines[startIdx], "{") {
		return startIdx + 1
	}
	depth := 0
	opened := false
	for i := startIdx; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
				if opened && depth == 0 {
					return i + 1
				}
			}
		}
	}
	return len(lines)
}

// scanJSCalls finds identifier( occurrences outside comments, strings, and
// template literals.
func scanJSCalls(code string) []string {
	var out []string
	i := 0
	for i < len(code) {
		c := code[i]

		if c == '/' && i+1 < len(code) {
			if code[i+1] == '/' {
				for i < len(code) && code[i] != '\n' {
					i++
				}
				continue
			}
			if code[i+1] == '*' {
				i = skipDelimited(code, i+2, "*/")
				continue
			}
		}
		if c == '"' || c == '\'' {
			i = skipQuoted(code, i+1, c)
			continue
		}
		if c == '`' {
			i = skipDelimited(code, i+1, "`")
			continue
		}

		if isIdentStartByte(c) || c == '$' {
			start := i
			for i < len(code) && (isIdentByte(code[i]) || code[i] == '$') {
				i++
			}
			name := code[start:i]
			j := i
			for j < len(code) && (code[j] == ' ' || code[j] == '\t') {
				j++
			}
			if j < len(code) && code[j] == '(' && !jsReserved[name] {
				out = append(out, name)
			}
			continue
		}
		i++
	}
	return out
}

// jsReserved covers keywords and ambient globals that look like calls but
// never resolve to file-local functions.
var jsReserved = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true,
	"continue": true, "debugger": true, "default": true, "delete": true,
	"do": true, "else": true, "export": true, "extends": true, "finally": true,
	"for": true, "function": true, "if": true, "import": true, "in": true,
	"instanceof": true, "new": true, "return": true, "super": true,
	"switch": true, "this": true, "throw": true, "try": true, "typeof": true,
	"var": true, "void": true, "while": true, "with": true, "yield": true,
	"let": true, "static": true, "async": true, "await": true, "of": true,
	"require": true, "console": true, "parseInt": true, "parseFloat": true,
	"setTimeout": true, "setInterval": true, "fetch": true, "alert": true,
	"String": true, "Number": true, "Boolean": true, "Array": true,
	"Object": true, "Promise": true, "Error": true, "JSON": true,
}

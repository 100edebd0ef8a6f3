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

// Python analyzer. Functions and methods become Function entities (methods
// carry a "Class.method" qualified name), classes become Type entities of
// kind "class", and same-file calls become call edges. Arity and
// visibility are derived during extraction: parameter count from the
// parameters node (self/cls excluded for methods), visibility from the
// leading-underscore convention.

// pyExtractor carries the per-file extraction state through one AST walk.
type pyExtractor struct {
	parser   *TreeSitterParser
	content  []byte
	filePath string

	functions []FunctionEntity
	types     []TypeEntity
	nameToID  map[string]string
	lambdas   int
}

// parsePythonAST extracts entities from Python source using Tree-sitter.
func (p *TreeSitterParser) parsePythonAST(parser *sitter.Parser, content []byte, filePath string) ([]FunctionEntity, []TypeEntity, []CallsEdge, error) {
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		if n := countErrors(root); n > 0 {
			p.logger.Warn("parser.treesitter.python.syntax_errors", "path", filePath, "error_count", n)
		}
		// Tree-sitter is error-tolerant; keep whatever parsed.
	}

	ex := &pyExtractor{
		parser:   p,
		content:  content,
		filePath: filePath,
		nameToID: make(map[string]string),
	}
	ex.walk(root, "")

	var calls []CallsEdge
	for _, fn := range ex.functions {
		calls = append(calls, ex.callsWithin(root, fn)...)
	}
	return ex.functions, ex.types, calls, nil
}

// walk descends the tree collecting definitions. enclosingClass qualifies
// method names.
func (ex *pyExtractor) walk(node *sitter.Node, enclosingClass string) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "class_definition":
		ex.addClass(node)
		className := ex.fieldText(node, "name")
		for i := 0; i < int(node.ChildCount()); i++ {
			if child := node.Child(i); child.Type() == "block" {
				ex.walk(child, className)
			}
		}
		return
	case "function_definition":
		ex.addFunction(node, enclosingClass)
	case "lambda":
		ex.lambdas++
		ex.addLambda(node, ex.lambdas)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		ex.walk(node.Child(i), enclosingClass)
	}
}

func (ex *pyExtractor) addFunction(node *sitter.Node, enclosingClass string) {
	name := ex.fieldText(node, "name")
	if name == "" {
		return
	}
	qualified := name
	if enclosingClass != "" {
		qualified = enclosingClass + "." + name
	}

	params := ex.fieldText(node, "parameters")
	signature := "def " + name + params
	if ret := ex.fieldText(node, "return_type"); ret != "" {
		signature += " -> " + ret
	}

	start, end, startCol, endCol := nodeRange(node)
	entity := FunctionEntity{
		ID:         GenerateFunctionID(ex.filePath, qualified, signature, start, end, startCol, endCol),
		Name:       qualified,
		Signature:  signature,
		FilePath:   ex.filePath,
		ModuleID:   GenerateModuleID(ex.filePath),
		Arity:      pyParamCount(params, enclosingClass != ""),
		Visibility: FunctionVisibility(name, "python"),
		CodeText:   ex.parser.truncateCodeText(ex.text(node)),
		StartLine:  start,
		EndLine:    end,
		StartCol:   startCol,
		EndCol:     endCol,
	}
	ex.functions = append(ex.functions, entity)
	ex.nameToID[qualified] = entity.ID
	if enclosingClass != "" {
		// Unqualified calls inside the class still resolve.
		if _, taken := ex.nameToID[name]; !taken {
			ex.nameToID[name] = entity.ID
		}
	}
}

func (ex *pyExtractor) addLambda(node *sitter.Node, index int) {
	start, end, startCol, endCol := nodeRange(node)
	code := ex.parser.truncateCodeText(ex.text(node))
	signature := code
	if len(signature) > 100 {
		signature = signature[:100] + "..."
	}
	name := fmt.Sprintf("$lambda_%d", index)
	ex.functions = append(ex.functions, FunctionEntity{
		ID:         GenerateFunctionID(ex.filePath, name, signature, start, end, startCol, endCol),
		Name:       name,
		Signature:  signature,
		FilePath:   ex.filePath,
		ModuleID:   GenerateModuleID(ex.filePath),
		Arity:      FunctionArity(signature, "python"),
		Visibility: "private",
		CodeText:   code,
		StartLine:  start,
		EndLine:    end,
		StartCol:   startCol,
		EndCol:     endCol,
	})
}

func (ex *pyExtractor) addClass(node *sitter.Node) {
	name := ex.fieldText(node, "name")
	if name == "" {
		return
	}
	start, end, startCol, endCol := nodeRange(node)
	ex.types = append(ex.types, TypeEntity{
		ID:        GenerateTypeID(ex.filePath, name, start, end),
		Name:      name,
		Kind:      "class",
		FilePath:  ex.filePath,
		CodeText:  ex.parser.truncateCodeText(ex.text(node)),
		StartLine: start,
		EndLine:   end,
		StartCol:  startCol,
		EndCol:    endCol,
	})
}

// callsWithin collects edges for calls made inside one function's span.
func (ex *pyExtractor) callsWithin(root *sitter.Node, caller FunctionEntity) []CallsEdge {
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
		if node.Type() == "call" {
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

// calleeName resolves the called name: bare identifiers directly,
// attribute accesses (obj.method) by their final attribute.
func (ex *pyExtractor) calleeName(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	switch node.Type() {
	case "identifier":
		return ex.text(node)
	case "attribute":
		if attr := node.ChildByFieldName("attribute"); attr != nil {
			return ex.text(attr)
		}
	}
	return ""
}

func (ex *pyExtractor) text(node *sitter.Node) string {
	return string(ex.content[node.StartByte():node.EndByte()])
}

func (ex *pyExtractor) fieldText(node *sitter.Node, field string) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return ex.text(child)
}

// nodeRange converts a node's span to 1-based line/column bounds.
func nodeRange(node *sitter.Node) (startLine, endLine, startCol, endCol int) {
	return int(node.StartPoint().Row) + 1, int(node.EndPoint().Row) + 1,
		int(node.StartPoint().Column) + 1, int(node.EndPoint().Column) + 1
}

// pyParamCount counts declared parameters, excluding the implicit receiver
// (self/cls) for methods so arity matches the caller's view.
func pyParamCount(params string, isMethod bool) int {
	inner := strings.TrimSpace(params)
	inner = strings.TrimPrefix(inner, "(")
	inner = strings.TrimSuffix(inner, ")")
	if strings.TrimSpace(inner) == "" {
		return 0
	}
	parts := splitPyParams(inner)
	count := len(parts)
	if isMethod && count > 0 {
		first := strings.TrimSpace(parts[0])
		if first == "self" || first == "cls" {
			count--
		}
	}
	return count
}

// splitPyParams splits a parameter list on top-level commas (defaults and
// annotations may nest brackets).
func splitPyParams(s string) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// ---------------------------------------------------------------------------
// Simplified Python analyzer (no Tree-sitter): indentation-scoped "def"
// scanning with comment/string-aware call detection. Less precise than the
// AST path; used when Tree-sitter is unavailable.
// ---------------------------------------------------------------------------

// parsePythonFile extracts functions from Python source with pattern
// matching. Decorators and deeply nested definitions may be missed.
func (p *Parser) parsePythonFile(content, filePath string) ([]FunctionEntity, []CallsEdge) {
	lines := strings.Split(content, "\n")
	var functions []FunctionEntity

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "def ") && !strings.HasPrefix(trimmed, "async def ") {
			continue
		}
		head := strings.TrimPrefix(strings.TrimPrefix(trimmed, "async "), "def ")
		colon := strings.Index(head, ":")
		paren := strings.Index(head, "(")
		if colon < 0 || paren < 0 || paren > colon {
			continue
		}

		name := strings.TrimSpace(head[:paren])
		signature := strings.TrimSpace(head[:colon])
		endLine := pyBlockEnd(lines, i)

		code := strings.Join(lines[i:endLine], "\n")
		functions = append(functions, FunctionEntity{
			ID:         GenerateFunctionID(filePath, name, signature, i+1, endLine, 1, len(line)),
			Name:       name,
			Signature:  signature,
			FilePath:   filePath,
			ModuleID:   GenerateModuleID(filePath),
			Arity:      FunctionArity(signature, "python"),
			Visibility: FunctionVisibility(name, "python"),
			CodeText:   p.truncateCodeText(code),
			StartLine:  i + 1,
			EndLine:    endLine,
			StartCol:   1,
			EndCol:     len(line),
		})
	}

	return functions, sameFileCalls(functions, scanPythonCalls)
}

// pyBlockEnd returns the line after a def's indented block: the next
// non-blank line at the def's indentation or shallower.
func pyBlockEnd(lines []string, startIdx int) int {
	indent := indentWidth(lines[startIdx])
	for i := startIdx + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if indentWidth(lines[i]) <= indent {
			return i
		}
	}
	return len(lines)
}

func indentWidth(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// sameFileCalls links each function's body to other functions defined in
// the same file, using the language's call scanner. Self-calls and
// duplicate edges are dropped.
func sameFileCalls(functions []FunctionEntity, scan func(code string) []string) []CallsEdge {
	byName := make(map[string]string, len(functions))
	for _, fn := range functions {
		byName[fn.Name] = fn.ID
	}

	var calls []CallsEdge
	for _, caller := range functions {
		body := caller.CodeText
		if idx := strings.IndexAny(body, ":{"); idx >= 0 && idx+1 < len(body) {
			body = body[idx+1:]
		}
		seen := make(map[string]bool)
		for _, name := range scan(body) {
			calleeID, ok := byName[name]
			if !ok || calleeID == caller.ID || seen[calleeID] {
				continue
			}
			seen[calleeID] = true
			calls = append(calls, CallsEdge{CallerID: caller.ID, CalleeID: calleeID})
		}
	}
	return calls
}

// scanPythonCalls finds identifier( occurrences outside comments and
// strings.
func scanPythonCalls(code string) []string {
	var out []string
	i := 0
	for i < len(code) {
		c := code[i]

		// Line comments.
		if c == '#' {
			for i < len(code) && code[i] != '\n' {
				i++
			}
			continue
		}
		// Triple-quoted and plain strings.
		if c == '"' || c == '\'' {
			if i+2 < len(code) && code[i+1] == c && code[i+2] == c {
				i = skipDelimited(code, i+3, string([]byte{c, c, c}))
			} else {
				i = skipQuoted(code, i+1, c)
			}
			continue
		}

		if isIdentStartByte(c) {
			start := i
			for i < len(code) && isIdentByte(code[i]) {
				i++
			}
			name := code[start:i]
			j := i
			for j < len(code) && (code[j] == ' ' || code[j] == '\t') {
				j++
			}
			if j < len(code) && code[j] == '(' && !pythonReserved[name] {
				out = append(out, name)
			}
			continue
		}
		i++
	}
	return out
}

// skipQuoted advances past a single-delimiter string, honoring backslash
// escapes.
func skipQuoted(code string, from int, quote byte) int {
	for i := from; i < len(code); i++ {
		if code[i] == '\\' {
			i++
			continue
		}
		if code[i] == quote {
			return i + 1
		}
	}
	return len(code)
}

// skipDelimited advances past a multi-byte delimiter (triple quote,
// template fence).
func skipDelimited(code string, from int, delim string) int {
	if idx := strings.Index(code[from:], delim); idx >= 0 {
		return from + idx + len(delim)
	}
	return len(code)
}

func isIdentStartByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStartByte(c) || (c >= '0' && c <= '9')
}

// pythonReserved covers keywords and ubiquitous builtins that look like
// calls but never resolve to file-local functions.
var pythonReserved = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true, "class": true,
	"continue": true, "def": true, "del": true, "elif": true, "else": true,
	"except": true, "finally": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "lambda": true,
	"nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
	"print": true, "len": true, "range": true, "str": true, "int": true,
	"float": true, "list": true, "dict": true, "set": true, "tuple": true,
	"type": true, "isinstance": true, "hasattr": true, "getattr": true,
	"setattr": true, "open": true, "input": true, "super": true, "self": true,
}

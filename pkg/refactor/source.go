// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package refactor

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kraklabs/ragex/pkg/editor"
	"github.com/kraklabs/ragex/pkg/ragexerr"
)

// sourceFile is an in-memory working copy of one file under rewrite.
// Operators mutate lines; diff() turns the accumulated mutations into
// line-range changes against the original content.
type sourceFile struct {
	absPath  string
	relPath  string
	language string
	original []string
	lines    []string
}

// loadSource reads a file rooted at root (relPath as recorded in the
// graph) into a working copy.
func loadSource(root, relPath, language string) (*sourceFile, error) {
	abs := relPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, relPath)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ragexerr.New(ragexerr.NotFound, "refactor.loadSource", "file absent").WithPath(abs)
		}
		return nil, ragexerr.Wrap(ragexerr.Io, "refactor.loadSource", "read file", err).WithPath(abs)
	}
	text := strings.TrimSuffix(string(content), "\n")
	lines := strings.Split(text, "\n")
	return &sourceFile{
		absPath:  abs,
		relPath:  relPath,
		language: language,
		original: append([]string(nil), lines...),
		lines:    append([]string(nil), lines...),
	}, nil
}

// newSource builds a working copy for a file that does not exist yet.
func newSource(root, relPath, language string) *sourceFile {
	abs := relPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, relPath)
	}
	return &sourceFile{absPath: abs, relPath: relPath, language: language}
}

func (sf *sourceFile) lineCount() int { return len(sf.lines) }

// line returns the 1-based line, or "" when out of range.
func (sf *sourceFile) line(n int) string {
	if n < 1 || n > len(sf.lines) {
		return ""
	}
	return sf.lines[n-1]
}

func (sf *sourceFile) setLine(n int, text string) {
	if n >= 1 && n <= len(sf.lines) {
		sf.lines[n-1] = text
	}
}

// replaceRange swaps the inclusive 1-based range for replacement lines.
func (sf *sourceFile) replaceRange(start, end int, replacement []string) {
	if start < 1 || end > len(sf.lines) || start > end {
		return
	}
	out := make([]string, 0, len(sf.lines)-(end-start+1)+len(replacement))
	out = append(out, sf.lines[:start-1]...)
	out = append(out, replacement...)
	out = append(out, sf.lines[end:]...)
	sf.lines = out
}

// insertAfter places lines after the 1-based line n (0 = prepend).
func (sf *sourceFile) insertAfter(n int, insertion []string) {
	if n < 0 {
		n = 0
	}
	if n > len(sf.lines) {
		n = len(sf.lines)
	}
	out := make([]string, 0, len(sf.lines)+len(insertion))
	out = append(out, sf.lines[:n]...)
	out = append(out, insertion...)
	out = append(out, sf.lines[n:]...)
	sf.lines = out
}

// modified reports whether the working copy differs from the original.
func (sf *sourceFile) modified() bool {
	if len(sf.lines) != len(sf.original) {
		return true
	}
	for i := range sf.lines {
		if sf.lines[i] != sf.original[i] {
			return true
		}
	}
	return false
}

// changes renders the full-file rewrite as a single replace of the
// original line range. Line-precise diffs would be possible, but operators
// routinely shift line numbers and the editor applies a whole-range replace
// just as atomically.
func (sf *sourceFile) changes() []editor.Change {
	if len(sf.original) == 0 {
		return []editor.Change{{
			Type:      editor.ChangeInsert,
			LineStart: 1,
			Content:   strings.Join(sf.lines, "\n"),
		}}
	}
	return []editor.Change{{
		Type:      editor.ChangeReplace,
		LineStart: 1,
		LineEnd:   len(sf.original),
		Content:   strings.Join(sf.lines, "\n"),
	}}
}

// renameMode controls which occurrences of an identifier are rewritten.
type renameMode int

const (
	// renameAll rewrites every standalone occurrence.
	renameAll renameMode = iota

	// renameUnqualified rewrites occurrences NOT preceded by a dot
	// (local calls and definitions).
	renameUnqualified

	// renameQualified rewrites occurrences preceded by "<qualifier>.".
	renameQualified
)

// renameIdentInLine rewrites standalone occurrences of old in one line
// according to the mode. qualifier is the module name for renameQualified.
// Occurrences embedded in longer identifiers, or preceded by @ (module
// attributes), are left alone.
func renameIdentInLine(line, old, new string, mode renameMode, qualifier string) string {
	var b strings.Builder
	last := 0
	for idx := 0; ; {
		rel := strings.Index(line[idx:], old)
		if rel < 0 {
			break
		}
		start := idx + rel
		end := start + len(old)
		idx = start + 1

		if start > 0 && (isWordByte(line[start-1]) || line[start-1] == '@') {
			continue
		}
		if end < len(line) && isWordByte(line[end]) {
			continue
		}

		qualified := start > 0 && line[start-1] == '.'
		switch mode {
		case renameUnqualified:
			if qualified {
				continue
			}
		case renameQualified:
			if !qualified || !qualifierEndsAt(line, start-1, qualifier) {
				continue
			}
		}

		b.WriteString(line[last:start])
		b.WriteString(new)
		last = end
		idx = end
	}
	if last == 0 {
		return line
	}
	b.WriteString(line[last:])
	return b.String()
}

// qualifierEndsAt reports whether the text immediately before the dot at
// dotIdx is the qualifier (matched segment-equal, so "Foo.Bar" does not
// match qualifier "Bar" inside "MyFoo.Bar").
func qualifierEndsAt(line string, dotIdx int, qualifier string) bool {
	if qualifier == "" {
		return true
	}
	end := dotIdx
	start := end - len(qualifier)
	if start < 0 || line[start:end] != qualifier {
		return false
	}
	if start > 0 {
		prev := line[start-1]
		if isWordByte(prev) || prev == '.' {
			return false
		}
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// functionSpan finds the inclusive end line of the function whose
// definition begins at startLine, using the language's block syntax. The
// graph usually supplies the end line directly; this is the fallback when
// it is missing or stale.
func functionSpan(sf *sourceFile, startLine int) int {
	switch sf.language {
	case "python":
		return pythonSpanEnd(sf, startLine)
	case "elixir", "ruby", "erlang":
		return keywordSpanEnd(sf, startLine)
	default:
		return braceSpanEnd(sf, startLine)
	}
}

// braceSpanEnd matches braces from the definition line (Go, JS, TS).
func braceSpanEnd(sf *sourceFile, startLine int) int {
	depth := 0
	opened := false
	for n := startLine; n <= sf.lineCount(); n++ {
		for _, r := range sf.line(n) {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
				if opened && depth == 0 {
					return n
				}
			}
		}
	}
	return startLine
}

// pythonSpanEnd walks to the last line indented deeper than the def.
func pythonSpanEnd(sf *sourceFile, startLine int) int {
	defIndent := indentOf(sf.line(startLine))
	end := startLine
	for n := startLine + 1; n <= sf.lineCount(); n++ {
		line := sf.line(n)
		if strings.TrimSpace(line) == "" {
			continue
		}
		if indentOf(line) <= defIndent {
			break
		}
		end = n
	}
	return end
}

var (
	blockOpenPattern  = regexp.MustCompile(`(^|\s)(do|fn)(\s*$|\s*\|)`)
	blockClosePattern = regexp.MustCompile(`(^|\s)end(\s*$|[^\w])`)
	inlineDoPattern   = regexp.MustCompile(`,\s*do:`)
)

// keywordSpanEnd matches do/end blocks (Elixir, Ruby). Single-line
// ", do:" definitions span one line.
func keywordSpanEnd(sf *sourceFile, startLine int) int {
	first := sf.line(startLine)
	if inlineDoPattern.MatchString(first) {
		return startLine
	}
	depth := 0
	opened := false
	for n := startLine; n <= sf.lineCount(); n++ {
		line := sf.line(n)
		depth += len(blockOpenPattern.FindAllString(line, -1))
		if len(blockOpenPattern.FindAllString(line, -1)) > 0 {
			opened = true
		}
		closes := len(blockClosePattern.FindAllString(line, -1))
		depth -= closes
		if opened && depth <= 0 && closes > 0 {
			return n
		}
	}
	return startLine
}

func indentOf(line string) int {
	count := 0
	for _, r := range line {
		switch r {
		case ' ':
			count++
		case '\t':
			count += 8
		default:
			return count
		}
	}
	return count
}

// callArityAt counts the top-level comma-separated arguments of the call
// whose opening parenthesis is at (1-based line n, byte offset openIdx).
// Returns -1 when the call does not close within the scan window.
func callArityAt(sf *sourceFile, n, openIdx int) int {
	depth := 0
	args := 0
	sawContent := false
	for lineNo := n; lineNo <= min(n+100, sf.lineCount()); lineNo++ {
		line := sf.line(lineNo)
		start := 0
		if lineNo == n {
			start = openIdx
		}
		for i := start; i < len(line); i++ {
			switch line[i] {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
				if depth == 0 {
					if sawContent {
						args++
					}
					return args
				}
			case ',':
				if depth == 1 {
					args++
				}
			default:
				if depth >= 1 && !isSpaceByte(line[i]) {
					sawContent = true
				}
			}
		}
	}
	return -1
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t'
}

// splitTopLevelArgs splits an argument list on top-level commas.
func splitTopLevelArgs(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	tail := strings.TrimSpace(s[start:])
	if tail != "" || len(out) > 0 {
		out = append(out, tail)
	}
	if len(out) == 1 && out[0] == "" {
		return nil
	}
	return out
}

// defPattern matches a function definition head for the file's language.
func defPattern(language, name string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(name)
	switch language {
	case "elixir":
		return regexp.MustCompile(`^(\s*)(def|defp|defmacro|defmacrop)\s+` + quoted + `\b`)
	case "python":
		return regexp.MustCompile(`^(\s*)(async\s+def|def)\s+` + quoted + `\b`)
	case "ruby":
		return regexp.MustCompile(`^(\s*)def\s+(self\.)?` + quoted + `\b`)
	case "go":
		return regexp.MustCompile(`^(\s*)func\s+(\([^)]*\)\s+)?` + quoted + `\b`)
	case "erlang":
		return regexp.MustCompile(`^(\s*)` + quoted + `\(`)
	default: // javascript, typescript
		return regexp.MustCompile(`^(\s*)(export\s+)?(async\s+)?function\s+` + quoted + `\b|^(\s*)(const|let|var)\s+` + quoted + `\s*=`)
	}
}

// findDefLines returns the 1-based lines where name's definition heads
// appear.
func findDefLines(sf *sourceFile, name string) []int {
	pattern := defPattern(sf.language, name)
	var out []int
	for n := 1; n <= sf.lineCount(); n++ {
		if pattern.MatchString(sf.line(n)) {
			out = append(out, n)
		}
	}
	return out
}

// writeNewFile creates a file (and its directory) that must not already
// exist.
func writeNewFile(absPath string, content []byte) error {
	if _, err := os.Stat(absPath); err == nil {
		return ragexerr.New(ragexerr.Conflict, "refactor.writeNewFile", "target file already exists").WithPath(absPath)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0750); err != nil {
		return ragexerr.Wrap(ragexerr.Io, "refactor.writeNewFile", "create dir", err).WithPath(absPath)
	}
	if err := os.WriteFile(absPath, content, 0644); err != nil {
		return ragexerr.Wrap(ragexerr.Io, "refactor.writeNewFile", "write file", err).WithPath(absPath)
	}
	return nil
}

// refRename describes one function-reference rewrite pass over a file.
type refRename struct {
	old, new string

	// arity filters call sites and capture references; -1 matches all.
	arity int

	mode renameMode

	// qualifiers are the module spellings accepted before the dot in
	// renameQualified mode (full name and trailing segment, typically).
	qualifiers []string
}

// renameFunctionRefs rewrites a function's references in a working copy:
// definition heads and direct calls (arity-checked when the call closes in
// view), capture references (&name/arity), and module-qualified calls.
func renameFunctionRefs(sf *sourceFile, r refRename) {
	for n := 1; n <= sf.lineCount(); n++ {
		line := sf.line(n)
		rewritten := renameRefsInLine(sf, n, line, r)
		if rewritten != line {
			sf.setLine(n, rewritten)
		}
	}
}

func renameRefsInLine(sf *sourceFile, lineNo int, line string, r refRename) string {
	var b strings.Builder
	last := 0
	for idx := 0; ; {
		rel := strings.Index(line[idx:], r.old)
		if rel < 0 {
			break
		}
		start := idx + rel
		end := start + len(r.old)
		idx = start + 1

		if start > 0 && (isWordByte(line[start-1]) || line[start-1] == '@') {
			continue
		}
		if end < len(line) && isWordByte(line[end]) {
			continue
		}

		qualified := start > 0 && line[start-1] == '.'
		switch r.mode {
		case renameUnqualified:
			if qualified {
				continue
			}
		case renameQualified:
			if !qualified || !anyQualifierEndsAt(line, start-1, r.qualifiers) {
				continue
			}
		}

		if !aritySiteMatches(sf, lineNo, line, end, r.arity) {
			continue
		}

		b.WriteString(line[last:start])
		b.WriteString(r.new)
		last = end
		idx = end
	}
	if last == 0 {
		return line
	}
	b.WriteString(line[last:])
	return b.String()
}

// aritySiteMatches checks the text following an identifier occurrence
// against the requested arity: "(" starts a call whose argument count must
// match; "/N" is a capture reference whose N must match. Sites without
// arity information (bare references) always match, as do undeterminable
// calls (spanning past the scan window).
func aritySiteMatches(sf *sourceFile, lineNo int, line string, end, arity int) bool {
	if arity < 0 {
		return true
	}
	pos := end
	for pos < len(line) && isSpaceByte(line[pos]) {
		pos++
	}
	if pos < len(line) && line[pos] == '(' {
		got := callArityAt(sf, lineNo, pos)
		return got < 0 || got == arity
	}
	if pos < len(line) && line[pos] == '/' {
		digits := 0
		value := 0
		for i := pos + 1; i < len(line) && line[i] >= '0' && line[i] <= '9'; i++ {
			value = value*10 + int(line[i]-'0')
			digits++
		}
		if digits > 0 {
			return value == arity
		}
	}
	return true
}

func anyQualifierEndsAt(line string, dotIdx int, qualifiers []string) bool {
	if len(qualifiers) == 0 {
		return true
	}
	for _, q := range qualifiers {
		if qualifierEndsAt(line, dotIdx, q) {
			return true
		}
	}
	return false
}

// moduleSpellings returns the accepted qualifier spellings for a module
// name: the full dotted name and its final segment.
func moduleSpellings(name string) []string {
	out := []string{name}
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		out = append(out, name[idx+1:])
	}
	return out
}

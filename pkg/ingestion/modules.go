// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/kraklabs/ragex/pkg/sigparse"
)

// ModuleEntity is the module-level entity derived from a source file: the
// file itself for file-scoped languages, the declared package/module where
// the parser reports one.
type ModuleEntity struct {
	ID            string // Deterministic: hash(file_path)
	Name          string // Declared name (package, module) or file base name
	QualifiedName string // Path-derived qualified name, unique per language
	Language      string
	FilePath      string
	Line          int    // Line of the module/package declaration (1 if unknown)
	Doc           string // Module doc comment if extracted
	Kind          string // "file", "module", "class", "namespace"
}

// ModuleImportEdge is a module-to-module import relationship.
type ModuleImportEdge struct {
	ID         string
	FromModule string // ModuleEntity.ID of the importing module
	ToModule   string // Qualified name of the imported module (may be external)
	Kind       string // "import", "require", "use", "alias"
}

// GenerateModuleID generates a deterministic ID for the module defined by a
// file.
func GenerateModuleID(filePath string) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	return "mod:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// ModuleQualifiedName derives the path-based qualified name for a file's
// module: the slash path with the extension stripped, e.g.
// "pkg/ingestion/loader.go" -> "pkg/ingestion/loader".
func ModuleQualifiedName(filePath string) string {
	p := strings.TrimSuffix(filePath, "/")
	if idx := strings.LastIndex(p, "."); idx > strings.LastIndex(p, "/") {
		p = p[:idx]
	}
	return p
}

// DeriveModules builds one module entity per parsed file. packageNames maps
// file path to the declared package name where the parser found one.
func DeriveModules(files []FileEntity, packageNames map[string]string) []ModuleEntity {
	modules := make([]ModuleEntity, 0, len(files))
	for _, f := range files {
		name := packageNames[f.Path]
		kind := "file"
		if name != "" {
			kind = "module"
		} else {
			name = ExtractBaseName(f.Path)
		}
		modules = append(modules, ModuleEntity{
			ID:            GenerateModuleID(f.Path),
			Name:          name,
			QualifiedName: ModuleQualifiedName(f.Path),
			Language:      f.Language,
			FilePath:      f.Path,
			Line:          1,
			Kind:          kind,
		})
	}
	return modules
}

// DeriveModuleImports lifts file-level import statements to module-level
// edges. The target module may be external to the repository; the edge is
// recorded regardless and resolved (or not) at query time.
func DeriveModuleImports(imports []ImportEntity, languageByPath map[string]string) []ModuleImportEdge {
	edges := make([]ModuleImportEdge, 0, len(imports))
	for _, imp := range imports {
		kind := importKindFor(languageByPath[imp.FilePath], imp.Alias)
		edges = append(edges, ModuleImportEdge{
			ID:         "modimp:" + shortHash(imp.FilePath+"|"+imp.ImportPath),
			FromModule: GenerateModuleID(imp.FilePath),
			ToModule:   imp.ImportPath,
			Kind:       kind,
		})
	}
	return edges
}

func importKindFor(language, alias string) string {
	switch language {
	case "ruby":
		return "require"
	case "elixir":
		if alias != "" {
			return "alias"
		}
		return "use"
	default:
		if alias != "" && alias != "_" && alias != "." {
			return "alias"
		}
		return "import"
	}
}

// ExtractBaseName returns a file's base name without extension.
func ExtractBaseName(path string) string {
	base := path
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return base
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

// FunctionArity counts the parameters declared in a signature. Functions
// with the same name but different arity are distinct entities, so this
// feeds the function's identity.
func FunctionArity(signature, language string) int {
	if language == "go" {
		return len(sigparse.ParseGoParams(signature))
	}

	open := strings.Index(signature, "(")
	if open < 0 {
		return 0
	}
	depth := 0
	end := -1
	for i := open; i < len(signature); i++ {
		switch signature[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return 0
	}
	params := strings.TrimSpace(signature[open+1 : end])
	if params == "" {
		return 0
	}
	// Count top-level commas; nested parens/brackets/braces don't split.
	depth = 0
	count := 1
	for _, r := range params {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				count++
			}
		}
	}
	return count
}

// FunctionVisibility derives a function's visibility from its name by the
// language's convention. Languages whose parsers report visibility directly
// (def vs defp) override this via FunctionEntity.Visibility.
func FunctionVisibility(name, language string) string {
	switch language {
	case "go":
		for _, r := range name {
			if unicode.IsUpper(r) {
				return "public"
			}
			return "private"
		}
		return "private"
	case "python", "ruby":
		if strings.HasPrefix(name, "_") {
			return "private"
		}
		return "public"
	default:
		return "public"
	}
}

// EnrichFunctions fills the module, arity, and visibility fields of parsed
// functions in place. Parser-supplied values win.
func EnrichFunctions(functions []FunctionEntity, languageByPath map[string]string) {
	for i := range functions {
		fn := &functions[i]
		if fn.ModuleID == "" {
			fn.ModuleID = GenerateModuleID(fn.FilePath)
		}
		lang := languageByPath[fn.FilePath]
		if lang == "" {
			lang = DetectLanguage(fn.FilePath)
		}
		if fn.Arity == 0 {
			fn.Arity = FunctionArity(fn.Signature, lang)
		}
		if fn.Visibility == "" {
			fn.Visibility = FunctionVisibility(fn.Name, lang)
		}
	}
}

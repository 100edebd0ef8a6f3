// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

// Schema defines the Datalog schema for Ragex ingestion entities.
//
// Tables (v4 - vertically partitioned for performance):
//   - ragex_file: File entities
//   - ragex_function: Function metadata (lightweight, ~500 bytes/row)
//   - ragex_function_code: Function code text (lazy loaded)
//   - ragex_function_embedding: Function embeddings (for HNSW only)
//   - ragex_type: Type metadata (lightweight)
//   - ragex_type_code: Type code text (lazy loaded)
//   - ragex_type_embedding: Type embeddings (for HNSW only)
//   - ragex_defines: Edge from file to function
//   - ragex_defines_type: Edge from file to type
//   - ragex_calls: Edge from caller function to callee function
//   - ragex_import: Import statements for cross-package call resolution
//   - ragex_module: Module entities (one per source file)
//   - ragex_module_import: Module-to-module import edges
//   - ragex_embedding_meta: Embedding fingerprints for skip-unchanged regeneration
//
// All IDs are deterministic and stable across re-runs for idempotency.

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// FileEntity represents a source file in the repository.
type FileEntity struct {
	ID       string // Deterministic: hash(file_path) or file_path itself
	Path     string // Relative path from repo root
	Hash     string // Content hash (SHA256) for change detection
	Language string // Detected language (go, python, javascript, etc.)
	Size     int64  // File size in bytes
	Mtime    int64  // Modification time (unix seconds) for conflict detection
}

// FunctionEntity represents a function/method extracted from code.
// Note: In the database, CodeText and Embedding are stored in separate tables
// (ragex_function_code, ragex_function_embedding) for query performance.
// The struct keeps all fields for use in the ingestion pipeline.
type FunctionEntity struct {
	ID         string    // Deterministic: hash(file_path + name + range) - signature excluded for stability
	Name       string    // Function name
	Signature  string    // Full signature if available, else empty (metadata only, not used in ID)
	FilePath   string    // Path to containing file
	ModuleID   string    // Containing module (derived from file path when parser is silent)
	Arity      int       // Declared parameter count (part of the function's identity)
	Visibility string    // "public" or "private"
	CodeText   string    // Raw code snippet (stored in ragex_function_code)
	Embedding  []float32 // Embedding vector (stored in ragex_function_embedding)
	TextHash   string    // SHA256 of the embedding fingerprint text
	StartLine  int       // Start line (1-indexed)
	EndLine    int       // End line (1-indexed)
	StartCol   int       // Start column (1-indexed)
	EndCol     int       // End column (1-indexed)
}

// DefinesEdge represents a "file defines function" relationship.
type DefinesEdge struct {
	FileID     string // Reference to FileEntity.ID
	FunctionID string // Reference to FunctionEntity.ID
}

// TypeEntity represents a type/interface/class/struct definition.
// This is language-agnostic and normalizes across:
//   - Go: struct, interface, type_alias
//   - Python: class
//   - TypeScript: interface, class, type_alias
//   - JavaScript: class
//
// Note: In the database, CodeText and Embedding are stored in separate tables
// (ragex_type_code, ragex_type_embedding) for query performance.
type TypeEntity struct {
	ID        string    // Deterministic: hash(file_path + name + range)
	Name      string    // Type name (e.g., "UserService", "Handler")
	Kind      string    // "struct", "interface", "class", "type_alias"
	FilePath  string    // Path to containing file
	CodeText  string    // Raw code snippet (stored in ragex_type_code)
	Embedding []float32 // Embedding vector (stored in ragex_type_embedding)
	TextHash  string    // SHA256 of the embedding fingerprint text
	StartLine int       // Start line (1-indexed)
	EndLine   int       // End line (1-indexed)
	StartCol  int       // Start column (1-indexed)
	EndCol    int       // End column (1-indexed)
}

// DefinesTypeEdge represents a "file defines type" relationship.
type DefinesTypeEdge struct {
	FileID string // Reference to FileEntity.ID
	TypeID string // Reference to TypeEntity.ID
}

// CallsEdge represents a "function calls function" relationship.
// Includes both same-file calls and cross-package calls (resolved via imports).
type CallsEdge struct {
	CallerID string // Reference to FunctionEntity.ID (caller)
	CalleeID string // Reference to FunctionEntity.ID (callee)
	CallLine int    // Line number where the call occurs in the caller (0 = unknown)
}

// ImportEntity represents an import statement in a source file.
type ImportEntity struct {
	ID         string // Deterministic: hash(file_path + import_path)
	FilePath   string // File that contains the import
	ImportPath string // Module/package being imported (e.g., "fmt", "github.com/org/pkg")
	Alias      string // Import alias: "" (default), "alias", "." (dot import), "_" (blank import)
	StartLine  int    // Line number of the import statement
}

// UnresolvedCall represents a function call that couldn't be resolved locally.
// These are collected during parsing and resolved later using import information.
type UnresolvedCall struct {
	CallerID   string // Reference to FunctionEntity.ID of the caller
	CalleeName string // Name of the called function (e.g., "foo" or "pkg.Foo")
	FilePath   string // File where the call occurs (for import resolution)
	Line       int    // Line number of the call
}

// PackageInfo represents a Go package with its files.
type PackageInfo struct {
	PackagePath string   // Directory path (e.g., "internal/http/handlers")
	PackageName string   // Package name from `package X` declaration
	Files       []string // Files that belong to this package
}

// FieldEntity represents a struct field with its type, used for interface dispatch resolution.
// When a struct has a field of an interface type, calls through that field can be resolved
// to concrete implementations.
type FieldEntity struct {
	StructName string // e.g., "Builder"
	FieldName  string // e.g., "writer"
	FieldType  string // Base type name, no pointer/slice (e.g., "Writer")
	FilePath   string
	Line       int
}

// ImplementsEdge represents that a concrete type implements an interface.
// Built by matching method sets: if a struct has all methods declared by an interface,
// it implements that interface.
type ImplementsEdge struct {
	TypeName      string // e.g., "CozoDB"
	InterfaceName string // e.g., "Writer"
	FilePath      string // File containing the concrete type
}

// GenerateFieldID generates a deterministic ID for a field entity.
func GenerateFieldID(filePath, structName, fieldName string) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	h.Write([]byte("|"))
	h.Write([]byte(structName))
	h.Write([]byte("|"))
	h.Write([]byte(fieldName))
	return "fld:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GenerateImplementsID generates a deterministic ID for an implements edge.
func GenerateImplementsID(typeName, interfaceName string) string {
	h := sha256.New()
	h.Write([]byte(typeName))
	h.Write([]byte("|"))
	h.Write([]byte(interfaceName))
	return "impl:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// DatalogSchema returns the Datalog schema definition for all ingestion tables.
// Schema v4: Vertically partitioned for performance on large datasets.
func DatalogSchema() string {
	return `
// Ragex Ingestion Schema v4 - Vertically Partitioned
// File entities: represents source files in the repository
:create ragex_file {
	id: String =>
	path: String,
	hash: String,
	language: String,
	size: Int,
	mtime: Int default 0
}

// Module entities: one per source file (declared package/module when known)
:create ragex_module {
	id: String =>
	name: String,
	qualified_name: String,
	language: String,
	file_path: String,
	line: Int default 1,
	doc: String default '',
	kind: String
}

// Module import edges: module -> module (typed: import/require/use/alias)
:create ragex_module_import {
	id: String =>
	from_module: String,
	to_module: String,
	kind: String
}

// Function entities: lightweight metadata (~500 bytes/row)
// code_text and embedding are stored in separate tables for performance
:create ragex_function {
	id: String =>
	name: String,
	signature: String,
	file_path: String,
	module_id: String default '',
	arity: Int default 0,
	visibility: String default 'public',
	start_line: Int,
	end_line: Int,
	start_col: Int,
	end_col: Int
}

// Function code text: lazy loaded only when displaying source
:create ragex_function_code {
	function_id: String =>
	code_text: String
}

// Function embeddings: used only for HNSW semantic search
// Note: embedding uses CozoDB vector type <F32; 1536> for HNSW index support
// 1536 dimensions for Qodo-Embed-1-1.5B (768 for nomic-embed-text)
:create ragex_function_embedding {
	function_id: String =>
	embedding: <F32; 1536>
}

// Defines edges: file -> function (file defines function)
:create ragex_defines {
	id: String =>
	file_id: String,
	function_id: String
}

// Calls edges: function -> function (caller calls callee)
:create ragex_calls {
	id: String =>
	caller_id: String,
	callee_id: String,
	call_line: Int default 0
}

// Import entities: represents import statements in source files
:create ragex_import {
	id: String =>
	file_path: String,
	import_path: String,
	alias: String,
	start_line: Int
}

// Type entities: lightweight metadata
// code_text and embedding are stored in separate tables for performance
:create ragex_type {
	id: String =>
	name: String,
	kind: String,
	file_path: String,
	start_line: Int,
	end_line: Int,
	start_col: Int,
	end_col: Int
}

// Type code text: lazy loaded only when displaying source
:create ragex_type_code {
	type_id: String =>
	code_text: String
}

// Type embeddings: used only for HNSW semantic search
// 1536 dimensions for Qodo-Embed-1-1.5B (768 for nomic-embed-text)
:create ragex_type_embedding {
	type_id: String =>
	embedding: <F32; 1536>
}

// Defines type edges: file -> type (file defines type)
:create ragex_defines_type {
	id: String =>
	file_id: String,
	type_id: String
}

// Struct field entities: tracks typed fields for interface dispatch resolution
:create ragex_field {
	id: String =>
	struct_name: String,
	field_name: String,
	field_type: String,
	file_path: String,
	line: Int
}

// Implements edges: concrete type -> interface (type implements interface)
:create ragex_implements {
	id: String =>
	type_name: String,
	interface_name: String,
	file_path: String
}

// Embedding fingerprints: hash of the text each entity was embedded from,
// used to skip regeneration when the text is unchanged
:create ragex_embedding_meta {
	entity_id: String =>
	text_hash: String
}
`
}

// GenerateImportID generates a deterministic ID for an import entity.
func GenerateImportID(filePath, importPath string) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	h.Write([]byte("|"))
	h.Write([]byte(importPath))
	return "imp:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GenerateTypeID generates a deterministic ID for a type entity.
func GenerateTypeID(filePath, name string, startLine, endLine int) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	h.Write([]byte("|"))
	h.Write([]byte(name))
	h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%d-%d", startLine, endLine)
	return "typ:" + hex.EncodeToString(h.Sum(nil))[:16]
}

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

// Package graphmodel defines the entity and edge vocabulary shared by the
// indexer, graph store, algorithms, retrieval, and refactor packages:
// language-agnostic Module and Function entities plus the defines/calls/
// imports edges connecting them.
package graphmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NodeType distinguishes the two entity kinds the graph store indexes.
type NodeType string

const (
	NodeModule   NodeType = "module"
	NodeFunction NodeType = "function"
)

// EdgeType distinguishes the three edge kinds the graph stores.
type EdgeType string

const (
	EdgeDefines EdgeType = "defines"
	EdgeCalls   EdgeType = "calls"
	EdgeImports EdgeType = "imports"
)

// ModuleKind is the shape a Module entity normalizes to across languages.
type ModuleKind string

const (
	ModuleKindFile      ModuleKind = "file"
	ModuleKindModule    ModuleKind = "module"
	ModuleKindClass     ModuleKind = "class"
	ModuleKindNamespace ModuleKind = "namespace"
)

// Visibility is a Function's access level.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ImportKind is the flavor of a cross-module reference.
type ImportKind string

const (
	ImportKindImport  ImportKind = "import"
	ImportKindRequire ImportKind = "require"
	ImportKindUse     ImportKind = "use"
	ImportKindAlias   ImportKind = "alias"
)

// UnknownFunction is the sentinel FunctionId used for call targets that
// could not be resolved at analysis time. Unresolved calls are recorded
// against this sentinel rather than dropped.
var UnknownFunction = FunctionId{
	Module: ModuleId{Language: "unknown", QualifiedName: "unknown"},
	Name:   "unknown",
}

// ModuleId uniquely identifies a Module by (language, qualified_name).
type ModuleId struct {
	Language      string `json:"language"`
	QualifiedName string `json:"qualified_name"`
}

func (m ModuleId) String() string {
	return fmt.Sprintf("%s:%s", m.Language, m.QualifiedName)
}

// FunctionId uniquely identifies a Function by (ModuleId, name, arity).
type FunctionId struct {
	Module ModuleId `json:"module"`
	Name   string   `json:"name"`
	Arity  uint16   `json:"arity"`
}

func (f FunctionId) String() string {
	return fmt.Sprintf("%s#%s/%d", f.Module.String(), f.Name, f.Arity)
}

// IsUnknown reports whether f is the unresolved-call sentinel.
func (f FunctionId) IsUnknown() bool {
	return f.Module.QualifiedName == "unknown" && f.Name == "unknown"
}

// Module is a file, module, class, or namespace entity.
type Module struct {
	ID   ModuleId   `json:"id"`
	Name string     `json:"name"`
	File string     `json:"file"`
	Line uint32     `json:"line"`
	Doc  string     `json:"doc,omitempty"`
	Kind ModuleKind `json:"kind"`
}

// Function is a function or method entity.
type Function struct {
	ID         FunctionId        `json:"id"`
	File       string            `json:"file"`
	Line       uint32            `json:"line"`
	Doc        string            `json:"doc,omitempty"`
	Visibility Visibility        `json:"visibility"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Call is a directed edge from caller to callee. To may be UnknownFunction
// when the target could not be resolved at analysis time.
type Call struct {
	From FunctionId `json:"from"`
	To   FunctionId `json:"to"`
	Line uint32     `json:"line"`
}

// Import is a directed edge between two modules.
type Import struct {
	FromModule ModuleId   `json:"from_module"`
	ToModule   ModuleId   `json:"to_module"`
	Kind       ImportKind `json:"kind"`
}

// EntityRef is a lightweight pointer used by FileRecord.Entities.
type EntityRef struct {
	Type NodeType `json:"type"`
	ID   string   `json:"id"`
}

// FileRecord tracks a single source file for incremental indexing.
type FileRecord struct {
	Path        string      `json:"path"`
	ContentHash [32]byte    `json:"content_hash"`
	Mtime       int64       `json:"mtime"`
	Size        uint64      `json:"size"`
	Entities    []EntityRef `json:"entities"`
	AnalyzedAt  int64       `json:"analyzed_at"`
	Failed      bool        `json:"failed"`
}

// EmbeddingRecord is a dense vector keyed by entity id.
type EmbeddingRecord struct {
	EntityID string    `json:"entity_id"`
	Vector   []float32 `json:"vector"`
	TextHash [32]byte  `json:"text_hash"`
}

// CacheMetadata describes a persisted snapshot for compatibility checking.
type CacheMetadata struct {
	Version     uint16 `json:"version"`
	ModelID     string `json:"model_id"`
	ModelRepo   string `json:"model_repo"`
	Dimensions  uint16 `json:"dimensions"`
	Timestamp   int64  `json:"timestamp"`
	EntityCount uint32 `json:"entity_count"`
}

// EncodeModuleID turns a ModuleId into the flat string key stored by Cozo.
func EncodeModuleID(id ModuleId) string {
	return id.String()
}

// EncodeFunctionID turns a FunctionId into the flat string key stored by Cozo.
func EncodeFunctionID(id FunctionId) string {
	return id.String()
}

// FingerprintText builds the canonical textual fingerprint the indexer
// hashes to decide whether an entity's embedding needs regeneration.
func FingerprintText(kind, qualifiedName string, arity uint16, doc, sourceSlice string) string {
	return fmt.Sprintf("%s:%s/%d\n%s\n%s", kind, qualifiedName, arity, doc, sourceSlice)
}

// Sha256Hex returns the hex-encoded SHA256 digest of s.
func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Sha256Of returns the raw SHA256 digest of b.
func Sha256Of(b []byte) [32]byte {
	return sha256.Sum256(b)
}

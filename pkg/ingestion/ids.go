// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// GenerateFileID generates a deterministic ID for a file entity. Paths are
// normalized so "./a/b.go" and "a/b.go" produce the same ID.
func GenerateFileID(filePath string) string {
	h := sha256.New()
	h.Write([]byte(normalizePath(filePath)))
	return "file:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GenerateFunctionID generates a deterministic ID for a function entity.
// The signature is deliberately excluded: parser improvements that refine
// signature extraction must not change entity identity. The source range
// (lines and columns) disambiguates same-named functions in one file.
func GenerateFunctionID(filePath, name, _ string, startLine, endLine, startCol, endCol int) string {
	h := sha256.New()
	h.Write([]byte(normalizePath(filePath)))
	h.Write([]byte("|"))
	h.Write([]byte(name))
	h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%d-%d:%d-%d", startLine, endLine, startCol, endCol)
	return "func:" + hex.EncodeToString(h.Sum(nil))[:16]
}

func normalizePath(p string) string {
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(cleaned, "./")
}

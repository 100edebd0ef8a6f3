// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"regexp"
	"strings"
)

// Protobuf files have no Tree-sitter grammar bundled, so both parser modes
// share this pattern-matching extractor. RPC methods are indexed as
// functions so service surfaces show up in search and the call graph.
var (
	protoServicePattern = regexp.MustCompile(`^\s*service\s+(\w+)\s*\{?`)
	protoRPCPattern     = regexp.MustCompile(`^\s*rpc\s+(\w+)\s*\(\s*(stream\s+)?([\w.]+)\s*\)\s*returns\s*\(\s*(stream\s+)?([\w.]+)\s*\)`)
)

// parseProtobufContent extracts rpc definitions from a .proto file.
// truncate bounds each method's stored code text.
func parseProtobufContent(content, filePath string, truncate func(string) string) ([]FunctionEntity, []CallsEdge) {
	var functions []FunctionEntity
	lines := strings.Split(content, "\n")
	currentService := ""

	for i, line := range lines {
		if m := protoServicePattern.FindStringSubmatch(line); m != nil {
			currentService = m[1]
			continue
		}
		m := protoRPCPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[1]
		if currentService != "" {
			name = currentService + "." + m[1]
		}
		lineNo := i + 1
		functions = append(functions, FunctionEntity{
			ID:        GenerateFunctionID(filePath, name, "", lineNo, lineNo, 1, len(line)),
			Name:      name,
			Signature: strings.TrimSpace(line),
			FilePath:  filePath,
			CodeText:  truncate(strings.TrimSpace(line)),
			Arity:     1,
			StartLine: lineNo,
			EndLine:   lineNo,
			StartCol:  1,
			EndCol:    len(line),
		})
	}

	// Proto files declare no call edges.
	return functions, nil
}

// parseProtobufSimplified adapts parseProtobufContent to the Tree-sitter
// parser's byte-slice interface.
func parseProtobufSimplified(content []byte, filePath string, p *TreeSitterParser) ([]FunctionEntity, []CallsEdge) {
	return parseProtobufContent(string(content), filePath, p.truncateCodeText)
}

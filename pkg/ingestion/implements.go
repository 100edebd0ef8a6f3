// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"regexp"
	"strings"
)

// Interface satisfaction is structural in Go, so the analyzer has to infer
// it: a concrete type implements an interface when its method set covers
// every method the interface declares, matched by name AND arity. The
// resulting implements edges power dispatch-aware call linking and the
// implementation-lookup tools.

// interfaceMethodLine matches one declared method inside an interface
// body, capturing the name and its parameter list.
var interfaceMethodLine = regexp.MustCompile(`(?m)^\s*([A-Z][a-zA-Z0-9_]*)\s*(\([^)]*\))`)

// methodSig is a method's identity within a method set.
type methodSig struct {
	name  string
	arity int
}

// BuildImplementsIndex infers implements edges by method-set matching over
// the parsed entities of one analysis batch.
func BuildImplementsIndex(types []TypeEntity, functions []FunctionEntity) []ImplementsEdge {
	interfaces := declaredInterfaces(types)
	if len(interfaces) == 0 {
		return nil
	}

	methodSets, fileOf := receiverMethodSets(functions)

	interfaceNames := make(map[string]bool, len(interfaces))
	for name := range interfaces {
		interfaceNames[name] = true
	}

	var edges []ImplementsEdge
	for ifaceName, required := range interfaces {
		if len(required) == 0 {
			// The empty interface matches everything; an edge per type
			// would be noise.
			continue
		}
		for typeName, methods := range methodSets {
			if interfaceNames[typeName] {
				continue // an interface never implements itself
			}
			if coversAll(methods, required) {
				edges = append(edges, ImplementsEdge{
					TypeName:      typeName,
					InterfaceName: ifaceName,
					FilePath:      fileOf[typeName],
				})
			}
		}
	}
	return edges
}

// declaredInterfaces maps each interface name to its required method
// signatures, read from the interface body text.
func declaredInterfaces(types []TypeEntity) map[string][]methodSig {
	out := make(map[string][]methodSig)
	for _, t := range types {
		if t.Kind != "interface" {
			continue
		}
		var required []methodSig
		for _, m := range interfaceMethodLine.FindAllStringSubmatch(t.CodeText, -1) {
			if len(m) < 3 {
				continue
			}
			required = append(required, methodSig{
				name:  m[1],
				arity: FunctionArity("f"+m[2], "go-interface"),
			})
		}
		out[t.Name] = required
	}
	return out
}

// receiverMethodSets groups receiver methods ("CozoDB.Run") by type,
// keyed name/arity, and remembers each type's defining file.
func receiverMethodSets(functions []FunctionEntity) (map[string]map[methodSig]bool, map[string]string) {
	sets := make(map[string]map[methodSig]bool)
	fileOf := make(map[string]string)

	for _, fn := range functions {
		typeName, methodName, isMethod := strings.Cut(fn.Name, ".")
		if !isMethod || methodName == "" {
			continue
		}
		if sets[typeName] == nil {
			sets[typeName] = make(map[methodSig]bool)
			fileOf[typeName] = fn.FilePath
		}
		sets[typeName][methodSig{name: methodName, arity: fn.Arity}] = true
		if fn.Signature == "" {
			// No signature means the arity is unknown, not zero; record
			// the name-only form so matching degrades instead of failing.
			sets[typeName][methodSig{name: methodName, arity: -1}] = true
		}
	}
	return sets, fileOf
}

// coversAll reports whether a method set satisfies every required
// signature: exact name+arity, falling back to name-only when either side
// lacks arity information.
func coversAll(methods map[methodSig]bool, required []methodSig) bool {
	for _, req := range required {
		if methods[req] {
			continue
		}
		if methods[methodSig{name: req.name, arity: -1}] {
			continue
		}
		return false
	}
	return true
}

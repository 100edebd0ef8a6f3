// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/kraklabs/ragex/pkg/graphmodel"
	"github.com/kraklabs/ragex/pkg/sigparse"
)

// CallLinker turns the parsers' unresolved call references into call edges
// between Function entities. It indexes every module's functions and every
// file's imports, then links each reference by qualified name, dot import,
// or interface dispatch. References that no strategy can link are recorded
// against the unknown-target sentinel rather than dropped, so the call
// graph never silently loses an observed call.
type CallLinker struct {
	mu sync.RWMutex

	// modules: directory path to module info (Go packages span files).
	modules map[string]*PackageInfo

	// functionsByModule: module dir to simple function name to id.
	functionsByModule map[string]map[string]string

	// importsByFile: file path to alias to import path.
	importsByFile map[string]map[string]string

	// importToModuleDir caches import-path to local module dir matches.
	importToModuleDir map[string]string

	// Dispatch indices for calls through interface-typed fields/params.
	fieldTypes    map[string]map[string]string // struct -> field -> type
	implementedBy map[string][]string          // interface -> concrete types
	byQualified   map[string]string            // "Type.Method" -> function id
	nameOf        map[string]string            // function id -> name
	signatureOf   map[string]string            // function id -> signature

	// stubs are synthesized targets: external type methods and the
	// unknown-target sentinel.
	stubs       []FunctionEntity
	sentinelled bool
}

// unknownTargetID is the stable id of the unresolved-call sentinel entity.
var unknownTargetID = "func:" + graphmodel.Sha256Hex(graphmodel.UnknownFunction.String())[:16]

// NewCallLinker creates an empty linker.
func NewCallLinker() *CallLinker {
	return &CallLinker{
		modules:           make(map[string]*PackageInfo),
		functionsByModule: make(map[string]map[string]string),
		importsByFile:     make(map[string]map[string]string),
		importToModuleDir: make(map[string]string),
		fieldTypes:        make(map[string]map[string]string),
		implementedBy:     make(map[string][]string),
		byQualified:       make(map[string]string),
		nameOf:            make(map[string]string),
		signatureOf:       make(map[string]string),
	}
}

// Index registers every parsed file, function, and import. Call once after
// parsing, before Link.
func (l *CallLinker) Index(files []FileEntity, functions []FunctionEntity, imports []ImportEntity, packageNames map[string]string) {
	for _, f := range files {
		if f.Language != "go" {
			continue
		}
		dir := filepath.Dir(f.Path)
		mod, exists := l.modules[dir]
		if !exists {
			mod = &PackageInfo{PackagePath: dir, PackageName: packageNames[f.Path]}
			l.modules[dir] = mod
		}
		mod.Files = append(mod.Files, f.Path)
	}

	for _, fn := range functions {
		if !strings.HasSuffix(fn.FilePath, ".go") {
			continue
		}
		dir := filepath.Dir(fn.FilePath)
		if l.functionsByModule[dir] == nil {
			l.functionsByModule[dir] = make(map[string]string)
		}
		l.functionsByModule[dir][leafName(fn.Name)] = fn.ID

		if strings.Contains(fn.Name, ".") {
			l.byQualified[fn.Name] = fn.ID
		}
		l.nameOf[fn.ID] = fn.Name
		if fn.Signature != "" {
			l.signatureOf[fn.ID] = fn.Signature
		}
	}

	for _, imp := range imports {
		alias := imp.Alias
		if alias == "_" {
			continue // blank imports bind nothing
		}
		if alias == "" {
			alias = filepath.Base(imp.ImportPath)
		}
		if l.importsByFile[imp.FilePath] == nil {
			l.importsByFile[imp.FilePath] = make(map[string]string)
		}
		l.importsByFile[imp.FilePath][alias] = imp.ImportPath
	}

	// Seed import-path matching with identity and package-name entries.
	for dir, mod := range l.modules {
		l.importToModuleDir[dir] = dir
		if mod.PackageName != "" {
			l.importToModuleDir[mod.PackageName] = dir
		}
	}
}

// SetDispatchIndex installs the field-type and implements indices used to
// link calls through interface-typed struct fields and parameters. Call
// after Index, before Link.
func (l *CallLinker) SetDispatchIndex(fields []FieldEntity, implements []ImplementsEdge) {
	for _, f := range fields {
		if l.fieldTypes[f.StructName] == nil {
			l.fieldTypes[f.StructName] = make(map[string]string)
		}
		l.fieldTypes[f.StructName][f.FieldName] = f.FieldType
	}
	for _, e := range implements {
		l.implementedBy[e.InterfaceName] = append(l.implementedBy[e.InterfaceName], e.TypeName)
	}
}

// Link resolves every unresolved reference into call edges, deduplicated
// by (caller, callee). Unlinkable references become edges to the
// unknown-target sentinel.
func (l *CallLinker) Link(unresolved []UnresolvedCall) []CallsEdge {
	if len(unresolved) < 1000 {
		return l.linkSequential(unresolved)
	}
	return l.linkParallel(unresolved)
}

func (l *CallLinker) linkSequential(unresolved []UnresolvedCall) []CallsEdge {
	var edges []CallsEdge
	seen := make(map[string]bool)
	add := func(edge CallsEdge) {
		key := edge.CallerID + "->" + edge.CalleeID
		if !seen[key] {
			seen[key] = true
			edges = append(edges, edge)
		}
	}

	for _, call := range unresolved {
		for _, edge := range l.linkOne(call) {
			add(edge)
		}
	}
	return edges
}

// linkParallel fans resolution out over a bounded worker pool; the indices
// are read-only after Index/SetDispatchIndex, so workers share them
// freely. Sentinel/stub synthesis takes the write lock.
func (l *CallLinker) linkParallel(unresolved []UnresolvedCall) []CallsEdge {
	workers := min(runtime.NumCPU(), 8)
	jobs := make(chan int, len(unresolved))
	results := make(chan CallsEdge, len(unresolved))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				for _, edge := range l.linkOne(unresolved[i]) {
					results <- edge
				}
			}
		}()
	}
	for i := range unresolved {
		jobs <- i
	}
	close(jobs)
	go func() {
		wg.Wait()
		close(results)
	}()

	var edges []CallsEdge
	seen := make(map[string]bool)
	for edge := range results {
		key := edge.CallerID + "->" + edge.CalleeID
		if !seen[key] {
			seen[key] = true
			edges = append(edges, edge)
		}
	}
	return edges
}

// linkOne applies the strategies in order: qualified import lookup, dot
// import, interface dispatch, then the sentinel.
func (l *CallLinker) linkOne(call UnresolvedCall) []CallsEdge {
	if strings.Contains(call.CalleeName, ".") {
		if id := l.linkQualified(call); id != "" {
			return []CallsEdge{{CallerID: call.CallerID, CalleeID: id, CallLine: call.Line}}
		}
	}
	if id := l.linkDotImport(call); id != "" {
		return []CallsEdge{{CallerID: call.CallerID, CalleeID: id, CallLine: call.Line}}
	}
	if edges := l.linkThroughDispatch(call); len(edges) > 0 {
		return edges
	}
	return []CallsEdge{{CallerID: call.CallerID, CalleeID: l.sentinelTarget(), CallLine: call.Line}}
}

// linkQualified handles "alias.Exported" calls through the caller file's
// imports.
func (l *CallLinker) linkQualified(call UnresolvedCall) string {
	head, rest, _ := strings.Cut(call.CalleeName, ".")
	funcName := rest
	if idx := strings.LastIndex(rest, "."); idx >= 0 {
		funcName = rest[idx+1:]
	}
	if !goExported(funcName) {
		return ""
	}

	importPath, ok := l.importsByFile[call.FilePath][head]
	if !ok {
		return ""
	}
	return l.functionInImportedModule(importPath, funcName)
}

// linkDotImport handles unqualified names brought in by dot imports.
func (l *CallLinker) linkDotImport(call UnresolvedCall) string {
	for alias, importPath := range l.importsByFile[call.FilePath] {
		if alias != "." {
			continue
		}
		if id := l.functionInImportedModule(importPath, call.CalleeName); id != "" {
			return id
		}
	}
	return ""
}

func (l *CallLinker) functionInImportedModule(importPath, funcName string) string {
	dir := l.moduleDirFor(importPath)
	if dir == "" {
		return ""
	}
	return l.functionsByModule[dir][funcName]
}

// moduleDirFor maps an import path to a local module directory: exact
// match, suffix match ("…/internal/handlers" ends with the local dir), or
// package-name match, caching what it learns.
func (l *CallLinker) moduleDirFor(importPath string) string {
	l.mu.RLock()
	if dir, ok := l.importToModuleDir[importPath]; ok {
		l.mu.RUnlock()
		return dir
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if dir, ok := l.importToModuleDir[importPath]; ok {
		return dir
	}
	for dir := range l.modules {
		if strings.HasSuffix(importPath, dir) {
			l.importToModuleDir[importPath] = dir
			return dir
		}
	}
	base := filepath.Base(importPath)
	for dir, mod := range l.modules {
		if mod.PackageName == base {
			l.importToModuleDir[importPath] = dir
			return dir
		}
	}
	return ""
}

// linkThroughDispatch resolves "receiver.field.Method" shapes: the field's
// (or parameter's) declared type leads to the interface's implementations,
// and each implementation's method gets an edge.
func (l *CallLinker) linkThroughDispatch(call UnresolvedCall) []CallsEdge {
	if !strings.Contains(call.CalleeName, ".") {
		return nil
	}

	callerName := l.nameOf[call.CallerID]
	if strings.Contains(callerName, ".") {
		if edges := l.dispatchViaFields(call, callerName); len(edges) > 0 {
			return edges
		}
	}
	return l.dispatchViaParams(call)
}

// dispatchViaFields follows the caller struct's field types:
// Builder.Build calling b.writer.Write links through Builder.writer's
// declared type.
func (l *CallLinker) dispatchViaFields(call UnresolvedCall, callerName string) []CallsEdge {
	structName, _, _ := strings.Cut(callerName, ".")
	parts := strings.Split(call.CalleeName, ".")
	if len(parts) < 2 {
		return nil
	}
	methodName := parts[len(parts)-1]

	fields, ok := l.fieldTypes[structName]
	if !ok {
		return nil
	}
	for i := len(parts) - 2; i >= 0; i-- {
		if fieldType, ok := fields[parts[i]]; ok {
			return l.edgesToImplementations(call, methodName, fieldType)
		}
	}
	return nil
}

// dispatchViaParams follows interface-typed parameters: for
// `func store(client Querier)`, "client.Run" links through Querier.
func (l *CallLinker) dispatchViaParams(call UnresolvedCall) []CallsEdge {
	sig := l.signatureOf[call.CallerID]
	if sig == "" {
		return nil
	}
	params := sigparse.ParseGoParams(sig)
	if len(params) == 0 {
		return nil
	}

	parts := strings.Split(call.CalleeName, ".")
	if len(parts) < 2 {
		return nil
	}
	methodName := parts[len(parts)-1]

	for i := len(parts) - 2; i >= 0; i-- {
		for _, p := range params {
			if p.Name != parts[i] {
				continue
			}
			if edges := l.edgesToImplementations(call, methodName, sigparse.NormalizeType(p.Type)); len(edges) > 0 {
				return edges
			}
		}
	}
	return nil
}

// edgesToImplementations fans one dispatch site out to every known
// implementation of the target type's method. Concrete types link
// directly; unknown external types get a synthesized stub target.
func (l *CallLinker) edgesToImplementations(call UnresolvedCall, methodName, targetType string) []CallsEdge {
	if impls, ok := l.implementedBy[targetType]; ok {
		var edges []CallsEdge
		for _, concrete := range impls {
			if calleeID, ok := l.byQualified[concrete+"."+methodName]; ok {
				edges = append(edges, CallsEdge{CallerID: call.CallerID, CalleeID: calleeID, CallLine: call.Line})
			}
		}
		if len(edges) > 0 {
			return edges
		}
	}

	if calleeID, ok := l.byQualified[targetType+"."+methodName]; ok {
		return []CallsEdge{{CallerID: call.CallerID, CalleeID: calleeID, CallLine: call.Line}}
	}

	if goBuiltinType(targetType) {
		return nil
	}
	return []CallsEdge{{CallerID: call.CallerID, CalleeID: l.externalStub(targetType, methodName), CallLine: call.Line}}
}

// externalStub synthesizes a Function entity for a method on a type
// outside the repository (sql.DB.Query and the like) so the edge has a
// real endpoint.
func (l *CallLinker) externalStub(typeName, methodName string) string {
	qualified := typeName + "." + methodName

	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.byQualified[qualified]; ok {
		return id
	}
	sum := sha256.Sum256([]byte("external:" + qualified))
	id := "func:" + hex.EncodeToString(sum[:])[:16]
	l.byQualified[qualified] = id
	l.stubs = append(l.stubs, FunctionEntity{
		ID:         id,
		Name:       qualified,
		FilePath:   "<external>",
		Visibility: "public",
		StartLine:  1,
		EndLine:    1,
	})
	return id
}

// sentinelTarget lazily synthesizes the unknown-target entity shared by
// every unlinkable reference.
func (l *CallLinker) sentinelTarget() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.sentinelled {
		l.sentinelled = true
		l.stubs = append(l.stubs, FunctionEntity{
			ID:         unknownTargetID,
			Name:       graphmodel.UnknownFunction.Name,
			FilePath:   "<unknown>",
			Visibility: "public",
			StartLine:  1,
			EndLine:    1,
		})
	}
	return unknownTargetID
}

// Stubs returns the synthesized entities (external method targets and the
// sentinel) accumulated during linking. Write them with the real
// functions so edges have endpoints.
func (l *CallLinker) Stubs() []FunctionEntity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]FunctionEntity(nil), l.stubs...)
}

// Stats reports index sizes.
func (l *CallLinker) Stats() (modules, functions, imports int) {
	modules = len(l.modules)
	for _, fns := range l.functionsByModule {
		functions += len(fns)
	}
	for _, imps := range l.importsByFile {
		imports += len(imps)
	}
	return
}

// leafName strips a receiver prefix: "Batcher.Batch" -> "Batch".
func leafName(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// goExported reports whether a Go identifier is exported.
func goExported(name string) bool {
	return len(name) > 0 && name[0] >= 'A' && name[0] <= 'Z'
}

// goBuiltinType reports types that cannot carry user methods; dispatch
// through them never stubs.
func goBuiltinType(t string) bool {
	switch t {
	case "string", "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64",
		"float32", "float64", "complex64", "complex128",
		"bool", "byte", "rune", "error", "func",
		"any", "interface{}",
		"Context": // context.Context is ubiquitous but not local
		return true
	}
	return false
}

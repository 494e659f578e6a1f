// Package parser walks an ast.Node tree rooted at a (module ...) form and
// compiles it into an encoder.Module, resolving names (functions,
// globals, locals, branch labels) to the numeric indices the binary
// format uses.
package parser

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/wippyai/wasm-core/wat/internal/ast"
	"github.com/wippyai/wasm-core/wat/internal/encoder"
	"github.com/wippyai/wasm-core/wat/internal/opcode"
)

// Parse compiles the single top-level (module ...) form in nodes.
func Parse(nodes []*ast.Node) (*encoder.Module, error) {
	if len(nodes) != 1 {
		return nil, fmt.Errorf("expected exactly one top-level form")
	}
	root := nodes[0]
	if root.Head() != "module" {
		return nil, fmt.Errorf("expected 'module' as the top-level form")
	}
	mb := &moduleBuilder{
		out:         &encoder.Module{},
		funcNames:   map[string]uint32{},
		globalNames: map[string]uint32{},
		funcSigs:    map[*ast.Node]*funcSig{},
	}
	return mb.build(root.Children[1:])
}

// funcSig is a defined function's signature and body, captured while
// assigning its index in the first pass so the second pass doesn't need
// to reparse the param/result clause.
type funcSig struct {
	params     []byte
	paramNames []string
	bodyNodes  []*ast.Node // locals and instructions, params/results stripped
}

type moduleBuilder struct {
	out *encoder.Module

	funcNames     map[string]uint32
	globalNames   map[string]uint32
	funcSigs      map[*ast.Node]*funcSig
	nextFuncIdx   uint32
	nextGlobalIdx uint32
}

// build assigns function and global indices in a first pass (so a
// function may call a sibling declared later in module source order),
// then compiles globals, data and function bodies in a second pass.
func (mb *moduleBuilder) build(items []*ast.Node) (*encoder.Module, error) {
	var funcDecls, globalDecls, dataDecls []*ast.Node

	for _, item := range items {
		switch item.Head() {
		case "import":
			if err := mb.declareImport(item); err != nil {
				return nil, err
			}
		case "func":
			if err := mb.declareFunc(item); err != nil {
				return nil, err
			}
			funcDecls = append(funcDecls, item)
		case "memory":
			if err := mb.declareMemory(item); err != nil {
				return nil, err
			}
		case "global":
			globalDecls = append(globalDecls, item)
		case "data":
			dataDecls = append(dataDecls, item)
		default:
			return nil, fmt.Errorf("unsupported module item %q", item.Head())
		}
	}

	for _, g := range globalDecls {
		if err := mb.compileGlobal(g); err != nil {
			return nil, err
		}
	}
	for _, d := range dataDecls {
		if err := mb.compileData(d); err != nil {
			return nil, err
		}
	}
	for _, f := range funcDecls {
		if err := mb.compileFunc(f); err != nil {
			return nil, err
		}
	}
	return mb.out, nil
}

func (mb *moduleBuilder) declareImport(item *ast.Node) error {
	c := item.Children[1:]
	if len(c) < 3 || !c[0].IsString || !c[1].IsString {
		return fmt.Errorf(`import: expected (import "module" "name" (func ...))`)
	}
	modName, name, sig := c[0].Str, c[1].Str, c[2]
	if sig.Head() != "func" {
		return fmt.Errorf("import: only function imports are supported")
	}
	rest := sig.Children[1:]
	var sigName string
	if len(rest) > 0 && isName(rest[0].Atom) {
		sigName = rest[0].Atom
		rest = rest[1:]
	}
	params, results, _, _, err := parseParamsResults(rest)
	if err != nil {
		return err
	}
	if len(results) > 0 {
		return fmt.Errorf("import %s.%s: function imports with results are not supported", modName, name)
	}
	typeIdx := mb.internType(params, results)
	mb.out.Imports = append(mb.out.Imports, encoder.Import{Module: modName, Name: name, TypeIdx: typeIdx})
	idx := mb.nextFuncIdx
	mb.nextFuncIdx++
	if sigName != "" {
		mb.funcNames[sigName] = idx
	}
	return nil
}

func (mb *moduleBuilder) declareFunc(item *ast.Node) error {
	c := item.Children[1:]
	var name, exportName string
	if len(c) > 0 && isName(c[0].Atom) {
		name = c[0].Atom
		c = c[1:]
	}
	if len(c) > 0 && c[0].Head() == "export" {
		if len(c[0].Children) < 2 || !c[0].Children[1].IsString {
			return fmt.Errorf("func: malformed (export ...) clause")
		}
		exportName = c[0].Children[1].Str
		c = c[1:]
	}
	params, results, paramNames, rest, err := parseParamsResults(c)
	if err != nil {
		return err
	}

	idx := mb.nextFuncIdx
	mb.nextFuncIdx++
	typeIdx := mb.internType(params, results)
	mb.out.Funcs = append(mb.out.Funcs, typeIdx)
	if name != "" {
		mb.funcNames[name] = idx
	}
	if exportName != "" {
		mb.out.Exports = append(mb.out.Exports, encoder.Export{Name: exportName, Kind: encoder.ExportFunc, Idx: idx})
	}
	mb.funcSigs[item] = &funcSig{params: params, paramNames: paramNames, bodyNodes: rest}
	return nil
}

func (mb *moduleBuilder) declareMemory(item *ast.Node) error {
	c := item.Children[1:]
	if len(c) > 0 && isName(c[0].Atom) {
		c = c[1:] // named memory; single-memory modules never reference it
	}
	var exportName string
	if len(c) > 0 && c[0].Head() == "export" {
		if len(c[0].Children) < 2 || !c[0].Children[1].IsString {
			return fmt.Errorf("memory: malformed (export ...) clause")
		}
		exportName = c[0].Children[1].Str
		c = c[1:]
	}
	if len(c) == 0 {
		return fmt.Errorf("memory: expected a page count")
	}
	min, err := strconv.ParseUint(c[0].Atom, 10, 32)
	if err != nil {
		return fmt.Errorf("memory: invalid page count %q", c[0].Atom)
	}
	lim := encoder.Limits{Min: uint32(min)}
	if len(c) > 1 {
		max, err := strconv.ParseUint(c[1].Atom, 10, 32)
		if err != nil {
			return fmt.Errorf("memory: invalid max page count %q", c[1].Atom)
		}
		lim.Max, lim.HasMax = uint32(max), true
	}
	idx := uint32(len(mb.out.Memories))
	mb.out.Memories = append(mb.out.Memories, lim)
	if exportName != "" {
		mb.out.Exports = append(mb.out.Exports, encoder.Export{Name: exportName, Kind: encoder.ExportMemory, Idx: idx})
	}
	return nil
}

func (mb *moduleBuilder) compileGlobal(item *ast.Node) error {
	c := item.Children[1:]
	var name string
	if len(c) > 0 && isName(c[0].Atom) {
		name = c[0].Atom
		c = c[1:]
	}
	if len(c) < 2 {
		return fmt.Errorf("global: expected a type and an initializer")
	}
	typeNode, initExpr := c[0], c[1]

	mutable := false
	var vt byte
	var err error
	if typeNode.List {
		if typeNode.Head() != "mut" || len(typeNode.Children) != 2 {
			return fmt.Errorf("global: malformed mutable type")
		}
		mutable = true
		vt, err = valType(typeNode.Children[1].Atom)
	} else {
		vt, err = valType(typeNode.Atom)
	}
	if err != nil {
		return err
	}

	if initExpr.Head() != "i32.const" || len(initExpr.Children) != 2 {
		return fmt.Errorf("global: only an (i32.const N) initializer is supported")
	}
	v, err := parseI32(initExpr.Children[1].Atom)
	if err != nil {
		return err
	}

	idx := mb.nextGlobalIdx
	mb.nextGlobalIdx++
	if name != "" {
		mb.globalNames[name] = idx
	}
	mb.out.Globals = append(mb.out.Globals, encoder.Global{Type: vt, Mutable: mutable, InitI32: v})
	return nil
}

func (mb *moduleBuilder) compileData(item *ast.Node) error {
	c := item.Children[1:]
	if len(c) < 2 {
		return fmt.Errorf("data: expected an offset expression and a string")
	}
	offsetExpr, str := c[0], c[1]
	if offsetExpr.Head() != "i32.const" || len(offsetExpr.Children) != 2 {
		return fmt.Errorf("data: only an (i32.const N) offset is supported")
	}
	off, err := parseI32(offsetExpr.Children[1].Atom)
	if err != nil {
		return err
	}
	if !str.IsString {
		return fmt.Errorf("data: expected a string literal")
	}
	mb.out.Datas = append(mb.out.Datas, encoder.Data{Offset: off, Bytes: []byte(str.Str)})
	return nil
}

func (mb *moduleBuilder) compileFunc(item *ast.Node) error {
	sig := mb.funcSigs[item]
	fc := &funcCompiler{mb: mb, locals: map[string]uint32{}}
	for i, name := range sig.paramNames {
		if name != "" {
			fc.locals[name] = uint32(i)
		}
	}

	nextLocal := uint32(len(sig.paramNames))
	var localTypes []byte
	rest := sig.bodyNodes
	i := 0
	for i < len(rest) && rest[i].Head() == "local" {
		names, types, err := parseLocalDecl(rest[i].Children[1:])
		if err != nil {
			return err
		}
		for j, n := range names {
			if n != "" {
				fc.locals[n] = nextLocal
			}
			localTypes = append(localTypes, types[j])
			nextLocal++
		}
		i++
	}

	for _, instr := range rest[i:] {
		if err := fc.compileInstr(instr); err != nil {
			return err
		}
	}
	fc.buf.WriteByte(opcode.OpEnd)

	mb.out.Codes = append(mb.out.Codes, encoder.Code{Locals: localTypes, Body: fc.buf.Bytes()})
	return nil
}

// parseLocalDecl parses the contents of one (local ...) clause, either a
// single named local ($i i32) or an anonymous run (i32 i32 i32).
func parseLocalDecl(nodes []*ast.Node) ([]string, []byte, error) {
	if len(nodes) > 0 && isName(nodes[0].Atom) {
		t, err := valType(nodes[1].Atom)
		if err != nil {
			return nil, nil, err
		}
		return []string{nodes[0].Atom}, []byte{t}, nil
	}
	var names []string
	var types []byte
	for _, n := range nodes {
		t, err := valType(n.Atom)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, "")
		types = append(types, t)
	}
	return names, types, nil
}

// parseParamsResults consumes leading (param ...) then (result ...)
// clauses from nodes, returning the accumulated value types and any
// leftover nodes (locals/instructions for a func, nothing for an import).
// An unknown value type in any clause is an error.
func parseParamsResults(nodes []*ast.Node) (params, results []byte, paramNames []string, rest []*ast.Node, err error) {
	i := 0
	for i < len(nodes) && nodes[i].Head() == "param" {
		p := nodes[i].Children[1:]
		if len(p) > 0 && isName(p[0].Atom) {
			t, err := valType(p[1].Atom)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			paramNames = append(paramNames, p[0].Atom)
			params = append(params, t)
		} else {
			for _, tn := range p {
				t, err := valType(tn.Atom)
				if err != nil {
					return nil, nil, nil, nil, err
				}
				paramNames = append(paramNames, "")
				params = append(params, t)
			}
		}
		i++
	}
	for i < len(nodes) && nodes[i].Head() == "result" {
		for _, tn := range nodes[i].Children[1:] {
			t, err := valType(tn.Atom)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			results = append(results, t)
		}
		i++
	}
	return params, results, paramNames, nodes[i:], nil
}

func (mb *moduleBuilder) internType(params, results []byte) uint32 {
	for i, t := range mb.out.Types {
		if bytes.Equal(t.Params, params) && bytes.Equal(t.Results, results) {
			return uint32(i)
		}
	}
	idx := uint32(len(mb.out.Types))
	mb.out.Types = append(mb.out.Types, encoder.FuncType{Params: params, Results: results})
	return idx
}

func (mb *moduleBuilder) funcIdx(ref string) (uint32, error) {
	if n, err := strconv.ParseUint(ref, 10, 32); err == nil {
		return uint32(n), nil
	}
	idx, ok := mb.funcNames[ref]
	if !ok {
		return 0, fmt.Errorf("unknown function %q", ref)
	}
	return idx, nil
}

func (mb *moduleBuilder) globalIdx(ref string) (uint32, error) {
	if n, err := strconv.ParseUint(ref, 10, 32); err == nil {
		return uint32(n), nil
	}
	idx, ok := mb.globalNames[ref]
	if !ok {
		return 0, fmt.Errorf("unknown global %q", ref)
	}
	return idx, nil
}

func isName(s string) bool { return len(s) > 0 && s[0] == '$' }

func valType(s string) (byte, error) {
	switch s {
	case "i32":
		return opcode.ValI32, nil
	case "i64":
		return opcode.ValI64, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", s)
	}
}

func parseI32(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer literal %q", s)
	}
	return int32(n), nil
}

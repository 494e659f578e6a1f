package encoder

import "github.com/wippyai/wasm-core/wat/internal/opcode"

// Module accumulates a WASM module's pieces in source order; Encode lays
// them out in the binary format's fixed section order regardless of the
// order internal/parser appended them in.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // index into Types, one per locally defined function
	Memories []Limits
	Globals  []Global
	Exports  []Export
	Codes    []Code
	Datas    []Data
}

// FuncType is a function signature: parameter and result value types.
type FuncType struct {
	Params  []byte
	Results []byte
}

// Import is a function import; this compiler only supports importing
// functions (the only import kind the host's log/get_state/set_state
// surface needs).
type Import struct {
	Module, Name string
	TypeIdx      uint32
}

// Limits is a memory's page-count bounds.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// Global is a module-level global variable with an i32.const initializer.
type Global struct {
	Type    byte
	Mutable bool
	InitI32 int32
}

// ExportKind is the binary format's export-descriptor discriminant.
type ExportKind byte

const (
	ExportFunc   ExportKind = 0x00
	ExportMemory ExportKind = 0x02
)

// Export names a func or memory index under a public export name.
type Export struct {
	Name string
	Kind ExportKind
	Idx  uint32
}

// Code is one defined function's body: its local declarations (one
// value-type byte per local, params excluded) and instruction bytes.
type Code struct {
	Locals []byte
	Body   []byte
}

// Data is an active data segment targeting memory 0 at a constant offset.
type Data struct {
	Offset int32
	Bytes  []byte
}

const (
	secType     = 1
	secImport   = 2
	secFunction = 3
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secCode     = 10
	secData     = 11
)

var magic = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

// Encode assembles the module into a binary WASM module.
func (m *Module) Encode() []byte {
	var out Buffer
	out.Write(magic)

	if len(m.Types) > 0 {
		writeSection(&out, secType, m.encodeTypes())
	}
	if len(m.Imports) > 0 {
		writeSection(&out, secImport, m.encodeImports())
	}
	if len(m.Funcs) > 0 {
		writeSection(&out, secFunction, m.encodeFunctions())
	}
	if len(m.Memories) > 0 {
		writeSection(&out, secMemory, m.encodeMemories())
	}
	if len(m.Globals) > 0 {
		writeSection(&out, secGlobal, m.encodeGlobals())
	}
	if len(m.Exports) > 0 {
		writeSection(&out, secExport, m.encodeExports())
	}
	if len(m.Codes) > 0 {
		writeSection(&out, secCode, m.encodeCodes())
	}
	if len(m.Datas) > 0 {
		writeSection(&out, secData, m.encodeData())
	}
	return out.Bytes()
}

func writeSection(out *Buffer, id byte, body []byte) {
	out.WriteByte(id)
	out.Vec(body)
}

func (m *Module) encodeTypes() []byte {
	var b Buffer
	b.Uleb128(uint64(len(m.Types)))
	for _, ft := range m.Types {
		b.WriteByte(0x60)
		b.Uleb128(uint64(len(ft.Params)))
		b.Write(ft.Params)
		b.Uleb128(uint64(len(ft.Results)))
		b.Write(ft.Results)
	}
	return b.Bytes()
}

func (m *Module) encodeImports() []byte {
	var b Buffer
	b.Uleb128(uint64(len(m.Imports)))
	for _, imp := range m.Imports {
		b.Vec([]byte(imp.Module))
		b.Vec([]byte(imp.Name))
		b.WriteByte(0x00) // func import kind
		b.Uleb128(uint64(imp.TypeIdx))
	}
	return b.Bytes()
}

func (m *Module) encodeFunctions() []byte {
	var b Buffer
	b.Uleb128(uint64(len(m.Funcs)))
	for _, t := range m.Funcs {
		b.Uleb128(uint64(t))
	}
	return b.Bytes()
}

func (m *Module) encodeMemories() []byte {
	var b Buffer
	b.Uleb128(uint64(len(m.Memories)))
	for _, lim := range m.Memories {
		encodeLimits(&b, lim)
	}
	return b.Bytes()
}

func encodeLimits(b *Buffer, lim Limits) {
	if lim.HasMax {
		b.WriteByte(0x01)
		b.Uleb128(uint64(lim.Min))
		b.Uleb128(uint64(lim.Max))
		return
	}
	b.WriteByte(0x00)
	b.Uleb128(uint64(lim.Min))
}

func (m *Module) encodeGlobals() []byte {
	var b Buffer
	b.Uleb128(uint64(len(m.Globals)))
	for _, g := range m.Globals {
		b.WriteByte(g.Type)
		if g.Mutable {
			b.WriteByte(0x01)
		} else {
			b.WriteByte(0x00)
		}
		b.WriteByte(opcode.OpI32Const)
		b.Sleb128(int64(g.InitI32))
		b.WriteByte(opcode.OpEnd)
	}
	return b.Bytes()
}

func (m *Module) encodeExports() []byte {
	var b Buffer
	b.Uleb128(uint64(len(m.Exports)))
	for _, e := range m.Exports {
		b.Vec([]byte(e.Name))
		b.WriteByte(byte(e.Kind))
		b.Uleb128(uint64(e.Idx))
	}
	return b.Bytes()
}

func (m *Module) encodeCodes() []byte {
	var b Buffer
	b.Uleb128(uint64(len(m.Codes)))
	for _, c := range m.Codes {
		var body Buffer
		encodeLocalsDecl(&body, c.Locals)
		body.Write(c.Body)
		b.Vec(body.Bytes())
	}
	return b.Bytes()
}

// encodeLocalsDecl groups consecutive same-type locals into runs, the
// compressed declaration form the binary format requires.
func encodeLocalsDecl(b *Buffer, locals []byte) {
	type run struct {
		count uint32
		typ   byte
	}
	var runs []run
	for _, t := range locals {
		if len(runs) > 0 && runs[len(runs)-1].typ == t {
			runs[len(runs)-1].count++
			continue
		}
		runs = append(runs, run{1, t})
	}
	b.Uleb128(uint64(len(runs)))
	for _, r := range runs {
		b.Uleb128(uint64(r.count))
		b.WriteByte(r.typ)
	}
}

func (m *Module) encodeData() []byte {
	var b Buffer
	b.Uleb128(uint64(len(m.Datas)))
	for _, d := range m.Datas {
		b.WriteByte(0x00) // active segment, memory index 0
		b.WriteByte(opcode.OpI32Const)
		b.Sleb128(int64(d.Offset))
		b.WriteByte(opcode.OpEnd)
		b.Vec(d.Bytes)
	}
	return b.Bytes()
}

// Package opcode holds the binary WASM value-type and instruction opcode
// constants this compiler emits — only the subset the plugin fixtures
// exercise, not the full instruction set the format defines.
package opcode

// Value type encodings (binary format §5.3.1).
const (
	ValI32 byte = 0x7F
	ValI64 byte = 0x7E
)

// BlockTypeEmpty marks a block/loop/if with no result, the binary
// format's "void" blocktype byte.
const BlockTypeEmpty byte = 0x40

// Control and variable-access opcodes.
const (
	OpBlock     byte = 0x02
	OpLoop      byte = 0x03
	OpIf        byte = 0x04
	OpElse      byte = 0x05
	OpEnd       byte = 0x0B
	OpBr        byte = 0x0C
	OpBrIf      byte = 0x0D
	OpCall      byte = 0x10
	OpLocalGet  byte = 0x20
	OpLocalSet  byte = 0x21
	OpGlobalGet byte = 0x23
	OpGlobalSet byte = 0x24
)

// Memory access opcodes.
const (
	OpI32Load   byte = 0x28
	OpI32Load8U byte = 0x2D
	OpI32Store  byte = 0x36
	OpI32Store8 byte = 0x3A
)

// Numeric opcodes.
const (
	OpI32Const byte = 0x41
	OpI32Eq    byte = 0x46
	OpI32Ne    byte = 0x47
	OpI32LtS   byte = 0x48
	OpI32GtS   byte = 0x4A
	OpI32LeS   byte = 0x4C
	OpI32GeS   byte = 0x4E
	OpI32Add   byte = 0x6A
	OpI32Sub   byte = 0x6B
	OpI32And   byte = 0x71
	OpI32Or    byte = 0x72
	OpI32RemU  byte = 0x70
)

// BinaryOps maps a mnemonic to its opcode for instructions that take both
// operands from the stack and push a single result, needing no immediate
// of their own.
var BinaryOps = map[string]byte{
	"i32.add":   OpI32Add,
	"i32.sub":   OpI32Sub,
	"i32.and":   OpI32And,
	"i32.or":    OpI32Or,
	"i32.rem_u": OpI32RemU,
	"i32.eq":    OpI32Eq,
	"i32.ne":    OpI32Ne,
	"i32.lt_s":  OpI32LtS,
	"i32.gt_s":  OpI32GtS,
	"i32.le_s":  OpI32LeS,
	"i32.ge_s":  OpI32GeS,
}

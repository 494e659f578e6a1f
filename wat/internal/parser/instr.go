package parser

import (
	"fmt"

	"github.com/wippyai/wasm-core/wat/internal/ast"
	"github.com/wippyai/wasm-core/wat/internal/encoder"
	"github.com/wippyai/wasm-core/wat/internal/opcode"
)

// funcCompiler compiles one function body's folded-form instructions
// into bytecode, tracking its local name->index map and the stack of
// enclosing block/loop labels used to resolve br/br_if targets.
type funcCompiler struct {
	mb     *moduleBuilder
	locals map[string]uint32
	labels []string
	buf    encoder.Buffer
}

// compileInstr compiles one folded s-expression instruction, recursing
// into its operand sub-expressions first so the stack machine sees them
// in evaluation order.
func (fc *funcCompiler) compileInstr(n *ast.Node) error {
	head := n.Head()
	if head == "" {
		return fmt.Errorf("expected an instruction")
	}
	args := n.Children[1:]

	if op, ok := opcode.BinaryOps[head]; ok {
		for _, a := range args {
			if err := fc.compileInstr(a); err != nil {
				return err
			}
		}
		fc.buf.WriteByte(op)
		return nil
	}

	switch head {
	case "i32.const":
		v, err := parseI32(args[0].Atom)
		if err != nil {
			return err
		}
		fc.buf.WriteByte(opcode.OpI32Const)
		fc.buf.Sleb128(int64(v))
		return nil

	case "local.get":
		idx, err := fc.localIdx(args[0].Atom)
		if err != nil {
			return err
		}
		fc.buf.WriteByte(opcode.OpLocalGet)
		fc.buf.Uleb128(uint64(idx))
		return nil

	case "local.set":
		if err := fc.compileInstr(args[1]); err != nil {
			return err
		}
		idx, err := fc.localIdx(args[0].Atom)
		if err != nil {
			return err
		}
		fc.buf.WriteByte(opcode.OpLocalSet)
		fc.buf.Uleb128(uint64(idx))
		return nil

	case "global.get":
		idx, err := fc.mb.globalIdx(args[0].Atom)
		if err != nil {
			return err
		}
		fc.buf.WriteByte(opcode.OpGlobalGet)
		fc.buf.Uleb128(uint64(idx))
		return nil

	case "global.set":
		if err := fc.compileInstr(args[1]); err != nil {
			return err
		}
		idx, err := fc.mb.globalIdx(args[0].Atom)
		if err != nil {
			return err
		}
		fc.buf.WriteByte(opcode.OpGlobalSet)
		fc.buf.Uleb128(uint64(idx))
		return nil

	case "call":
		idx, err := fc.mb.funcIdx(args[0].Atom)
		if err != nil {
			return err
		}
		for _, a := range args[1:] {
			if err := fc.compileInstr(a); err != nil {
				return err
			}
		}
		fc.buf.WriteByte(opcode.OpCall)
		fc.buf.Uleb128(uint64(idx))
		return nil

	case "i32.load":
		return fc.compileMemOp(args, opcode.OpI32Load, 2, 1)
	case "i32.load8_u":
		return fc.compileMemOp(args, opcode.OpI32Load8U, 0, 1)
	case "i32.store":
		return fc.compileMemOp(args, opcode.OpI32Store, 2, 2)
	case "i32.store8":
		return fc.compileMemOp(args, opcode.OpI32Store8, 0, 2)

	case "block", "loop":
		return fc.compileBlock(head, args)
	case "if":
		return fc.compileIf(args)
	case "br":
		return fc.compileBranch(opcode.OpBr, args, false)
	case "br_if":
		return fc.compileBranch(opcode.OpBrIf, args, true)

	default:
		return fmt.Errorf("unknown instruction %q", head)
	}
}

// compileMemOp compiles an i32 load/store, emitting its operands (an
// address, and for a store a value) before the opcode and its natural
// alignment/zero-offset immediates — none of the fixtures this compiler
// serves use offset=/align= attributes.
func (fc *funcCompiler) compileMemOp(args []*ast.Node, op byte, align uint64, operandCount int) error {
	if len(args) != operandCount {
		return fmt.Errorf("memory op: expected %d operand(s)", operandCount)
	}
	for _, a := range args {
		if err := fc.compileInstr(a); err != nil {
			return err
		}
	}
	fc.buf.WriteByte(op)
	fc.buf.Uleb128(align)
	fc.buf.Uleb128(0) // offset
	return nil
}

func (fc *funcCompiler) compileBlock(kind string, args []*ast.Node) error {
	label := ""
	if len(args) > 0 && isName(args[0].Atom) {
		label = args[0].Atom
		args = args[1:]
	}
	blockType := opcode.BlockTypeEmpty
	if len(args) > 0 && args[0].Head() == "result" {
		t, err := valType(args[0].Children[1].Atom)
		if err != nil {
			return err
		}
		blockType = t
		args = args[1:]
	}

	op := opcode.OpBlock
	if kind == "loop" {
		op = opcode.OpLoop
	}
	fc.buf.WriteByte(op)
	fc.buf.WriteByte(blockType)

	fc.labels = append(fc.labels, label)
	for _, instr := range args {
		if err := fc.compileInstr(instr); err != nil {
			return err
		}
	}
	fc.labels = fc.labels[:len(fc.labels)-1]
	fc.buf.WriteByte(opcode.OpEnd)
	return nil
}

func (fc *funcCompiler) compileIf(args []*ast.Node) error {
	blockType := opcode.BlockTypeEmpty
	if len(args) > 0 && args[0].Head() == "result" {
		t, err := valType(args[0].Children[1].Atom)
		if err != nil {
			return err
		}
		blockType = t
		args = args[1:]
	}
	if len(args) < 2 {
		return fmt.Errorf("if: expected a condition and a (then ...) clause")
	}
	cond, thenClause := args[0], args[1]
	var elseClause *ast.Node
	if len(args) > 2 {
		elseClause = args[2]
	}
	if thenClause.Head() != "then" {
		return fmt.Errorf("if: expected (then ...)")
	}
	if elseClause != nil && elseClause.Head() != "else" {
		return fmt.Errorf("if: expected (else ...)")
	}

	if err := fc.compileInstr(cond); err != nil {
		return err
	}
	fc.buf.WriteByte(opcode.OpIf)
	fc.buf.WriteByte(blockType)

	fc.labels = append(fc.labels, "")
	for _, instr := range thenClause.Children[1:] {
		if err := fc.compileInstr(instr); err != nil {
			return err
		}
	}
	if elseClause != nil {
		fc.buf.WriteByte(opcode.OpElse)
		for _, instr := range elseClause.Children[1:] {
			if err := fc.compileInstr(instr); err != nil {
				return err
			}
		}
	}
	fc.labels = fc.labels[:len(fc.labels)-1]
	fc.buf.WriteByte(opcode.OpEnd)
	return nil
}

// compileBranch compiles br/br_if. br_if takes the label first and its
// condition expression second, matching this repo's fixtures
// ((br_if $done (i32.ge_s ...))); br takes only the label.
func (fc *funcCompiler) compileBranch(op byte, args []*ast.Node, hasCond bool) error {
	if len(args) == 0 {
		return fmt.Errorf("%s: expected a label", opName(op))
	}
	depth, err := fc.labelDepth(args[0].Atom)
	if err != nil {
		return err
	}
	if hasCond {
		if len(args) != 2 {
			return fmt.Errorf("br_if: expected a label and a condition")
		}
		if err := fc.compileInstr(args[1]); err != nil {
			return err
		}
	}
	fc.buf.WriteByte(op)
	fc.buf.Uleb128(uint64(depth))
	return nil
}

func opName(op byte) string {
	if op == opcode.OpBrIf {
		return "br_if"
	}
	return "br"
}

func (fc *funcCompiler) labelDepth(name string) (uint32, error) {
	for i := len(fc.labels) - 1; i >= 0; i-- {
		if fc.labels[i] == name {
			return uint32(len(fc.labels) - 1 - i), nil
		}
	}
	return 0, fmt.Errorf("unknown label %q", name)
}

func (fc *funcCompiler) localIdx(ref string) (uint32, error) {
	if n, err := parseIndex(ref); err == nil {
		return n, nil
	}
	idx, ok := fc.locals[ref]
	if !ok {
		return 0, fmt.Errorf("unknown local %q", ref)
	}
	return idx, nil
}

func parseIndex(s string) (uint32, error) {
	var n uint32
	if len(s) == 0 {
		return 0, fmt.Errorf("empty index")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not numeric")
		}
		n = n*10 + uint32(c-'0')
	}
	return n, nil
}

package bytecode

import (
	"fmt"
	"sort"
	"strings"
)

// Opcode represents an instruction tag understood by the engine.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPush Opcode = 0x01 // Push value: PUSH <value>
	OpPop  Opcode = 0x02 // Pop top of stack
	OpDup  Opcode = 0x03 // Duplicate top of stack

	// ========================================================================
	// Memory (0x10-0x1F)
	// ========================================================================

	OpLoad  Opcode = 0x10 // Push memory cell: LOAD <addr>
	OpStore Opcode = 0x11 // Pop and write memory cell: STORE <addr>

	// ========================================================================
	// Arithmetic (0x20-0x2F)
	// ========================================================================

	OpAdd Opcode = 0x20 // Pop two, push sum
	OpSub Opcode = 0x21 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x22 // Pop two, push product
	OpDiv Opcode = 0x23 // Pop two, push quotient; faults on zero divisor

	// ========================================================================
	// Control flow (0x30-0x3F)
	// ========================================================================

	OpJmp  Opcode = 0x30 // Unconditional jump: JMP <target>
	OpJz   Opcode = 0x31 // Pop, jump if zero: JZ <target>
	OpCall Opcode = 0x32 // Push return address, enter scope, jump: CALL <target>
	OpRet  Opcode = 0x33 // Pop return address, exit scope, jump

	// ========================================================================
	// Dominion (0x40-0x4F)
	// ========================================================================

	OpBind Opcode = 0x40 // Bind name in innermost scope: BIND <name> <addr>

	// ========================================================================
	// Diagnostics (0x50-0x5F)
	// ========================================================================

	OpPrint Opcode = 0x50 // Emit memory cell to the sink: PRINT <addr>
	OpFlush Opcode = 0x51 // Emit diagnostic state to the sink
	OpLog   Opcode = 0x52 // Emit a trace line to the sink: LOG [<value>]
	OpErr   Opcode = 0x53 // Raise a ProgramError fault: ERR [<code>]

	// ========================================================================
	// Termination (0xF0-0xFF)
	// ========================================================================

	OpHalt Opcode = 0xFF // Stop execution successfully
)

// OperandKind describes how an operand slot is decoded before dispatch.
type OperandKind uint8

const (
	// KindValue slots yield a word: immediates as-is, addresses and names
	// through a memory read.
	KindValue OperandKind = iota

	// KindAddress slots yield a memory address. Names resolve through the
	// dominion scope chain.
	KindAddress

	// KindTarget slots yield an instruction index.
	KindTarget

	// KindSymbol slots carry a dominion name and are never resolved.
	KindSymbol
)

// String returns a human-readable name for OperandKind.
func (k OperandKind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindAddress:
		return "address"
	case KindTarget:
		return "target"
	case KindSymbol:
		return "symbol"
	default:
		return fmt.Sprintf("OperandKind(%d)", k)
	}
}

// OpcodeInfo provides metadata about each opcode for decoding and validation.
type OpcodeInfo struct {
	Name     string        // Mnemonic
	MinStack int           // Values that must be on the stack before dispatch
	Slots    []OperandKind // Operand slot kinds, in order
	Optional int           // How many trailing slots may be omitted
}

// MinOperands returns the fewest operands the opcode accepts.
func (i OpcodeInfo) MinOperands() int {
	return len(i.Slots) - i.Optional
}

// MaxOperands returns the most operands the opcode accepts.
func (i OpcodeInfo) MaxOperands() int {
	return len(i.Slots)
}

var (
	noSlots     []OperandKind
	valueSlots  = []OperandKind{KindValue, KindValue}
	addrSlot    = []OperandKind{KindAddress}
	targetSlot  = []OperandKind{KindTarget}
	bindSlots   = []OperandKind{KindSymbol, KindAddress}
	singleValue = []OperandKind{KindValue}
)

// opcodeInfoTable maps opcodes to their metadata.
// Arithmetic operands are optional values pushed before the operation,
// so MinStack counts what must already be present when none are given.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"NOP", 0, noSlots, 0},
	OpPush: {"PUSH", 0, singleValue, 0},
	OpPop:  {"POP", 1, noSlots, 0},
	OpDup:  {"DUP", 1, noSlots, 0},

	// Memory
	OpLoad:  {"LOAD", 0, addrSlot, 0},
	OpStore: {"STORE", 1, addrSlot, 0},

	// Arithmetic
	OpAdd: {"ADD", 2, valueSlots, 2},
	OpSub: {"SUB", 2, valueSlots, 2},
	OpMul: {"MUL", 2, valueSlots, 2},
	OpDiv: {"DIV", 2, valueSlots, 2},

	// Control flow
	OpJmp:  {"JMP", 0, targetSlot, 0},
	OpJz:   {"JZ", 1, targetSlot, 0},
	OpCall: {"CALL", 0, targetSlot, 0},
	OpRet:  {"RET", 0, noSlots, 0},

	// Dominion
	OpBind: {"BIND", 0, bindSlots, 0},

	// Diagnostics
	OpPrint: {"PRINT", 0, addrSlot, 0},
	OpFlush: {"FLUSH", 0, noSlots, 0},
	OpLog:   {"LOG", 0, singleValue, 1},
	OpErr:   {"ERR", 0, singleValue, 1},

	// Termination
	OpHalt: {"HALT", 0, noSlots, 0},
}

// mnemonicTable is the reverse of opcodeInfoTable.
var mnemonicTable = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Lookup returns the opcode for a mnemonic. Matching is case-insensitive.
func Lookup(mnemonic string) (Opcode, bool) {
	op, ok := mnemonicTable[strings.ToUpper(mnemonic)]
	return op, ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Known reports whether the opcode has metadata.
func (op Opcode) Known() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsJump returns true if the opcode may transfer control to an operand target.
func (op Opcode) IsJump() bool {
	return op >= OpJmp && op <= OpCall
}

// IsArithmetic returns true for the binary arithmetic opcodes.
func (op Opcode) IsArithmetic() bool {
	return op >= OpAdd && op <= OpDiv
}

// AllOpcodes returns every defined opcode in ascending order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	sort.Slice(opcodes, func(i, j int) bool { return opcodes[i] < opcodes[j] })
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}

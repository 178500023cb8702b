package bytecode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidInstruction is returned when an instruction does not fit its
// opcode's metadata.
var ErrInvalidInstruction = errors.New("invalid instruction")

// OperandType tags the encoding of an operand.
type OperandType uint8

const (
	// OperandImmediate is a literal word.
	OperandImmediate OperandType = iota

	// OperandAddress is an explicit memory address reference (@N).
	OperandAddress

	// OperandName is a symbolic dominion name ($name).
	OperandName
)

// String returns a human-readable name for OperandType.
func (t OperandType) String() string {
	switch t {
	case OperandImmediate:
		return "immediate"
	case OperandAddress:
		return "address"
	case OperandName:
		return "name"
	default:
		return fmt.Sprintf("OperandType(%d)", t)
	}
}

// Operand is one argument of an instruction.
type Operand struct {
	Type  OperandType `cbor:"1,keyasint"`
	Value int64       `cbor:"2,keyasint,omitempty"` // Immediate word or address
	Name  string      `cbor:"3,keyasint,omitempty"` // Dominion name
}

// Imm returns an immediate operand.
func Imm(v int64) Operand {
	return Operand{Type: OperandImmediate, Value: v}
}

// Addr returns an address reference operand.
func Addr(a int) Operand {
	return Operand{Type: OperandAddress, Value: int64(a)}
}

// Sym returns a symbolic dominion name operand.
func Sym(name string) Operand {
	return Operand{Type: OperandName, Name: name}
}

// String renders the operand in assembler syntax.
func (o Operand) String() string {
	switch o.Type {
	case OperandAddress:
		return "@" + strconv.FormatInt(o.Value, 10)
	case OperandName:
		return "$" + o.Name
	default:
		return strconv.FormatInt(o.Value, 10)
	}
}

// Instruction is a single decoded opcode with its operands.
// Instructions are never mutated once a chain is handed to the engine.
type Instruction struct {
	Op       Opcode    `cbor:"1,keyasint"`
	Operands []Operand `cbor:"2,keyasint,omitempty"`
	Label    string    `cbor:"3,keyasint,omitempty"`
}

// NewInstruction builds an instruction, copying the operand slice.
func NewInstruction(op Opcode, operands ...Operand) Instruction {
	in := Instruction{Op: op}
	if len(operands) > 0 {
		in.Operands = append([]Operand(nil), operands...)
	}
	return in
}

// WithLabel returns a copy of the instruction carrying the given label.
func (in Instruction) WithLabel(label string) Instruction {
	in.Label = label
	return in
}

// String renders the instruction in assembler syntax, without its label.
func (in Instruction) String() string {
	if len(in.Operands) == 0 {
		return in.Op.String()
	}
	parts := make([]string, 0, len(in.Operands)+1)
	parts = append(parts, in.Op.String())
	for _, o := range in.Operands {
		parts = append(parts, o.String())
	}
	return strings.Join(parts, " ")
}

// Validate checks the instruction against its opcode metadata.
func (in Instruction) Validate() error {
	if !in.Op.Known() {
		return fmt.Errorf("%w: unknown opcode 0x%02X", ErrInvalidInstruction, byte(in.Op))
	}
	info := GetOpcodeInfo(in.Op)
	n := len(in.Operands)
	if n < info.MinOperands() || n > info.MaxOperands() {
		if info.MinOperands() == info.MaxOperands() {
			return fmt.Errorf("%w: %s takes %d operand(s), got %d",
				ErrInvalidInstruction, info.Name, info.MaxOperands(), n)
		}
		return fmt.Errorf("%w: %s takes %d to %d operands, got %d",
			ErrInvalidInstruction, info.Name, info.MinOperands(), info.MaxOperands(), n)
	}
	for i, o := range in.Operands {
		if info.Slots[i] == KindSymbol && o.Type != OperandName {
			return fmt.Errorf("%w: %s operand %d must be a name, got %s",
				ErrInvalidInstruction, info.Name, i+1, o.Type)
		}
		if o.Type == OperandName && o.Name == "" {
			return fmt.Errorf("%w: %s operand %d has an empty name",
				ErrInvalidInstruction, info.Name, i+1)
		}
	}
	return nil
}

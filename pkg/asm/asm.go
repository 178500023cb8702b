// Package asm assembles line-oriented .exu source into bytecode modules.
//
// Each line holds at most one instruction:
//
//	[label:] MNEMONIC operand*   ; comment
//
// A label may also stand on a line of its own, naming the next instruction.
//
// Operands are separated by whitespace or commas. 42 and 0x2A are
// immediates, @3 is an address, $x is a dominion name. A bare identifier in
// a jump target slot names a label of the same chain; anywhere else it is a
// dominion name.
//
// The directives ".chain hotpath" and ".chain fallback [name]" start a new
// chain. Lines before the first directive belong to the hotpath.
package asm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/chazu/execue/pkg/bytecode"
)

// Error is an assembly error with its source position.
type Error struct {
	Line   int // 1-based
	Column int // 1-based
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Msg)
}

// field is a token on a line with its 1-based column.
type field struct {
	text string
	col  int
}

// pending is an instruction whose label references are not yet resolved.
type pending struct {
	op       bytecode.Opcode
	label    string
	operands []field
	line     int
}

// chainBuilder accumulates one chain's instructions.
type chainBuilder struct {
	name     string
	kind     bytecode.ChainKind
	explicit bool
	items    []pending
	labels   map[string]int

	// A label on a line of its own attaches to the next instruction.
	dangling *Error
	next     string
}

func newChainBuilder(name string, kind bytecode.ChainKind, explicit bool) *chainBuilder {
	return &chainBuilder{name: name, kind: kind, explicit: explicit, labels: make(map[string]int)}
}

// Assembler turns source text into a module.
type Assembler struct {
	hotpath   *chainBuilder
	fallbacks []*chainBuilder
	current   *chainBuilder
}

// Parse assembles source text into a validated module.
func Parse(src string) (*bytecode.Module, error) {
	a := &Assembler{}
	a.hotpath = newChainBuilder("hotpath", bytecode.ChainHotpath, false)
	a.current = a.hotpath

	for i, raw := range strings.Split(src, "\n") {
		if err := a.line(i+1, raw); err != nil {
			return nil, err
		}
	}
	return a.finish()
}

// ParseFile reads and assembles a .exu file.
func ParseFile(path string) (*bytecode.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", path, err)
	}
	return m, nil
}

// ParseChain assembles source that contains only hotpath instructions.
func ParseChain(src string) (bytecode.Chain, error) {
	m, err := Parse(src)
	if err != nil {
		return bytecode.Chain{}, err
	}
	if len(m.Fallbacks) > 0 {
		return bytecode.Chain{}, fmt.Errorf("expected a single chain, got %d fallback chain(s)", len(m.Fallbacks))
	}
	return m.Hotpath, nil
}

func (a *Assembler) line(lineNo int, raw string) error {
	if i := strings.IndexAny(raw, ";#"); i >= 0 {
		raw = raw[:i]
	}
	fields := splitFields(raw)
	if len(fields) == 0 {
		return nil
	}

	if strings.HasPrefix(fields[0].text, ".") {
		return a.directive(lineNo, fields)
	}

	var label string
	if strings.HasSuffix(fields[0].text, ":") {
		label = strings.TrimSuffix(fields[0].text, ":")
		if !isIdent(label) {
			return &Error{lineNo, fields[0].col, fmt.Sprintf("invalid label %q", label)}
		}
		if prev, ok := a.current.labels[label]; ok {
			return &Error{lineNo, fields[0].col, fmt.Sprintf("label %q already defined at instruction %d", label, prev)}
		}
		if a.current.next != "" {
			return &Error{lineNo, fields[0].col, fmt.Sprintf("label %q follows label %q with no instruction between", label, a.current.next)}
		}
		a.current.labels[label] = len(a.current.items)
		col := fields[0].col
		fields = fields[1:]
		if len(fields) == 0 {
			a.current.next = label
			a.current.dangling = &Error{lineNo, col, fmt.Sprintf("label %q has no instruction", label)}
			return nil
		}
	} else if a.current.next != "" {
		label = a.current.next
	}
	a.current.next, a.current.dangling = "", nil

	op, ok := bytecode.Lookup(fields[0].text)
	if !ok {
		return &Error{lineNo, fields[0].col, fmt.Sprintf("unknown mnemonic %q", fields[0].text)}
	}

	a.current.items = append(a.current.items, pending{
		op:       op,
		label:    label,
		operands: fields[1:],
		line:     lineNo,
	})
	return nil
}

func (a *Assembler) directive(lineNo int, fields []field) error {
	if fields[0].text != ".chain" {
		return &Error{lineNo, fields[0].col, fmt.Sprintf("unknown directive %q", fields[0].text)}
	}
	if len(fields) < 2 {
		return &Error{lineNo, fields[0].col, ".chain needs a kind: hotpath or fallback"}
	}

	switch strings.ToLower(fields[1].text) {
	case "hotpath":
		if len(fields) > 2 {
			return &Error{lineNo, fields[2].col, "hotpath chain takes no name"}
		}
		if a.hotpath.explicit || len(a.hotpath.items) > 0 {
			return &Error{lineNo, fields[0].col, "hotpath chain declared twice"}
		}
		a.hotpath.explicit = true
		a.current = a.hotpath
	case "fallback":
		name := fmt.Sprintf("fallback%d", len(a.fallbacks))
		if len(fields) > 2 {
			name = fields[2].text
		}
		if len(fields) > 3 {
			return &Error{lineNo, fields[3].col, "unexpected token after fallback name"}
		}
		fb := newChainBuilder(name, bytecode.ChainFallback, true)
		a.fallbacks = append(a.fallbacks, fb)
		a.current = fb
	default:
		return &Error{lineNo, fields[1].col, fmt.Sprintf("unknown chain kind %q", fields[1].text)}
	}
	return nil
}

func (a *Assembler) finish() (*bytecode.Module, error) {
	hot, err := a.hotpath.build()
	if err != nil {
		return nil, err
	}
	m := &bytecode.Module{Hotpath: hot}
	for _, fb := range a.fallbacks {
		c, err := fb.build()
		if err != nil {
			return nil, err
		}
		m.Fallbacks = append(m.Fallbacks, c)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (b *chainBuilder) build() (bytecode.Chain, error) {
	if b.dangling != nil {
		return bytecode.Chain{}, b.dangling
	}
	instructions := make([]bytecode.Instruction, 0, len(b.items))
	for _, p := range b.items {
		info := bytecode.GetOpcodeInfo(p.op)
		if len(p.operands) > info.MaxOperands() || len(p.operands) < info.MinOperands() {
			col := 1
			if len(p.operands) > info.MaxOperands() {
				col = p.operands[info.MaxOperands()].col
			}
			return bytecode.Chain{}, &Error{p.line, col, fmt.Sprintf("%s takes %d to %d operands, got %d",
				info.Name, info.MinOperands(), info.MaxOperands(), len(p.operands))}
		}

		operands := make([]bytecode.Operand, 0, len(p.operands))
		for i, f := range p.operands {
			o, err := b.operand(info.Slots[i], f, p.line)
			if err != nil {
				return bytecode.Chain{}, err
			}
			operands = append(operands, o)
		}
		instructions = append(instructions, bytecode.NewInstruction(p.op, operands...).WithLabel(p.label))
	}
	return bytecode.NewChain(b.name, b.kind, instructions...), nil
}

func (b *chainBuilder) operand(kind bytecode.OperandKind, f field, line int) (bytecode.Operand, error) {
	text := f.text
	switch {
	case strings.HasPrefix(text, "@"):
		n, err := strconv.ParseInt(text[1:], 0, 64)
		if err != nil || n < 0 {
			return bytecode.Operand{}, &Error{line, f.col, fmt.Sprintf("invalid address %q", text)}
		}
		return bytecode.Addr(int(n)), nil
	case strings.HasPrefix(text, "$"):
		if !isIdent(text[1:]) {
			return bytecode.Operand{}, &Error{line, f.col, fmt.Sprintf("invalid name %q", text)}
		}
		return bytecode.Sym(text[1:]), nil
	case isIdent(text):
		if kind == bytecode.KindTarget {
			idx, ok := b.labels[text]
			if !ok {
				return bytecode.Operand{}, &Error{line, f.col, fmt.Sprintf("undefined label %q", text)}
			}
			return bytecode.Imm(int64(idx)), nil
		}
		return bytecode.Sym(text), nil
	}

	n, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		return bytecode.Operand{}, &Error{line, f.col, fmt.Sprintf("invalid operand %q", text)}
	}
	return bytecode.Imm(n), nil
}

// splitFields splits a line on whitespace and commas, keeping columns.
func splitFields(s string) []field {
	var fields []field
	start := -1
	for i, r := range s {
		sep := unicode.IsSpace(r) || r == ','
		switch {
		case sep && start >= 0:
			fields = append(fields, field{s[start:i], start + 1})
			start = -1
		case !sep && start < 0:
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, field{s[start:], start + 1})
	}
	return fields
}

// isIdent reports whether s is a dominion name or label: a letter or
// underscore followed by letters, digits, underscores or dots.
func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '.'):
		default:
			return false
		}
	}
	return true
}

package bytecode

import (
	"fmt"
)

// ChainKind marks a chain as the primary path or a recovery path.
type ChainKind uint8

const (
	// ChainHotpath is executed first, before any fault occurs.
	ChainHotpath ChainKind = 0

	// ChainFallback is executed only after a fault.
	ChainFallback ChainKind = 1
)

// String returns a human-readable name for ChainKind.
func (k ChainKind) String() string {
	switch k {
	case ChainHotpath:
		return "hotpath"
	case ChainFallback:
		return "fallback"
	default:
		return fmt.Sprintf("ChainKind(%d)", k)
	}
}

// Chain is an ordered, 0-indexed sequence of instructions.
// Jump targets inside a chain are indices into that chain.
type Chain struct {
	Name         string        `cbor:"1,keyasint,omitempty"`
	Kind         ChainKind     `cbor:"2,keyasint"`
	Instructions []Instruction `cbor:"3,keyasint"`
}

// NewChain creates a chain of the given kind from instructions.
func NewChain(name string, kind ChainKind, instructions ...Instruction) Chain {
	return Chain{
		Name:         name,
		Kind:         kind,
		Instructions: append([]Instruction(nil), instructions...),
	}
}

// Hotpath is shorthand for an unnamed primary chain.
func Hotpath(instructions ...Instruction) Chain {
	return NewChain("hotpath", ChainHotpath, instructions...)
}

// Fallback is shorthand for a named recovery chain.
func Fallback(name string, instructions ...Instruction) Chain {
	return NewChain(name, ChainFallback, instructions...)
}

// Len returns the number of instructions.
func (c Chain) Len() int {
	return len(c.Instructions)
}

// At returns the instruction at index and whether index was in range.
func (c Chain) At(index int) (Instruction, bool) {
	if index < 0 || index >= len(c.Instructions) {
		return Instruction{}, false
	}
	return c.Instructions[index], true
}

// IndexOf returns the index of the instruction carrying label.
func (c Chain) IndexOf(label string) (int, bool) {
	for i, in := range c.Instructions {
		if in.Label == label {
			return i, true
		}
	}
	return 0, false
}

// Validate checks every instruction and label uniqueness.
// Jump targets are not range-checked here; an out-of-range target is a
// runtime fault on the next fetch.
func (c Chain) Validate() error {
	seen := make(map[string]int)
	for i, in := range c.Instructions {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("%s chain %q, instruction %d: %w", c.Kind, c.Name, i, err)
		}
		if in.Label == "" {
			continue
		}
		if prev, ok := seen[in.Label]; ok {
			return fmt.Errorf("%w: %s chain %q: label %q defined at %d and %d",
				ErrInvalidInstruction, c.Kind, c.Name, in.Label, prev, i)
		}
		seen[in.Label] = i
	}
	return nil
}

// Module is a hotpath chain together with its ordered fallback chains.
type Module struct {
	Hotpath   Chain   `cbor:"1,keyasint"`
	Fallbacks []Chain `cbor:"2,keyasint,omitempty"`
}

// Validate checks every chain in the module and their kinds.
func (m *Module) Validate() error {
	if m.Hotpath.Kind != ChainHotpath {
		return fmt.Errorf("%w: primary chain %q is marked %s", ErrInvalidInstruction, m.Hotpath.Name, m.Hotpath.Kind)
	}
	if err := m.Hotpath.Validate(); err != nil {
		return err
	}
	for _, fb := range m.Fallbacks {
		if fb.Kind != ChainFallback {
			return fmt.Errorf("%w: recovery chain %q is marked %s", ErrInvalidInstruction, fb.Name, fb.Kind)
		}
		if err := fb.Validate(); err != nil {
			return err
		}
	}
	return nil
}

package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing for the chain.
// Every non-comment line is valid assembler input, so the listing
// re-assembles to an identical chain.
func (c Chain) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s %s ===\n", c.Kind, c.Name))
	sb.WriteString(fmt.Sprintf("; Instructions: %d\n", len(c.Instructions)))

	for i, in := range c.Instructions {
		label := ""
		if in.Label != "" {
			label = in.Label + ":"
		}
		sb.WriteString(fmt.Sprintf("%-12s %-24s ; %04d\n", label, in.String(), i))
	}

	return sb.String()
}

// Disassemble returns a listing of every chain in the module, each preceded
// by the assembler directive that selects it.
func (m *Module) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(".chain hotpath\n")
	sb.WriteString(m.Hotpath.Disassemble())
	for _, fb := range m.Fallbacks {
		sb.WriteString("\n")
		if fb.Name != "" {
			sb.WriteString(fmt.Sprintf(".chain fallback %s\n", fb.Name))
		} else {
			sb.WriteString(".chain fallback\n")
		}
		sb.WriteString(fb.Disassemble())
	}

	return sb.String()
}

package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/execue/pkg/bytecode"
)

// ErrRegistrySealed is returned by Register once a registry is sealed.
var ErrRegistrySealed = errors.New("opcode registry is sealed")

// OutcomeKind selects what the engine does after a step.
type OutcomeKind uint8

const (
	OutcomeContinue OutcomeKind = iota
	OutcomeJump
	OutcomeHalt
	OutcomeFault
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "Continue"
	case OutcomeJump:
		return "Jump"
	case OutcomeHalt:
		return "Halt"
	case OutcomeFault:
		return "Fault"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", k)
	}
}

// StepOutcome is the result of dispatching one instruction.
type StepOutcome struct {
	Kind   OutcomeKind
	Target int    // Set for OutcomeJump
	Fault  *Fault // Set for OutcomeFault
}

// Continue advances to the next instruction.
func Continue() StepOutcome { return StepOutcome{Kind: OutcomeContinue} }

// Jump transfers control to target without an implicit increment.
func Jump(target int) StepOutcome { return StepOutcome{Kind: OutcomeJump, Target: target} }

// Halt ends the run successfully.
func Halt() StepOutcome { return StepOutcome{Kind: OutcomeHalt} }

// Faulted converts err into a fault outcome.
func Faulted(err error) StepOutcome {
	return StepOutcome{Kind: OutcomeFault, Fault: asFault(err)}
}

func (o StepOutcome) String() string {
	switch o.Kind {
	case OutcomeJump:
		return fmt.Sprintf("Jump(%d)", o.Target)
	case OutcomeFault:
		return fmt.Sprintf("Fault(%s)", o.Fault)
	default:
		return o.Kind.String()
	}
}

// Args are an instruction's operands after decoding. Words holds one
// resolved word per operand; symbol slots hold 0 and are read with Name.
type Args struct {
	Instruction bytecode.Instruction
	Words       []int64
}

// Len returns the number of operands.
func (a Args) Len() int { return len(a.Words) }

// Word returns the decoded operand at i.
func (a Args) Word(i int) int64 { return a.Words[i] }

// Name returns the raw dominion name of operand i.
func (a Args) Name(i int) string { return a.Instruction.Operands[i].Name }

// Handler implements one opcode. Handlers mutate only the context they are
// given and report control flow through the returned outcome.
type Handler func(ctx *Context, args Args) StepOutcome

// Registry maps opcodes to handlers. It is populated once, then sealed;
// a sealed registry is read-only and safe to share across goroutines.
type Registry struct {
	handlers map[bytecode.Opcode]Handler
	sealed   bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[bytecode.Opcode]Handler)}
}

// Register installs a handler, replacing any previous one for op.
func (r *Registry) Register(op bytecode.Opcode, h Handler) error {
	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, op)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", op)
	}
	r.handlers[op] = h
	return nil
}

// Seal makes the registry immutable and returns it.
func (r *Registry) Seal() *Registry {
	r.sealed = true
	return r
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Has reports whether op has a handler.
func (r *Registry) Has(op bytecode.Opcode) bool {
	_, ok := r.handlers[op]
	return ok
}

// Len returns the number of registered opcodes.
func (r *Registry) Len() int {
	return len(r.handlers)
}

// Dispatch runs the handler for op.
func (r *Registry) Dispatch(op bytecode.Opcode, ctx *Context, args Args) StepOutcome {
	h, ok := r.handlers[op]
	if !ok {
		return Faulted(newFault(FaultUnknownOpcode, "no handler registered for %s", op))
	}
	return h(ctx, args)
}

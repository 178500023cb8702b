package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/execue/pkg/bytecode"
)

var log = commonlog.GetLogger("execue.vm")

// ErrContextUsed is returned when Run is given a context that has already
// executed instructions.
var ErrContextUsed = errors.New("execution context already used")

// State is the engine's lifecycle state for a run.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StateHalted
	StateFaulted
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateHalted:
		return "Halted"
	case StateFaulted:
		return "Faulted"
	case StateExhausted:
		return "Exhausted"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// ParseState returns the state named by s, as produced by State.String.
func ParseState(s string) (State, bool) {
	for st := StateReady; st <= StateExhausted; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// RunResult is the terminal outcome of Run. Faults holds the complete fault
// log, including faults that fallback chains recovered from.
type RunResult struct {
	State     State
	Faults    []FaultRecord
	Terminal  *Fault // Fault that ended the run; nil when Halted
	Steps     int    // Instructions dispatched
	Fallbacks int    // Fallback chains spliced in
}

// Err returns the terminal fault as an error, or nil when the run halted.
func (r RunResult) Err() error {
	if r.Terminal == nil {
		return nil
	}
	return r.Terminal
}

// Engine drives the fetch-decode-execute loop. An Engine holds only its
// sealed registry, so one Engine may serve concurrent runs.
type Engine struct {
	registry *Registry
}

// NewEngine creates an engine dispatching through r, sealing it.
// A nil registry selects CoreRegistry.
func NewEngine(r *Registry) *Engine {
	if r == nil {
		r = CoreRegistry()
	}
	return &Engine{registry: r.Seal()}
}

// Registry returns the engine's sealed registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// RunModule runs the module's hotpath with its fallback chains.
func (e *Engine) RunModule(m *bytecode.Module, ctx *Context, p Profile) (RunResult, error) {
	return e.Run(m.Hotpath, ctx, p.WithModule(m))
}

// Run executes program against ctx until it halts, faults with no fallback
// chain configured, or exhausts the fallback budget. The returned error is
// reserved for construction problems (invalid profile or program, reused
// context); runtime failures are reported in the RunResult.
//
// The memory bank is the one ctx already owns. p.MemoryCapacity only sizes
// banks created through Profile.NewContext, so a caller-built context keeps
// its own capacity.
func (e *Engine) Run(program bytecode.Chain, ctx *Context, p Profile) (RunResult, error) {
	if ctx == nil {
		return RunResult{}, errors.New("nil execution context")
	}
	if ctx.steps > 0 || ctx.faultCount > 0 || ctx.halted {
		return RunResult{}, ErrContextUsed
	}
	if err := p.Validate(); err != nil {
		return RunResult{}, err
	}
	if err := program.Validate(); err != nil {
		return RunResult{}, fmt.Errorf("program: %w", err)
	}

	ctx.budget = p.CycleBudget
	fc := NewFallbackController(p)
	current := program

	log.Debugf("run %q: %d instruction(s), %d fallback chain(s), budget %d",
		program.Name, program.Len(), len(p.Fallbacks), p.CycleBudget)

	for {
		out := e.Step(current, ctx)
		switch out.Kind {
		case OutcomeHalt:
			log.Debugf("run %q halted after %d step(s)", program.Name, ctx.steps)
			return e.finish(ctx, fc, StateHalted, nil), nil
		case OutcomeFault:
			rec := fc.Recover(ctx)
			if !rec.Resume {
				log.Debugf("run %q ended %s: %s", program.Name, rec.State, rec.Terminal)
				return e.finish(ctx, fc, rec.State, rec.Terminal), nil
			}
			log.Debugf("run %q: fallback %d resuming in chain %q", program.Name, fc.Attempts(), rec.Chain.Name)
			current = rec.Chain
		}
	}
}

// Step executes the instruction at ctx.PC in program. Faults are recorded
// in the context's log; recovery is left to the caller.
func (e *Engine) Step(program bytecode.Chain, ctx *Context) StepOutcome {
	if ctx.halted {
		return Halt()
	}

	in, ok := program.At(ctx.PC)
	if !ok {
		if ctx.jumped {
			f := newFault(FaultInvalidJumpTarget, "jump from %d to %d outside [0, %d)", ctx.jumpFrom, ctx.PC, program.Len())
			return e.fault(program, ctx, ctx.jumpFrom, f)
		}
		// Falling off the end is an implicit HALT.
		ctx.halted = true
		return Halt()
	}

	if ctx.budget > 0 && ctx.steps >= ctx.budget {
		f := newFault(FaultCycleBudgetExceeded, "%d step(s) reached the cycle budget", ctx.steps)
		return e.fault(program, ctx, ctx.PC, f)
	}
	ctx.steps++
	ctx.jumped = false

	args, err := e.decode(in, ctx)
	if err != nil {
		return e.fault(program, ctx, ctx.PC, asFault(err))
	}

	// Stack depth is checked before the handler runs, so STORE to a bad
	// address on an empty stack reports StackUnderflow, not OutOfBounds.
	info := bytecode.GetOpcodeInfo(in.Op)
	need := info.MinStack
	if in.Op.IsArithmetic() {
		need -= len(in.Operands)
	}
	if ctx.StackLen() < need {
		f := newFault(FaultStackUnderflow, "%s needs %d operand(s) on the stack, found %d", in.Op, need, ctx.StackLen())
		return e.fault(program, ctx, ctx.PC, f)
	}

	out := e.registry.Dispatch(in.Op, ctx, args)
	switch out.Kind {
	case OutcomeContinue:
		ctx.PC++
	case OutcomeJump:
		ctx.jumped = true
		ctx.jumpFrom = ctx.PC
		ctx.PC = out.Target
	case OutcomeHalt:
		ctx.halted = true
	case OutcomeFault:
		if out.Fault == nil {
			out.Fault = newFault(FaultUnknownOpcode, "%s handler faulted without a fault value", in.Op)
		}
		return e.fault(program, ctx, ctx.PC, out.Fault)
	}
	return out
}

func (e *Engine) fault(program bytecode.Chain, ctx *Context, index int, f *Fault) StepOutcome {
	rec := ctx.recordFault(f, index, program.Name)
	log.Debugf("fault %s", rec)
	return StepOutcome{Kind: OutcomeFault, Fault: f}
}

// decode resolves every operand of in according to its slot kind.
func (e *Engine) decode(in bytecode.Instruction, ctx *Context) (Args, error) {
	info := bytecode.GetOpcodeInfo(in.Op)
	args := Args{Instruction: in, Words: make([]int64, len(in.Operands))}
	for i, o := range in.Operands {
		kind := bytecode.KindValue
		if i < len(info.Slots) {
			kind = info.Slots[i]
		}
		if kind == bytecode.KindSymbol {
			continue
		}
		w, err := resolveOperand(ctx, o, kind)
		if err != nil {
			return Args{}, err
		}
		args.Words[i] = w
	}
	return args, nil
}

func resolveOperand(ctx *Context, o bytecode.Operand, kind bytecode.OperandKind) (int64, error) {
	var addr int
	switch o.Type {
	case bytecode.OperandImmediate:
		return o.Value, nil
	case bytecode.OperandAddress:
		addr = int(o.Value)
	case bytecode.OperandName:
		a, err := ctx.Scopes.Resolve(o.Name)
		if err != nil {
			return 0, err
		}
		addr = a
	default:
		return 0, newFault(FaultUnknownOpcode, "operand type %s", o.Type)
	}
	if kind == bytecode.KindValue {
		return ctx.Memory.Read(addr)
	}
	return int64(addr), nil
}

func (e *Engine) finish(ctx *Context, fc *FallbackController, state State, terminal *Fault) RunResult {
	ctx.release()
	return RunResult{
		State:     state,
		Faults:    ctx.FaultLog(),
		Terminal:  terminal,
		Steps:     ctx.steps,
		Fallbacks: fc.Attempts(),
	}
}

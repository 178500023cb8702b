package vm

import (
	"fmt"

	"github.com/chazu/execue/pkg/bytecode"
)

// CoreRegistry returns a sealed registry holding a handler for every
// opcode in the bytecode package.
func CoreRegistry() *Registry {
	r := NewRegistry()
	for op, h := range coreHandlers() {
		if err := r.Register(op, h); err != nil {
			panic(fmt.Sprintf("vm: core registry: %v", err))
		}
	}
	return r.Seal()
}

func coreHandlers() map[bytecode.Opcode]Handler {
	return map[bytecode.Opcode]Handler{
		// Stack
		bytecode.OpNop:  opNop,
		bytecode.OpPush: opPush,
		bytecode.OpPop:  opPop,
		bytecode.OpDup:  opDup,

		// Memory
		bytecode.OpLoad:  opLoad,
		bytecode.OpStore: opStore,

		// Arithmetic
		bytecode.OpAdd: arith(func(a, b int64) (int64, error) { return a + b, nil }),
		bytecode.OpSub: arith(func(a, b int64) (int64, error) { return a - b, nil }),
		bytecode.OpMul: arith(func(a, b int64) (int64, error) { return a * b, nil }),
		bytecode.OpDiv: arith(divide),

		// Control flow
		bytecode.OpJmp:  opJmp,
		bytecode.OpJz:   opJz,
		bytecode.OpCall: opCall,
		bytecode.OpRet:  opRet,

		// Dominion
		bytecode.OpBind: opBind,

		// Diagnostics
		bytecode.OpPrint: opPrint,
		bytecode.OpFlush: opFlush,
		bytecode.OpLog:   opLog,
		bytecode.OpErr:   opErr,

		bytecode.OpHalt: func(*Context, Args) StepOutcome { return Halt() },
	}
}

// ============ Stack ============

func opNop(*Context, Args) StepOutcome {
	return Continue()
}

func opPush(ctx *Context, args Args) StepOutcome {
	if err := ctx.Push(args.Word(0)); err != nil {
		return Faulted(err)
	}
	return Continue()
}

func opPop(ctx *Context, _ Args) StepOutcome {
	if _, err := ctx.Pop(); err != nil {
		return Faulted(err)
	}
	return Continue()
}

func opDup(ctx *Context, _ Args) StepOutcome {
	v, err := ctx.Peek(0)
	if err != nil {
		return Faulted(err)
	}
	if err := ctx.Push(v); err != nil {
		return Faulted(err)
	}
	return Continue()
}

// ============ Memory ============

func opLoad(ctx *Context, args Args) StepOutcome {
	v, err := ctx.Memory.Read(int(args.Word(0)))
	if err != nil {
		return Faulted(err)
	}
	if err := ctx.Push(v); err != nil {
		return Faulted(err)
	}
	return Continue()
}

func opStore(ctx *Context, args Args) StepOutcome {
	v, err := ctx.Peek(0)
	if err != nil {
		return Faulted(err)
	}
	if err := ctx.Memory.Write(int(args.Word(0)), v); err != nil {
		return Faulted(err)
	}
	_, _ = ctx.Pop()
	return Continue()
}

// ============ Arithmetic ============

// arith builds a binary handler. Operands given on the instruction stand in
// for the top of the stack: with two operands nothing is popped, with one
// the left side is popped. The stack is only modified once the operation
// has succeeded, so a fault leaves it untouched.
func arith(fn func(a, b int64) (int64, error)) Handler {
	return func(ctx *Context, args Args) StepOutcome {
		var a, b int64
		var err error
		pops := 0

		switch args.Len() {
		case 2:
			a, b = args.Word(0), args.Word(1)
		case 1:
			b = args.Word(0)
			if a, err = ctx.Peek(0); err != nil {
				return Faulted(err)
			}
			pops = 1
		default:
			if b, err = ctx.Peek(0); err != nil {
				return Faulted(err)
			}
			if a, err = ctx.Peek(1); err != nil {
				return Faulted(err)
			}
			pops = 2
		}

		result, err := fn(a, b)
		if err != nil {
			return Faulted(err)
		}
		for i := 0; i < pops; i++ {
			_, _ = ctx.Pop()
		}
		if err := ctx.Push(result); err != nil {
			return Faulted(err)
		}
		return Continue()
	}
}

func divide(a, b int64) (int64, error) {
	if b == 0 {
		return 0, newFault(FaultDivideByZero, "%d / 0", a)
	}
	return a / b, nil
}

// ============ Control Flow ============

func opJmp(_ *Context, args Args) StepOutcome {
	return Jump(int(args.Word(0)))
}

func opJz(ctx *Context, args Args) StepOutcome {
	v, err := ctx.Pop()
	if err != nil {
		return Faulted(err)
	}
	if v == 0 {
		return Jump(int(args.Word(0)))
	}
	return Continue()
}

func opCall(ctx *Context, args Args) StepOutcome {
	ctx.EnterCall(ctx.PC + 1)
	return Jump(int(args.Word(0)))
}

func opRet(ctx *Context, _ Args) StepOutcome {
	ret, err := ctx.LeaveCall()
	if err != nil {
		return Faulted(err)
	}
	return Jump(ret)
}

// ============ Dominion ============

func opBind(ctx *Context, args Args) StepOutcome {
	addr := int(args.Word(1))
	if !ctx.Memory.Contains(addr) {
		return Faulted(newFault(FaultOutOfBounds, "bind %q to address %d outside [0, %d)",
			args.Name(0), addr, ctx.Memory.Capacity()))
	}
	ctx.Scopes.Bind(args.Name(0), addr)
	return Continue()
}

// ============ Diagnostics ============

func opPrint(ctx *Context, args Args) StepOutcome {
	v, err := ctx.Memory.Read(int(args.Word(0)))
	if err != nil {
		return Faulted(err)
	}
	ctx.Emit(fmt.Sprintf("OUT: %d", v))
	return Continue()
}

func opFlush(ctx *Context, _ Args) StepOutcome {
	for _, line := range ctx.Diagnostics() {
		ctx.Emit(line)
	}
	return Continue()
}

func opLog(ctx *Context, args Args) StepOutcome {
	if args.Len() == 0 {
		ctx.Emit(fmt.Sprintf("LOG pc=%d", ctx.PC))
	} else {
		ctx.Emit(fmt.Sprintf("LOG pc=%d value=%d", ctx.PC, args.Word(0)))
	}
	return Continue()
}

// opErr faults on purpose, handing control to the fallback chains.
func opErr(_ *Context, args Args) StepOutcome {
	if args.Len() == 0 {
		return Faulted(newFault(FaultProgramError, "opcode triggered error"))
	}
	return Faulted(newFault(FaultProgramError, "opcode triggered error %d", args.Word(0)))
}

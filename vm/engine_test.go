package vm

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/execue/pkg/asm"
	"github.com/chazu/execue/pkg/bytecode"
)

// Helper to assemble a hotpath chain
func mustChain(t *testing.T, src string) bytecode.Chain {
	t.Helper()
	c, err := asm.ParseChain(src)
	if err != nil {
		t.Fatalf("assemble %q: %v", src, err)
	}
	return c
}

// Helper to assemble a module with fallbacks
func mustModule(t *testing.T, src string) *bytecode.Module {
	t.Helper()
	m, err := asm.Parse(src)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return m
}

func testProfile(maxFallbacks int) Profile {
	return Profile{CycleBudget: 1000, MaxFallbacks: maxFallbacks, MemoryCapacity: 16}
}

func newTestContext(t *testing.T, bindings map[string]int, opts ...ContextOption) *Context {
	t.Helper()
	ctx, err := NewContext(16, bindings, opts...)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	return ctx
}

func mustRun(t *testing.T, program bytecode.Chain, ctx *Context, p Profile) RunResult {
	t.Helper()
	res, err := NewEngine(nil).Run(program, ctx, p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res
}

func cell(t *testing.T, ctx *Context, addr int) int64 {
	t.Helper()
	v, err := ctx.Memory.Read(addr)
	if err != nil {
		t.Fatalf("Read(%d) failed: %v", addr, err)
	}
	return v
}

// ============ Scenarios ============

func TestRunLoadStore(t *testing.T) {
	ctx := newTestContext(t, nil, WithMemory(map[int]int64{0: 42}))
	res := mustRun(t, mustChain(t, "LOAD 0\nSTORE 1"), ctx, testProfile(0))

	if res.State != StateHalted {
		t.Fatalf("state = %s, want Halted (faults: %v)", res.State, res.Faults)
	}
	if got := cell(t, ctx, 1); got != 42 {
		t.Errorf("mem[1] = %d, want 42", got)
	}
	if res.Err() != nil {
		t.Errorf("Err() = %v, want nil", res.Err())
	}
}

func TestStepJzOutOfRange(t *testing.T) {
	e := NewEngine(nil)
	program := mustChain(t, "JZ 5\nHALT")
	ctx := newTestContext(t, nil)
	_ = ctx.Push(0)

	out := e.Step(program, ctx)
	if out.Kind != OutcomeJump || out.Target != 5 {
		t.Fatalf("first step = %s, want Jump(5)", out)
	}
	if ctx.PC != 5 {
		t.Errorf("pc = %d, want 5", ctx.PC)
	}

	out = e.Step(program, ctx)
	if out.Kind != OutcomeFault || out.Fault.Kind != FaultInvalidJumpTarget {
		t.Fatalf("second step = %s, want InvalidJumpTarget", out)
	}
	log := ctx.FaultLog()
	if len(log) != 1 || log[0].InstructionIndex != 0 {
		t.Errorf("fault log = %v, want one record at index 0", log)
	}
}

func TestStepJzNonZeroContinues(t *testing.T) {
	e := NewEngine(nil)
	program := mustChain(t, "JZ 5\nHALT")
	ctx := newTestContext(t, nil)
	_ = ctx.Push(3)

	if out := e.Step(program, ctx); out.Kind != OutcomeContinue {
		t.Fatalf("step = %s, want Continue", out)
	}
	if out := e.Step(program, ctx); out.Kind != OutcomeHalt {
		t.Fatalf("step = %s, want Halt", out)
	}
}

func TestRunJumpToLengthFaults(t *testing.T) {
	ctx := newTestContext(t, nil)
	res := mustRun(t, mustChain(t, "JMP 1"), ctx, testProfile(0))

	if res.State != StateFaulted {
		t.Fatalf("state = %s, want Faulted", res.State)
	}
	if !errors.Is(res.Err(), ErrInvalidJumpTarget) {
		t.Errorf("Err() = %v, want InvalidJumpTarget", res.Err())
	}
}

func TestRunFallOffEndHalts(t *testing.T) {
	ctx := newTestContext(t, nil)
	res := mustRun(t, mustChain(t, "PUSH 1"), ctx, testProfile(0))

	if res.State != StateHalted {
		t.Fatalf("state = %s, want Halted", res.State)
	}
	if got := ctx.Stack(); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("stack = %v, want [1]", got)
	}
}

// ============ Arithmetic ============

func TestStepDivideByZeroLeavesState(t *testing.T) {
	e := NewEngine(nil)
	program := mustChain(t, "DIV")
	ctx := newTestContext(t, nil)
	_ = ctx.Push(7)
	_ = ctx.Push(0)

	out := e.Step(program, ctx)
	if out.Kind != OutcomeFault || out.Fault.Kind != FaultDivideByZero {
		t.Fatalf("step = %s, want DivideByZero", out)
	}
	if ctx.PC != 0 {
		t.Errorf("pc = %d, want 0 (unadvanced)", ctx.PC)
	}
	if got := ctx.Stack(); !reflect.DeepEqual(got, []int64{7, 0}) {
		t.Errorf("stack = %v, want [7 0]", got)
	}
	if ctx.FaultCount() != 1 {
		t.Errorf("fault count = %d, want 1", ctx.FaultCount())
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []int64
	}{
		{"add immediates", "ADD 5 3", []int64{8}},
		{"add stack", "PUSH 5\nPUSH 3\nADD", []int64{8}},
		{"sub one operand", "PUSH 10\nSUB 3", []int64{7}},
		{"sub order", "PUSH 2\nPUSH 9\nSUB", []int64{-7}},
		{"mul", "PUSH 6\nMUL 7", []int64{42}},
		{"div truncates", "DIV -7 2", []int64{-3}},
		{"mul wraps", "PUSH 9223372036854775807\nMUL 2", []int64{-2}},
		{"add wraps", "PUSH 9223372036854775807\nADD 1", []int64{math.MinInt64}},
		{"div min by minus one", "PUSH -9223372036854775808\nDIV -1", []int64{math.MinInt64}},
		{"value from address", "PUSH 4\nSTORE 2\nADD @2 1", []int64{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newTestContext(t, nil)
			res := mustRun(t, mustChain(t, tt.src), ctx, testProfile(0))
			if res.State != StateHalted {
				t.Fatalf("state = %s, faults %v", res.State, res.Faults)
			}
			if got := ctx.Stack(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("stack = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStackUnderflow(t *testing.T) {
	for _, src := range []string{"ADD", "PUSH 1\nSUB", "POP", "DUP", "STORE 0", "JZ 0"} {
		ctx := newTestContext(t, nil)
		res := mustRun(t, mustChain(t, src), ctx, testProfile(0))
		if !errors.Is(res.Err(), ErrStackUnderflow) {
			t.Errorf("%q: Err() = %v, want StackUnderflow", src, res.Err())
		}
	}
}

func TestStackOverflow(t *testing.T) {
	ctx := newTestContext(t, nil, WithStackLimit(2))
	res := mustRun(t, mustChain(t, "PUSH 1\nPUSH 2\nPUSH 3"), ctx, testProfile(0))

	if !errors.Is(res.Err(), ErrStackOverflow) {
		t.Fatalf("Err() = %v, want StackOverflow", res.Err())
	}
	if len(res.Faults) != 1 || res.Faults[0].InstructionIndex != 2 {
		t.Errorf("faults = %v, want one at index 2", res.Faults)
	}
}

// ============ Memory and dominions ============

func TestStoreCheckOrder(t *testing.T) {
	ctx := newTestContext(t, nil)
	res := mustRun(t, mustChain(t, "STORE @999"), ctx, testProfile(0))
	if !errors.Is(res.Err(), ErrStackUnderflow) {
		t.Errorf("empty stack: Err() = %v, want StackUnderflow", res.Err())
	}

	ctx = newTestContext(t, nil)
	res = mustRun(t, mustChain(t, "PUSH 7\nSTORE @999"), ctx, testProfile(0))
	if !errors.Is(res.Err(), ErrOutOfBounds) {
		t.Errorf("bad address: Err() = %v, want OutOfBounds", res.Err())
	}
	if got := ctx.Stack(); !reflect.DeepEqual(got, []int64{7}) {
		t.Errorf("stack = %v, want [7] left in place", got)
	}
}

func TestContextCapacityOverridesProfile(t *testing.T) {
	ctx, err := NewContext(8, nil)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	p := DefaultProfile()
	res := mustRun(t, mustChain(t, "LOAD @8"), ctx, p)
	if !errors.Is(res.Err(), ErrOutOfBounds) {
		t.Errorf("Err() = %v, want OutOfBounds from the 8-cell bank", res.Err())
	}
	if ctx.Memory.Capacity() != 8 {
		t.Errorf("capacity = %d, want 8", ctx.Memory.Capacity())
	}
}

func TestLoadOutOfBounds(t *testing.T) {
	ctx := newTestContext(t, nil)
	res := mustRun(t, mustChain(t, "LOAD 16"), ctx, testProfile(0))
	if !errors.Is(res.Err(), ErrOutOfBounds) {
		t.Errorf("Err() = %v, want OutOfBounds", res.Err())
	}
}

func TestUnboundName(t *testing.T) {
	ctx := newTestContext(t, nil)
	res := mustRun(t, mustChain(t, "LOAD $missing"), ctx, testProfile(0))
	if !errors.Is(res.Err(), ErrUnboundName) {
		t.Errorf("Err() = %v, want UnboundName", res.Err())
	}
}

func TestInitialBindings(t *testing.T) {
	ctx := newTestContext(t, map[string]int{"sys.io.portA": 3}, WithMemory(map[int]int64{3: 11}))
	res := mustRun(t, mustChain(t, "LOAD $sys.io.portA\nADD 1\nSTORE $sys.io.portA"), ctx, testProfile(0))
	if res.State != StateHalted {
		t.Fatalf("state = %s, faults %v", res.State, res.Faults)
	}
	if got := cell(t, ctx, 3); got != 12 {
		t.Errorf("mem[3] = %d, want 12", got)
	}
}

func TestNewContextRejectsBadBinding(t *testing.T) {
	if _, err := NewContext(4, map[string]int{"x": 4}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("NewContext error = %v, want OutOfBounds", err)
	}
}

func TestBindOutOfBounds(t *testing.T) {
	ctx := newTestContext(t, nil)
	res := mustRun(t, mustChain(t, "BIND x 99"), ctx, testProfile(0))
	if !errors.Is(res.Err(), ErrOutOfBounds) {
		t.Errorf("Err() = %v, want OutOfBounds", res.Err())
	}
}

// ============ Calls ============

const callProgram = `
      BIND x 0
      PUSH 5
      STORE x
      CALL sub
      LOAD x
      STORE 2
      HALT
sub:  BIND x 1
      PUSH 7
      STORE x
      RET
`

func TestCallScopesShadowAndRelease(t *testing.T) {
	ctx := newTestContext(t, nil)
	res := mustRun(t, mustChain(t, callProgram), ctx, testProfile(0))

	if res.State != StateHalted {
		t.Fatalf("state = %s, faults %v", res.State, res.Faults)
	}
	for addr, want := range map[int]int64{0: 5, 1: 7, 2: 5} {
		if got := cell(t, ctx, addr); got != want {
			t.Errorf("mem[%d] = %d, want %d", addr, got, want)
		}
	}
	if ctx.Scopes.Depth() != 1 {
		t.Errorf("scope depth = %d, want 1", ctx.Scopes.Depth())
	}
	if ctx.CallDepth() != 0 {
		t.Errorf("call depth = %d, want 0", ctx.CallDepth())
	}
}

func TestRetWithEmptyCallStack(t *testing.T) {
	ctx := newTestContext(t, nil)
	res := mustRun(t, mustChain(t, "RET"), ctx, testProfile(0))
	if !errors.Is(res.Err(), ErrCallStackUnderflow) {
		t.Errorf("Err() = %v, want CallStackUnderflow", res.Err())
	}
}

func TestScopeReleasedWhenCallFaults(t *testing.T) {
	ctx := newTestContext(t, nil)
	program := mustChain(t, "CALL f\nHALT\nf: BIND y 0\nDIV 1 0")
	res := mustRun(t, program, ctx, testProfile(0))

	if res.State != StateFaulted {
		t.Fatalf("state = %s, want Faulted", res.State)
	}
	if ctx.Scopes.Depth() != 1 || ctx.CallDepth() != 0 {
		t.Errorf("depth = %d scopes, %d calls; want 1, 0", ctx.Scopes.Depth(), ctx.CallDepth())
	}
	if _, err := ctx.Scopes.Resolve("y"); !errors.Is(err, ErrUnboundName) {
		t.Errorf("y leaked out of its call scope: %v", err)
	}
}

// ============ Fallbacks ============

func TestFallbackBudget(t *testing.T) {
	for n := 0; n <= 3; n++ {
		m := mustModule(t, "DIV 1 0\n.chain fallback retry\nDIV 2 0")
		ctx := newTestContext(t, nil)
		res, err := NewEngine(nil).RunModule(m, ctx, testProfile(n))
		if err != nil {
			t.Fatalf("RunModule failed: %v", err)
		}

		if res.State != StateExhausted {
			t.Errorf("max_fallbacks=%d: state = %s, want Exhausted", n, res.State)
		}
		if len(res.Faults) != n+1 {
			t.Errorf("max_fallbacks=%d: %d fault records, want %d", n, len(res.Faults), n+1)
		}
		if res.Fallbacks != n {
			t.Errorf("max_fallbacks=%d: %d fallbacks used, want %d", n, res.Fallbacks, n)
		}
		if !errors.Is(res.Err(), ErrFallbacksExhausted) {
			t.Errorf("max_fallbacks=%d: Err() = %v, want FallbacksExhausted", n, res.Err())
		}
	}
}

func TestFaultWithoutFallbackChain(t *testing.T) {
	ctx := newTestContext(t, nil)
	res := mustRun(t, mustChain(t, "DIV 1 0"), ctx, testProfile(5))

	if res.State != StateFaulted {
		t.Fatalf("state = %s, want Faulted", res.State)
	}
	if len(res.Faults) != 1 || res.Faults[0].Kind != FaultDivideByZero {
		t.Errorf("faults = %v, want one DivideByZero", res.Faults)
	}
}

func TestFallbackRecovers(t *testing.T) {
	m := mustModule(t, `
		PUSH 1
		CALL bad
		HALT
bad:	DIV 0
.chain fallback recover
		PUSH 99
		STORE 0
		HALT
`)
	ctx := newTestContext(t, nil)
	res, err := NewEngine(nil).RunModule(m, ctx, testProfile(2))
	if err != nil {
		t.Fatalf("RunModule failed: %v", err)
	}

	if res.State != StateHalted {
		t.Fatalf("state = %s, faults %v", res.State, res.Faults)
	}
	if got := cell(t, ctx, 0); got != 99 {
		t.Errorf("mem[0] = %d, want 99", got)
	}
	if len(res.Faults) != 1 || res.Faults[0].Chain != "hotpath" || res.Faults[0].InstructionIndex != 3 {
		t.Errorf("faults = %v, want one at hotpath:3", res.Faults)
	}
	if res.Fallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", res.Fallbacks)
	}
	if ctx.StackLen() != 0 || ctx.Scopes.Depth() != 1 {
		t.Errorf("stack %v, %d scopes; want empty stack and base scope", ctx.Stack(), ctx.Scopes.Depth())
	}
}

func TestFallbackChainsInOrder(t *testing.T) {
	m := mustModule(t, `
DIV 1 0
.chain fallback first
DIV 2 0
.chain fallback second
PUSH 2
STORE 0
HALT
`)
	ctx := newTestContext(t, nil)
	res, _ := NewEngine(nil).RunModule(m, ctx, testProfile(5))

	if res.State != StateHalted {
		t.Fatalf("state = %s, faults %v", res.State, res.Faults)
	}
	chains := []string{res.Faults[0].Chain, res.Faults[1].Chain}
	if !reflect.DeepEqual(chains, []string{"hotpath", "first"}) {
		t.Errorf("fault chains = %v, want [hotpath first]", chains)
	}
	if got := cell(t, ctx, 0); got != 2 {
		t.Errorf("mem[0] = %d, want 2", got)
	}
}

func TestErrDrivesFallback(t *testing.T) {
	m := mustModule(t, `
		PUSH 5
		STORE 1
		ERR 7
		PUSH 0
		STORE 1
.chain fallback recover
		LOAD 1
		STORE 0
		HALT
`)
	var tr Transcript
	ctx := newTestContext(t, nil, WithSink(tr.Sink()))
	res, err := NewEngine(nil).RunModule(m, ctx, testProfile(1))
	if err != nil {
		t.Fatalf("RunModule failed: %v", err)
	}

	if res.State != StateHalted {
		t.Fatalf("state = %s, faults %v", res.State, res.Faults)
	}
	if got := cell(t, ctx, 0); got != 5 {
		t.Errorf("mem[0] = %d, want 5 copied by the fallback", got)
	}
	want := []FaultRecord{{Kind: FaultProgramError, Message: "opcode triggered error 7", InstructionIndex: 2, Chain: "hotpath"}}
	if !reflect.DeepEqual(res.Faults, want) {
		t.Errorf("faults = %v, want %v", res.Faults, want)
	}
	if lines := tr.Lines(); len(lines) != 1 || lines[0] != "FAULT ProgramError at hotpath:2: opcode triggered error 7" {
		t.Errorf("sink = %v", lines)
	}
}

func TestErrExhaustsFallbacks(t *testing.T) {
	m := mustModule(t, "ERR\n.chain fallback again\nERR\n")
	ctx := newTestContext(t, nil)
	res, _ := NewEngine(nil).RunModule(m, ctx, testProfile(2))

	if res.State != StateExhausted {
		t.Fatalf("state = %s, want Exhausted", res.State)
	}
	if len(res.Faults) != 3 {
		t.Fatalf("got %d faults, want 3", len(res.Faults))
	}
	for _, f := range res.Faults {
		if f.Kind != FaultProgramError || f.Message != "opcode triggered error" {
			t.Errorf("fault = %v, want ProgramError", f)
		}
	}
}

func TestCycleBudget(t *testing.T) {
	ctx := newTestContext(t, nil)
	p := Profile{CycleBudget: 10, MaxFallbacks: 0, MemoryCapacity: 16}
	res := mustRun(t, mustChain(t, "loop: JMP loop"), ctx, p)

	if res.State != StateFaulted {
		t.Fatalf("state = %s, want Faulted", res.State)
	}
	if !errors.Is(res.Err(), ErrCycleBudgetExceeded) {
		t.Errorf("Err() = %v, want CycleBudgetExceeded", res.Err())
	}
	if res.Steps != 10 {
		t.Errorf("steps = %d, want 10", res.Steps)
	}
}

func TestDeterminism(t *testing.T) {
	src := `
	BIND acc 0
	PUSH 3
	STORE acc
loop:
	LOAD acc
	JZ done
	LOAD acc
	SUB 1
	STORE acc
	PRINT acc
	JMP loop
done:
	DIV 5 0
.chain fallback again
	FLUSH
	DIV 6 0
`
	runOnce := func() (RunResult, []int64, []string) {
		var tr Transcript
		ctx := newTestContext(t, nil, WithSink(tr.Sink()))
		res, err := NewEngine(nil).RunModule(mustModule(t, src), ctx, testProfile(2))
		if err != nil {
			t.Fatalf("RunModule failed: %v", err)
		}
		return res, ctx.Memory.Snapshot(), tr.Lines()
	}

	r1, m1, out1 := runOnce()
	r2, m2, out2 := runOnce()

	if !reflect.DeepEqual(r1, r2) {
		t.Errorf("results differ:\n%+v\n%+v", r1, r2)
	}
	if !reflect.DeepEqual(m1, m2) {
		t.Error("memory differs between runs")
	}
	if !reflect.DeepEqual(out1, out2) {
		t.Errorf("sink output differs:\n%v\n%v", out1, out2)
	}
	if r1.State != StateExhausted || len(r1.Faults) != 3 {
		t.Errorf("state %s with %d faults, want Exhausted with 3", r1.State, len(r1.Faults))
	}
}

// ============ Diagnostics ============

func TestPrintAndFlush(t *testing.T) {
	var tr Transcript
	ctx := newTestContext(t, map[string]int{"out": 0}, WithSink(tr.Sink()))
	res := mustRun(t, mustChain(t, "PUSH 42\nSTORE out\nPRINT out\nFLUSH"), ctx, testProfile(0))
	if res.State != StateHalted {
		t.Fatalf("state = %s, faults %v", res.State, res.Faults)
	}

	lines := tr.Lines()
	if len(lines) < 3 {
		t.Fatalf("sink got %d lines, want at least 3: %v", len(lines), lines)
	}
	if lines[0] != "OUT: 42" {
		t.Errorf("lines[0] = %q, want OUT: 42", lines[0])
	}
	if !strings.HasPrefix(lines[1], "FLUSH pc=3 stack=[]") {
		t.Errorf("lines[1] = %q, want FLUSH pc=3 stack=[] prefix", lines[1])
	}
	if lines[2] != "  $out -> @0" {
		t.Errorf("lines[2] = %q, want binding line", lines[2])
	}
}

func TestLog(t *testing.T) {
	var tr Transcript
	ctx := newTestContext(t, map[string]int{"x": 3}, WithMemory(map[int]int64{3: 11}), WithSink(tr.Sink()))
	res := mustRun(t, mustChain(t, "LOG\nLOG 4\nLOG $x"), ctx, testProfile(0))
	if res.State != StateHalted {
		t.Fatalf("state = %s, faults %v", res.State, res.Faults)
	}

	want := []string{"LOG pc=0", "LOG pc=1 value=4", "LOG pc=2 value=11"}
	if got := tr.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("sink = %v, want %v", got, want)
	}
	if ctx.StackLen() != 0 {
		t.Errorf("LOG changed the stack: %v", ctx.Stack())
	}
}

func TestFaultsReachSink(t *testing.T) {
	var tr Transcript
	ctx := newTestContext(t, nil, WithSink(tr.Sink()))
	mustRun(t, mustChain(t, "DIV 1 0"), ctx, testProfile(0))

	lines := tr.Lines()
	want := "FAULT DivideByZero at hotpath:0: 1 / 0"
	if len(lines) != 1 || lines[0] != want {
		t.Errorf("sink = %v, want [%q]", lines, want)
	}
}

// ============ Construction errors ============

func TestRunRejectsUsedContext(t *testing.T) {
	e := NewEngine(nil)
	ctx := newTestContext(t, nil)
	program := mustChain(t, "HALT")
	if _, err := e.Run(program, ctx, testProfile(0)); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if _, err := e.Run(program, ctx, testProfile(0)); !errors.Is(err, ErrContextUsed) {
		t.Errorf("second Run error = %v, want ErrContextUsed", err)
	}
}

func TestRunRejectsInvalidProfile(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, err := NewEngine(nil).Run(mustChain(t, "HALT"), ctx, Profile{CycleBudget: 0, MemoryCapacity: 16})
	if !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Run error = %v, want ErrInvalidProfile", err)
	}
}

func TestRunRejectsInvalidProgram(t *testing.T) {
	ctx := newTestContext(t, nil)
	program := bytecode.Hotpath(bytecode.NewInstruction(bytecode.OpLoad))
	_, err := NewEngine(nil).Run(program, ctx, testProfile(0))
	if !errors.Is(err, bytecode.ErrInvalidInstruction) {
		t.Errorf("Run error = %v, want ErrInvalidInstruction", err)
	}
}

func TestCustomRegistryMissingHandler(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(bytecode.OpHalt, func(*Context, Args) StepOutcome { return Halt() }); err != nil {
		t.Fatal(err)
	}
	ctx := newTestContext(t, nil)
	res, err := NewEngine(r).Run(mustChain(t, "NOP\nHALT"), ctx, testProfile(0))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !errors.Is(res.Err(), ErrUnknownOpcode) {
		t.Errorf("Err() = %v, want UnknownOpcode", res.Err())
	}
}

// ============ Concurrency ============

func TestConcurrentRunsShareRegistry(t *testing.T) {
	e := NewEngine(nil)
	program := mustChain(t, `
	PUSH 50
	STORE 0
loop:
	LOAD 0
	JZ done
	LOAD 0
	SUB 1
	STORE 0
	LOAD 1
	ADD 2
	STORE 1
	JMP loop
done:
	HALT
`)

	var wg sync.WaitGroup
	results := make([]int64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, err := NewContext(4, nil)
			if err != nil {
				t.Error(err)
				return
			}
			res, err := e.Run(program, ctx, testProfile(0))
			if err != nil || res.State != StateHalted {
				t.Errorf("run %d: %v %s", i, err, res.State)
				return
			}
			results[i], _ = ctx.Memory.Read(1)
		}(i)
	}
	wg.Wait()

	for i, v := range results {
		if v != 100 {
			t.Errorf("run %d: mem[1] = %d, want 100", i, v)
		}
	}
}

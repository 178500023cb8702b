package vm

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultStackLimit bounds the operand stack unless WithStackLimit is given.
const DefaultStackLimit = 1024

// Context is the mutable state of one run. It is owned by a single
// goroutine for its whole life and is never shared between runs.
type Context struct {
	// Execution state
	PC     int
	Memory *MemoryBank
	Scopes *ScopeChain

	stack      []int64
	stackLimit int
	calls      []int

	// Fault state
	faults     []FaultRecord
	faultCount int

	halted   bool
	jumped   bool // Last step transferred control
	jumpFrom int  // Index of the instruction that jumped
	steps    int
	budget   int // Cycle budget for Step; 0 means unlimited

	sink Sink
}

// ContextOption configures a Context at creation.
type ContextOption func(*Context) error

// WithSink sets the diagnostic sink. The default discards output.
func WithSink(s Sink) ContextOption {
	return func(c *Context) error {
		if s == nil {
			s = Discard
		}
		c.sink = s
		return nil
	}
}

// WithStackLimit bounds the operand stack depth.
func WithStackLimit(n int) ContextOption {
	return func(c *Context) error {
		if n <= 0 {
			return fmt.Errorf("stack limit must be positive, got %d", n)
		}
		c.stackLimit = n
		return nil
	}
}

// WithMemory seeds memory cells before the run.
func WithMemory(values map[int]int64) ContextOption {
	return func(c *Context) error {
		if err := c.Memory.Seed(values); err != nil {
			return fmt.Errorf("seed memory: %w", err)
		}
		return nil
	}
}

// NewContext creates a run context with a fresh memory bank of the given
// capacity and a base dominion scope holding bindings. Every binding must
// address a cell inside the bank.
func NewContext(memoryCapacity int, bindings map[string]int, opts ...ContextOption) (*Context, error) {
	mem, err := NewMemoryBank(memoryCapacity)
	if err != nil {
		return nil, err
	}
	for name, addr := range bindings {
		if !mem.Contains(addr) {
			return nil, fmt.Errorf("binding %q: %w", name, mem.outOfBounds("bind", addr))
		}
	}

	c := &Context{
		Memory:     mem,
		Scopes:     NewScopeChain(bindings),
		stackLimit: DefaultStackLimit,
		sink:       Discard,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

// Push pushes a word, faulting when the stack is full.
func (c *Context) Push(v int64) error {
	if len(c.stack) >= c.stackLimit {
		return newFault(FaultStackOverflow, "operand stack limit %d reached", c.stackLimit)
	}
	c.stack = append(c.stack, v)
	return nil
}

// Pop removes and returns the top word.
func (c *Context) Pop() (int64, error) {
	if len(c.stack) == 0 {
		return 0, newFault(FaultStackUnderflow, "pop from empty operand stack")
	}
	v := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return v, nil
}

// Peek returns the word depth positions below the top (0 is the top).
func (c *Context) Peek(depth int) (int64, error) {
	if depth < 0 || depth >= len(c.stack) {
		return 0, newFault(FaultStackUnderflow, "need %d operand(s), stack holds %d", depth+1, len(c.stack))
	}
	return c.stack[len(c.stack)-1-depth], nil
}

// StackLen returns the operand stack depth.
func (c *Context) StackLen() int {
	return len(c.stack)
}

// Stack returns a copy of the operand stack, bottom first.
func (c *Context) Stack() []int64 {
	return append([]int64(nil), c.stack...)
}

// ---------------------------------------------------------------------------
// Call stack
// ---------------------------------------------------------------------------

// EnterCall records a return address and opens a dominion scope.
func (c *Context) EnterCall(returnAddr int) {
	c.calls = append(c.calls, returnAddr)
	c.Scopes.EnterScope()
}

// LeaveCall pops a return address and closes its dominion scope.
func (c *Context) LeaveCall() (int, error) {
	if len(c.calls) == 0 {
		return 0, newFault(FaultCallStackUnderflow, "return with empty call stack")
	}
	ret := c.calls[len(c.calls)-1]
	c.calls = c.calls[:len(c.calls)-1]
	if err := c.Scopes.ExitScope(); err != nil {
		return 0, newFault(FaultCallStackUnderflow, "%v", err)
	}
	return ret, nil
}

// CallDepth returns the number of active calls.
func (c *Context) CallDepth() int {
	return len(c.calls)
}

// ---------------------------------------------------------------------------
// Faults and lifecycle
// ---------------------------------------------------------------------------

// FaultLog returns a copy of every fault recorded so far.
func (c *Context) FaultLog() []FaultRecord {
	return append([]FaultRecord(nil), c.faults...)
}

// FaultCount returns the number of faults recorded.
func (c *Context) FaultCount() int {
	return c.faultCount
}

// Halted reports whether the run has stopped successfully.
func (c *Context) Halted() bool {
	return c.halted
}

// Steps returns the number of instructions dispatched.
func (c *Context) Steps() int {
	return c.steps
}

// Emit sends text to the diagnostic sink.
func (c *Context) Emit(text string) {
	c.sink(text)
}

func (c *Context) recordFault(f *Fault, index int, chain string) FaultRecord {
	rec := FaultRecord{
		Kind:             f.Kind,
		Message:          f.Message,
		InstructionIndex: index,
		Chain:            chain,
	}
	c.faults = append(c.faults, rec)
	c.faultCount++
	c.Emit("FAULT " + rec.String())
	return rec
}

// unwind releases every call frame and its scope, and clears the operand
// stack. Memory and base bindings survive.
func (c *Context) unwind() {
	c.release()
	c.stack = c.stack[:0]
}

// release closes every call frame and its scope. The operand stack is kept
// so callers can inspect it after the run.
func (c *Context) release() {
	c.Scopes.UnwindTo(1)
	c.calls = c.calls[:0]
}

// restart prepares the context to execute a new chain from its start.
func (c *Context) restart() {
	c.unwind()
	c.PC = 0
	c.halted = false
	c.jumped = false
	c.jumpFrom = 0
}

// Diagnostics renders the state FLUSH emits, one line per entry.
func (c *Context) Diagnostics() []string {
	lines := []string{fmt.Sprintf("FLUSH pc=%d stack=%s calls=%d scopes=%d faults=%d",
		c.PC, formatWords(c.stack), len(c.calls), c.Scopes.Depth(), c.faultCount)}

	view := c.Scopes.Snapshot()
	names := make([]string, 0, len(view))
	for n := range view {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		lines = append(lines, fmt.Sprintf("  $%s -> @%d", n, view[n]))
	}
	for _, rec := range c.faults {
		lines = append(lines, "  fault "+rec.String())
	}
	return lines
}

func formatWords(ws []int64) string {
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = fmt.Sprint(w)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

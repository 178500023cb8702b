package vm

import (
	"github.com/chazu/execue/pkg/bytecode"
)

// Recovery is the controller's verdict on a fault.
type Recovery struct {
	Resume   bool
	Chain    bytecode.Chain // Chain to run next when Resume is set
	State    State          // Terminal state when Resume is not set
	Terminal *Fault
}

// FallbackController decides, after each fault, whether the run continues
// in a fallback chain or ends. Chain selection is static: attempt n runs
// Fallbacks[n], and the last chain repeats once the list is used up.
// Faults raised inside a fallback chain draw on the same budget.
type FallbackController struct {
	maxFallbacks int
	chains       []bytecode.Chain
	attempts     int
}

// NewFallbackController creates a controller for one run.
func NewFallbackController(p Profile) *FallbackController {
	return &FallbackController{
		maxFallbacks: p.MaxFallbacks,
		chains:       p.Fallbacks,
	}
}

// Attempts returns how many fallback chains have been spliced in.
func (fc *FallbackController) Attempts() int {
	return fc.attempts
}

// Recover inspects the context after a fault has been recorded. When the
// run may continue, the context is unwound and reset to the start of the
// selected chain.
func (fc *FallbackController) Recover(ctx *Context) Recovery {
	last := ctx.faults[len(ctx.faults)-1].Fault()

	if len(fc.chains) == 0 {
		return Recovery{State: StateFaulted, Terminal: last}
	}
	if ctx.FaultCount() > fc.maxFallbacks {
		f := newFault(FaultFallbacksExhausted, "%d fault(s) exceed a budget of %d fallback(s); last: %s",
			ctx.FaultCount(), fc.maxFallbacks, last)
		return Recovery{State: StateExhausted, Terminal: f}
	}

	idx := fc.attempts
	if idx >= len(fc.chains) {
		idx = len(fc.chains) - 1
	}
	fc.attempts++

	ctx.restart()
	return Recovery{Resume: true, Chain: fc.chains[idx]}
}

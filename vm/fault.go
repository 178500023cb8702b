package vm

import (
	"errors"
	"fmt"
)

// FaultKind classifies a fault raised during a step.
type FaultKind uint8

const (
	FaultOutOfBounds FaultKind = iota + 1
	FaultUnboundName
	FaultUnknownOpcode
	FaultDivideByZero
	FaultCallStackUnderflow
	FaultInvalidJumpTarget
	FaultCycleBudgetExceeded
	FaultFallbacksExhausted
	FaultStackUnderflow
	FaultStackOverflow
	FaultProgramError
)

var faultKindNames = map[FaultKind]string{
	FaultOutOfBounds:         "OutOfBounds",
	FaultUnboundName:         "UnboundName",
	FaultUnknownOpcode:       "UnknownOpcode",
	FaultDivideByZero:        "DivideByZero",
	FaultCallStackUnderflow:  "CallStackUnderflow",
	FaultInvalidJumpTarget:   "InvalidJumpTarget",
	FaultCycleBudgetExceeded: "CycleBudgetExceeded",
	FaultFallbacksExhausted:  "FallbacksExhausted",
	FaultStackUnderflow:      "StackUnderflow",
	FaultStackOverflow:       "StackOverflow",
	FaultProgramError:        "ProgramError",
}

// String returns the fault kind's name.
func (k FaultKind) String() string {
	if name, ok := faultKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("FaultKind(%d)", k)
}

// ParseFaultKind returns the kind with the given name.
func ParseFaultKind(name string) (FaultKind, bool) {
	for k, n := range faultKindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Fault is a typed runtime failure. It implements error so it can be
// returned from helpers and matched with errors.Is against the Err* values,
// which compare by kind only.
type Fault struct {
	Kind    FaultKind
	Message string
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return f.Kind.String()
	}
	return f.Kind.String() + ": " + f.Message
}

// Is matches any fault of the same kind.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Kind == f.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrOutOfBounds         = &Fault{Kind: FaultOutOfBounds}
	ErrUnboundName         = &Fault{Kind: FaultUnboundName}
	ErrUnknownOpcode       = &Fault{Kind: FaultUnknownOpcode}
	ErrDivideByZero        = &Fault{Kind: FaultDivideByZero}
	ErrCallStackUnderflow  = &Fault{Kind: FaultCallStackUnderflow}
	ErrInvalidJumpTarget   = &Fault{Kind: FaultInvalidJumpTarget}
	ErrCycleBudgetExceeded = &Fault{Kind: FaultCycleBudgetExceeded}
	ErrFallbacksExhausted  = &Fault{Kind: FaultFallbacksExhausted}
	ErrStackUnderflow      = &Fault{Kind: FaultStackUnderflow}
	ErrStackOverflow       = &Fault{Kind: FaultStackOverflow}
	ErrProgramError        = &Fault{Kind: FaultProgramError}
)

func newFault(kind FaultKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// asFault extracts a *Fault from err. Errors that are not faults are
// reported as UnknownOpcode, since only a misbehaving handler produces them.
func asFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: FaultUnknownOpcode, Message: err.Error()}
}

// FaultRecord is an entry of a context's fault log. Records are appended
// and never removed.
type FaultRecord struct {
	Kind             FaultKind `cbor:"1,keyasint"`
	Message          string    `cbor:"2,keyasint"`
	InstructionIndex int       `cbor:"3,keyasint"`
	Chain            string    `cbor:"4,keyasint,omitempty"` // Name of the chain that was executing
}

// Fault returns the record as a Fault value.
func (r FaultRecord) Fault() *Fault {
	return &Fault{Kind: r.Kind, Message: r.Message}
}

func (r FaultRecord) String() string {
	return fmt.Sprintf("%s at %s:%d: %s", r.Kind, r.Chain, r.InstructionIndex, r.Message)
}

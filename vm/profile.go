package vm

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/execue/pkg/bytecode"
)

// Defaults taken from the EXECUE system record.
const (
	DefaultCycleBudget    = 100000
	DefaultMaxFallbacks   = 5
	DefaultMemoryCapacity = 4096
)

var (
	// ErrInvalidProfile is returned for out-of-range profile values.
	ErrInvalidProfile = errors.New("invalid execution profile")

	// ErrUnknownOption is returned when a profile option is not recognized.
	ErrUnknownOption = errors.New("unknown profile option")
)

// Option names recognized by ProfileFromOptions.
const (
	OptionCycleBudget    = "cycle_budget"
	OptionMaxFallbacks   = "max_fallbacks"
	OptionMemoryCapacity = "memory_capacity"
)

// Profile configures a run. It is passed explicitly to Run; nothing is
// read from process-wide state.
type Profile struct {
	CycleBudget    int // Maximum dispatched instructions per run
	MaxFallbacks   int // Maximum recovery attempts
	MemoryCapacity int // Cells in the memory bank NewContext allocates

	// Fallbacks are tried in order, one per recovery attempt; once the
	// list is used up the last chain is reused.
	Fallbacks []bytecode.Chain
}

// DefaultProfile returns a profile with default limits and no fallbacks.
func DefaultProfile() Profile {
	return Profile{
		CycleBudget:    DefaultCycleBudget,
		MaxFallbacks:   DefaultMaxFallbacks,
		MemoryCapacity: DefaultMemoryCapacity,
	}
}

// ProfileFromOptions builds a profile from named options, starting from
// the defaults. Unrecognized names are rejected.
func ProfileFromOptions(opts map[string]int64) (Profile, error) {
	p := DefaultProfile()

	var unknown []string
	for name, v := range opts {
		switch name {
		case OptionCycleBudget:
			p.CycleBudget = int(v)
		case OptionMaxFallbacks:
			p.MaxFallbacks = int(v)
		case OptionMemoryCapacity:
			p.MemoryCapacity = int(v)
		default:
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownOption, strings.Join(unknown, ", "))
	}
	return p, p.Validate()
}

// WithModule returns a copy of the profile using the module's fallbacks.
func (p Profile) WithModule(m *bytecode.Module) Profile {
	p.Fallbacks = m.Fallbacks
	return p
}

// Validate checks limits and fallback chains.
func (p Profile) Validate() error {
	if p.CycleBudget <= 0 {
		return fmt.Errorf("%w: cycle budget must be positive, got %d", ErrInvalidProfile, p.CycleBudget)
	}
	if p.MaxFallbacks < 0 {
		return fmt.Errorf("%w: max fallbacks must not be negative, got %d", ErrInvalidProfile, p.MaxFallbacks)
	}
	if p.MemoryCapacity <= 0 || p.MemoryCapacity > MaxMemoryCapacity {
		return fmt.Errorf("%w: memory capacity must be in 1..%d, got %d", ErrInvalidProfile, MaxMemoryCapacity, p.MemoryCapacity)
	}
	for _, fb := range p.Fallbacks {
		if fb.Kind != bytecode.ChainFallback {
			return fmt.Errorf("%w: chain %q is marked %s", ErrInvalidProfile, fb.Name, fb.Kind)
		}
		if err := fb.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
	}
	return nil
}

// NewContext creates a context sized by the profile's memory capacity.
func (p Profile) NewContext(bindings map[string]int, opts ...ContextOption) (*Context, error) {
	return NewContext(p.MemoryCapacity, bindings, opts...)
}

package vm

import (
	"errors"
	"sort"
)

// errBaseScope is returned when exiting the outermost scope is attempted.
var errBaseScope = errors.New("cannot exit the base dominion scope")

// DominionTable is a single binding scope: names unique within the scope,
// each mapped to a memory address.
type DominionTable struct {
	bindings map[string]int
}

// NewDominionTable creates an empty scope.
func NewDominionTable() *DominionTable {
	return &DominionTable{bindings: make(map[string]int)}
}

// Bind inserts or overwrites a binding in this scope.
func (t *DominionTable) Bind(name string, addr int) {
	t.bindings[name] = addr
}

// Lookup returns the address bound to name in this scope only.
func (t *DominionTable) Lookup(name string) (int, bool) {
	addr, ok := t.bindings[name]
	return addr, ok
}

// Len returns the number of bindings in this scope.
func (t *DominionTable) Len() int {
	return len(t.bindings)
}

// Names returns the scope's bound names in sorted order.
func (t *DominionTable) Names() []string {
	names := make([]string, 0, len(t.bindings))
	for n := range t.bindings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ScopeChain is the ordered stack of dominion scopes owned by one context,
// innermost last. The base scope holds the run's initial bindings and is
// never popped.
type ScopeChain struct {
	scopes []*DominionTable
}

// NewScopeChain creates a chain whose base scope holds initial.
func NewScopeChain(initial map[string]int) *ScopeChain {
	base := NewDominionTable()
	for name, addr := range initial {
		base.Bind(name, addr)
	}
	return &ScopeChain{scopes: []*DominionTable{base}}
}

// Depth returns the number of scopes, base included.
func (s *ScopeChain) Depth() int {
	return len(s.scopes)
}

// Innermost returns the current innermost scope.
func (s *ScopeChain) Innermost() *DominionTable {
	return s.scopes[len(s.scopes)-1]
}

// Bind binds name in the innermost scope only. An outer binding of the
// same name is shadowed, not modified.
func (s *ScopeChain) Bind(name string, addr int) {
	s.Innermost().Bind(name, addr)
}

// Resolve searches innermost to outermost; the first match wins.
func (s *ScopeChain) Resolve(name string) (int, error) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if addr, ok := s.scopes[i].Lookup(name); ok {
			return addr, nil
		}
	}
	return 0, newFault(FaultUnboundName, "dominion %q not bound in %d scope(s)", name, len(s.scopes))
}

// EnterScope pushes a new empty innermost scope.
func (s *ScopeChain) EnterScope() {
	s.scopes = append(s.scopes, NewDominionTable())
}

// ExitScope pops the innermost scope and its bindings.
func (s *ScopeChain) ExitScope() error {
	if len(s.scopes) <= 1 {
		return errBaseScope
	}
	s.scopes[len(s.scopes)-1] = nil
	s.scopes = s.scopes[:len(s.scopes)-1]
	return nil
}

// UnwindTo pops scopes until depth remain. The base scope always survives.
func (s *ScopeChain) UnwindTo(depth int) {
	if depth < 1 {
		depth = 1
	}
	for len(s.scopes) > depth {
		_ = s.ExitScope()
	}
}

// WithScope runs fn inside a fresh scope. The scope is exited when fn
// returns, panics, or faults.
func (s *ScopeChain) WithScope(fn func() error) error {
	depth := s.Depth()
	s.EnterScope()
	defer s.UnwindTo(depth)
	return fn()
}

// Snapshot returns the visible bindings: every name resolvable from the
// innermost scope, with inner bindings shadowing outer ones.
func (s *ScopeChain) Snapshot() map[string]int {
	view := make(map[string]int)
	for _, scope := range s.scopes {
		for name, addr := range scope.bindings {
			view[name] = addr
		}
	}
	return view
}

// Package vm implements the EXECUE opcode execution engine.
//
// This package contains:
//   - MemoryBank: fixed-capacity, bounds-checked word storage
//   - DominionTable and ScopeChain: scoped name-to-address bindings
//   - Registry: the immutable opcode-to-handler dispatch table
//   - Context: per-run mutable state (pc, operand stack, call stack,
//     dominion scopes, fault log)
//   - Engine: the fetch-decode-execute loop
//   - FallbackController: bounded recovery through fallback chains
//
// A single run is synchronous and single-threaded. A sealed Registry may be
// shared by any number of concurrent runs as long as each run owns its own
// Context.
//
// Words are int64. Arithmetic wraps on overflow using two's complement,
// including MinInt64 / -1 which yields MinInt64.
package vm

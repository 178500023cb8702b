// Package bytecode defines the instruction representation executed by the
// EXECUE engine.
//
// The format is designed for:
//   - A closed opcode set with per-opcode metadata (mnemonic, minimum stack
//     depth, operand slot kinds)
//   - Immutable instructions addressed by integer index, never by pointer
//   - Easy serialization (canonical CBOR, suitable for storage or transport)
//
// # Architecture Overview
//
//   - Opcodes: stack manipulation, memory, arithmetic, control flow, dominion
//     binding, diagnostics and termination
//
//   - Instruction: an opcode, its operands and an optional label. Operands are
//     immediates (42), address references (@3) or dominion names ($x).
//
//   - Chain: an ordered instruction sequence marked hotpath or fallback.
//     Jump targets are indices into the chain that contains them.
//
//   - Module: one hotpath chain plus its ordered fallback chains.
//
// # Operand Slots
//
// Each opcode declares the kind of every operand slot. Value slots read
// memory when given an address or name, address and target slots resolve
// names through the dominion scope chain, and symbol slots (the name in
// BIND) are passed through untouched.
package bytecode

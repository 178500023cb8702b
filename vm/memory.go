package vm

import (
	"errors"
	"fmt"
	"sort"
)

// MaxMemoryCapacity is the largest bank NewMemoryBank allocates.
const MaxMemoryCapacity = 1 << 24

// ErrInvalidCapacity is returned when a memory bank is requested with a
// capacity outside [1, MaxMemoryCapacity].
var ErrInvalidCapacity = errors.New("invalid memory capacity")

// MemoryBank is fixed-capacity word storage. Every access is bounds-checked;
// out-of-range addresses fault and are never clamped. The bank never grows.
type MemoryBank struct {
	cells []int64
}

// NewMemoryBank allocates a zeroed bank with the given capacity.
func NewMemoryBank(capacity int) (*MemoryBank, error) {
	if capacity <= 0 || capacity > MaxMemoryCapacity {
		return nil, fmt.Errorf("%w: got %d, want 1..%d", ErrInvalidCapacity, capacity, MaxMemoryCapacity)
	}
	return &MemoryBank{cells: make([]int64, capacity)}, nil
}

// Capacity returns the number of cells.
func (m *MemoryBank) Capacity() int {
	return len(m.cells)
}

// Contains reports whether addr is a valid address.
func (m *MemoryBank) Contains(addr int) bool {
	return addr >= 0 && addr < len(m.cells)
}

// Read returns the word at addr.
func (m *MemoryBank) Read(addr int) (int64, error) {
	if !m.Contains(addr) {
		return 0, m.outOfBounds("read", addr)
	}
	return m.cells[addr], nil
}

// Write overwrites the word at addr.
func (m *MemoryBank) Write(addr int, value int64) error {
	if !m.Contains(addr) {
		return m.outOfBounds("write", addr)
	}
	m.cells[addr] = value
	return nil
}

// Seed writes each address/value pair, failing on the first bad address.
// Addresses are applied in ascending order.
func (m *MemoryBank) Seed(values map[int]int64) error {
	addrs := make([]int, 0, len(values))
	for a := range values {
		addrs = append(addrs, a)
	}
	sort.Ints(addrs)
	for _, a := range addrs {
		if err := m.Write(a, values[a]); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a copy of every cell.
func (m *MemoryBank) Snapshot() []int64 {
	return append([]int64(nil), m.cells...)
}

func (m *MemoryBank) outOfBounds(op string, addr int) *Fault {
	return newFault(FaultOutOfBounds, "%s address %d outside [0, %d)", op, addr, len(m.cells))
}

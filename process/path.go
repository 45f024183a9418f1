package process

import (
	"context"
	"fmt"
	"strings"
)

// ChainMode selects how the offsets of a chain are applied. The two modes
// address different cells for the same offsets and are never inferred.
type ChainMode int

const (
	// ChainDereference adds every offset but the last and follows the pointer
	// found there; the last offset is added to the final pointer.
	ChainDereference ChainMode = iota

	// ChainFlat sums every offset into the base with no memory reads.
	ChainFlat
)

func (m ChainMode) String() string {
	switch m {
	case ChainDereference:
		return "deref"
	case ChainFlat:
		return "flat"
	}
	return fmt.Sprintf("ChainMode(%d)", int(m))
}

// ParseChainMode accepts "deref", "dereference" or "flat". An empty string is deref.
func ParseChainMode(s string) (ChainMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deref", "dereference":
		return ChainDereference, nil
	case "flat":
		return ChainFlat, nil
	}
	return 0, fmt.Errorf("unknown chain mode %q (want deref or flat)", s)
}

// Resolve computes the target address of offsets under mode m.
func (m ChainMode) Resolve(ctx context.Context, mem Memory, base ProcessMemoryAddress, offsets Offsets) (ProcessMemoryAddress, error) {
	switch m {
	case ChainDereference:
		return ResolveDereferencing(ctx, mem, base, offsets)
	case ChainFlat:
		return ResolveFlat(base, offsets), nil
	}
	return 0, fmt.Errorf("unknown chain mode %d", int(m))
}

// ChainStep describes one dereference: the pointer at Address (Base + Offset)
// held Value.
type ChainStep struct {
	Index   int
	Base    ProcessMemoryAddress
	Offset  uint64
	Address ProcessMemoryAddress
	Value   ProcessMemoryAddress
}

// ChainTrace receives every successful dereference of a chain.
type ChainTrace func(step ChainStep)

// ResolveDereferencing walks a pointer chain from base.
// It starts at base, adds the first offset, reads a pointer, adds the next offset, reads a pointer, etc.
// The last offset is added to the final pointer without reading.
// If offsets is empty, the result is base.
//
// Example:
//
//	// base -> [ +0 ]ptrA -> [ +24 ]ptrB -> [ +144 ]ptrC
//	// target is (ptrC + 504)
//	addr, err := ResolveDereferencing(ctx, mem, base, Offsets{0, 24, 144, 504})
//
// A failed read at step i returns a *ChainBrokenError with Index i.
func ResolveDereferencing(ctx context.Context, mem Memory, base ProcessMemoryAddress, offsets Offsets) (ProcessMemoryAddress, error) {
	return ResolveDereferencingTrace(ctx, mem, base, offsets, nil)
}

// ResolveDereferencingTrace is ResolveDereferencing reporting each hop to trace.
func ResolveDereferencingTrace(ctx context.Context, mem Memory, base ProcessMemoryAddress, offsets Offsets, trace ChainTrace) (ProcessMemoryAddress, error) {
	if len(offsets) == 0 {
		return base, nil
	}

	current := base

	// Deref each offset except the last
	for i := 0; i < len(offsets)-1; i++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("pointer chain interrupted at step %d: %w", i, err)
		}

		ptrAddr := current.Add(offsets[i])
		ptr, err := readPointer(mem, ptrAddr)
		if err != nil {
			return 0, &ChainBrokenError{Index: i, Address: ptrAddr, Err: err}
		}

		if trace != nil {
			trace(ChainStep{Index: i, Base: current, Offset: offsets[i], Address: ptrAddr, Value: ptr})
		}
		current = ptr
	}

	// Last offset is a raw byte offset into `current` (no deref)
	return current.Add(offsets[len(offsets)-1]), nil
}

// ResolveFlat sums offsets into base. It never reads memory; overflow wraps.
func ResolveFlat(base ProcessMemoryAddress, offsets Offsets) ProcessMemoryAddress {
	current := base
	for _, off := range offsets {
		current = current.Add(off)
	}
	return current
}

func readPointer(mem Memory, addr ProcessMemoryAddress) (ProcessMemoryAddress, error) {
	v, err := readT[uint64](mem, addr)
	if err != nil {
		return 0, err
	}
	return ProcessMemoryAddress(v), nil
}

package process

import (
	"fmt"
	"strconv"
	"strings"
)

// ProcessMemoryAddress is an address inside the target process. It is never
// dereferenced locally; only a Memory implementation may resolve it.
type ProcessMemoryAddress uint64

func (pma ProcessMemoryAddress) ToString() string {
	return fmt.Sprintf("0x%X", uint64(pma))
}

// Add offsets the address, wrapping on overflow.
func (pma ProcessMemoryAddress) Add(offset uint64) ProcessMemoryAddress {
	return pma + ProcessMemoryAddress(offset)
}

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint

func (pms ProcessMemorySize) ToString() string {
	return fmt.Sprintf("%d bytes", uint(pms))
}

// PointerSize is the width of a remote pointer and of scalar values
// read or written through a chain.
const PointerSize ProcessMemorySize = 8

// Offsets is an ordered pointer chain.
type Offsets []uint64

func (o Offsets) String() string {
	parts := make([]string, len(o))
	for i, off := range o {
		parts[i] = fmt.Sprintf("0x%x", off)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ParseOffset parses one chain offset, hex with a 0x prefix or decimal.
func ParseOffset(s string) (uint64, error) {
	digits := strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(strings.ToLower(digits), "0x") {
		digits, base = digits[2:], 16
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return v, nil
}

// ParseOffsets parses a comma separated chain such as "0x10,0x18,4".
// An empty string is the empty chain.
func ParseOffsets(s string) (Offsets, error) {
	if strings.TrimSpace(s) == "" {
		return Offsets{}, nil
	}
	var out Offsets
	for _, part := range strings.Split(s, ",") {
		v, err := ParseOffset(part)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// TargetCell is the final address of a chain together with the width
// of the value expected there.
type TargetCell struct {
	Address ProcessMemoryAddress
	Width   ProcessMemorySize
}

func (tc TargetCell) String() string {
	return fmt.Sprintf("%s (%d bytes)", tc.Address.ToString(), uint(tc.Width))
}

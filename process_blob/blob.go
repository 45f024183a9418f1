package process_blob

import (
	"fmt"

	"memchain/process"
	"memchain/process/memory_map"
)

// ProcessBlob is a copy of one contiguous region of target memory.
type ProcessBlob struct {
	baseaddress process.ProcessMemoryAddress
	perms       string
	data        []byte
}

var _ process.Memory = (*ProcessBlob)(nil)

// NewProcessBlob wraps data as the region starting at baseAddress. perms
// uses the maps notation, e.g. "rw-p". data is not copied.
func NewProcessBlob(baseAddress process.ProcessMemoryAddress, perms string, data []byte) *ProcessBlob {
	return &ProcessBlob{
		baseaddress: baseAddress,
		perms:       perms,
		data:        data,
	}
}

func (p *ProcessBlob) Base() process.ProcessMemoryAddress {
	return p.baseaddress
}

// Region describes the blob as a memory region.
func (p *ProcessBlob) Region() memory_map.MemoryRegion {
	return memory_map.MemoryRegion{
		Address: uint64(p.baseaddress),
		Size:    uint(len(p.data)),
		Perms:   p.perms,
	}
}

// bounds returns the offset of [addr, addr+size) inside the blob.
func (p *ProcessBlob) bounds(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) (uint64, error) {
	if addr < p.baseaddress {
		return 0, process.ErrAddressNotMapped
	}
	offset := uint64(addr - p.baseaddress)
	if offset > uint64(len(p.data)) || uint64(size) > uint64(len(p.data))-offset {
		return 0, process.ErrAddressNotMapped
	}
	return offset, nil
}

// ReadMemory returns a copy of size bytes at addr. Reading a region without
// read permission fails the way the kernel would.
func (p *ProcessBlob) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	offset, err := p.bounds(addr, size)
	if err != nil {
		return nil, err
	}
	if !p.Region().IsReadable() {
		return nil, fmt.Errorf("region at %s is not readable", p.baseaddress.ToString())
	}

	result := make([]byte, size)
	copy(result, p.data[offset:offset+uint64(size)])
	return result, nil
}

// WriteMemory copies data into the blob. The region must be writable.
func (p *ProcessBlob) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	offset, err := p.bounds(addr, process.ProcessMemorySize(len(data)))
	if err != nil {
		return err
	}
	if !p.Region().IsWritable() {
		return fmt.Errorf("memory region at %s is not writable", p.baseaddress.ToString())
	}

	copy(p.data[offset:], data)
	return nil
}

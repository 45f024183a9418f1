package process_blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"memchain/process"
	"memchain/process/memory_map"
)

const (
	metadataFile  = "metadata.json"
	memoryMapFile = "process_memory_map.json"
)

// ProcessDump implements process.Handle over captured regions, either built
// in memory or loaded from a directory written by SaveDump. Regions listed
// without data keep their place in the map but cannot be read.
type ProcessDump struct {
	PID     process.ProcessID
	Name    string
	Options memory_map.ScanOptions

	mu      sync.Mutex
	regions []memory_map.MemoryRegion
	blobs   []*ProcessBlob // parallel to regions, nil when not captured
	closed  bool
}

var _ process.Handle = (*ProcessDump)(nil)

// NewProcessDump creates an empty dump for pid.
func NewProcessDump(pid process.ProcessID, name string) *ProcessDump {
	return &ProcessDump{
		PID:  pid,
		Name: name,
	}
}

// AddRegion inserts region. data may be nil for a region whose contents were
// not captured; otherwise its length must equal region.Size.
func (p *ProcessDump) AddRegion(region memory_map.MemoryRegion, data []byte) error {
	if data != nil && uint(len(data)) != region.Size {
		return fmt.Errorf("region 0x%x: %d bytes of data for size %d", region.Address, len(data), region.Size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	i := sort.Search(len(p.regions), func(i int) bool {
		return p.regions[i].Address >= region.Address
	})
	if i > 0 && p.regions[i-1].End() > region.Address {
		return fmt.Errorf("region 0x%x overlaps region 0x%x", region.Address, p.regions[i-1].Address)
	}
	if i < len(p.regions) && region.End() > p.regions[i].Address {
		return fmt.Errorf("region 0x%x overlaps region 0x%x", region.Address, p.regions[i].Address)
	}

	var blob *ProcessBlob
	if data != nil {
		blob = NewProcessBlob(process.ProcessMemoryAddress(region.Address), region.Perms, data)
	}

	p.regions = append(p.regions, memory_map.MemoryRegion{})
	copy(p.regions[i+1:], p.regions[i:])
	p.regions[i] = region

	p.blobs = append(p.blobs, nil)
	copy(p.blobs[i+1:], p.blobs[i:])
	p.blobs[i] = blob

	return nil
}

// AddBlob is AddRegion for captured data.
func (p *ProcessDump) AddBlob(addr process.ProcessMemoryAddress, perms string, data []byte) error {
	return p.AddRegion(memory_map.MemoryRegion{Address: uint64(addr), Size: uint(len(data)), Perms: perms}, data)
}

func (p *ProcessDump) GetPID() process.ProcessID {
	return p.PID
}

func (p *ProcessDump) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Regions scans a snapshot of the region list.
func (p *ProcessDump) Regions(ctx context.Context) (memory_map.RegionIterator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("%w: %w", process.ErrAttachDenied, process.ErrProcessNotOpen)
	}

	regions := make([]memory_map.MemoryRegion, len(p.regions))
	copy(regions, p.regions)
	return memory_map.NewSliceScanner(ctx, regions, p.Options), nil
}

// span calls fn for each captured piece of [addr, addr+size). Adjacent
// regions are crossed the way a real address space allows.
func (p *ProcessDump) span(addr process.ProcessMemoryAddress, size uint64, fn func(blob *ProcessBlob, at process.ProcessMemoryAddress, n uint64) error) error {
	if p.closed {
		return process.ErrProcessNotOpen
	}

	cur := uint64(addr)
	remaining := size
	for remaining > 0 {
		i := sort.Search(len(p.regions), func(i int) bool {
			return p.regions[i].End() > cur
		})
		if i >= len(p.regions) || p.regions[i].Address > cur {
			return process.ErrAddressNotMapped
		}
		if p.blobs[i] == nil {
			return fmt.Errorf("region 0x%x was not captured: %w", p.regions[i].Address, process.ErrAddressNotMapped)
		}

		n := min(remaining, p.regions[i].End()-cur)
		if err := fn(p.blobs[i], process.ProcessMemoryAddress(cur), n); err != nil {
			return err
		}
		cur += n
		remaining -= n
	}
	return nil
}

func (p *ProcessDump) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Bounds first: size is caller supplied and may not fit in memory
	if err := p.span(addr, uint64(size), func(*ProcessBlob, process.ProcessMemoryAddress, uint64) error { return nil }); err != nil {
		return nil, err
	}

	result := make([]byte, 0, size)
	err := p.span(addr, uint64(size), func(blob *ProcessBlob, at process.ProcessMemoryAddress, n uint64) error {
		data, err := blob.ReadMemory(at, process.ProcessMemorySize(n))
		if err != nil {
			return err
		}
		result = append(result, data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *ProcessDump) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Check every piece before touching memory so a failed write changes nothing
	check := func(blob *ProcessBlob, at process.ProcessMemoryAddress, n uint64) error {
		if !blob.Region().IsWritable() {
			return fmt.Errorf("memory region at %s is not writable", blob.Base().ToString())
		}
		return nil
	}
	if err := p.span(addr, uint64(len(data)), check); err != nil {
		return err
	}

	written := uint64(0)
	return p.span(addr, uint64(len(data)), func(blob *ProcessBlob, at process.ProcessMemoryAddress, n uint64) error {
		err := blob.WriteMemory(at, data[written:written+n])
		written += n
		return err
	})
}

type dumpMetadata struct {
	PID  process.ProcessID            `json:"pid"`
	Name string                       `json:"name"`
	Base process.ProcessMemoryAddress `json:"base,omitempty"`
}

func blobFilename(dirname string, region memory_map.MemoryRegion) string {
	return filepath.Join(dirname, fmt.Sprintf("blob_0x%x_%d.bin", region.Address, region.Size))
}

// LoadDump reads a directory written by SaveDump.
func LoadDump(dirname string) (*ProcessDump, error) {
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata dumpMetadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	mmBytes, err := os.ReadFile(filepath.Join(dirname, memoryMapFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read memory map: %w", err)
	}

	var memoryMap []memory_map.MemoryRegion
	if err := json.Unmarshal(mmBytes, &memoryMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory map: %w", err)
	}

	dump := NewProcessDump(metadata.PID, metadata.Name)
	for _, region := range memoryMap {
		data, err := os.ReadFile(blobFilename(dirname, region))
		if errors.Is(err, os.ErrNotExist) {
			// Blob not saved (e.g. too large or not readable)
			data = nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to read blob for region 0x%x: %w", region.Address, err)
		}

		if err := dump.AddRegion(region, data); err != nil {
			return nil, fmt.Errorf("failed to load region: %w", err)
		}
	}

	return dump, nil
}

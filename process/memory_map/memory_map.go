package memory_map

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotMonotonic stops a scan whose next region does not start above the previous one.
	ErrNotMonotonic = errors.New("memory regions out of order")

	// ErrTooManyRegions stops a scan that exceeded ScanOptions.MaxRegions.
	ErrTooManyRegions = errors.New("too many memory regions")
)

// Protection is the access protection of a region.
type Protection struct {
	Read    bool
	Write   bool
	Execute bool
}

// ParseProtection reads a maps style permission string such as "r-xp".
func ParseProtection(perms string) Protection {
	return Protection{
		Read:    len(perms) > 0 && perms[0] == 'r',
		Write:   len(perms) > 1 && perms[1] == 'w',
		Execute: len(perms) > 2 && perms[2] == 'x',
	}
}

func (p Protection) String() string {
	b := []byte("---")
	if p.Read {
		b[0] = 'r'
	}
	if p.Write {
		b[1] = 'w'
	}
	if p.Execute {
		b[2] = 'x'
	}
	return string(b)
}

// MemoryRegion represents a memory region in a process's address space
type MemoryRegion struct {
	Address uint64 // The starting address of the memory region
	Size    uint   // The size of the memory region in bytes
	Perms   string // Permissions (e.g., "r-xp" for read, execute, private)
	Path    string `json:",omitempty"` // Backing file or pseudo path such as [heap], may be empty
}

// String returns a string representation of the memory region
func (r MemoryRegion) String() string {
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s", r.Address, r.Size, r.Perms)
}

func (r MemoryRegion) Protection() Protection {
	return ParseProtection(r.Perms)
}

func (r MemoryRegion) IsReadable() bool {
	return r.Protection().Read
}

func (r MemoryRegion) IsWritable() bool {
	return r.Protection().Write
}

func (r MemoryRegion) IsExecutable() bool {
	return r.Protection().Execute
}

// End returns the first address past the region.
func (r MemoryRegion) End() uint64 {
	return r.Address + uint64(r.Size)
}

func (r MemoryRegion) Contains(addr uint64) bool {
	return addr >= r.Address && addr < r.End()
}

// FindRegion returns the region containing addr. regions must be sorted by address.
func FindRegion(addr uint64, regions []MemoryRegion) *MemoryRegion {
	i := sort.Search(len(regions), func(i int) bool {
		return regions[i].End() > addr
	})
	if i < len(regions) && regions[i].Contains(addr) {
		return &regions[i]
	}

	return nil
}

// RegionIterator is a lazy, finite and non-restartable scan over regions in
// strictly increasing address order. It follows the bufio.Scanner pattern:
//
//	for it.Next() {
//		r := it.Region()
//	}
//	if err := it.Err(); err != nil { ... }
type RegionIterator interface {
	// Next advances to the next region and reports whether there is one.
	Next() bool

	// Region returns the current region.
	Region() MemoryRegion

	// Err returns the error that stopped the scan, nil at a clean end.
	Err() error

	// Close releases resources held by the scan.
	Close() error
}

// ScanOptions bounds a scan.
type ScanOptions struct {
	// MaxRegions stops the scan with ErrTooManyRegions once exceeded. Zero means unlimited.
	MaxRegions int
}

// orderGuard enforces the shared iteration rules of every scanner.
type orderGuard struct {
	opts  ScanOptions
	last  uint64
	count int
}

func (g *orderGuard) admit(r MemoryRegion) error {
	if g.count > 0 && r.Address <= g.last {
		return fmt.Errorf("%w: 0x%x after 0x%x", ErrNotMonotonic, r.Address, g.last)
	}
	if g.opts.MaxRegions > 0 && g.count >= g.opts.MaxRegions {
		return fmt.Errorf("%w: limit %d", ErrTooManyRegions, g.opts.MaxRegions)
	}
	g.last = r.Address
	g.count++
	return nil
}

// skipRegion drops regions that end at or below address 1; scans start there.
func skipRegion(r MemoryRegion) bool {
	return r.Size == 0 || r.End() <= 1
}

// SliceScanner iterates an in-memory list of regions.
type SliceScanner struct {
	ctx     context.Context
	regions []MemoryRegion
	pos     int
	guard   orderGuard
	cur     MemoryRegion
	err     error
	done    bool
}

// NewSliceScanner scans regions in the given order; unsorted input ends the
// scan with ErrNotMonotonic.
func NewSliceScanner(ctx context.Context, regions []MemoryRegion, opts ScanOptions) *SliceScanner {
	return &SliceScanner{
		ctx:     ctx,
		regions: regions,
		guard:   orderGuard{opts: opts},
	}
}

func (s *SliceScanner) Next() bool {
	for !s.done {
		if err := s.ctx.Err(); err != nil {
			s.stop(err)
			break
		}
		if s.pos >= len(s.regions) {
			s.stop(nil)
			break
		}
		r := s.regions[s.pos]
		s.pos++
		if skipRegion(r) {
			continue
		}
		if err := s.guard.admit(r); err != nil {
			s.stop(err)
			break
		}
		s.cur = r
		return true
	}
	return false
}

func (s *SliceScanner) stop(err error) {
	s.done = true
	s.err = err
	s.cur = MemoryRegion{}
}

func (s *SliceScanner) Region() MemoryRegion { return s.cur }

func (s *SliceScanner) Err() error { return s.err }

func (s *SliceScanner) Close() error {
	s.done = true
	return nil
}

// Collect drains it and closes it.
func Collect(it RegionIterator) ([]MemoryRegion, error) {
	defer it.Close()

	var regions []MemoryRegion
	for it.Next() {
		regions = append(regions, it.Region())
	}
	return regions, it.Err()
}

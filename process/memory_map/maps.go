package memory_map

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// ParseMapsLine parses one line of /proc/[pid]/maps, e.g.
//
//	00400000-0040b000 r-xp 00000000 08:01 1234   /usr/bin/cat
func ParseMapsLine(line string) (MemoryRegion, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return MemoryRegion{}, fmt.Errorf("short maps line %q", line)
	}

	// Parse address range (e.g., "00400000-0040b000")
	start, end, ok := strings.Cut(fields[0], "-")
	if !ok {
		return MemoryRegion{}, fmt.Errorf("bad address range %q", fields[0])
	}

	startAddr, err := strconv.ParseUint(start, 16, 64)
	if err != nil {
		return MemoryRegion{}, fmt.Errorf("bad start address %q: %w", start, err)
	}

	endAddr, err := strconv.ParseUint(end, 16, 64)
	if err != nil {
		return MemoryRegion{}, fmt.Errorf("bad end address %q: %w", end, err)
	}

	if endAddr < startAddr {
		return MemoryRegion{}, fmt.Errorf("inverted address range %q", fields[0])
	}

	region := MemoryRegion{
		Address: startAddr,
		Size:    uint(endAddr - startAddr),
		Perms:   fields[1],
	}
	if len(fields) > 5 {
		region.Path = strings.Join(fields[5:], " ")
	}
	return region, nil
}

// MapsScanner lazily parses a maps listing. Malformed lines are skipped.
type MapsScanner struct {
	ctx     context.Context
	rc      io.ReadCloser
	scanner *bufio.Scanner
	guard   orderGuard
	cur     MemoryRegion
	err     error
	done    bool

	closeOnce sync.Once
	closeErr  error
}

// NewMapsScanner takes ownership of rc; Close closes it.
func NewMapsScanner(ctx context.Context, rc io.ReadCloser, opts ScanOptions) *MapsScanner {
	return &MapsScanner{
		ctx:     ctx,
		rc:      rc,
		scanner: bufio.NewScanner(rc),
		guard:   orderGuard{opts: opts},
	}
}

func (s *MapsScanner) Next() bool {
	for !s.done {
		if err := s.ctx.Err(); err != nil {
			s.stop(err)
			break
		}
		if !s.scanner.Scan() {
			s.stop(s.scanner.Err())
			break
		}

		region, err := ParseMapsLine(s.scanner.Text())
		if err != nil || skipRegion(region) {
			continue
		}
		if err := s.guard.admit(region); err != nil {
			s.stop(err)
			break
		}
		s.cur = region
		return true
	}
	return false
}

func (s *MapsScanner) stop(err error) {
	s.done = true
	s.err = err
	s.cur = MemoryRegion{}
}

func (s *MapsScanner) Region() MemoryRegion { return s.cur }

func (s *MapsScanner) Err() error { return s.err }

func (s *MapsScanner) Close() error {
	s.done = true
	s.closeOnce.Do(func() {
		s.closeErr = s.rc.Close()
	})
	return s.closeErr
}

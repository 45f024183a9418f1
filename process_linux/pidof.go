//go:build linux

package process_linux

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"memchain/process"
)

// Finder implements process.ProcessFinder by walking /proc, like pidof.
type Finder struct {
	// Root is the proc mount, "/proc" when empty
	Root string

	// IncludeSelf keeps the calling process in results
	IncludeSelf bool
}

var _ process.ProcessFinder = (*Finder)(nil)

// NewFinder creates a Finder over /proc.
func NewFinder() *Finder {
	return &Finder{Root: "/proc"}
}

func (f *Finder) root() string {
	if f.Root == "" {
		return "/proc"
	}
	return f.Root
}

// FindProcessByName returns all processes whose comm or exe basename equals
// name, in ascending PID order. The match is case-sensitive (like pidof).
func (f *Finder) FindProcessByName(name string) ([]process.ProcessInfo, error) {
	if name == "" {
		return nil, errors.New("empty name")
	}

	entries, err := os.ReadDir(f.root())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.root(), err)
	}

	selfPID := os.Getpid()
	var out []process.ProcessInfo

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue // not a PID dir
		}
		if pid == selfPID && !f.IncludeSelf {
			continue
		}

		// Resolve /proc/<pid>/exe symlink; may fail if zombie or permission
		exe, _ := os.Readlink(filepath.Join(f.root(), e.Name(), "exe"))

		comm, _ := os.ReadFile(filepath.Join(f.root(), e.Name(), "comm"))
		comm = bytesTrimNL(comm)
		if len(comm) > 0 && string(comm) == name {
			out = append(out, process.ProcessInfo{PID: process.ProcessID(pid), Name: string(comm), Exe: exe})
			continue
		}

		if exe != "" && filepath.Base(exe) == name {
			out = append(out, process.ProcessInfo{PID: process.ProcessID(pid), Name: filepath.Base(exe), Exe: exe})
			continue
		}
	}

	// ReadDir sorts by name, which puts "100" before "99"
	sort.Slice(out, func(i, j int) bool {
		return out[i].PID < out[j].PID
	})

	return out, nil
}

func bytesTrimNL(b []byte) []byte {
	// Trim trailing '\n' if present (comm has a newline).
	for len(b) > 0 {
		switch b[len(b)-1] {
		case '\n', '\r', ' ', '\t':
			b = b[:len(b)-1]
		default:
			return b
		}
	}
	return b
}

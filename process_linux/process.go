//go:build linux

package process_linux

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"memchain/process"
	"memchain/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Transport selects the kernel interface used for reads and writes.
type Transport int

const (
	// TransportVM uses process_vm_readv / process_vm_writev. Writes to
	// read-only pages fail.
	TransportVM Transport = iota

	// TransportProcMem uses pread / pwrite on /proc/[pid]/mem, which can
	// also write read-only pages.
	TransportProcMem
)

func (t Transport) String() string {
	switch t {
	case TransportVM:
		return "vm"
	case TransportProcMem:
		return "procmem"
	}
	return fmt.Sprintf("Transport(%d)", int(t))
}

// ParseTransport accepts "vm" or "procmem". An empty string is vm.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "vm":
		return TransportVM, nil
	case "procmem", "mem":
		return TransportProcMem, nil
	}
	return 0, fmt.Errorf("unknown transport %q (want vm or procmem)", s)
}

// Options configures a LinuxProcess.
type Options struct {
	Transport Transport
	ReadOnly  bool
	Scan      memory_map.ScanOptions
}

// LinuxProcess implements process.Handle for Linux systems. The open
// /proc/[pid]/mem file is the capability: opening it passes the kernel's
// ptrace access check, and Close releases it.
type LinuxProcess struct {
	pid  process.ProcessID
	opts Options
	mem  *os.File
	log  *logger.Logger
	mu   sync.Mutex
}

var _ process.Handle = (*LinuxProcess)(nil)

func procPath(pid process.ProcessID, name string) string {
	return fmt.Sprintf("/proc/%d/%s", pid, name)
}

// Open attaches to pid. Failures match process.ErrAttachDenied.
func Open(pid process.ProcessID, opts Options) (*LinuxProcess, error) {
	if pid <= 0 {
		return nil, &process.AttachError{PID: pid, Err: fmt.Errorf("invalid pid")}
	}

	// Check if process exists
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		return nil, &process.AttachError{PID: pid, Err: fmt.Errorf("process with PID %d does not exist: %w", pid, err)}
	}

	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}

	mem, err := os.OpenFile(procPath(pid, "mem"), flag, 0)
	if err != nil {
		return nil, &process.AttachError{PID: pid, Err: err}
	}

	p := &LinuxProcess{
		pid:  pid,
		opts: opts,
		mem:  mem,
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid))),
	}

	p.log.Infoln("Process opened, transport", opts.Transport)

	return p, nil
}

func (p *LinuxProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mem == nil {
		return nil
	}

	p.log.Infoln("Closing process")

	err := p.mem.Close()

	// Reset process state
	p.pid = 0
	p.mem = nil

	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))

	if err != nil {
		return fmt.Errorf("failed to close process memory: %w", err)
	}
	return nil
}

// GetPID returns the process ID, 0 once closed
func (p *LinuxProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// state returns the pid and mem file, or ErrProcessNotOpen.
func (p *LinuxProcess) state() (process.ProcessID, *os.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mem == nil {
		return 0, nil, process.ErrProcessNotOpen
	}
	return p.pid, p.mem, nil
}

// Regions scans /proc/[pid]/maps lazily.
func (p *LinuxProcess) Regions(ctx context.Context) (memory_map.RegionIterator, error) {
	pid, _, err := p.state()
	if err != nil {
		return nil, &process.AttachError{PID: pid, Err: err}
	}

	file, err := os.Open(procPath(pid, "maps"))
	if err != nil {
		return nil, &process.AttachError{PID: pid, Err: err}
	}

	return memory_map.NewMapsScanner(ctx, file, p.opts.Scan), nil
}

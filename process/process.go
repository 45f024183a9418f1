// Package process resolves pointer chains inside another process's address
// space. OS specific handles live in process_linux; everything here works
// against the Handle and Memory interfaces.
package process

import (
	"errors"
	"fmt"
)

var (
	// ErrAttachDenied is returned when a handle to the target process cannot be
	// obtained, usually because of missing privilege or because the process exited.
	ErrAttachDenied = errors.New("attach denied")

	// ErrNotFound is returned when no process matches a name or when the target
	// has no executable region.
	ErrNotFound = errors.New("not found")

	// ErrChainBroken is returned when a dereference inside a pointer chain fails.
	ErrChainBroken = errors.New("pointer chain broken")

	// ErrReadFailed is returned when a terminal read fails.
	ErrReadFailed = errors.New("read failed")

	// ErrWriteFailed is returned when a terminal write fails.
	ErrWriteFailed = errors.New("write failed")

	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrReadTooLarge is returned for a single read larger than MaxReadSize.
	ErrReadTooLarge = errors.New("read too large")
)

// MaxReadSize bounds one ReadMemory call; handles allocate the whole buffer up front.
const MaxReadSize ProcessMemorySize = 1 << 30

// AttachError describes a failed attach to PID.
type AttachError struct {
	PID ProcessID
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach to process %d denied: %v", e.PID, e.Err)
}

func (e *AttachError) Unwrap() []error {
	return []error{ErrAttachDenied, e.Err}
}

// ChainBrokenError reports the index of the first offset whose dereference
// failed and the address that was read.
type ChainBrokenError struct {
	Index   int
	Address ProcessMemoryAddress
	Err     error
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("pointer chain broken at step %d (addr=%s): %v", e.Index, e.Address.ToString(), e.Err)
}

func (e *ChainBrokenError) Unwrap() []error {
	return []error{ErrChainBroken, e.Err}
}

// AccessError is a failed terminal read or write.
type AccessError struct {
	Op      string // "read" or "write"
	Address ProcessMemoryAddress
	Size    ProcessMemorySize
	Err     error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s of %d bytes at %s failed: %v", e.Op, uint(e.Size), e.Address.ToString(), e.Err)
}

func (e *AccessError) Unwrap() []error {
	kind := ErrReadFailed
	if e.Op == "write" {
		kind = ErrWriteFailed
	}
	return []error{kind, e.Err}
}

// Hint returns an operator facing explanation of err.
func Hint(err error) string {
	var chainErr *ChainBrokenError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAttachDenied):
		return "cannot attach to the target: run as root, grant CAP_SYS_PTRACE, or set kernel.yama.ptrace_scope=0; the process may also have exited"
	case errors.Is(err, ErrNotFound):
		return "target not found: check that the process is running and the name matches /proc/<pid>/comm exactly"
	case errors.As(err, &chainErr):
		return fmt.Sprintf("offset #%d does not lead to readable memory; the target may still be loading or the chain is stale", chainErr.Index)
	case errors.Is(err, ErrReadFailed):
		return "the resolved address is not readable; verify the final offset"
	case errors.Is(err, ErrWriteFailed):
		return "the resolved address is not writable; the page may be read-only or the transport may lack write access"
	}
	return err.Error()
}

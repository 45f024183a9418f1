//go:build linux

package process_linux

import (
	"fmt"
	"io"
	"math"
	"unsafe"

	"memchain/process"

	"golang.org/x/sys/unix"
)

// process_vm_writev uses the process_vm_writev syscall to write memory to another process
func process_vm_writev(
	pid process.ProcessID,
	localBuf []byte,
	remoteAddr process.ProcessMemoryAddress,
) (int, error) {
	// Create iovec for local buffer
	localIov := unix.Iovec{Base: &localBuf[0]}
	localIov.SetLen(len(localBuf))

	// Create iovec for remote buffer
	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  len(localBuf),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_WRITEV,
		uintptr(pid),                        // Remote process PID
		uintptr(unsafe.Pointer(&localIov)),  // Local iovec
		uintptr(1),                          // Number of local iovecs
		uintptr(unsafe.Pointer(&remoteIov)), // Remote iovec
		uintptr(1),                          // Number of remote iovecs
		uintptr(0),                          // Flags (reserved for future use)
	)

	if errno != 0 {
		return 0, fmt.Errorf("process_vm_writev failed: %w", errno)
	}

	return int(n), nil
}

// pwrite writes through /proc/[pid]/mem
func pwrite(mem io.WriterAt, remoteAddr process.ProcessMemoryAddress, data []byte) (int, error) {
	offset, err := fileOffset(remoteAddr)
	if err != nil {
		return 0, err
	}
	n, err := mem.WriteAt(data, offset)
	if err != nil {
		return n, fmt.Errorf("write /proc/pid/mem: %w", err)
	}
	return n, nil
}

// fileOffset maps a remote address to a /proc/[pid]/mem offset.
func fileOffset(addr process.ProcessMemoryAddress) (int64, error) {
	if uint64(addr) > math.MaxInt64 {
		return 0, fmt.Errorf("address %s beyond /proc/pid/mem range: %w", addr.ToString(), process.ErrAddressNotMapped)
	}
	return int64(addr), nil
}

// WriteMemory writes data to the process memory at the specified address.
// It is a single non-atomic write; nothing is read back.
func (p *LinuxProcess) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	pid, mem, err := p.state()
	if err != nil {
		return err
	}
	if p.opts.ReadOnly {
		return fmt.Errorf("process %d attached read-only", pid)
	}
	if len(data) == 0 {
		return nil
	}

	// Copy so the caller cannot modify the buffer during the write
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	var written int
	if p.opts.Transport == TransportProcMem {
		written, err = pwrite(mem, addr, dataCopy)
	} else {
		written, err = process_vm_writev(pid, dataCopy, addr)
	}
	if err != nil {
		return fmt.Errorf("failed to write process memory: %w", err)
	}

	if written != len(data) {
		return fmt.Errorf("only wrote %d of %d bytes: %w", written, len(data), process.ErrAddressNotMapped)
	}

	return nil
}

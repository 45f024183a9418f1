//go:build linux

package process_linux

import (
	"fmt"
	"io"
	"unsafe"

	"memchain/process"

	"golang.org/x/sys/unix"
)

// process_vm_readv uses the process_vm_readv syscall to read memory from another process
func process_vm_readv(
	pid process.ProcessID,
	remoteAddr process.ProcessMemoryAddress,
	bytesToRead process.ProcessMemorySize,
) ([]byte, error) {
	localBuf := make([]byte, bytesToRead)

	// Create iovec for local buffer
	localIov := unix.Iovec{Base: &localBuf[0]}
	localIov.SetLen(int(bytesToRead))

	// Create iovec for remote buffer
	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  int(bytesToRead),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_READV,
		uintptr(pid),                        // Remote process PID
		uintptr(unsafe.Pointer(&localIov)),  // Local iovec
		uintptr(1),                          // Number of local iovecs
		uintptr(unsafe.Pointer(&remoteIov)), // Remote iovec
		uintptr(1),                          // Number of remote iovecs
		uintptr(0),                          // Flags (reserved for future use)
	)

	if errno != 0 {
		return nil, fmt.Errorf("process_vm_readv failed: %w", errno)
	}

	// A read crossing into an unmapped page stops short
	if int(n) != int(bytesToRead) {
		return nil, fmt.Errorf("partial read: %d of %d bytes: %w", n, bytesToRead, process.ErrAddressNotMapped)
	}

	return localBuf, nil
}

// pread reads through /proc/[pid]/mem
func pread(mem io.ReaderAt, remoteAddr process.ProcessMemoryAddress, bytesToRead process.ProcessMemorySize) ([]byte, error) {
	offset, err := fileOffset(remoteAddr)
	if err != nil {
		return nil, err
	}

	localBuf := make([]byte, bytesToRead)
	n, err := mem.ReadAt(localBuf, offset)
	if n == len(localBuf) {
		return localBuf, nil
	}
	if err == nil || err == io.EOF {
		err = process.ErrAddressNotMapped
	}
	return nil, fmt.Errorf("read /proc/pid/mem: %d of %d bytes: %w", n, bytesToRead, err)
}

// ReadMemory reads memory from the process at the specified address
func (p *LinuxProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	pid, mem, err := p.state()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	if size > process.MaxReadSize {
		return nil, fmt.Errorf("%d bytes at %s: %w", size, addr.ToString(), process.ErrReadTooLarge)
	}

	if p.opts.Transport == TransportProcMem {
		return pread(mem, addr, size)
	}
	return process_vm_readv(pid, addr, size)
}

package process

import (
	"context"

	"memchain/process/memory_map"
)

// Memory is raw sized access to a target address space.
type Memory interface {
	// ReadMemory reads size bytes at addr. A short read is an error.
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)

	// WriteMemory writes data at addr.
	WriteMemory(addr ProcessMemoryAddress, data []byte) error
}

// RegionSource enumerates the virtual memory regions of a target.
type RegionSource interface {
	// Regions starts a new lazy scan in ascending address order. The scan
	// fails as a whole with ErrAttachDenied when the listing cannot be opened.
	Regions(ctx context.Context) (memory_map.RegionIterator, error)
}

// Handle is a scoped capability bound to one target process. Callers must
// Close it on every exit path. A Handle is meant for one goroutine at a time.
type Handle interface {
	Memory
	RegionSource

	// GetPID returns the process ID
	GetPID() ProcessID

	// Close releases the OS resources held by the handle
	Close() error
}

// Attacher acquires handles.
type Attacher interface {
	// Attach opens a handle to pid or fails with ErrAttachDenied.
	Attach(pid ProcessID) (Handle, error)
}

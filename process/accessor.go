package process

import (
	"context"
	"unsafe"
)

// Read is a helper to read a single value of type T from memory, in native
// byte order. The target runs on the same machine, so native order matches.
func Read[T any](mem Memory, addr ProcessMemoryAddress) (T, error) {
	t, err := readT[T](mem, addr)
	if err != nil {
		var zero T
		return zero, &AccessError{Op: "read", Address: addr, Size: ProcessMemorySize(unsafe.Sizeof(zero)), Err: err}
	}
	return t, nil
}

// Write stores v at addr in native byte order.
func Write[T any](mem Memory, addr ProcessMemoryAddress, v T) error {
	size := int(unsafe.Sizeof(v))
	if size == 0 {
		return nil
	}

	data := make([]byte, size)
	copy(data, unsafe.Slice((*byte)(unsafe.Pointer(&v)), size))

	if err := mem.WriteMemory(addr, data); err != nil {
		return &AccessError{Op: "write", Address: addr, Size: ProcessMemorySize(size), Err: err}
	}
	return nil
}

func readT[T any](mem Memory, addr ProcessMemoryAddress) (T, error) {
	var t T
	size := ProcessMemorySize(unsafe.Sizeof(t))
	if size == 0 {
		return t, nil
	}

	data, err := mem.ReadMemory(addr, size)
	if err != nil {
		return t, err
	}
	if len(data) < int(size) {
		return t, ErrAddressNotMapped
	}

	copyTo(&t, data)
	return t, nil
}

// copyTo copies bytes to *T
func copyTo[T any](dst *T, src []byte) {
	size := int(unsafe.Sizeof(*dst))
	if len(src) < size {
		return
	}

	// Create a byte slice view of dst
	dstBytes := unsafe.Slice((*byte)(unsafe.Pointer(dst)), size)
	copy(dstBytes, src)
}

// ReadUINT64 reads the 8 byte value at addr. Failures match ErrReadFailed.
func ReadUINT64(mem Memory, addr ProcessMemoryAddress) (uint64, error) {
	return Read[uint64](mem, addr)
}

// WriteUINT64 writes an 8 byte value at addr. Failures match ErrWriteFailed.
func WriteUINT64(mem Memory, addr ProcessMemoryAddress, value uint64) error {
	return Write(mem, addr, value)
}

// ReadValue resolves a dereferencing chain and reads the 8 byte value there.
func ReadValue(ctx context.Context, mem Memory, base ProcessMemoryAddress, offsets Offsets) (uint64, error) {
	addr, err := ResolveDereferencing(ctx, mem, base, offsets)
	if err != nil {
		return 0, err
	}
	return ReadUINT64(mem, addr)
}

// WriteValue resolves a dereferencing chain and writes value there. The write
// is not read back and nothing is rolled back on a later failure.
func WriteValue(ctx context.Context, mem Memory, base ProcessMemoryAddress, offsets Offsets, value uint64) error {
	addr, err := ResolveDereferencing(ctx, mem, base, offsets)
	if err != nil {
		return err
	}
	return WriteUINT64(mem, addr, value)
}

// Target resolves offsets under mode and reports the cell width that reads
// through that mode use.
func Target(ctx context.Context, mem Memory, mode ChainMode, base ProcessMemoryAddress, offsets Offsets) (TargetCell, error) {
	addr, err := mode.Resolve(ctx, mem, base, offsets)
	if err != nil {
		return TargetCell{}, err
	}

	width := PointerSize
	if mode == ChainFlat {
		width = 1
	}
	return TargetCell{Address: addr, Width: width}, nil
}

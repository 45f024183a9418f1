package process_test

import (
	"encoding/binary"
	"testing"

	"memchain/process"
	"memchain/process_blob"
)

// Layout of the fake target used across tests:
//
//	0x400000 r--p  header page
//	0x401000 r-xp  text, base address; base+0x10 holds ptrA
//	0x600000 rw-p  heap: ptrA=0x600100, [ptrA+0x8]=ptrB=0x600200,
//	               [ptrB+0x0]=0xdead0000 (unmapped), value at ptrB+0x20
//	0x700000 rw-p  text data
const (
	headerAddr = 0x400000
	textAddr   = 0x401000
	heapAddr   = 0x600000
	dataAddr   = 0x700000

	ptrA     = 0x600100
	ptrB     = 0x600200
	badPtr   = 0xdead0000
	valueOff = 0x20
	value    = 0x1122334455667788
)

func putUint64(b []byte, off int, v uint64) {
	binary.NativeEndian.PutUint64(b[off:], v)
}

func newTarget(t *testing.T) *process_blob.ProcessDump {
	t.Helper()

	text := make([]byte, 0x1000)
	putUint64(text, 0x10, ptrA)

	heap := make([]byte, 0x1000)
	putUint64(heap, ptrA-heapAddr+0x8, ptrB)
	putUint64(heap, ptrB-heapAddr, badPtr)
	putUint64(heap, ptrB-heapAddr+valueOff, value)

	data := make([]byte, 0x1000)
	copy(data, []byte{0x68, 0x69, 0x00, 0x21})

	dump := process_blob.NewProcessDump(4242, "target")
	mustAdd(t, dump, headerAddr, "r--p", make([]byte, 0x1000))
	mustAdd(t, dump, textAddr, "r-xp", text)
	mustAdd(t, dump, heapAddr, "rw-p", heap)
	mustAdd(t, dump, dataAddr, "rw-p", data)
	return dump
}

func mustAdd(t *testing.T, dump *process_blob.ProcessDump, addr uint64, perms string, data []byte) {
	t.Helper()
	if err := dump.AddBlob(process.ProcessMemoryAddress(addr), perms, data); err != nil {
		t.Fatalf("AddBlob(0x%x): %v", addr, err)
	}
}

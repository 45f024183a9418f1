//go:build linux

package process_linux

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"unsafe"

	"memchain/process"
)

func openSelf(t *testing.T, opts Options) *LinuxProcess {
	t.Helper()
	p, err := Open(process.ProcessID(os.Getpid()), opts)
	if err != nil {
		t.Skipf("cannot open own process: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func skipUnsupported(t *testing.T, err error) {
	t.Helper()
	if errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EPERM) {
		t.Skipf("transport unavailable: %v", err)
	}
}

// firstExecutable reads /proc/self/maps directly.
func firstExecutable(t *testing.T) uint64 {
	t.Helper()
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		t.Skip(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !strings.Contains(fields[1], "x") {
			continue
		}
		start, _, _ := strings.Cut(fields[0], "-")
		addr, err := strconv.ParseUint(start, 16, 64)
		if err != nil {
			t.Fatal(err)
		}
		return addr
	}
	t.Fatal("no executable region in /proc/self/maps")
	return 0
}

func TestLocateBaseSelf(t *testing.T) {
	p := openSelf(t, Options{})

	base, err := process.LocateBase(context.Background(), p)
	if err != nil {
		t.Fatalf("LocateBase: %v", err)
	}
	if want := firstExecutable(t); uint64(base) != want {
		t.Errorf("LocateBase = %s, want 0x%x", base.ToString(), want)
	}
}

func TestPointerChainSelf(t *testing.T) {
	for _, transport := range []Transport{TransportVM, TransportProcMem} {
		t.Run(transport.String(), func(t *testing.T) {
			ctx := context.Background()
			p := openSelf(t, Options{Transport: transport})

			leaf := &[4]uint64{0, 0, 0xfeedface, 0}
			root := &[2]uint64{0, uint64(uintptr(unsafe.Pointer(leaf)))}
			base := process.ProcessMemoryAddress(uintptr(unsafe.Pointer(root)))
			offsets := process.Offsets{0x8, 0x10}

			got, err := process.ReadValue(ctx, p, base, offsets)
			skipUnsupported(t, err)
			if err != nil {
				t.Fatalf("ReadValue: %v", err)
			}
			if got != 0xfeedface {
				t.Errorf("ReadValue = 0x%x, want 0xfeedface", got)
			}

			if err := process.WriteValue(ctx, p, base, offsets, 0x0123456789abcdef); err != nil {
				t.Fatalf("WriteValue: %v", err)
			}
			if leaf[2] != 0x0123456789abcdef {
				t.Errorf("leaf[2] = 0x%x after write", leaf[2])
			}

			runtime.KeepAlive(root)
			runtime.KeepAlive(leaf)
		})
	}
}

func TestReadTextSelf(t *testing.T) {
	p := openSelf(t, Options{})

	buf := []byte("memchain\x00trailing")
	got, err := process.ReadText(context.Background(), p, process.ProcessMemoryAddress(uintptr(unsafe.Pointer(&buf[0]))), nil, 64)
	skipUnsupported(t, err)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if got != "memchain" {
		t.Errorf("ReadText = %q, want memchain", got)
	}
	runtime.KeepAlive(buf)
}

func TestReadUnmappedSelf(t *testing.T) {
	p := openSelf(t, Options{})

	_, err := p.ReadMemory(0x10, 8)
	skipUnsupported(t, err)
	if err == nil {
		t.Fatal("read of page zero succeeded")
	}
}

func TestReadTooLargeSelf(t *testing.T) {
	for _, transport := range []Transport{TransportVM, TransportProcMem} {
		p := openSelf(t, Options{Transport: transport})

		var cell uint64
		addr := process.ProcessMemoryAddress(uintptr(unsafe.Pointer(&cell)))
		if _, err := p.ReadMemory(addr, ^process.ProcessMemorySize(0)); !errors.Is(err, process.ErrReadTooLarge) {
			t.Errorf("%v: err = %v, want ErrReadTooLarge", transport, err)
		}
	}
}

func TestReadOnlyHandle(t *testing.T) {
	p := openSelf(t, Options{ReadOnly: true})

	var cell uint64 = 5
	err := p.WriteMemory(process.ProcessMemoryAddress(uintptr(unsafe.Pointer(&cell))), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err == nil {
		t.Fatal("write through a read-only handle succeeded")
	}
	if cell != 5 {
		t.Errorf("cell = %d after rejected write", cell)
	}
}

func TestClosedHandle(t *testing.T) {
	p := openSelf(t, Options{})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if _, err := p.ReadMemory(0x1000, 8); !errors.Is(err, process.ErrProcessNotOpen) {
		t.Errorf("ReadMemory err = %v", err)
	}
	if _, err := p.Regions(context.Background()); !errors.Is(err, process.ErrAttachDenied) {
		t.Errorf("Regions err = %v", err)
	}
	if p.GetPID() != 0 {
		t.Errorf("GetPID = %d after Close", p.GetPID())
	}
}

func TestOpenInvalidPID(t *testing.T) {
	for _, pid := range []process.ProcessID{0, -1, 1 << 30} {
		_, err := Open(pid, Options{})
		if !errors.Is(err, process.ErrAttachDenied) {
			t.Errorf("Open(%d) err = %v, want ErrAttachDenied", pid, err)
		}
	}
}

func TestParseTransport(t *testing.T) {
	tests := []struct {
		in      string
		want    Transport
		wantErr bool
	}{
		{"", TransportVM, false},
		{"vm", TransportVM, false},
		{"ProcMem", TransportProcMem, false},
		{"mem", TransportProcMem, false},
		{"ptrace", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTransport(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTransport(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseTransport(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFinder(t *testing.T) {
	root := t.TempDir()
	mkproc := func(pid, comm, exe string) {
		dir := filepath.Join(root, pid)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "comm"), []byte(comm+"\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if exe != "" {
			if err := os.Symlink(exe, filepath.Join(dir, "exe")); err != nil {
				t.Fatal(err)
			}
		}
	}
	mkproc("100", "game", "")
	mkproc("99", "game", "/opt/game/game")
	mkproc("7", "wine-preloader", "/usr/bin/game")
	mkproc("12", "other", "/usr/bin/other")
	if err := os.MkdirAll(filepath.Join(root, "self"), 0755); err != nil {
		t.Fatal(err)
	}

	f := &Finder{Root: root, IncludeSelf: true}
	got, err := f.FindProcessByName("game")
	if err != nil {
		t.Fatalf("FindProcessByName: %v", err)
	}

	want := []process.ProcessID{7, 99, 100}
	if len(got) != len(want) {
		t.Fatalf("got %d matches, want %d", len(got), len(want))
	}
	for i, pid := range want {
		if got[i].PID != pid {
			t.Errorf("match %d = %d, want %d", i, got[i].PID, pid)
		}
	}
	if got[0].Exe != "/usr/bin/game" {
		t.Errorf("Exe = %q", got[0].Exe)
	}

	none, err := f.FindProcessByName("Game")
	if err != nil || len(none) != 0 {
		t.Errorf("case-insensitive match: %v, %v", none, err)
	}

	c := process.NewCoordinator(f, NewAttacher(Options{}))
	pid, err := c.FindPID("game")
	if err != nil || pid != 100 {
		t.Errorf("FindPID = %d, %v, want 100", pid, err)
	}
}

func TestFinderSelf(t *testing.T) {
	comm, err := os.ReadFile("/proc/self/comm")
	if err != nil {
		t.Skip(err)
	}
	name := string(bytesTrimNL(comm))

	f := &Finder{IncludeSelf: true}
	got, err := f.FindProcessByName(name)
	if err != nil {
		t.Fatalf("FindProcessByName: %v", err)
	}
	found := false
	for _, info := range got {
		if int(info.PID) == os.Getpid() {
			found = true
		}
	}
	if !found {
		t.Errorf("own pid missing from %v", got)
	}

	f.IncludeSelf = false
	got, _ = f.FindProcessByName(name)
	for _, info := range got {
		if int(info.PID) == os.Getpid() {
			t.Error("own pid listed without IncludeSelf")
		}
	}
}

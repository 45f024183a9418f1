package process_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"memchain/process"
	"memchain/process_blob"
)

type fakeAttacher struct {
	targets  map[process.ProcessID]*process_blob.ProcessDump
	attached []process.ProcessID
}

func (a *fakeAttacher) Attach(pid process.ProcessID) (process.Handle, error) {
	dump, ok := a.targets[pid]
	if !ok {
		return nil, &process.AttachError{PID: pid, Err: errors.New("operation not permitted")}
	}
	a.attached = append(a.attached, pid)
	return dump, nil
}

func listing(pids ...process.ProcessID) process.ProcessFinder {
	return process.ProcessFinderFunc(func(name string) ([]process.ProcessInfo, error) {
		var out []process.ProcessInfo
		for _, pid := range pids {
			out = append(out, process.ProcessInfo{PID: pid, Name: name})
		}
		return out, nil
	})
}

func TestFindPID(t *testing.T) {
	tests := []struct {
		name    string
		pids    []process.ProcessID
		want    process.ProcessID
		wantErr error
	}{
		{"no match", nil, 0, process.ErrNotFound},
		{"single match", []process.ProcessID{10}, 10, nil},
		{"last listed wins", []process.ProcessID{30, 20}, 20, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := process.NewCoordinator(listing(tt.pids...), &fakeAttacher{})
			got, err := c.FindPID("game")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindPID: %v", err)
			}
			if got != tt.want {
				t.Errorf("FindPID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFindPIDListingError(t *testing.T) {
	failing := process.ProcessFinderFunc(func(string) ([]process.ProcessInfo, error) {
		return nil, fmt.Errorf("read /proc: permission denied")
	})
	c := process.NewCoordinator(failing, &fakeAttacher{})
	if _, err := c.FindPID("game"); err == nil || errors.Is(err, process.ErrNotFound) {
		t.Fatalf("err = %v, want listing error", err)
	}
}

func TestPrepare(t *testing.T) {
	target := newTarget(t)
	attacher := &fakeAttacher{targets: map[process.ProcessID]*process_blob.ProcessDump{7: target}}
	c := process.NewCoordinator(listing(3, 7), attacher)

	pid, base, err := c.Prepare(context.Background(), "game")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if pid != 7 || base != textAddr {
		t.Errorf("Prepare = (%d, %s), want (7, 0x%x)", pid, base.ToString(), textAddr)
	}

	// Prepare releases its handle
	if _, err := target.ReadMemory(textAddr, 8); !errors.Is(err, process.ErrProcessNotOpen) {
		t.Errorf("handle still open after Prepare: %v", err)
	}
}

func TestPrepareAttachDenied(t *testing.T) {
	c := process.NewCoordinator(listing(9), &fakeAttacher{})

	_, _, err := c.Prepare(context.Background(), "game")
	if !errors.Is(err, process.ErrAttachDenied) {
		t.Fatalf("err = %v, want ErrAttachDenied", err)
	}
	var attachErr *process.AttachError
	if !errors.As(err, &attachErr) || attachErr.PID != 9 {
		t.Errorf("AttachError = %+v", attachErr)
	}
}

func TestPrepareNoExecutableRegion(t *testing.T) {
	target := process_blob.NewProcessDump(5, "game")
	mustAdd(t, target, 0x1000, "rw-p", make([]byte, 16))
	attacher := &fakeAttacher{targets: map[process.ProcessID]*process_blob.ProcessDump{5: target}}

	_, _, err := process.NewCoordinator(listing(5), attacher).Prepare(context.Background(), "game")
	if !errors.Is(err, process.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	// The handle is released on the failure path too
	if _, err := target.ReadMemory(0x1000, 1); !errors.Is(err, process.ErrProcessNotOpen) {
		t.Errorf("handle still open after failed Prepare: %v", err)
	}
}

// closingHandle forgets its pid on Close the way a live handle does.
type closingHandle struct {
	process.Handle
	closed bool
}

func (h *closingHandle) GetPID() process.ProcessID {
	if h.closed {
		return 0
	}
	return h.Handle.GetPID()
}

func (h *closingHandle) Close() error {
	h.closed = true
	return h.Handle.Close()
}

func TestNewSessionErrorNamesPID(t *testing.T) {
	target := process_blob.NewProcessDump(5, "game")
	mustAdd(t, target, 0x1000, "rw-p", make([]byte, 16))
	h := &closingHandle{Handle: target}

	_, err := process.NewSession(context.Background(), h)
	if !errors.Is(err, process.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if !h.closed {
		t.Error("handle not closed")
	}
	if !strings.Contains(err.Error(), "process 5") {
		t.Errorf("err = %q, want pid 5 in message", err)
	}
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	target := newTarget(t)
	attacher := &fakeAttacher{targets: map[process.ProcessID]*process_blob.ProcessDump{4242: target}}
	c := process.NewCoordinator(listing(4242), attacher)

	session, err := c.Open(ctx, "game")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	if session.PID() != 4242 || session.Base() != textAddr {
		t.Fatalf("session = pid %d base %s", session.PID(), session.Base().ToString())
	}

	offsets := process.Offsets{0x10, 0x8, valueOff}
	if err := session.WriteValue(ctx, offsets, 99); err != nil {
		t.Fatalf("WriteValue: %v", err)
	}
	got, err := session.ReadValue(ctx, offsets)
	if err != nil || got != 99 {
		t.Errorf("ReadValue = %d, %v", got, err)
	}

	text, err := session.ReadText(ctx, process.Offsets{dataAddr - textAddr}, 8)
	if err != nil || text != "hi" {
		t.Errorf("ReadText = %q, %v", text, err)
	}

	cell, err := session.Resolve(ctx, process.ChainFlat, process.Offsets{0x4})
	if err != nil || cell.Address != textAddr+0x4 {
		t.Errorf("Resolve = %v, %v", cell, err)
	}

	regions, err := session.ListRegions(ctx)
	if err != nil || len(regions) != 4 {
		t.Errorf("ListRegions = %d regions, %v", len(regions), err)
	}
}

func TestHint(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&process.AttachError{PID: 1, Err: errors.New("EPERM")}, "ptrace_scope"},
		{fmt.Errorf("%w: no process named 'x'", process.ErrNotFound), "not found"},
		{&process.ChainBrokenError{Index: 2, Err: errors.New("EFAULT")}, "offset #2"},
		{&process.AccessError{Op: "read", Err: errors.New("EFAULT")}, "not readable"},
		{&process.AccessError{Op: "write", Err: errors.New("EFAULT")}, "not writable"},
		{errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		if got := process.Hint(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("Hint(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}

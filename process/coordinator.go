package process

import (
	"context"
	"fmt"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Coordinator turns a process name into an attached session.
type Coordinator struct {
	Finder   ProcessFinder
	Attacher Attacher
	log      *logger.Logger
}

// NewCoordinator creates a Coordinator backed by finder and attacher.
func NewCoordinator(finder ProcessFinder, attacher Attacher) *Coordinator {
	return &Coordinator{
		Finder:   finder,
		Attacher: attacher,
		log:      logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "coordinator")),
	}
}

// FindPID returns the last process named name in the finder's listing.
func (c *Coordinator) FindPID(name string) (ProcessID, error) {
	processes, err := c.Finder.FindProcessByName(name)
	if err != nil {
		return 0, fmt.Errorf("list processes named '%s': %w", name, err)
	}

	if len(processes) == 0 {
		return 0, fmt.Errorf("%w: no process named '%s'", ErrNotFound, name)
	}

	// The last listed match wins when several share the name
	pid := processes[len(processes)-1].PID
	if len(processes) > 1 {
		c.log.Debugln("Found", len(processes), "processes named", name, "using", pid)
	}
	return pid, nil
}

// Prepare finds name, attaches, locates its base address and releases the handle.
func (c *Coordinator) Prepare(ctx context.Context, name string) (ProcessID, ProcessMemoryAddress, error) {
	session, err := c.Open(ctx, name)
	if err != nil {
		return 0, 0, err
	}
	defer session.Close()

	return session.PID(), session.Base(), nil
}

// Open finds name and starts a session on it.
func (c *Coordinator) Open(ctx context.Context, name string) (*Session, error) {
	pid, err := c.FindPID(name)
	if err != nil {
		return nil, err
	}
	return c.OpenPID(ctx, pid)
}

// OpenPID attaches to pid and starts a session on it.
func (c *Coordinator) OpenPID(ctx context.Context, pid ProcessID) (*Session, error) {
	h, err := c.Attacher.Attach(pid)
	if err != nil {
		return nil, err
	}

	session, err := NewSession(ctx, h)
	if err != nil {
		return nil, err
	}

	c.log.Infoln("Target PID:", pid, "base", session.Base().ToString())
	return session, nil
}

// Session is one logical use of a handle with a located base address. A
// Session must not be shared between goroutines.
type Session struct {
	handle Handle
	base   ProcessMemoryAddress
}

// NewSession locates the base address of h. h is closed when this fails.
func NewSession(ctx context.Context, h Handle) (*Session, error) {
	pid := h.GetPID()
	base, err := LocateBase(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("locate base of process %d: %w", pid, err)
	}
	return &Session{handle: h, base: base}, nil
}

func (s *Session) PID() ProcessID { return s.handle.GetPID() }

func (s *Session) Base() ProcessMemoryAddress { return s.base }

func (s *Session) Handle() Handle { return s.handle }

// Resolve computes the cell addressed by offsets under mode.
func (s *Session) Resolve(ctx context.Context, mode ChainMode, offsets Offsets) (TargetCell, error) {
	return Target(ctx, s.handle, mode, s.base, offsets)
}

func (s *Session) ReadValue(ctx context.Context, offsets Offsets) (uint64, error) {
	return ReadValue(ctx, s.handle, s.base, offsets)
}

func (s *Session) WriteValue(ctx context.Context, offsets Offsets, value uint64) error {
	return WriteValue(ctx, s.handle, s.base, offsets, value)
}

func (s *Session) ReadText(ctx context.Context, offsets Offsets, maxLength ProcessMemorySize) (string, error) {
	return ReadText(ctx, s.handle, s.base, offsets, maxLength)
}

func (s *Session) ListRegions(ctx context.Context) ([]RegionInfo, error) {
	return ListRegions(ctx, s.handle)
}

// Close releases the handle.
func (s *Session) Close() error {
	return s.handle.Close()
}

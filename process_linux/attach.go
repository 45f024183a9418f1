//go:build linux

package process_linux

import (
	"memchain/process"
)

// Attacher implements process.Attacher with LinuxProcess handles.
type Attacher struct {
	Options Options
}

// NewAttacher creates an Attacher that opens processes with opts.
func NewAttacher(opts Options) *Attacher {
	return &Attacher{Options: opts}
}

func (a *Attacher) Attach(pid process.ProcessID) (process.Handle, error) {
	p, err := Open(pid, a.Options)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewCoordinator wires the /proc finder and attacher together.
func NewCoordinator(opts Options) *process.Coordinator {
	return process.NewCoordinator(NewFinder(), NewAttacher(opts))
}

//go:build linux

package cmds

import (
	"memchain/config"
	"memchain/process"
	"memchain/process_linux"
)

func newCoordinator(conf *config.Config, readOnly bool) (*process.Coordinator, error) {
	transport, err := process_linux.ParseTransport(conf.Transport)
	if err != nil {
		return nil, err
	}
	return process_linux.NewCoordinator(process_linux.Options{
		Transport: transport,
		ReadOnly:  readOnly,
		Scan:      conf.ScanOptions(),
	}), nil
}

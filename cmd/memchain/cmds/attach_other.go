//go:build !linux

package cmds

import (
	"errors"

	"memchain/config"
	"memchain/process"
)

func newCoordinator(conf *config.Config, readOnly bool) (*process.Coordinator, error) {
	return nil, errors.New("live processes are only supported on linux, use --dump")
}

//go:build windows

package bridge

import (
	"errors"
	"os/exec"

	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
)

type ptyRelay struct{}

func newPTYRelay(*exec.Cmd, *logging.Logger) (*ptyRelay, error) {
	return nil, errors.New("pty stdio is not supported on windows")
}

func (r *ptyRelay) start() {}
func (r *ptyRelay) stop()  {}
func (r *ptyRelay) abort() {}

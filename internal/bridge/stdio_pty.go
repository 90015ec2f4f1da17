//go:build !windows

package bridge

import (
	"bufio"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
)

// ptyDrainTimeout bounds how long exit waits for trailing output.
const ptyDrainTimeout = 200 * time.Millisecond

// ptyRelay gives the worker a terminal for stdout and stderr and copies
// each line it prints into the log.
type ptyRelay struct {
	ptmx   *os.File
	tty    *os.File
	logger *logging.Logger
	done   chan struct{}
}

func newPTYRelay(cmd *exec.Cmd, logger *logging.Logger) (*ptyRelay, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = tty
	cmd.Stderr = tty
	return &ptyRelay{
		ptmx:   ptmx,
		tty:    tty,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// start releases the host's copy of the terminal and begins relaying.
func (r *ptyRelay) start() {
	r.tty.Close()
	go r.relay()
}

func (r *ptyRelay) relay() {
	defer close(r.done)
	scanner := bufio.NewScanner(r.ptmx)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		r.logger.Info("worker output", zap.String("line", line))
	}
}

// stop waits briefly for trailing output, then closes the terminal.
func (r *ptyRelay) stop() {
	select {
	case <-r.done:
	case <-time.After(ptyDrainTimeout):
	}
	r.ptmx.Close()
}

// abort releases both ends when the worker never started.
func (r *ptyRelay) abort() {
	r.tty.Close()
	r.ptmx.Close()
}

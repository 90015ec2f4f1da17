package bridge

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/xsbridge/internal/shared/id"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
)

// Worker is a running worker process and the host ends of its channels.
type Worker struct {
	ID        id.WorkerID
	Path      string
	StartedAt time.Time

	cmd      *exec.Cmd
	channels []*Channel
	relay    *ptyRelay
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	done    chan struct{}
	status  types.ExitStatus
	waitErr error
}

// Channel returns the host end of the channel bound to role.
func (w *Worker) Channel(role Role) *Channel {
	if !role.valid() {
		return nil
	}
	return w.channels[role]
}

// Pid returns the worker's process id.
func (w *Worker) Pid() int {
	return w.cmd.Process.Pid
}

// Done is closed once the worker has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Alive reports whether the worker is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// ExitStatus returns the exit status once the worker has exited.
func (w *Worker) ExitStatus() (types.ExitStatus, bool) {
	select {
	case <-w.done:
		return w.status, true
	default:
		return types.ExitStatus{}, false
	}
}

// Wait blocks until the worker exits or ctx is done. A non-nil error with
// a valid status means the process could not be waited on cleanly.
func (w *Worker) Wait(ctx context.Context) (types.ExitStatus, error) {
	select {
	case <-w.done:
		return w.status, w.waitErr
	case <-ctx.Done():
		return types.ExitStatus{}, ctx.Err()
	}
}

// Kill terminates the worker.
func (w *Worker) Kill() error {
	err := w.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// monitor waits for the process, then closes the outbound channels.
// Inbound channels stay open so buffered worker output can be drained.
func (w *Worker) monitor() {
	err := w.cmd.Wait()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		w.waitErr = err
	}
	w.status = exitStatus(w.cmd.ProcessState)

	if w.relay != nil {
		w.relay.stop()
	}
	for _, ch := range w.channels {
		if ch.role.Direction() == ToWorker {
			ch.close()
		}
	}

	w.metrics.RecordWorkerExit(w.status.Code, w.status.Signal)

	fields := []zap.Field{
		zap.Stringer("exit", w.status),
		zap.Int("code", w.status.Code),
		zap.String("signal", w.status.Signal),
		zap.Duration("uptime", time.Since(w.StartedAt)),
	}
	if w.status.Success() {
		w.logger.Info("worker exited", fields...)
	} else {
		w.logger.Warn("worker exited", fields...)
	}

	close(w.done)
}

func exitStatus(state *os.ProcessState) types.ExitStatus {
	if state == nil {
		return types.ExitStatus{Code: -1}
	}
	status := types.ExitStatus{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = ws.Signal().String()
	}
	return status
}

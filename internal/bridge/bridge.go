package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/xsbridge/internal/shared/id"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
)

// StdioMode selects what happens to the worker's stdout and stderr.
type StdioMode string

const (
	// StdioInherit shares the host's standard streams.
	StdioInherit StdioMode = "inherit"
	// StdioPTY relays worker output line by line into the log.
	StdioPTY StdioMode = "pty"
	// StdioDiscard sends worker output to the null device.
	StdioDiscard StdioMode = "discard"
)

// Options configures how workers are launched.
type Options struct {
	Stdio StdioMode
	// Env is appended to the host environment.
	Env []string
	Dir string
}

// Bridge launches a worker and owns its channels. At most one worker is
// live per bridge.
type Bridge struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics
	opts    Options

	mu     sync.Mutex
	worker *Worker
	closed bool
}

// New creates a bridge. A nil logger or metrics disables that concern.
func New(logger *logging.Logger, metrics *monitoring.Metrics, opts Options) *Bridge {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Stdio == "" {
		opts.Stdio = StdioInherit
	}
	return &Bridge{
		logger:  logger.Named("bridge"),
		metrics: metrics,
		opts:    opts,
	}
}

// Spawn starts the worker at path with the four role channels bound to
// descriptors 3 through 6. Standard input is the null device.
func (b *Bridge) Spawn(path string, args ...string) (*Worker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBridgeClosed
	}
	if b.worker != nil && b.worker.Alive() {
		return nil, ErrWorkerRunning
	}

	cmd := exec.Command(path, args...)
	if cmd.Err != nil {
		return nil, &SpawnError{Path: path, Err: cmd.Err}
	}
	cmd.Dir = b.opts.Dir
	cmd.Env = append(os.Environ(), b.opts.Env...)

	channels, childEnds, err := b.openChannels()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	cmd.ExtraFiles = childEnds

	workerID := id.NewWorkerID()
	log := b.logger.With(zap.String("worker_id", workerID.String()))

	var relay *ptyRelay
	switch b.opts.Stdio {
	case StdioInherit:
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	case StdioDiscard:
	case StdioPTY:
		relay, err = newPTYRelay(cmd, log)
		if err != nil {
			closeFiles(childEnds)
			closeChannels(channels)
			return nil, &SpawnError{Path: path, Err: fmt.Errorf("open pty: %w", err)}
		}
	default:
		closeFiles(childEnds)
		closeChannels(channels)
		return nil, &SpawnError{Path: path, Err: fmt.Errorf("unknown stdio mode %q", b.opts.Stdio)}
	}

	if err := cmd.Start(); err != nil {
		closeFiles(childEnds)
		closeChannels(channels)
		if relay != nil {
			relay.abort()
		}
		return nil, &SpawnError{Path: path, Err: err}
	}

	// the worker holds its own copies now
	closeFiles(childEnds)
	if relay != nil {
		relay.start()
	}

	worker := &Worker{
		ID:        workerID,
		Path:      path,
		StartedAt: time.Now(),
		cmd:       cmd,
		channels:  channels,
		relay:     relay,
		logger:    log,
		metrics:   b.metrics,
		done:      make(chan struct{}),
	}
	b.worker = worker
	b.metrics.IncWorkersActive()

	log.Info("worker started",
		zap.String("path", path),
		zap.Strings("args", args),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("stdio", string(b.opts.Stdio)))

	go worker.monitor()

	return worker, nil
}

// Worker returns the most recently spawned worker, or nil.
func (b *Bridge) Worker() *Worker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.worker
}

// Shutdown closes the outbound channels so the worker sees the end of its
// input, then waits for it to exit. If ctx ends first the worker is
// killed. Inbound channels stay readable until drained.
func (b *Bridge) Shutdown(ctx context.Context) (types.ExitStatus, error) {
	b.mu.Lock()
	worker := b.worker
	b.mu.Unlock()

	if worker == nil {
		return types.ExitStatus{}, nil
	}

	for _, ch := range worker.channels {
		if ch.role.Direction() == ToWorker {
			ch.close()
		}
	}

	select {
	case <-worker.Done():
	case <-ctx.Done():
		worker.logger.Warn("worker did not exit after end of input, killing it")
		if err := worker.Kill(); err != nil {
			return types.ExitStatus{}, fmt.Errorf("kill worker: %w", err)
		}
		<-worker.Done()
	}
	return worker.status, worker.waitErr
}

// Close kills a live worker, waits for it to exit and closes every channel.
// In-flight reads and writes fail with ChannelClosedError.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	worker := b.worker
	b.mu.Unlock()

	if worker == nil {
		return nil
	}

	var errs []error
	if worker.Alive() {
		if err := worker.Kill(); err != nil {
			errs = append(errs, err)
		}
	}
	<-worker.Done()

	for _, ch := range worker.channels {
		if err := ch.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ch.role, err))
		}
	}
	return errors.Join(errs...)
}

// openChannels creates one pipe per role. The returned child ends are in
// descriptor order, ready for ExtraFiles.
func (b *Bridge) openChannels() ([]*Channel, []*os.File, error) {
	roles := Roles()
	channels := make([]*Channel, 0, len(roles))
	childEnds := make([]*os.File, 0, len(roles))

	for _, role := range roles {
		r, w, err := os.Pipe()
		if err != nil {
			closeFiles(childEnds)
			closeChannels(channels)
			return nil, nil, fmt.Errorf("pipe for %s: %w", role, err)
		}
		if role.Direction() == ToWorker {
			channels = append(channels, newChannel(role, w, b.metrics))
			childEnds = append(childEnds, r)
		} else {
			channels = append(channels, newChannel(role, r, b.metrics))
			childEnds = append(childEnds, w)
		}
	}
	return channels, childEnds, nil
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

func closeChannels(channels []*Channel) {
	for _, ch := range channels {
		ch.close()
	}
}

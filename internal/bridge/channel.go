package bridge

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/netstring"
)

// Channel is the host end of one worker pipe. Outbound channels accept
// writes, inbound channels accept reads. Only the bridge closes a channel.
type Channel struct {
	role    Role
	file    *os.File
	metrics *monitoring.Metrics

	writeMu sync.Mutex
	closed  atomic.Bool
}

func newChannel(role Role, file *os.File, metrics *monitoring.Metrics) *Channel {
	return &Channel{role: role, file: file, metrics: metrics}
}

// Role returns the channel's role.
func (c *Channel) Role() Role {
	return c.role
}

// Closed reports whether the channel has been closed.
func (c *Channel) Closed() bool {
	return c.closed.Load()
}

// Read reads worker output. It fails with ChannelClosedError once the
// worker's end is closed and everything it wrote has been consumed.
func (c *Channel) Read(p []byte) (int, error) {
	if c.role.Direction() != FromWorker {
		return 0, ErrWrongDirection
	}
	n, err := c.file.Read(p)
	if n > 0 {
		c.metrics.RecordBytesRead(c.role.String(), n)
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			c.closed.Store(true)
			return n, &ChannelClosedError{Role: c.role, Err: err}
		}
		return n, err
	}
	return n, nil
}

// Write sends raw bytes to the worker. Concurrent writers are serialized.
func (c *Channel) Write(p []byte) (int, error) {
	if c.role.Direction() != ToWorker {
		return 0, ErrWrongDirection
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return 0, &ChannelClosedError{Role: c.role, Err: os.ErrClosed}
	}
	n, err := c.file.Write(p)
	if err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
			return n, &ChannelClosedError{Role: c.role, Err: err}
		}
		return n, err
	}
	return n, nil
}

// WriteFrame encodes payload as one frame and writes it in a single call.
func (c *Channel) WriteFrame(payload []byte) error {
	frame := netstring.Encode(payload)
	if _, err := c.Write(frame); err != nil {
		return err
	}
	c.metrics.RecordFrameEncoded(c.role.String(), len(frame))
	return nil
}

// close marks the channel closed and releases the host end, unblocking any
// in-flight read or write. Safe to call more than once.
func (c *Channel) close() error {
	c.closed.Store(true)
	if err := c.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

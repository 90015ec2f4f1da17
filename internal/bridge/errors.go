package bridge

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSpawn               = errors.New("bridge: spawn failed")
	ErrUnsupportedPlatform = errors.New("bridge: unsupported platform")
	ErrChannelClosed       = errors.New("bridge: channel closed")
	ErrWorkerRunning       = errors.New("bridge: a worker is already running")
	ErrBridgeClosed        = errors.New("bridge: closed")
	ErrWrongDirection      = errors.New("bridge: wrong channel direction")
)

// SpawnError reports a worker that could not be located or started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// UnsupportedPlatformError reports a platform missing from the table.
type UnsupportedPlatformError struct {
	Platform string
	Known    []string
}

func (e *UnsupportedPlatformError) Error() string {
	known := append([]string(nil), e.Known...)
	sort.Strings(known)
	return fmt.Sprintf("unsupported platform %q (known: %s)", e.Platform, strings.Join(known, ", "))
}

func (e *UnsupportedPlatformError) Is(target error) bool { return target == ErrUnsupportedPlatform }

// ChannelClosedError is returned by any operation on a closed channel.
// Err is the underlying cause, io.EOF when the worker closed its end.
type ChannelClosedError struct {
	Role Role
	Err  error
}

func (e *ChannelClosedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("channel %s closed", e.Role)
	}
	return fmt.Sprintf("channel %s closed: %v", e.Role, e.Err)
}

func (e *ChannelClosedError) Unwrap() error { return e.Err }

func (e *ChannelClosedError) Is(target error) bool { return target == ErrChannelClosed }

package sandbox

import (
	"io"
	"os"
	"time"
)

// Config holds runtime limits
type Config struct {
	Timeout          time.Duration // Per-evaluation timeout
	MaxCallStackSize int           // Maximum call depth
	Output           io.Writer     // Target of print and console
}

// DefaultConfig returns the limits used by the worker binary
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		MaxCallStackSize: 1024,
		Output:           os.Stdout,
	}
}

// Stats counts work done by the runtime since it was created
type Stats struct {
	Evaluations uint64
	HostCalls   uint64
	GCCount     uint64
}

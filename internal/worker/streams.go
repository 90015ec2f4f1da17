package worker

import (
	"errors"
	"fmt"
	"os"
)

// Streams holds the worker's ends of the four bridge channels.
type Streams struct {
	Commands   *os.File // fd 3
	Replies    *os.File // fd 4
	HostEvents *os.File // fd 5
	Events     *os.File // fd 6
}

// OpenStreams wraps the inherited descriptors 3 to 6. It fails if any of
// them is not open.
func OpenStreams() (*Streams, error) {
	names := [...]string{"commands", "replies", "host-events", "events"}
	files := make([]*os.File, len(names))
	for i, name := range names {
		fd := uintptr(3 + i)
		f := os.NewFile(fd, name)
		if f == nil {
			return nil, fmt.Errorf("fd %d (%s): invalid descriptor", fd, name)
		}
		if _, err := f.Stat(); err != nil {
			return nil, fmt.Errorf("fd %d (%s) is not open: %w", fd, name, err)
		}
		files[i] = f
	}
	return &Streams{
		Commands:   files[0],
		Replies:    files[1],
		HostEvents: files[2],
		Events:     files[3],
	}, nil
}

// Close closes all four descriptors
func (s *Streams) Close() error {
	return errors.Join(
		s.Commands.Close(),
		s.Replies.Close(),
		s.HostEvents.Close(),
		s.Events.Close(),
	)
}

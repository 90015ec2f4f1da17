package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/netstring"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
)

// Tag identifies the kind of a debug event.
type Tag string

const (
	TagInstruments Tag = "instruments"
	TagProfile     Tag = "profile"
)

// channelLabel names the decoded stream in metrics.
const channelLabel = "event-in"

// ErrMalformedEvent is returned for a payload without a leading tag.
var ErrMalformedEvent = errors.New("events: malformed event")

// Event is one decoded debug message.
type Event struct {
	Tag  Tag
	Body []byte
	// Seq numbers frames in arrival order, starting at 1.
	Seq uint64
}

// Handler processes one event.
type Handler func(Event) error

// HandlerError wraps a failure raised while handling an event.
type HandlerError struct {
	Tag Tag
	Seq uint64
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle %s event #%d: %v", e.Tag, e.Seq, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Router dispatches events by tag.
type Router struct {
	logger       *logging.Logger
	metrics      *monitoring.Metrics
	maxFrameSize int

	mu       sync.RWMutex
	handlers map[Tag][]Handler
	onError  func(error)

	seq atomic.Uint64
}

// NewRouter creates a router. A nil logger or metrics disables that concern.
func NewRouter(logger *logging.Logger, metrics *monitoring.Metrics, maxFrameSize int) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	if maxFrameSize <= 0 {
		maxFrameSize = netstring.DefaultMaxFrameSize
	}
	r := &Router{
		logger:       logger.Named("events"),
		metrics:      metrics,
		maxFrameSize: maxFrameSize,
		handlers:     make(map[Tag][]Handler),
	}
	r.onError = r.logError
	return r
}

// On appends a handler for tag.
func (r *Router) On(tag Tag, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tag] = append(r.handlers[tag], h)
}

// OnInstruments registers a handler for instruments events.
func (r *Router) OnInstruments(fn func(types.Instruments) error) {
	r.On(TagInstruments, func(ev Event) error {
		var in types.Instruments
		if err := sonic.Unmarshal(ev.Body, &in); err != nil {
			return fmt.Errorf("parse instruments: %w", err)
		}
		return fn(in)
	})
}

// OnProfile registers a handler for profile events.
func (r *Router) OnProfile(fn func(*types.Profile) error) {
	r.On(TagProfile, func(ev Event) error {
		var p types.Profile
		if err := sonic.Unmarshal(ev.Body, &p); err != nil {
			return fmt.Errorf("parse profile: %w", err)
		}
		return fn(&p)
	})
}

// OnError replaces the callback that receives dispatch errors during Run.
// The default logs them.
func (r *Router) OnError(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		fn = r.logError
	}
	r.onError = fn
}

// ParseEvent splits a payload into its tag and body. Whitespace between
// the two is dropped.
func ParseEvent(payload []byte) (Event, error) {
	n := 0
	for n < len(payload) && isTagByte(payload[n]) {
		n++
	}
	if n == 0 {
		return Event{}, fmt.Errorf("%w: payload does not start with a tag", ErrMalformedEvent)
	}
	body := payload[n:]
	for len(body) > 0 && isSpace(body[0]) {
		body = body[1:]
	}
	return Event{Tag: Tag(payload[:n]), Body: body}, nil
}

// Dispatch parses payload and runs the handlers registered for its tag.
// Every handler runs even if an earlier one fails; the failures are joined.
func (r *Router) Dispatch(payload []byte) error {
	seq := r.seq.Add(1)

	ev, err := ParseEvent(payload)
	if err != nil {
		return fmt.Errorf("event #%d: %w", seq, err)
	}
	ev.Seq = seq

	r.mu.RLock()
	handlers := r.handlers[ev.Tag]
	r.mu.RUnlock()

	r.metrics.RecordEvent(string(ev.Tag), len(handlers) > 0)
	if len(handlers) == 0 {
		r.logger.Debug("ignoring event", zap.String("tag", string(ev.Tag)), zap.Uint64("seq", seq))
		return nil
	}

	var errs []error
	for _, h := range handlers {
		if err := h(ev); err != nil {
			errs = append(errs, &HandlerError{Tag: ev.Tag, Seq: seq, Err: err})
		}
	}
	return errors.Join(errs...)
}

type frameResult struct {
	payload []byte
	err     error
}

// Run decodes frames from src and dispatches them until the stream ends.
// A clean end of stream returns nil. Framing errors end the run and are
// returned; dispatch errors go to the error callback and do not. When ctx
// is cancelled Run returns ctx.Err() and the pending read is abandoned
// until src is closed.
func (r *Router) Run(ctx context.Context, src io.Reader) error {
	reader := netstring.NewReader(src, r.maxFrameSize)

	frames := make(chan frameResult)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			payload, err := reader.ReadFrame()
			select {
			case frames <- frameResult{payload: payload, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-frames:
			if res.err != nil {
				return r.endOfStream(res.err)
			}
			r.metrics.RecordFrameDecoded(channelLabel)
			if err := r.Dispatch(res.payload); err != nil {
				r.mu.RLock()
				report := r.onError
				r.mu.RUnlock()
				report(err)
			}
		}
	}
}

func (r *Router) endOfStream(err error) error {
	if errors.Is(err, io.EOF) {
		r.logger.Debug("event stream ended")
		return nil
	}
	var framingErr *netstring.FramingError
	if errors.As(err, &framingErr) {
		r.metrics.RecordFramingError(channelLabel, framingErr.Kind.String())
		r.logger.Error("malformed event frame", zap.Error(err))
	}
	return err
}

func (r *Router) logError(err error) {
	r.logger.Warn("event dispatch failed", zap.Error(err))
}

func isTagByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

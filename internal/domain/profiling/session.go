package profiling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/xsbridge/internal/events"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/command"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/netstring"
	"github.com/GriffinCanCode/xsbridge/internal/shared/id"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
)

// FrameWriter sends one framed payload to the worker.
type FrameWriter interface {
	WriteFrame(payload []byte) error
}

// Session tracks one capture. All methods are safe for concurrent use.
type Session struct {
	ID id.SessionID

	commands FrameWriter
	settings Settings
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	mu          sync.Mutex
	state       State
	starting    bool
	outcome     Outcome
	startedAt   time.Time
	stoppedAt   time.Time
	instruments types.Instruments
	profile     *types.Profile
	meter       *command.Meter
	failure     error

	stopped  chan struct{}
	complete chan struct{}
}

// New creates an idle session that writes its commands to commands.
func New(commands FrameWriter, logger *logging.Logger, metrics *monitoring.Metrics, settings Settings) *Session {
	if logger == nil {
		logger = logging.NewNop()
	}
	if settings.CompletionTimeout <= 0 {
		settings.CompletionTimeout = DefaultCompletionTimeout
	}
	if settings.MaxFrameSize <= 0 {
		settings.MaxFrameSize = netstring.DefaultMaxFrameSize
	}
	sessionID := id.NewSessionID()
	return &Session{
		ID:       sessionID,
		commands: commands,
		settings: settings,
		logger:   logger.Named("profiling").With(zap.String("session_id", sessionID.String())),
		metrics:  metrics,
		state:    StateIdle,
		stopped:  make(chan struct{}),
		complete: make(chan struct{}),
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the completion status
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Stopped is closed when the session enters Stopped.
func (s *Session) Stopped() <-chan struct{} {
	return s.stopped
}

// Start begins the capture. It fails unless the session is Idle; if the
// start command cannot be written the session stays Idle. The write happens
// outside the lock so a blocked pipe never stalls State or Status.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle || s.starting {
		from := s.state
		s.mu.Unlock()
		return &TransitionError{Op: "start", From: from}
	}
	s.starting = true
	s.mu.Unlock()

	err := s.commands.WriteFrame(command.StartProfiling())

	s.mu.Lock()
	s.starting = false
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("send start command: %w", err)
	}
	s.state = StateRecording
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("profiling started", zap.String("policy", s.settings.Policy.String()))
	s.notify(StateIdle, StateRecording)
	return nil
}

// Stop ends the capture from the host side. Stopping a stopped session is
// a no-op; stopping an idle one is an error.
func (s *Session) Stop() error {
	return s.stop("host")
}

// Acknowledge is the worker's completion signal. While Recording it stops
// the capture; in any other state it is ignored.
func (s *Session) Acknowledge() error {
	if s.State() != StateRecording {
		return nil
	}
	return s.stop("acknowledgment")
}

func (s *Session) stop(trigger string) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return &TransitionError{Op: "stop", From: StateIdle}
	case StateStopped:
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	s.stoppedAt = time.Now()
	close(s.stopped)
	s.mu.Unlock()

	s.logger.Info("profiling stopped",
		zap.String("trigger", trigger),
		zap.Duration("recorded", s.stoppedAt.Sub(s.startedAt)))
	s.notify(StateRecording, StateStopped)

	if err := s.commands.WriteFrame(command.StopProfiling()); err != nil {
		s.logger.Error("failed to send stop command", zap.Error(err))
		return fmt.Errorf("send stop command: %w", err)
	}
	return nil
}

func (s *Session) notify(from, to State) {
	if s.settings.OnStateChange != nil {
		s.settings.OnStateChange(s.ID, from, to)
	}
}

// WatchAcknowledgments reads the reply channel until it closes and turns
// acknowledgments into a stop, according to the session's policy. The
// channel is drained for the whole run so the worker never blocks on it.
// A closed channel ends the watch without error.
func (s *Session) WatchAcknowledgments(ctx context.Context, replies io.Reader) error {
	var err error
	if s.settings.Policy == AckReply {
		err = s.watchReplies(ctx, replies)
	} else {
		err = s.watchAnyData(ctx, replies)
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type chunk struct {
	data []byte
	err  error
}

// readChunks moves blocking reads off the caller's goroutine so ctx can
// interrupt the watch.
func readChunks(replies io.Reader, stop <-chan struct{}) <-chan chunk {
	out := make(chan chunk)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := replies.Read(buf)
			c := chunk{err: err}
			if n > 0 {
				c.data = append([]byte(nil), buf[:n]...)
			}
			select {
			case out <- c:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func (s *Session) watchAnyData(ctx context.Context, replies io.Reader) error {
	stop := make(chan struct{})
	defer close(stop)
	chunks := readChunks(replies, stop)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-chunks:
			if len(c.data) > 0 {
				s.logger.Debug("acknowledgment data", zap.Int("bytes", len(c.data)))
				if err := s.Acknowledge(); err != nil {
					return err
				}
			}
			if c.err != nil {
				return c.err
			}
		}
	}
}

func (s *Session) watchReplies(ctx context.Context, replies io.Reader) error {
	stop := make(chan struct{})
	defer close(stop)
	chunks := readChunks(replies, stop)
	decoder := netstring.NewDecoder(s.settings.MaxFrameSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-chunks:
			if len(c.data) > 0 {
				frames, ferr := decoder.Feed(c.data)
				for _, frame := range frames {
					if err := s.handleReply(frame); err != nil {
						return err
					}
				}
				if ferr != nil {
					return ferr
				}
			}
			if c.err != nil {
				if errors.Is(c.err, io.EOF) && decoder.Buffered() > 0 {
					return io.ErrUnexpectedEOF
				}
				return c.err
			}
		}
	}
}

func (s *Session) handleReply(frame []byte) error {
	reply, err := command.ParseReply(frame)
	if err != nil {
		s.logger.Warn("unreadable reply", zap.Error(err))
		return nil
	}
	switch reply.Kind {
	case command.ReplyOK:
		s.mu.Lock()
		if s.meter == nil {
			s.meter = reply.Meter
		}
		s.mu.Unlock()
		return s.Acknowledge()
	case command.ReplyError:
		s.logger.Warn("worker reported an error", zap.String("message", reply.Message))
		return &ScriptError{Message: reply.Message}
	default:
		s.logger.Debug("ignoring reply", zap.String("kind", reply.Kind.String()))
		return nil
	}
}

// Attach registers the session's result handlers on router.
func (s *Session) Attach(router *events.Router) {
	router.OnInstruments(s.RecordInstruments)
	router.OnProfile(s.RecordProfile)
}

// RecordInstruments stores the instruments snapshot. Only the first one
// is kept.
func (s *Session) RecordInstruments(in types.Instruments) error {
	return s.record(events.TagInstruments, func() bool {
		if s.instruments != nil {
			return false
		}
		if in == nil {
			in = types.Instruments{}
		}
		s.instruments = in
		return true
	})
}

// RecordProfile stores the profile. Only the first one is kept.
func (s *Session) RecordProfile(p *types.Profile) error {
	return s.record(events.TagProfile, func() bool {
		if s.profile != nil {
			return false
		}
		if p == nil {
			p = &types.Profile{}
		}
		s.profile = p
		return true
	})
}

func (s *Session) record(tag events.Tag, store func() bool) error {
	s.mu.Lock()
	if s.outcome == OutcomeIncomplete {
		s.mu.Unlock()
		s.logger.Warn("dropping late result", zap.String("tag", string(tag)))
		return fmt.Errorf("%s: %w", tag, ErrLateResult)
	}
	if !store() {
		s.mu.Unlock()
		s.logger.Warn("ignoring duplicate result", zap.String("tag", string(tag)))
		return fmt.Errorf("%s: %w", tag, ErrDuplicateResult)
	}
	if s.state != StateStopped {
		s.logger.Debug("result arrived before stop", zap.String("tag", string(tag)))
	}
	finished := s.instruments != nil && s.profile != nil && s.outcome == OutcomePending
	if finished {
		s.outcome = OutcomeComplete
		close(s.complete)
	}
	startedAt := s.startedAt
	s.mu.Unlock()

	s.logger.Debug("result received", zap.String("tag", string(tag)))
	if finished {
		s.metrics.RecordSession(OutcomeComplete.String(), time.Since(startedAt))
		s.logger.Info("profiling session complete")
	}
	return nil
}

// Wait blocks until both results have arrived and returns them. If they
// have not arrived by the completion timeout, measured from the stop, the
// session is marked incomplete and Wait returns the partial result with a
// SessionIncompleteError.
func (s *Session) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-s.complete:
		return s.Result(), nil
	case <-ctx.Done():
		return s.cancelled(ctx)
	case <-s.stopped:
	}

	s.mu.Lock()
	deadline := s.stoppedAt.Add(s.settings.CompletionTimeout)
	s.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-s.complete:
		return s.Result(), nil
	case <-ctx.Done():
		return s.cancelled(ctx)
	case <-timer.C:
		return s.Expire()
	}
}

// cancelled prefers a completed result over a cancellation that raced it.
func (s *Session) cancelled(ctx context.Context) (*Result, error) {
	select {
	case <-s.complete:
		return s.Result(), nil
	default:
		return nil, ctx.Err()
	}
}

// Expire marks the session incomplete now unless both results have
// arrived. It is used when no more events can arrive, such as after the
// event stream has ended.
func (s *Session) Expire() (*Result, error) {
	s.mu.Lock()
	if s.outcome == OutcomeComplete {
		s.mu.Unlock()
		return s.Result(), nil
	}
	var missing []events.Tag
	if s.instruments == nil {
		missing = append(missing, events.TagInstruments)
	}
	if s.profile == nil {
		missing = append(missing, events.TagProfile)
	}
	err := &SessionIncompleteError{ID: s.ID, Missing: missing, Timeout: s.settings.CompletionTimeout}
	first := s.outcome == OutcomePending
	if first {
		s.outcome = OutcomeIncomplete
		s.failure = err
	}
	startedAt := s.startedAt
	s.mu.Unlock()

	if first {
		s.metrics.RecordSession(OutcomeIncomplete.String(), time.Since(startedAt))
		s.logger.Warn("profiling session incomplete", zap.Error(err))
	}
	return s.Result(), err
}

// Result returns what the session has collected so far.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Result{
		ID:          s.ID,
		Instruments: s.instruments,
		Profile:     s.profile,
		Meter:       s.meter,
		StartedAt:   s.startedAt,
		StoppedAt:   s.stoppedAt,
	}
}

// Status returns a snapshot for status reporting.
func (s *Session) Status() types.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := types.Status{
		SessionID:   s.ID.String(),
		State:       s.state.String(),
		Outcome:     s.outcome.String(),
		Instruments: s.instruments,
	}
	if !s.startedAt.IsZero() {
		started := s.startedAt
		status.StartedAt = &started
	}
	if s.profile != nil {
		status.HitCount = len(s.profile.Hits)
	}
	if s.failure != nil {
		status.Error = s.failure.Error()
	}
	return status
}

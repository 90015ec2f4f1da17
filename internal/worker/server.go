package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/xsbridge/internal/events"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/command"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/netstring"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
)

// Engine runs scripts on behalf of the server.
type Engine interface {
	Evaluate(ctx context.Context, name string, source []byte) (string, error)
	HandleCommand(ctx context.Context, body []byte) ([]byte, error)
	StartProfiling()
	StopProfiling() (types.Instruments, *types.Profile)
	Meter() command.Meter
}

// ErrUnknownCommand ends Serve when the host sends an unrecognized opcode.
var ErrUnknownCommand = errors.New("worker: unknown command")

const snapshotUnsupported = "snapshots are not supported"

// Config holds server settings
type Config struct {
	// EvalName is the script name used for "e" commands; it prefixes hit
	// locations.
	EvalName     string
	MaxFrameSize int
}

// DefaultConfig returns the worker binary's settings
func DefaultConfig() Config {
	return Config{
		EvalName:     "test.js",
		MaxFrameSize: netstring.DefaultMaxFrameSize,
	}
}

// Server executes host commands against an engine.
type Server struct {
	engine     Engine
	logger     *logging.Logger
	config     Config
	commands   *netstring.Reader
	replies    io.Writer
	events     io.Writer
	hostEvents io.Reader
}

// NewServer creates a server over the given channel ends. hostEvents may
// be nil.
func NewServer(engine Engine, logger *logging.Logger, config Config, commands io.Reader, replies, eventsOut io.Writer, hostEvents io.Reader) *Server {
	if config.EvalName == "" {
		config.EvalName = DefaultConfig().EvalName
	}
	return &Server{
		engine:     engine,
		logger:     logger.Named("worker"),
		config:     config,
		commands:   netstring.NewReader(commands, config.MaxFrameSize),
		replies:    replies,
		events:     eventsOut,
		hostEvents: hostEvents,
	}
}

// NewStreamServer creates a server over inherited streams.
func NewStreamServer(engine Engine, logger *logging.Logger, config Config, s *Streams) *Server {
	return NewServer(engine, logger, config, s.Commands, s.Replies, s.Events, s.HostEvents)
}

// Serve handles commands until the command stream ends, a channel fails or
// ctx is done. A clean end of stream returns nil.
func (s *Server) Serve(ctx context.Context) error {
	if s.hostEvents != nil {
		go func() {
			_, _ = io.Copy(io.Discard, s.hostEvents)
		}()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := s.commands.ReadFrame()
		if errors.Is(err, io.EOF) {
			s.logger.Debug("command stream closed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read command: %w", err)
		}

		cmd, err := command.Parse(frame)
		if err != nil {
			return err
		}
		if err := s.handle(ctx, cmd); err != nil {
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, cmd command.Command) error {
	s.logger.Debug("command", zap.Stringer("op", cmd.Op), zap.Int("size", len(cmd.Body)))

	switch cmd.Op {
	case command.OpEvaluate:
		result, err := s.engine.Evaluate(ctx, s.config.EvalName, cmd.Source())
		return s.replyResult([]byte(result), err)

	case command.OpRunScript, command.OpRunModule:
		path := string(cmd.Body)
		source, err := os.ReadFile(path)
		if err != nil {
			return s.reply(command.Failure(err.Error()))
		}
		result, err := s.engine.Evaluate(ctx, path, source)
		return s.replyResult([]byte(result), err)

	case command.OpQuery:
		result, err := s.engine.HandleCommand(ctx, cmd.Body)
		return s.replyResult(result, err)

	case command.OpSnapshot:
		return s.reply(command.Failure(snapshotUnsupported))

	case command.OpStartProfiling:
		s.engine.StartProfiling()
		s.logger.Debug("profiling started")
		return nil

	case command.OpStopProfiling:
		instruments, profile := s.engine.StopProfiling()
		if profile == nil {
			profile = &types.Profile{Hits: []types.Hit{}}
		}
		s.logger.Debug("profiling stopped", zap.Int("locations", len(profile.Hits)))
		if err := s.emit(events.TagInstruments, instruments); err != nil {
			return err
		}
		return s.emit(events.TagProfile, profile)

	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, byte(cmd.Op))
	}
}

func (s *Server) replyResult(result []byte, err error) error {
	if err != nil {
		s.logger.Debug("command failed", zap.Error(err))
		return s.reply(command.Failure(err.Error()))
	}
	payload, err := command.OK(s.engine.Meter(), result)
	if err != nil {
		return err
	}
	return s.reply(payload)
}

func (s *Server) reply(payload []byte) error {
	if err := netstring.WriteFrame(s.replies, payload); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

func (s *Server) emit(tag events.Tag, body any) error {
	payload, err := events.Encode(tag, body)
	if err != nil {
		return err
	}
	if err := netstring.WriteFrame(s.events, payload); err != nil {
		return fmt.Errorf("write %s event: %w", tag, err)
	}
	return nil
}

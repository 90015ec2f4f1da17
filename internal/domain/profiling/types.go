package profiling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/xsbridge/internal/events"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/command"
	"github.com/GriffinCanCode/xsbridge/internal/shared/id"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
)

var (
	ErrInvalidTransition = errors.New("profiling: invalid state transition")
	ErrSessionIncomplete = errors.New("profiling: session incomplete")
	ErrDuplicateResult   = errors.New("profiling: result already received")
	ErrLateResult        = errors.New("profiling: result arrived after session was marked incomplete")
)

// State represents the capture lifecycle
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is the completion status of a session
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeComplete
	OutcomeIncomplete
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeComplete:
		return "complete"
	case OutcomeIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// AckPolicy decides what on the reply channel ends the capture
type AckPolicy int

const (
	// AckAnyData stops on the first byte of any data.
	AckAnyData AckPolicy = iota
	// AckReply stops on a complete OK reply frame.
	AckReply
)

// String returns the configuration name of the policy
func (p AckPolicy) String() string {
	switch p {
	case AckAnyData:
		return "any"
	case AckReply:
		return "reply"
	default:
		return "unknown"
	}
}

// ParseAckPolicy maps a configuration name to a policy
func ParseAckPolicy(name string) (AckPolicy, error) {
	switch strings.ToLower(name) {
	case "", "any":
		return AckAnyData, nil
	case "reply":
		return AckReply, nil
	default:
		return 0, fmt.Errorf("unknown acknowledgment policy %q", name)
	}
}

// Settings configures a session
type Settings struct {
	Policy AckPolicy
	// CompletionTimeout bounds the wait for results after the stop.
	CompletionTimeout time.Duration
	// MaxFrameSize applies to reply frames under AckReply.
	MaxFrameSize int
	// OnStateChange is called after every state transition
	OnStateChange func(session id.SessionID, from, to State)
}

// DefaultCompletionTimeout is used when Settings leaves it unset.
const DefaultCompletionTimeout = 10 * time.Second

// Result is what a session collected.
type Result struct {
	ID          id.SessionID
	Instruments types.Instruments
	Profile     *types.Profile
	// Meter is set when the acknowledgment was an OK reply.
	Meter     *command.Meter
	StartedAt time.Time
	StoppedAt time.Time
}

// TransitionError reports an operation not allowed in the current state.
type TransitionError struct {
	Op   string
	From State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s session", e.Op, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// SessionIncompleteError names the events that never arrived.
type SessionIncompleteError struct {
	ID      id.SessionID
	Missing []events.Tag
	Timeout time.Duration
}

func (e *SessionIncompleteError) Error() string {
	missing := make([]string, len(e.Missing))
	for i, tag := range e.Missing {
		missing[i] = string(tag)
	}
	return fmt.Sprintf("session %s incomplete after %s: missing %s", e.ID, e.Timeout, strings.Join(missing, ", "))
}

func (e *SessionIncompleteError) Is(target error) bool { return target == ErrSessionIncomplete }

// ScriptError is a failure reply from the worker.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return "worker reported: " + e.Message
}

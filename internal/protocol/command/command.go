// Package command defines the payloads carried inside frames on the command
// channels: single-letter opcodes from the debugger and the worker's replies.
package command

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Opcode is the first byte of a command payload.
type Opcode byte

const (
	OpEvaluate       Opcode = 'e' // evaluate the brace-delimited source
	OpQuery          Opcode = '?' // pass the body to the worker's command handler
	OpRunScript      Opcode = 's' // run a program file by path
	OpRunModule      Opcode = 'm' // run a module file by path
	OpSnapshot       Opcode = 'w' // write a heap snapshot to a path
	OpStartProfiling Opcode = 'p'
	OpStopProfiling  Opcode = 'q'
)

// String returns the string representation of the opcode
func (o Opcode) String() string {
	switch o {
	case OpEvaluate:
		return "evaluate"
	case OpQuery:
		return "query"
	case OpRunScript:
		return "run-script"
	case OpRunModule:
		return "run-module"
	case OpSnapshot:
		return "snapshot"
	case OpStartProfiling:
		return "start-profiling"
	case OpStopProfiling:
		return "stop-profiling"
	default:
		return fmt.Sprintf("opcode(%q)", byte(o))
	}
}

var ErrEmptyPayload = errors.New("command: empty payload")

// Command is a decoded command payload.
type Command struct {
	Op   Opcode
	Body []byte
}

// Parse splits a command payload into opcode and body.
func Parse(payload []byte) (Command, error) {
	if len(payload) == 0 {
		return Command{}, ErrEmptyPayload
	}
	return Command{Op: Opcode(payload[0]), Body: payload[1:]}, nil
}

// Source returns the body of an evaluate command without its enclosing braces.
func (c Command) Source() []byte {
	body := c.Body
	if len(body) >= 2 && body[0] == '{' && body[len(body)-1] == '}' {
		return body[1 : len(body)-1]
	}
	return body
}

// Encode returns the payload form of the command.
func (c Command) Encode() []byte {
	out := make([]byte, 0, len(c.Body)+1)
	out = append(out, byte(c.Op))
	return append(out, c.Body...)
}

// Evaluate builds the load-and-run command "e{<source>}".
func Evaluate(source []byte) []byte {
	out := make([]byte, 0, len(source)+3)
	out = append(out, byte(OpEvaluate), '{')
	out = append(out, source...)
	return append(out, '}')
}

// RunScript builds a command running the program file at path.
func RunScript(path string) []byte {
	return Command{Op: OpRunScript, Body: []byte(path)}.Encode()
}

// RunModule builds a command running the module file at path.
func RunModule(path string) []byte {
	return Command{Op: OpRunModule, Body: []byte(path)}.Encode()
}

// Snapshot builds a command writing a snapshot to path.
func Snapshot(path string) []byte {
	return Command{Op: OpSnapshot, Body: []byte(path)}.Encode()
}

// Query builds a command handing body to the worker's command handler.
func Query(body []byte) []byte {
	return Command{Op: OpQuery, Body: body}.Encode()
}

// StartProfiling builds the start-capture command.
func StartProfiling() []byte {
	return []byte{byte(OpStartProfiling)}
}

// StopProfiling builds the stop-capture command.
func StopProfiling() []byte {
	return []byte{byte(OpStopProfiling)}
}

// ReplyKind is the first byte of a worker reply.
type ReplyKind byte

const (
	ReplyOK    ReplyKind = '.'
	ReplyError ReplyKind = '!'
	ReplyQuery ReplyKind = '?'
)

// String returns the string representation of the reply kind
func (k ReplyKind) String() string {
	switch k {
	case ReplyOK:
		return "ok"
	case ReplyError:
		return "error"
	case ReplyQuery:
		return "query"
	default:
		return fmt.Sprintf("reply(%q)", byte(k))
	}
}

// meterSeparator splits the meter JSON from the result in an OK reply.
const meterSeparator = 0x01

// Meter holds the resource counters the worker reports with every OK reply.
type Meter struct {
	Compute                uint64 `json:"compute"`
	Allocate               uint64 `json:"allocate"`
	AllocateChunksCalls    uint64 `json:"allocateChunksCalls"`
	AllocateSlotsCalls     uint64 `json:"allocateSlotsCalls"`
	GarbageCollectionCount uint64 `json:"garbageCollectionCount"`
	MapSetAddCount         uint64 `json:"mapSetAddCount"`
	MapSetRemoveCount      uint64 `json:"mapSetRemoveCount"`
	MaxBucketSize          uint64 `json:"maxBucketSize"`
}

// Reply is a decoded worker reply.
type Reply struct {
	Kind    ReplyKind
	Meter   *Meter // OK replies only
	Result  []byte // OK result or query body
	Message string // error replies only
}

// OK builds a successful reply carrying the meter and an optional result.
func OK(meter Meter, result []byte) ([]byte, error) {
	encoded, err := sonic.ConfigStd.Marshal(meter)
	if err != nil {
		return nil, fmt.Errorf("command: encode meter: %w", err)
	}
	out := make([]byte, 0, len(encoded)+len(result)+2)
	out = append(out, byte(ReplyOK))
	out = append(out, encoded...)
	out = append(out, meterSeparator)
	return append(out, result...), nil
}

// Failure builds an error reply.
func Failure(message string) []byte {
	return append([]byte{byte(ReplyError)}, message...)
}

// QueryReply builds a worker-issued query.
func QueryReply(body []byte) []byte {
	return append([]byte{byte(ReplyQuery)}, body...)
}

// ParseReply decodes a worker reply payload.
func ParseReply(payload []byte) (Reply, error) {
	if len(payload) == 0 {
		return Reply{}, ErrEmptyPayload
	}

	kind := ReplyKind(payload[0])
	body := payload[1:]
	switch kind {
	case ReplyOK:
		reply := Reply{Kind: kind}
		meterJSON, result, found := bytes.Cut(body, []byte{meterSeparator})
		if !found {
			// no meter section; the whole body is the result
			reply.Result = body
			return reply, nil
		}
		var meter Meter
		if err := sonic.Unmarshal(meterJSON, &meter); err != nil {
			return Reply{}, fmt.Errorf("command: decode meter: %w", err)
		}
		reply.Meter = &meter
		reply.Result = result
		return reply, nil
	case ReplyError:
		return Reply{Kind: kind, Message: string(body)}, nil
	case ReplyQuery:
		return Reply{Kind: kind, Result: body}, nil
	default:
		return Reply{}, fmt.Errorf("command: unknown reply kind %q", payload[0])
	}
}

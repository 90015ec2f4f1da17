package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/xsbridge/internal/events"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/command"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/netstring"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
	"github.com/GriffinCanCode/xsbridge/internal/worker/sandbox"
)

var _ Engine = (*sandbox.Runtime)(nil)

type fakeEngine struct {
	evaluated []string
	profiling bool
	calls     []string
}

func (f *fakeEngine) Evaluate(_ context.Context, name string, source []byte) (string, error) {
	f.evaluated = append(f.evaluated, name+"="+string(source))
	if string(source) == "fail" {
		return "", errors.New("boom")
	}
	return "ok", nil
}

func (f *fakeEngine) HandleCommand(_ context.Context, body []byte) ([]byte, error) {
	return append([]byte("echo:"), body...), nil
}

func (f *fakeEngine) StartProfiling() {
	f.profiling = true
	f.calls = append(f.calls, "start")
}

func (f *fakeEngine) StopProfiling() (types.Instruments, *types.Profile) {
	f.profiling = false
	f.calls = append(f.calls, "stop")
	return types.Instruments{"samples": 2}, &types.Profile{Hits: []types.Hit{{Location: "test.js:1", Count: 2}}}
}

func (f *fakeEngine) Meter() command.Meter {
	return command.Meter{Compute: 9}
}

func frames(payloads ...[]byte) *bytes.Reader {
	var buf []byte
	for _, p := range payloads {
		buf = netstring.AppendFrame(buf, p)
	}
	return bytes.NewReader(buf)
}

func decodeAll(t *testing.T, data []byte) [][]byte {
	t.Helper()
	out, err := netstring.NewDecoder(0).Feed(data)
	require.NoError(t, err)
	return out
}

func serve(t *testing.T, engine Engine, config Config, payloads ...[]byte) (replies, eventsOut [][]byte, err error) {
	t.Helper()
	var replyBuf, eventBuf bytes.Buffer
	srv := NewServer(engine, logging.NewNop(), config, frames(payloads...), &replyBuf, &eventBuf, bytes.NewReader([]byte("ignored")))
	err = srv.Serve(context.Background())
	return decodeAll(t, replyBuf.Bytes()), decodeAll(t, eventBuf.Bytes()), err
}

func TestServeEvaluateReplies(t *testing.T) {
	engine := &fakeEngine{}
	replies, evs, err := serve(t, engine, DefaultConfig(),
		command.Evaluate([]byte("1+1")),
		command.Evaluate([]byte("fail")),
	)
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.Equal(t, []string{"test.js=1+1", "test.js=fail"}, engine.evaluated)

	require.Len(t, replies, 2)
	ok, err := command.ParseReply(replies[0])
	require.NoError(t, err)
	assert.Equal(t, command.ReplyOK, ok.Kind)
	require.NotNil(t, ok.Meter)
	assert.Equal(t, uint64(9), ok.Meter.Compute)
	assert.Equal(t, "ok", string(ok.Result))

	failed, err := command.ParseReply(replies[1])
	require.NoError(t, err)
	assert.Equal(t, command.ReplyError, failed.Kind)
	assert.Equal(t, "boom", failed.Message)
}

func TestServeProfilingEmitsEvents(t *testing.T) {
	engine := &fakeEngine{}
	replies, evs, err := serve(t, engine, DefaultConfig(),
		command.StartProfiling(),
		command.Evaluate([]byte("work()")),
		command.StopProfiling(),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "stop"}, engine.calls)

	// profiling commands are not acknowledged
	assert.Len(t, replies, 1)

	require.Len(t, evs, 2)
	first, err := events.ParseEvent(evs[0])
	require.NoError(t, err)
	assert.Equal(t, events.TagInstruments, first.Tag)
	assert.JSONEq(t, `{"samples":2}`, string(first.Body))

	second, err := events.ParseEvent(evs[1])
	require.NoError(t, err)
	assert.Equal(t, events.TagProfile, second.Tag)
	assert.JSONEq(t, `{"hits":[["test.js:1",2]]}`, string(second.Body))
}

func TestServeQueryAndSnapshot(t *testing.T) {
	replies, _, err := serve(t, &fakeEngine{}, DefaultConfig(),
		command.Query([]byte("ping")),
		command.Snapshot("heap.xss"),
	)
	require.NoError(t, err)
	require.Len(t, replies, 2)

	query, err := command.ParseReply(replies[0])
	require.NoError(t, err)
	assert.Equal(t, command.ReplyOK, query.Kind)
	assert.Equal(t, "echo:ping", string(query.Result))

	snapshot, err := command.ParseReply(replies[1])
	require.NoError(t, err)
	assert.Equal(t, command.ReplyError, snapshot.Kind)
	assert.Equal(t, snapshotUnsupported, snapshot.Message)
}

func TestServeRunScriptReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.js")
	require.NoError(t, os.WriteFile(path, []byte("main()"), 0o644))

	engine := &fakeEngine{}
	replies, _, err := serve(t, engine, DefaultConfig(),
		command.RunScript(path),
		command.RunModule(filepath.Join(t.TempDir(), "missing.js")),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{path + "=main()"}, engine.evaluated)

	require.Len(t, replies, 2)
	missing, err := command.ParseReply(replies[1])
	require.NoError(t, err)
	assert.Equal(t, command.ReplyError, missing.Kind)
}

func TestServeUnknownCommandStops(t *testing.T) {
	replies, _, err := serve(t, &fakeEngine{}, DefaultConfig(),
		[]byte("zzz"),
		command.Evaluate([]byte("never")),
	)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Empty(t, replies)
}

func TestServeFramingError(t *testing.T) {
	var replies, evs bytes.Buffer
	srv := NewServer(&fakeEngine{}, logging.NewNop(), DefaultConfig(), bytes.NewReader([]byte("x:e,")), &replies, &evs, nil)
	err := srv.Serve(context.Background())
	assert.ErrorIs(t, err, netstring.ErrFraming)
}

func TestServeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var replies, evs bytes.Buffer
	srv := NewServer(&fakeEngine{}, logging.NewNop(), DefaultConfig(), frames(command.Evaluate([]byte("1"))), &replies, &evs, nil)
	assert.ErrorIs(t, srv.Serve(ctx), context.Canceled)
	assert.Zero(t, replies.Len())
}

func TestServeWithSandbox(t *testing.T) {
	runtime, err := sandbox.New(sandbox.Config{})
	require.NoError(t, err)
	defer runtime.Close()

	script := "var t = 0;\nfor (var i = 0; i < 5; i++) {\n  t += performance.now();\n}\n'done'"
	replies, evs, err := serve(t, runtime, DefaultConfig(),
		command.StartProfiling(),
		command.Evaluate([]byte(script)),
		command.StopProfiling(),
	)
	require.NoError(t, err)

	require.Len(t, replies, 1)
	reply, err := command.ParseReply(replies[0])
	require.NoError(t, err)
	assert.Equal(t, "done", string(reply.Result))

	require.Len(t, evs, 2)
	ev, err := events.ParseEvent(evs[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"hits":[["test.js:3",5]]}`, string(ev.Body))
}

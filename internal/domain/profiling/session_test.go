package profiling

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/xsbridge/internal/events"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/command"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/netstring"
	"github.com/GriffinCanCode/xsbridge/internal/shared/id"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
)

// recorder captures the frames a session writes.
type recorder struct {
	mu     sync.Mutex
	frames []string
	err    error
}

func (r *recorder) WriteFrame(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, string(payload))
	return nil
}

func (r *recorder) Frames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func newSession(t *testing.T, settings Settings) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	return New(rec, nil, nil, settings), rec
}

func TestStartTransitions(t *testing.T) {
	s, rec := newSession(t, Settings{})
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start())
	assert.Equal(t, StateRecording, s.State())
	assert.Equal(t, []string{"p"}, rec.Frames())

	err := s.Start()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StateRecording, te.From)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Start(), ErrInvalidTransition)
	assert.Equal(t, []string{"p", "q"}, rec.Frames())
}

func TestStartWriteFailureStaysIdle(t *testing.T) {
	rec := &recorder{err: errors.New("pipe closed")}
	s := New(rec, nil, nil, Settings{})

	assert.Error(t, s.Start())
	assert.Equal(t, StateIdle, s.State())
}

// blockingWriter holds every write until release is closed.
type blockingWriter struct {
	entered chan struct{}
	release chan struct{}
}

func (w *blockingWriter) WriteFrame([]byte) error {
	close(w.entered)
	<-w.release
	return nil
}

func TestBlockedStartDoesNotHoldState(t *testing.T) {
	w := &blockingWriter{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(w, nil, nil, Settings{})

	started := make(chan error, 1)
	go func() { started <- s.Start() }()
	<-w.entered

	read := make(chan struct{})
	go func() {
		s.State()
		s.Status()
		close(read)
	}()
	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("State and Status blocked behind the start write")
	}

	assert.Equal(t, StateIdle, s.State())
	assert.ErrorIs(t, s.Start(), ErrInvalidTransition)
	require.NoError(t, s.Acknowledge())

	close(w.release)
	require.NoError(t, <-started)
	assert.Equal(t, StateRecording, s.State())
}

func TestStopIsIdempotent(t *testing.T) {
	s, rec := newSession(t, Settings{})

	assert.ErrorIs(t, s.Stop(), ErrInvalidTransition)

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Acknowledge())

	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, []string{"p", "q"}, rec.Frames())

	select {
	case <-s.Stopped():
	default:
		t.Fatal("Stopped channel should be closed")
	}
}

func TestAcknowledgeBeforeStartIsIgnored(t *testing.T) {
	s, rec := newSession(t, Settings{})

	require.NoError(t, s.Acknowledge())
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, rec.Frames())
}

func TestConcurrentAcknowledgmentsStopOnce(t *testing.T) {
	var transitions []State
	var mu sync.Mutex
	s, rec := newSession(t, Settings{
		OnStateChange: func(_ id.SessionID, _, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	})
	require.NoError(t, s.Start())

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Acknowledge())
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"p", "q"}, rec.Frames())
	assert.Equal(t, []State{StateRecording, StateStopped}, transitions)
}

func TestWatchAnyDataStopsOnFirstByte(t *testing.T) {
	s, rec := newSession(t, Settings{})
	require.NoError(t, s.Start())

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- s.WatchAcknowledgments(context.Background(), pr) }()

	_, err := pw.Write([]byte{'.'})
	require.NoError(t, err)

	select {
	case <-s.Stopped():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop on acknowledgment")
	}

	// further chatter is drained but never stops twice
	_, err = pw.Write([]byte("more data"))
	require.NoError(t, err)
	pw.Close()

	require.NoError(t, <-done)
	assert.Equal(t, []string{"p", "q"}, rec.Frames())
}

func TestWatchReplyPolicy(t *testing.T) {
	s, rec := newSession(t, Settings{Policy: AckReply})
	require.NoError(t, s.Start())

	ok, err := command.OK(command.Meter{Compute: 42}, nil)
	require.NoError(t, err)

	var stream []byte
	stream = netstring.AppendFrame(stream, command.QueryReply([]byte("log")))
	stream = netstring.AppendFrame(stream, ok)
	stream = netstring.AppendFrame(stream, ok)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- s.WatchAcknowledgments(context.Background(), pr) }()

	// a partial frame alone must not stop the capture
	_, err = pw.Write(stream[:3])
	require.NoError(t, err)
	assert.Equal(t, StateRecording, s.State())

	_, err = pw.Write(stream[3:])
	require.NoError(t, err)
	pw.Close()

	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, []string{"p", "q"}, rec.Frames())

	result := s.Result()
	require.NotNil(t, result.Meter)
	assert.Equal(t, uint64(42), result.Meter.Compute)
}

func TestWatchReplyPolicyFailureReply(t *testing.T) {
	s, _ := newSession(t, Settings{Policy: AckReply})
	require.NoError(t, s.Start())

	src := netstring.Encode(command.Failure("ReferenceError: y is not defined"))
	err := s.WatchAcknowledgments(context.Background(), bytes.NewReader(src))

	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, "ReferenceError: y is not defined", scriptErr.Message)
	assert.Equal(t, StateRecording, s.State())
}

func TestWatchCancelled(t *testing.T) {
	s, _ := newSession(t, Settings{})
	require.NoError(t, s.Start())

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.WatchAcknowledgments(ctx, pr), context.Canceled)
}

func TestWaitComplete(t *testing.T) {
	metrics := monitoring.NewMetrics()
	s := New(&recorder{}, nil, metrics, Settings{CompletionTimeout: time.Second})
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	require.NoError(t, s.RecordProfile(&types.Profile{Hits: []types.Hit{{Location: "a.js:1", Count: 5}}}))
	require.NoError(t, s.RecordInstruments(types.Instruments{"opsPerSecond": 1000}))

	result, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, s.Outcome())
	assert.Equal(t, s.ID, result.ID)
	assert.Equal(t, 1000.0, result.Instruments["opsPerSecond"])
	assert.Equal(t, uint64(5), result.Profile.Total())
	assert.False(t, result.StoppedAt.Before(result.StartedAt))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues("complete")))
}

func TestWaitIncomplete(t *testing.T) {
	metrics := monitoring.NewMetrics()
	s := New(&recorder{}, nil, metrics, Settings{CompletionTimeout: 50 * time.Millisecond})
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.RecordInstruments(types.Instruments{"opsPerSecond": 1}))

	result, err := s.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionIncomplete)

	var incomplete *SessionIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []events.Tag{events.TagProfile}, incomplete.Missing)

	require.NotNil(t, result)
	assert.NotNil(t, result.Instruments)
	assert.Nil(t, result.Profile)
	assert.Equal(t, OutcomeIncomplete, s.Outcome())
	assert.Contains(t, s.Status().Error, "missing profile")

	assert.ErrorIs(t, s.RecordProfile(&types.Profile{}), ErrLateResult)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues("incomplete")))

	// a second Wait reports the same outcome without recounting
	_, err = s.Wait(context.Background())
	assert.ErrorIs(t, err, ErrSessionIncomplete)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues("incomplete")))
}

func TestWaitCancelledBeforeStop(t *testing.T) {
	s, _ := newSession(t, Settings{})
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDuplicateResultsIgnored(t *testing.T) {
	s, _ := newSession(t, Settings{})

	require.NoError(t, s.RecordInstruments(types.Instruments{"a": 1}))
	assert.ErrorIs(t, s.RecordInstruments(types.Instruments{"a": 2}), ErrDuplicateResult)
	assert.Equal(t, 1.0, s.Result().Instruments["a"])
}

func TestAttachCompletesFromRouter(t *testing.T) {
	s, _ := newSession(t, Settings{})
	router := events.NewRouter(nil, nil, 0)
	s.Attach(router)

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	require.NoError(t, router.Dispatch([]byte(`instruments{"opsPerSecond":1000}`)))
	require.NoError(t, router.Dispatch([]byte(`profile{"hits":[["a.js:1",5]]}`)))

	result, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Hit{{Location: "a.js:1", Count: 5}}, result.Profile.Hits)

	status := s.Status()
	assert.Equal(t, "stopped", status.State)
	assert.Equal(t, "complete", status.Outcome)
	assert.Equal(t, 1, status.HitCount)
}

func TestParseAckPolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    AckPolicy
		wantErr bool
	}{
		{"", AckAnyData, false},
		{"any", AckAnyData, false},
		{"REPLY", AckReply, false},
		{"sometimes", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAckPolicy(tt.input)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, got, mustParse(t, got.String()))
	}
}

func mustParse(t *testing.T, name string) AckPolicy {
	t.Helper()
	p, err := ParseAckPolicy(name)
	require.NoError(t, err)
	return p
}

func TestExpireWhileRecording(t *testing.T) {
	s, _ := newSession(t, Settings{})
	require.NoError(t, s.Start())

	result, err := s.Expire()
	var incomplete *SessionIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []events.Tag{events.TagInstruments, events.TagProfile}, incomplete.Missing)
	assert.Nil(t, result.Profile)
	assert.Equal(t, OutcomeIncomplete, s.Outcome())
}

func TestWaitPrefersCompletionOverCancel(t *testing.T) {
	s, _ := newSession(t, Settings{})
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.RecordInstruments(types.Instruments{}))
	require.NoError(t, s.RecordProfile(&types.Profile{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 20; i++ {
		result, err := s.Wait(ctx)
		require.NoError(t, err)
		require.NotNil(t, result.Profile)
	}
}

package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/highwayhash"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/xsbridge/internal/artifact"
	"github.com/GriffinCanCode/xsbridge/internal/bridge"
	"github.com/GriffinCanCode/xsbridge/internal/domain/profiling"
	"github.com/GriffinCanCode/xsbridge/internal/events"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/xsbridge/internal/protocol/command"
	"github.com/GriffinCanCode/xsbridge/internal/shared/id"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
)

// ErrRunning is returned when Run is called while a run is in progress.
var ErrRunning = errors.New("debugger: a run is already in progress")

// DefaultShutdownTimeout bounds the wait for the worker to exit after its
// input is closed.
const DefaultShutdownTimeout = 5 * time.Second

// Options configures the debugger.
type Options struct {
	WorkerPath string
	WorkerArgs []string
	// WorkerEnv is appended to the host environment.
	WorkerEnv []string
	Stdio     bridge.StdioMode

	Policy            profiling.AckPolicy
	CompletionTimeout time.Duration
	ShutdownTimeout   time.Duration
	MaxFrameSize      int

	// TopHits is how many hits the report logs. Zero logs none.
	TopHits int

	OnStateChange func(session id.SessionID, from, to profiling.State)
}

// Request is one profiling run.
type Request struct {
	// Script is the source evaluated by the worker.
	Script []byte
	// ArtifactPath receives the profile. Empty skips persistence.
	ArtifactPath string
}

// Report is what a run produced.
type Report struct {
	SessionID id.SessionID
	// ScriptDigest identifies the profiled source.
	ScriptDigest string
	Outcome      profiling.Outcome
	Instruments  types.Instruments
	Profile      *types.Profile
	TopHits      []types.Hit
	Meter        *command.Meter
	Exit         types.ExitStatus
	// ArtifactPath is set only when the profile was persisted.
	ArtifactPath string
}

// WorkerExitError reports a worker that did not exit cleanly.
type WorkerExitError struct {
	Status types.ExitStatus
}

func (e *WorkerExitError) Error() string {
	if e.Status.Signal != "" {
		return fmt.Sprintf("worker terminated by signal %s", e.Status.Signal)
	}
	return fmt.Sprintf("worker exited with code %d", e.Status.Code)
}

// Debugger drives profiling runs and remembers the latest for status.
type Debugger struct {
	opts    Options
	logger  *logging.Logger
	metrics *monitoring.Metrics
	writer  *artifact.Writer
	tracer  *tracing.Tracer

	mu       sync.RWMutex
	running  bool
	bridge   *bridge.Bridge
	session  *profiling.Session
	artifact string
	lastErr  error
}

// New creates a debugger. A nil logger or metrics disables that concern.
func New(logger *logging.Logger, metrics *monitoring.Metrics, opts Options) *Debugger {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Debugger{
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		writer:  artifact.NewWriter(logger, metrics),
		tracer:  tracing.New("xsbug", logger, metrics),
	}
}

// Run performs one capture. The report is returned whenever the worker
// was spawned, together with every error raised along the way.
func (d *Debugger) Run(ctx context.Context, req Request) (*Report, error) {
	if err := d.begin(); err != nil {
		return nil, err
	}

	digest := ScriptDigest(req.Script)
	runSpan, tctx := d.tracer.StartSpan(ctx, "run")
	runSpan.SetTag("script", digest)

	b := bridge.New(d.logger, d.metrics, bridge.Options{
		Stdio: d.opts.Stdio,
		Env:   d.opts.WorkerEnv,
	})
	defer b.Close()

	span, _ := d.tracer.StartSpan(tctx, "spawn")
	span.SetTag("path", d.opts.WorkerPath)
	worker, err := b.Spawn(d.opts.WorkerPath, d.opts.WorkerArgs...)
	if d.tracer.End(span, err) != nil {
		d.tracer.End(runSpan, err)
		d.finish(nil, err)
		return nil, err
	}

	router := events.NewRouter(d.logger, d.metrics, d.opts.MaxFrameSize)
	session := profiling.New(worker.Channel(bridge.CommandOut), d.logger, d.metrics, profiling.Settings{
		Policy:            d.opts.Policy,
		CompletionTimeout: d.opts.CompletionTimeout,
		MaxFrameSize:      d.opts.MaxFrameSize,
		OnStateChange:     d.opts.OnStateChange,
	})
	session.Attach(router)

	d.mu.Lock()
	d.bridge = b
	d.session = session
	d.mu.Unlock()

	log := d.logger.With(zap.String("session_id", session.ID.String()), zap.String("script", digest))
	runSpan.SetTag("session_id", session.ID.String())

	g, gctx := errgroup.WithContext(ctx)
	eventsDone := make(chan struct{})
	g.Go(func() error {
		defer close(eventsDone)
		if err := router.Run(gctx, worker.Channel(bridge.EventIn)); err != nil {
			return fmt.Errorf("event stream: %w", err)
		}
		return nil
	})

	var scriptErr error
	g.Go(func() error {
		replies := worker.Channel(bridge.CommandIn)
		err := session.WatchAcknowledgments(gctx, replies)

		var failure *profiling.ScriptError
		if errors.As(err, &failure) {
			// the script is done, if unsuccessfully; end the capture and
			// keep the reply channel drained
			scriptErr = err
			if stopErr := session.Stop(); stopErr != nil {
				log.Warn("stop after script failure", zap.Error(stopErr))
			}
			io.Copy(io.Discard, replies)
			return nil
		}
		if err != nil {
			return fmt.Errorf("acknowledgments: %w", err)
		}
		return nil
	})

	var errs []error
	var result *profiling.Result

	span, _ = d.tracer.StartSpan(tctx, "capture")
	if err := session.Start(); err != nil {
		errs = append(errs, err)
	} else if err := worker.Channel(bridge.CommandOut).WriteFrame(command.Evaluate(req.Script)); err != nil {
		errs = append(errs, fmt.Errorf("send script: %w", err))
	} else {
		var waitErr error
		result, waitErr = d.awaitResults(ctx, session, worker, eventsDone, &errs)
		if waitErr != nil {
			errs = append(errs, waitErr)
		}
	}
	span.SetTag("outcome", session.Outcome().String())
	d.tracer.End(span, errors.Join(errs...))

	report := &Report{SessionID: session.ID, ScriptDigest: digest}
	if result != nil {
		report.Instruments = result.Instruments
		report.Profile = result.Profile
		report.Meter = result.Meter
	}

	if report.Profile != nil && req.ArtifactPath != "" {
		span, _ = d.tracer.StartSpan(tctx, "persist")
		span.SetTag("path", req.ArtifactPath)
		if err := d.tracer.End(span, d.writer.Persist(report.Profile, req.ArtifactPath)); err != nil {
			errs = append(errs, err)
		} else {
			report.ArtifactPath = req.ArtifactPath
		}
	}

	d.reportInstruments(log, report.Instruments)
	if report.Profile != nil {
		report.TopHits = report.Profile.TopN(d.opts.TopHits)
		d.reportHits(log, report.Profile, report.TopHits)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.opts.ShutdownTimeout)
	defer cancel()
	span, _ = d.tracer.StartSpan(tctx, "shutdown")
	exit, err := b.Shutdown(shutdownCtx)
	span.SetTag("exit", exit.String())
	if d.tracer.End(span, err) != nil {
		errs = append(errs, fmt.Errorf("shutdown worker: %w", err))
	}
	report.Exit = exit
	if !exit.Success() {
		errs = append(errs, &WorkerExitError{Status: exit})
	}

	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	if scriptErr != nil {
		errs = append(errs, scriptErr)
	}
	report.Outcome = session.Outcome()

	runErr := errors.Join(errs...)
	d.tracer.End(runSpan, runErr)
	d.finish(report, runErr)
	return report, runErr
}

// digestKey is fixed so digests are comparable across runs and hosts.
var digestKey = []byte("xsbridge-script-digest-key-00000")

// ScriptDigest returns a stable 64-bit HighwayHash of a script, in hex.
func ScriptDigest(script []byte) string {
	return fmt.Sprintf("%016x", highwayhash.Sum64(script, digestKey))
}

// awaitResults waits for the session's results. Once the event stream has
// ended nothing more can arrive, so the session is expired immediately
// instead of waiting out the completion timeout.
func (d *Debugger) awaitResults(ctx context.Context, session *profiling.Session, worker *bridge.Worker, eventsDone <-chan struct{}, errs *[]error) (*profiling.Result, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-eventsDone:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	result, err := session.Wait(waitCtx)
	if err == nil || !errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return result, err
	}

	if session.State() == profiling.StateRecording {
		// the worker is gone without acknowledging. Its command channel is
		// closed only once the exit has been observed, so wait for that
		// before the stop write that reports it.
		timer := time.NewTimer(d.opts.ShutdownTimeout)
		select {
		case <-worker.Done():
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
		if stopErr := session.Stop(); stopErr != nil {
			*errs = append(*errs, stopErr)
		}
	}
	return session.Expire()
}

func (d *Debugger) reportInstruments(log *logging.Logger, instruments types.Instruments) {
	if instruments == nil {
		return
	}
	fields := make([]zap.Field, 0, len(instruments))
	for _, name := range instruments.Names() {
		fields = append(fields, zap.Float64(name, instruments[name]))
	}
	log.Info("instruments", fields...)
}

func (d *Debugger) reportHits(log *logging.Logger, profile *types.Profile, top []types.Hit) {
	total := profile.Total()
	log.Info("profile",
		zap.Int("locations", len(profile.Hits)),
		zap.Uint64("samples", total))
	for i, hit := range top {
		share := 0.0
		if total > 0 {
			share = float64(hit.Count) * 100 / float64(total)
		}
		log.Info("hit",
			zap.Int("rank", i+1),
			zap.String("location", hit.Location),
			zap.Uint64("count", hit.Count),
			zap.Float64("percent", share))
	}
}

func (d *Debugger) begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}
	d.running = true
	d.lastErr = nil
	d.artifact = ""
	return nil
}

func (d *Debugger) finish(report *Report, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	d.lastErr = err
	if report != nil {
		d.artifact = report.ArtifactPath
	}
	if err != nil {
		d.logger.Error("profiling run failed", zap.Error(err))
	}
}

// Status returns a snapshot of the current or most recent run.
func (d *Debugger) Status() types.Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := types.Status{State: profiling.StateIdle.String(), Outcome: profiling.OutcomePending.String()}
	if d.session != nil {
		status = d.session.Status()
	}
	if d.bridge != nil {
		if w := d.bridge.Worker(); w != nil {
			status.WorkerPID = w.Pid()
			status.WorkerAlive = w.Alive()
			if exit, ok := w.ExitStatus(); ok {
				status.Exit = &exit
			}
		}
	}
	status.Artifact = d.artifact
	if d.lastErr != nil && status.Error == "" {
		status.Error = d.lastErr.Error()
	}
	return status
}

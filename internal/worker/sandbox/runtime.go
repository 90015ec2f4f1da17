package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/xsbridge/internal/protocol/command"
	"github.com/GriffinCanCode/xsbridge/internal/shared/types"
)

// ErrNoCommandHandler is returned by HandleCommand when the script has not
// defined a global handleCommand function.
var ErrNoCommandHandler = errors.New("sandbox: no handleCommand function defined")

// Runtime wraps a goja VM. Evaluations are serialized.
type Runtime struct {
	vm      *goja.Runtime
	config  Config
	mu      sync.Mutex
	created time.Time

	stats Stats

	profiling    bool
	profileStart time.Time
	callsAtStart uint64
	hits         map[string]uint64
	hitOrder     []string
}

// New creates a runtime
func New(config Config) (*Runtime, error) {
	if config.Output == nil {
		config.Output = io.Discard
	}
	r := &Runtime{
		vm:      goja.New(),
		config:  config,
		created: time.Now(),
	}
	if config.MaxCallStackSize > 0 {
		r.vm.SetMaxCallStackSize(config.MaxCallStackSize)
	}
	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

// Evaluate runs source as a script named name and returns the completion
// value as a string.
func (r *Runtime) Evaluate(ctx context.Context, name string, source []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Evaluations++
	stop := r.watch(ctx)
	val, err := r.vm.RunScript(name, string(source))
	stop()

	if err != nil {
		return "", scriptError(err)
	}
	return exportString(val), nil
}

// HandleCommand passes body to the script's global handleCommand function
// and returns its result.
func (r *Runtime) HandleCommand(ctx context.Context, body []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handler, ok := goja.AssertFunction(r.vm.Get("handleCommand"))
	if !ok {
		return nil, ErrNoCommandHandler
	}

	stop := r.watch(ctx)
	val, err := handler(goja.Undefined(), r.vm.ToValue(string(body)))
	stop()

	if err != nil {
		return nil, scriptError(err)
	}
	return []byte(exportString(val)), nil
}

// watch interrupts the VM on timeout or cancellation. The returned
// function must be called when the evaluation ends.
func (r *Runtime) watch(ctx context.Context) func() {
	done := make(chan struct{})
	exited := make(chan struct{})

	var timer *time.Timer
	var timeout <-chan time.Time
	if r.config.Timeout > 0 {
		timer = time.NewTimer(r.config.Timeout)
		timeout = timer.C
	}

	go func() {
		defer close(exited)
		select {
		case <-timeout:
			r.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			r.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-exited
		if timer != nil {
			timer.Stop()
		}
		r.vm.ClearInterrupt()
	}
}

// StartProfiling begins recording hits. Earlier hits are discarded.
func (r *Runtime) StartProfiling() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiling = true
	r.profileStart = time.Now()
	r.callsAtStart = r.stats.HostCalls
	r.hits = make(map[string]uint64)
	r.hitOrder = nil
}

// StopProfiling ends recording and returns the capture. Calling it while
// not profiling returns an empty capture.
func (r *Runtime) StopProfiling() (types.Instruments, *types.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile := &types.Profile{Hits: make([]types.Hit, 0, len(r.hitOrder))}
	instruments := types.Instruments{
		"evaluations":     float64(r.stats.Evaluations),
		"garbageCollects": float64(r.stats.GCCount),
	}
	if !r.profiling {
		instruments["hostCalls"] = 0
		instruments["opsPerSecond"] = 0
		return instruments, profile
	}

	for _, loc := range r.hitOrder {
		profile.Hits = append(profile.Hits, types.Hit{Location: loc, Count: r.hits[loc]})
	}

	elapsed := time.Since(r.profileStart)
	calls := r.stats.HostCalls - r.callsAtStart
	instruments["hostCalls"] = float64(calls)
	instruments["durationMs"] = float64(elapsed.Microseconds()) / 1000
	if elapsed > 0 {
		instruments["opsPerSecond"] = float64(calls) / elapsed.Seconds()
	} else {
		instruments["opsPerSecond"] = 0
	}

	r.profiling = false
	r.hits = nil
	r.hitOrder = nil
	return instruments, profile
}

// Stats returns the runtime's counters
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Meter reports the runtime's counters in reply form. Compute counts
// host calls and Allocate is the Go heap in use.
func (r *Runtime) Meter() command.Meter {
	r.mu.Lock()
	stats := r.stats
	r.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return command.Meter{
		Compute:                stats.HostCalls,
		Allocate:               mem.HeapAlloc,
		GarbageCollectionCount: stats.GCCount,
	}
}

// Close interrupts any running evaluation
func (r *Runtime) Close() error {
	r.vm.Interrupt("runtime closed")
	return nil
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	if err := r.vm.Set("print", r.hostFunc(func(call goja.FunctionCall) goja.Value {
		r.writeLine(call.Arguments)
		return goja.Undefined()
	})); err != nil {
		return err
	}

	console := r.vm.NewObject()
	for _, level := range []string{"log", "warn", "error", "info"} {
		if err := console.Set(level, r.hostFunc(func(call goja.FunctionCall) goja.Value {
			r.writeLine(call.Arguments)
			return goja.Undefined()
		})); err != nil {
			return err
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}

	if err := r.vm.Set("gc", r.hostFunc(func(goja.FunctionCall) goja.Value {
		runtime.GC()
		r.stats.GCCount++
		return goja.Undefined()
	})); err != nil {
		return err
	}

	performance := r.vm.NewObject()
	if err := performance.Set("now", r.hostFunc(func(goja.FunctionCall) goja.Value {
		return r.vm.ToValue(float64(time.Since(r.created).Microseconds()) / 1000)
	})); err != nil {
		return err
	}
	return r.vm.Set("performance", performance)
}

// hostFunc counts the call and, while profiling, records a hit for the
// calling script location. Host functions only run inside an evaluation,
// so r.mu is already held.
func (r *Runtime) hostFunc(fn func(goja.FunctionCall) goja.Value) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		r.stats.HostCalls++
		if r.profiling {
			r.recordHit()
		}
		return fn(call)
	}
}

func (r *Runtime) recordHit() {
	for _, frame := range r.vm.CaptureCallStack(4, nil) {
		pos := frame.Position()
		if pos.Line <= 0 {
			continue
		}
		loc := fmt.Sprintf("%s:%d", pos.Filename, pos.Line)
		if _, seen := r.hits[loc]; !seen {
			r.hitOrder = append(r.hitOrder, loc)
		}
		r.hits[loc]++
		return
	}
}

func (r *Runtime) writeLine(args []goja.Value) {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = arg.String()
	}
	fmt.Fprintln(r.config.Output, strings.Join(parts, " "))
}

func exportString(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return ""
	}
	return val.String()
}

// scriptError flattens goja's error types into a message suitable for a
// failure reply.
func scriptError(err error) error {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return errors.New(exception.Value().String())
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("interrupted: %v", interrupted.Value())
	}
	return err
}

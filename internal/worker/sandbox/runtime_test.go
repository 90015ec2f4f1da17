package sandbox

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newRuntime(t *testing.T, out *bytes.Buffer) *Runtime {
	t.Helper()
	config := DefaultConfig()
	config.Output = out
	runtime, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { runtime.Close() })
	return runtime
}

func TestEvaluate(t *testing.T) {
	runtime := newRuntime(t, &bytes.Buffer{})

	tests := []struct {
		name    string
		script  string
		want    string
		wantErr bool
	}{
		{name: "simple return", script: "42", want: "42"},
		{name: "string operations", script: "'hello'.toUpperCase()", want: "HELLO"},
		{name: "undefined", script: "var x = 1;", want: ""},
		{name: "throw", script: "throw new Error('boom')", wantErr: true},
		{name: "syntax error", script: "function (", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runtime.Evaluate(context.Background(), "test.js", []byte(tt.script))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestThrownMessage(t *testing.T) {
	runtime := newRuntime(t, &bytes.Buffer{})

	_, err := runtime.Evaluate(context.Background(), "test.js", []byte("throw new Error('boom')"))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected error mentioning boom, got %v", err)
	}
}

func TestSecurityRestrictions(t *testing.T) {
	runtime := newRuntime(t, &bytes.Buffer{})

	for _, name := range []string{"require", "process", "module", "exports"} {
		got, err := runtime.Evaluate(context.Background(), "test.js", []byte("typeof "+name))
		if err != nil {
			t.Fatalf("Evaluate(typeof %s) error: %v", name, err)
		}
		if got != "undefined" {
			t.Errorf("typeof %s = %q, want undefined", name, got)
		}
	}
}

func TestPrintWritesOutput(t *testing.T) {
	var out bytes.Buffer
	runtime := newRuntime(t, &out)

	if _, err := runtime.Evaluate(context.Background(), "test.js", []byte("print('a', 1); console.log('b')")); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if got := out.String(); got != "a 1\nb\n" {
		t.Errorf("output = %q", got)
	}
}

func TestTimeout(t *testing.T) {
	config := DefaultConfig()
	config.Timeout = 50 * time.Millisecond
	runtime, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}

	start := time.Now()
	_, err = runtime.Evaluate(context.Background(), "loop.js", []byte("while(true) {}"))
	if err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}

	// the runtime remains usable
	got, err := runtime.Evaluate(context.Background(), "after.js", []byte("1 + 1"))
	if err != nil || got != "2" {
		t.Errorf("Evaluate() after timeout = %q, %v", got, err)
	}
}

func TestContextCancellation(t *testing.T) {
	runtime := newRuntime(t, &bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := runtime.Evaluate(ctx, "loop.js", []byte("for(;;) {}")); err == nil {
		t.Fatal("Expected cancellation error, got nil")
	}
}

func TestProfilingRecordsHostCallSites(t *testing.T) {
	runtime := newRuntime(t, &bytes.Buffer{})

	script := "for (var i = 0; i < 3; i++) {\n  performance.now();\n}\ngc();\n"

	runtime.StartProfiling()
	if _, err := runtime.Evaluate(context.Background(), "test.js", []byte(script)); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	instruments, profile := runtime.StopProfiling()

	if len(profile.Hits) != 2 {
		t.Fatalf("expected 2 hit locations, got %+v", profile.Hits)
	}
	if profile.Hits[0].Location != "test.js:2" || profile.Hits[0].Count != 3 {
		t.Errorf("first hit = %+v, want test.js:2 x3", profile.Hits[0])
	}
	if profile.Hits[1].Location != "test.js:4" || profile.Hits[1].Count != 1 {
		t.Errorf("second hit = %+v, want test.js:4 x1", profile.Hits[1])
	}

	if instruments["hostCalls"] != 4 {
		t.Errorf("hostCalls = %v, want 4", instruments["hostCalls"])
	}
	if instruments["evaluations"] != 1 {
		t.Errorf("evaluations = %v, want 1", instruments["evaluations"])
	}
	if instruments["garbageCollects"] != 1 {
		t.Errorf("garbageCollects = %v, want 1", instruments["garbageCollects"])
	}
}

func TestNoHitsOutsideCapture(t *testing.T) {
	runtime := newRuntime(t, &bytes.Buffer{})

	if _, err := runtime.Evaluate(context.Background(), "warmup.js", []byte("gc()")); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	runtime.StartProfiling()
	_, profile := runtime.StopProfiling()
	if len(profile.Hits) != 0 {
		t.Errorf("expected no hits, got %+v", profile.Hits)
	}

	// stopping twice yields an empty capture
	_, profile = runtime.StopProfiling()
	if profile == nil || len(profile.Hits) != 0 {
		t.Errorf("expected empty profile, got %+v", profile)
	}
}

func TestHandleCommand(t *testing.T) {
	runtime := newRuntime(t, &bytes.Buffer{})

	if _, err := runtime.HandleCommand(context.Background(), []byte("x")); !errors.Is(err, ErrNoCommandHandler) {
		t.Errorf("expected ErrNoCommandHandler, got %v", err)
	}

	script := "function handleCommand(body) { return 'got:' + body; }"
	if _, err := runtime.Evaluate(context.Background(), "handler.js", []byte(script)); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	got, err := runtime.HandleCommand(context.Background(), []byte("ping"))
	if err != nil {
		t.Fatalf("HandleCommand() error: %v", err)
	}
	if string(got) != "got:ping" {
		t.Errorf("HandleCommand() = %q", got)
	}
}

func TestStats(t *testing.T) {
	runtime := newRuntime(t, &bytes.Buffer{})

	for i := 0; i < 3; i++ {
		if _, err := runtime.Evaluate(context.Background(), "test.js", []byte("print()")); err != nil {
			t.Fatalf("Evaluate() error: %v", err)
		}
	}

	stats := runtime.Stats()
	if stats.Evaluations != 3 || stats.HostCalls != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMeter(t *testing.T) {
	runtime := newRuntime(t, &bytes.Buffer{})

	if _, err := runtime.Evaluate(context.Background(), "test.js", []byte("gc(); print()")); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	meter := runtime.Meter()
	if meter.Compute != 2 {
		t.Errorf("Compute = %d, want 2", meter.Compute)
	}
	if meter.GarbageCollectionCount != 1 {
		t.Errorf("GarbageCollectionCount = %d, want 1", meter.GarbageCollectionCount)
	}
	if meter.Allocate == 0 {
		t.Error("expected non-zero Allocate")
	}
}

/*
Package tracing times the phases of a profiling run.

# Overview

A run is one trace whose id is the session id; each phase (spawn, capture,
await, persist, shutdown) is a span. Finished spans are logged and their
durations recorded in the phase histogram. The status server's requests
are traced the same way.

# Usage

	tracer := tracing.New("xsbug", logger, metrics)
	ctx = tracing.WithTraceID(ctx, tracing.TraceID(session.ID))

	span, ctx := tracer.StartSpan(ctx, "persist")
	span.SetTag("path", path)
	err := writer.Persist(profile, path)
	tracer.End(span, err)

	// HTTP middleware
	router.Use(tracing.HTTPMiddleware(tracer))

# Trace Format

Traces use standard HTTP headers for propagation:
- X-Trace-ID: Unique identifier for entire request flow
- X-Span-ID: Identifier for current operation
*/
package tracing

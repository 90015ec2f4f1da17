/*
Package monitoring provides metrics collection for the bridge.

# Overview

This package implements Prometheus-based metrics for the debugger process,
tracking traffic on every worker channel, worker lifetimes, profiling
sessions and artifact persistence.

# Features

- Frame and byte counters per channel role
- Framing errors by kind
- Live worker gauge and exit counts by code and signal
- Session outcomes and durations
- Event dispatch counts by tag
- Artifact writes

# Usage

	metrics := monitoring.NewMetrics()

	metrics.RecordFrameEncoded("command-out", 12)
	metrics.RecordSession("complete", time.Since(start))

A nil *Metrics is valid and records nothing.

# Metrics Endpoint

Each Metrics owns a registry; expose it with promhttp:

	handler := promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})
	router.GET("/metrics", gin.WrapH(handler))
*/
package monitoring

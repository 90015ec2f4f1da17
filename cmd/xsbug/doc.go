// Package main is the xsbug profiling host.
//
// xsbug spawns the instrumented worker, starts a CPU profile, sends the
// script for evaluation, stops the profile on the worker's first
// acknowledgment and waits for the instruments and profile events. It then
// logs the instruments and the top hits and writes the profile artifact.
//
// Configuration:
//   - Environment variables (12-factor, see internal/infrastructure/config)
//   - Optional YAML or TOML file (-config)
//   - CLI flags (override both)
//
// Usage:
//
//	# Profile test.js with the worker from ../build/bin/<platform>/debug
//	./xsbug
//
//	# Explicit worker, compressed artifact, status endpoint
//	./xsbug -worker ./xsnap-worker -script bench.js -artifact out.cpuprofile.zst -status :9100
//
// Exit codes:
//   - 0: profile captured and written
//   - 1: the run failed or the capture was incomplete
//   - 2: invalid flags or configuration
//
// Signals:
//   - SIGINT, SIGTERM: abort the run and shut the worker down
package main

// Package server exposes the debugger over HTTP.
//
// Routes:
//   - GET /healthz: liveness
//   - GET /status: current debugger snapshot as JSON
//   - GET /metrics: Prometheus exposition of the run's private registry
//
// The server is optional; xsbug starts it only when a status address is
// configured.
package server

// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Output defaults to stderr. The worker inherits the debugger's stdout for
// its own diagnostics, and interleaving JSON log lines there makes both
// harder to read.
//
// Components derive named children so every line carries its origin:
//
//	logger := logging.NewDefault()
//	log := logger.Named("bridge")
//	log.Info("worker started", zap.Int("pid", pid))
//	log.Error("spawn failed", zap.Error(err))
package logging

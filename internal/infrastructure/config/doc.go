// Package config provides 12-factor configuration for the debugger.
//
// Configuration is loaded from environment variables with sensible defaults.
// An optional YAML or TOML file overlays the environment, and CLI flags
// override both.
//
// Configuration Sections:
//   - Worker: worker executable resolution and stdio handling
//   - Protocol: frame size limit
//   - Session: completion timeout and stop trigger
//   - Artifact: profile output path and hit report size
//   - Logging: log level and output format
//   - Status: optional HTTP status endpoint
//
// Example Usage:
//
//	cfg, err := config.LoadFile("xsbug.yaml")
//	if err != nil {
//		return err
//	}
//	timeout := cfg.Session.CompletionTimeout.Std()
//
// Environment Variables:
//   - XSBUG_WORKER, XSBUG_BUILD_ROOT, XSBUG_BUILD_CONFIG, XSBUG_WORKER_NAME
//   - XSBUG_WORKER_ARGS, XSBUG_STDIO, XSBUG_MAX_FRAME_SIZE
//   - XSBUG_COMPLETION_TIMEOUT, XSBUG_STOP_ON
//   - XSBUG_ARTIFACT, XSBUG_TOP_HITS
//   - XSBUG_STATUS_ADDR, XSBUG_STATUS_ORIGINS, XSBUG_STATUS_RPS, XSBUG_STATUS_BURST
//   - LOG_LEVEL, LOG_DEV
package config

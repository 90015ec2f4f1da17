// Package main is the reference worker for the xsbug bridge.
//
// The worker reads commands from fd 3, replies on fd 4, ignores events on
// fd 5 and emits events on fd 6. Scripts run in an embedded JavaScript
// engine; print() and console output go to stdout.
//
// Usage:
//
//	# normally launched by xsbug
//	./xsnap-worker -timeout 30s
//
// Exit codes:
//   - 0: command stream closed
//   - 1: invalid arguments
//   - 2: channel or engine failure
package main

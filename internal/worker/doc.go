/*
Package worker implements the worker side of the bridge protocol.

A worker process inherits four pipes:

	fd 3  commands from the host (netstring frames)
	fd 4  replies to the host
	fd 5  events from the host (drained and ignored)
	fd 6  events to the host

Server reads one command at a time, runs it against an Engine and writes
the reply. Profiling commands are not acknowledged; stopping a capture
emits an instruments event followed by a profile event. The loop ends
when the command stream closes.
*/
package worker

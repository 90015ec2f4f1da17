/*
Package sandbox is the script engine of the reference worker.

# Overview

Scripts run in a goja VM with a minimal global scope:

  - print(...args) and console.log/warn/error/info write a line to the
    configured output
  - gc() requests a Go garbage collection
  - performance.now() returns milliseconds since the runtime started
  - require, process, module and exports are undefined

# Profiling

While profiling is on, every call into a host function records a hit for
the script location it was called from ("file.js:line"). Stopping returns
the hits in first-seen order along with instruments describing the
capture window.

# Limits

Each evaluation is interrupted when the configured timeout expires or its
context ends. The call stack depth is bounded.

# Usage Example

	rt, err := sandbox.New(sandbox.DefaultConfig())
	if err != nil {
		return err
	}
	rt.StartProfiling()
	value, err := rt.Evaluate(ctx, "test.js", src)
	instruments, profile := rt.StopProfiling()
*/
package sandbox

// Package debugger runs one profiling capture end to end.
//
// Run spawns the worker, starts the capture, sends the script, waits for
// the worker's acknowledgment to stop the capture, collects the
// instruments and profile events, persists the profile and shuts the
// worker down. The event stream and the reply channel are each read on
// their own goroutine; everything else happens on the caller's.
//
// Example Usage:
//
//	dbg := debugger.New(logger, metrics, debugger.Options{
//		WorkerPath:        path,
//		Stdio:             bridge.StdioInherit,
//		CompletionTimeout: 10 * time.Second,
//		TopHits:           10,
//	})
//	report, err := dbg.Run(ctx, debugger.Request{Script: src, ArtifactPath: "./test.cpuprofile"})
package debugger

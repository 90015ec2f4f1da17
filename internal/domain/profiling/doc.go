// Package profiling drives one profiling capture on a worker.
//
// A Session moves through three states:
//
//	Idle --Start--> Recording --Stop or acknowledgment--> Stopped
//
// Start writes the start-capture command on the command channel. The
// capture ends either when the host calls Stop or when the worker
// acknowledges on its reply channel; both paths emit exactly one
// stop-capture command. What counts as an acknowledgment is set by the
// AckPolicy: any data at all (AckAnyData) or a complete OK reply frame
// (AckReply).
//
// Once stopped the session waits for the worker's instruments and profile
// events. If either is missing when the completion timeout expires the
// session is marked incomplete and Wait returns a SessionIncompleteError.
// The bridge and worker are unaffected.
//
// Example Usage:
//
//	session := profiling.New(worker.Channel(bridge.CommandOut), logger, metrics, settings)
//	session.Attach(router)
//	if err := session.Start(); err != nil {
//		return err
//	}
//	go session.WatchAcknowledgments(ctx, worker.Channel(bridge.CommandIn))
//	result, err := session.Wait(ctx)
package profiling

// Package bridge launches the worker process and owns the pipes that
// connect it to the host.
//
// Besides its standard streams, the worker receives four dedicated
// channels, bound by role rather than by position:
//
//	role         fd  direction
//	command-out  3   host -> worker   framed commands
//	command-in   4   worker -> host   replies and acknowledgments
//	event-out    5   host -> worker   host debug traffic
//	event-in     6   worker -> host   debug events
//
// Other components get read or write access to a Channel but never close
// one. When the worker exits its outbound channels are closed immediately;
// inbound channels deliver whatever the worker wrote and then fail with
// ChannelClosedError. Closing the bridge kills a live worker and closes
// everything, unblocking in-flight reads and writes.
//
// Example Usage:
//
//	path, err := bridge.ResolveExecutable(bridge.CurrentPlatform(), bridge.DefaultPlatforms(), layout)
//	if err != nil {
//		return err
//	}
//	b := bridge.New(logger, metrics, bridge.Options{Stdio: bridge.StdioInherit})
//	defer b.Close()
//	worker, err := b.Spawn(path)
//	if err != nil {
//		return err
//	}
//	err = worker.Channel(bridge.CommandOut).WriteFrame(command.Evaluate(src))
package bridge

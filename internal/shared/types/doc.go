// Package types provides the data structures shared by the debugger
// components.
//
// Core Types:
//   - Instruments: one-shot snapshot of named runtime metrics
//   - Hit: a source location and how often it was sampled
//   - Profile: ordered hit records produced at the end of a capture
//   - ExitStatus: how a worker process terminated
//   - Status: point-in-time view of a debugger run
//
// Example Usage:
//
//	profile := &types.Profile{Hits: []types.Hit{{Location: "a.js:1", Count: 5}}}
//	for _, hit := range profile.TopN(10) {
//	    fmt.Println(hit.Location, hit.Count)
//	}
package types

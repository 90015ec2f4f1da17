// Package events decodes debug events from the worker and dispatches them
// to handlers.
//
// Each frame on the event channel carries one tagged message: a tag made
// of letters, digits, '_' or '-', then the body.
//
//	instruments{"opsPerSecond":1000}
//	profile{"hits":[["a.js:1",5]]}
//
// Handlers are kept in an explicit table keyed by tag and run synchronously
// in registration order. Frames are dispatched in arrival order, so a slow
// handler delays the frames behind it. Unknown tags are ignored.
package events

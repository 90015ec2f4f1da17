// Package netstring implements the length-prefixed framing used on every
// channel between the debugger and the worker.
//
// A frame is the ASCII decimal length of the payload, a colon, the payload
// bytes and a trailing comma:
//
//	5:hello,
//
// The length counts payload bytes only. Payloads may contain any byte,
// including ':' and ','.
package netstring

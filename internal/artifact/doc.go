// Package artifact persists profiles to disk and reads them back.
//
// The artifact is the profile as JSON:
//
//	{"hits":[["a.js:1",5],["b.js:12",2]]}
//
// A destination ending in .gz is gzip compressed and one ending in .zst is
// zstd compressed. Writes go to a temporary file in the destination
// directory which is then renamed into place, so a reader never sees a
// partial artifact.
package artifact

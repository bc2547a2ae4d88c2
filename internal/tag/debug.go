//go:build debug
// +build debug

package tag

// Debug is true in builds with "debug" tag. Such builds check cache invariants after every mutation.
const Debug = true

// Package cache provides bounded key/value store with pluggable eviction policy.
//
// Store accounts memory in caller declared sizes: every entry carries size
// which is not required to be equal to value length. Sum of sizes of live entries
// never exceeds store capacity.
//
// When there is no room for a new entry, Store asks its Policy for eviction candidates
// until the entry fits. Without Policy such entry is rejected.
// Policy knows nothing about Store content: it only orders keys that were touched
// (inserted or read). Store tolerates eviction of keys which are already absent.
//
// Store is not safe for concurrent use. Wrap it with Locked to share it between goroutines.
package cache

// Package registry holds the live set of discovered topics. It provides a
// thread-safe topic registry with staleness eviction and point-in-time,
// name-ordered snapshots that are safe to hand to any number of readers.
package registry

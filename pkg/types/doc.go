// Package types defines shared Go types used across topicwatch packages.
// These are the canonical in-memory representations of the topic graph,
// separate from the JSON shapes served by the REST API.
package types

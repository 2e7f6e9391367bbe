// Package discovery learns the live topic set from the pub/sub middleware and
// reconciles it into the registry.
//
// Source is the middleware boundary: Static (fixed list, useful in
// development), foxglove.Client and natsgraph.Source implement it.
//
// Poller.Run polls immediately, then on a fixed interval. Each successful
// poll upserts every observed topic that passes the Filter and then evicts
// topics not re-observed within the grace period. A failed poll is logged
// and skipped: nothing is inserted or evicted, and the next tick retries
// with the same interval.
package discovery

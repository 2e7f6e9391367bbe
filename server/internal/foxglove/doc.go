// Package foxglove implements a discovery source backed by a Foxglove
// WebSocket bridge (subprotocol foxglove.websocket.v1).
//
// Client.Run keeps one connection to the bridge and tracks its channel
// advertisements: serverInfo starts a fresh session, advertise adds channels,
// unadvertise removes them, status frames are logged. On disconnect the state
// is cleared and Run reconnects with truncated exponential backoff (1s → 60s,
// ±25% jitter). The backoff resets only once a connection reaches serverInfo,
// so a bridge that accepts and immediately drops keeps backing off.
//
// Client.Discover reads the tracked channels only. While no session is live
// it returns ErrNotConnected, which the poller treats as a failed poll.
package foxglove

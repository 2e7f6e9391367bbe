// Package ws implements the WebSocket hub for topicwatch.
//
// Hub manages a set of connected clients and broadcasts the current topic
// snapshot to all of them on a configurable interval (stream.interval, 2s by
// default).
//
// New(registry, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker. It blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// snapshot immediately on connect, then streams updates on each tick.
// Clients whose send buffer fills up are disconnected.
//
// Message format sent to clients:
//
//	{
//	  "event": "topics",
//	  "data":  { /* same schema as GET /api/v1/snapshot */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/topics by the server.
package ws

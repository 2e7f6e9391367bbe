// Package api implements the HTTP REST API for topicwatch.
//
// New(registry, opts...) returns an http.Handler that serves:
//
//	GET /api/v1/health          poll state, topic count, consecutive failures
//	GET /api/v1/topics          all known topics ([]TopicResponse, by name)
//	GET /api/v1/topics/{name}   single topic, name as given or with a leading "/"; 404 if unknown
//	GET /api/v1/snapshot        full topic records + generated_at
//	GET /api/v1/schemas         cached message definitions; ?type= filters
//	GET /api/v1/events          recent topic change events
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//   - Read the registry only, so they answer even while the middleware is down
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api

// Package schema caches message definitions advertised by the middleware.
// Records are keyed by message type and the SHA-256 of the definition text,
// so repeated advertisements of the same schema are a no-op.
package schema

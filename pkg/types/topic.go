package types

import "time"

// Topic is one named, typed channel of the pub/sub graph.
type Topic struct {
	// Name is the topic name, e.g. "/camera/image_raw". Unique within a registry.
	Name string `json:"name"`

	// Type is the namespaced message type tag, e.g. "sensor_msgs/Image".
	Type string `json:"type"`

	// Encoding is the wire encoding advertised by the middleware (cdr, json).
	// Empty when the source does not report one.
	Encoding string `json:"encoding,omitempty"`

	// LastSeen is the time discovery last observed this topic.
	LastSeen time.Time `json:"last_seen"`
}

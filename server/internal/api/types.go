package api

// TopicResponse is one entry in GET /api/v1/topics.
type TopicResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TopicDetail is a full topic record in GET /api/v1/topics/{name} and
// GET /api/v1/snapshot.
type TopicDetail struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Encoding string `json:"encoding,omitempty"`
	LastSeen string `json:"last_seen"` // RFC3339
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State               string `json:"state"` // "ok" | "degraded" | "unknown"
	Source              string `json:"source,omitempty"`
	TopicCount          int    `json:"topic_count"`
	LastPoll            string `json:"last_poll,omitempty"`
	LastSuccess         string `json:"last_success,omitempty"`
	LastError           string `json:"last_error,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot.
type SnapshotResponse struct {
	Topics      []TopicDetail `json:"topics"`
	GeneratedAt string        `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

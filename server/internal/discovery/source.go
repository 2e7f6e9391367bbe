package discovery

import (
	"context"

	"github.com/topicwatch/topicwatch/server/internal/config"
)

// Observation is the middleware's view of one live topic during a poll.
type Observation struct {
	Name     string
	Type     string
	Encoding string

	// Schema is the raw message definition, when the middleware provides one.
	Schema string

	// SchemaEncoding names the definition format (ros2msg, jsonschema, ...).
	SchemaEncoding string
}

// Source is implemented by every middleware the poller can query.
//
// Discover returns the complete live topic set. A non-nil error means the
// middleware could not be queried; the returned slice is then ignored.
type Source interface {
	Discover(ctx context.Context) ([]Observation, error)
}

// SourceFunc adapts an ordinary function to the Source interface.
type SourceFunc func(ctx context.Context) ([]Observation, error)

// Discover calls f(ctx).
func (f SourceFunc) Discover(ctx context.Context) ([]Observation, error) { return f(ctx) }

// Static is a Source that always reports the same fixed topic set.
type Static struct {
	topics []Observation
}

// NewStatic builds a Static source from configured topics.
func NewStatic(topics []config.StaticTopic) *Static {
	obs := make([]Observation, 0, len(topics))
	for _, t := range topics {
		obs = append(obs, Observation{Name: t.Name, Type: t.Type, Encoding: t.Encoding})
	}
	return &Static{topics: obs}
}

// Discover returns a copy of the configured topic set.
func (s *Static) Discover(context.Context) ([]Observation, error) {
	out := make([]Observation, len(s.topics))
	copy(out, s.topics)
	return out, nil
}

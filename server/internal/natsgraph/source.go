package natsgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/topicwatch/topicwatch/server/internal/discovery"
)

// Requester is the part of *nats.Conn the source needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Source discovers topics by asking a graph responder over NATS request/reply.
type Source struct {
	req     Requester
	subject string
	timeout time.Duration
}

var _ discovery.Source = (*Source)(nil)

// New returns a Source that sends requests on subject through req, bounding
// each request by timeout.
func New(req Requester, subject string, timeout time.Duration) *Source {
	return &Source{req: req, subject: subject, timeout: timeout}
}

// Connect dials url and keeps retrying in the background, so a broker that is
// down at startup shows up as failed polls instead of a startup error.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("topicwatch"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("natsgraph: disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("natsgraph: reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsgraph: connect %s: %w", url, err)
	}
	return nc, nil
}

// graphTopic is one entry of a graph reply.
type graphTopic struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Encoding string `json:"encoding,omitempty"`
}

// Discover sends one request and decodes the reply.
func (s *Source) Discover(ctx context.Context) ([]discovery.Observation, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	msg, err := s.req.RequestWithContext(ctx, s.subject, nil)
	if err != nil {
		return nil, fmt.Errorf("natsgraph: request %s: %w", s.subject, err)
	}

	topics, err := decodeReply(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("natsgraph: decode reply: %w", err)
	}

	obs := make([]discovery.Observation, 0, len(topics))
	for _, t := range topics {
		obs = append(obs, discovery.Observation{
			Name:     t.Name,
			Type:     t.Type,
			Encoding: t.Encoding,
		})
	}
	return obs, nil
}

// decodeReply accepts a bare array or an object with a "topics" array.
// A null reply (a nil slice marshalled by the responder) is rejected rather
// than read as "no topics", so it cannot empty the registry; an empty graph
// must be sent as [].
func decodeReply(data []byte) ([]graphTopic, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("reply is null")
	}

	var list []graphTopic
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Topics *[]graphTopic `json:"topics"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Topics == nil {
		return nil, errors.New("reply has no topics field")
	}
	return *wrapped.Topics, nil
}

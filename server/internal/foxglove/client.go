package foxglove

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/topicwatch/topicwatch/server/internal/discovery"
	"github.com/topicwatch/topicwatch/server/internal/schema"
)

const (
	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second
)

// ErrNotConnected is returned by Discover while there is no live bridge session.
var ErrNotConnected = errors.New("foxglove: not connected")

// Client keeps a connection to a Foxglove WebSocket bridge and tracks the
// channels it advertises. Run owns the connection; Discover only reads the
// tracked state and never performs I/O.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	initial time.Duration
	max     time.Duration

	mu        sync.RWMutex
	connected bool
	sessions  uint64 // serverInfo frames seen over the client's lifetime
	channels  map[uint64]Channel
}

// Option configures a Client.
type Option func(*Client)

// WithBackoff overrides the reconnect backoff bounds (default 1s → 60s).
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.initial = initial
		c.max = max
	}
}

// New creates a Client for the bridge at url (ws:// or wss://).
func New(url string, opts ...Option) *Client {
	c := &Client{
		url: url,
		dialer: &websocket.Dialer{
			Subprotocols:     []string{Subprotocol},
			HandshakeTimeout: handshakeTimeout,
		},
		initial:  backoffInitial,
		max:      backoffMax,
		channels: make(map[uint64]Channel),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ discovery.Source = (*Client)(nil)

// Discover returns the currently advertised topics, ordered by name. Several
// channels may carry the same topic; the lowest channel id wins.
func (c *Client) Discover(context.Context) ([]discovery.Observation, error) {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return nil, ErrNotConnected
	}
	chans := make([]Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		chans = append(chans, ch)
	}
	c.mu.RUnlock()

	sort.Slice(chans, func(i, j int) bool {
		if chans[i].Topic != chans[j].Topic {
			return chans[i].Topic < chans[j].Topic
		}
		return chans[i].ID < chans[j].ID
	})

	out := make([]discovery.Observation, 0, len(chans))
	for i, ch := range chans {
		if i > 0 && chans[i-1].Topic == ch.Topic {
			continue
		}
		enc := ch.SchemaEncoding
		if enc == "" {
			enc = schema.GuessEncoding(ch.Schema)
		}
		out = append(out, discovery.Observation{
			Name:           ch.Topic,
			Type:           ch.SchemaName,
			Encoding:       ch.Encoding,
			Schema:         ch.Schema,
			SchemaEncoding: enc,
		})
	}
	return out, nil
}

// Connected reports whether a bridge session is live.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Run connects to the bridge and keeps reading its control frames, reconnecting
// with exponential backoff when the connection drops. Run blocks until ctx is
// cancelled.
func (c *Client) Run(ctx context.Context) {
	bo := newBackoff(c.initial, c.max)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil && conn.Subprotocol() != Subprotocol {
			conn.Close()
			err = fmt.Errorf("bridge did not negotiate %s", Subprotocol)
		}
		if err != nil {
			wait := bo.next()
			slog.Error("foxglove: dial failed, will retry",
				"url", c.url, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("foxglove: connected", "url", c.url)

		before := c.sessionCount()
		err = c.session(ctx, conn)
		c.reset()

		// Only a connection that got as far as serverInfo counts as a
		// session. A bridge that accepts and drops keeps backing off.
		if c.sessionCount() != before {
			bo.reset()
		}

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("foxglove: connection lost, will reconnect",
			"url", c.url, "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session reads frames until the connection fails or ctx is cancelled.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)) //nolint:errcheck
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		// Binary frames carry message payloads; discovery only needs control frames.
		if typ != websocket.TextMessage {
			continue
		}
		if err := c.handle(data); err != nil {
			slog.Warn("foxglove: bad control frame", "err", err)
		}
	}
}

// handle applies one JSON control frame to the tracked channel set.
func (c *Client) handle(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Op {
	case opServerInfo:
		var m serverInfoMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode serverInfo: %w", err)
		}
		c.mu.Lock()
		c.connected = true
		c.sessions++
		c.channels = make(map[uint64]Channel)
		c.mu.Unlock()
		slog.Info("foxglove: session started", "server", m.Name, "capabilities", m.Capabilities)

	case opAdvertise:
		var m advertiseMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode advertise: %w", err)
		}
		c.mu.Lock()
		for _, ch := range m.Channels {
			c.channels[ch.ID] = ch
		}
		c.mu.Unlock()
		slog.Debug("foxglove: channels advertised", "count", len(m.Channels))

	case opUnadvertise:
		var m unadvertiseMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode unadvertise: %w", err)
		}
		c.mu.Lock()
		for _, id := range m.ChannelIDs {
			delete(c.channels, id)
		}
		c.mu.Unlock()
		slog.Debug("foxglove: channels unadvertised", "count", len(m.ChannelIDs))

	case opStatus:
		var m statusMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		switch m.Level {
		case statusError:
			slog.Error("foxglove: bridge status", "message", m.Message)
		case statusWarning:
			slog.Warn("foxglove: bridge status", "message", m.Message)
		default:
			slog.Info("foxglove: bridge status", "message", m.Message)
		}

	default:
		slog.Debug("foxglove: ignoring op", "op", env.Op)
	}
	return nil
}

func (c *Client) sessionCount() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions
}

// reset drops all session state after a disconnect.
func (c *Client) reset() {
	c.mu.Lock()
	c.connected = false
	c.channels = make(map[uint64]Channel)
	c.mu.Unlock()
}

package notify

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/topicwatch/topicwatch/pkg/types"
	"github.com/topicwatch/topicwatch/server/internal/config"
)

const maxHistoryLen = 200

// Event describes one change to the topic set.
type Event struct {
	ID      string        `json:"id"`
	At      time.Time     `json:"at"`
	Added   []types.Topic `json:"added"`
	Removed []types.Topic `json:"removed"`
	Message string        `json:"message"`
}

// Notifier records topic change events and delivers them to the configured
// webhooks.
//
// Notifier is safe for concurrent use.
type Notifier struct {
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu      sync.Mutex // guards history and closed, and orders wg.Add before wg.Wait
	history []Event
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Notifier. A Notifier without webhooks still keeps history.
func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// TopicsChanged records an event and delivers it asynchronously. Calls with
// nothing added or removed are ignored. After Close, events are still
// recorded but no longer delivered.
func (n *Notifier) TopicsChanged(added, removed []types.Topic) {
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	ev := Event{
		ID:      uuid.NewString(),
		At:      n.now().UTC(),
		Added:   append([]types.Topic{}, added...),
		Removed: append([]types.Topic{}, removed...),
	}
	ev.Message = summary(ev)

	n.mu.Lock()
	n.history = append(n.history, ev)
	if len(n.history) > maxHistoryLen {
		n.history = n.history[len(n.history)-maxHistoryLen:]
	}
	deliver := len(n.webhooks) > 0 && !n.closed
	dropped := len(n.webhooks) > 0 && n.closed
	if deliver {
		n.wg.Add(1)
	}
	n.mu.Unlock()

	slog.Info("notify: topics changed", "added", len(ev.Added), "removed", len(ev.Removed))

	if dropped {
		slog.Warn("notify: closed, event not delivered", "event", ev.ID)
	}
	if !deliver {
		return
	}
	go func() {
		defer n.wg.Done()
		n.deliver(ev)
	}()
}

// Recent returns recorded events, newest first by arrival order.
func (n *Notifier) Recent() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Event, len(n.history))
	for i, ev := range n.history {
		out[len(out)-1-i] = ev
	}
	return out
}

// Close stops new deliveries and blocks until in-flight ones finish. It is
// safe to call concurrently with TopicsChanged and more than once.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}

func summary(ev Event) string {
	var parts []string
	if len(ev.Added) > 0 {
		parts = append(parts, fmt.Sprintf("%d added (%s)", len(ev.Added), names(ev.Added)))
	}
	if len(ev.Removed) > 0 {
		parts = append(parts, fmt.Sprintf("%d removed (%s)", len(ev.Removed), names(ev.Removed)))
	}
	return "Topics changed: " + strings.Join(parts, ", ")
}

// names joins up to five topic names.
func names(ts []types.Topic) string {
	const max = 5
	out := make([]string, 0, max)
	for i, t := range ts {
		if i == max {
			out = append(out, fmt.Sprintf("+%d more", len(ts)-max))
			break
		}
		out = append(out, t.Name)
	}
	return strings.Join(out, ", ")
}

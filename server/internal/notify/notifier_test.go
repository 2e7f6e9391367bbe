package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topicwatch/topicwatch/pkg/types"
	"github.com/topicwatch/topicwatch/server/internal/config"
	"github.com/topicwatch/topicwatch/server/internal/discovery"
)

var _ discovery.Notifier = (*Notifier)(nil)

type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	status int
}

func (c *capture) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		status := c.status
		c.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capture) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte{}, c.bodies...)
}

func webhook(t *testing.T, typ, env, url string) config.WebhookConfig {
	t.Setenv(env, url)
	return config.WebhookConfig{Type: typ, URLEnv: env}
}

func TestTopicsChanged_DeliversToAllTargets(t *testing.T) {
	var slack, teams, generic capture
	n := New(config.NotifyConfig{Webhooks: []config.WebhookConfig{
		webhook(t, "slack", "TW_SLACK", slack.server(t).URL),
		webhook(t, "teams", "TW_TEAMS", teams.server(t).URL),
		webhook(t, "http", "TW_HTTP", generic.server(t).URL),
	}})

	n.TopicsChanged([]types.Topic{{Name: "/chatter", Type: "std_msgs/msg/String"}}, nil)
	n.Close()

	require.Len(t, slack.all(), 1)
	var s map[string]string
	require.NoError(t, json.Unmarshal(slack.all()[0], &s))
	assert.Contains(t, s["text"], "/chatter")

	require.Len(t, teams.all(), 1)
	var card map[string]interface{}
	require.NoError(t, json.Unmarshal(teams.all()[0], &card))
	assert.Equal(t, "MessageCard", card["@type"])

	require.Len(t, generic.all(), 1)
	var h struct {
		Event Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal(generic.all()[0], &h))
	require.Len(t, h.Event.Added, 1)
	assert.Equal(t, "/chatter", h.Event.Added[0].Name)
	assert.Empty(t, h.Event.Removed)
}

func TestTopicsChanged_IgnoresNoop(t *testing.T) {
	var c capture
	n := New(config.NotifyConfig{Webhooks: []config.WebhookConfig{
		webhook(t, "http", "TW_HTTP", c.server(t).URL),
	}})

	n.TopicsChanged(nil, nil)
	n.Close()

	assert.Empty(t, c.all())
	assert.Empty(t, n.Recent())
}

func TestTopicsChanged_SkipsMissingURLAndFailures(t *testing.T) {
	c := capture{status: http.StatusInternalServerError}
	n := New(config.NotifyConfig{Webhooks: []config.WebhookConfig{
		{Type: "http", URLEnv: "TW_UNSET_WEBHOOK"},
		webhook(t, "http", "TW_HTTP", c.server(t).URL),
	}})

	n.TopicsChanged(nil, []types.Topic{{Name: "/gone"}})
	n.Close()

	assert.Len(t, c.all(), 1)
	assert.Len(t, n.Recent(), 1, "failed delivery still records the event")
}

func TestRecent_NewestFirstAndBounded(t *testing.T) {
	n := New(config.NotifyConfig{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	n.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Second)
	}

	for k := 0; k < maxHistoryLen+5; k++ {
		n.TopicsChanged([]types.Topic{{Name: "/t"}}, nil)
	}

	recent := n.Recent()
	require.Len(t, recent, maxHistoryLen)
	assert.True(t, recent[0].At.After(recent[1].At))
	assert.Equal(t, base.Add(time.Duration(maxHistoryLen+5)*time.Second), recent[0].At)
}

func TestSummary(t *testing.T) {
	ev := Event{
		Added:   []types.Topic{{Name: "/a"}, {Name: "/b"}},
		Removed: []types.Topic{{Name: "/1"}, {Name: "/2"}, {Name: "/3"}, {Name: "/4"}, {Name: "/5"}, {Name: "/6"}},
	}
	assert.Equal(t, "Topics changed: 2 added (/a, /b), 6 removed (/1, /2, /3, /4, /5, +1 more)", summary(ev))
}

func TestRecent_OrderWithTiedTimestamps(t *testing.T) {
	n := New(config.NotifyConfig{})
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	n.TopicsChanged([]types.Topic{{Name: "/first"}}, nil)
	n.TopicsChanged([]types.Topic{{Name: "/second"}}, nil)

	recent := n.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "/second", recent[0].Added[0].Name)
	assert.Equal(t, "/first", recent[1].Added[0].Name)
}

func TestRecent_OrderWhenClockStepsBack(t *testing.T) {
	n := New(config.NotifyConfig{})
	at := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	n.now = func() time.Time { return at }
	n.TopicsChanged([]types.Topic{{Name: "/first"}}, nil)

	at = at.Add(-5 * time.Second)
	n.TopicsChanged([]types.Topic{{Name: "/second"}}, nil)

	assert.Equal(t, "/second", n.Recent()[0].Added[0].Name)
}

func TestClose_ConcurrentWithTopicsChanged(t *testing.T) {
	var c capture
	n := New(config.NotifyConfig{Webhooks: []config.WebhookConfig{
		webhook(t, "http", "TW_HTTP", c.server(t).URL),
	}})

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.TopicsChanged([]types.Topic{{Name: "/t"}}, nil)
		}()
	}
	n.Close()
	wg.Wait()
	n.Close()

	// Every delivery that was started finished before Close returned; the
	// rest were recorded without delivery.
	assert.LessOrEqual(t, len(c.all()), 200)
	assert.Len(t, n.Recent(), maxHistoryLen)
}

func TestClose_WaitsForInFlightDelivery(t *testing.T) {
	release := make(chan struct{})
	var delivered atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		delivered.Store(true)
	}))
	t.Cleanup(srv.Close)

	n := New(config.NotifyConfig{Webhooks: []config.WebhookConfig{
		webhook(t, "http", "TW_HTTP", srv.URL),
	}})
	n.TopicsChanged([]types.Topic{{Name: "/slow"}}, nil)

	closed := make(chan struct{})
	go func() {
		n.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the delivery finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close never returned")
	}
	assert.True(t, delivered.Load())
}

func TestTopicsChanged_AfterCloseRecordsOnly(t *testing.T) {
	var c capture
	n := New(config.NotifyConfig{Webhooks: []config.WebhookConfig{
		webhook(t, "http", "TW_HTTP", c.server(t).URL),
	}})
	n.Close()

	n.TopicsChanged([]types.Topic{{Name: "/late"}}, nil)
	n.Close()

	assert.Empty(t, c.all())
	assert.Len(t, n.Recent(), 1)
}

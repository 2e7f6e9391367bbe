package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/topicwatch/topicwatch/pkg/types"
	"github.com/topicwatch/topicwatch/server/internal/discovery"
	"github.com/topicwatch/topicwatch/server/internal/notify"
	"github.com/topicwatch/topicwatch/server/internal/registry"
	"github.com/topicwatch/topicwatch/server/internal/schema"
)

// StatusProvider reports the state of the discovery loop.
type StatusProvider interface {
	Status() discovery.Status
}

// EventLog returns recent topic change events, newest first.
type EventLog interface {
	Recent() []notify.Event
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads topic state from the registry and never touches the middleware.
type Handler struct {
	reg     *registry.Registry
	status  StatusProvider
	schemas *schema.Cache
	events  EventLog
	mux     *http.ServeMux
}

// Option configures optional Handler dependencies.
type Option func(*Handler)

// WithStatus reports poller state on /api/v1/health.
func WithStatus(s StatusProvider) Option { return func(h *Handler) { h.status = s } }

// WithSchemas serves the schema cache on /api/v1/schemas.
func WithSchemas(c *schema.Cache) Option { return func(h *Handler) { h.schemas = c } }

// WithEvents serves change history on /api/v1/events.
func WithEvents(e EventLog) Option { return func(h *Handler) { h.events = e } }

// New creates a Handler wired to the given registry and registers all routes.
func New(reg *registry.Registry, opts ...Option) http.Handler {
	h := &Handler{reg: reg, mux: http.NewServeMux()}
	for _, o := range opts {
		o(h)
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/topics", h.listTopics)
	h.mux.HandleFunc("/api/v1/topics/", h.getTopic) // subtree, extracts the name
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("/api/v1/schemas", h.listSchemas)
	h.mux.HandleFunc("/api/v1/events", h.listEvents)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{State: "unknown", TopicCount: h.reg.Len()}
	if h.status == nil {
		jsonResp(w, http.StatusOK, resp)
		return
	}

	st := h.status.Status()
	resp.Source = st.Source
	resp.LastPoll = rfc3339(st.LastPoll)
	resp.LastSuccess = rfc3339(st.LastSuccess)
	resp.LastError = st.LastError
	resp.ConsecutiveFailures = st.ConsecutiveFailures
	switch {
	case st.LastPoll.IsZero():
		resp.State = "unknown"
	case st.ConsecutiveFailures > 0:
		resp.State = "degraded"
	default:
		resp.State = "ok"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listTopics returns GET /api/v1/topics: every known topic, ordered by name.
func (h *Handler) listTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, ListTopics(h.reg))
}

// getTopic returns GET /api/v1/topics/{name}. The name is looked up as given
// first, then with a leading slash, so /api/v1/topics/robot/odom finds
// "/robot/odom" and /api/v1/topics/chatter finds a topic named "chatter".
func (h *Handler) getTopic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/topics/")
	if rest == "" {
		h.listTopics(w, r)
		return
	}

	t, ok := h.reg.Get(rest)
	if !ok {
		t, ok = h.reg.Get("/" + strings.TrimLeft(rest, "/"))
	}
	if !ok {
		jsonErr(w, http.StatusNotFound, "topic not found")
		return
	}
	jsonResp(w, http.StatusOK, toTopicDetail(t))
}

// snapshot returns GET /api/v1/snapshot: full topic records plus the time
// the snapshot was taken.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jsonResp(w, http.StatusOK, BuildSnapshot(h.reg))
}

// listSchemas returns GET /api/v1/schemas[?type=...].
func (h *Handler) listSchemas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.schemas == nil {
		jsonResp(w, http.StatusOK, []schema.Record{})
		return
	}
	if typ := r.URL.Query().Get("type"); typ != "" {
		jsonResp(w, http.StatusOK, h.schemas.ByType(typ))
		return
	}
	jsonResp(w, http.StatusOK, h.schemas.List())
}

// listEvents returns GET /api/v1/events, newest first.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.events == nil {
		jsonResp(w, http.StatusOK, []notify.Event{})
		return
	}
	jsonResp(w, http.StatusOK, h.events.Recent())
}

// ListTopics returns the name and type of every known topic, ordered by
// name. It reads only the registry and never fails; the result is empty,
// not nil, when nothing is known.
func ListTopics(reg *registry.Registry) []TopicResponse {
	snap := reg.Snapshot()
	out := make([]TopicResponse, 0, len(snap.Topics))
	for _, t := range snap.Topics {
		out = append(out, TopicResponse{Name: t.Name, Type: t.Type})
	}
	return out
}

// BuildSnapshot returns the full registry contents in their JSON form. It is
// shared by GET /api/v1/snapshot and the WebSocket hub.
func BuildSnapshot(reg *registry.Registry) SnapshotResponse {
	snap := reg.Snapshot()
	topics := make([]TopicDetail, 0, len(snap.Topics))
	for _, t := range snap.Topics {
		topics = append(topics, toTopicDetail(t))
	}
	return SnapshotResponse{
		Topics:      topics,
		GeneratedAt: snap.TakenAt.UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func rfc3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toTopicDetail(t types.Topic) TopicDetail {
	return TopicDetail{
		Name:     t.Name,
		Type:     t.Type,
		Encoding: t.Encoding,
		LastSeen: rfc3339(t.LastSeen),
	}
}

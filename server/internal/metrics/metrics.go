package metrics

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metrics records discovery and streaming counters and renders them in the
// Prometheus text exposition format. The zero value is not usable; call New.
type Metrics struct {
	mu sync.Mutex

	pollsOK       float64
	pollsError    float64
	topicsAdded   float64
	topicsEvicted float64
	topics        float64
	lastPoll      time.Time
	wsClients     float64
}

// New returns an empty Metrics.
func New() *Metrics { return &Metrics{} }

// PollSucceeded records a successful poll.
func (m *Metrics) PollSucceeded(now time.Time, topics, added, evicted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollsOK++
	m.topicsAdded += float64(added)
	m.topicsEvicted += float64(evicted)
	m.topics = float64(topics)
	m.lastPoll = now
}

// PollFailed records a failed poll.
func (m *Metrics) PollFailed(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollsError++
	m.lastPoll = now
}

// SetWSClients sets the number of connected WebSocket clients.
func (m *Metrics) SetWSClients(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wsClients = float64(n)
}

// Families returns the current metric families, ordered by name.
func (m *Metrics) Families() []*dto.MetricFamily {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastPoll float64
	if !m.lastPoll.IsZero() {
		lastPoll = float64(m.lastPoll.UnixNano()) / 1e9
	}

	return []*dto.MetricFamily{
		gauge("topicwatch_last_poll_timestamp_seconds", "Unix time of the most recent poll attempt.", lastPoll),
		{
			Name: proto.String("topicwatch_polls_total"),
			Help: proto.String("Discovery polls by result."),
			Type: dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{
				counterMetric(m.pollsError, "result", "error"),
				counterMetric(m.pollsOK, "result", "ok"),
			},
		},
		gauge("topicwatch_topics", "Topics currently in the registry.", m.topics),
		counter("topicwatch_topics_added_total", "Topics added to the registry.", m.topicsAdded),
		counter("topicwatch_topics_evicted_total", "Topics evicted after the grace period.", m.topicsEvicted),
		gauge("topicwatch_ws_clients", "Connected WebSocket clients.", m.wsClients),
	}
}

// Handler serves the metrics in text format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range m.Families() {
			if err := enc.Encode(mf); err != nil {
				slog.Warn("metrics: encode failed", "family", mf.GetName(), "err", err)
				return
			}
		}
	})
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{counterMetric(v)},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
	}
}

// counterMetric builds a counter sample; labels are name/value pairs.
func counterMetric(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Counter: &dto.Counter{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	return m
}

package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/topicwatch/topicwatch/pkg/types"
	"github.com/topicwatch/topicwatch/server/internal/registry"
)

// SchemaSink receives message definitions seen during discovery.
type SchemaSink interface {
	Put(messageType, definition, encoding string)
}

// Notifier is told about topics that appeared or were evicted in a poll.
// It is only called when at least one of the slices is non-empty.
type Notifier interface {
	TopicsChanged(added, removed []types.Topic)
}

// Recorder collects poll outcomes, typically for metrics.
type Recorder interface {
	PollSucceeded(now time.Time, topics, added, evicted int)
	PollFailed(now time.Time)
}

// Status describes the outcome of the most recent polls.
type Status struct {
	Source              string
	LastPoll            time.Time
	LastSuccess         time.Time
	LastError           string
	ConsecutiveFailures int
}

// Poller periodically queries a Source and reconciles the result into a
// Registry. The registry is only ever touched through Upsert and EvictStale.
type Poller struct {
	src      Source
	reg      *registry.Registry
	interval time.Duration
	name     string
	schemas  SchemaSink
	notifier Notifier
	recorder Recorder
	now      func() time.Time

	mu     sync.Mutex // guards grace, filter and status
	grace  time.Duration
	filter Filter
	status Status
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the fixed delay between polls.
func WithInterval(d time.Duration) Option { return func(p *Poller) { p.interval = d } }

// WithGracePeriod sets how long a topic may go unobserved before eviction.
func WithGracePeriod(d time.Duration) Option { return func(p *Poller) { p.grace = d } }

// WithFilter restricts which topic names enter the registry.
func WithFilter(f Filter) Option { return func(p *Poller) { p.filter = f } }

// WithSchemaSink forwards observed schemas to s.
func WithSchemaSink(s SchemaSink) Option { return func(p *Poller) { p.schemas = s } }

// WithNotifier reports topic additions and evictions to n.
func WithNotifier(n Notifier) Option { return func(p *Poller) { p.notifier = n } }

// WithRecorder reports poll outcomes to r.
func WithRecorder(r Recorder) Option { return func(p *Poller) { p.recorder = r } }

// WithSourceName labels the source in logs and Status.
func WithSourceName(name string) Option { return func(p *Poller) { p.name = name } }

// WithClock overrides time.Now for the ticker-driven Run loop.
func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

// NewPoller creates a Poller that reconciles src into reg.
func NewPoller(src Source, reg *registry.Registry, opts ...Option) *Poller {
	p := &Poller{
		src:      src,
		reg:      reg,
		interval: 2 * time.Second,
		grace:    10 * time.Second,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	p.status.Source = p.name
	return p
}

// SetGracePeriod changes the eviction grace period for subsequent polls.
func (p *Poller) SetGracePeriod(d time.Duration) {
	p.mu.Lock()
	p.grace = d
	p.mu.Unlock()
}

// SetFilter replaces the topic filter for subsequent polls. Topics that no
// longer pass are not removed immediately; they age out after the grace period.
func (p *Poller) SetFilter(f Filter) {
	p.mu.Lock()
	p.filter = f
	p.mu.Unlock()
}

// Status returns a copy of the latest poll status.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Run polls once immediately and then every interval. Run blocks until ctx is
// cancelled. The registry keeps its last state after Run returns.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("poller: started", "source", p.name, "interval", p.interval)

	_ = p.Poll(ctx, p.now())

	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller: stopped", "source", p.name)
			return
		case <-t.C:
			_ = p.Poll(ctx, p.now())
		}
	}
}

// Poll runs one discovery cycle stamped with now.
//
// A failed source query is logged and returned; the registry is left exactly
// as it was. Stale data is preferred over a falsely empty registry.
func (p *Poller) Poll(ctx context.Context, now time.Time) error {
	obs, err := p.src.Discover(ctx)
	if err != nil {
		p.mu.Lock()
		p.status.LastPoll = now
		p.status.LastError = err.Error()
		p.status.ConsecutiveFailures++
		failures := p.status.ConsecutiveFailures
		p.mu.Unlock()

		slog.Warn("poller: discovery failed, keeping previous topics",
			"source", p.name, "err", err, "consecutive_failures", failures)
		if p.recorder != nil {
			p.recorder.PollFailed(now)
		}
		return err
	}

	p.mu.Lock()
	filter, grace := p.filter, p.grace
	p.mu.Unlock()

	var added []types.Topic
	for _, o := range obs {
		if o.Name == "" || !filter.Allow(o.Name) {
			continue
		}
		t := types.Topic{Name: o.Name, Type: o.Type, Encoding: o.Encoding, LastSeen: now}
		if p.reg.Upsert(t) {
			added = append(added, t)
		}
		if p.schemas != nil && o.Schema != "" {
			p.schemas.Put(o.Type, o.Schema, o.SchemaEncoding)
		}
	}

	evicted := p.reg.EvictStale(now, grace)

	p.mu.Lock()
	p.status.LastPoll = now
	p.status.LastSuccess = now
	p.status.LastError = ""
	p.status.ConsecutiveFailures = 0
	p.mu.Unlock()

	if len(added) > 0 || len(evicted) > 0 {
		slog.Info("poller: topics changed",
			"source", p.name, "added", len(added), "evicted", len(evicted), "total", p.reg.Len())
		if p.notifier != nil {
			p.notifier.TopicsChanged(added, evicted)
		}
	} else {
		slog.Debug("poller: no topic changes", "source", p.name, "observed", len(obs))
	}
	if p.recorder != nil {
		p.recorder.PollSucceeded(now, p.reg.Len(), len(added), len(evicted))
	}
	return nil
}

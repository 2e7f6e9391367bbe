package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topicwatch/topicwatch/pkg/types"
	"github.com/topicwatch/topicwatch/server/internal/config"
	"github.com/topicwatch/topicwatch/server/internal/registry"
)

// scriptedSource returns the next queued response on each Discover call.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	obs []Observation
	err error
}

func (s *scriptedSource) Discover(context.Context) ([]Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	st := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	return st.obs, st.err
}

type fakeSink struct {
	puts []string
}

func (f *fakeSink) Put(messageType, definition, encoding string) {
	f.puts = append(f.puts, messageType+"|"+definition+"|"+encoding)
}

type fakeNotifier struct {
	added, removed [][]types.Topic
}

func (f *fakeNotifier) TopicsChanged(added, removed []types.Topic) {
	f.added = append(f.added, added)
	f.removed = append(f.removed, removed)
}

type fakeRecorder struct {
	ok, failed int
	lastTopics int
}

func (f *fakeRecorder) PollSucceeded(_ time.Time, topics, _, _ int) {
	f.ok++
	f.lastTopics = topics
}

func (f *fakeRecorder) PollFailed(time.Time) { f.failed++ }

func names(snap registry.Snapshot) []string {
	out := make([]string, 0, len(snap.Topics))
	for _, t := range snap.Topics {
		out = append(out, t.Name)
	}
	return out
}

func TestPoll_UpsertsObservations(t *testing.T) {
	reg := registry.New()
	src := &scriptedSource{steps: []step{{obs: []Observation{
		{Name: "/dummy", Type: "std_msgs/String"},
		{Name: "/odom", Type: "nav_msgs/Odometry", Encoding: "cdr"},
	}}}}
	p := NewPoller(src, reg)

	now := time.Now()
	require.NoError(t, p.Poll(context.Background(), now))

	snap := reg.Snapshot()
	assert.Equal(t, []string{"/dummy", "/odom"}, names(snap))
	assert.Equal(t, "cdr", snap.Topics[1].Encoding)
	assert.True(t, snap.Topics[0].LastSeen.Equal(now))
}

func TestPoll_FailureLeavesRegistryUnchanged(t *testing.T) {
	reg := registry.New()
	rec := &fakeRecorder{}
	src := &scriptedSource{steps: []step{
		{obs: []Observation{{Name: "/a", Type: "t"}}},
		{err: errors.New("bridge unavailable")},
	}}
	p := NewPoller(src, reg, WithGracePeriod(time.Second), WithRecorder(rec))

	base := time.Now()
	require.NoError(t, p.Poll(context.Background(), base))
	before := reg.Snapshot()

	// Far beyond the grace period: a failed poll must not evict.
	err := p.Poll(context.Background(), base.Add(time.Hour))
	require.Error(t, err)

	after := reg.Snapshot()
	assert.Equal(t, before.Topics, after.Topics)
	assert.Equal(t, 1, rec.ok)
	assert.Equal(t, 1, rec.failed)

	st := p.Status()
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, "bridge unavailable", st.LastError)
	assert.True(t, st.LastSuccess.Equal(base))
}

func TestPoll_EvictsAfterGrace(t *testing.T) {
	reg := registry.New()
	src := &scriptedSource{steps: []step{
		{obs: []Observation{{Name: "/x", Type: "t"}, {Name: "/y", Type: "t"}}},
		{obs: []Observation{{Name: "/y", Type: "t"}}},
	}}
	p := NewPoller(src, reg, WithGracePeriod(5*time.Second))

	base := time.Now()
	require.NoError(t, p.Poll(context.Background(), base))

	// /x missing but still within grace.
	require.NoError(t, p.Poll(context.Background(), base.Add(3*time.Second)))
	assert.Equal(t, []string{"/x", "/y"}, names(reg.Snapshot()))

	// /x unobserved for longer than grace.
	require.NoError(t, p.Poll(context.Background(), base.Add(6*time.Second)))
	assert.Equal(t, []string{"/y"}, names(reg.Snapshot()))
}

func TestPoll_RecoversAfterFailure(t *testing.T) {
	reg := registry.New()
	src := &scriptedSource{steps: []step{
		{err: errors.New("down")},
		{err: errors.New("down")},
		{obs: []Observation{{Name: "/a", Type: "t"}}},
	}}
	p := NewPoller(src, reg)
	now := time.Now()

	assert.Error(t, p.Poll(context.Background(), now))
	assert.Error(t, p.Poll(context.Background(), now))
	assert.Equal(t, 2, p.Status().ConsecutiveFailures)

	require.NoError(t, p.Poll(context.Background(), now))
	assert.Equal(t, 0, p.Status().ConsecutiveFailures)
	assert.Empty(t, p.Status().LastError)
	assert.Equal(t, 1, reg.Len())
}

func TestPoll_AppliesFilter(t *testing.T) {
	reg := registry.New()
	f, err := NewFilter([]string{"/camera/**"}, []string{"/camera/debug/*"})
	require.NoError(t, err)

	src := &scriptedSource{steps: []step{{obs: []Observation{
		{Name: "/camera/image_raw", Type: "sensor_msgs/Image"},
		{Name: "/camera/debug/overlay", Type: "sensor_msgs/Image"},
		{Name: "/odom", Type: "nav_msgs/Odometry"},
		{Name: "", Type: "ignored"},
	}}}}
	p := NewPoller(src, reg, WithFilter(f))

	require.NoError(t, p.Poll(context.Background(), time.Now()))
	assert.Equal(t, []string{"/camera/image_raw"}, names(reg.Snapshot()))
}

func TestPoll_ForwardsSchemas(t *testing.T) {
	sink := &fakeSink{}
	src := &scriptedSource{steps: []step{{obs: []Observation{
		{Name: "/chatter", Type: "std_msgs/msg/String", Schema: "string data", SchemaEncoding: "ros2msg"},
		{Name: "/noschema", Type: "std_msgs/msg/Empty"},
	}}}}
	p := NewPoller(src, registry.New(), WithSchemaSink(sink))

	require.NoError(t, p.Poll(context.Background(), time.Now()))
	assert.Equal(t, []string{"std_msgs/msg/String|string data|ros2msg"}, sink.puts)
}

func TestPoll_NotifiesChanges(t *testing.T) {
	n := &fakeNotifier{}
	src := &scriptedSource{steps: []step{
		{obs: []Observation{{Name: "/a", Type: "t"}}},
		{obs: []Observation{{Name: "/a", Type: "t"}}},
		{obs: nil},
	}}
	p := NewPoller(src, registry.New(), WithNotifier(n), WithGracePeriod(time.Second))
	base := time.Now()

	require.NoError(t, p.Poll(context.Background(), base))
	require.NoError(t, p.Poll(context.Background(), base)) // no change, no call
	require.NoError(t, p.Poll(context.Background(), base.Add(time.Minute)))

	require.Len(t, n.added, 2)
	require.Len(t, n.added[0], 1)
	assert.Equal(t, "/a", n.added[0][0].Name)
	assert.Empty(t, n.added[1])
	require.Len(t, n.removed[1], 1)
	assert.Equal(t, "/a", n.removed[1][0].Name)
}

func TestSetGracePeriod_AppliesToNextPoll(t *testing.T) {
	reg := registry.New()
	src := &scriptedSource{steps: []step{
		{obs: []Observation{{Name: "/a", Type: "t"}}},
		{obs: nil},
	}}
	p := NewPoller(src, reg, WithGracePeriod(time.Hour))
	base := time.Now()

	require.NoError(t, p.Poll(context.Background(), base))
	require.NoError(t, p.Poll(context.Background(), base.Add(time.Minute)))
	assert.Equal(t, 1, reg.Len())

	p.SetGracePeriod(10 * time.Second)
	require.NoError(t, p.Poll(context.Background(), base.Add(time.Minute)))
	assert.Equal(t, 0, reg.Len())
}

func TestRun_PollsImmediatelyAndStopsOnCancel(t *testing.T) {
	reg := registry.New()
	src := NewStatic([]config.StaticTopic{{Name: "/dummy", Type: "std_msgs/String"}})
	p := NewPoller(src, reg, WithInterval(10*time.Millisecond), WithSourceName("static"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Readers keep serving the last snapshot after teardown.
	snap := reg.Snapshot()
	require.Len(t, snap.Topics, 1)
	assert.Equal(t, "/dummy", snap.Topics[0].Name)
	assert.Equal(t, "static", p.Status().Source)
}

func TestRun_RetriesOnEveryTick(t *testing.T) {
	src := &scriptedSource{steps: []step{{err: errors.New("down")}}}
	p := NewPoller(src, registry.New(), WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.calls >= 4
	}, time.Second, 5*time.Millisecond)
}

package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/topicwatch/topicwatch/pkg/types"
)

// Snapshot is an immutable point-in-time copy of the registry, ordered by
// topic name. It is never mutated after Snapshot returns it.
type Snapshot struct {
	Topics  []types.Topic
	TakenAt time.Time
}

// Registry is a thread-safe in-memory topic registry, keyed by topic name.
// The discovery poller is its only writer; query handlers read snapshots.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]types.Topic
	now    func() time.Time // injectable for deterministic tests
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		topics: make(map[string]types.Topic),
		now:    time.Now,
	}
}

// Upsert inserts t or refreshes the existing entry with the same name.
// Type, encoding and last-seen time always come from the latest call.
// A zero t.LastSeen is stamped with the registry clock.
// It reports whether the name was previously unknown.
func (r *Registry) Upsert(t types.Topic) bool {
	if t.LastSeen.IsZero() {
		t.LastSeen = r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.topics[t.Name]
	r.topics[t.Name] = t
	return !existed
}

// Get returns the topic with the given name and whether it was found.
func (r *Registry) Get(name string) (types.Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	return t, ok
}

// Len returns the number of topics currently held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// EvictStale removes topics whose last-seen time is older than now minus
// grace and returns them ordered by name.
func (r *Registry) EvictStale(now time.Time, grace time.Duration) []types.Topic {
	cutoff := now.Add(-grace)

	r.mu.Lock()
	var evicted []types.Topic
	for name, t := range r.topics {
		if t.LastSeen.Before(cutoff) {
			delete(r.topics, name)
			evicted = append(evicted, t)
		}
	}
	r.mu.Unlock()

	sortByName(evicted)
	return evicted
}

// Snapshot copies the current topic set. The read lock is held only for the
// copy; ordering happens after it is released.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	out := make([]types.Topic, 0, len(r.topics))
	for _, t := range r.topics {
		out = append(out, t)
	}
	taken := r.now()
	r.mu.RUnlock()

	sortByName(out)
	return Snapshot{Topics: out, TakenAt: taken}
}

func sortByName(ts []types.Topic) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name < ts[j].Name })
}

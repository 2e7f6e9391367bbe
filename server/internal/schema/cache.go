package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Record is one cached message definition.
type Record struct {
	// Key is "<messageType>|<sha256 of definition>".
	Key         string    `json:"key"`
	MessageType string    `json:"message_type"`
	Encoding    string    `json:"encoding"`
	Definition  string    `json:"definition"`
	CreatedAt   time.Time `json:"created_at"`
}

// Cache holds message definitions keyed by type and content hash, optionally
// persisted as one JSON file per record under dir on fs.
//
// Cache is safe for concurrent use.
type Cache struct {
	fs  afero.Fs
	dir string
	now func() time.Time

	mu      sync.RWMutex
	records map[string]Record
}

// NewCache creates a Cache. When fs is nil or dir is empty records are kept
// in memory only.
func NewCache(fs afero.Fs, dir string) *Cache {
	return &Cache{
		fs:      fs,
		dir:     dir,
		now:     time.Now,
		records: make(map[string]Record),
	}
}

// Key returns the cache key for a definition of messageType.
func Key(messageType, definition string) string {
	sum := sha256.Sum256([]byte(definition))
	return messageType + "|" + hex.EncodeToString(sum[:])
}

// Put stores a definition unless a record with the same key already exists.
// Empty definitions are ignored; an empty encoding is guessed from the text.
// Persistence failures are logged and do not affect the in-memory record.
func (c *Cache) Put(messageType, definition, encoding string) {
	if definition == "" || messageType == "" {
		return
	}
	if encoding == "" {
		encoding = GuessEncoding(definition)
	}
	key := Key(messageType, definition)

	c.mu.Lock()
	if _, ok := c.records[key]; ok {
		c.mu.Unlock()
		return
	}
	rec := Record{
		Key:         key,
		MessageType: messageType,
		Encoding:    encoding,
		Definition:  definition,
		CreatedAt:   c.now().UTC(),
	}
	c.records[key] = rec
	c.mu.Unlock()

	if err := c.persist(rec); err != nil {
		slog.Warn("schema: persist failed", "type", messageType, "err", err)
	}
}

// Get returns the record with the given key.
func (c *Cache) Get(key string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[key]
	return r, ok
}

// List returns all records ordered by message type, then key.
func (c *Cache) List() []Record {
	c.mu.RLock()
	out := make([]Record, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].MessageType != out[j].MessageType {
			return out[i].MessageType < out[j].MessageType
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// ByType returns the records for messageType, ordered by key.
func (c *Cache) ByType(messageType string) []Record {
	out := make([]Record, 0)
	for _, r := range c.List() {
		if r.MessageType == messageType {
			out = append(out, r)
		}
	}
	return out
}

// Load reads every persisted record from disk into memory. Unreadable files
// are skipped with a warning. It returns the number of records loaded.
func (c *Cache) Load() (int, error) {
	if c.fs == nil || c.dir == "" {
		return 0, nil
	}
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return 0, fmt.Errorf("schema: create dir %q: %w", c.dir, err)
	}
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return 0, fmt.Errorf("schema: read dir %q: %w", c.dir, err)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		data, err := afero.ReadFile(c.fs, path)
		if err != nil {
			slog.Warn("schema: skipping unreadable record", "path", path, "err", err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.Key == "" {
			slog.Warn("schema: skipping corrupt record", "path", path, "err", err)
			continue
		}
		c.mu.Lock()
		c.records[rec.Key] = rec
		c.mu.Unlock()
		loaded++
	}
	return loaded, nil
}

func (c *Cache) persist(rec Record) error {
	if c.fs == nil || c.dir == "" {
		return nil
	}
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return afero.WriteFile(c.fs, filepath.Join(c.dir, fileName(rec.Key)), data, 0o644)
}

// fileName maps a record key to a flat, filesystem-safe name.
func fileName(key string) string {
	r := strings.NewReplacer("/", "__", "|", "--", ":", "_")
	return r.Replace(key) + ".json"
}

// GuessEncoding infers the definition format from its text when the
// middleware does not say.
func GuessEncoding(definition string) string {
	switch {
	case strings.HasPrefix(definition, "MSG:") || strings.Contains(definition, "#"):
		return "ros2msg"
	case strings.HasPrefix(strings.TrimSpace(definition), "{"):
		return "jsonschema"
	default:
		return "unknown"
	}
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort       = 8080
	DefaultSource         = "foxglove"
	DefaultPollInterval   = 2 * time.Second
	DefaultGracePeriod    = 10 * time.Second
	DefaultFoxgloveURL    = "ws://localhost:8765"
	DefaultNATSURL        = "nats://localhost:4222"
	DefaultNATSSubject    = "ros.graph.topics"
	DefaultNATSTimeout    = 2 * time.Second
	DefaultStreamInterval = 2 * time.Second
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub and /metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates REST and WebSocket clients.
	Auth AuthConfig `yaml:"auth"`

	// Discovery selects the middleware source and the poll/eviction timing.
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Schema controls the on-disk schema cache.
	Schema SchemaConfig `yaml:"schema"`

	// Stream controls the WebSocket broadcast cadence.
	Stream StreamConfig `yaml:"stream"`

	// Notify holds webhook targets for topic change events.
	Notify NotifyConfig `yaml:"notify"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// DiscoveryConfig controls how and how often the topic set is polled.
type DiscoveryConfig struct {
	// Source is one of: foxglove | nats | static.
	Source string `yaml:"source"`

	// PollInterval is the fixed delay between discovery polls.
	PollInterval time.Duration `yaml:"poll_interval"`

	// GracePeriod is how long a topic may go unobserved before it is evicted.
	// Must be at least PollInterval.
	GracePeriod time.Duration `yaml:"grace_period"`

	// Include lists doublestar patterns a topic name must match to be kept.
	// Empty means every topic.
	Include []string `yaml:"include"`

	// Exclude lists doublestar patterns that drop a topic even if included.
	Exclude []string `yaml:"exclude"`

	Foxglove FoxgloveConfig `yaml:"foxglove"`
	NATS     NATSConfig     `yaml:"nats"`

	// Static is the fixed topic list served when Source == "static".
	Static []StaticTopic `yaml:"static"`
}

// FoxgloveConfig points at a Foxglove WebSocket bridge.
type FoxgloveConfig struct {
	URL string `yaml:"url"`
}

// NATSConfig configures the NATS request/reply discovery source.
type NATSConfig struct {
	URL     string        `yaml:"url"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout"`
}

// StaticTopic is one entry of the static source.
type StaticTopic struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Encoding string `yaml:"encoding"`
}

// SchemaConfig controls schema persistence.
type SchemaConfig struct {
	// Dir is where schema records are persisted. Empty keeps them in memory only.
	Dir string `yaml:"dir"`
}

// StreamConfig controls the WebSocket hub.
type StreamConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// NotifyConfig holds topic change webhook targets.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Discovery: DiscoveryConfig{
				Source:       DefaultSource,
				PollInterval: DefaultPollInterval,
				GracePeriod:  DefaultGracePeriod,
				Foxglove:     FoxgloveConfig{URL: DefaultFoxgloveURL},
				NATS: NATSConfig{
					URL:     DefaultNATSURL,
					Subject: DefaultNATSSubject,
					Timeout: DefaultNATSTimeout,
				},
			},
			Stream: StreamConfig{Interval: DefaultStreamInterval},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}

	d := s.Discovery
	if d.PollInterval <= 0 {
		return fmt.Errorf("server.discovery.poll_interval must be positive")
	}
	if d.GracePeriod < d.PollInterval {
		return fmt.Errorf("server.discovery.grace_period %v must be >= poll_interval %v",
			d.GracePeriod, d.PollInterval)
	}
	switch d.Source {
	case "foxglove":
		if d.Foxglove.URL == "" {
			return fmt.Errorf("server.discovery.foxglove.url is required")
		}
	case "nats":
		if d.NATS.URL == "" || d.NATS.Subject == "" {
			return fmt.Errorf("server.discovery.nats: url and subject are required")
		}
		if d.NATS.Timeout <= 0 {
			return fmt.Errorf("server.discovery.nats.timeout must be positive")
		}
	case "static":
		for i, st := range d.Static {
			if st.Name == "" {
				return fmt.Errorf("server.discovery.static[%d]: name is required", i)
			}
		}
	default:
		return fmt.Errorf("server.discovery.source %q unknown: want foxglove|nats|static", d.Source)
	}
	for _, p := range append(append([]string{}, d.Include...), d.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("server.discovery: invalid topic pattern %q", p)
		}
	}

	if s.Stream.Interval <= 0 {
		return fmt.Errorf("server.stream.interval must be positive")
	}
	for i, wh := range s.Notify.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.notify.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	return nil
}

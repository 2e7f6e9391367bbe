// Package config loads the server configuration from the `server:` section
// of config.yaml.
//
// Config fields:
//   - HTTPPort                port for REST, WebSocket and /metrics (default 8080)
//   - Auth.Mode               "apikey" or "none"
//   - Auth.KeyEnv             environment variable holding the expected API key
//   - Auth.Header             HTTP header name (default "x-api-key")
//   - Discovery.Source        foxglove | nats | static (default foxglove)
//   - Discovery.PollInterval  delay between polls (default 2s)
//   - Discovery.GracePeriod   unobserved time before eviction (default 10s)
//   - Discovery.Include/Exclude  doublestar patterns over topic names
//   - Schema.Dir              schema cache directory; empty means memory only
//   - Stream.Interval         WebSocket broadcast cadence (default 2s)
//   - Notify.Webhooks         topic change webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads the file on write using fsnotify.
package config

package config

import "time"

// Config is the root configuration structure for LlamaGate.
// It contains all configuration sections for the gateway listener, the
// inference backend, authentication, request limits, CORS, telemetry,
// and the optional audit store.
type Config struct {
	// Gateway contains listener and protocol-boundary configuration.
	Gateway GatewayConfig `yaml:"gateway"`

	// Backend describes the single local inference backend the gateway
	// fronts. Connections are never pooled; each proxied request dials
	// the backend fresh.
	Backend BackendConfig `yaml:"backend"`

	// Auth contains API key authentication and rate limit configuration.
	Auth AuthConfig `yaml:"auth"`

	// Limits contains concurrency gate configuration.
	Limits LimitsConfig `yaml:"limits"`

	// CORS contains the cross-origin policy for browser clients.
	CORS CORSConfig `yaml:"cors"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Audit contains the optional sqlite access-record store settings.
	Audit AuditConfig `yaml:"audit"`
}

// GatewayConfig contains configuration for the gateway listener.
type GatewayConfig struct {
	// ListenAddress is the address and port for the gateway to listen on.
	// Format: "host:port" (e.g., "0.0.0.0:8000").
	// Default: "0.0.0.0:8000"
	ListenAddress string `yaml:"listen_address"`

	// HealthListenAddress, when non-empty, starts a trivial always-200
	// liveness responder on a separate port. Used by schedulers that must
	// not touch the backend (scale-to-zero environments).
	HealthListenAddress string `yaml:"health_listen_address"`

	// HeaderReadTimeout bounds reads of the client's request line and
	// header lines. Default: 30s
	HeaderReadTimeout time.Duration `yaml:"header_read_timeout"`

	// MaxRequestLineSize is the maximum accepted request line length in
	// bytes. Longer lines are answered 414. Default: 8192
	MaxRequestLineSize int `yaml:"max_request_line_size"`

	// MaxHeaders is the maximum number of header lines per request.
	// Default: 64
	MaxHeaders int `yaml:"max_headers"`

	// MaxHeaderLineSize is the maximum length of a single header line in
	// bytes. Default: 8192
	MaxHeaderLineSize int `yaml:"max_header_line_size"`

	// MaxRequestBodySize is the maximum declared Content-Length in bytes.
	// Larger bodies are answered 413 without being read.
	// Default: 10485760 (10 MiB)
	MaxRequestBodySize int64 `yaml:"max_request_body_size"`
}

// BackendConfig contains configuration for the inference backend.
type BackendConfig struct {
	// Host is the backend host. Default: "127.0.0.1"
	Host string `yaml:"host"`

	// Port is the backend port. Default: 8080
	Port int `yaml:"port"`

	// ConnectTimeout bounds the backend dial. Default: 5s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ResponseTimeout bounds each read from the backend while forwarding
	// the response. A mid-stream timeout ends the stream normally so that
	// open-ended token streams are not treated as failures. Default: 300s
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// HealthTimeout bounds the backend health probe. Default: 2s
	HealthTimeout time.Duration `yaml:"health_timeout"`

	// APIKey, when non-empty, is forwarded to the backend as a bearer
	// credential on every proxied request. The client's own Authorization
	// header is always stripped.
	APIKey string `yaml:"api_key"`
}

// AuthConfig contains API key authentication configuration.
type AuthConfig struct {
	// Enabled controls whether bearer-token authentication is enforced.
	// When enabled with no keys loaded the gateway fails closed.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// KeysFile is the path to the flat keys file, one
	// key_id:secret[:rate_limit][:expiration] entry per line.
	// Default: "/data/api_keys.txt"
	KeysFile string `yaml:"keys_file"`

	// DefaultRateLimit is the per-key requests-per-minute limit applied
	// when a key carries no override. Default: 100
	DefaultRateLimit int `yaml:"default_rate_limit"`

	// WatchKeysFile starts an fsnotify watcher on KeysFile and reloads
	// the key table when the file changes. Default: false
	WatchKeysFile bool `yaml:"watch_keys_file"`

	// MetricsAuth requires a valid API key for the /metrics endpoint.
	// Default: false
	MetricsAuth bool `yaml:"metrics_auth"`
}

// LimitsConfig contains concurrency gate configuration.
type LimitsConfig struct {
	// MaxConcurrentRequests is the number of proxy calls allowed to run
	// simultaneously. Default: 1
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`

	// MaxQueueSize bounds the number of admissions allowed to wait for a
	// slot. 0 means unlimited. When the queue is full new proxy attempts
	// are rejected with 503. Default: 0
	MaxQueueSize int `yaml:"max_queue_size"`
}

// CORSConfig contains the cross-origin policy.
type CORSConfig struct {
	// AllowedOrigins is a comma-separated origin list. "*" anywhere in
	// the list enables wildcard mode. Empty disables CORS entirely.
	AllowedOrigins string `yaml:"allowed_origins"`
}

// TelemetryConfig contains logging and metrics configuration.
type TelemetryConfig struct {
	// LogFormat selects the structured log and access log encoding:
	// "text" or "json". Default: "text"
	LogFormat string `yaml:"log_format"`

	// LogLevel is the minimum structured log level. Default: "info"
	LogLevel string `yaml:"log_level"`

	// AccessLogPath is the access log destination. Empty writes access
	// entries to stdout.
	AccessLogPath string `yaml:"access_log_path"`
}

// AuditConfig contains the optional sqlite access-record store settings.
type AuditConfig struct {
	// Enabled turns on persistent access records. Default: false
	Enabled bool `yaml:"enabled"`

	// DBPath is the sqlite database path. Default: "data/audit.db"
	DBPath string `yaml:"db_path"`

	// RetentionDays is how long access records are kept before the
	// scheduled pruner removes them. 0 disables pruning. Default: 90
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a cron expression for the retention pruner.
	// Default: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string `yaml:"prune_schedule"`
}

// BackendAddress returns the backend "host:port" dial address.
func (c *BackendConfig) Address() string {
	return joinHostPort(c.Host, c.Port)
}
